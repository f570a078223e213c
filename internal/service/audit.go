package service

import (
	"context"
	"errors"
	"fmt"
	"path"

	"k8s.io/klog/v2"

	"flowerpod/models"
	"flowerpod/pkg/placement"
)

// AuditReport lists drift between the guide rows and the image storage.
type AuditReport struct {
	MissingDirs     []models.Guide      `json:"missing_dirs"`
	MissingFiles    []models.GuideImage `json:"missing_files"`
	MisplacedImages []models.GuideImage `json:"misplaced_images"`
	OrphanImages    []models.GuideImage `json:"orphan_images"`
	OrphanDirs      []string            `json:"orphan_dirs"`
}

func (r *AuditReport) Clean() bool {
	return len(r.MissingDirs) == 0 && len(r.MissingFiles) == 0 && len(r.MisplacedImages) == 0 &&
		len(r.OrphanImages) == 0 && len(r.OrphanDirs) == 0
}

// Audit compares every guide and image row against storage.
func (s *GuideService) Audit(ctx context.Context) (*AuditReport, error) {
	guides, err := s.store.ListGuides(ctx)
	if err != nil {
		return nil, err
	}
	images, err := s.store.ListAllImages(ctx)
	if err != nil {
		return nil, err
	}
	dirs, err := s.files.ListDirs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list storage: %w", err)
	}

	report := &AuditReport{}
	guideDir := make(map[uint]string, len(guides))
	expected := make(map[string]bool, len(guides))
	present := make(map[string]bool, len(dirs))
	for _, d := range dirs {
		present[d] = true
	}
	for _, g := range guides {
		dir, err := placement.DirName(g.Title)
		if err != nil {
			report.MissingDirs = append(report.MissingDirs, g)
			continue
		}
		guideDir[g.ID] = dir
		expected[dir] = true
		if !present[dir] {
			report.MissingDirs = append(report.MissingDirs, g)
		}
	}
	for _, img := range images {
		dir, ok := guideDir[img.GuideID]
		if !ok {
			report.OrphanImages = append(report.OrphanImages, img)
			continue
		}
		if path.Dir(img.Image) != path.Join(s.files.Prefix(), dir) {
			report.MisplacedImages = append(report.MisplacedImages, img)
			continue
		}
		if !present[dir] {
			continue
		}
		exists, err := s.files.FileExists(ctx, dir, img.FileName())
		if err != nil {
			return nil, err
		}
		if !exists {
			report.MissingFiles = append(report.MissingFiles, img)
		}
	}
	for _, d := range dirs {
		if !expected[d] {
			report.OrphanDirs = append(report.OrphanDirs, d)
		}
	}
	return report, nil
}

// RepairResult counts what Repair removed.
type RepairResult struct {
	ImagesDeleted int
	DirsRemoved   int
}

// Repair deletes the orphan image rows and orphan directories of report.
// Missing files and directories are reported only; they need a re-upload.
func (s *GuideService) Repair(ctx context.Context, report *AuditReport) (RepairResult, error) {
	var res RepairResult
	var errs []error
	for _, img := range report.OrphanImages {
		if err := s.store.DeleteImage(ctx, img.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete image %d: %w", img.ID, err))
			continue
		}
		res.ImagesDeleted++
	}
	for _, d := range report.OrphanDirs {
		unlock := s.locks.Lock(dirKey(d))
		err := s.removeOrphanDir(ctx, d)
		unlock()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res.DirsRemoved++
	}
	return res, errors.Join(errs...)
}

func (s *GuideService) removeOrphanDir(ctx context.Context, dir string) error {
	// a guide may have claimed the directory since the audit ran
	guides, err := s.store.ListGuides(ctx)
	if err != nil {
		return err
	}
	for _, g := range guides {
		if d, err := placement.DirName(g.Title); err == nil && d == dir {
			return fmt.Errorf("directory %s now belongs to guide %d", dir, g.ID)
		}
	}
	if err := s.files.RemoveDir(ctx, dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}

// DirRemoved is called when dir vanished from storage. It warns when a guide
// still expects the directory.
func (s *GuideService) DirRemoved(ctx context.Context, dir string) {
	guides, err := s.store.ListGuides(ctx)
	if err != nil {
		klog.Errorf("check removed directory %s: %v", dir, err)
		return
	}
	for _, g := range guides {
		if d, err := placement.DirName(g.Title); err != nil || d != dir {
			continue
		}
		exists, err := s.files.DirExists(ctx, dir)
		if err != nil {
			klog.Errorf("check removed directory %s: %v", dir, err)
			return
		}
		if !exists {
			klog.Warningf("storage directory %s of guide %d (%q) was removed outside the application", dir, g.ID, g.Title)
		}
		return
	}
}
