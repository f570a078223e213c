package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"flowerpod/internal/repository"
	"flowerpod/internal/storage"
	"flowerpod/models"
	"flowerpod/pkg/placement"
)

// ImageEdit changes one image. A nil Caption keeps the current caption; a nil
// Replacement keeps the current file.
type ImageEdit struct {
	Caption     *string
	Replacement *Upload
}

// EditInput is a guide edit. Nil fields are left unchanged.
type EditInput struct {
	Title   *string
	Creator *string
	Images  map[uint]ImageEdit
}

// Edit applies title, creator and per-image changes. A title change moves the
// guide directory and rewrites every stored path. Storage steps run inside
// the transaction and are undone when it does not commit; replaced files are
// removed only after commit.
func (s *GuideService) Edit(ctx context.Context, actor Actor, id uint, in EditInput) (*models.Guide, error) {
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if err := validateTitle(t); err != nil {
			return nil, err
		}
		in.Title = &t
	}
	if in.Creator != nil {
		c := strings.TrimSpace(*in.Creator)
		if err := validateCreator(c); err != nil {
			return nil, err
		}
		in.Creator = &c
	}
	replacements := make(map[uint]preparedImage)
	for imgID, e := range in.Images {
		if e.Caption != nil {
			if err := validateCaption(*e.Caption); err != nil {
				return nil, err
			}
		}
		if e.Replacement != nil {
			p, err := s.prepare(*e.Replacement)
			if err != nil {
				return nil, err
			}
			replacements[imgID] = p
		}
	}

	unlockGuide := s.locks.Lock(guideKey(id))
	defer unlockGuide()

	guide, err := s.loadForUpdate(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	images, err := s.store.ListImages(ctx, id)
	if err != nil {
		return nil, err
	}
	owned := make(map[uint]bool, len(images))
	for _, img := range images {
		owned[img.ID] = true
	}
	for imgID := range in.Images {
		if !owned[imgID] {
			return nil, fmt.Errorf("%w: image %d in guide %d", ErrNotFound, imgID, id)
		}
	}

	oldDir, err := dirFor(guide.Title)
	if err != nil {
		return nil, err
	}
	rename := in.Title != nil && *in.Title != guide.Title
	newDir := oldDir
	if rename {
		if newDir, err = dirFor(*in.Title); err != nil {
			return nil, err
		}
	}

	unlockDirs := s.locks.Lock(dirKey(oldDir), dirKey(newDir))
	defer unlockDirs()

	var (
		moved   bool
		written []string // new file names in newDir
		stale   []string // superseded file names in newDir
	)
	err = s.store.Transaction(ctx, func(tx repository.GuideStore) error {
		var upd repository.GuideUpdate
		if rename {
			other, err := tx.GetGuideByTitle(ctx, *in.Title)
			switch {
			case err == nil && other.ID != id:
				return fmt.Errorf("%w: title %q is already in use", ErrConflict, *in.Title)
			case err != nil && !errors.Is(err, repository.ErrNotFound):
				return err
			}
			upd.Title = in.Title
		}
		if in.Creator != nil && *in.Creator != guide.Creator {
			upd.Creator = in.Creator
		}
		if upd.Title != nil || upd.Creator != nil {
			if err := tx.UpdateGuide(ctx, id, upd); err != nil {
				return storeErr(err, fmt.Sprintf("guide %d", id))
			}
		}

		if newDir != oldDir {
			for i := range images {
				p := placement.RelPath(s.files.Prefix(), newDir, images[i].FileName())
				if err := tx.UpdateImage(ctx, images[i].ID, repository.ImageUpdate{Image: &p}); err != nil {
					return storeErr(err, fmt.Sprintf("image %d", images[i].ID))
				}
				images[i].Image = p
			}
			err := s.files.MoveDir(ctx, oldDir, newDir)
			switch {
			case err == nil:
				moved = true
			case errors.Is(err, storage.ErrExist):
				return fmt.Errorf("%w: storage directory %s already exists", ErrConflict, newDir)
			case errors.Is(err, storage.ErrNotExist):
				klog.Warningf("guide %d: directory %s is missing, renaming without moving files", id, oldDir)
			default:
				return fmt.Errorf("move %s to %s: %w", oldDir, newDir, err)
			}
		}

		for _, img := range images {
			e, ok := in.Images[img.ID]
			if !ok {
				continue
			}
			iu := repository.ImageUpdate{Caption: e.Caption}
			if e.Caption != nil {
				c := strings.TrimSpace(*e.Caption)
				iu.Caption = &c
			}
			if p, ok := replacements[img.ID]; ok {
				name, err := placement.FileName(img.Position, p.original)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrValidation, err)
				}
				if err := s.writeImage(ctx, newDir, name, p.data); err != nil {
					return fmt.Errorf("write %s/%s: %w", newDir, name, err)
				}
				if name != img.FileName() {
					written = append(written, name)
					stale = append(stale, img.FileName())
				}
				path := placement.RelPath(s.files.Prefix(), newDir, name)
				w, h, ct := p.info.Width, p.info.Height, p.info.ContentType
				iu.Image, iu.Width, iu.Height, iu.ContentType = &path, &w, &h, &ct
			}
			if err := tx.UpdateImage(ctx, img.ID, iu); err != nil {
				return storeErr(err, fmt.Sprintf("image %d", img.ID))
			}
		}
		return nil
	})
	if err != nil {
		for _, name := range written {
			if rmErr := s.files.RemoveFile(ctx, newDir, name); rmErr != nil && !errors.Is(rmErr, storage.ErrNotExist) {
				klog.Warningf("edit guide %d: cleanup of %s/%s failed: %v", id, newDir, name, rmErr)
			}
		}
		if moved {
			if mvErr := s.files.MoveDir(ctx, newDir, oldDir); mvErr != nil {
				klog.Errorf("edit guide %d: moving %s back to %s failed: %v", id, newDir, oldDir, mvErr)
			}
		}
		return nil, err
	}

	var failed []error
	for _, name := range stale {
		if err := s.files.RemoveFile(ctx, newDir, name); err != nil && !errors.Is(err, storage.ErrNotExist) {
			failed = append(failed, err)
		}
	}
	if rename {
		klog.V(2).Infof("renamed guide %d %q -> %q (%s -> %s)", id, guide.Title, *in.Title, oldDir, newDir)
	}
	result, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(failed) > 0 {
		return result, &PartialFailureError{Op: "remove replaced images", Err: errors.Join(failed...)}
	}
	return result, nil
}

// Delete removes the guide directory, then the guide and image rows. A
// storage failure never blocks the row deletion; it is returned as a
// PartialFailureError after the rows are gone.
func (s *GuideService) Delete(ctx context.Context, actor Actor, id uint) error {
	unlockGuide := s.locks.Lock(guideKey(id))
	defer unlockGuide()

	guide, err := s.loadForUpdate(ctx, actor, id)
	if err != nil {
		return err
	}

	var fsErr error
	dir, err := placement.DirName(guide.Title)
	if err != nil {
		fsErr = err
	} else {
		unlockDir := s.locks.Lock(dirKey(dir))
		defer unlockDir()
		if err := s.files.RemoveDir(ctx, dir); err != nil {
			fsErr = err
		}
	}

	err = s.store.Transaction(ctx, func(tx repository.GuideStore) error {
		if _, err := tx.DeleteImagesByGuide(ctx, id); err != nil {
			return err
		}
		return storeErr(tx.DeleteGuide(ctx, id), fmt.Sprintf("guide %d", id))
	})
	if err != nil {
		return err
	}
	klog.V(2).Infof("deleted guide %d %q", id, guide.Title)
	if fsErr != nil {
		klog.Warningf("deleted guide %d but its directory could not be removed: %v", id, fsErr)
		return &PartialFailureError{Op: "remove guide directory", Err: fsErr}
	}
	return nil
}
