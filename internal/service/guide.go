package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"k8s.io/klog/v2"

	"flowerpod/internal/repository"
	"flowerpod/internal/storage"
	"flowerpod/models"
	"flowerpod/pkg/placement"
)

const (
	titleMin, titleMax     = 5, 50
	creatorMin, creatorMax = 5, 30
)

// Actor is the authenticated principal a workflow runs on behalf of.
type Actor struct {
	Username string
	Admin    bool
}

func (a Actor) canModify(g *models.Guide) bool {
	return a.Admin || (a.Username != "" && a.Username == g.Creator)
}

// Upload is one file as delivered by the transport, in arrival order.
type Upload struct {
	Name string
	Data []byte
}

// CaptionInput carries captions either keyed by image id or in image
// position order. ByID wins when both are set.
type CaptionInput struct {
	ByID    map[uint]string
	Ordered []string
}

// GuideSummary is a guide with its image count, for listings.
type GuideSummary struct {
	models.Guide
	ImageCount int64 `json:"image_count"`
}

type GuideService struct {
	store     repository.GuideStore
	files     storage.Storage
	maxUpload int64
	maxPixels int64
	locks     *keyedMutex
}

// NewGuideService wires the store and the image backend. maxUpload caps each
// image payload in bytes; zero disables the cap.
func NewGuideService(store repository.GuideStore, files storage.Storage, maxUpload int64) *GuideService {
	return &GuideService{
		store:     store,
		files:     files,
		maxUpload: maxUpload,
		maxPixels: placement.DefaultMaxPixels,
		locks:     newKeyedMutex(),
	}
}

// WithMaxPixels sets the width*height limit for uploaded images.
func (s *GuideService) WithMaxPixels(n int64) *GuideService {
	if n > 0 {
		s.maxPixels = n
	}
	return s
}

func validateLength(field, v string, lo, hi int) error {
	n := utf8.RuneCountInString(v)
	if n < lo || n > hi {
		return validationf("%s must be %d-%d characters, got %d", field, lo, hi, n)
	}
	return nil
}

func validateTitle(title string) error {
	return validateLength("title", title, titleMin, titleMax)
}

func validateCreator(creator string) error {
	return validateLength("creator", creator, creatorMin, creatorMax)
}

func validateCaption(caption string) error {
	if strings.TrimSpace(caption) == "" {
		return validationf("caption is required")
	}
	return nil
}

// dirFor derives the storage directory, reporting unusable titles as
// validation errors.
func dirFor(title string) (string, error) {
	dir, err := placement.DirName(title)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return dir, nil
}

type preparedImage struct {
	original string
	ext      string
	data     []byte
	info     placement.Info
}

func (s *GuideService) prepare(u Upload) (preparedImage, error) {
	ext, err := placement.Ext(u.Name)
	if err != nil {
		return preparedImage{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if s.maxUpload > 0 && int64(len(u.Data)) > s.maxUpload {
		return preparedImage{}, validationf("image %q is larger than %d bytes", u.Name, s.maxUpload)
	}
	info, err := placement.Inspect(u.Data, s.maxPixels)
	if err != nil {
		return preparedImage{}, fmt.Errorf("%w: image %q: %w", ErrValidation, u.Name, err)
	}
	return preparedImage{original: u.Name, ext: ext, data: u.Data, info: info}, nil
}

// writeImage writes one payload into dir, creating dir when it is missing.
func (s *GuideService) writeImage(ctx context.Context, dir, name string, data []byte) error {
	err := s.files.WriteFile(ctx, dir, name, data)
	if errors.Is(err, storage.ErrNotExist) {
		if err := s.files.CreateDir(ctx, dir); err != nil && !errors.Is(err, storage.ErrExist) {
			return err
		}
		err = s.files.WriteFile(ctx, dir, name, data)
	}
	return err
}

// Create runs the first authoring phase: one guide row, one directory, and one
// image per upload numbered 1..N in arrival order, each with the unset
// caption. Nothing is left behind on failure.
func (s *GuideService) Create(ctx context.Context, actor Actor, title string, uploads []Upload) (*models.Guide, error) {
	title = strings.TrimSpace(title)
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	creator := actor.Username
	if err := validateCreator(creator); err != nil {
		return nil, err
	}
	if len(uploads) == 0 {
		return nil, validationf("at least one image is required")
	}
	dir, err := dirFor(title)
	if err != nil {
		return nil, err
	}
	prepared := make([]preparedImage, 0, len(uploads))
	for _, u := range uploads {
		p, err := s.prepare(u)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, p)
	}

	unlock := s.locks.Lock(dirKey(dir))
	defer unlock()

	guide := &models.Guide{Title: title, Creator: creator}
	dirCreated := false
	err = s.store.Transaction(ctx, func(tx repository.GuideStore) error {
		if _, err := tx.GetGuideByTitle(ctx, title); err == nil {
			return fmt.Errorf("%w: title %q is already in use", ErrConflict, title)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if err := tx.CreateGuide(ctx, guide); err != nil {
			return storeErr(err, fmt.Sprintf("title %q is already in use", title))
		}
		if err := s.files.CreateDir(ctx, dir); err != nil {
			if errors.Is(err, storage.ErrExist) {
				return fmt.Errorf("%w: storage directory %s already exists", ErrConflict, dir)
			}
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
		dirCreated = true

		for i, p := range prepared {
			pos := i + 1
			name, err := placement.FileName(pos, p.original)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrValidation, err)
			}
			if err := s.files.WriteFile(ctx, dir, name, p.data); err != nil {
				return fmt.Errorf("write %s/%s: %w", dir, name, err)
			}
			img := models.GuideImage{
				GuideID:     guide.ID,
				Image:       placement.RelPath(s.files.Prefix(), dir, name),
				Caption:     models.CaptionUnset,
				Position:    pos,
				Width:       p.info.Width,
				Height:      p.info.Height,
				ContentType: p.info.ContentType,
			}
			if err := tx.CreateImage(ctx, &img); err != nil {
				return err
			}
			guide.Images = append(guide.Images, img)
		}
		return nil
	})
	if err != nil {
		if dirCreated {
			if rmErr := s.files.RemoveDir(ctx, dir); rmErr != nil {
				klog.Warningf("create guide %q: cleanup of %s failed: %v", title, dir, rmErr)
			}
		}
		return nil, err
	}
	klog.V(2).Infof("created guide %d %q by %s with %d images", guide.ID, guide.Title, creator, len(guide.Images))
	return guide, nil
}

// Get returns the guide with its images in position order.
func (s *GuideService) Get(ctx context.Context, id uint) (*models.Guide, error) {
	guide, err := s.store.GetGuide(ctx, id)
	if err != nil {
		return nil, storeErr(err, fmt.Sprintf("guide %d", id))
	}
	images, err := s.store.ListImages(ctx, id)
	if err != nil {
		return nil, err
	}
	guide.Images = images
	return guide, nil
}

func (s *GuideService) List(ctx context.Context) ([]models.Guide, error) {
	return s.store.ListGuides(ctx)
}

// Summaries lists every guide with its image count.
func (s *GuideService) Summaries(ctx context.Context) ([]GuideSummary, error) {
	guides, err := s.store.ListGuides(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.CountImagesByGuide(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]GuideSummary, 0, len(guides))
	for _, g := range guides {
		out = append(out, GuideSummary{Guide: g, ImageCount: counts[g.ID]})
	}
	return out, nil
}

// Search returns guides whose title contains query, ignoring case, in title order.
func (s *GuideService) Search(ctx context.Context, query string) ([]models.Guide, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, validationf("search query is required")
	}
	return s.store.SearchGuides(ctx, query)
}

// loadForUpdate fetches a guide and checks that actor may change it.
func (s *GuideService) loadForUpdate(ctx context.Context, actor Actor, id uint) (*models.Guide, error) {
	guide, err := s.store.GetGuide(ctx, id)
	if err != nil {
		return nil, storeErr(err, fmt.Sprintf("guide %d", id))
	}
	if !actor.canModify(guide) {
		return nil, fmt.Errorf("%w: %s may not modify guide %d", ErrForbidden, actor.Username, id)
	}
	return guide, nil
}

// Caption runs the second authoring phase. Only captions change.
func (s *GuideService) Caption(ctx context.Context, actor Actor, id uint, in CaptionInput) error {
	if len(in.ByID) == 0 && len(in.Ordered) == 0 {
		return validationf("captions are required")
	}
	for _, c := range in.ByID {
		if err := validateCaption(c); err != nil {
			return err
		}
	}
	for _, c := range in.Ordered {
		if err := validateCaption(c); err != nil {
			return err
		}
	}

	unlock := s.locks.Lock(guideKey(id))
	defer unlock()

	if _, err := s.loadForUpdate(ctx, actor, id); err != nil {
		return err
	}
	images, err := s.store.ListImages(ctx, id)
	if err != nil {
		return err
	}

	captions := make(map[uint]string, len(images))
	if len(in.ByID) > 0 {
		owned := make(map[uint]bool, len(images))
		for _, img := range images {
			owned[img.ID] = true
		}
		for imgID, c := range in.ByID {
			if !owned[imgID] {
				return fmt.Errorf("%w: image %d in guide %d", ErrNotFound, imgID, id)
			}
			captions[imgID] = strings.TrimSpace(c)
		}
	} else {
		if len(in.Ordered) != len(images) {
			return validationf("guide %d has %d images, got %d captions", id, len(images), len(in.Ordered))
		}
		for i, img := range images {
			captions[img.ID] = strings.TrimSpace(in.Ordered[i])
		}
	}

	err = s.store.Transaction(ctx, func(tx repository.GuideStore) error {
		for _, img := range images {
			c, ok := captions[img.ID]
			if !ok {
				continue
			}
			if err := tx.UpdateImage(ctx, img.ID, repository.ImageUpdate{Caption: &c}); err != nil {
				return storeErr(err, fmt.Sprintf("image %d", img.ID))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	klog.V(2).Infof("captioned %d images of guide %d", len(captions), id)
	return nil
}
