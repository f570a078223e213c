package repository

import (
	"context"

	"gorm.io/gorm"

	"flowerpod/models"
)

type guideStore struct {
	db *gorm.DB
}

func NewGuideStore(db *gorm.DB) GuideStore {
	return &guideStore{db: db}
}

func (s *guideStore) Transaction(ctx context.Context, fn func(tx GuideStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&guideStore{db: tx})
	})
}

func (s *guideStore) CreateGuide(ctx context.Context, guide *models.Guide) error {
	return translate(s.db.WithContext(ctx).Omit("Images").Create(guide).Error)
}

func (s *guideStore) GetGuide(ctx context.Context, id uint) (*models.Guide, error) {
	var guide models.Guide
	if err := s.db.WithContext(ctx).First(&guide, id).Error; err != nil {
		return nil, translate(err)
	}
	return &guide, nil
}

func (s *guideStore) GetGuideByTitle(ctx context.Context, title string) (*models.Guide, error) {
	var guide models.Guide
	if err := s.db.WithContext(ctx).Where("title = ?", title).First(&guide).Error; err != nil {
		return nil, translate(err)
	}
	return &guide, nil
}

func (s *guideStore) ListGuides(ctx context.Context) ([]models.Guide, error) {
	var guides []models.Guide
	err := s.db.WithContext(ctx).Order("id").Find(&guides).Error
	return guides, translate(err)
}

// SearchGuides matches query as a case-insensitive substring of the title.
func (s *guideStore) SearchGuides(ctx context.Context, query string) ([]models.Guide, error) {
	var guides []models.Guide
	err := s.db.WithContext(ctx).
		Where("LOWER(title) LIKE LOWER(?) ESCAPE '!'", containsPattern(query)).
		Order("title ASC").
		Find(&guides).Error
	return guides, translate(err)
}

func (s *guideStore) UpdateGuide(ctx context.Context, id uint, upd GuideUpdate) error {
	fields := map[string]interface{}{}
	if upd.Title != nil {
		fields["title"] = *upd.Title
	}
	if upd.Creator != nil {
		fields["creator"] = *upd.Creator
	}
	if len(fields) == 0 {
		_, err := s.GetGuide(ctx, id)
		return err
	}
	res := s.db.WithContext(ctx).Model(&models.Guide{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *guideStore) DeleteGuide(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Guide{}, id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *guideStore) CreateImage(ctx context.Context, image *models.GuideImage) error {
	return translate(s.db.WithContext(ctx).Create(image).Error)
}

func (s *guideStore) GetImage(ctx context.Context, id uint) (*models.GuideImage, error) {
	var image models.GuideImage
	if err := s.db.WithContext(ctx).First(&image, id).Error; err != nil {
		return nil, translate(err)
	}
	return &image, nil
}

// ListImages returns a guide's images in creation order.
func (s *guideStore) ListImages(ctx context.Context, guideID uint) ([]models.GuideImage, error) {
	var images []models.GuideImage
	err := s.db.WithContext(ctx).
		Where("guide_id = ?", guideID).
		Order("position ASC, id ASC").
		Find(&images).Error
	return images, translate(err)
}

func (s *guideStore) ListAllImages(ctx context.Context) ([]models.GuideImage, error) {
	var images []models.GuideImage
	err := s.db.WithContext(ctx).Order("guide_id, position, id").Find(&images).Error
	return images, translate(err)
}

func (s *guideStore) CountImagesByGuide(ctx context.Context) (map[uint]int64, error) {
	type row struct {
		GuideID uint
		N       int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.GuideImage{}).
		Select("guide_id, count(*) AS n").
		Group("guide_id").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	counts := make(map[uint]int64, len(rows))
	for _, r := range rows {
		counts[r.GuideID] = r.N
	}
	return counts, nil
}

func (s *guideStore) UpdateImage(ctx context.Context, id uint, upd ImageUpdate) error {
	fields := map[string]interface{}{}
	if upd.Image != nil {
		fields["image"] = *upd.Image
	}
	if upd.Caption != nil {
		fields["caption"] = *upd.Caption
	}
	if upd.Width != nil {
		fields["width"] = *upd.Width
	}
	if upd.Height != nil {
		fields["height"] = *upd.Height
	}
	if upd.ContentType != nil {
		fields["content_type"] = *upd.ContentType
	}
	if len(fields) == 0 {
		_, err := s.GetImage(ctx, id)
		return err
	}
	res := s.db.WithContext(ctx).Model(&models.GuideImage{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *guideStore) DeleteImage(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.GuideImage{}, id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *guideStore) DeleteImagesByGuide(ctx context.Context, guideID uint) (int64, error) {
	res := s.db.WithContext(ctx).Where("guide_id = ?", guideID).Delete(&models.GuideImage{})
	return res.RowsAffected, translate(res.Error)
}
