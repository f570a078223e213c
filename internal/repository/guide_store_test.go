package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"flowerpod/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "store.db") + "?_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Role{}, &models.User{}, &models.Guide{}, &models.GuideImage{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedGuide(t *testing.T, s GuideStore, title string, images int) *models.Guide {
	t.Helper()
	ctx := context.Background()
	g := &models.Guide{Title: title, Creator: "alice"}
	require.NoError(t, s.CreateGuide(ctx, g))
	for i := 1; i <= images; i++ {
		img := &models.GuideImage{
			GuideID:  g.ID,
			Image:    "guides/images/x/" + string(rune('0'+i)) + ".png",
			Caption:  models.CaptionUnset,
			Position: i,
		}
		require.NoError(t, s.CreateImage(ctx, img))
	}
	return g
}

func TestGuideStoreCreateAndRead(t *testing.T) {
	s := NewGuideStore(newTestDB(t))
	ctx := context.Background()

	g := seedGuide(t, s, "Growing Tomatoes Fast", 3)
	require.NotZero(t, g.ID)

	got, err := s.GetGuide(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, "Growing Tomatoes Fast", got.Title)

	byTitle, err := s.GetGuideByTitle(ctx, "Growing Tomatoes Fast")
	require.NoError(t, err)
	require.Equal(t, g.ID, byTitle.ID)

	images, err := s.ListImages(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, images, 3)
	for i, img := range images {
		require.Equal(t, i+1, img.Position)
		require.Equal(t, models.CaptionUnset, img.Caption)
	}

	_, err = s.GetGuide(ctx, 9999)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetGuideByTitle(ctx, "Nothing Here")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGuideStoreDuplicateTitle(t *testing.T) {
	s := NewGuideStore(newTestDB(t))
	ctx := context.Background()
	seedGuide(t, s, "Rose Pruning", 0)

	err := s.CreateGuide(ctx, &models.Guide{Title: "Rose Pruning", Creator: "bobby"})
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestGuideStoreUpdateMissingTouchesNothing(t *testing.T) {
	s := NewGuideStore(newTestDB(t))
	ctx := context.Background()
	g := seedGuide(t, s, "Tomato Basics", 1)

	title := "Other Title"
	require.ErrorIs(t, s.UpdateGuide(ctx, 4242, GuideUpdate{Title: &title}), ErrNotFound)
	caption := "x"
	require.ErrorIs(t, s.UpdateImage(ctx, 4242, ImageUpdate{Caption: &caption}), ErrNotFound)
	require.ErrorIs(t, s.DeleteGuide(ctx, 4242), ErrNotFound)
	require.ErrorIs(t, s.DeleteImage(ctx, 4242), ErrNotFound)

	got, err := s.GetGuide(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, "Tomato Basics", got.Title)
	images, err := s.ListImages(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, images, 1)
	require.Equal(t, models.CaptionUnset, images[0].Caption)
}

func TestGuideStoreUpdateFields(t *testing.T) {
	s := NewGuideStore(newTestDB(t))
	ctx := context.Background()
	g := seedGuide(t, s, "Tomato Basics", 2)
	images, err := s.ListImages(ctx, g.ID)
	require.NoError(t, err)

	title, creator := "Tomato Advanced", "carol"
	require.NoError(t, s.UpdateGuide(ctx, g.ID, GuideUpdate{Title: &title, Creator: &creator}))
	caption, path, w := "Seedlings", "guides/images/Tomato_Advanced/1.jpg", 64
	require.NoError(t, s.UpdateImage(ctx, images[0].ID, ImageUpdate{Caption: &caption, Image: &path, Width: &w}))

	got, err := s.GetGuide(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, title, got.Title)
	require.Equal(t, creator, got.Creator)

	img, err := s.GetImage(ctx, images[0].ID)
	require.NoError(t, err)
	require.Equal(t, caption, img.Caption)
	require.Equal(t, path, img.Image)
	require.Equal(t, 64, img.Width)

	other, err := s.GetImage(ctx, images[1].ID)
	require.NoError(t, err)
	require.Equal(t, models.CaptionUnset, other.Caption)
}

func TestGuideStoreSearch(t *testing.T) {
	s := NewGuideStore(newTestDB(t))
	ctx := context.Background()
	seedGuide(t, s, "Tomato Pests", 0)
	seedGuide(t, s, "Rose Pruning", 0)
	seedGuide(t, s, "Tomato Basics", 0)
	seedGuide(t, s, "Under_score 100%", 0)

	got, err := s.SearchGuides(ctx, "tomato")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Tomato Basics", got[0].Title)
	require.Equal(t, "Tomato Pests", got[1].Title)

	got, err = s.SearchGuides(ctx, "ROSE")
	require.NoError(t, err)
	require.Len(t, got, 1)

	// wildcards are literal
	got, err = s.SearchGuides(ctx, "%")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "Under_score 100%", got[0].Title)

	got, err = s.SearchGuides(ctx, "_")
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = s.SearchGuides(ctx, "cactus")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestGuideStoreTransactionRollback(t *testing.T) {
	s := NewGuideStore(newTestDB(t))
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Transaction(ctx, func(tx GuideStore) error {
		g := &models.Guide{Title: "Doomed Guide", Creator: "alice"}
		if err := tx.CreateGuide(ctx, g); err != nil {
			return err
		}
		if err := tx.CreateImage(ctx, &models.GuideImage{GuideID: g.ID, Image: "a/1.png", Caption: models.CaptionUnset, Position: 1}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	guides, err := s.ListGuides(ctx)
	require.NoError(t, err)
	require.Empty(t, guides)
	all, err := s.ListAllImages(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestGuideStoreDeleteAndCount(t *testing.T) {
	s := NewGuideStore(newTestDB(t))
	ctx := context.Background()
	a := seedGuide(t, s, "Tomato Basics", 3)
	b := seedGuide(t, s, "Rose Pruning", 1)

	counts, err := s.CountImagesByGuide(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, counts[a.ID])
	require.EqualValues(t, 1, counts[b.ID])

	n, err := s.DeleteImagesByGuide(ctx, a.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	require.NoError(t, s.DeleteGuide(ctx, a.ID))

	_, err = s.GetGuide(ctx, a.ID)
	require.ErrorIs(t, err, ErrNotFound)
	left, err := s.ListImages(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, left, 1)
}

func TestIsUniqueConstraintError(t *testing.T) {
	require.False(t, isUniqueConstraintError(nil))
	require.True(t, isUniqueConstraintError(gorm.ErrDuplicatedKey))
	require.True(t, isUniqueConstraintError(errors.New("UNIQUE constraint failed: guides.title")))
	require.True(t, isUniqueConstraintError(errors.New(`ERROR: duplicate key value violates unique constraint "idx_guides_title"`)))
	require.False(t, isUniqueConstraintError(errors.New("connection refused")))
}
