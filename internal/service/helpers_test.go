package service

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"flowerpod/internal/config"
	"flowerpod/internal/database"
	"flowerpod/internal/repository"
	"flowerpod/internal/storage"
	"flowerpod/models"
)

var (
	alice = Actor{Username: "alice"}
	bobby = Actor{Username: "bobby"}
	admin = Actor{Username: "admin", Admin: true}
)

type fixture struct {
	db    *gorm.DB
	store repository.GuideStore
	files *storage.Local
	svc   *GuideService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := database.Open(config.DatabaseConfig{
		Type: "sqlite",
		DSN:  filepath.Join(dir, "flowerpod.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
	})
	require.NoError(t, err)
	db.Logger = logger.Default.LogMode(logger.Silent)
	t.Cleanup(func() { _ = database.Close(db) })
	require.NoError(t, database.Migrate(db))
	require.NoError(t, database.Seed(db, config.AdminConfig{}))

	files, err := storage.NewLocal(filepath.Join(dir, "static"), "guides/images")
	require.NoError(t, err)

	store := repository.NewGuideStore(db)
	return &fixture{
		db:    db,
		store: store,
		files: files,
		svc:   NewGuideService(store, files, 1<<20),
	}
}

// withStorage rebuilds the service over a different backend.
func (f *fixture) withStorage(st storage.Storage) *GuideService {
	return NewGuideService(f.store, st, 1<<20)
}

func (f *fixture) counts(t *testing.T) (guides, images int64) {
	t.Helper()
	require.NoError(t, f.db.Model(&models.Guide{}).Count(&guides).Error)
	require.NoError(t, f.db.Model(&models.GuideImage{}).Count(&images).Error)
	return guides, images
}

func (f *fixture) dirPath(dir string) string {
	return filepath.Join(f.files.Root(), dir)
}

func (f *fixture) requireFile(t *testing.T, dir, name string) {
	t.Helper()
	_, err := os.Stat(filepath.Join(f.files.Root(), dir, name))
	require.NoError(t, err, "%s/%s should exist", dir, name)
}

func (f *fixture) requireNoPath(t *testing.T, elem ...string) {
	t.Helper()
	_, err := os.Stat(filepath.Join(append([]string{f.files.Root()}, elem...)...))
	require.True(t, errors.Is(err, os.ErrNotExist), "%v should not exist", elem)
}

func encodeImage(t *testing.T, format imaging.Format, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 40, G: 160, B: 60, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, format))
	return buf.Bytes()
}

func pngUpload(t *testing.T, name string) Upload {
	return Upload{Name: name, Data: encodeImage(t, imaging.PNG, 4, 3)}
}

func jpgUpload(t *testing.T, name string) Upload {
	return Upload{Name: name, Data: encodeImage(t, imaging.JPEG, 6, 2)}
}

func strPtr(s string) *string { return &s }

// flakyStorage fails selected operations of an otherwise working backend.
type flakyStorage struct {
	storage.Storage
	failWriteAfter int // fail WriteFile once this many writes succeeded; <0 never
	writes         int
	failRemoveDir  error
	failRemoveFile error
}

func (f *flakyStorage) WriteFile(ctx context.Context, dir, name string, data []byte) error {
	if f.failWriteAfter >= 0 && f.writes >= f.failWriteAfter {
		return errors.New("disk full")
	}
	f.writes++
	return f.Storage.WriteFile(ctx, dir, name, data)
}

func (f *flakyStorage) RemoveDir(ctx context.Context, dir string) error {
	if f.failRemoveDir != nil {
		return f.failRemoveDir
	}
	return f.Storage.RemoveDir(ctx, dir)
}

func (f *flakyStorage) RemoveFile(ctx context.Context, dir, name string) error {
	if f.failRemoveFile != nil {
		return f.failRemoveFile
	}
	return f.Storage.RemoveFile(ctx, dir, name)
}

var errCommit = errors.New("commit failed")

// failingCommitStore runs the transaction body and then aborts, as a commit
// failure would.
type failingCommitStore struct {
	repository.GuideStore
}

func (s failingCommitStore) Transaction(ctx context.Context, fn func(tx repository.GuideStore) error) error {
	return s.GuideStore.Transaction(ctx, func(tx repository.GuideStore) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errCommit
	})
}
