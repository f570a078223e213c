package cli

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"flowerpod/internal/config"
	"flowerpod/internal/database"
	"flowerpod/internal/repository"
	"flowerpod/internal/service"
	"flowerpod/internal/storage"
)

// app holds the long-lived collaborators shared by the commands.
type app struct {
	cfg    *config.Config
	db     *gorm.DB
	files  storage.Storage
	local  *storage.Local // nil unless the local backend is configured
	users  *service.AuthService
	guides *service.GuideService
}

func newApp(ctx context.Context, cfg *config.Config, migrate bool) (*app, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := database.Migrate(db); err != nil {
			_ = database.Close(db)
			return nil, err
		}
		if err := database.Seed(db, cfg.Admin); err != nil {
			_ = database.Close(db)
			return nil, err
		}
	}

	a := &app{cfg: cfg, db: db}
	switch cfg.Storage.Backend {
	case "s3":
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			_ = database.Close(db)
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		a.files = storage.NewS3(client, cfg.S3.Bucket, cfg.Storage.ImagePrefix)
	default:
		local, err := storage.NewLocal(cfg.Storage.PublicRoot, cfg.Storage.ImagePrefix)
		if err != nil {
			_ = database.Close(db)
			return nil, err
		}
		a.files, a.local = local, local
	}

	a.users = service.NewAuthService(repository.NewUserRepository(db))
	a.guides = service.NewGuideService(repository.NewGuideStore(db), a.files, cfg.MaxUploadBytes()).
		WithMaxPixels(cfg.MaxImagePixels())
	return a, nil
}

// mediaBase is prepended to stored image paths in responses.
func (a *app) mediaBase() string {
	if a.cfg.Storage.Backend == "s3" && a.cfg.S3.PublicURL != "" {
		return strings.TrimSuffix(a.cfg.S3.PublicURL, "/")
	}
	return "/static"
}

func (a *app) Close() error {
	return database.Close(a.db)
}
