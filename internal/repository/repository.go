package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"flowerpod/models"
)

var (
	// ErrNotFound is returned when an addressed row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("duplicate record")
)

// GuideUpdate lists the guide columns to change; nil fields are left alone.
type GuideUpdate struct {
	Title   *string
	Creator *string
}

// ImageUpdate lists the image columns to change; nil fields are left alone.
type ImageUpdate struct {
	Image       *string
	Caption     *string
	Width       *int
	Height      *int
	ContentType *string
}

// GuideStore persists guides and their images.
type GuideStore interface {
	CreateGuide(ctx context.Context, guide *models.Guide) error
	GetGuide(ctx context.Context, id uint) (*models.Guide, error)
	GetGuideByTitle(ctx context.Context, title string) (*models.Guide, error)
	ListGuides(ctx context.Context) ([]models.Guide, error)
	SearchGuides(ctx context.Context, query string) ([]models.Guide, error)
	UpdateGuide(ctx context.Context, id uint, upd GuideUpdate) error
	DeleteGuide(ctx context.Context, id uint) error

	CreateImage(ctx context.Context, image *models.GuideImage) error
	GetImage(ctx context.Context, id uint) (*models.GuideImage, error)
	ListImages(ctx context.Context, guideID uint) ([]models.GuideImage, error)
	ListAllImages(ctx context.Context) ([]models.GuideImage, error)
	CountImagesByGuide(ctx context.Context) (map[uint]int64, error)
	UpdateImage(ctx context.Context, id uint, upd ImageUpdate) error
	DeleteImage(ctx context.Context, id uint) error
	DeleteImagesByGuide(ctx context.Context, guideID uint) (int64, error)

	// Transaction runs fn against a store bound to one database transaction.
	// fn returning an error rolls the transaction back.
	Transaction(ctx context.Context, fn func(tx GuideStore) error) error
}

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	Get(ctx context.Context, id uint) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	UpdatePassword(ctx context.Context, id uint, hashed []byte) error
	GetRole(ctx context.Context, name string) (*models.Role, error)
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case isUniqueConstraintError(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "duplicate key") || strings.Contains(s, "unique constraint") || strings.Contains(s, "duplicate entry")
}

// likeEscaper escapes LIKE wildcards with '!' which every supported dialect
// accepts as an ESCAPE character inside a plain string literal.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
