package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
	"k8s.io/klog/v2"

	"flowerpod/internal/repository"
	"flowerpod/models"
)

const (
	usernameMin, usernameMax = 5, 20
	// bcrypt ignores input past 72 bytes
	passwordMin, passwordMax = 6, 72
)

type AuthService struct {
	users repository.UserRepository
}

func NewAuthService(users repository.UserRepository) *AuthService {
	return &AuthService{users: users}
}

func validateUsername(username string) error {
	if err := validateLength("username", username, usernameMin, usernameMax); err != nil {
		return err
	}
	for _, r := range username {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return validationf("username must not contain whitespace")
		}
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < passwordMin {
		return validationf("password too short (min %d)", passwordMin)
	}
	if len(password) > passwordMax {
		return validationf("password too long (max %d bytes)", passwordMax)
	}
	return nil
}

// Register creates a regular account.
func (s *AuthService) Register(ctx context.Context, username, password string) (*models.User, error) {
	return s.CreateUser(ctx, username, password, false)
}

// CreateUser creates an account with the user or administrator role.
func (s *AuthService) CreateUser(ctx context.Context, username, password string, admin bool) (*models.User, error) {
	username = strings.TrimSpace(username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	roleName := models.RoleUser
	if admin {
		roleName = models.RoleAdministrator
	}
	role, err := s.users.GetRole(ctx, roleName)
	if err != nil {
		return nil, fmt.Errorf("find role %s: %w", roleName, err)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	rid := role.ID
	user := &models.User{Username: username, HashedPassword: hashed, RoleID: &rid, Role: *role}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, storeErr(err, fmt.Sprintf("user %q already exists", username))
	}
	klog.V(2).Infof("registered user %q (%s)", username, roleName)
	return user, nil
}

// Authenticate returns the user when the password matches. Unknown users and
// wrong passwords are indistinguishable to the caller.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (s *AuthService) ResetPassword(ctx context.Context, username, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return storeErr(err, fmt.Sprintf("user %q", username))
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return storeErr(s.users.UpdatePassword(ctx, user.ID, hashed), fmt.Sprintf("user %q", username))
}

func (s *AuthService) Get(ctx context.Context, id uint) (*models.User, error) {
	user, err := s.users.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err, fmt.Sprintf("user %d", id))
	}
	return user, nil
}

func (s *AuthService) List(ctx context.Context) ([]models.User, error) {
	return s.users.List(ctx)
}
