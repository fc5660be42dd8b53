package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/auth"
	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
	"github.com/catalyzator-io/catalyzator-sub000/internal/repository"
)

const minPasswordLen = 8

type AuthService struct {
	users     *repository.UserRepo
	jwtSecret string
	tokenTTL  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewAuthService(users *repository.UserRepo, jwtSecret string, tokenTTL time.Duration, logger *zap.Logger) *AuthService {
	return &AuthService{users: users, jwtSecret: jwtSecret, tokenTTL: tokenTTL, logger: logger, now: time.Now}
}

type AuthResult struct {
	Token string              `json:"token"`
	User  models.UserResponse `json:"user"`
}

func (s *AuthService) Register(ctx context.Context, email, password, displayName string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, invalid("email %q", email)
	}
	if len(password) < minPasswordLen {
		return nil, invalid("password must be at least %d characters", minPasswordLen)
	}
	if strings.TrimSpace(displayName) == "" {
		return nil, invalid("display name is required")
	}
	user, err := s.create(ctx, email, password, displayName, models.RoleUser)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered", zap.String("uid", user.ID))
	return s.result(user)
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return s.result(user)
}

func (s *AuthService) Me(ctx context.Context, uid string) (*models.UserResponse, error) {
	user, err := s.users.FindByID(ctx, uid)
	if err != nil {
		return nil, err
	}
	resp := user.ToResponse()
	return &resp, nil
}

// SeedAdmin creates the admin account unless the email is already registered.
func (s *AuthService) SeedAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	_, err := s.users.FindByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	_, err = s.create(ctx, email, password, "Admin", models.RoleAdmin)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil
	}
	return err
}

func (s *AuthService) create(ctx context.Context, email, password, displayName, role string) (*models.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		DisplayName:  strings.TrimSpace(displayName),
		Role:         role,
		CreatedAt:    timestamp(s.now),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("email already registered: %w", repository.ErrDuplicate)
		}
		return nil, err
	}
	return user, nil
}

func (s *AuthService) result(user *models.User) (*AuthResult, error) {
	token, err := auth.GenerateToken(s.jwtSecret, s.tokenTTL, user.ID, user.Email, user.Role)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user.ToResponse()}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
