package service

import (
	"context"
	"strings"
	"time"

	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
	"github.com/catalyzator-io/catalyzator-sub000/internal/repository"
)

const maxBioLen = 2000

type UserService struct {
	users *repository.UserRepo
	now   func() time.Time
}

func NewUserService(users *repository.UserRepo) *UserService {
	return &UserService{users: users, now: time.Now}
}

// UpdateProfile merge-writes the non-nil fields and returns the stored user.
func (s *UserService) UpdateProfile(ctx context.Context, uid string, upd repository.ProfileUpdate) (*models.UserResponse, error) {
	if upd.DisplayName != nil {
		name := strings.TrimSpace(*upd.DisplayName)
		if name == "" {
			return nil, invalid("display name must not be empty")
		}
		upd.DisplayName = &name
	}
	if upd.Bio != nil && len(*upd.Bio) > maxBioLen {
		return nil, invalid("bio exceeds %d characters", maxBioLen)
	}
	upd.PhotoURL = nil
	if err := s.users.UpdateProfile(ctx, uid, upd, timestamp(s.now)); err != nil {
		return nil, err
	}
	user, err := s.users.FindByID(ctx, uid)
	if err != nil {
		return nil, err
	}
	resp := user.ToResponse()
	return &resp, nil
}
