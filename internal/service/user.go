package service

import (
	"context"

	"github.com/google/uuid"

	apperrors "github.com/sleepwatch/sleep-server-go/internal/errors"
	"github.com/sleepwatch/sleep-server-go/internal/model"
	"github.com/sleepwatch/sleep-server-go/internal/repository"
)

// UserService is the user directory lookup used to resolve path user ids.
type UserService struct {
	userRepo repository.UserRepository
}

func NewUserService(userRepo repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

// Get returns the user or NotFound. Ids that are not UUIDs never exist.
func (s *UserService) Get(ctx context.Context, id string) (*model.User, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, apperrors.NotFound("User")
	}

	user, err := s.userRepo.FindByID(ctx, parsed.String())
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil {
		return nil, apperrors.NotFound("User")
	}
	return user, nil
}
