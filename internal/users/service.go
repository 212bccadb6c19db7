package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// ErrUnknownUser indicates the identifier resolves to no stored account.
var ErrUnknownUser = errors.New("users: unknown user")

// ServiceConfig describes the dependencies required for account lookups.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages account records and the identity lookups performed at the
// socket handshake.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// GetByID loads the account for the provided identifier.
func (s *Service) GetByID(ctx context.Context, userID string) (User, error) {
	id := normalize(userID)
	if id == "" {
		return User{}, ErrUnknownUser
	}

	if cached, ok := s.cache.Load(id); ok {
		if user, ok := cached.(User); ok {
			return user, nil
		}
	}

	var user User
	err := s.db.WithContext(ctx).
		Where("user_id = ?", id).
		First(&user).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUnknownUser
	}
	if err != nil {
		return User{}, err
	}

	s.cache.Store(id, user)
	return user, nil
}

// GetByIDs loads accounts for the provided identifiers, skipping unknown ones.
func (s *Service) GetByIDs(ctx context.Context, userIDs []string) ([]User, error) {
	ids := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		if id := normalize(userID); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var accounts []User
	if err := s.db.WithContext(ctx).
		Where("user_id IN ?", ids).
		Find(&accounts).
		Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// Upsert stores the provided account, replacing any cached copy.
func (s *Service) Upsert(ctx context.Context, user User) error {
	if normalize(user.UserID) == "" {
		return ErrUnknownUser
	}
	if user.Role == "" {
		user.Role = RoleMember
	}
	if err := s.db.WithContext(ctx).Save(&user).Error; err != nil {
		return err
	}
	s.cache.Store(user.UserID, user)
	return nil
}
