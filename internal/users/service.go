package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const minPasswordLength = 6

var (
	// ErrInvalidAccount indicates the registration payload was incomplete.
	ErrInvalidAccount = errors.New("users: invalid account")
	// ErrUsernameTaken indicates another account already uses the username.
	ErrUsernameTaken = errors.New("users: username already registered")
	// ErrInvalidCredentials covers both unknown usernames and wrong passwords.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
)

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Cost     int
}

// Service registers accounts and checks their passwords.
type Service struct {
	db   *gorm.DB
	now  func() time.Time
	cost int
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
	cost := cfg.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("users: bcrypt cost %d out of range", cost)
	}
	return &Service{
		db:   cfg.Database,
		now:  clock,
		cost: cost,
	}, nil
}

// Register stores a new account with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, username, email, password string) (Account, error) {
	username = strings.ToLower(normalize(username))
	if username == "" || len(password) < minPasswordLength {
		return Account{}, ErrInvalidAccount
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&Account{}).Where("username = ?", username).Count(&existing).Error; err != nil {
		return Account{}, err
	}
	if existing > 0 {
		return Account{}, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Account{}, fmt.Errorf("users: hash password: %w", err)
	}
	account := Account{
		Username:     username,
		Email:        normalize(email),
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		return Account{}, err
	}
	return account, nil
}

// Authenticate returns the account when the password matches its stored hash.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Account, error) {
	username = strings.ToLower(normalize(username))
	if username == "" || password == "" {
		return Account{}, ErrInvalidCredentials
	}

	var account Account
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}

	account.LastLoginAt = s.now().UTC()
	_ = s.db.WithContext(ctx).Model(&Account{}).
		Where("id = ?", account.ID).
		Update("last_login_at", account.LastLoginAt).
		Error
	return account, nil
}
