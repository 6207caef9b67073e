package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kyu1204/kingsick-mk4-sub000/internal/database"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/logging"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDisabled    = errors.New("account is disabled")
)

// UserStore is the subset of the repository the auth service needs.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*database.User, error)
	CreateUser(ctx context.Context, email, passwordHash string) (*database.User, error)
}

// TokenPair is the result of a successful authentication.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Service handles registration and login.
type Service struct {
	users UserStore
	jwt   *JWTManager
	log   *logging.Logger
}

// NewService creates an auth service.
func NewService(users UserStore, jwt *JWTManager, log *logging.Logger) *Service {
	if log == nil {
		log = logging.Default()
	}
	return &Service{users: users, jwt: jwt, log: log.WithComponent("auth")}
}

// Register creates a new user account.
func (s *Service) Register(ctx context.Context, email, password string) (*database.User, error) {
	if err := ValidatePasswordStrength(password); err != nil {
		return nil, err
	}

	if existing, err := s.users.GetUserByEmail(ctx, email); err == nil && existing != nil {
		return nil, ErrEmailTaken
	} else if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("checking email: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, email, hash)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	s.log.Info("user registered", "user_id", user.ID, "email", email)
	return user, nil
}

// Login verifies credentials and issues a token pair.
func (s *Service) Login(ctx context.Context, email, password string) (*database.User, *TokenPair, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("looking up user: %w", err)
	}

	if !VerifyPassword(user.PasswordHash, password) {
		return nil, nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, nil, ErrAccountDisabled
	}

	access, err := s.jwt.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, nil, err
	}
	refresh, err := s.jwt.GenerateRefreshToken()
	if err != nil {
		return nil, nil, err
	}

	s.log.Info("user logged in", "user_id", user.ID)
	return user, &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Add(s.jwt.accessDuration),
	}, nil
}
