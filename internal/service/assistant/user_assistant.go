package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"chatkeep/internal/models"
	"chatkeep/internal/redis"
	"chatkeep/internal/storage"
)

var (
	// ErrValidation marks input rejected before it reaches the store.
	ErrValidation = errors.New("invalid input")
	// ErrUsernameTaken is returned when registration hits an existing username.
	ErrUsernameTaken = errors.New("username already registered")
	// ErrInvalidCredentials is returned for an unknown user and a wrong password alike.
	ErrInvalidCredentials = errors.New("incorrect username or password")
)

const (
	userCacheTTL    = 30 * time.Minute
	userCachePrefix = "user:"

	minPasswordBytes = 8
	maxPasswordBytes = 72
	passwordSymbols  = `!@#$%^&*(),.?":{}|<>`
)

// Store is the persistence the assistant needs.
type Store interface {
	storage.UserStore
	storage.ConversationStore
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
}

// Completer produces a reply for a prompt. It must not fail; failures are
// reported as text.
type Completer interface {
	Complete(ctx context.Context, prompt string) string
}

// Service handles user lifecycle and chat orchestration.
type Service struct {
	store     Store
	hasher    PasswordHasher
	completer Completer
	cache     *redis.Client
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Service)

// WithCache enables the redis user cache used by Lookup.
func WithCache(cache *redis.Client) Option {
	return func(s *Service) { s.cache = cache }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService builds a new assistant service.
func NewService(store Store, hasher PasswordHasher, completer Completer, opts ...Option) (*Service, error) {
	if store == nil || hasher == nil || completer == nil {
		return nil, errors.New("assistant: store, hasher and completer are required")
	}
	s := &Service{
		store:     store,
		hasher:    hasher,
		completer: completer,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates a user with the supplied credentials.
func (s *Service) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" {
		return nil, invalid("username is required")
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("register user: %w", err)
	}
	user, err := s.store.CreateUser(ctx, &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: digest,
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("register user: %w", err)
	}
	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// Authenticate validates credentials and returns the user.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Lookup resolves a token subject to its user. Users never change after
// registration, so cached entries are only ever expired by TTL.
func (s *Service) Lookup(ctx context.Context, username string) (*models.User, error) {
	key := userCachePrefix + username
	if s.cache != nil {
		var cached models.User
		err := s.cache.GetJSON(ctx, key, &cached)
		switch {
		case err == nil && cached.ID != "":
			return &cached, nil
		case err != nil && !errors.Is(err, redis.ErrCacheMiss):
			s.logger.Warn("user cache read failed", "username", username, "error", err)
		}
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, user, userCacheTTL); err != nil {
			s.logger.Warn("user cache write failed", "username", username, "error", err)
		}
	}
	return user, nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

func validateEmail(email string) error {
	if email == "" {
		return invalid("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalid("email address is not valid")
	}
	return nil
}

// validatePassword enforces 8..72 bytes with upper, lower, digit and symbol.
func validatePassword(password string) error {
	if len(password) < minPasswordBytes {
		return invalid("password must be at least 8 characters")
	}
	if len(password) > maxPasswordBytes {
		return invalid("password must be at most 72 bytes")
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}
	if !upper || !lower || !digit || !symbol {
		return invalid("password must contain upper and lower case letters, a digit and a symbol")
	}
	return nil
}
