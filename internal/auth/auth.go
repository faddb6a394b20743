// Package auth manages accounts and cookie sessions. Passwords and session
// tokens are stored only as bcrypt hashes; tokens are looked up by a short
// plaintext prefix and then compared against each candidate hash.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/carhelperai/carhelper/internal/store"
	"github.com/carhelperai/carhelper/pkg/models"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	TokenPrefix       = "chs_"
	tokenBytes        = 32
	tokenPrefixLen    = 12
	MinPasswordLength = 8
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidInput       = errors.New("invalid input")
)

// Store is the subset of store.Store the auth service needs.
type Store interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateSession(ctx context.Context, sess *models.Session) error
	GetSessionsByPrefix(ctx context.Context, prefix string, now time.Time) ([]*models.Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
}

type Service struct {
	store Store
	ttl   time.Duration
	cost  int
	now   func() time.Time
}

// NewService creates an auth service issuing sessions valid for ttl.
func NewService(s Store, ttl time.Duration) *Service {
	return &Service{store: s, ttl: ttl, cost: bcrypt.DefaultCost, now: time.Now}
}

// WithCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

// TTL is the lifetime of newly issued sessions.
func (s *Service) TTL() time.Duration { return s.ttl }

type SignUpInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// SignUp registers a new account.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, fmt.Errorf("%w: email is not valid", ErrInvalidInput)
	}
	if len(in.Password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	u := &models.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: string(hash),
		SkillLevel:   models.SkillBeginner,
		Locale:       "en",
		Units:        "imperial",
		Role:         "user",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return u, nil
}

// SignIn verifies credentials and opens a session. The returned token is the
// only copy of the plaintext; it is what the session cookie carries.
func (s *Service) SignIn(ctx context.Context, email, password string) (*models.User, string, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, sess, err := s.newSession(u.ID)
	if err != nil {
		return nil, "", err
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// Resolve maps a session token to its user. Unknown, malformed or expired
// tokens resolve to nil without error.
func (s *Service) Resolve(ctx context.Context, token string) (*models.User, error) {
	sess, err := s.lookup(ctx, token)
	if err != nil || sess == nil {
		return nil, err
	}
	u, err := s.store.GetUserByID(ctx, sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// SignOut deletes the session behind token. Unknown tokens are not an error.
func (s *Service) SignOut(ctx context.Context, token string) error {
	sess, err := s.lookup(ctx, token)
	if err != nil || sess == nil {
		return err
	}
	return s.store.DeleteSession(ctx, sess.ID)
}

func (s *Service) lookup(ctx context.Context, token string) (*models.Session, error) {
	if !strings.HasPrefix(token, TokenPrefix) || len(token) < tokenPrefixLen {
		return nil, nil
	}
	candidates, err := s.store.GetSessionsByPrefix(ctx, token[:tokenPrefixLen], s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	for _, sess := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(sess.TokenHash), []byte(token)) == nil {
			return sess, nil
		}
	}
	return nil, nil
}

func (s *Service) newSession(userID uuid.UUID) (string, *models.Session, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate session token: %w", err)
	}
	token := TokenPrefix + base64.RawURLEncoding.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(token), s.cost)
	if err != nil {
		return "", nil, fmt.Errorf("hash session token: %w", err)
	}

	now := s.now().UTC()
	return token, &models.Session{
		ID:          uuid.New(),
		UserID:      userID,
		TokenHash:   string(hash),
		TokenPrefix: token[:tokenPrefixLen],
		ExpiresAt:   now.Add(s.ttl),
		CreatedAt:   now,
	}, nil
}
