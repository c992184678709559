package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/avvvet/gamehost-services/internal/gamesvc/apperr"
	"github.com/avvvet/gamehost-services/internal/gamesvc/models"
	"github.com/avvvet/gamehost-services/internal/gamesvc/store"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultSessionTTL = 7 * 24 * time.Hour
	tokenBytes        = 64
)

// SessionToken is what registration and login hand back to the caller.
type SessionToken struct {
	Token   string       `json:"token"`
	Expires time.Time    `json:"expires"`
	User    *models.User `json:"user"`
}

// UserService owns accounts and bearer sessions.
type UserService struct {
	users    UserRepository
	sessions SessionRepository
	ttl      time.Duration
	hashCost int
	now      func() time.Time
}

func NewUserService(users UserRepository, sessions SessionRepository, ttl time.Duration) *UserService {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &UserService{
		users:    users,
		sessions: sessions,
		ttl:      ttl,
		hashCost: bcrypt.DefaultCost,
		now:      time.Now,
	}
}

// WithHashCost overrides the bcrypt cost, tests use bcrypt.MinCost.
func (s *UserService) WithHashCost(cost int) *UserService {
	s.hashCost = cost
	return s
}

func (s *UserService) WithClock(now func() time.Time) *UserService {
	s.now = now
	return s
}

// CreateToken returns 64 random bytes as url safe base64 (88 characters).
func CreateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := base64.StdEncoding.EncodeToString(buf)
	return strings.NewReplacer("/", "_", "+", "-").Replace(token), nil
}

// Register creates the account and logs it in.
func (s *UserService) Register(ctx context.Context, username, password string) (*SessionToken, error) {
	if err := validateCredentials(username, password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unknown, "", err)
	}

	user, err := s.users.CreateUser(ctx, username, string(hash), s.now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.Wrap(apperr.Duplicate, "Username is already taken", err)
		}
		return nil, apperr.Wrap(apperr.Unknown, "", err)
	}
	log.WithFields(log.Fields{"user_id": user.ID, "username": user.Username}).Info("user registered")

	return s.openSession(ctx, user)
}

func (s *UserService) Login(ctx context.Context, username, password string) (*SessionToken, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.Unauthenticated, "Invalid credentials")
		}
		return nil, apperr.Wrap(apperr.Unknown, "", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		log.WithField("user_id", user.ID).Warn("login rejected: password mismatch")
		return nil, apperr.New(apperr.Unauthenticated, "Invalid credentials")
	}
	return s.openSession(ctx, user)
}

func (s *UserService) openSession(ctx context.Context, user *models.User) (*SessionToken, error) {
	token, err := CreateToken()
	if err != nil {
		return nil, apperr.Wrap(apperr.Unknown, "", err)
	}
	now := s.now().UTC()
	session := &models.Session{
		UserID:    user.ID,
		Token:     token,
		Expires:   now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, apperr.Wrap(apperr.Unknown, "", err)
	}
	return &SessionToken{Token: token, Expires: session.Expires, User: user}, nil
}

// Authenticate resolves a bearer token to its user. It must run before any
// other request logic.
func (s *UserService) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, apperr.New(apperr.Unauthenticated, "")
	}
	user, err := s.sessions.GetSessionUser(ctx, token, s.now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.InvalidSession, "")
		}
		return nil, apperr.Wrap(apperr.Unknown, "", err)
	}
	return user, nil
}

// Logout invalidates only the presented token.
func (s *UserService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return apperr.New(apperr.Unauthenticated, "")
	}
	if err := s.sessions.InvalidateSession(ctx, token); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.InvalidSession, "")
		}
		return apperr.Wrap(apperr.Unknown, "", err)
	}
	return nil
}
