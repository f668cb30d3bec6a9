// internal/membership/implementation.go
package membership

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"bibliotheca/internal/apperr"
	"bibliotheca/internal/model"
	"bibliotheca/internal/repository"
	"bibliotheca/internal/store"
)

// service implements the Service interface.
type service struct {
	repo    *repository.Repository
	gate    *Gate
	limiter *keyedLimiter
	now     func() time.Time
}

// Option customizes the service.
type Option func(*service)

// WithClock overrides the time source of the service and its gate.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
		s.gate.now = now
	}
}

// NewService creates a new membership service instance. loginsPerMinute
// limits register and login attempts per client IP; zero disables the limit.
func NewService(repo *repository.Repository, loginsPerMinute int, opts ...Option) Service {
	s := &service{
		repo:    repo,
		gate:    NewGate(repo),
		limiter: newKeyedLimiter(loginsPerMinute),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a STUDENT account and opens its first session.
func (s *service) Register(ctx context.Context, in RegisterInput, client Client) (*model.User, *model.Session, error) {
	if !s.limiter.allow(client.IP) {
		return nil, nil, ErrRateLimited
	}

	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, nil, apperr.Invalid(err)
	}

	if _, exists, err := s.repo.UserByEmail(ctx, in.Email); err != nil {
		return nil, nil, fmt.Errorf("failed to look up email: %w", err)
	} else if exists {
		return nil, nil, ErrEmailTaken
	}

	cred, err := newCredential(in.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}
	passwordHash, salt := cred.encode()

	user := &model.User{
		ID:           uuid.New(),
		Email:        in.Email,
		PasswordHash: passwordHash,
		PasswordSalt: salt,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		ImageURL:     in.ImageURL,
		Permissions:  model.Student,
		CreatedAt:    s.now(),
	}

	st := s.repo.Store()
	err = st.WithTx(ctx, func(q store.Querier) error {
		return st.InsertUser(ctx, q, user)
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, nil, ErrEmailTaken
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}
	s.reset(ctx, repository.KindUser)

	log.Ctx(ctx).Info().Str("user_id", user.ID.String()).Msg("user registered")

	session, err := s.startSession(ctx, user, client)
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}

// Login verifies credentials and returns the user's session.
func (s *service) Login(ctx context.Context, in LoginInput, client Client) (*model.User, *model.Session, error) {
	if !s.limiter.allow(client.IP) {
		return nil, nil, ErrRateLimited
	}

	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := in.Validate(); err != nil {
		return nil, nil, apperr.Invalid(err)
	}

	user, ok, err := s.repo.UserByEmail(ctx, in.Email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if !ok {
		return nil, nil, ErrUserNotFound
	}

	cred, err := storedCredential(user.PasswordHash, user.PasswordSalt)
	if err != nil {
		return nil, nil, fmt.Errorf("authentication failed: %w", err)
	}
	if !cred.matches(in.Password) {
		log.Ctx(ctx).Info().Str("user_id", user.ID.String()).Msg("password incorrect")
		return nil, nil, ErrInvalidCredentials
	}

	session, err := s.startSession(ctx, &user, client)
	if err != nil {
		return nil, nil, err
	}
	return &user, session, nil
}

// startSession keeps one session per user. A live session from the same
// device is reused with its IP and last-used time refreshed; anything else is
// replaced with a fresh token.
func (s *service) startSession(ctx context.Context, user *model.User, client Client) (*model.Session, error) {
	st := s.repo.Store()
	now := s.now()

	existing, ok, err := s.repo.SessionByUserID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if ok && existing.DeviceInfo == client.Device && now.Sub(existing.LastUsed) <= SessionTTL {
		existing.IP = client.IP
		existing.LastUsed = now
		if err := st.TouchSession(ctx, st.DB(), &existing); err == nil {
			s.reset(ctx, repository.KindSession)
			return &existing, nil
		} else if !errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("failed to refresh session: %w", err)
		}
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}
	session := &model.Session{
		ID:         uuid.New(),
		UserID:     user.ID,
		Token:      token,
		IP:         client.IP,
		DeviceInfo: client.Device,
		Created:    now,
		LastUsed:   now,
	}

	err = st.WithTx(ctx, func(q store.Querier) error {
		if err := st.DeleteUserSessions(ctx, q, user.ID); err != nil {
			return err
		}
		return st.InsertSession(ctx, q, session)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.reset(ctx, repository.KindSession)
	return session, nil
}

// Logout deletes the caller's session.
// newSessionToken returns 64 random bytes as 128 hex characters.
func newSessionToken() (string, error) {
	b := make([]byte, 64)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (s *service) Logout(ctx context.Context, session *model.Session) error {
	st := s.repo.Store()
	if err := st.DeleteSession(ctx, st.DB(), session.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.reset(ctx, repository.KindSession)
	return nil
}

func (s *service) Authenticate(ctx context.Context, token, ip string) (*model.User, *model.Session, error) {
	return s.gate.Authenticate(ctx, token, ip)
}

// GetUser returns a user. Non-staff callers may only read themselves.
func (s *service) GetUser(ctx context.Context, viewer *model.User, id uuid.UUID) (*model.User, error) {
	if viewer.ID != id && !viewer.Permissions.Staff() {
		return nil, ErrForbidden
	}
	user, ok, err := s.repo.UserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

// ListUsers returns every user to staff.
func (s *service) ListUsers(ctx context.Context, viewer *model.User) ([]model.User, error) {
	if !viewer.Permissions.Staff() {
		return nil, ErrForbidden
	}
	users, err := s.repo.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// ListSessions returns every session to admins.
func (s *service) ListSessions(ctx context.Context, viewer *model.User) ([]model.Session, error) {
	if viewer.Permissions != model.Admin {
		return nil, ErrForbidden
	}
	sessions, err := s.repo.Sessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// SetRole changes a user's permissions. Callers check authorization.
func (s *service) SetRole(ctx context.Context, userID uuid.UUID, role model.Permission) (*model.User, error) {
	role, err := ParsePermission(string(role))
	if err != nil {
		return nil, err
	}

	user, ok, err := s.repo.UserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !ok {
		return nil, ErrUserNotFound
	}

	st := s.repo.Store()
	if err := st.SetPermissions(ctx, st.DB(), userID, role); err != nil {
		return nil, fmt.Errorf("failed to set permissions: %w", err)
	}
	s.reset(ctx, repository.KindUser)

	log.Ctx(ctx).Info().Str("user_id", userID.String()).Str("role", string(role)).Msg("user role changed")
	user.Permissions = role
	return &user, nil
}

// SetRoleByEmail is SetRole addressed by email.
func (s *service) SetRoleByEmail(ctx context.Context, email string, role model.Permission) (*model.User, error) {
	user, ok, err := s.repo.UserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if !ok {
		return nil, ErrUserNotFound
	}
	return s.SetRole(ctx, user.ID, role)
}

// PurgeExpiredSessions deletes every session idle for longer than SessionTTL.
func (s *service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	st := s.repo.Store()
	n, err := st.DeleteSessionsIdleSince(ctx, st.DB(), s.now().Add(-SessionTTL))
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	if n > 0 {
		s.reset(ctx, repository.KindSession)
	}
	return n, nil
}

func (s *service) reset(ctx context.Context, kinds ...repository.Kind) {
	if err := s.repo.Reset(ctx, kinds...); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("cache reset failed")
	}
}
