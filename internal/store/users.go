package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bibliotheca/internal/model"
)

type userRow struct {
	ID           uuid.UUID `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	PasswordSalt string    `db:"password_salt"`
	FirstName    string    `db:"first_name"`
	LastName     string    `db:"last_name"`
	ImageURL     string    `db:"image_url"`
	Permissions  string    `db:"permissions"`
	CreatedAt    timestamp `db:"created_at"`
}

type sessionRow struct {
	ID         uuid.UUID `db:"id"`
	UserID     uuid.UUID `db:"user_id"`
	Token      string    `db:"token"`
	IP         string    `db:"ip"`
	DeviceInfo string    `db:"device_info"`
	Created    timestamp `db:"created"`
	LastUsed   timestamp `db:"last_used"`
}

// ListUsers returns every user in creation order.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var rows []userRow
	if err := s.list(ctx, "users", &rows, `
		SELECT id, email, password_hash, password_salt, first_name, last_name, image_url, permissions, created_at
		FROM users
		ORDER BY created_at, id
	`); err != nil {
		return nil, err
	}

	users := make([]model.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, model.User{
			ID:           r.ID,
			Email:        r.Email,
			PasswordHash: r.PasswordHash,
			PasswordSalt: r.PasswordSalt,
			FirstName:    r.FirstName,
			LastName:     r.LastName,
			ImageURL:     r.ImageURL,
			Permissions:  model.Permission(r.Permissions),
			CreatedAt:    r.CreatedAt.Time(),
		})
	}
	return users, nil
}

// InsertUser creates a user. A duplicate email maps to ErrConflict.
func (s *Store) InsertUser(ctx context.Context, q Querier, u *model.User) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO users (id, email, password_hash, password_salt, first_name, last_name, image_url, permissions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), u.ID, u.Email, u.PasswordHash, u.PasswordSalt, u.FirstName, u.LastName, u.ImageURL,
		string(u.Permissions), ts(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// SetPermissions changes a user's role.
func (s *Store) SetPermissions(ctx context.Context, q Querier, id uuid.UUID, p model.Permission) error {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE users SET permissions = ? WHERE id = ?`), string(p), id)
	if err != nil {
		return fmt.Errorf("update user permissions: %w", err)
	}
	return expectOne(res, "user "+id.String())
}

// ListSessions returns every session.
func (s *Store) ListSessions(ctx context.Context) ([]model.Session, error) {
	var rows []sessionRow
	if err := s.list(ctx, "sessions", &rows, `
		SELECT id, user_id, token, ip, device_info, created, last_used
		FROM sessions
		ORDER BY created, id
	`); err != nil {
		return nil, err
	}

	sessions := make([]model.Session, 0, len(rows))
	for _, r := range rows {
		sessions = append(sessions, model.Session{
			ID:         r.ID,
			UserID:     r.UserID,
			Token:      r.Token,
			IP:         r.IP,
			DeviceInfo: r.DeviceInfo,
			Created:    r.Created.Time(),
			LastUsed:   r.LastUsed.Time(),
		})
	}
	return sessions, nil
}

// InsertSession creates a session.
func (s *Store) InsertSession(ctx context.Context, q Querier, sess *model.Session) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO sessions (id, user_id, token, ip, device_info, created, last_used)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), sess.ID, sess.UserID, sess.Token, sess.IP, sess.DeviceInfo, ts(sess.Created), ts(sess.LastUsed))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// TouchSession stores a session's current IP and last-used time.
func (s *Store) TouchSession(ctx context.Context, q Querier, sess *model.Session) error {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE sessions SET ip = ?, last_used = ? WHERE id = ?
	`), sess.IP, ts(sess.LastUsed), sess.ID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return expectOne(res, "session "+sess.ID.String())
}

// DeleteSession removes one session. Deleting a missing session is not an error.
func (s *Store) DeleteSession(ctx context.Context, q Querier, id uuid.UUID) error {
	if _, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM sessions WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteUserSessions removes all sessions of a user.
func (s *Store) DeleteUserSessions(ctx context.Context, q Querier, userID uuid.UUID) error {
	if _, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM sessions WHERE user_id = ?`), userID); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

// DeleteSessionsIdleSince removes sessions not used since cutoff and reports
// how many were removed.
func (s *Store) DeleteSessionsIdleSince(ctx context.Context, q Querier, cutoff time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM sessions WHERE last_used < ?`), ts(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}
