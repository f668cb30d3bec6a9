package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"bibliotheca/internal/model"
	"bibliotheca/internal/repository"
	"bibliotheca/internal/store"
)

// Gate resolves a session token to its user and session.
type Gate struct {
	repo *repository.Repository
	now  func() time.Time
}

// NewGate returns a gate over repo.
func NewGate(repo *repository.Repository) *Gate {
	return &Gate{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Authenticate checks a token presented from ip.
//
// A session unused for more than SessionTTL is deleted and rejected. A live
// session gets its IP updated when it changed and its last-used time
// refreshed when older than RefreshInterval; either change is written once
// and the session cache reset.
func (g *Gate) Authenticate(ctx context.Context, token, ip string) (*model.User, *model.Session, error) {
	if token == "" {
		return nil, nil, ErrMissingToken
	}

	sess, ok, err := g.repo.SessionByToken(ctx, token)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if !ok {
		return nil, nil, ErrSessionNotFound
	}

	st := g.repo.Store()
	now := g.now()

	if now.Sub(sess.LastUsed) > SessionTTL {
		if err := st.DeleteSession(ctx, st.DB(), sess.ID); err != nil {
			return nil, nil, fmt.Errorf("failed to delete expired session: %w", err)
		}
		g.resetSessions(ctx)
		return nil, nil, ErrSessionExpired
	}

	changed := false
	if ip != "" && ip != sess.IP {
		sess.IP = ip
		changed = true
	}
	if now.Sub(sess.LastUsed) > RefreshInterval {
		sess.LastUsed = now
		changed = true
	}
	if changed {
		if err := st.TouchSession(ctx, st.DB(), &sess); err != nil {
			if errors.Is(err, store.ErrConflict) {
				// Deleted between the lookup and the write.
				g.resetSessions(ctx)
				return nil, nil, ErrSessionNotFound
			}
			return nil, nil, fmt.Errorf("failed to refresh session: %w", err)
		}
		g.resetSessions(ctx)
	}

	user, ok, err := g.repo.UserByID(ctx, sess.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up session user: %w", err)
	}
	if !ok {
		return nil, nil, ErrSessionNotFound
	}

	return &user, &sess, nil
}

func (g *Gate) resetSessions(ctx context.Context) {
	if err := g.repo.Reset(ctx, repository.KindSession); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("session cache reset failed")
	}
}
