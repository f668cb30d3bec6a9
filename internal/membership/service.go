// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"

	"bibliotheca/internal/model"
)

// Service defines the interface for the membership service.
type Service interface {
	Register(ctx context.Context, in RegisterInput, client Client) (*model.User, *model.Session, error)
	Login(ctx context.Context, in LoginInput, client Client) (*model.User, *model.Session, error)
	Logout(ctx context.Context, session *model.Session) error
	Authenticate(ctx context.Context, token, ip string) (*model.User, *model.Session, error)

	GetUser(ctx context.Context, viewer *model.User, id uuid.UUID) (*model.User, error)
	ListUsers(ctx context.Context, viewer *model.User) ([]model.User, error)
	ListSessions(ctx context.Context, viewer *model.User) ([]model.Session, error)
	SetRole(ctx context.Context, userID uuid.UUID, role model.Permission) (*model.User, error)
	SetRoleByEmail(ctx context.Context, email string, role model.Permission) (*model.User, error)

	PurgeExpiredSessions(ctx context.Context) (int64, error)
}
