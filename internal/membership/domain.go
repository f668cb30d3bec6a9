// internal/membership/domain.go
package membership

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"bibliotheca/internal/apperr"
	"bibliotheca/internal/model"
)

const (
	// SessionTTL is how long a session may sit unused before it expires.
	SessionTTL = 24 * time.Hour
	// RefreshInterval bounds how often a session's last-used time is written.
	RefreshInterval = 5 * time.Minute
	// CookieName carries the session token.
	CookieName = "session_token"
)

var (
	ErrMissingToken       = apperr.New(apperr.KindAuth, "missing_token", "no session token provided")
	ErrSessionNotFound    = apperr.New(apperr.KindAuth, "session_not_found", "session not found")
	ErrSessionExpired     = apperr.New(apperr.KindAuth, "session_expired", "session expired, please log in again")
	ErrUserNotFound       = apperr.New(apperr.KindNotFound, "user_not_found", "user not found, please register")
	ErrInvalidCredentials = apperr.New(apperr.KindAuth, "invalid_credentials", "email or password incorrect")
	ErrEmailTaken         = apperr.New(apperr.KindConflict, "user_exists", "user already exists, please log in")
	ErrRateLimited        = apperr.New(apperr.KindRateLimited, "rate_limited", "too many attempts, try again later")
	ErrForbidden          = apperr.New(apperr.KindPermission, "forbidden", "insufficient permissions")
	ErrUnknownPermission  = apperr.New(apperr.KindValidation, "unknown_permission", "unknown permission")
)

// RegisterInput is the body of a registration request.
type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

func (in *RegisterInput) normalize() {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
}

// Validate checks the registration input.
func (in RegisterInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required.Error("email is required"), is.EmailFormat.Error("email has invalid format")),
		validation.Field(&in.Password, validation.Required.Error("password is required"), validation.Length(8, 128)),
		validation.Field(&in.FirstName, validation.Required.Error("first name is required"), validation.Length(1, 100)),
		validation.Field(&in.LastName, validation.Required.Error("last name is required"), validation.Length(1, 100)),
		validation.Field(&in.ImageURL, is.URL),
	)
}

// LoginInput is the body of a login request.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks the login input.
func (in LoginInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required.Error("email is required"), is.EmailFormat.Error("email has invalid format")),
		validation.Field(&in.Password, validation.Required.Error("password is required")),
	)
}

// Client describes where a request came from.
type Client struct {
	IP     string
	Device string
}

// ParsePermission accepts one of the four role names.
func ParsePermission(s string) (model.Permission, error) {
	switch p := model.Permission(strings.ToUpper(strings.TrimSpace(s))); p {
	case model.Student, model.Employee, model.Professor, model.Admin:
		return p, nil
	default:
		return "", ErrUnknownPermission
	}
}
