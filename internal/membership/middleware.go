package membership

import (
	"net"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"bibliotheca/internal/model"
	"bibliotheca/internal/web"
)

// RequireSession rejects requests without a valid session cookie and
// attaches the caller's identity to the request context.
func RequireSession(svc Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token string
			if c, err := r.Cookie(CookieName); err == nil {
				token = c.Value
			}

			user, session, err := svc.Authenticate(r.Context(), token, ClientIP(r))
			if err != nil {
				web.Error(w, r, err)
				return
			}

			hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("user_id", user.ID.String())
			})
			next.ServeHTTP(w, r.WithContext(web.WithIdentity(r.Context(), user, session)))
		})
	}
}

// RequireRole lets through callers holding one of roles. It must run after
// RequireSession.
func RequireRole(roles ...model.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := web.User(r)
			if err != nil {
				web.Error(w, r, err)
				return
			}
			for _, role := range roles {
				if user.Permissions == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			web.Error(w, r, ErrForbidden)
		})
	}
}

// RequireStaff admits employees, professors and admins.
func RequireStaff() func(http.Handler) http.Handler {
	return RequireRole(model.Employee, model.Professor, model.Admin)
}

// RequireAdmin admits admins only.
func RequireAdmin() func(http.Handler) http.Handler {
	return RequireRole(model.Admin)
}

// ClientIP returns the request's remote host without its port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientOf describes the caller for session bookkeeping.
func ClientOf(r *http.Request) Client {
	return Client{IP: ClientIP(r), Device: r.UserAgent()}
}
