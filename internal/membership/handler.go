// internal/membership/handler.go
package membership

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"bibliotheca/internal/web"
)

type Handler struct {
	service      Service
	secureCookie bool
}

func NewHandler(service Service, secureCookie bool) *Handler {
	return &Handler{service: service, secureCookie: secureCookie}
}

// Routes mounts the authentication, user and session endpoints.
func (h *Handler) Routes(r chi.Router) {
	auth := RequireSession(h.service)

	r.Route("/authentication", func(r chi.Router) {
		r.Post("/register", h.handleRegister)
		r.Post("/login", h.handleLogin)
		r.With(auth).Get("/currentUser", h.handleCurrentUser)
		r.With(auth).Post("/logout", h.handleLogout)
	})

	r.Route("/user", func(r chi.Router) {
		r.Use(auth)
		r.With(RequireStaff()).Get("/", h.handleListUsers)
		r.Get("/{id}", h.handleGetUser)
		r.With(RequireAdmin()).Put("/{id}/role", h.handleSetRole)
	})

	r.With(auth, RequireAdmin()).Get("/session", h.handleListSessions)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}

	user, session, err := h.service.Register(r.Context(), req, ClientOf(r))
	if err != nil {
		web.Error(w, r, err)
		return
	}

	h.setCookie(w, session.Token)
	web.Created(w, "Registration successful", user)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginInput
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}

	user, session, err := h.service.Login(r.Context(), req, ClientOf(r))
	if err != nil {
		web.Error(w, r, err)
		return
	}

	h.setCookie(w, session.Token)
	web.OK(w, "Login successful", user)
}

func (h *Handler) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	user, err := web.User(r)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Current user", user)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, ok := web.IdentityFrom(r.Context())
	if !ok {
		web.Error(w, r, web.ErrUnauthenticated)
		return
	}
	if err := h.service.Logout(r.Context(), id.Session); err != nil {
		web.Error(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	web.OK(w, "Logged out", nil)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	viewer, err := web.User(r)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	users, err := h.service.ListUsers(r.Context(), viewer)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Users", users)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	viewer, err := web.User(r)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	user, err := h.service.GetUser(r.Context(), viewer, id)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "User", user)
}

func (h *Handler) handleSetRole(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	var req struct {
		Permissions string `json:"permissions"`
	}
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}
	role, err := ParsePermission(req.Permissions)
	if err != nil {
		web.Error(w, r, err)
		return
	}

	user, err := h.service.SetRole(r.Context(), id, role)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Role updated", user)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	viewer, err := web.User(r)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	sessions, err := h.service.ListSessions(r.Context(), viewer)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Sessions", sessions)
}

func (h *Handler) setCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
