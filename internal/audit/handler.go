// internal/audit/handler.go
package audit

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"bibliotheca/internal/web"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the sweep endpoint behind auth and staff.
func (h *Handler) Routes(r chi.Router, auth, staff func(http.Handler) http.Handler) {
	r.With(auth, staff).Get("/validateDB", h.HandleValidate)
}

// HandleValidate runs a consistency sweep and returns its report.
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.ValidateDatabase(r.Context())
	if err != nil {
		web.Error(w, r, err)
		return
	}

	message := "Database is consistent"
	if !report.Valid() {
		message = "Database inconsistencies corrected"
	}
	web.OK(w, message, report)
}
