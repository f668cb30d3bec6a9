// internal/circulation/handler.go
package circulation

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"bibliotheca/internal/apperr"
	"bibliotheca/internal/web"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the borrow record and reservation endpoints. auth must
// attach the caller's identity; staff must admit staff roles only.
func (h *Handler) Routes(r chi.Router, auth, staff func(http.Handler) http.Handler) {
	r.Route("/borrowRecord", func(r chi.Router) {
		r.Use(auth)
		r.Get("/", h.handleListLoans)
		r.Get("/myRecords", h.handleMyLoans)
		r.Get("/myRecords/book/{bookId}", h.handleMyLoanForBook)
		r.With(staff).Get("/user/{userId}", h.handleLoansOfUser)
		r.Post("/borrow", h.handleBorrow)
		r.Post("/return", h.handleReturn)
		r.Post("/reserve", h.handleReserve)
		r.Get("/{id}", h.handleGetLoan)
		r.Post("/{id}/rate", h.handleRate)
	})

	r.Route("/reservation", func(r chi.Router) {
		r.Use(auth)
		r.Get("/", h.handleListReservations)
		r.Get("/mine", h.handleMyReservations)
		r.Get("/{id}", h.handleGetReservation)
	})
}

func (h *Handler) handleBorrow(w http.ResponseWriter, r *http.Request) {
	user, err := web.User(r)
	if err != nil {
		web.Error(w, r, err)
		return
	}

	var req BorrowInput
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		web.Error(w, r, apperr.Invalid(err))
		return
	}

	loan, err := h.service.Borrow(r.Context(), user, req.BookID, req.StartDate)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Book borrowed", loan)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	user, err := web.User(r)
	if err != nil {
		web.Error(w, r, err)
		return
	}

	var req BookInput
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		web.Error(w, r, apperr.Invalid(err))
		return
	}

	result, err := h.service.Return(r.Context(), user, req.BookID)
	if err != nil {
		web.Error(w, r, err)
		return
	}

	message := "Book returned"
	if result.Overdue {
		message = "Book returned after its due date"
	}
	web.OK(w, message, result)
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	user, err := web.User(r)
	if err != nil {
		web.Error(w, r, err)
		return
	}

	var req BookInput
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		web.Error(w, r, apperr.Invalid(err))
		return
	}

	reservation, err := h.service.Reserve(r.Context(), user, req.BookID)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Book reserved", reservation)
}

func (h *Handler) handleRate(w http.ResponseWriter, r *http.Request) {
	user, err := web.User(r)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, err)
		return
	}

	var req RateInput
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}

	loan, err := h.service.Rate(r.Context(), user, id, req.Rating)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Rating saved", loan)
}

func (h *Handler) handleListLoans(w http.ResponseWriter, r *http.Request) {
	user, err := web.User(r)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	loans, err := h.service.ListLoans(r.Context(), user)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Borrow records", loans)
}

func (h *Handler) handleMyLoans(w http.ResponseWriter, r *http.Request) {
	user, err := web.User(r)
	if err != nil {
		web.Error(w, r, err)
		return
	}

	activeOnly := false
	if raw := r.URL.Query().Get("active"); raw != "" {
		if activeOnly, err = strconv.ParseBool(raw); err != nil {
			web.Error(w, r, apperr.Invalidf("active must be true or false"))
			return
		}
	}

	loans, err := h.service.LoansOfUser(r.Context(), user, user.ID, activeOnly)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Your borrow records", loans)
}

func (h *Handler) handleMyLoanForBook(w http.ResponseWriter, r *http.Request) {
	user, err := web.User(r)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	bookID, err := web.PathID(r, "bookId")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	loan, err := h.service.ActiveLoanForBook(r.Context(), user, bookID)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Active borrow record", loan)
}

func (h *Handler) handleLoansOfUser(w http.ResponseWriter, r *http.Request) {
	viewer, err := web.User(r)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	userID, err := web.PathID(r, "userId")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	loans, err := h.service.LoansOfUser(r.Context(), viewer, userID, false)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Borrow records of user", loans)
}

func (h *Handler) handleGetLoan(w http.ResponseWriter, r *http.Request) {
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
	loan, err := h.service.GetLoan(r.Context(), viewer, id)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Borrow record", loan)
}

func (h *Handler) handleListReservations(w http.ResponseWriter, r *http.Request) {
	viewer, err := web.User(r)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	reservations, err := h.service.ListReservations(r.Context(), viewer)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Reservations", reservations)
}

func (h *Handler) handleMyReservations(w http.ResponseWriter, r *http.Request) {
	viewer, err := web.User(r)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	reservations, err := h.service.ReservationsOfUser(r.Context(), viewer, viewer.ID)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Your reservations", reservations)
}

func (h *Handler) handleGetReservation(w http.ResponseWriter, r *http.Request) {
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
	reservation, err := h.service.GetReservation(r.Context(), viewer, id)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Reservation", reservation)
}
