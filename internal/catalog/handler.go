// internal/catalog/handler.go
package catalog

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

// Routes mounts the book and copy endpoints. auth must attach the caller's
// identity; admin must admit administrators only.
func (h *Handler) Routes(r chi.Router, auth, admin func(http.Handler) http.Handler) {
	r.Route("/book", func(r chi.Router) {
		r.Get("/", h.handleListBooks)
		r.Get("/search", h.handleSearch)
		r.Get("/author/{author}", h.handleBooksByAuthor)
		r.Get("/{id}", h.handleGetBook)
		r.With(auth).Get("/{id}/history", h.handleHistory)
		r.With(auth).Get("/{id}/copies", h.handleCopiesOfBook)
		r.With(auth, admin).Post("/", h.handleAddBook)
	})

	r.Route("/bookCopy", func(r chi.Router) {
		r.Use(auth)
		r.Get("/", h.handleListCopies)
		r.Get("/{id}", h.handleGetCopy)
	})
}

func (h *Handler) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.ListBooks(r.Context())
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Books", books)
}

func (h *Handler) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Book", book)
}

func (h *Handler) handleBooksByAuthor(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.BooksByAuthor(r.Context(), chi.URLParam(r, "author"))
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Books by author", books)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Search results", books)
}

func (h *Handler) handleAddBook(w http.ResponseWriter, r *http.Request) {
	viewer, err := web.User(r)
	if err != nil {
		web.Error(w, r, err)
		return
	}

	var req AddBookInput
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, err)
		return
	}

	book, copies, err := h.service.AddBook(r.Context(), viewer, req)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.Created(w, "Book added", map[string]any{"book": book, "copies": copies})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	events, err := h.service.History(r.Context(), id)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Book history", events)
}

func (h *Handler) handleCopiesOfBook(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	copies, err := h.service.CopiesOfBook(r.Context(), id)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Copies of book", copies)
}

func (h *Handler) handleListCopies(w http.ResponseWriter, r *http.Request) {
	copies, err := h.service.ListCopies(r.Context())
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Book copies", copies)
}

func (h *Handler) handleGetCopy(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, err)
		return
	}
	c, err := h.service.GetCopy(r.Context(), id)
	if err != nil {
		web.Error(w, r, err)
		return
	}
	web.OK(w, "Book copy", c)
}
