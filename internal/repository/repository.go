// Package repository owns one cache.Collection per entity type and exposes
// typed lookups over them. It is built once at startup and handed to every
// service that reads entities.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"bibliotheca/internal/cache"
	"bibliotheca/internal/model"
	"bibliotheca/internal/store"
)

// Kind names a cached entity type for Reset.
type Kind string

const (
	KindBook        Kind = "books"
	KindCopy        Kind = "copies"
	KindLoan        Kind = "loans"
	KindReservation Kind = "reservations"
	KindUser        Kind = "users"
	KindSession     Kind = "sessions"
)

// Repository is the read side of the store.
type Repository struct {
	store *store.Store

	books        *cache.Collection[model.Book]
	copies       *cache.Collection[model.Copy]
	loans        *cache.Collection[model.Loan]
	reservations *cache.Collection[model.Reservation]
	users        *cache.Collection[model.User]
	sessions     *cache.Collection[model.Session]
}

// New builds empty collections over st. Nothing is loaded until first read.
func New(st *store.Store) *Repository {
	return &Repository{
		store:        st,
		books:        cache.New[model.Book](string(KindBook), st.ListBooks),
		copies:       cache.New[model.Copy](string(KindCopy), st.ListCopies),
		loans:        cache.New[model.Loan](string(KindLoan), st.ListLoans),
		reservations: cache.New[model.Reservation](string(KindReservation), st.ListReservations),
		users:        cache.New[model.User](string(KindUser), st.ListUsers),
		sessions:     cache.New[model.Session](string(KindSession), st.ListSessions),
	}
}

// Store returns the underlying entity store for writers.
func (r *Repository) Store() *store.Store { return r.store }

// Reset reloads the given collections in order. Every kind is attempted; the
// errors are joined.
func (r *Repository) Reset(ctx context.Context, kinds ...Kind) error {
	var errs []error
	for _, k := range kinds {
		var err error
		switch k {
		case KindBook:
			err = r.books.Reset(ctx)
		case KindCopy:
			err = r.copies.Reset(ctx)
		case KindLoan:
			err = r.loans.Reset(ctx)
		case KindReservation:
			err = r.reservations.Reset(ctx)
		case KindUser:
			err = r.users.Reset(ctx)
		case KindSession:
			err = r.sessions.Reset(ctx)
		default:
			err = fmt.Errorf("unknown cache kind %q", k)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Warm loads every collection.
func (r *Repository) Warm(ctx context.Context) error {
	return r.Reset(ctx, KindBook, KindCopy, KindLoan, KindReservation, KindUser, KindSession)
}

// Books returns all books.
func (r *Repository) Books(ctx context.Context) ([]model.Book, error) {
	return r.books.All(ctx)
}

// BookByID looks a book up by id.
func (r *Repository) BookByID(ctx context.Context, id uuid.UUID) (model.Book, bool, error) {
	return r.books.Find(ctx, func(b model.Book) bool { return b.ID == id })
}

// BooksByAuthor matches author case-insensitively.
func (r *Repository) BooksByAuthor(ctx context.Context, author string) ([]model.Book, error) {
	return r.books.Filter(ctx, func(b model.Book) bool { return strings.EqualFold(b.Author, author) })
}

// SearchBooks matches q as a case-insensitive substring of title, author or isbn.
func (r *Repository) SearchBooks(ctx context.Context, q string) ([]model.Book, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	return r.books.Filter(ctx, func(b model.Book) bool {
		return strings.Contains(strings.ToLower(b.Title), q) ||
			strings.Contains(strings.ToLower(b.Author), q) ||
			strings.Contains(strings.ToLower(b.ISBN), q)
	})
}

// Copies returns all copies in creation order.
func (r *Repository) Copies(ctx context.Context) ([]model.Copy, error) {
	return r.copies.All(ctx)
}

// CopiesOfBook returns a book's copies in creation order.
func (r *Repository) CopiesOfBook(ctx context.Context, bookID uuid.UUID) ([]model.Copy, error) {
	return r.copies.Filter(ctx, func(c model.Copy) bool { return c.BookID == bookID })
}

// CopyByID looks a copy up by id.
func (r *Repository) CopyByID(ctx context.Context, id uuid.UUID) (model.Copy, bool, error) {
	return r.copies.Find(ctx, func(c model.Copy) bool { return c.ID == id })
}

// Loans returns all loans.
func (r *Repository) Loans(ctx context.Context) ([]model.Loan, error) {
	return r.loans.All(ctx)
}

// LoanByID looks a loan up by id.
func (r *Repository) LoanByID(ctx context.Context, id uuid.UUID) (model.Loan, bool, error) {
	return r.loans.Find(ctx, func(l model.Loan) bool { return l.ID == id })
}

// LoansOfUser returns every loan of a user.
func (r *Repository) LoansOfUser(ctx context.Context, userID uuid.UUID) ([]model.Loan, error) {
	return r.loans.Filter(ctx, func(l model.Loan) bool { return l.UserID == userID })
}

// LoansOfBook returns every loan of a book.
func (r *Repository) LoansOfBook(ctx context.Context, bookID uuid.UUID) ([]model.Loan, error) {
	return r.loans.Filter(ctx, func(l model.Loan) bool { return l.BookID == bookID })
}

// Reservations returns all reservations.
func (r *Repository) Reservations(ctx context.Context) ([]model.Reservation, error) {
	return r.reservations.All(ctx)
}

// ReservationByID looks a reservation up by id.
func (r *Repository) ReservationByID(ctx context.Context, id uuid.UUID) (model.Reservation, bool, error) {
	return r.reservations.Find(ctx, func(res model.Reservation) bool { return res.ID == id })
}

// ReservationsOfUser returns every reservation of a user.
func (r *Repository) ReservationsOfUser(ctx context.Context, userID uuid.UUID) ([]model.Reservation, error) {
	return r.reservations.Filter(ctx, func(res model.Reservation) bool { return res.UserID == userID })
}

// Users returns all users.
func (r *Repository) Users(ctx context.Context) ([]model.User, error) {
	return r.users.All(ctx)
}

// UserByID looks a user up by id.
func (r *Repository) UserByID(ctx context.Context, id uuid.UUID) (model.User, bool, error) {
	return r.users.Find(ctx, func(u model.User) bool { return u.ID == id })
}

// UserByEmail matches email case-insensitively.
func (r *Repository) UserByEmail(ctx context.Context, email string) (model.User, bool, error) {
	return r.users.Find(ctx, func(u model.User) bool { return strings.EqualFold(u.Email, email) })
}

// Sessions returns all sessions.
func (r *Repository) Sessions(ctx context.Context) ([]model.Session, error) {
	return r.sessions.All(ctx)
}

// SessionByToken looks a session up by its token.
func (r *Repository) SessionByToken(ctx context.Context, token string) (model.Session, bool, error) {
	return r.sessions.Find(ctx, func(s model.Session) bool { return s.Token == token })
}

// SessionByUserID returns the user's session, if any.
func (r *Repository) SessionByUserID(ctx context.Context, userID uuid.UUID) (model.Session, bool, error) {
	return r.sessions.Find(ctx, func(s model.Session) bool { return s.UserID == userID })
}
