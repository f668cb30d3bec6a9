// internal/circulation/service.go
package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bibliotheca/internal/model"
)

// Service defines the interface for the circulation service.
type Service interface {
	Borrow(ctx context.Context, user *model.User, bookID uuid.UUID, startAt *time.Time) (*model.Loan, error)
	Return(ctx context.Context, user *model.User, bookID uuid.UUID) (*ReturnResult, error)
	Reserve(ctx context.Context, user *model.User, bookID uuid.UUID) (*model.Reservation, error)
	Rate(ctx context.Context, user *model.User, loanID uuid.UUID, rating int) (*model.Loan, error)

	PromoteDueReservations(ctx context.Context) (int, error)
	ExpireReservations(ctx context.Context) (int, error)

	ListLoans(ctx context.Context, viewer *model.User) ([]model.Loan, error)
	GetLoan(ctx context.Context, viewer *model.User, id uuid.UUID) (*model.Loan, error)
	LoansOfUser(ctx context.Context, viewer *model.User, userID uuid.UUID, activeOnly bool) ([]model.Loan, error)
	ActiveLoanForBook(ctx context.Context, user *model.User, bookID uuid.UUID) (*model.Loan, error)

	ListReservations(ctx context.Context, viewer *model.User) ([]model.Reservation, error)
	GetReservation(ctx context.Context, viewer *model.User, id uuid.UUID) (*model.Reservation, error)
	ReservationsOfUser(ctx context.Context, viewer *model.User, userID uuid.UUID) ([]model.Reservation, error)
}
