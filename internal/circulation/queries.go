package circulation

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"bibliotheca/internal/model"
)

// ListLoans returns every loan to staff and the caller's own loans otherwise.
func (s *service) ListLoans(ctx context.Context, viewer *model.User) ([]model.Loan, error) {
	if !viewer.Permissions.Staff() {
		return s.LoansOfUser(ctx, viewer, viewer.ID, false)
	}
	loans, err := s.repo.Loans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	return loans, nil
}

func (s *service) GetLoan(ctx context.Context, viewer *model.User, id uuid.UUID) (*model.Loan, error) {
	loan, ok, err := s.repo.LoanByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	if !ok {
		return nil, ErrLoanNotFound
	}
	if loan.UserID != viewer.ID && !viewer.Permissions.Staff() {
		return nil, ErrForbidden
	}
	return &loan, nil
}

// LoansOfUser lists a user's loans, BORROWED first, then RESERVED, then
// RETURNED, newest first within each group. Only staff may look at other
// users.
func (s *service) LoansOfUser(ctx context.Context, viewer *model.User, userID uuid.UUID, activeOnly bool) ([]model.Loan, error) {
	if viewer.ID != userID && !viewer.Permissions.Staff() {
		return nil, ErrForbidden
	}

	loans, err := s.repo.LoansOfUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans of user: %w", err)
	}
	if activeOnly {
		loans = slices.DeleteFunc(loans, func(l model.Loan) bool { return !l.Status.Active() })
	}

	slices.SortStableFunc(loans, func(a, b model.Loan) int {
		if c := cmp.Compare(statusRank(a.Status), statusRank(b.Status)); c != 0 {
			return c
		}
		return b.BorrowDate.Compare(a.BorrowDate)
	})
	return loans, nil
}

// ActiveLoanForBook returns the caller's active loan of a book, preferring a
// BORROWED loan over a scheduled one.
func (s *service) ActiveLoanForBook(ctx context.Context, user *model.User, bookID uuid.UUID) (*model.Loan, error) {
	loan, ok, err := s.activeLoan(ctx, user.ID, bookID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLoanNotFound
	}
	return &loan, nil
}

// ListReservations returns every reservation to staff and the caller's own
// otherwise.
func (s *service) ListReservations(ctx context.Context, viewer *model.User) ([]model.Reservation, error) {
	if !viewer.Permissions.Staff() {
		return s.ReservationsOfUser(ctx, viewer, viewer.ID)
	}
	reservations, err := s.repo.Reservations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return reservations, nil
}

func (s *service) GetReservation(ctx context.Context, viewer *model.User, id uuid.UUID) (*model.Reservation, error) {
	r, ok, err := s.repo.ReservationByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	if !ok {
		return nil, ErrReservationNotFound
	}
	if r.UserID != viewer.ID && !viewer.Permissions.Staff() {
		return nil, ErrForbidden
	}
	return &r, nil
}

func (s *service) ReservationsOfUser(ctx context.Context, viewer *model.User, userID uuid.UUID) ([]model.Reservation, error) {
	if viewer.ID != userID && !viewer.Permissions.Staff() {
		return nil, ErrForbidden
	}
	reservations, err := s.repo.ReservationsOfUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations of user: %w", err)
	}
	return reservations, nil
}

func statusRank(s model.LoanStatus) int {
	switch s {
	case model.LoanBorrowed:
		return 0
	case model.LoanReserved:
		return 1
	default:
		return 2
	}
}
