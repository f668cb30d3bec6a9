// internal/circulation/domain.go
package circulation

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bibliotheca/internal/apperr"
	"bibliotheca/internal/model"
)

var (
	ErrBookNotFound        = apperr.New(apperr.KindNotFound, "book_not_found", "book not found")
	ErrLoanNotFound        = apperr.New(apperr.KindNotFound, "borrow_record_not_found", "borrow record not found")
	ErrReservationNotFound = apperr.New(apperr.KindNotFound, "reservation_not_found", "reservation not found")
	ErrNoCopyAvailable     = apperr.New(apperr.KindNotFound, "no_copy_available", "no copy of this book is available")
	ErrAlreadyBorrowed     = apperr.New(apperr.KindConflict, "already_borrowed", "you already borrowed this book")
	ErrNoNeedToReserve     = apperr.New(apperr.KindConflict, "no_need_to_reserve", "a copy is available, borrow it instead")
	ErrAlreadyReserved     = apperr.New(apperr.KindConflict, "already_reserved", "you already reserved this book")
	ErrNoBorrowEntry       = apperr.New(apperr.KindValidation, "no_borrow_entry", "you have not borrowed this book")
	ErrNotReturned         = apperr.New(apperr.KindConflict, "not_returned", "only returned books can be rated")
	ErrAlreadyRated        = apperr.New(apperr.KindConflict, "already_rated", "this borrow record is already rated")
	ErrNoPermission        = apperr.New(apperr.KindPermission, "no_permission", "your role may not borrow books")
	ErrForbidden           = apperr.New(apperr.KindPermission, "forbidden", "insufficient permissions")
	ErrConflict            = apperr.New(apperr.KindConflict, "conflict", "the record was changed concurrently, please retry")
)

// MaxScheduleAhead bounds how far in the future a borrow may be scheduled.
const MaxScheduleAhead = 365 * 24 * time.Hour

// LoanDuration returns how long a role may keep a book.
func LoanDuration(p model.Permission) (time.Duration, error) {
	const day = 24 * time.Hour
	switch p {
	case model.Admin:
		return 365 * day, nil
	case model.Employee, model.Professor:
		return 60 * day, nil
	case model.Student:
		return 30 * day, nil
	default:
		return 0, ErrNoPermission
	}
}

// AvailabilityFor derives a book's availability from its available count.
func AvailabilityFor(available int) model.Availability {
	if available > 0 {
		return model.Available
	}
	return model.NotAvailable
}

// AverageRating is sum/count rounded to one decimal, or zero without ratings.
func AverageRating(sum, count int) float64 {
	if count == 0 {
		return 0
	}
	avg, _ := decimal.NewFromInt(int64(sum)).
		DivRound(decimal.NewFromInt(int64(count)), 1).
		Float64()
	return avg
}

// BorrowInput is the body of a borrow request. A future StartDate schedules
// the loan instead of starting it now.
type BorrowInput struct {
	BookID    uuid.UUID  `json:"bookId"`
	StartDate *time.Time `json:"startDate,omitempty"`
}

// BookInput names the book of a return or reserve request.
type BookInput struct {
	BookID uuid.UUID `json:"bookId"`
}

// RateInput is the body of a rate request.
type RateInput struct {
	Rating int `json:"rating"`
}

// ReturnResult reports the outcome of a return.
type ReturnResult struct {
	Loan    model.Loan `json:"borrowRecord"`
	Overdue bool       `json:"overdue"`
}

// LoanEvent is recorded when a loan is created, promoted or returned.
type LoanEvent struct {
	LoanID  uuid.UUID        `json:"loan_id"`
	CopyID  uuid.UUID        `json:"copy_id"`
	UserID  uuid.UUID        `json:"user_id"`
	Status  model.LoanStatus `json:"status"`
	Start   time.Time        `json:"borrow_date"`
	Due     time.Time        `json:"due_date"`
	Overdue bool             `json:"overdue,omitempty"`
}

// ReservationEvent is recorded on every reservation transition.
type ReservationEvent struct {
	ReservationID uuid.UUID               `json:"reservation_id"`
	CopyID        uuid.UUID               `json:"copy_id"`
	LoanID        uuid.UUID               `json:"loan_id"`
	UserID        uuid.UUID               `json:"user_id"`
	Status        model.ReservationStatus `json:"status"`
	StartDate     time.Time               `json:"start_date"`
}

// RatingEvent is recorded when a returned loan is rated.
type RatingEvent struct {
	LoanID        uuid.UUID `json:"loan_id"`
	UserID        uuid.UUID `json:"user_id"`
	Rating        int       `json:"rating"`
	AverageRating float64   `json:"average_rating"`
}

// CorrectionEvent is recorded when a denormalized book field is rewritten to
// match the copies and loans it summarizes.
type CorrectionEvent struct {
	Field string `json:"field"`
	Was   any    `json:"was"`
	Now   any    `json:"now"`
}

// Validate checks the borrow input.
func (in BorrowInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.BookID, validation.By(requireID)),
	)
}

// Validate checks the book input.
func (in BookInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.BookID, validation.By(requireID)),
	)
}

func requireID(value any) error {
	if id, _ := value.(uuid.UUID); id == uuid.Nil {
		return errors.New("is required")
	}
	return nil
}
