package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bibliotheca/internal/model"
)

type loanRow struct {
	ID         uuid.UUID     `db:"id"`
	CopyID     uuid.UUID     `db:"copy_id"`
	BookID     uuid.UUID     `db:"book_id"`
	UserID     uuid.UUID     `db:"user_id"`
	BorrowDate timestamp     `db:"borrow_date"`
	ReturnDate timestamp     `db:"return_date"`
	Status     string        `db:"status"`
	Rating     sql.NullInt64 `db:"rating"`
	CreatedAt  timestamp     `db:"created_at"`
}

func (r loanRow) model() model.Loan {
	l := model.Loan{
		ID:         r.ID,
		CopyID:     r.CopyID,
		BookID:     r.BookID,
		UserID:     r.UserID,
		BorrowDate: r.BorrowDate.Time(),
		ReturnDate: r.ReturnDate.Time(),
		Status:     model.LoanStatus(r.Status),
		CreatedAt:  r.CreatedAt.Time(),
	}
	if r.Rating.Valid {
		rating := int(r.Rating.Int64)
		l.Rating = &rating
	}
	return l
}

// ListLoans returns every loan in creation order.
func (s *Store) ListLoans(ctx context.Context) ([]model.Loan, error) {
	var rows []loanRow
	if err := s.list(ctx, "loans", &rows, `
		SELECT id, copy_id, book_id, user_id, borrow_date, return_date, status, rating, created_at
		FROM loans
		ORDER BY created_at, id
	`); err != nil {
		return nil, err
	}

	loans := make([]model.Loan, 0, len(rows))
	for _, r := range rows {
		loans = append(loans, r.model())
	}
	return loans, nil
}

// InsertLoan creates a loan. The partial unique indexes reject a second
// active loan on the same copy or for the same user and book.
func (s *Store) InsertLoan(ctx context.Context, q Querier, l *model.Loan) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO loans (id, copy_id, book_id, user_id, borrow_date, return_date, status, rating, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), l.ID, l.CopyID, l.BookID, l.UserID, ts(l.BorrowDate), ts(l.ReturnDate),
		string(l.Status), nullRating(l.Rating), ts(l.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert loan: %w", err)
	}
	return nil
}

// ReturnLoan closes a BORROWED loan with the actual return time.
func (s *Store) ReturnLoan(ctx context.Context, q Querier, l *model.Loan, at time.Time) error {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE loans
		SET status = ?, return_date = ?
		WHERE id = ? AND status = ?
	`), string(model.LoanReturned), ts(at), l.ID, string(model.LoanBorrowed))
	if err != nil {
		return fmt.Errorf("return loan: %w", err)
	}
	if err := expectOne(res, "loan "+l.ID.String()); err != nil {
		return err
	}
	l.Status = model.LoanReturned
	l.ReturnDate = at
	return nil
}

// HoldLoan asserts inside q's transaction that the loan is still BORROWED
// or RESERVED, returning ErrConflict otherwise. On Postgres the no-op write
// also locks the row until commit.
func (s *Store) HoldLoan(ctx context.Context, q Querier, id uuid.UUID) error {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE loans SET status = status WHERE id = ? AND status IN (?, ?)
	`), id, string(model.LoanBorrowed), string(model.LoanReserved))
	if err != nil {
		return fmt.Errorf("hold loan: %w", err)
	}
	return expectOne(res, "loan "+id.String())
}

// PromoteLoan flips a RESERVED loan to BORROWED.
func (s *Store) PromoteLoan(ctx context.Context, q Querier, id uuid.UUID) error {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE loans SET status = ? WHERE id = ? AND status = ?
	`), string(model.LoanBorrowed), id, string(model.LoanReserved))
	if err != nil {
		return fmt.Errorf("promote loan: %w", err)
	}
	return expectOne(res, "loan "+id.String())
}

// RateLoan records a rating on a RETURNED loan that has none yet.
func (s *Store) RateLoan(ctx context.Context, q Querier, id uuid.UUID, rating int) error {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE loans SET rating = ?
		WHERE id = ? AND status = ? AND rating IS NULL
	`), rating, id, string(model.LoanReturned))
	if err != nil {
		return fmt.Errorf("rate loan: %w", err)
	}
	return expectOne(res, "loan "+id.String())
}

func nullRating(r *int) sql.NullInt64 {
	if r == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*r), Valid: true}
}
