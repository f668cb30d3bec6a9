package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"bibliotheca/internal/model"
)

type reservationRow struct {
	ID         uuid.UUID `db:"id"`
	BookID     uuid.UUID `db:"book_id"`
	CopyID     uuid.UUID `db:"copy_id"`
	LoanID     uuid.UUID `db:"loan_id"`
	UserID     uuid.UUID `db:"user_id"`
	StartDate  timestamp `db:"start_date"`
	ReturnDate timestamp `db:"return_date"`
	Status     string    `db:"status"`
	CreatedAt  timestamp `db:"created_at"`
}

// ListReservations returns every reservation in creation order.
func (s *Store) ListReservations(ctx context.Context) ([]model.Reservation, error) {
	var rows []reservationRow
	if err := s.list(ctx, "reservations", &rows, `
		SELECT id, book_id, copy_id, loan_id, user_id, start_date, return_date, status, created_at
		FROM reservations
		ORDER BY created_at, id
	`); err != nil {
		return nil, err
	}

	out := make([]model.Reservation, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Reservation{
			ID:         r.ID,
			BookID:     r.BookID,
			CopyID:     r.CopyID,
			LoanID:     r.LoanID,
			UserID:     r.UserID,
			StartDate:  r.StartDate.Time(),
			ReturnDate: r.ReturnDate.Time(),
			Status:     model.ReservationStatus(r.Status),
			CreatedAt:  r.CreatedAt.Time(),
		})
	}
	return out, nil
}

// InsertReservation creates a reservation. A second ACTIVE reservation for
// the same user and book is rejected by a partial unique index.
func (s *Store) InsertReservation(ctx context.Context, q Querier, r *model.Reservation) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO reservations (id, book_id, copy_id, loan_id, user_id, start_date, return_date, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), r.ID, r.BookID, r.CopyID, r.LoanID, r.UserID, ts(r.StartDate), ts(r.ReturnDate),
		string(r.Status), ts(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// TransitionReservation moves a reservation from one status to another.
func (s *Store) TransitionReservation(ctx context.Context, q Querier, id uuid.UUID, from, to model.ReservationStatus) error {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE reservations SET status = ? WHERE id = ? AND status = ?
	`), string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("update reservation: %w", err)
	}
	return expectOne(res, "reservation "+id.String())
}
