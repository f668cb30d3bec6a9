package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"bibliotheca/internal/model"
)

type copyRow struct {
	ID        uuid.UUID `db:"id"`
	BookID    uuid.UUID `db:"book_id"`
	Status    string    `db:"status"`
	Version   int       `db:"version"`
	CreatedAt timestamp `db:"created_at"`
}

// ListCopies returns every copy in creation order, which is the order the
// engine scans when picking a copy to lend.
func (s *Store) ListCopies(ctx context.Context) ([]model.Copy, error) {
	var rows []copyRow
	if err := s.list(ctx, "copies", &rows, `
		SELECT id, book_id, status, version, created_at
		FROM copies
		ORDER BY created_at, id
	`); err != nil {
		return nil, err
	}

	copies := make([]model.Copy, 0, len(rows))
	for _, r := range rows {
		copies = append(copies, model.Copy{
			ID:        r.ID,
			BookID:    r.BookID,
			Status:    model.CopyStatus(r.Status),
			Version:   r.Version,
			CreatedAt: r.CreatedAt.Time(),
		})
	}
	return copies, nil
}

// InsertCopy creates a copy at version 1.
func (s *Store) InsertCopy(ctx context.Context, q Querier, c *model.Copy) error {
	c.Version = 1
	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO copies (id, book_id, status, version, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), c.ID, c.BookID, string(c.Status), c.Version, ts(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert copy: %w", err)
	}
	return nil
}

// UpdateCopyStatus moves c to status if the row is still at c.Version.
func (s *Store) UpdateCopyStatus(ctx context.Context, q Querier, c *model.Copy, status model.CopyStatus) error {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE copies
		SET status = ?, version = version + 1
		WHERE id = ? AND version = ?
	`), string(status), c.ID, c.Version)
	if err != nil {
		return fmt.Errorf("update copy: %w", err)
	}
	if err := expectOne(res, "copy "+c.ID.String()); err != nil {
		return err
	}
	c.Status = status
	c.Version++
	return nil
}
