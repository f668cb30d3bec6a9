package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"bibliotheca/internal/model"
)

type bookRow struct {
	ID              uuid.UUID `db:"id"`
	Title           string    `db:"title"`
	Author          string    `db:"author"`
	ISBN            string    `db:"isbn"`
	Publisher       string    `db:"publisher"`
	Description     string    `db:"description"`
	Year            int       `db:"year"`
	TotalCopies     int       `db:"total_copies"`
	AvailableCopies int       `db:"available_copies"`
	TimesBorrowed   int       `db:"times_borrowed"`
	AverageRating   float64   `db:"average_rating"`
	CountRating     int       `db:"count_rating"`
	SumRating       int       `db:"sum_rating"`
	Availability    string    `db:"availability"`
	Version         int       `db:"version"`
	CreatedAt       timestamp `db:"created_at"`
}

func (r bookRow) model() model.Book {
	return model.Book{
		ID:              r.ID,
		Title:           r.Title,
		Author:          r.Author,
		ISBN:            r.ISBN,
		Publisher:       r.Publisher,
		Description:     r.Description,
		Year:            r.Year,
		TotalCopies:     r.TotalCopies,
		AvailableCopies: r.AvailableCopies,
		TimesBorrowed:   r.TimesBorrowed,
		AverageRating:   r.AverageRating,
		CountRating:     r.CountRating,
		SumRating:       r.SumRating,
		Availability:    model.Availability(r.Availability),
		Version:         r.Version,
		CreatedAt:       r.CreatedAt.Time(),
	}
}

// ListBooks returns every book in creation order.
func (s *Store) ListBooks(ctx context.Context) ([]model.Book, error) {
	var rows []bookRow
	err := s.list(ctx, "books", &rows, `
		SELECT id, title, author, isbn, publisher, description, year, total_copies,
		       available_copies, times_borrowed, average_rating, count_rating, sum_rating,
		       availability, version, created_at
		FROM books
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}

	books := make([]model.Book, 0, len(rows))
	for _, r := range rows {
		books = append(books, r.model())
	}
	return books, nil
}

// InsertBook creates a book at version 1.
func (s *Store) InsertBook(ctx context.Context, q Querier, b *model.Book) error {
	b.Version = 1
	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO books (id, title, author, isbn, publisher, description, year, total_copies,
		                   available_copies, times_borrowed, average_rating, count_rating, sum_rating,
		                   availability, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), b.ID, b.Title, b.Author, b.ISBN, b.Publisher, b.Description, b.Year, b.TotalCopies,
		b.AvailableCopies, b.TimesBorrowed, b.AverageRating, b.CountRating, b.SumRating,
		string(b.Availability), b.Version, ts(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

// UpdateBook persists the denormalized counters of b if the row is still at
// b.Version, then advances b.Version.
func (s *Store) UpdateBook(ctx context.Context, q Querier, b *model.Book) error {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE books
		SET total_copies = ?, available_copies = ?, times_borrowed = ?, average_rating = ?,
		    count_rating = ?, sum_rating = ?, availability = ?, version = version + 1
		WHERE id = ? AND version = ?
	`), b.TotalCopies, b.AvailableCopies, b.TimesBorrowed, b.AverageRating,
		b.CountRating, b.SumRating, string(b.Availability), b.ID, b.Version)
	if err != nil {
		return fmt.Errorf("update book: %w", err)
	}
	if err := expectOne(res, "book "+b.ID.String()); err != nil {
		return err
	}
	b.Version++
	return nil
}
