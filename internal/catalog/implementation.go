// internal/catalog/implementation.go
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"bibliotheca/internal/apperr"
	"bibliotheca/internal/ledger"
	"bibliotheca/internal/model"
	"bibliotheca/internal/repository"
	"bibliotheca/internal/store"
)

// service implements the Service interface.
type service struct {
	repo   *repository.Repository
	ledger *ledger.Log
	now    func() time.Time
}

// NewService creates a new catalog service instance.
func NewService(repo *repository.Repository, lg *ledger.Log) Service {
	return &service{
		repo:   repo,
		ledger: lg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) ListBooks(ctx context.Context) ([]model.Book, error) {
	books, err := s.repo.Books(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

// GetBook retrieves a book from the catalog by its ID.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*model.Book, error) {
	book, ok, err := s.repo.BookByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	if !ok {
		return nil, ErrBookNotFound
	}
	return &book, nil
}

func (s *service) BooksByAuthor(ctx context.Context, author string) ([]model.Book, error) {
	books, err := s.repo.BooksByAuthor(ctx, strings.TrimSpace(author))
	if err != nil {
		return nil, fmt.Errorf("failed to list books by author: %w", err)
	}
	return books, nil
}

// Search matches the query against title, author and ISBN.
func (s *service) Search(ctx context.Context, query string) ([]model.Book, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	books, err := s.repo.SearchBooks(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search books: %w", err)
	}
	return books, nil
}

// AddBook creates a book with its copies in one transaction and records a
// BookAdded event on the book's history.
func (s *service) AddBook(ctx context.Context, viewer *model.User, in AddBookInput) (*model.Book, []model.Copy, error) {
	if viewer == nil || viewer.Permissions != model.Admin {
		return nil, nil, ErrForbidden
	}

	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, nil, apperr.Invalid(err)
	}

	now := s.now()
	book := &model.Book{
		ID:              uuid.New(),
		Title:           in.Title,
		Author:          in.Author,
		ISBN:            in.ISBN,
		Publisher:       in.Publisher,
		Description:     in.Description,
		Year:            in.Year,
		TotalCopies:     in.Copies,
		AvailableCopies: in.Copies,
		Availability:    model.Available,
		CreatedAt:       now,
	}

	copies := make([]model.Copy, in.Copies)
	ids := make([]uuid.UUID, in.Copies)
	for i := range copies {
		copies[i] = model.Copy{
			ID:     uuid.New(),
			BookID: book.ID,
			Status: model.CopyAvailable,
			// Distinct creation times keep copy order stable.
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
		}
		ids[i] = copies[i].ID
	}

	event, err := ledger.NewEvent(ledger.BookAdded, BookAddedEvent{
		BookID:  book.ID,
		Title:   book.Title,
		ISBN:    book.ISBN,
		CopyIDs: ids,
	})
	if err != nil {
		return nil, nil, err
	}
	event = event.WithMetadata(map[string]any{"user_id": viewer.ID.String()})

	st := s.repo.Store()
	err = st.WithTx(ctx, func(q store.Querier) error {
		if err := st.InsertBook(ctx, q, book); err != nil {
			return err
		}
		for i := range copies {
			if err := st.InsertCopy(ctx, q, &copies[i]); err != nil {
				return err
			}
		}
		return s.ledger.Append(ctx, q, book.ID, ledger.AggregateBook, event)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to add book: %w", err)
	}

	if err := s.repo.Reset(ctx, repository.KindBook, repository.KindCopy); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("cache reset failed")
	}

	log.Ctx(ctx).Info().
		Str("book_id", book.ID.String()).
		Int("copies", len(copies)).
		Msg("book added")

	return book, copies, nil
}

// History lists the recorded events of a book, oldest first.
func (s *service) History(ctx context.Context, bookID uuid.UUID) ([]ledger.Event, error) {
	if _, err := s.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	events, err := s.ledger.Load(ctx, bookID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load book history: %w", err)
	}
	return events, nil
}

func (s *service) ListCopies(ctx context.Context) ([]model.Copy, error) {
	copies, err := s.repo.Copies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list copies: %w", err)
	}
	return copies, nil
}

func (s *service) GetCopy(ctx context.Context, id uuid.UUID) (*model.Copy, error) {
	c, ok, err := s.repo.CopyByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get copy: %w", err)
	}
	if !ok {
		return nil, ErrCopyNotFound
	}
	return &c, nil
}

func (s *service) CopiesOfBook(ctx context.Context, bookID uuid.UUID) ([]model.Copy, error) {
	if _, err := s.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	copies, err := s.repo.CopiesOfBook(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list copies of book: %w", err)
	}
	return copies, nil
}
