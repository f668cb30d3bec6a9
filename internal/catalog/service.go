// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"

	"bibliotheca/internal/ledger"
	"bibliotheca/internal/model"
)

// Service defines the interface for the catalog service.
type Service interface {
	ListBooks(ctx context.Context) ([]model.Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*model.Book, error)
	BooksByAuthor(ctx context.Context, author string) ([]model.Book, error)
	Search(ctx context.Context, query string) ([]model.Book, error)
	AddBook(ctx context.Context, viewer *model.User, in AddBookInput) (*model.Book, []model.Copy, error)
	History(ctx context.Context, bookID uuid.UUID) ([]ledger.Event, error)

	ListCopies(ctx context.Context) ([]model.Copy, error)
	GetCopy(ctx context.Context, id uuid.UUID) (*model.Copy, error)
	CopiesOfBook(ctx context.Context, bookID uuid.UUID) ([]model.Copy, error)
}
