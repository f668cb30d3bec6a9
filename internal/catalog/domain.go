// internal/catalog/domain.go
package catalog

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"

	"bibliotheca/internal/apperr"
)

var (
	ErrBookNotFound = apperr.New(apperr.KindNotFound, "book_not_found", "book not found")
	ErrCopyNotFound = apperr.New(apperr.KindNotFound, "copy_not_found", "book copy not found")
	ErrForbidden    = apperr.New(apperr.KindPermission, "forbidden", "only administrators may add books")
	ErrEmptyQuery   = apperr.New(apperr.KindValidation, "empty_query", "search query is required")
)

// AddBookInput is the body of an add-book request.
type AddBookInput struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	ISBN        string `json:"isbn"`
	Publisher   string `json:"publisher,omitempty"`
	Description string `json:"description,omitempty"`
	Year        int    `json:"year,omitempty"`
	Copies      int    `json:"copies"`
}

func (in *AddBookInput) normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.ISBN = strings.TrimSpace(in.ISBN)
	in.Publisher = strings.TrimSpace(in.Publisher)
	in.Description = strings.TrimSpace(in.Description)
}

// Validate checks the add-book input.
func (in AddBookInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required.Error("title is required"), validation.Length(1, 300)),
		validation.Field(&in.Author, validation.Length(0, 200)),
		validation.Field(&in.ISBN, validation.Required.Error("isbn is required"), is.ISBN),
		validation.Field(&in.Year, validation.Min(0), validation.Max(3000)),
		validation.Field(&in.Copies, validation.Required.Error("at least one copy is required"), validation.Min(1), validation.Max(500)),
	)
}

// BookAddedEvent is recorded when a book enters the catalog.
type BookAddedEvent struct {
	BookID  uuid.UUID   `json:"book_id"`
	Title   string      `json:"title"`
	ISBN    string      `json:"isbn"`
	CopyIDs []uuid.UUID `json:"copy_ids"`
}
