// internal/audit/domain.go
package audit

import (
	"github.com/google/uuid"
)

// Report is the outcome of a consistency sweep. A false flag means at least
// one book carried a wrong value for that field; the value has since been
// corrected.
type Report struct {
	IsValidTotalCopies     bool         `json:"isValidTotalCopies"`
	IsValidAvailableCopies bool         `json:"isValidAvailableCopies"`
	IsValidAvailability    bool         `json:"isValidAvailability"`
	IsValidTimesBorrowed   bool         `json:"isValidTimesBorrowed"`
	IsValidAverageRating   bool         `json:"isValidAverageRating"`
	BooksChecked           int          `json:"booksChecked"`
	Corrections            []Correction `json:"corrections"`
	OrphanCopies           []uuid.UUID  `json:"orphanCopies"`
}

// Valid reports whether the sweep found nothing to correct.
func (r *Report) Valid() bool {
	return r.IsValidTotalCopies && r.IsValidAvailableCopies && r.IsValidAvailability &&
		r.IsValidTimesBorrowed && r.IsValidAverageRating && len(r.OrphanCopies) == 0
}

// Correction is one persisted fix.
type Correction struct {
	BookID uuid.UUID `json:"book_id"`
	Field  string    `json:"field"`
	Was    any       `json:"was"`
	Now    any       `json:"now"`
}
