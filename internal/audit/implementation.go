// internal/audit/implementation.go
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bibliotheca/internal/circulation"
	"bibliotheca/internal/ledger"
	"bibliotheca/internal/model"
	"bibliotheca/internal/repository"
	"bibliotheca/internal/store"
)

// service implements the Service interface.
type service struct {
	repo   *repository.Repository
	ledger *ledger.Log
	tracer trace.Tracer
	now    func() time.Time
}

// Option customizes the service.
type Option func(*service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a new audit service instance.
func NewService(repo *repository.Repository, lg *ledger.Log, opts ...Option) Service {
	s := &service{
		repo:   repo,
		ledger: lg,
		tracer: otel.Tracer("bibliotheca/audit"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// expected holds the values a book's denormalized fields must have.
type expected struct {
	total, available, timesBorrowed int
	countRating, sumRating          int
	averageRating                   float64
	availability                    model.Availability
}

// fix is one field comparison and the mutation that corrects it.
type fix struct {
	field string
	flag  *bool
	was   any
	now   any
	apply func(*model.Book)
}

// ValidateDatabase recomputes every book's counters from the store and
// rewrites the ones that diverge. Each correction is committed before the
// next is attempted, so a failure leaves earlier fixes in place and none
// half-applied.
func (s *service) ValidateDatabase(ctx context.Context) (*Report, error) {
	ctx, span := s.tracer.Start(ctx, "audit.validate_database")
	defer span.End()

	st := s.repo.Store()
	books, err := st.ListBooks(ctx)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to list books: %w", err))
	}
	copies, err := st.ListCopies(ctx)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to list copies: %w", err))
	}
	loans, err := st.ListLoans(ctx)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to list loans: %w", err))
	}

	want := make(map[uuid.UUID]*expected, len(books))
	for _, b := range books {
		want[b.ID] = &expected{}
	}

	report := &Report{
		IsValidTotalCopies:     true,
		IsValidAvailableCopies: true,
		IsValidAvailability:    true,
		IsValidTimesBorrowed:   true,
		IsValidAverageRating:   true,
		BooksChecked:           len(books),
		Corrections:            []Correction{},
		OrphanCopies:           []uuid.UUID{},
	}

	for _, c := range copies {
		e, ok := want[c.BookID]
		if !ok {
			report.OrphanCopies = append(report.OrphanCopies, c.ID)
			continue
		}
		e.total++
		if c.Status == model.CopyAvailable {
			e.available++
		}
	}
	for _, l := range loans {
		e, ok := want[l.BookID]
		if !ok {
			continue
		}
		e.timesBorrowed++
		if l.Status == model.LoanReturned && l.Rating != nil {
			e.countRating++
			e.sumRating += *l.Rating
		}
	}

	for i := range books {
		book := &books[i]
		e := want[book.ID]
		e.availability = circulation.AvailabilityFor(e.available)
		e.averageRating = circulation.AverageRating(e.sumRating, e.countRating)

		for _, f := range fixesFor(report, book, e) {
			if err := s.correct(ctx, book, f); err != nil {
				return nil, s.fail(span, err)
			}
			report.Corrections = append(report.Corrections, Correction{
				BookID: book.ID,
				Field:  f.field,
				Was:    f.was,
				Now:    f.now,
			})
		}
	}

	if len(report.Corrections) > 0 {
		if err := s.repo.Reset(ctx, repository.KindBook); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("cache reset failed")
		}
	}

	span.SetAttributes(
		attribute.Int("books.checked", report.BooksChecked),
		attribute.Int("corrections", len(report.Corrections)),
		attribute.Int("orphan.copies", len(report.OrphanCopies)),
	)
	evt := log.Ctx(ctx).Info()
	if !report.Valid() {
		evt = log.Ctx(ctx).Warn()
	}
	evt.Int("books", report.BooksChecked).
		Int("corrections", len(report.Corrections)).
		Int("orphan_copies", len(report.OrphanCopies)).
		Msg("database validated")

	return report, nil
}

func fixesFor(r *Report, b *model.Book, e *expected) []fix {
	var fixes []fix
	if b.TotalCopies != e.total {
		fixes = append(fixes, fix{"total_copies", &r.IsValidTotalCopies, b.TotalCopies, e.total,
			func(b *model.Book) { b.TotalCopies = e.total }})
	}
	if b.AvailableCopies != e.available {
		fixes = append(fixes, fix{"available_copies", &r.IsValidAvailableCopies, b.AvailableCopies, e.available,
			func(b *model.Book) { b.AvailableCopies = e.available }})
	}
	if b.Availability != e.availability {
		fixes = append(fixes, fix{"availability", &r.IsValidAvailability, b.Availability, e.availability,
			func(b *model.Book) { b.Availability = e.availability }})
	}
	if b.TimesBorrowed != e.timesBorrowed {
		fixes = append(fixes, fix{"times_borrowed", &r.IsValidTimesBorrowed, b.TimesBorrowed, e.timesBorrowed,
			func(b *model.Book) { b.TimesBorrowed = e.timesBorrowed }})
	}
	if b.CountRating != e.countRating {
		fixes = append(fixes, fix{"count_rating", &r.IsValidAverageRating, b.CountRating, e.countRating,
			func(b *model.Book) { b.CountRating = e.countRating }})
	}
	if b.SumRating != e.sumRating {
		fixes = append(fixes, fix{"sum_rating", &r.IsValidAverageRating, b.SumRating, e.sumRating,
			func(b *model.Book) { b.SumRating = e.sumRating }})
	}
	if b.AverageRating != e.averageRating {
		fixes = append(fixes, fix{"average_rating", &r.IsValidAverageRating, b.AverageRating, e.averageRating,
			func(b *model.Book) { b.AverageRating = e.averageRating }})
	}
	return fixes
}

// correct persists one field fix together with its ledger entry. book is
// updated in place, including its version, only when the write commits.
func (s *service) correct(ctx context.Context, book *model.Book, f fix) error {
	event, err := ledger.NewEvent(ledger.BookCorrected, circulation.CorrectionEvent{
		Field: f.field,
		Was:   f.was,
		Now:   f.now,
	})
	if err != nil {
		return err
	}
	event = event.WithMetadata(map[string]any{"actor": "audit", "at": s.now().UTC().Format(time.RFC3339)})

	next := *book
	f.apply(&next)

	st := s.repo.Store()
	err = st.WithTx(ctx, func(q store.Querier) error {
		if err := st.UpdateBook(ctx, q, &next); err != nil {
			return err
		}
		return s.ledger.Append(ctx, q, book.ID, ledger.AggregateBook, event)
	})
	if err != nil {
		return fmt.Errorf("failed to correct %s of book %s: %w", f.field, book.ID, err)
	}

	*book = next
	*f.flag = false
	log.Ctx(ctx).Info().
		Str("book_id", book.ID.String()).
		Str("field", f.field).
		Interface("was", f.was).
		Interface("now", f.now).
		Msg("book field corrected")
	return nil
}

func (s *service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
