// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"bibliotheca/internal/apperr"
	"bibliotheca/internal/ledger"
	"bibliotheca/internal/model"
	"bibliotheca/internal/repository"
	"bibliotheca/internal/store"
)

// service implements the Service interface.
type service struct {
	repo    *repository.Repository
	ledger  *ledger.Log
	metrics *metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option customizes the service.
type Option func(*service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a new circulation service instance.
func NewService(repo *repository.Repository, lg *ledger.Log, opts ...Option) (Service, error) {
	m, err := newMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create circulation metrics: %w", err)
	}
	s := &service{
		repo:    repo,
		ledger:  lg,
		metrics: m,
		tracer:  otel.Tracer("bibliotheca/circulation"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Borrow lends the first available copy of a book to user. A startAt in the
// future schedules the loan: it is stored RESERVED, holds the copy, and is
// promoted to BORROWED once its start has passed.
func (s *service) Borrow(ctx context.Context, user *model.User, bookID uuid.UUID, startAt *time.Time) (*model.Loan, error) {
	ctx, span := s.start(ctx, "circulation.borrow", user, bookID)
	defer span.End()

	if _, err := s.PromoteDueReservations(ctx); err != nil {
		return nil, err
	}

	now := s.now()
	scheduled := startAt != nil && startAt.After(now)
	if scheduled && startAt.Sub(now) > MaxScheduleAhead {
		return nil, apperr.Invalidf("startDate may be at most one year ahead")
	}

	book, err := s.book(ctx, bookID)
	if err != nil {
		return nil, err
	}

	if _, held, err := s.activeLoan(ctx, user.ID, bookID); err != nil {
		return nil, err
	} else if held {
		return nil, ErrAlreadyBorrowed
	}

	cp, found, err := s.firstAvailableCopy(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if !found {
		s.healAvailability(ctx, &book)
		return nil, ErrNoCopyAvailable
	}

	duration, err := LoanDuration(user.Permissions)
	if err != nil {
		return nil, err
	}

	loan := &model.Loan{
		ID:         uuid.New(),
		CopyID:     cp.ID,
		BookID:     book.ID,
		UserID:     user.ID,
		BorrowDate: now,
		Status:     model.LoanBorrowed,
		CreatedAt:  now,
	}
	eventType := ledger.LoanBorrowed
	if scheduled {
		loan.BorrowDate = startAt.UTC()
		loan.Status = model.LoanReserved
		eventType = ledger.LoanScheduled
	}
	loan.ReturnDate = loan.BorrowDate.Add(duration)

	book.AvailableCopies = max(book.AvailableCopies-1, 0)
	book.Availability = AvailabilityFor(book.AvailableCopies)
	book.TimesBorrowed++

	fulfilled, err := s.activeReservations(ctx, user.ID, bookID)
	if err != nil {
		return nil, err
	}

	events, err := newEvents(user, eventType, loanEvent(loan, false))
	if err != nil {
		return nil, err
	}
	for _, r := range fulfilled {
		r.Status = model.ReservationFulfilled
		more, err := newEvents(user, ledger.ReservationFulfilled, reservationEvent(&r))
		if err != nil {
			return nil, err
		}
		events = append(events, more...)
	}

	st := s.repo.Store()
	err = st.WithTx(ctx, func(q store.Querier) error {
		if err := st.UpdateCopyStatus(ctx, q, &cp, model.CopyNotAvailable); err != nil {
			return err
		}
		if err := st.InsertLoan(ctx, q, loan); err != nil {
			return err
		}
		if err := st.UpdateBook(ctx, q, &book); err != nil {
			return err
		}
		for _, r := range fulfilled {
			if err := st.TransitionReservation(ctx, q, r.ID, model.ReservationActive, model.ReservationFulfilled); err != nil {
				return err
			}
		}
		return s.ledger.Append(ctx, q, book.ID, ledger.AggregateBook, events...)
	})
	if err != nil {
		return nil, s.fail(ctx, span, "borrow", err)
	}

	kinds := []repository.Kind{repository.KindLoan, repository.KindBook, repository.KindCopy}
	if len(fulfilled) > 0 {
		kinds = append(kinds, repository.KindReservation)
	}
	s.reset(ctx, kinds...)

	s.metrics.borrows.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(loan.Status))))
	log.Ctx(ctx).Info().
		Str("loan_id", loan.ID.String()).
		Str("book_id", book.ID.String()).
		Str("user_id", user.ID.String()).
		Str("status", string(loan.Status)).
		Time("due", loan.ReturnDate).
		Msg("book borrowed")

	return loan, nil
}

// Return closes the user's BORROWED loan of a book and frees its copy.
// Overdue is judged against the due date the loan carried before the return.
func (s *service) Return(ctx context.Context, user *model.User, bookID uuid.UUID) (*ReturnResult, error) {
	ctx, span := s.start(ctx, "circulation.return", user, bookID)
	defer span.End()

	if _, err := s.PromoteDueReservations(ctx); err != nil {
		return nil, err
	}

	book, err := s.book(ctx, bookID)
	if err != nil {
		return nil, err
	}

	loans, err := s.repo.LoansOfUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get loans: %w", err)
	}
	var loan model.Loan
	var found bool
	for _, l := range loans {
		if l.BookID == bookID && l.Status == model.LoanBorrowed {
			loan, found = l, true
			break
		}
	}
	if !found {
		return nil, ErrNoBorrowEntry
	}

	cp, ok, err := s.repo.CopyByID(ctx, loan.CopyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get copy: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("copy %s of loan %s is missing", loan.CopyID, loan.ID)
	}

	now := s.now()
	due := loan.ReturnDate
	overdue := now.After(due)

	book.AvailableCopies++
	book.Availability = model.Available

	event := loanEvent(&loan, overdue)
	event.Status = model.LoanReturned
	events, err := newEvents(user, ledger.LoanReturned, event)
	if err != nil {
		return nil, err
	}

	st := s.repo.Store()
	err = st.WithTx(ctx, func(q store.Querier) error {
		if err := st.UpdateCopyStatus(ctx, q, &cp, model.CopyAvailable); err != nil {
			return err
		}
		if err := st.ReturnLoan(ctx, q, &loan, now); err != nil {
			return err
		}
		if err := st.UpdateBook(ctx, q, &book); err != nil {
			return err
		}
		return s.ledger.Append(ctx, q, book.ID, ledger.AggregateBook, events...)
	})
	if err != nil {
		return nil, s.fail(ctx, span, "return", err)
	}

	s.reset(ctx, repository.KindLoan, repository.KindBook, repository.KindCopy)

	s.metrics.returns.Add(ctx, 1, metric.WithAttributes(attribute.Bool("overdue", overdue)))
	log.Ctx(ctx).Info().
		Str("loan_id", loan.ID.String()).
		Str("book_id", book.ID.String()).
		Str("user_id", user.ID.String()).
		Bool("overdue", overdue).
		Msg("book returned")

	return &ReturnResult{Loan: loan, Overdue: overdue}, nil
}

// Reserve queues user for the copy of a book expected back first. It is only
// allowed while no copy is available.
func (s *service) Reserve(ctx context.Context, user *model.User, bookID uuid.UUID) (*model.Reservation, error) {
	ctx, span := s.start(ctx, "circulation.reserve", user, bookID)
	defer span.End()

	if _, err := s.PromoteDueReservations(ctx); err != nil {
		return nil, err
	}

	book, err := s.book(ctx, bookID)
	if err != nil {
		return nil, err
	}

	if _, held, err := s.activeLoan(ctx, user.ID, bookID); err != nil {
		return nil, err
	} else if held {
		return nil, ErrAlreadyBorrowed
	}

	if _, found, err := s.firstAvailableCopy(ctx, bookID); err != nil {
		return nil, err
	} else if found {
		return nil, ErrNoNeedToReserve
	}
	s.healAvailability(ctx, &book)

	mine, err := s.activeReservations(ctx, user.ID, bookID)
	if err != nil {
		return nil, err
	}
	if len(mine) > 0 {
		return nil, ErrAlreadyReserved
	}

	target, found, err := s.nearestReturn(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoCopyAvailable
	}

	all, err := s.repo.ReservationsOfUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get reservations: %w", err)
	}
	for _, r := range all {
		if r.Status == model.ReservationActive && r.CopyID == target.CopyID {
			return nil, ErrAlreadyReserved
		}
	}

	duration, err := LoanDuration(user.Permissions)
	if err != nil {
		return nil, err
	}

	now := s.now()
	reservation := &model.Reservation{
		ID:         uuid.New(),
		BookID:     bookID,
		CopyID:     target.CopyID,
		LoanID:     target.ID,
		UserID:     user.ID,
		StartDate:  target.ReturnDate,
		ReturnDate: target.ReturnDate.Add(duration),
		Status:     model.ReservationActive,
		CreatedAt:  now,
	}

	events, err := newEvents(user, ledger.ReservationCreated, reservationEvent(reservation))
	if err != nil {
		return nil, err
	}

	// The checks above ran on cached reads. The book write and the loan hold
	// make a return committed since then fail this transaction.
	st := s.repo.Store()
	err = st.WithTx(ctx, func(q store.Querier) error {
		if err := st.UpdateBook(ctx, q, &book); err != nil {
			return err
		}
		if err := st.HoldLoan(ctx, q, target.ID); err != nil {
			return err
		}
		if err := st.InsertReservation(ctx, q, reservation); err != nil {
			return err
		}
		return s.ledger.Append(ctx, q, bookID, ledger.AggregateBook, events...)
	})
	if err != nil {
		return nil, s.fail(ctx, span, "reserve", err)
	}

	s.reset(ctx, repository.KindBook, repository.KindCopy, repository.KindReservation)

	s.metrics.reservations.Add(ctx, 1)
	log.Ctx(ctx).Info().
		Str("reservation_id", reservation.ID.String()).
		Str("book_id", bookID.String()).
		Str("user_id", user.ID.String()).
		Time("start", reservation.StartDate).
		Msg("book reserved")

	return reservation, nil
}

// Rate records the owner's 1..5 rating on a returned loan and folds it into
// the book's rating aggregates. A loan is rated at most once.
func (s *service) Rate(ctx context.Context, user *model.User, loanID uuid.UUID, rating int) (*model.Loan, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.rate", trace.WithAttributes(
		attribute.String("loan.id", loanID.String()),
		attribute.String("user.id", user.ID.String()),
	))
	defer span.End()

	if _, err := s.PromoteDueReservations(ctx); err != nil {
		return nil, err
	}

	if rating < 1 || rating > 5 {
		return nil, apperr.Invalidf("rating must be between 1 and 5")
	}

	loan, ok, err := s.repo.LoanByID(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	if !ok {
		return nil, ErrLoanNotFound
	}
	if loan.UserID != user.ID {
		return nil, ErrForbidden
	}
	if loan.Status != model.LoanReturned {
		return nil, ErrNotReturned
	}
	if loan.Rating != nil {
		return nil, ErrAlreadyRated
	}

	book, err := s.book(ctx, loan.BookID)
	if err != nil {
		return nil, err
	}
	book.SumRating += rating
	book.CountRating++
	book.AverageRating = AverageRating(book.SumRating, book.CountRating)

	events, err := newEvents(user, ledger.LoanRated, RatingEvent{
		LoanID:        loan.ID,
		UserID:        user.ID,
		Rating:        rating,
		AverageRating: book.AverageRating,
	})
	if err != nil {
		return nil, err
	}

	st := s.repo.Store()
	err = st.WithTx(ctx, func(q store.Querier) error {
		if err := st.RateLoan(ctx, q, loan.ID, rating); err != nil {
			return err
		}
		if err := st.UpdateBook(ctx, q, &book); err != nil {
			return err
		}
		return s.ledger.Append(ctx, q, book.ID, ledger.AggregateBook, events...)
	})
	if err != nil {
		return nil, s.fail(ctx, span, "rate", err)
	}

	s.reset(ctx, repository.KindLoan, repository.KindBook)

	loan.Rating = &rating
	return &loan, nil
}

// PromoteDueReservations flips every RESERVED loan whose start has passed to
// BORROWED. Each loan is promoted in its own transaction; a loan promoted
// concurrently by another caller is skipped.
func (s *service) PromoteDueReservations(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.promote")
	defer span.End()

	now := s.now()
	loans, err := s.repo.Loans(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get loans: %w", err)
	}

	st := s.repo.Store()
	promoted := 0
	for _, l := range loans {
		if l.Status != model.LoanReserved || l.BorrowDate.After(now) {
			continue
		}

		event := loanEvent(&l, false)
		event.Status = model.LoanBorrowed
		events, err := newEvents(nil, ledger.LoanPromoted, event)
		if err != nil {
			return promoted, err
		}

		err = st.WithTx(ctx, func(q store.Querier) error {
			if err := st.PromoteLoan(ctx, q, l.ID); err != nil {
				return err
			}
			return s.ledger.Append(ctx, q, l.BookID, ledger.AggregateBook, events...)
		})
		if isConflict(err) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return promoted, fmt.Errorf("failed to promote loan %s: %w", l.ID, err)
		}
		promoted++
	}

	if promoted > 0 {
		s.reset(ctx, repository.KindLoan)
		log.Ctx(ctx).Info().Int("count", promoted).Msg("scheduled loans promoted")
	}
	span.SetAttributes(attribute.Int("loans.promoted", promoted))
	return promoted, nil
}

// ExpireReservations marks ACTIVE reservations whose return date has passed
// as EXPIRED.
func (s *service) ExpireReservations(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.expire")
	defer span.End()

	now := s.now()
	reservations, err := s.repo.Reservations(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get reservations: %w", err)
	}

	st := s.repo.Store()
	expired := 0
	for _, r := range reservations {
		if r.Status != model.ReservationActive || !now.After(r.ReturnDate) {
			continue
		}

		r.Status = model.ReservationExpired
		events, err := newEvents(nil, ledger.ReservationExpired, reservationEvent(&r))
		if err != nil {
			return expired, err
		}

		err = st.WithTx(ctx, func(q store.Querier) error {
			if err := st.TransitionReservation(ctx, q, r.ID, model.ReservationActive, model.ReservationExpired); err != nil {
				return err
			}
			return s.ledger.Append(ctx, q, r.BookID, ledger.AggregateBook, events...)
		})
		if isConflict(err) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return expired, fmt.Errorf("failed to expire reservation %s: %w", r.ID, err)
		}
		expired++
	}

	if expired > 0 {
		s.reset(ctx, repository.KindReservation)
		log.Ctx(ctx).Info().Int("count", expired).Msg("reservations expired")
	}
	span.SetAttributes(attribute.Int("reservations.expired", expired))
	return expired, nil
}

// healAvailability zeroes a stale available count on a book that has no
// available copy. The correction is written on its own and copied into book
// when it commits; failing to write it only logs.
func (s *service) healAvailability(ctx context.Context, book *model.Book) {
	if book.AvailableCopies == 0 && book.Availability != model.Available {
		return
	}

	was := book.AvailableCopies
	event := CorrectionEvent{Field: "available_copies", Was: was, Now: 0}
	next := *book
	next.AvailableCopies = 0
	next.Availability = model.NotAvailable

	events, err := newEvents(nil, ledger.BookCorrected, event)
	if err == nil {
		st := s.repo.Store()
		err = st.WithTx(ctx, func(q store.Querier) error {
			if err := st.UpdateBook(ctx, q, &next); err != nil {
				return err
			}
			return s.ledger.Append(ctx, q, book.ID, ledger.AggregateBook, events...)
		})
	}
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("book_id", book.ID.String()).Msg("failed to correct available copies")
		return
	}

	*book = next
	s.reset(ctx, repository.KindBook)
	log.Ctx(ctx).Info().Str("book_id", book.ID.String()).Int("was", was).Msg("available copies corrected")
}

func (s *service) book(ctx context.Context, id uuid.UUID) (model.Book, error) {
	book, ok, err := s.repo.BookByID(ctx, id)
	if err != nil {
		return model.Book{}, fmt.Errorf("failed to get book: %w", err)
	}
	if !ok {
		return model.Book{}, ErrBookNotFound
	}
	return book, nil
}

// activeLoan returns the user's BORROWED or RESERVED loan of a book,
// preferring BORROWED.
func (s *service) activeLoan(ctx context.Context, userID, bookID uuid.UUID) (model.Loan, bool, error) {
	loans, err := s.repo.LoansOfUser(ctx, userID)
	if err != nil {
		return model.Loan{}, false, fmt.Errorf("failed to get loans: %w", err)
	}
	var best model.Loan
	found := false
	for _, l := range loans {
		if l.BookID != bookID || !l.Status.Active() {
			continue
		}
		if !found || (l.Status == model.LoanBorrowed && best.Status != model.LoanBorrowed) {
			best, found = l, true
		}
	}
	return best, found, nil
}

// firstAvailableCopy scans the book's copies in creation order.
func (s *service) firstAvailableCopy(ctx context.Context, bookID uuid.UUID) (model.Copy, bool, error) {
	copies, err := s.repo.CopiesOfBook(ctx, bookID)
	if err != nil {
		return model.Copy{}, false, fmt.Errorf("failed to get copies: %w", err)
	}
	for _, c := range copies {
		if c.Status == model.CopyAvailable {
			return c, true, nil
		}
	}
	return model.Copy{}, false, nil
}

func (s *service) activeReservations(ctx context.Context, userID, bookID uuid.UUID) ([]model.Reservation, error) {
	all, err := s.repo.ReservationsOfUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get reservations: %w", err)
	}
	var active []model.Reservation
	for _, r := range all {
		if r.BookID == bookID && r.Status == model.ReservationActive {
			active = append(active, r)
		}
	}
	return active, nil
}

// nearestReturn picks the book's active loan with the earliest due date.
func (s *service) nearestReturn(ctx context.Context, bookID uuid.UUID) (model.Loan, bool, error) {
	loans, err := s.repo.LoansOfBook(ctx, bookID)
	if err != nil {
		return model.Loan{}, false, fmt.Errorf("failed to get loans: %w", err)
	}
	var nearest model.Loan
	found := false
	for _, l := range loans {
		if !l.Status.Active() {
			continue
		}
		if !found || l.ReturnDate.Before(nearest.ReturnDate) {
			nearest, found = l, true
		}
	}
	return nearest, found, nil
}

func (s *service) start(ctx context.Context, name string, user *model.User, bookID uuid.UUID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("book.id", bookID.String()),
		attribute.String("user.id", user.ID.String()),
		attribute.String("user.permissions", string(user.Permissions)),
	))
}

// fail classifies a failed write. Lost races become ErrConflict and drop
// the caches so the caller's retry reads fresh state.
func (s *service) fail(ctx context.Context, span trace.Span, op string, err error) error {
	if isConflict(err) {
		s.metrics.conflict(ctx, op)
		s.reset(ctx, repository.KindBook, repository.KindCopy, repository.KindLoan, repository.KindReservation)
		log.Ctx(ctx).Info().Err(err).Str("operation", op).Msg("write lost a race")
		err = fmt.Errorf("%w: %v", ErrConflict, err)
	} else {
		err = fmt.Errorf("failed to %s: %w", op, err)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *service) reset(ctx context.Context, kinds ...repository.Kind) {
	if err := s.repo.Reset(ctx, kinds...); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("cache reset failed")
	}
}

func isConflict(err error) bool {
	return errors.Is(err, store.ErrConflict) || errors.Is(err, ledger.ErrConcurrencyConflict)
}

func newEvents(actor *model.User, eventType string, data any) ([]ledger.Event, error) {
	e, err := ledger.NewEvent(eventType, data)
	if err != nil {
		return nil, err
	}
	md := map[string]any{"actor": "system"}
	if actor != nil {
		md = map[string]any{"actor": "user", "user_id": actor.ID.String()}
	}
	return []ledger.Event{e.WithMetadata(md)}, nil
}

func loanEvent(l *model.Loan, overdue bool) LoanEvent {
	return LoanEvent{
		LoanID:  l.ID,
		CopyID:  l.CopyID,
		UserID:  l.UserID,
		Status:  l.Status,
		Start:   l.BorrowDate,
		Due:     l.ReturnDate,
		Overdue: overdue,
	}
}

func reservationEvent(r *model.Reservation) ReservationEvent {
	return ReservationEvent{
		ReservationID: r.ID,
		CopyID:        r.CopyID,
		LoanID:        r.LoanID,
		UserID:        r.UserID,
		Status:        r.Status,
		StartDate:     r.StartDate,
	}
}
