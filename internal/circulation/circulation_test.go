package circulation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bibliotheca/internal/apperr"
	"bibliotheca/internal/circulation"
	"bibliotheca/internal/ledger"
	"bibliotheca/internal/model"
	"bibliotheca/internal/repository"
	"bibliotheca/internal/store"
	"bibliotheca/internal/store/storetest"
)

const day = 24 * time.Hour

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc    circulation.Service
	repo   *repository.Repository
	st     *store.Store
	ledger *ledger.Log
	clk    *clock
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	st := storetest.New(t)
	repo := repository.New(st)
	lg := ledger.New(st)
	clk := &clock{now: time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)}

	svc, err := circulation.NewService(repo, lg, circulation.WithClock(clk.Now))
	require.NoError(t, err)
	return &fixture{svc: svc, repo: repo, st: st, ledger: lg, clk: clk}
}

var allKinds = []repository.Kind{
	repository.KindBook, repository.KindCopy, repository.KindLoan,
	repository.KindReservation, repository.KindUser, repository.KindSession,
}

// addBook stores a book whose copies carry the given statuses. The stored
// counters are taken as given so tests can plant stale values.
func (f *fixture) addBook(t testing.TB, available int, statuses ...model.CopyStatus) model.Book {
	t.Helper()
	ctx := context.Background()
	now := f.clk.Now()

	book := model.Book{
		ID:              uuid.New(),
		Title:           "A Wizard of Earthsea",
		Author:          "Ursula K. Le Guin",
		ISBN:            "9780547773742",
		TotalCopies:     len(statuses),
		AvailableCopies: available,
		Availability:    circulation.AvailabilityFor(available),
		CreatedAt:       now,
	}
	err := f.st.WithTx(ctx, func(q store.Querier) error {
		if err := f.st.InsertBook(ctx, q, &book); err != nil {
			return err
		}
		for i, status := range statuses {
			c := model.Copy{ID: uuid.New(), BookID: book.ID, Status: status, CreatedAt: now.Add(time.Duration(i) * time.Microsecond)}
			if err := f.st.InsertCopy(ctx, q, &c); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, f.repo.Reset(ctx, allKinds...))
	return book
}

// availableBook stores a book with n AVAILABLE copies.
func (f *fixture) availableBook(t testing.TB, n int) model.Book {
	statuses := make([]model.CopyStatus, n)
	for i := range statuses {
		statuses[i] = model.CopyAvailable
	}
	return f.addBook(t, n, statuses...)
}

func (f *fixture) addUser(t testing.TB, p model.Permission) *model.User {
	t.Helper()
	ctx := context.Background()
	u := &model.User{
		ID:           uuid.New(),
		Email:        uuid.NewString() + "@example.com",
		PasswordHash: "hash",
		PasswordSalt: "salt",
		FirstName:    "Test",
		LastName:     string(p),
		Permissions:  p,
		CreatedAt:    f.clk.Now(),
	}
	require.NoError(t, f.st.InsertUser(ctx, f.st.DB(), u))
	require.NoError(t, f.repo.Reset(ctx, repository.KindUser))
	return u
}

func (f *fixture) bookState(t testing.TB, id uuid.UUID) model.Book {
	t.Helper()
	b, ok, err := f.repo.BookByID(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	return b
}

func (f *fixture) copies(t testing.TB, bookID uuid.UUID) []model.Copy {
	t.Helper()
	cs, err := f.repo.CopiesOfBook(context.Background(), bookID)
	require.NoError(t, err)
	return cs
}

func (f *fixture) eventTypes(t testing.TB, bookID uuid.UUID) []string {
	t.Helper()
	events, err := f.ledger.Load(context.Background(), bookID, 0, 0)
	require.NoError(t, err)
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.EventType
	}
	return types
}

func TestLoanDuration(t *testing.T) {
	tests := []struct {
		permission model.Permission
		want       time.Duration
		wantErr    error
	}{
		{model.Admin, 365 * day, nil},
		{model.Employee, 60 * day, nil},
		{model.Professor, 60 * day, nil},
		{model.Student, 30 * day, nil},
		{model.Permission("GUEST"), 0, circulation.ErrNoPermission},
	}
	for _, tt := range tests {
		t.Run(string(tt.permission), func(t *testing.T) {
			got, err := circulation.LoanDuration(tt.permission)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAverageRating(t *testing.T) {
	assert.Equal(t, 0.0, circulation.AverageRating(0, 0))
	assert.Equal(t, 4.5, circulation.AverageRating(9, 2))
	assert.Equal(t, 1.7, circulation.AverageRating(5, 3))
	assert.Equal(t, 3.3, circulation.AverageRating(10, 3))
}

// Scenarios A to E run in sequence on a one-copy book.
func TestBorrowReserveReturnLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.availableBook(t, 1)
	u := f.addUser(t, model.Student)
	v := f.addUser(t, model.Student)

	var loan *model.Loan
	t.Run("A: student borrows the only copy", func(t *testing.T) {
		var err error
		loan, err = f.svc.Borrow(ctx, u, book.ID, nil)
		require.NoError(t, err)

		assert.Equal(t, model.LoanBorrowed, loan.Status)
		assert.Equal(t, u.ID, loan.UserID)
		assert.True(t, loan.ReturnDate.Equal(f.clk.Now().Add(30*day)))

		b := f.bookState(t, book.ID)
		assert.Equal(t, 0, b.AvailableCopies)
		assert.Equal(t, model.NotAvailable, b.Availability)
		assert.Equal(t, 1, b.TimesBorrowed)
		assert.Equal(t, model.CopyNotAvailable, f.copies(t, book.ID)[0].Status)
	})

	t.Run("B: second borrower finds no copy", func(t *testing.T) {
		_, err := f.svc.Borrow(ctx, v, book.ID, nil)
		assert.ErrorIs(t, err, circulation.ErrNoCopyAvailable)
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
		assert.Equal(t, 0, f.bookState(t, book.ID).AvailableCopies)
	})

	var reservation *model.Reservation
	t.Run("C: second borrower reserves", func(t *testing.T) {
		var err error
		reservation, err = f.svc.Reserve(ctx, v, book.ID)
		require.NoError(t, err)

		assert.Equal(t, model.ReservationActive, reservation.Status)
		assert.True(t, reservation.StartDate.Equal(loan.ReturnDate))
		assert.True(t, reservation.ReturnDate.Equal(loan.ReturnDate.Add(30*day)))
		assert.Equal(t, loan.CopyID, reservation.CopyID)
		assert.Equal(t, loan.ID, reservation.LoanID)
	})

	t.Run("D: reserving twice is rejected", func(t *testing.T) {
		_, err := f.svc.Reserve(ctx, v, book.ID)
		assert.ErrorIs(t, err, circulation.ErrAlreadyReserved)
	})

	t.Run("E: early return", func(t *testing.T) {
		f.clk.Advance(10 * day)
		result, err := f.svc.Return(ctx, u, book.ID)
		require.NoError(t, err)

		assert.False(t, result.Overdue)
		assert.Equal(t, model.LoanReturned, result.Loan.Status)
		assert.True(t, result.Loan.ReturnDate.Equal(f.clk.Now()))

		b := f.bookState(t, book.ID)
		assert.Equal(t, 1, b.AvailableCopies)
		assert.Equal(t, model.Available, b.Availability)
		assert.Equal(t, model.CopyAvailable, f.copies(t, book.ID)[0].Status)
	})

	t.Run("reserver borrows and fulfils the reservation", func(t *testing.T) {
		_, err := f.svc.Borrow(ctx, v, book.ID, nil)
		require.NoError(t, err)

		got, ok, err := f.repo.ReservationByID(ctx, reservation.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, model.ReservationFulfilled, got.Status)
	})

	assert.Equal(t, []string{
		ledger.LoanBorrowed,
		ledger.ReservationCreated,
		ledger.LoanReturned,
		ledger.LoanBorrowed,
		ledger.ReservationFulfilled,
	}, f.eventTypes(t, book.ID))
}

// Scenario F.
func TestLoanDurationDependsOnRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.availableBook(t, 2)

	adminLoan, err := f.svc.Borrow(ctx, f.addUser(t, model.Admin), book.ID, nil)
	require.NoError(t, err)
	studentLoan, err := f.svc.Borrow(ctx, f.addUser(t, model.Student), book.ID, nil)
	require.NoError(t, err)

	now := f.clk.Now()
	assert.True(t, adminLoan.ReturnDate.Equal(now.Add(365*day)))
	assert.True(t, studentLoan.ReturnDate.Equal(now.Add(30*day)))
	assert.NotEqual(t, adminLoan.CopyID, studentLoan.CopyID)
}

func TestBorrowRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.availableBook(t, 2)
	u := f.addUser(t, model.Student)

	_, err := f.svc.Borrow(ctx, u, uuid.New(), nil)
	assert.ErrorIs(t, err, circulation.ErrBookNotFound)

	_, err = f.svc.Borrow(ctx, f.addUser(t, model.Permission("GUEST")), book.ID, nil)
	assert.ErrorIs(t, err, circulation.ErrNoPermission)
	assert.Equal(t, apperr.KindPermission, apperr.KindOf(err))

	_, err = f.svc.Borrow(ctx, u, book.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, u, book.ID, nil)
	assert.ErrorIs(t, err, circulation.ErrAlreadyBorrowed)
	assert.Equal(t, 1, f.bookState(t, book.ID).AvailableCopies)

	tooFar := f.clk.Now().Add(circulation.MaxScheduleAhead + day)
	_, err = f.svc.Borrow(ctx, f.addUser(t, model.Student), book.ID, &tooFar)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestBorrowHealsStaleAvailableCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, 2, model.CopyNotAvailable, model.CopyNotAvailable)

	_, err := f.svc.Borrow(ctx, f.addUser(t, model.Student), book.ID, nil)
	assert.ErrorIs(t, err, circulation.ErrNoCopyAvailable)

	b := f.bookState(t, book.ID)
	assert.Equal(t, 0, b.AvailableCopies)
	assert.Equal(t, model.NotAvailable, b.Availability)
	assert.Equal(t, []string{ledger.BookCorrected}, f.eventTypes(t, book.ID))
}

func TestReserveRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, model.Student)

	open := f.availableBook(t, 1)
	_, err := f.svc.Reserve(ctx, u, open.ID)
	assert.ErrorIs(t, err, circulation.ErrNoNeedToReserve)

	_, err = f.svc.Reserve(ctx, u, uuid.New())
	assert.ErrorIs(t, err, circulation.ErrBookNotFound)

	_, err = f.svc.Borrow(ctx, u, open.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, u, open.ID)
	assert.ErrorIs(t, err, circulation.ErrAlreadyBorrowed)

	lost := f.addBook(t, 0, model.CopyNotAvailable)
	_, err = f.svc.Reserve(ctx, u, lost.ID)
	assert.ErrorIs(t, err, circulation.ErrNoCopyAvailable)
}

func TestReserveDetectsReturnCommittedAfterCachedReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.availableBook(t, 1)
	holder := f.addUser(t, model.Student)
	waiter := f.addUser(t, model.Student)

	loan, err := f.svc.Borrow(ctx, holder, book.ID, nil)
	require.NoError(t, err)

	// Return the copy behind the caches' back.
	cp := f.copies(t, book.ID)[0]
	require.Equal(t, model.CopyNotAvailable, cp.Status)
	require.NoError(t, f.st.UpdateCopyStatus(ctx, f.st.DB(), &cp, model.CopyAvailable))
	require.NoError(t, f.st.ReturnLoan(ctx, f.st.DB(), loan, f.clk.Now()))

	_, err = f.svc.Reserve(ctx, waiter, book.ID)
	assert.ErrorIs(t, err, circulation.ErrConflict)

	reservations, err := f.st.ListReservations(ctx)
	require.NoError(t, err)
	assert.Empty(t, reservations)

	_, err = f.svc.Reserve(ctx, waiter, book.ID)
	assert.ErrorIs(t, err, circulation.ErrNoNeedToReserve, "the retry sees the returned copy")
}

func TestReserveTargetsNearestReturn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.availableBook(t, 2)

	admin := f.addUser(t, model.Admin)
	student := f.addUser(t, model.Student)
	_, err := f.svc.Borrow(ctx, admin, book.ID, nil)
	require.NoError(t, err)
	f.clk.Advance(day)
	studentLoan, err := f.svc.Borrow(ctx, student, book.ID, nil)
	require.NoError(t, err)

	professor := f.addUser(t, model.Professor)
	r, err := f.svc.Reserve(ctx, professor, book.ID)
	require.NoError(t, err)
	assert.Equal(t, studentLoan.ID, r.LoanID)
	assert.Equal(t, studentLoan.CopyID, r.CopyID)
	assert.True(t, r.ReturnDate.Equal(studentLoan.ReturnDate.Add(60*day)))
}

func TestReturnRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.availableBook(t, 1)
	u := f.addUser(t, model.Student)

	_, err := f.svc.Return(ctx, u, book.ID)
	assert.ErrorIs(t, err, circulation.ErrNoBorrowEntry)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.Return(ctx, u, uuid.New())
	assert.ErrorIs(t, err, circulation.ErrBookNotFound)
}

func TestReturnOverdueUsesOriginalDueDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.availableBook(t, 1)
	u := f.addUser(t, model.Student)

	loan, err := f.svc.Borrow(ctx, u, book.ID, nil)
	require.NoError(t, err)

	f.clk.Advance(31 * day)
	result, err := f.svc.Return(ctx, u, book.ID)
	require.NoError(t, err)
	assert.True(t, result.Overdue)
	assert.True(t, result.Loan.ReturnDate.After(loan.ReturnDate))

	_, err = f.svc.Return(ctx, u, book.ID)
	assert.ErrorIs(t, err, circulation.ErrNoBorrowEntry)
}

func TestScheduledBorrowIsPromoted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.availableBook(t, 2)
	u := f.addUser(t, model.Student)

	start := f.clk.Now().Add(2 * day)
	loan, err := f.svc.Borrow(ctx, u, book.ID, &start)
	require.NoError(t, err)
	assert.Equal(t, model.LoanReserved, loan.Status)
	assert.True(t, loan.BorrowDate.Equal(start))
	assert.True(t, loan.ReturnDate.Equal(start.Add(30*day)))
	assert.Equal(t, 1, f.bookState(t, book.ID).AvailableCopies)

	_, err = f.svc.Borrow(ctx, u, book.ID, nil)
	assert.ErrorIs(t, err, circulation.ErrAlreadyBorrowed)

	_, err = f.svc.Return(ctx, u, book.ID)
	assert.ErrorIs(t, err, circulation.ErrNoBorrowEntry, "a scheduled loan cannot be returned")

	n, err := f.svc.PromoteDueReservations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clk.Advance(3 * day)
	n, err = f.svc.PromoteDueReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.ActiveLoanForBook(ctx, u, book.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.ID, got.ID)
	assert.Equal(t, model.LoanBorrowed, got.Status)

	assert.Equal(t, []string{ledger.LoanScheduled, ledger.LoanPromoted}, f.eventTypes(t, book.ID))
}

func TestMutationsPromoteDueLoansFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.availableBook(t, 1)
	u := f.addUser(t, model.Student)

	start := f.clk.Now().Add(day)
	_, err := f.svc.Borrow(ctx, u, book.ID, &start)
	require.NoError(t, err)

	f.clk.Advance(2 * day)
	result, err := f.svc.Return(ctx, u, book.ID)
	require.NoError(t, err)
	assert.False(t, result.Overdue)
}

func TestExpireReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.availableBook(t, 1)
	holder := f.addUser(t, model.Student)
	waiter := f.addUser(t, model.Student)

	_, err := f.svc.Borrow(ctx, holder, book.ID, nil)
	require.NoError(t, err)
	r, err := f.svc.Reserve(ctx, waiter, book.ID)
	require.NoError(t, err)

	n, err := f.svc.ExpireReservations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clk.Advance(61 * day)
	n, err = f.svc.ExpireReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.GetReservation(ctx, waiter, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationExpired, got.Status)

	_, err = f.svc.Reserve(ctx, waiter, book.ID)
	assert.NoError(t, err, "an expired reservation does not block a new one")
}

func TestRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.availableBook(t, 2)
	u := f.addUser(t, model.Student)
	w := f.addUser(t, model.Student)

	loan, err := f.svc.Borrow(ctx, u, book.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.Rate(ctx, u, loan.ID, 4)
	assert.ErrorIs(t, err, circulation.ErrNotReturned)

	_, err = f.svc.Return(ctx, u, book.ID)
	require.NoError(t, err)

	_, err = f.svc.Rate(ctx, u, loan.ID, 6)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.Rate(ctx, w, loan.ID, 4)
	assert.ErrorIs(t, err, circulation.ErrForbidden)

	_, err = f.svc.Rate(ctx, u, uuid.New(), 4)
	assert.ErrorIs(t, err, circulation.ErrLoanNotFound)

	rated, err := f.svc.Rate(ctx, u, loan.ID, 4)
	require.NoError(t, err)
	require.NotNil(t, rated.Rating)
	assert.Equal(t, 4, *rated.Rating)

	_, err = f.svc.Rate(ctx, u, loan.ID, 5)
	assert.ErrorIs(t, err, circulation.ErrAlreadyRated)

	second, err := f.svc.Borrow(ctx, w, book.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, w, book.ID)
	require.NoError(t, err)
	_, err = f.svc.Rate(ctx, w, second.ID, 5)
	require.NoError(t, err)

	b := f.bookState(t, book.ID)
	assert.Equal(t, 2, b.CountRating)
	assert.Equal(t, 9, b.SumRating)
	assert.Equal(t, 4.5, b.AverageRating)
}

func TestLoanQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.availableBook(t, 1)
	second := f.availableBook(t, 1)
	third := f.availableBook(t, 1)
	u := f.addUser(t, model.Student)
	other := f.addUser(t, model.Student)
	staff := f.addUser(t, model.Employee)

	_, err := f.svc.Borrow(ctx, u, first.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, u, first.ID)
	require.NoError(t, err)

	f.clk.Advance(time.Hour)
	start := f.clk.Now().Add(5 * day)
	_, err = f.svc.Borrow(ctx, u, second.ID, &start)
	require.NoError(t, err)

	f.clk.Advance(time.Hour)
	_, err = f.svc.Borrow(ctx, u, third.ID, nil)
	require.NoError(t, err)

	loans, err := f.svc.LoansOfUser(ctx, u, u.ID, false)
	require.NoError(t, err)
	require.Len(t, loans, 3)
	assert.Equal(t, model.LoanBorrowed, loans[0].Status)
	assert.Equal(t, model.LoanReserved, loans[1].Status)
	assert.Equal(t, model.LoanReturned, loans[2].Status)

	active, err := f.svc.LoansOfUser(ctx, u, u.ID, true)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	_, err = f.svc.LoansOfUser(ctx, other, u.ID, false)
	assert.ErrorIs(t, err, circulation.ErrForbidden)

	viaStaff, err := f.svc.LoansOfUser(ctx, staff, u.ID, false)
	require.NoError(t, err)
	assert.Len(t, viaStaff, 3)

	_, err = f.svc.GetLoan(ctx, other, loans[0].ID)
	assert.ErrorIs(t, err, circulation.ErrForbidden)

	all, err := f.svc.ListLoans(ctx, staff)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := f.svc.ListLoans(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.svc.ActiveLoanForBook(ctx, u, first.ID)
	assert.ErrorIs(t, err, circulation.ErrLoanNotFound)
}

func TestConcurrentBorrowOfLastCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.availableBook(t, 1)

	const borrowers = 8
	users := make([]*model.User, borrowers)
	for i := range users {
		users[i] = f.addUser(t, model.Student)
	}

	var wg sync.WaitGroup
	errs := make([]error, borrowers)
	for i := range users {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Borrow(ctx, users[i], book.ID, nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperr.KindOf(err) == apperr.KindNotFound, apperr.KindOf(err) == apperr.KindConflict:
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)

	require.NoError(t, f.repo.Reset(ctx, allKinds...))
	b := f.bookState(t, book.ID)
	assert.Equal(t, 0, b.AvailableCopies)
	assert.Equal(t, 1, b.TimesBorrowed)

	loans, err := f.repo.LoansOfBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Len(t, loans, 1)
}
