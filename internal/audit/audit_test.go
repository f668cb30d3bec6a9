package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bibliotheca/internal/audit"
	"bibliotheca/internal/circulation"
	"bibliotheca/internal/ledger"
	"bibliotheca/internal/model"
	"bibliotheca/internal/repository"
	"bibliotheca/internal/store"
	"bibliotheca/internal/store/storetest"
)

type fixture struct {
	st     *store.Store
	repo   *repository.Repository
	ledger *ledger.Log
	loans  circulation.Service
	audit  audit.Service
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storetest.New(t)
	repo := repository.New(st)
	lg := ledger.New(st)
	now := time.Date(2025, 10, 6, 14, 0, 0, 0, time.UTC)

	loans, err := circulation.NewService(repo, lg, circulation.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return &fixture{st: st, repo: repo, ledger: lg, loans: loans, audit: audit.NewService(repo, lg, audit.WithClock(func() time.Time { return now })), now: now}
}

func (f *fixture) addBook(t *testing.T, copies int) model.Book {
	t.Helper()
	ctx := context.Background()
	book := model.Book{
		ID:              uuid.New(),
		Title:           "The Left Hand of Darkness",
		Author:          "Ursula K. Le Guin",
		ISBN:            "9780441478125",
		TotalCopies:     copies,
		AvailableCopies: copies,
		Availability:    circulation.AvailabilityFor(copies),
		CreatedAt:       f.now,
	}
	err := f.st.WithTx(ctx, func(q store.Querier) error {
		if err := f.st.InsertBook(ctx, q, &book); err != nil {
			return err
		}
		for i := 0; i < copies; i++ {
			c := model.Copy{ID: uuid.New(), BookID: book.ID, Status: model.CopyAvailable, CreatedAt: f.now.Add(time.Duration(i) * time.Microsecond)}
			if err := f.st.InsertCopy(ctx, q, &c); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, f.repo.Reset(ctx, repository.KindBook, repository.KindCopy))
	return book
}

func (f *fixture) addUser(t *testing.T) *model.User {
	t.Helper()
	ctx := context.Background()
	u := &model.User{
		ID:           uuid.New(),
		Email:        uuid.NewString() + "@example.com",
		PasswordHash: "hash",
		PasswordSalt: "salt",
		FirstName:    "Audit",
		LastName:     "Reader",
		Permissions:  model.Student,
		CreatedAt:    f.now,
	}
	require.NoError(t, f.st.InsertUser(ctx, f.st.DB(), u))
	require.NoError(t, f.repo.Reset(ctx, repository.KindUser))
	return u
}

// plant overwrites a book's counters behind the services' back.
func (f *fixture) plant(t *testing.T, id uuid.UUID, total, available, times, count, sum int, avg float64, availability model.Availability) {
	t.Helper()
	_, err := f.st.DB().ExecContext(context.Background(), f.st.DB().Rebind(`
		UPDATE books
		SET total_copies = ?, available_copies = ?, times_borrowed = ?, count_rating = ?,
		    sum_rating = ?, average_rating = ?, availability = ?
		WHERE id = ?
	`), total, available, times, count, sum, avg, string(availability), id)
	require.NoError(t, err)
}

func (f *fixture) stored(t *testing.T, id uuid.UUID) model.Book {
	t.Helper()
	books, err := f.st.ListBooks(context.Background())
	require.NoError(t, err)
	for _, b := range books {
		if b.ID == id {
			return b
		}
	}
	t.Fatalf("book %s not stored", id)
	return model.Book{}
}

func TestValidateDatabaseCorrectsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	book := f.addBook(t, 3)
	clean := f.addBook(t, 1)
	reader, other := f.addUser(t), f.addUser(t)

	first, err := f.loans.Borrow(ctx, reader, book.ID, nil)
	require.NoError(t, err)
	_, err = f.loans.Return(ctx, reader, book.ID)
	require.NoError(t, err)
	_, err = f.loans.Rate(ctx, reader, first.ID, 4)
	require.NoError(t, err)
	_, err = f.loans.Borrow(ctx, other, book.ID, nil)
	require.NoError(t, err)

	f.plant(t, book.ID, 5, 0, 7, 3, 9, 2.5, model.NotAvailable)

	report, err := f.audit.ValidateDatabase(ctx)
	require.NoError(t, err)

	assert.False(t, report.Valid())
	assert.False(t, report.IsValidTotalCopies)
	assert.False(t, report.IsValidAvailableCopies)
	assert.False(t, report.IsValidAvailability)
	assert.False(t, report.IsValidTimesBorrowed)
	assert.False(t, report.IsValidAverageRating)
	assert.Equal(t, 2, report.BooksChecked)
	assert.Empty(t, report.OrphanCopies)

	fields := make([]string, 0, len(report.Corrections))
	for _, c := range report.Corrections {
		assert.Equal(t, book.ID, c.BookID)
		fields = append(fields, c.Field)
	}
	assert.Equal(t, []string{
		"total_copies", "available_copies", "availability", "times_borrowed",
		"count_rating", "sum_rating", "average_rating",
	}, fields)

	got := f.stored(t, book.ID)
	assert.Equal(t, 3, got.TotalCopies)
	assert.Equal(t, 2, got.AvailableCopies)
	assert.Equal(t, model.Available, got.Availability)
	assert.Equal(t, 2, got.TimesBorrowed)
	assert.Equal(t, 1, got.CountRating)
	assert.Equal(t, 4, got.SumRating)
	assert.Equal(t, 4.0, got.AverageRating)

	cached, ok, err := f.repo.BookByID(ctx, book.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, got, cached, "cache reflects the corrections")

	assert.Equal(t, f.stored(t, clean.ID).Version, clean.Version, "consistent books are not rewritten")

	events, err := f.ledger.Load(ctx, book.ID, 0, 0)
	require.NoError(t, err)
	corrected := 0
	for _, e := range events {
		if e.EventType == ledger.BookCorrected {
			corrected++
			assert.Equal(t, "2025-10-06T14:00:00Z", e.Metadata["at"], "stamped with the service clock")
		}
	}
	assert.Equal(t, 7, corrected, "one ledger entry per corrected field")
}

func TestValidateDatabaseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	book := f.addBook(t, 2)
	reader := f.addUser(t)
	_, err := f.loans.Borrow(ctx, reader, book.ID, nil)
	require.NoError(t, err)
	f.plant(t, book.ID, 2, 2, 0, 0, 0, 0, model.Available)

	report, err := f.audit.ValidateDatabase(ctx)
	require.NoError(t, err)
	assert.False(t, report.Valid())
	assert.Len(t, report.Corrections, 2)

	again, err := f.audit.ValidateDatabase(ctx)
	require.NoError(t, err)
	assert.True(t, again.Valid())
	assert.Empty(t, again.Corrections)
}

func TestValidateDatabaseOnConsistentStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	book := f.addBook(t, 1)
	reader := f.addUser(t)
	_, err := f.loans.Borrow(ctx, reader, book.ID, nil)
	require.NoError(t, err)
	_, err = f.loans.Reserve(ctx, f.addUser(t), book.ID)
	require.NoError(t, err)

	report, err := f.audit.ValidateDatabase(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid())
	assert.Equal(t, 1, report.BooksChecked)
}

func TestValidateDatabaseReportsOrphanCopies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addBook(t, 1)
	orphan := model.Copy{ID: uuid.New(), BookID: uuid.New(), Status: model.CopyAvailable, CreatedAt: f.now}
	require.NoError(t, f.st.InsertCopy(ctx, f.st.DB(), &orphan))

	report, err := f.audit.ValidateDatabase(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{orphan.ID}, report.OrphanCopies)
	assert.False(t, report.Valid())

	copies, err := f.st.ListCopies(ctx)
	require.NoError(t, err)
	assert.Len(t, copies, 2, "orphans are reported, not deleted")
}
