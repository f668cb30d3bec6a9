package catalog_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bibliotheca/internal/apperr"
	"bibliotheca/internal/catalog"
	"bibliotheca/internal/ledger"
	"bibliotheca/internal/model"
	"bibliotheca/internal/repository"
	"bibliotheca/internal/store/storetest"
)

func newCatalog(t *testing.T) (catalog.Service, *repository.Repository) {
	t.Helper()
	st := storetest.New(t)
	repo := repository.New(st)
	return catalog.NewService(repo, ledger.New(st)), repo
}

func user(p model.Permission) *model.User {
	return &model.User{ID: uuid.New(), Email: "someone@example.com", Permissions: p, CreatedAt: time.Now().UTC()}
}

var leGuin = catalog.AddBookInput{
	Title:  "The Dispossessed",
	Author: "Ursula K. Le Guin",
	ISBN:   "978-0-441-47812-5",
	Year:   1974,
	Copies: 3,
}

func TestAddBook(t *testing.T) {
	svc, repo := newCatalog(t)
	ctx := context.Background()

	book, copies, err := svc.AddBook(ctx, user(model.Admin), leGuin)
	require.NoError(t, err)
	assert.Equal(t, 3, book.TotalCopies)
	assert.Equal(t, 3, book.AvailableCopies)
	assert.Equal(t, model.Available, book.Availability)
	assert.Equal(t, 1, book.Version)
	require.Len(t, copies, 3)

	stored, err := repo.CopiesOfBook(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, c := range stored {
		assert.Equal(t, copies[i].ID, c.ID, "copies keep creation order")
		assert.Equal(t, model.CopyAvailable, c.Status)
	}

	got, err := svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, "The Dispossessed", got.Title)

	events, err := svc.History(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ledger.BookAdded, events[0].EventType)
	assert.Equal(t, 1, events[0].Version)

	var payload catalog.BookAddedEvent
	require.NoError(t, json.Unmarshal(events[0].EventData, &payload))
	assert.Len(t, payload.CopyIDs, 3)
}

func TestAddBookRejects(t *testing.T) {
	svc, repo := newCatalog(t)
	ctx := context.Background()

	_, _, err := svc.AddBook(ctx, user(model.Professor), leGuin)
	assert.ErrorIs(t, err, catalog.ErrForbidden)

	bad := leGuin
	bad.ISBN = "12345"
	bad.Copies = 0
	_, _, err = svc.AddBook(ctx, user(model.Admin), bad)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	books, err := repo.Books(ctx)
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestCatalogReads(t *testing.T) {
	svc, _ := newCatalog(t)
	ctx := context.Background()
	admin := user(model.Admin)

	dispossessed, _, err := svc.AddBook(ctx, admin, leGuin)
	require.NoError(t, err)
	_, _, err = svc.AddBook(ctx, admin, catalog.AddBookInput{
		Title: "Structure and Interpretation of Computer Programs", Author: "Harold Abelson",
		ISBN: "9780262510875", Copies: 1,
	})
	require.NoError(t, err)

	books, err := svc.ListBooks(ctx)
	require.NoError(t, err)
	assert.Len(t, books, 2)

	byAuthor, err := svc.BooksByAuthor(ctx, "ursula k. le guin")
	require.NoError(t, err)
	require.Len(t, byAuthor, 1)
	assert.Equal(t, dispossessed.ID, byAuthor[0].ID)

	found, err := svc.Search(ctx, "interpretation")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Harold Abelson", found[0].Author)

	_, err = svc.Search(ctx, "  ")
	assert.ErrorIs(t, err, catalog.ErrEmptyQuery)

	_, err = svc.GetBook(ctx, uuid.New())
	assert.ErrorIs(t, err, catalog.ErrBookNotFound)

	_, err = svc.GetCopy(ctx, uuid.New())
	assert.ErrorIs(t, err, catalog.ErrCopyNotFound)

	copies, err := svc.ListCopies(ctx)
	require.NoError(t, err)
	assert.Len(t, copies, 4)

	c, err := svc.GetCopy(ctx, copies[0].ID)
	require.NoError(t, err)
	assert.Equal(t, copies[0].BookID, c.BookID)

	_, err = svc.History(ctx, uuid.New())
	assert.ErrorIs(t, err, catalog.ErrBookNotFound)
}
