package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bibliotheca/internal/apperr"
	"bibliotheca/internal/model"
)

func TestErrorMapping(t *testing.T) {
	notFound := apperr.New(apperr.KindNotFound, "book_not_found", "book not found")

	cases := []struct {
		err     error
		status  int
		message string
	}{
		{fmt.Errorf("borrow: %w", notFound), http.StatusNotFound, "book not found"},
		{apperr.Invalidf("rating must be between 1 and 5"), http.StatusUnprocessableEntity, "rating must be between 1 and 5"},
		{fmt.Errorf("select: connection reset"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		Error(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)

		assert.Equal(t, tc.status, rec.Code)
		var env Envelope
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
		assert.Equal(t, tc.message, env.Message)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	var dst struct {
		BookID string `json:"bookId"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bookId":"x","extra":1}`))
	err := Decode(r, &dst)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	err = Decode(r, &dst)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bookId":"abc"}`))
	require.NoError(t, Decode(r, &dst))
	assert.Equal(t, "abc", dst.BookID)
}

func TestPathID(t *testing.T) {
	id := uuid.New()
	router := chi.NewRouter()
	var got uuid.UUID
	var gotErr error
	router.Get("/book/{id}", func(w http.ResponseWriter, r *http.Request) {
		got, gotErr = PathID(r, "id")
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/book/"+id.String(), nil))
	require.NoError(t, gotErr)
	assert.Equal(t, id, got)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/book/42", nil))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(gotErr))
}

func TestIdentityRoundTrip(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := User(r)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	u := &model.User{ID: uuid.New(), Permissions: model.Admin}
	r = r.WithContext(WithIdentity(r.Context(), u, &model.Session{}))
	got, err := User(r)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}
