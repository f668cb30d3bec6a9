package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errTest = New(KindConflict, "already_borrowed", "book already borrowed")

func TestKindOfWrapped(t *testing.T) {
	wrapped := fmt.Errorf("failed to borrow: %w", errTest)

	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, errTest))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:  http.StatusUnprocessableEntity,
		KindNotFound:    http.StatusNotFound,
		KindConflict:    http.StatusConflict,
		KindPermission:  http.StatusForbidden,
		KindAuth:        http.StatusUnauthorized,
		KindRateLimited: http.StatusTooManyRequests,
		KindInternal:    http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, kind.HTTPStatus(), kind.String())
	}
}

func TestPublicHidesInternal(t *testing.T) {
	code, msg := Public(fmt.Errorf("query books: %w", errors.New("connection refused")))
	assert.Equal(t, "internal", code)
	assert.Equal(t, "internal server error", msg)

	code, msg = Public(fmt.Errorf("wrap: %w", errTest))
	assert.Equal(t, "already_borrowed", code)
	assert.Equal(t, "book already borrowed", msg)
}
