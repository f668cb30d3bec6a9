// internal/client/client.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/google/uuid"

	"bibliotheca/internal/audit"
	"bibliotheca/internal/circulation"
	"bibliotheca/internal/model"
)

// StatusError is a non-2xx response.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("unexpected status code %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("unexpected status code %d: %s", e.Status, e.Message)
}

// Client talks to the HTTP API as one browser would: it keeps the session
// cookie between calls.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Jar: jar, Timeout: 10 * time.Second},
	}, nil
}

type envelope[T any] struct {
	Message  string `json:"message"`
	Code     string `json:"code"`
	Entities T      `json:"entities"`
}

func do[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var zero T

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return zero, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return zero, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close()

	var env envelope[T]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return zero, fmt.Errorf("failed to decode %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		return zero, &StatusError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	return env.Entities, nil
}

func (c *Client) Register(ctx context.Context, email, password, firstName, lastName string) (*model.User, error) {
	return do[*model.User](ctx, c, http.MethodPost, "/authentication/register", map[string]string{
		"email": email, "password": password, "firstName": firstName, "lastName": lastName,
	})
}

func (c *Client) Login(ctx context.Context, email, password string) (*model.User, error) {
	return do[*model.User](ctx, c, http.MethodPost, "/authentication/login", map[string]string{
		"email": email, "password": password,
	})
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := do[any](ctx, c, http.MethodPost, "/authentication/logout", nil)
	return err
}

func (c *Client) CurrentUser(ctx context.Context) (*model.User, error) {
	return do[*model.User](ctx, c, http.MethodGet, "/authentication/currentUser", nil)
}

// NewBook is the body of AddBook.
type NewBook struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	ISBN   string `json:"isbn"`
	Copies int    `json:"copies"`
}

type AddedBook struct {
	Book   model.Book   `json:"book"`
	Copies []model.Copy `json:"copies"`
}

func (c *Client) AddBook(ctx context.Context, b NewBook) (*AddedBook, error) {
	return do[*AddedBook](ctx, c, http.MethodPost, "/book", b)
}

func (c *Client) Book(ctx context.Context, id uuid.UUID) (*model.Book, error) {
	return do[*model.Book](ctx, c, http.MethodGet, "/book/"+id.String(), nil)
}

func (c *Client) Borrow(ctx context.Context, bookID uuid.UUID, startDate *time.Time) (*model.Loan, error) {
	return do[*model.Loan](ctx, c, http.MethodPost, "/borrowRecord/borrow", circulation.BorrowInput{BookID: bookID, StartDate: startDate})
}

func (c *Client) Return(ctx context.Context, bookID uuid.UUID) (*circulation.ReturnResult, error) {
	return do[*circulation.ReturnResult](ctx, c, http.MethodPost, "/borrowRecord/return", circulation.BookInput{BookID: bookID})
}

func (c *Client) Reserve(ctx context.Context, bookID uuid.UUID) (*model.Reservation, error) {
	return do[*model.Reservation](ctx, c, http.MethodPost, "/borrowRecord/reserve", circulation.BookInput{BookID: bookID})
}

func (c *Client) Rate(ctx context.Context, loanID uuid.UUID, rating int) (*model.Loan, error) {
	return do[*model.Loan](ctx, c, http.MethodPost, "/borrowRecord/"+loanID.String()+"/rate", circulation.RateInput{Rating: rating})
}

func (c *Client) MyLoans(ctx context.Context, activeOnly bool) ([]model.Loan, error) {
	return do[[]model.Loan](ctx, c, http.MethodGet, fmt.Sprintf("/borrowRecord/myRecords?active=%t", activeOnly), nil)
}

func (c *Client) MyReservations(ctx context.Context) ([]model.Reservation, error) {
	return do[[]model.Reservation](ctx, c, http.MethodGet, "/reservation/mine", nil)
}

func (c *Client) ValidateDB(ctx context.Context) (*audit.Report, error) {
	return do[*audit.Report](ctx, c, http.MethodGet, "/validateDB", nil)
}
