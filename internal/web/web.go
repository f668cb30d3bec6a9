// Package web holds the pieces every HTTP handler shares: the JSON envelope,
// error-to-status mapping, body decoding and the authenticated identity
// carried on the request context.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"

	"bibliotheca/internal/apperr"
	"bibliotheca/internal/model"
)

// Envelope is the body of every response.
type Envelope struct {
	Message  string `json:"message"`
	Code     string `json:"code,omitempty"`
	Entities any    `json:"entities"`
}

// ErrUnauthenticated is returned when a handler that needs an identity runs
// without one.
var ErrUnauthenticated = apperr.New(apperr.KindAuth, "unauthenticated", "authentication required")

const maxBodyBytes = 1 << 20

// JSON writes an envelope with the given status.
func JSON(w http.ResponseWriter, status int, message string, entities any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Message: message, Entities: entities})
}

// OK writes a 200 envelope.
func OK(w http.ResponseWriter, message string, entities any) {
	JSON(w, http.StatusOK, message, entities)
}

// Created writes a 201 envelope.
func Created(w http.ResponseWriter, message string, entities any) {
	JSON(w, http.StatusCreated, message, entities)
}

// Error maps err onto a status and writes it. Internal errors are logged and
// replaced with a generic message.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	code, message := apperr.Public(err)

	logger := hlog.FromRequest(r)
	if kind == apperr.KindInternal {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	} else {
		logger.Debug().Err(err).Str("kind", kind.String()).Msg("request rejected")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(Envelope{Message: message, Code: code})
}

// Decode reads a JSON body into dst. Unknown fields are rejected.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Invalidf("request body is empty")
		}
		return apperr.Invalidf("malformed JSON body: " + err.Error())
	}
	return nil
}

// PathID parses a UUID route parameter.
func PathID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Invalidf("invalid " + name + ": " + raw)
	}
	return id, nil
}

type identityKey struct{}

// Identity is the authenticated caller.
type Identity struct {
	User    *model.User
	Session *model.Session
}

// WithIdentity attaches the caller to ctx.
func WithIdentity(ctx context.Context, user *model.User, session *model.Session) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{User: user, Session: session})
}

// IdentityFrom returns the caller attached by the auth middleware.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.User != nil
}

// User returns the authenticated user or ErrUnauthenticated.
func User(r *http.Request) (*model.User, error) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		return nil, ErrUnauthenticated
	}
	return id.User, nil
}
