// Package ledger is the append-only circulation history. Every state change
// the engine commits is appended here inside the same transaction, keyed by
// the book it concerns, with a per-book version used for optimistic
// concurrency.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bibliotheca/internal/apperr"
	"bibliotheca/internal/store"
)

var ErrConcurrencyConflict = apperr.New(apperr.KindConflict, "ledger_conflict", "concurrency conflict: version mismatch")

// AggregateBook is the only aggregate type the circulation history uses.
const AggregateBook = "book"

// Event types.
const (
	BookAdded            = "BookAdded"
	BookCorrected        = "BookCorrected"
	LoanBorrowed         = "LoanBorrowed"
	LoanScheduled        = "LoanScheduled"
	LoanPromoted         = "LoanPromoted"
	LoanReturned         = "LoanReturned"
	LoanRated            = "LoanRated"
	ReservationCreated   = "ReservationCreated"
	ReservationFulfilled = "ReservationFulfilled"
	ReservationExpired   = "ReservationExpired"
)

// Event is one recorded state change.
type Event struct {
	ID            int64           `json:"id" db:"id"`
	AggregateID   uuid.UUID       `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string          `json:"aggregate_type" db:"aggregate_type"`
	EventType     string          `json:"event_type" db:"event_type"`
	EventData     json.RawMessage `json:"event_data" db:"event_data"`
	Metadata      map[string]any  `json:"metadata,omitempty" db:"-"`
	Version       int             `json:"version" db:"version"`
	CreatedAt     time.Time       `json:"created_at" db:"-"`
}

// NewEvent marshals data into an event of the given type.
func NewEvent(eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	return Event{EventType: eventType, EventData: raw}, nil
}

// WithMetadata returns e with the given metadata attached.
func (e Event) WithMetadata(md map[string]any) Event {
	e.Metadata = md
	return e
}

// Log reads and appends ledger events.
type Log struct {
	db     *sqlx.DB
	tracer trace.Tracer
	now    func() time.Time
}

// New returns a Log over the store's pool.
func New(st *store.Store) *Log {
	return &Log{
		db:     st.DB(),
		tracer: otel.Tracer("bibliotheca/ledger"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Append writes events for one aggregate through q, which is normally the
// caller's open transaction. Versions continue from the aggregate's current
// maximum; a concurrent append that claimed the same version fails with
// ErrConcurrencyConflict.
func (l *Log) Append(ctx context.Context, q store.Querier, aggregateID uuid.UUID, aggregateType string, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	ctx, span := l.tracer.Start(ctx, "ledger.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	current, err := l.currentVersion(ctx, q, aggregateID)
	if err != nil {
		return err
	}

	for i, event := range events {
		version := current + i + 1

		var metadata any
		if len(event.Metadata) > 0 {
			raw, err := json.Marshal(event.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
			metadata = string(raw)
		}

		_, err := q.ExecContext(ctx, q.Rebind(`
			INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`), aggregateID, aggregateType, event.EventType, string(event.EventData), metadata, version,
			l.now().Format(time.RFC3339Nano))
		if err != nil {
			if errors.Is(store.MapError(err), store.ErrConflict) {
				span.SetAttributes(attribute.Bool("conflict.detected", true))
				return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int("event.version", version),
			attribute.String("event.type", event.EventType),
		))
	}

	span.SetAttributes(attribute.Int("aggregate.version", current+len(events)))
	return nil
}

func (l *Log) currentVersion(ctx context.Context, q store.Querier, aggregateID uuid.UUID) (int, error) {
	var version int
	err := sqlx.GetContext(ctx, q, &version, q.Rebind(`
		SELECT COALESCE(MAX(version), 0)
		FROM events
		WHERE aggregate_id = ?
	`), aggregateID)
	if err != nil {
		return 0, fmt.Errorf("query current version: %w", err)
	}
	return version, nil
}

// CurrentVersion returns the latest version recorded for an aggregate.
func (l *Log) CurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.get_version",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	version, err := l.currentVersion(ctx, l.db, aggregateID)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("current.version", version))
	return version, nil
}

type eventRow struct {
	ID            int64     `db:"id"`
	AggregateID   uuid.UUID `db:"aggregate_id"`
	AggregateType string    `db:"aggregate_type"`
	EventType     string    `db:"event_type"`
	EventData     []byte    `db:"event_data"`
	Metadata      []byte    `db:"metadata"`
	Version       int       `db:"version"`
	CreatedAt     any       `db:"created_at"`
}

func (r eventRow) event() (Event, error) {
	e := Event{
		ID:            r.ID,
		AggregateID:   r.AggregateID,
		AggregateType: r.AggregateType,
		EventType:     r.EventType,
		EventData:     json.RawMessage(r.EventData),
		Version:       r.Version,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &e.Metadata); err != nil {
			return Event{}, fmt.Errorf("decode metadata of event %d: %w", r.ID, err)
		}
	}
	switch v := r.CreatedAt.(type) {
	case time.Time:
		e.CreatedAt = v.UTC()
	case string:
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
	case []byte:
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, string(v))
	}
	return e, nil
}

// Load returns an aggregate's events in version order, from fromVersion up
// to toVersion inclusive. A toVersion of zero means no upper bound.
func (l *Log) Load(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.Int("from.version", fromVersion),
			attribute.Int("to.version", toVersion),
		),
	)
	defer span.End()

	query := `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at
		FROM events
		WHERE aggregate_id = ?
		AND version >= ?
	`
	args := []any{aggregateID, fromVersion}
	if toVersion > 0 {
		query += " AND version <= ?"
		args = append(args, toVersion)
	}
	query += " ORDER BY version ASC"

	events, err := l.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// Stream returns up to batchSize events with ids greater than fromID, in
// insertion order, for consumers that tail the whole log.
func (l *Log) Stream(ctx context.Context, fromID int64, batchSize int) ([]Event, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", fromID),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	events, err := l.query(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at
		FROM events
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`, fromID, batchSize)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events, nil
}

func (l *Log) query(ctx context.Context, query string, args ...any) ([]Event, error) {
	var rows []eventRow
	if err := sqlx.SelectContext(ctx, l.db, &rows, l.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		e, err := r.event()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}
