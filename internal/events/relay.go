// Package events drains the transactional outbox. Domain services write
// events inside the same transaction as their mutation; the relay polls the
// unpublished rows, fans them out to handlers, and marks them published only
// once every handler accepted the event.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/technoprod/backend-gestion/internal/store"
)

const defaultBatchSize = 50

// Store defines the outbox access required by the relay.
type Store interface {
	ListUnpublishedEvents(ctx context.Context, limit int32) ([]store.Event, error)
	MarkEventPublished(ctx context.Context, id pgtype.UUID) error
}

// Handler consumes a single outbox event. A returned error keeps the event
// unpublished so the next poll retries it.
type Handler interface {
	Handle(ctx context.Context, event store.Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event store.Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, event store.Event) error {
	return f(ctx, event)
}

// Relay polls the outbox and dispatches events to its handlers.
type Relay struct {
	Store    Store
	Handlers []Handler
	Batch    int32
	Interval time.Duration
	Log      zerolog.Logger
}

// RunOnce drains at most one batch and returns the number of events published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	if r == nil || r.Store == nil {
		return 0, errors.New("events: store not configured")
	}
	batch := r.Batch
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pending, err := r.Store.ListUnpublishedEvents(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("events: list unpublished: %w", err)
	}
	published := 0
	for _, event := range pending {
		if err := r.dispatch(ctx, event); err != nil {
			r.Log.Warn().
				Str("event_id", store.UUIDString(event.ID)).
				Str("type", event.Type).
				Err(err).
				Msg("event dispatch failed, will retry")
			continue
		}
		if err := r.Store.MarkEventPublished(ctx, event.ID); err != nil {
			return published, fmt.Errorf("events: mark published: %w", err)
		}
		published++
	}
	return published, nil
}

// Run polls until the context is canceled.
func (r *Relay) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil {
			r.Log.Error().Err(err).Msg("outbox relay pass failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Relay) dispatch(ctx context.Context, event store.Event) error {
	var joined error
	for _, handler := range r.Handlers {
		if handler == nil {
			continue
		}
		if err := handler.Handle(ctx, event); err != nil {
			joined = errors.Join(joined, err)
		}
	}
	return joined
}
