package events_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/technoprod/backend-gestion/internal/events"
	"github.com/technoprod/backend-gestion/internal/store"
)

type stubOutbox struct {
	events    []store.Event
	published map[string]bool
}

func newStubOutbox(types ...string) *stubOutbox {
	s := &stubOutbox{published: map[string]bool{}}
	for _, t := range types {
		s.events = append(s.events, store.Event{
			ID:        store.NewUUID(),
			SocieteID: store.NewUUID(),
			Type:      t,
			Payload:   []byte(`{}`),
		})
	}
	return s
}

func (s *stubOutbox) ListUnpublishedEvents(_ context.Context, limit int32) ([]store.Event, error) {
	var out []store.Event
	for _, e := range s.events {
		if s.published[store.UUIDString(e.ID)] {
			continue
		}
		out = append(out, e)
		if int32(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (s *stubOutbox) MarkEventPublished(_ context.Context, id pgtype.UUID) error {
	s.published[store.UUIDString(id)] = true
	return nil
}

func TestRelayPublishesHandledEvents(t *testing.T) {
	outbox := newStubOutbox(events.TopicDevisSigne, events.TopicCommandeFacturee)
	var handled []string
	relay := &events.Relay{
		Store: outbox,
		Handlers: []events.Handler{
			events.HandlerFunc(func(_ context.Context, e store.Event) error {
				handled = append(handled, e.Type)
				return nil
			}),
		},
	}

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{events.TopicDevisSigne, events.TopicCommandeFacturee}, handled)

	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n, "published events are not redelivered")
}

func TestRelayKeepsFailedEventsPending(t *testing.T) {
	outbox := newStubOutbox(events.TopicDevisEnvoye, events.TopicDevisSigne)
	attempts := map[string]int{}
	relay := &events.Relay{
		Store: outbox,
		Handlers: []events.Handler{
			events.HandlerFunc(func(_ context.Context, e store.Event) error {
				attempts[e.Type]++
				if e.Type == events.TopicDevisEnvoye && attempts[e.Type] == 1 {
					return errors.New("endpoint down")
				}
				return nil
			}),
		},
	}

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n, "failed event is retried on the next pass")
	require.Equal(t, 2, attempts[events.TopicDevisEnvoye])
}

func TestValidTopic(t *testing.T) {
	require.True(t, events.ValidTopic(events.TopicDevisConverti))
	require.False(t, events.ValidTopic("facture.creee"))
}
