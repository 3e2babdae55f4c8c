// Package audit persists a per-societe trail of sensitive actions: consent
// changes, admin reference data edits, document deletions.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/technoprod/backend-gestion/internal/repo"
	"github.com/technoprod/backend-gestion/internal/store"
)

// ActorKind represents the source of an audited action.
type ActorKind string

const (
	// ActorKindUser represents an authenticated back-office user.
	ActorKindUser ActorKind = "user"
	// ActorKindSystem represents internal automated actions.
	ActorKindSystem ActorKind = "system"
	// ActorKindAnonymous represents unauthenticated actors.
	ActorKindAnonymous ActorKind = "anonymous"
)

// Actor describes the entity performing the action.
type Actor struct {
	Kind   ActorKind
	UserID *string
}

// Store defines the database operations required for auditing.
type Store interface {
	InsertAuditEntry(ctx context.Context, arg store.InsertAuditEntryParams) error
	ListAuditEntries(ctx context.Context, arg store.ListAuditEntriesParams) ([]store.AuditEntry, error)
}

// Service persists audit entries for critical application flows.
type Service struct {
	Store        Store
	Enabled      bool
	SamplingRate float64
}

// Record persists an audit entry when auditing is enabled. The societe is
// taken from the context; detail is marshalled to JSON.
func (s Service) Record(ctx context.Context, actor Actor, action, entity, entityID string, detail any) error {
	if !s.Enabled {
		return nil
	}
	if s.SamplingRate > 0 && s.SamplingRate < 1 {
		if rand.Float64() > s.SamplingRate {
			return nil
		}
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return err
	}

	var payload []byte
	if detail != nil {
		if data, err := json.Marshal(detail); err == nil {
			payload = data
		}
	}
	actorID := pgtype.UUID{}
	if actor.UserID != nil {
		if parsed, err := store.UUIDValue(*actor.UserID); err == nil {
			actorID = parsed
		}
	}
	return s.Store.InsertAuditEntry(ctx, store.InsertAuditEntryParams{
		ID:        store.NewUUID(),
		SocieteID: sid,
		ActorID:   actorID,
		ActorType: string(normalizeActorKind(actor.Kind)),
		Action:    action,
		Entity:    entity,
		EntityID:  store.TextValue(entityID),
		Detail:    payload,
	})
}

// ActorFromContext builds an Actor from the authenticated user, falling back
// to anonymous.
func ActorFromContext(ctx context.Context, userID func(context.Context) (string, bool)) Actor {
	if userID == nil {
		return Actor{Kind: ActorKindAnonymous}
	}
	if id, ok := userID(ctx); ok && id != "" {
		return Actor{Kind: ActorKindUser, UserID: &id}
	}
	return Actor{Kind: ActorKindAnonymous}
}

func normalizeActorKind(kind ActorKind) ActorKind {
	switch kind {
	case ActorKindUser, ActorKindSystem:
		return kind
	default:
		return ActorKindAnonymous
	}
}
