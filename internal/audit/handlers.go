package audit

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/technoprod/backend-gestion/internal/common"
	"github.com/technoprod/backend-gestion/internal/repo"
	"github.com/technoprod/backend-gestion/internal/store"
)

// Handler exposes HTTP endpoints for reading the audit trail.
type Handler struct {
	Store Store
}

// Entry is the API representation of an audit record.
type Entry struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id,omitempty"`
	ActorType string    `json:"actor_type"`
	Action    string    `json:"action"`
	Entity    string    `json:"entity"`
	EntityID  string    `json:"entity_id,omitempty"`
	Detail    any       `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// List returns a paginated audit trail for administrators.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_NOT_CONFIGURED", "audit store not configured", nil)
		return
	}
	sid, err := repo.SocieteUUID(r.Context())
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "SOCIETE_REQUIRED", "societe is required", nil)
		return
	}
	limit := common.AtoiDefault(r.URL.Query().Get("limit"), 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := common.AtoiDefault(r.URL.Query().Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}
	entity := pgtype.Text{}
	if v := strings.TrimSpace(r.URL.Query().Get("entity")); v != "" {
		entity = store.TextValue(v)
	}

	rows, err := h.Store.ListAuditEntries(r.Context(), store.ListAuditEntriesParams{
		SocieteID: sid,
		Entity:    entity,
		Limit:     int32(limit),
		Offset:    int32(offset),
	})
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch audit entries", nil)
		return
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e := Entry{
			ID:        store.UUIDString(row.ID),
			ActorID:   store.UUIDString(row.ActorID),
			ActorType: row.ActorType,
			Action:    row.Action,
			Entity:    row.Entity,
			EntityID:  store.TextString(row.EntityID),
		}
		if len(row.Detail) > 0 {
			e.Detail = json.RawMessage(row.Detail)
		}
		if row.CreatedAt.Valid {
			e.CreatedAt = row.CreatedAt.Time
		}
		out = append(out, e)
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}
