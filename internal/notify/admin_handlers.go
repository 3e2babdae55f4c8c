package notify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/technoprod/backend-gestion/internal/common"
	"github.com/technoprod/backend-gestion/internal/events"
	"github.com/technoprod/backend-gestion/internal/repo"
	"github.com/technoprod/backend-gestion/internal/store"
)

// AdminStore covers the queries behind the webhook administration endpoints.
type AdminStore interface {
	CreateWebhookEndpoint(ctx context.Context, arg store.CreateWebhookEndpointParams) (store.WebhookEndpoint, error)
	GetWebhookEndpoint(ctx context.Context, arg store.GetWebhookEndpointParams) (store.WebhookEndpoint, error)
	ListWebhookEndpoints(ctx context.Context, societeID pgtype.UUID) ([]store.WebhookEndpoint, error)
	UpdateWebhookEndpoint(ctx context.Context, arg store.UpdateWebhookEndpointParams) (store.WebhookEndpoint, error)
	DeleteWebhookEndpoint(ctx context.Context, arg store.GetWebhookEndpointParams) (int64, error)
	ListWebhookDeliveries(ctx context.Context, arg store.ListWebhookDeliveriesParams) ([]store.WebhookDelivery, error)
	GetWebhookDelivery(ctx context.Context, id pgtype.UUID) (store.WebhookDelivery, error)
	ResetWebhookDeliveryForReplay(ctx context.Context, id pgtype.UUID) (store.WebhookDelivery, error)
}

// AdminHandler exposes tenant-scoped webhook endpoint management under
// /api/v1/admin/webhooks.
type AdminHandler struct {
	Store AdminStore
}

type endpointRequest struct {
	URL        string   `json:"url"`
	Secret     string   `json:"secret"`
	EventTypes []string `json:"event_types"`
	Actif      *bool    `json:"actif"`
}

type endpointResponse struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	EventTypes []string  `json:"event_types"`
	Actif      bool      `json:"actif"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type deliveryResponse struct {
	ID          string     `json:"id"`
	EndpointID  string     `json:"endpoint_id"`
	EventID     string     `json:"event_id"`
	Status      string     `json:"status"`
	Attempts    int32      `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	LastCode    *int32     `json:"last_code,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toEndpointResponse(e store.WebhookEndpoint) endpointResponse {
	return endpointResponse{
		ID:         store.UUIDString(e.ID),
		URL:        e.URL,
		EventTypes: e.EventTypes,
		Actif:      e.Actif,
		CreatedAt:  e.CreatedAt.Time,
		UpdatedAt:  e.UpdatedAt.Time,
	}
}

func toDeliveryResponse(d store.WebhookDelivery) deliveryResponse {
	out := deliveryResponse{
		ID:         store.UUIDString(d.ID),
		EndpointID: store.UUIDString(d.EndpointID),
		EventID:    store.UUIDString(d.EventID),
		Status:     d.Status,
		Attempts:   d.Attempts,
		LastError:  store.TextString(d.LastError),
		CreatedAt:  d.CreatedAt.Time,
	}
	if d.LastCode.Valid {
		code := d.LastCode.Int32
		out.LastCode = &code
	}
	if d.NextRetryAt.Valid {
		t := d.NextRetryAt.Time
		out.NextRetryAt = &t
	}
	if d.DeliveredAt.Valid {
		t := d.DeliveredAt.Time
		out.DeliveredAt = &t
	}
	return out
}

// List handles GET /api/v1/admin/webhooks.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	sid, err := societeFromRequest(r)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	endpoints, err := h.Store.ListWebhookEndpoints(r.Context(), sid)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	out := make([]endpointResponse, 0, len(endpoints))
	for _, e := range endpoints {
		out = append(out, toEndpointResponse(e))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// Create handles POST /api/v1/admin/webhooks. The secret is generated when not
// provided and returned once in the response.
func (h *AdminHandler) Create(w http.ResponseWriter, r *http.Request) {
	sid, err := societeFromRequest(r)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return
	}
	if err := validateEndpointRequest(&req); err != nil {
		common.RenderError(w, err)
		return
	}
	generated := false
	if req.Secret == "" {
		req.Secret = generateSecret()
		generated = true
	}
	endpoint, err := h.Store.CreateWebhookEndpoint(r.Context(), store.CreateWebhookEndpointParams{
		ID:         store.NewUUID(),
		SocieteID:  sid,
		URL:        req.URL,
		Secret:     req.Secret,
		EventTypes: req.EventTypes,
	})
	if err != nil {
		common.RenderError(w, err)
		return
	}
	body := map[string]any{"data": toEndpointResponse(endpoint)}
	if generated {
		body["meta"] = map[string]any{"secret": req.Secret}
	}
	common.JSON(w, http.StatusCreated, body)
}

// Update handles PUT /api/v1/admin/webhooks/{endpointID}.
func (h *AdminHandler) Update(w http.ResponseWriter, r *http.Request) {
	sid, err := societeFromRequest(r)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	id, err := parseEndpointID(r)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return
	}
	if err := validateEndpointRequest(&req); err != nil {
		common.RenderError(w, err)
		return
	}
	current, err := h.Store.GetWebhookEndpoint(r.Context(), store.GetWebhookEndpointParams{SocieteID: sid, ID: id})
	if err != nil {
		common.RenderError(w, mapEndpointError(err))
		return
	}
	if req.Secret == "" {
		req.Secret = current.Secret
	}
	actif := current.Actif
	if req.Actif != nil {
		actif = *req.Actif
	}
	endpoint, err := h.Store.UpdateWebhookEndpoint(r.Context(), store.UpdateWebhookEndpointParams{
		SocieteID:  sid,
		ID:         id,
		URL:        req.URL,
		Secret:     req.Secret,
		EventTypes: req.EventTypes,
		Actif:      actif,
	})
	if err != nil {
		common.RenderError(w, mapEndpointError(err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toEndpointResponse(endpoint)})
}

// Delete handles DELETE /api/v1/admin/webhooks/{endpointID}.
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sid, err := societeFromRequest(r)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	id, err := parseEndpointID(r)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	deleted, err := h.Store.DeleteWebhookEndpoint(r.Context(), store.GetWebhookEndpointParams{SocieteID: sid, ID: id})
	if err != nil {
		common.RenderError(w, err)
		return
	}
	if deleted == 0 {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "webhook endpoint not found", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListDeliveries handles GET /api/v1/admin/webhooks/{endpointID}/deliveries.
func (h *AdminHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	sid, err := societeFromRequest(r)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	id, err := parseEndpointID(r)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	if _, err := h.Store.GetWebhookEndpoint(r.Context(), store.GetWebhookEndpointParams{SocieteID: sid, ID: id}); err != nil {
		common.RenderError(w, mapEndpointError(err))
		return
	}
	limit, offset := paginationParams(r)
	deliveries, err := h.Store.ListWebhookDeliveries(r.Context(), store.ListWebhookDeliveriesParams{
		EndpointID: id,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		common.RenderError(w, err)
		return
	}
	out := make([]deliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, toDeliveryResponse(d))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// ReplayDelivery handles POST /api/v1/admin/webhooks/{endpointID}/deliveries/{deliveryID}/replay.
// The delivery is reset to pending and picked up by the worker on its next pass.
func (h *AdminHandler) ReplayDelivery(w http.ResponseWriter, r *http.Request) {
	sid, err := societeFromRequest(r)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	endpointID, err := parseEndpointID(r)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	if _, err := h.Store.GetWebhookEndpoint(r.Context(), store.GetWebhookEndpointParams{SocieteID: sid, ID: endpointID}); err != nil {
		common.RenderError(w, mapEndpointError(err))
		return
	}
	deliveryID, err := store.UUIDValue(chi.URLParam(r, "deliveryID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid delivery id", nil)
		return
	}
	current, err := h.Store.GetWebhookDelivery(r.Context(), deliveryID)
	if err != nil || current.EndpointID != endpointID {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "webhook delivery not found", nil)
		return
	}
	delivery, err := h.Store.ResetWebhookDeliveryForReplay(r.Context(), deliveryID)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusAccepted, map[string]any{"data": toDeliveryResponse(delivery)})
}

// Routes mounts the webhook administration endpoints on a chi router.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Put("/{endpointID}", h.Update)
	r.Delete("/{endpointID}", h.Delete)
	r.Get("/{endpointID}/deliveries", h.ListDeliveries)
	r.Post("/{endpointID}/deliveries/{deliveryID}/replay", h.ReplayDelivery)
	return r
}

func validateEndpointRequest(req *endpointRequest) error {
	req.URL = strings.TrimSpace(req.URL)
	if err := ValidateURL(req.URL); err != nil {
		return common.NewAppError("VALIDATION_ERROR", err.Error(), http.StatusBadRequest, nil)
	}
	if len(req.EventTypes) == 0 {
		return common.NewAppError("VALIDATION_ERROR", "at least one event type is required", http.StatusBadRequest, nil)
	}
	for _, topic := range req.EventTypes {
		if !events.ValidTopic(topic) {
			return common.NewAppError("VALIDATION_ERROR",
				fmt.Sprintf("unknown event type %q", topic), http.StatusBadRequest, nil)
		}
	}
	return nil
}

func parseEndpointID(r *http.Request) (pgtype.UUID, error) {
	id, err := store.UUIDValue(chi.URLParam(r, "endpointID"))
	if err != nil {
		return pgtype.UUID{}, common.NewAppError("BAD_REQUEST", "invalid endpoint id", http.StatusBadRequest, nil)
	}
	return id, nil
}

func societeFromRequest(r *http.Request) (pgtype.UUID, error) {
	sid, err := repo.SocieteUUID(r.Context())
	if err != nil {
		return pgtype.UUID{}, common.NewAppError("SOCIETE_REQUIRED", "societe is required", http.StatusBadRequest, err)
	}
	return sid, nil
}

func mapEndpointError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return common.NewAppError("NOT_FOUND", "webhook endpoint not found", http.StatusNotFound, err)
	}
	return err
}

func paginationParams(r *http.Request) (limit, offset int32) {
	limit = 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 100 {
			limit = int32(v)
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = int32(v)
		}
	}
	return limit, offset
}

func generateSecret() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return "whsec_" + hex.EncodeToString(buf)
}
