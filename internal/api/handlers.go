// Package api exposes HTTP handlers for the suggestion service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ArnavS-22/gumborebuild/internal/auth"
	"github.com/ArnavS-22/gumborebuild/internal/delivery"
	"github.com/ArnavS-22/gumborebuild/internal/domain"
	"github.com/ArnavS-22/gumborebuild/internal/engine"
	"github.com/ArnavS-22/gumborebuild/internal/ratelimit"

	"github.com/google/uuid"
)

// Engine is the slice of the task supervisor the handlers need.
type Engine interface {
	Submit(eventID string) (*engine.TaskHandle, error)
	Snapshot() engine.Stats
}

// Handler coordinates HTTP requests with the suggestion pipeline.
type Handler struct {
	events  domain.EventRepository
	store   domain.SuggestionRepository
	poller  *delivery.Service
	limiter *ratelimit.Limiter
	engine  Engine
	lanes   []domain.Lane
}

// NewHandler builds a Handler. Lanes defaults to the standard lane set.
func NewHandler(events domain.EventRepository, store domain.SuggestionRepository, poller *delivery.Service, limiter *ratelimit.Limiter, eng Engine, lanes []domain.Lane) *Handler {
	if len(lanes) == 0 {
		lanes = domain.DefaultLanes
	}
	return &Handler{
		events:  events,
		store:   store,
		poller:  poller,
		limiter: limiter,
		engine:  eng,
		lanes:   lanes,
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/activities", h.activities)
	mux.HandleFunc("/v1/suggestions", h.suggestions)
	mux.HandleFunc("/v1/suggestions/", h.suggestionByID)
	mux.HandleFunc("/v1/store", h.storeAdmin)
	mux.HandleFunc("/v1/limits", h.limits)
	mux.HandleFunc("/v1/health", h.health)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeActivityIngest) {
		writeError(w, http.StatusForbidden, "forbidden", "scope activity:ingest required")
		return
	}

	var req SubmitActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	event := domain.ActivityEvent{
		ID:         req.EventID,
		Content:    req.Content,
		Source:     req.Source,
		ObservedAt: req.ObservedAt,
		CreatedAt:  time.Now().UTC(),
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.ObservedAt.IsZero() {
		event.ObservedAt = event.CreatedAt
	}
	if err := event.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	if err := h.events.CreateEvent(r.Context(), event); err != nil {
		if errors.Is(err, domain.ErrEventExists) {
			writeError(w, http.StatusConflict, "conflict", "event already submitted")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	// The event is committed before the pipeline sees it; the task reads it
	// back by id and cannot observe a half-written row.
	handle, err := h.engine.Submit(event.ID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitActivityResponse{
		EventID: event.ID,
		TaskID:  handle.ID,
		Status:  string(engine.TaskSpawned),
	})
}

// suggestions serves both the poll protocol and historical browsing. Any
// filter parameter selects browsing; a bare GET (optionally with a cursor)
// is a poll.
func (h *Handler) suggestions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodDelete:
		h.clearSuggestions(w, r)
		return
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeSuggestionsRead) && !claims.HasScope(auth.ScopeSuggestionsAdmin) {
		writeError(w, http.StatusForbidden, "forbidden", "scope suggestions:read required")
		return
	}

	query := r.URL.Query()
	if isBrowse(query) {
		h.browseSuggestions(w, r)
		return
	}
	h.pollSuggestions(w, r, claims.Subject)
}

func isBrowse(query map[string][]string) bool {
	for _, key := range []string{"lane", "min_score", "since", "state", "limit", "offset"} {
		if _, ok := query[key]; ok {
			return true
		}
	}
	return false
}

func (h *Handler) pollSuggestions(w http.ResponseWriter, r *http.Request, clientID string) {
	cursorToken := r.URL.Query().Get("cursor")

	var ifModifiedSince *time.Time
	if raw := r.Header.Get("If-Modified-Since"); raw != "" {
		if parsed, err := http.ParseTime(raw); err == nil {
			ifModifiedSince = &parsed
		}
	}

	result, err := h.poller.Poll(r.Context(), clientID, cursorToken, ifModifiedSince)
	if err != nil {
		if errors.Is(err, delivery.ErrBadCursor) {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	if result.NotModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if !result.LastModified.IsZero() {
		w.Header().Set("Last-Modified", result.LastModified.UTC().Format(http.TimeFormat))
	}

	items := make([]SuggestionView, 0, len(result.Suggestions))
	for _, s := range result.Suggestions {
		items = append(items, toSuggestionView(s))
	}
	writeJSON(w, http.StatusOK, PollResponse{
		Suggestions: items,
		Cursor:      result.Cursor,
	})
}

func (h *Handler) browseSuggestions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := domain.QueryFilter{}
	if lane := query.Get("lane"); lane != "" {
		filter.Lane = domain.Lane(lane)
	}
	if raw := query.Get("min_score"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			writeError(w, http.StatusBadRequest, "validation_failed", "min_score must be in [0,1]")
			return
		}
		filter.MinScore = parsed
	}
	if raw := query.Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "since must be RFC3339")
			return
		}
		filter.Since = parsed
	}
	if raw := query.Get("state"); raw != "" {
		filter.State = domain.SuggestionState(raw)
	}

	limit := 20
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}
	offset := 0
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	suggestions, err := h.store.Query(r.Context(), filter, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]SuggestionView, 0, len(suggestions))
	for _, s := range suggestions {
		items = append(items, toSuggestionView(s))
	}
	writeJSON(w, http.StatusOK, BrowseResponse{Items: items, Limit: limit, Offset: offset})
}

func (h *Handler) suggestionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeSuggestionsRead) && !claims.HasScope(auth.ScopeSuggestionsAdmin) {
		writeError(w, http.StatusForbidden, "forbidden", "scope suggestions:read required")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/suggestions/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing suggestion id")
		return
	}

	suggestion, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrSuggestionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "suggestion not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toSuggestionView(*suggestion))
}

func (h *Handler) clearSuggestions(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeSuggestionsAdmin) {
		writeError(w, http.StatusForbidden, "forbidden", "scope suggestions:admin required")
		return
	}

	deleted, err := h.store.ClearSuggestions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *Handler) storeAdmin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeSuggestionsAdmin) {
		writeError(w, http.StatusForbidden, "forbidden", "scope suggestions:admin required")
		return
	}

	counts, err := h.store.ResetStore(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	h.limiter.Reset()

	writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) limits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeSuggestionsRead) && !claims.HasScope(auth.ScopeSuggestionsAdmin) {
		writeError(w, http.StatusForbidden, "forbidden", "scope suggestions:read required")
		return
	}

	statuses := make([]ratelimit.Status, 0, len(h.lanes))
	for _, lane := range h.lanes {
		statuses = append(statuses, h.limiter.Status(lane))
	}
	writeJSON(w, http.StatusOK, LimitsResponse{Lanes: statuses})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeSuggestionsRead) && !claims.HasScope(auth.ScopeSuggestionsAdmin) {
		writeError(w, http.StatusForbidden, "forbidden", "scope suggestions:read required")
		return
	}

	head, err := h.store.Head(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := HealthResponse{
		Status:   "ok",
		Pipeline: h.engine.Snapshot(),
	}
	if head != nil {
		resp.StoreHead = &StoreHeadView{
			CreatedAt: head.CreatedAt,
			Hash:      head.Hash(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// SubmitActivityRequest is the payload for POST /v1/activities.
type SubmitActivityRequest struct {
	EventID    string    `json:"event_id,omitempty"`
	Content    string    `json:"content"`
	Source     string    `json:"source"`
	ObservedAt time.Time `json:"observed_at,omitempty"`
}

// SubmitActivityResponse acknowledges an accepted event.
type SubmitActivityResponse struct {
	EventID string `json:"event_id"`
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
}

// SuggestionView exposes a suggestion to API clients.
type SuggestionView struct {
	SuggestionID    string    `json:"suggestion_id"`
	EventID         string    `json:"event_id"`
	Lane            string    `json:"lane"`
	Title           string    `json:"title"`
	Body            string    `json:"body"`
	EvidenceRefs    []string  `json:"evidence_refs"`
	CoherenceScore  float64   `json:"coherence_score"`
	State           string    `json:"state"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// PollResponse carries new suggestions plus the advanced cursor.
type PollResponse struct {
	Suggestions []SuggestionView `json:"suggestions"`
	Cursor      string           `json:"cursor"`
}

// BrowseResponse packages filtered browse results.
type BrowseResponse struct {
	Items  []SuggestionView `json:"items"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// LimitsResponse reports per-lane budget state.
type LimitsResponse struct {
	Lanes []ratelimit.Status `json:"lanes"`
}

// StoreHeadView identifies the newest accepted suggestion.
type StoreHeadView struct {
	CreatedAt time.Time `json:"created_at"`
	Hash      string    `json:"hash"`
}

// HealthResponse combines service status with pipeline stats.
type HealthResponse struct {
	Status    string         `json:"status"`
	Pipeline  engine.Stats   `json:"pipeline"`
	StoreHead *StoreHeadView `json:"store_head,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toSuggestionView(s domain.Suggestion) SuggestionView {
	refs := s.EvidenceRefs
	if refs == nil {
		refs = []string{}
	}
	return SuggestionView{
		SuggestionID:    s.ID,
		EventID:         s.EventID,
		Lane:            string(s.Lane),
		Title:           s.Title,
		Body:            s.Body,
		EvidenceRefs:    refs,
		CoherenceScore:  s.CoherenceScore,
		State:           string(s.State),
		RejectionReason: string(s.RejectionReason),
		CreatedAt:       s.CreatedAt,
	}
}
