package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// StoreResult reports the outcome of persisting an accepted suggestion.
type StoreResult string

const (
	StoreResultStored    StoreResult = "stored"
	StoreResultDuplicate StoreResult = "duplicate"
)

// QueryFilter narrows historical suggestion browsing.
type QueryFilter struct {
	Lane     Lane
	MinScore float64
	Since    time.Time
	State    SuggestionState
}

// Head identifies the newest accepted suggestion. Poll responses are keyed
// off it: a client whose cursor hash matches the head hash is up to date.
type Head struct {
	CreatedAt time.Time
	ID        string
}

// Hash returns a stable digest of the head position.
func (h Head) Hash() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s", h.CreatedAt.UTC().UnixNano(), h.ID)))
	return hex.EncodeToString(sum[:8])
}

// ResetCounts reports rows removed by a full store reset.
type ResetCounts struct {
	Events      int64 `json:"events"`
	Suggestions int64 `json:"suggestions"`
	Deliveries  int64 `json:"deliveries"`
	Outbox      int64 `json:"outbox"`
}

// EventRepository persists immutable activity events.
type EventRepository interface {
	CreateEvent(ctx context.Context, event ActivityEvent) error
	GetEvent(ctx context.Context, id string) (*ActivityEvent, error)
}

// SuggestionRepository captures persistence operations for suggestions.
//
// SaveAccepted must guarantee at most one accepted row per dedup key per
// window; the constraint lives in storage, not application code, so
// concurrent pipeline units cannot race past it.
type SuggestionRepository interface {
	SaveAccepted(ctx context.Context, s Suggestion, dedupWindow time.Duration) (StoreResult, error)
	SaveRejected(ctx context.Context, s Suggestion) error
	Get(ctx context.Context, id string) (*Suggestion, error)
	Query(ctx context.Context, filter QueryFilter, limit, offset int) ([]Suggestion, error)
	Head(ctx context.Context) (*Head, error)
	AcceptedAfter(ctx context.Context, after time.Time, afterID string, limit int) ([]Suggestion, error)
	MarkDelivered(ctx context.Context, suggestionID, clientID string) error
	ClearSuggestions(ctx context.Context) (int64, error)
	ResetStore(ctx context.Context) (ResetCounts, error)
}
