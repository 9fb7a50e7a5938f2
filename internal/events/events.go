// Package events defines the payloads published through the outbox.
package events

import "time"

// ActivityReceived is emitted when a new activity event is accepted for
// processing.
type ActivityReceived struct {
	EventID    string    `json:"event_id"`
	Source     string    `json:"source"`
	ObservedAt time.Time `json:"observed_at"`
}

// SuggestionAccepted is emitted when a validated suggestion is persisted.
// Downstream surfaces (notification fan-out, dashboards) subscribe to this
// instead of polling the store.
type SuggestionAccepted struct {
	SuggestionID   string    `json:"suggestion_id"`
	EventID        string    `json:"event_id"`
	Lane           string    `json:"lane"`
	Title          string    `json:"title"`
	CoherenceScore float64   `json:"coherence_score"`
	CreatedAt      time.Time `json:"created_at"`
}
