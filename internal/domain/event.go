// Package domain defines the core types moved through the suggestion pipeline.
package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrEventNotFound is returned when an activity event cannot be located.
	ErrEventNotFound = errors.New("activity event not found")
	// ErrEventExists is returned when an event id has already been ingested.
	ErrEventExists = errors.New("activity event already exists")
	// ErrSuggestionNotFound is returned when a suggestion cannot be located.
	ErrSuggestionNotFound = errors.New("suggestion not found")
	// ErrEmptyContent rejects events with nothing to analyse.
	ErrEmptyContent = errors.New("activity content is empty")
)

// ActivityEvent is an immutable observation captured upstream (screen
// transcription, window focus change, and so on). The pipeline reads it by
// id after the ingesting transaction has committed; it is never mutated.
type ActivityEvent struct {
	ID         string
	Content    string
	Source     string
	ObservedAt time.Time
	CreatedAt  time.Time
}

// Validate checks the fields an event must carry before it may be persisted.
func (e ActivityEvent) Validate() error {
	if strings.TrimSpace(e.Content) == "" {
		return ErrEmptyContent
	}
	if e.ObservedAt.IsZero() {
		return errors.New("observed_at is required")
	}
	return nil
}
