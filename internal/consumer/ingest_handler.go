package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ArnavS-22/gumborebuild/internal/domain"
)

// TaskSubmitter spawns a pipeline unit for a persisted event.
type TaskSubmitter interface {
	Submit(eventID string) error
}

// observation is the JSON body capture agents publish for each event.
type observation struct {
	EventID    string    `json:"event_id"`
	Content    string    `json:"content"`
	Source     string    `json:"source"`
	ObservedAt time.Time `json:"observed_at"`
}

// IngestHandler persists observed activity and hands it to the pipeline.
type IngestHandler struct {
	events    domain.EventRepository
	submitter TaskSubmitter
	logger    *log.Logger
}

// NewIngestHandler constructs an IngestHandler. The logger may be nil.
func NewIngestHandler(events domain.EventRepository, submitter TaskSubmitter, logger *log.Logger) *IngestHandler {
	if logger == nil {
		logger = log.New(log.Writer(), "[ingest] ", log.LstdFlags)
	}
	return &IngestHandler{events: events, submitter: submitter, logger: logger}
}

// Handle decodes one observation, stores it, and submits it for suggestion
// generation. Redelivered observations (same event id) are acknowledged
// without a second pipeline run.
func (h *IngestHandler) Handle(ctx context.Context, msg Message) error {
	var obs observation
	if err := json.Unmarshal(msg.Payload, &obs); err != nil {
		return fmt.Errorf("decode observation: %w", err)
	}

	if obs.EventID == "" {
		// Producers without ids get one; such events cannot be deduplicated
		// across redeliveries.
		obs.EventID = uuid.NewString()
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = msg.Timestamp
	}

	event := domain.ActivityEvent{
		ID:         obs.EventID,
		Content:    obs.Content,
		Source:     obs.Source,
		ObservedAt: obs.ObservedAt,
		CreatedAt:  time.Now().UTC(),
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid observation at offset %d: %w", msg.Offset, err)
	}

	if err := h.events.CreateEvent(ctx, event); err != nil {
		if errors.Is(err, domain.ErrEventExists) {
			h.logger.Printf("duplicate observation event=%s, skipping", event.ID)
			return nil
		}
		return fmt.Errorf("persist observation: %w", err)
	}

	if err := h.submitter.Submit(event.ID); err != nil {
		// The event is durable; a missed submission only costs this
		// event's suggestions.
		h.logger.Printf("submit event=%s: %v", event.ID, err)
	}
	return nil
}
