// Package delivery implements the poll protocol: conditional fetch against
// the store head, cursor advancement, and per-client delivery marking. The
// server keeps no per-client state; everything it trusts arrives in the
// cursor.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ArnavS-22/gumborebuild/internal/domain"
	"github.com/ArnavS-22/gumborebuild/internal/observability"
	"github.com/ArnavS-22/gumborebuild/internal/persistence"
)

// DefaultMaxBatch caps how many suggestions one poll response carries.
const DefaultMaxBatch = 50

// ErrBadCursor rejects cursors the server cannot decode.
var ErrBadCursor = errors.New("malformed cursor")

// PollResult is the outcome of one poll call.
type PollResult struct {
	NotModified  bool
	Suggestions  []domain.Suggestion
	Cursor       string
	LastModified time.Time
}

// Service answers poll requests from the suggestion store.
type Service struct {
	repo     domain.SuggestionRepository
	maxBatch int
}

// NewService constructs a Service; maxBatch <= 0 uses the default.
func NewService(repo domain.SuggestionRepository, maxBatch int) *Service {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &Service{repo: repo, maxBatch: maxBatch}
}

// Poll compares the client's checkpoint against the store head. When the
// client is current it returns the cheap not-modified path; otherwise it
// returns everything accepted past the checkpoint and an advanced cursor,
// marking each returned suggestion delivered for this client.
func (s *Service) Poll(ctx context.Context, clientID, cursorToken string, ifModifiedSince *time.Time) (*PollResult, error) {
	cursor, err := persistence.DecodeCursor(cursorToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}

	head, err := s.repo.Head(ctx)
	if err != nil {
		return nil, err
	}
	if head == nil {
		// Nothing accepted yet: keep whatever cursor the client sent.
		observability.RecordPollResponse("not_modified")
		return &PollResult{NotModified: true, Cursor: cursorToken}, nil
	}

	if cursor != nil && cursor.Hash == head.Hash() {
		observability.RecordPollResponse("not_modified")
		return &PollResult{NotModified: true, Cursor: cursorToken, LastModified: head.CreatedAt}, nil
	}
	if ifModifiedSince != nil && !head.CreatedAt.Truncate(time.Second).After(ifModifiedSince.Truncate(time.Second)) {
		observability.RecordPollResponse("not_modified")
		return &PollResult{NotModified: true, Cursor: cursorToken, LastModified: head.CreatedAt}, nil
	}

	var after time.Time
	var afterID string
	if cursor != nil {
		after = cursor.LastSeen
		afterID = cursor.LastID
	}

	batch, err := s.repo.AcceptedAfter(ctx, after, afterID, s.maxBatch)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		observability.RecordPollResponse("empty")
		return &PollResult{NotModified: true, Cursor: cursorToken, LastModified: head.CreatedAt}, nil
	}

	for _, sg := range batch {
		if err := s.repo.MarkDelivered(ctx, sg.ID, clientID); err != nil {
			return nil, err
		}
	}

	last := batch[len(batch)-1]
	next := &persistence.Cursor{
		LastSeen: last.CreatedAt,
		Hash:     domain.Head{CreatedAt: last.CreatedAt, ID: last.ID}.Hash(),
		LastID:   last.ID,
	}

	observability.RecordPollResponse("batch")
	return &PollResult{
		Suggestions:  batch,
		Cursor:       persistence.EncodeCursor(next),
		LastModified: head.CreatedAt,
	}, nil
}
