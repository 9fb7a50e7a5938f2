// Package pollclient implements the client half of the suggestion poll
// protocol: conditional fetches with a server-issued cursor, and an adaptive
// cadence that backs off while the store is quiet.
package pollclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	// BaseInterval is the cadence while suggestions are flowing.
	BaseInterval = 30 * time.Second
	// MaxInterval caps the backed-off cadence.
	MaxInterval = 300 * time.Second
	// ErrorThreshold is how many consecutive failures suspend polling.
	ErrorThreshold = 5
	// InactivityWindow is how long without user activity before the
	// interval doubles regardless of poll outcomes.
	InactivityWindow = 5 * time.Minute
)

// ErrSuspended is returned while polling is suspended; only Resume clears it.
var ErrSuspended = errors.New("polling suspended after repeated errors")

// Suggestion is one delivered item.
type Suggestion struct {
	SuggestionID   string    `json:"suggestion_id"`
	EventID        string    `json:"event_id"`
	Lane           string    `json:"lane"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	EvidenceRefs   []string  `json:"evidence_refs"`
	CoherenceScore float64   `json:"coherence_score"`
	CreatedAt      time.Time `json:"created_at"`
}

type pollResponse struct {
	Suggestions []Suggestion `json:"suggestions"`
	Cursor      string       `json:"cursor"`
}

// Client polls the suggestion service, holding the cursor and cadence state
// between calls. Safe for use from one goroutine; guard externally otherwise.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	mu           sync.Mutex
	cursor       string
	lastModified string
	interval     time.Duration
	errStreak    int
	suspended    bool
	lastActivity time.Time
	now          func() time.Time
}

// New constructs a Client. httpClient may be nil.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
		interval:   BaseInterval,
		now:        time.Now,
	}
}

// Interval reports the current wait between polls.
func (c *Client) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Suspended reports whether polling has shut itself off.
func (c *Client) Suspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended
}

// Resume clears suspension and restores the base cadence. Call it from the
// user action that re-enables suggestions.
func (c *Client) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspended = false
	c.errStreak = 0
	c.interval = BaseInterval
}

// MarkActive records user activity; the inactivity doubling keys off it.
func (c *Client) MarkActive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = c.now()
}

// Poll performs one conditional fetch and adapts the cadence from its
// outcome. An empty slice with a nil error means the store had nothing new.
func (c *Client) Poll(ctx context.Context) ([]Suggestion, error) {
	c.mu.Lock()
	if c.suspended {
		c.mu.Unlock()
		return nil, ErrSuspended
	}
	cursor := c.cursor
	lastModified := c.lastModified
	c.mu.Unlock()

	suggestions, newCursor, newLastModified, err := c.fetch(ctx, cursor, lastModified)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.errStreak++
		if c.errStreak >= ErrorThreshold {
			c.suspended = true
		}
		c.adaptLocked(false)
		return nil, err
	}

	c.errStreak = 0
	if newCursor != "" {
		c.cursor = newCursor
	}
	if newLastModified != "" {
		c.lastModified = newLastModified
	}
	c.adaptLocked(len(suggestions) > 0)
	return suggestions, nil
}

// Run polls in a loop, invoking handler for every non-empty batch, until ctx
// is cancelled or polling suspends.
func (c *Client) Run(ctx context.Context, handler func([]Suggestion)) error {
	for {
		suggestions, err := c.Poll(ctx)
		if errors.Is(err, ErrSuspended) || ctx.Err() != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err == nil && len(suggestions) > 0 && handler != nil {
			handler(suggestions)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.Interval()):
		}
	}
}

// adaptLocked recomputes the cadence: non-empty responses snap back to base,
// quiet or failed polls double toward the cap, and a stale user doubles the
// result once more.
func (c *Client) adaptLocked(gotNew bool) {
	if gotNew {
		c.interval = BaseInterval
	} else {
		c.interval *= 2
		if c.interval > MaxInterval {
			c.interval = MaxInterval
		}
	}

	if !c.lastActivity.IsZero() && c.now().Sub(c.lastActivity) > InactivityWindow {
		c.interval *= 2
		if c.interval > MaxInterval {
			c.interval = MaxInterval
		}
	}
}

func (c *Client) fetch(ctx context.Context, cursor, lastModified string) ([]Suggestion, string, string, error) {
	url := c.baseURL + "/v1/suggestions"
	if cursor != "" {
		url += "?cursor=" + cursor
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return nil, "", "", nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", "", fmt.Errorf("poll failed: status %d: %s", resp.StatusCode, body)
	}

	var payload pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, "", "", fmt.Errorf("decode poll response: %w", err)
	}
	return payload.Suggestions, payload.Cursor, resp.Header.Get("Last-Modified"), nil
}
