// Package generation defines the candidate generator boundary. The reasoning
// service behind it is opaque: given a prompt context it returns zero or more
// candidates, fallibly and with latency. Callers own the timeout.
package generation

import (
	"context"
	"errors"

	"github.com/ArnavS-22/gumborebuild/internal/domain"
	"github.com/ArnavS-22/gumborebuild/internal/evidence"
)

// ErrNoCandidates signals the service responded but produced nothing usable.
var ErrNoCandidates = errors.New("generator returned no candidates")

// PromptContext carries everything the generator may see about one event.
type PromptContext struct {
	Event domain.ActivityEvent
	Facts evidence.Facts
	Lane  domain.Lane
}

// Generator produces suggestion candidates for a prompt context.
type Generator interface {
	Generate(ctx context.Context, pc PromptContext) ([]domain.Candidate, error)
}
