package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/ArnavS-22/gumborebuild/internal/domain"
)

// GeminiConfig selects the models the generator tries, in order. The
// fallback is a lower-cost model attempted once when the primary fails.
type GeminiConfig struct {
	APIKey        string
	Model         string
	FallbackModel string
	Temperature   float32
}

// GeminiGenerator calls the Gemini API and parses its JSON reply into
// candidates. Cancellation and the per-call deadline come from ctx.
type GeminiGenerator struct {
	client *genai.Client
	models []string
	temp   float32
}

// NewGemini constructs the generator and its underlying client.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, err
	}

	models := []string{cfg.Model}
	if cfg.FallbackModel != "" && cfg.FallbackModel != cfg.Model {
		models = append(models, cfg.FallbackModel)
	}
	return &GeminiGenerator{client: client, models: models, temp: cfg.Temperature}, nil
}

// Generate prompts each configured model until one returns parseable
// candidates. Context errors abort immediately; other failures fall through
// to the next model.
func (g *GeminiGenerator) Generate(ctx context.Context, pc PromptContext) ([]domain.Candidate, error) {
	prompt := buildPrompt(pc)

	var lastErr error
	for _, model := range g.models {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		config := &genai.GenerateContentConfig{
			Temperature:      genai.Ptr(g.temp),
			ResponseMIMEType: "application/json",
		}
		result, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), config)
		if err != nil {
			lastErr = err
			continue
		}
		if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
			lastErr = ErrNoCandidates
			continue
		}

		candidates, err := ParseCandidates(result.Candidates[0].Content.Parts[0].Text, pc.Lane)
		if err != nil {
			lastErr = err
			continue
		}
		return candidates, nil
	}
	return nil, fmt.Errorf("all generator models failed: %w", lastErr)
}

// buildPrompt renders the grounding-heavy instruction block. The rules
// mirror what the validator will enforce so well-behaved replies survive it.
func buildPrompt(pc PromptContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You observe a user's screen activity and propose at most 3 short suggestions.\n\n")
	fmt.Fprintf(&b, "ACTIVITY (observed %s):\n%s\n\n", pc.Event.ObservedAt.Format("2006-01-02 15:04:05"), pc.Event.Content)

	if !pc.Facts.Empty() {
		b.WriteString("DETECTED FACTS:\n")
		writeFactLine(&b, "apps", pc.Facts.Apps)
		writeFactLine(&b, "files", pc.Facts.Files)
		writeFactLine(&b, "functions", pc.Facts.Functions)
		writeFactLine(&b, "urls", pc.Facts.URLs)
		writeFactLine(&b, "errors", pc.Facts.Errors)
		b.WriteString("\n")
	}

	switch pc.Lane {
	case domain.LanePattern:
		b.WriteString("LANE: pattern. Only suggest follow-ups for behaviour visible in this activity.\n")
	default:
		b.WriteString("LANE: immediate. Only suggest help with what is on screen right now.\n")
	}

	b.WriteString(`
RULES:
1. Every suggestion MUST quote verbatim fragments of the ACTIVITY text as evidence.
2. Never invent apps, files, people, or goals that do not appear above.
3. No generic advice; reference the concrete evidence.

Reply with a JSON array only:
[{"title": "...", "body": "...", "evidence": ["verbatim fragment", "..."]}]
`)
	return b.String()
}

func writeFactLine(b *strings.Builder, label string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", label, strings.Join(values, ", "))
}

type candidatePayload struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Evidence []string `json:"evidence"`
}

// ParseCandidates decodes a model reply, tolerating markdown fences and
// stray prose around the JSON array.
func ParseCandidates(raw string, lane domain.Lane) ([]domain.Candidate, error) {
	cleaned := extractJSONArray(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: no JSON array in reply", ErrNoCandidates)
	}

	var payloads []candidatePayload
	if err := json.Unmarshal([]byte(cleaned), &payloads); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}

	out := make([]domain.Candidate, 0, len(payloads))
	for _, p := range payloads {
		if strings.TrimSpace(p.Title) == "" || strings.TrimSpace(p.Body) == "" {
			continue
		}
		out = append(out, domain.Candidate{
			Lane:            lane,
			Title:           p.Title,
			Body:            p.Body,
			ClaimedEvidence: p.Evidence,
		})
	}
	if len(out) == 0 {
		return nil, ErrNoCandidates
	}
	return out, nil
}

func extractJSONArray(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
