package generation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ArnavS-22/gumborebuild/internal/domain"
	"github.com/ArnavS-22/gumborebuild/internal/evidence"
)

func TestParseCandidatesPlainArray(t *testing.T) {
	raw := `[{"title":"Fix the error","body":"Check calculate_total()","evidence":["line 45"]}]`
	candidates, err := ParseCandidates(raw, domain.LaneImmediate)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, domain.LaneImmediate, candidates[0].Lane)
	require.Equal(t, []string{"line 45"}, candidates[0].ClaimedEvidence)
}

func TestParseCandidatesFencedWithProse(t *testing.T) {
	raw := "Here you go:\n```json\n[{\"title\":\"t\",\"body\":\"b\",\"evidence\":[\"x\"]}]\n```"
	candidates, err := ParseCandidates(raw, domain.LanePattern)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, domain.LanePattern, candidates[0].Lane)
}

func TestParseCandidatesDropsBlankEntries(t *testing.T) {
	raw := `[{"title":"","body":"b"},{"title":"ok","body":"body","evidence":[]}]`
	candidates, err := ParseCandidates(raw, domain.LaneImmediate)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "ok", candidates[0].Title)
}

func TestParseCandidatesNoArray(t *testing.T) {
	_, err := ParseCandidates("sorry, I cannot help", domain.LaneImmediate)
	require.ErrorIs(t, err, ErrNoCandidates)
}

func TestParseCandidatesAllBlank(t *testing.T) {
	_, err := ParseCandidates(`[{"title":" ","body":""}]`, domain.LaneImmediate)
	require.ErrorIs(t, err, ErrNoCandidates)
}

func TestBuildPromptCarriesEvidenceRules(t *testing.T) {
	pc := PromptContext{
		Event: domain.ActivityEvent{Content: "Editing billing.go in VSCode"},
		Facts: evidence.Extract("Editing billing.go in VSCode"),
		Lane:  domain.LaneImmediate,
	}
	prompt := buildPrompt(pc)

	require.True(t, strings.Contains(prompt, "billing.go"))
	require.True(t, strings.Contains(prompt, "verbatim"))
	require.True(t, strings.Contains(prompt, "LANE: immediate"))
}
