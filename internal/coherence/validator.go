// Package coherence decides whether a generated candidate is grounded in the
// activity evidence that triggered it. It is fully deterministic: the same
// candidate and content always produce the same verdict, with no calls out
// of process, so it is testable in isolation from the generator.
package coherence

import (
	"strings"

	"github.com/ArnavS-22/gumborebuild/internal/domain"
)

// DefaultAcceptanceThreshold is the minimum score an accepted candidate needs.
const DefaultAcceptanceThreshold = 0.6

// Scoring weights. Direct evidence dominates; pattern consistency and
// context coherence refine; every unsupported claim costs a flat penalty.
const (
	weightDirectEvidence     = 0.5
	weightPatternConsistency = 0.3
	weightContextCoherence   = 0.2
	unsupportedClaimPenalty  = 0.15
)

// vicinityWindow is how many words on each side of an assumption phrase must
// be evidence-backed for the phrase to count as supported.
const vicinityWindow = 3

// Verdict is the validator's output for one candidate.
type Verdict struct {
	Accepted bool
	Score    float64
	Reason   domain.RejectionReason
	// EvidenceRefs holds the verbatim content slices for every claimed
	// fragment that matched. Only meaningful when Accepted.
	EvidenceRefs []string
	// Unsupported lists claimed fragments and assumption phrases that could
	// not be traced to the content. Kept for rejection logging.
	Unsupported []string
}

// Validator scores candidates against event content.
type Validator struct {
	threshold float64
}

// New constructs a Validator; a non-positive threshold falls back to the default.
func New(threshold float64) *Validator {
	if threshold <= 0 {
		threshold = DefaultAcceptanceThreshold
	}
	return &Validator{threshold: threshold}
}

// Validate runs the three-step check: evidence mapping, assumption
// detection, scoring. The verdict's Reason is set iff Accepted is false.
func (v *Validator) Validate(c domain.Candidate, content string) Verdict {
	if strings.TrimSpace(c.Title) == "" || strings.TrimSpace(c.Body) == "" {
		return Verdict{Reason: domain.RejectMalformed}
	}
	if len(c.ClaimedEvidence) == 0 {
		return Verdict{Reason: domain.RejectNoEvidence}
	}

	nc := normalize(content)

	// Step 1: evidence mapping. Every claimed fragment must be a verbatim
	// (case-insensitive, whitespace-normalised) substring of the content.
	var (
		matched     []string
		matchedNorm []string
		unsupported []string
		phantom     bool
	)
	for _, claim := range c.ClaimedEvidence {
		if ref, ok := nc.find(content, claim); ok {
			matched = append(matched, ref)
			matchedNorm = append(matchedNorm, normalize(claim).String())
			continue
		}
		unsupported = append(unsupported, claim)
		// A claim whose meaningful words are entirely absent from the event
		// references an entity the user never saw; that is an automatic
		// rejection regardless of score.
		if claimIsPhantom(nc, claim) {
			phantom = true
		}
	}

	// Step 2: assumption detection over the candidate body.
	phrases, supportedPhrases := v.detectAssumptions(c.Body, matchedNorm)
	unsupported = append(unsupported, phrases...)

	// Step 3: scoring.
	directEvidenceRatio := float64(len(matched)) / float64(len(c.ClaimedEvidence))
	patternConsistency := 1.0
	if total := len(phrases) + supportedPhrases; total > 0 {
		patternConsistency = float64(supportedPhrases) / float64(total)
	}
	contextCoherence := overlapRatio(c.Body, nc)

	score := directEvidenceRatio*weightDirectEvidence +
		patternConsistency*weightPatternConsistency +
		contextCoherence*weightContextCoherence -
		unsupportedClaimPenalty*float64(len(unsupported))
	score = clamp(score, 0, 1)

	verdict := Verdict{Score: score, Unsupported: unsupported}
	switch {
	case phantom:
		verdict.Reason = domain.RejectUnverifiedEntity
	case len(matched) == 0:
		verdict.Reason = domain.RejectNoEvidence
	case score < v.threshold:
		verdict.Reason = domain.RejectLowScore
	default:
		verdict.Accepted = true
		verdict.EvidenceRefs = matched
	}
	return verdict
}

// detectAssumptions scans the body for lexicon phrases. It returns the
// phrases whose vicinity is not fully evidence-backed, plus the count of
// phrases that passed.
func (v *Validator) detectAssumptions(body string, matchedNorm []string) (unsupported []string, supported int) {
	normBody := normalize(body).String()
	words := strings.Fields(normBody)

	for _, phrase := range assumptionLexicon {
		idx := strings.Index(normBody, phrase)
		if idx < 0 {
			continue
		}
		if vicinitySupported(words, phrase, matchedNorm) {
			supported++
		} else {
			unsupported = append(unsupported, phrase)
		}
	}
	return unsupported, supported
}

// vicinitySupported reports whether every significant word within the window
// around the phrase occurrence appears in some verified evidence fragment.
func vicinitySupported(bodyWords []string, phrase string, matchedNorm []string) bool {
	phraseWords := strings.Fields(phrase)
	start := wordIndex(bodyWords, phraseWords)
	if start < 0 {
		return false
	}

	lo := max(0, start-vicinityWindow)
	hi := min(len(bodyWords), start+len(phraseWords)+vicinityWindow)
	vicinity := strings.Join(bodyWords[lo:start], " ") + " " + strings.Join(bodyWords[start+len(phraseWords):hi], " ")

	sig := significantWords(vicinity)
	if len(sig) == 0 {
		return false
	}
	for _, w := range sig {
		if !wordInFragments(w, matchedNorm) {
			return false
		}
	}
	return true
}

func wordInFragments(word string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(f, word) {
			return true
		}
	}
	return false
}

func wordIndex(words, sub []string) int {
	for i := 0; i+len(sub) <= len(words); i++ {
		ok := true
		for j := range sub {
			if words[i+j] != sub[j] {
				ok = false
				break
			}
		}
		if ok {
			return i
		}
	}
	return -1
}

// claimIsPhantom reports whether none of the claim's significant words occur
// anywhere in the content.
func claimIsPhantom(nc normText, claim string) bool {
	sig := significantWords(claim)
	if len(sig) == 0 {
		return false
	}
	for _, w := range sig {
		if nc.contains(w) {
			return false
		}
	}
	return true
}

// overlapRatio is the fraction of the body's significant words present in
// the content. It measures whether the candidate is talking about the same
// things the user is looking at.
func overlapRatio(body string, nc normText) float64 {
	sig := significantWords(body)
	if len(sig) == 0 {
		return 0
	}
	hits := 0
	for _, w := range sig {
		if nc.contains(w) {
			hits++
		}
	}
	return float64(hits) / float64(len(sig))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
