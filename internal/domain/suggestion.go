package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Lane is a named suggestion category with its own rate budget.
type Lane string

const (
	// LaneImmediate carries advice about what is on screen right now.
	LaneImmediate Lane = "immediate"
	// LanePattern carries suggestions derived from recurring behaviour.
	LanePattern Lane = "pattern"
)

// DefaultLanes is the set processed for every event unless configured otherwise.
var DefaultLanes = []Lane{LaneImmediate, LanePattern}

// SuggestionState tracks the lifecycle of a suggestion. A suggestion moves
// pending -> accepted or pending -> rejected exactly once; "delivered" is a
// per-client fact recorded separately, never a mutation of the row itself.
type SuggestionState string

const (
	SuggestionStatePending  SuggestionState = "pending"
	SuggestionStateAccepted SuggestionState = "accepted"
	SuggestionStateRejected SuggestionState = "rejected"
)

// RejectionReason explains why the validator refused a candidate.
type RejectionReason string

const (
	RejectNoEvidence       RejectionReason = "no_evidence"
	RejectLowScore         RejectionReason = "low_score"
	RejectUnverifiedEntity RejectionReason = "unverified_entity"
	RejectMalformed        RejectionReason = "malformed"
)

// Candidate is raw generator output before validation. ClaimedEvidence holds
// the fragments the generator asserts were quoted from the event content;
// nothing about them is trusted until the coherence check runs.
type Candidate struct {
	Lane            Lane
	Title           string
	Body            string
	ClaimedEvidence []string
}

// Suggestion is the unit of value delivered to a client.
type Suggestion struct {
	ID              string
	EventID         string
	Lane            Lane
	Title           string
	Body            string
	EvidenceRefs    []string
	CoherenceScore  float64
	State           SuggestionState
	RejectionReason RejectionReason
	DedupKey        string
	CreatedAt       time.Time
}

// DedupKey derives the stable collapse key for a candidate: a hash of the
// lane and the normalised body, so near-identical re-generations within the
// dedup window fold into one stored row.
func (c Candidate) DedupKey() string {
	h := sha256.Sum256([]byte(string(c.Lane) + "\x00" + NormalizeText(c.Body)))
	return hex.EncodeToString(h[:])
}

// NormalizeText lowercases and collapses all whitespace runs to single
// spaces. Both dedup keys and evidence matching use this normal form.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
