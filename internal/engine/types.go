package engine

import (
	"time"

	"github.com/josephrichard7/proxmox-mpc-sub010/internal/rules"
)

const (
	// RedactionMarker replaces values that are discarded instead of
	// pseudonymized.
	RedactionMarker = "[REDACTED]"
	// CycleMarker substitutes any node reachable from itself through a
	// containment chain.
	CycleMarker = "[CIRCULAR_REFERENCE]"
	// UnprocessableMarker substitutes nodes the traversal cannot represent
	// (functions, channels, non-string map keys).
	UnprocessableMarker = "[UNPROCESSABLE]"
)

// Options controls a single anonymization call.
type Options struct {
	// EnablePseudonyms selects deterministic pseudonyms for matching rules;
	// when false every match is redacted.
	EnablePseudonyms bool
	// PreserveStructure keeps the input shape. When false the engine may
	// flatten nested structures to a single string before scanning.
	PreserveStructure bool
	// MaxProcessingTime bounds the call. On exhaustion the engine returns
	// the best-effort partial result and counts the event as an error.
	MaxProcessingTime time.Duration
	// HashSalt seeds pseudonym generation for originals first seen in this
	// call; empty falls back to the salt the mapping table was constructed
	// with. Already-recorded originals keep their recorded pseudonym.
	HashSalt string
}

// DefaultHashSalt is the fixed salt used when callers do not provide one.
const DefaultHashSalt = "proxmox-mpc-anonymizer"

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		EnablePseudonyms:  true,
		PreserveStructure: true,
		MaxProcessingTime: 5 * time.Second,
		HashSalt:          DefaultHashSalt,
	}
}

// Metadata describes what a call did to the data.
type Metadata struct {
	// RulesApplied is the deduplicated set of rule types triggered.
	RulesApplied []string `json:"rulesApplied"`
	// PseudonymsUsed counts pseudonym substitutions in this call.
	PseudonymsUsed int `json:"pseudonymsUsed"`
	// ProcessingTimeMs is the wall time spent in the call.
	ProcessingTimeMs int64 `json:"processingTimeMs"`
	// IsAnonymized is false when the time budget expired and the result is
	// a partial best effort.
	IsAnonymized bool `json:"isAnonymized"`
	// PreservedStructure echoes the option the call ran with.
	PreservedStructure bool `json:"preservedStructure"`
}

// Result pairs the shape-preserving anonymized data with call metadata.
// Results are created fresh per call and never retained by the engine.
type Result struct {
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
}

// Stats are the engine's running totals since start or the last Reset.
type Stats struct {
	TotalProcessed        int64                `json:"totalProcessed"`
	TotalPseudonyms       int64                `json:"totalPseudonyms"`
	AverageProcessingTime float64              `json:"averageProcessingTime"`
	ErrorRate             float64              `json:"errorRate"`
	RulesUsage            map[rules.Type]int64 `json:"rulesUsage"`
}
