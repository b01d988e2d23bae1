// Package execute applies model-supplied mutations to the editable
// document and classifies whether they took effect.
//
// The imperative path interprets a closed instruction set instead of
// executing model-generated code: unsafe verbs are structurally
// impossible, and the denylist screen on legacy free-text payloads is
// defense-in-depth rather than the safety mechanism.
package execute

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnsafeInstruction is returned when a legacy operation payload contains
// a denylisted primitive. Fatal for the attempt, never retried.
var ErrUnsafeInstruction = errors.New("execute: unsafe instruction")

// ErrNoEffect is returned when the imperative path ran without error but
// verification found no change. The caller attempts the textual fallback.
var ErrNoEffect = errors.New("execute: no effect")

// NoEffectError carries the diagnostic the verification pass selected.
// It unwraps to ErrNoEffect; the diagnostic is safe to show the user.
type NoEffectError struct {
	Diagnostic string
}

func (e *NoEffectError) Error() string { return ErrNoEffect.Error() + ": " + e.Diagnostic }
func (e *NoEffectError) Unwrap() error { return ErrNoEffect }

// Verb is an operation of the closed instruction set.
type Verb string

const (
	VerbSetContent    Verb = "set-content"
	VerbSetAttribute  Verb = "set-attribute"
	VerbSetStyle      Verb = "set-style"
	VerbAddClass      Verb = "add-class"
	VerbRemoveClass   Verb = "remove-class"
	VerbRemoveNode    Verb = "remove-node"
	VerbClearChildren Verb = "clear-children"
)

// destructiveVerbs are permitted (some instructions legitimately require
// removal) but logged as warnings.
var destructiveVerbs = map[Verb]bool{
	VerbRemoveNode:    true,
	VerbClearChildren: true,
}

// Instruction is one operation against the capability surface.
// Target is a CSS criterion, or the literal "selected" for the node
// currently selected in the editor.
type Instruction struct {
	Verb   Verb   `json:"op"`
	Target string `json:"target"`
	Name   string `json:"name,omitempty"`
	Value  string `json:"value,omitempty"`
}

// Result is the model's answer in one of its two shapes. Exactly one
// variant is populated: Operations/LegacyOperations (imperative) or
// NewMarkup/NewStylesheet (replacement).
type Result struct {
	Explanation string

	// Imperative variant.
	Operations       []Instruction
	LegacyOperations string // free-text payload from older model revisions

	// Replacement variant.
	NewMarkup     string
	NewStylesheet string
}

// IsReplacement reports whether the result carries a full document
// replacement.
func (r *Result) IsReplacement() bool {
	return r.NewMarkup != "" || r.NewStylesheet != ""
}

// DecodeOperations parses the wire `operations` field, which is either a
// JSON array of instructions or a string payload from older revisions.
// String payloads that themselves contain a JSON array are decoded; other
// strings are returned as legacy text for screening.
func DecodeOperations(raw json.RawMessage) (ops []Instruction, legacy string, err error) {
	if len(raw) == 0 {
		return nil, "", nil
	}
	if err := json.Unmarshal(raw, &ops); err == nil {
		return ops, "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, "", fmt.Errorf("execute: undecodable operations payload")
	}
	var nested []Instruction
	if err := json.Unmarshal([]byte(s), &nested); err == nil {
		return nested, "", nil
	}
	return nil, s, nil
}

// Tracker holds the mutable counters of a single execution attempt.
// Created fresh per attempt, discarded after verification.
type Tracker struct {
	Lookups      int
	NodesMatched int
	NodesMutated int
	Errors       []string
}

// Outcome is the classified result of one Apply.
type Outcome struct {
	Applied    bool
	Diagnostic string // user-safe, set when not applied
	Warnings   []string

	MarkupChanged     bool
	StylesheetChanged bool
	NodeDelta         int
	Tracker           Tracker
}
