package assist

import (
	"github.com/Kurisu21/webeenthere-sub000/assist/internal/execute"
	"github.com/Kurisu21/webeenthere-sub000/assist/internal/store"
)

// Re-exported internal types so callers never import internal packages.
type (
	// Instruction is a single closed-set edit primitive.
	Instruction = execute.Instruction

	// MutationResult is a decoded upstream suggestion: either imperative
	// operations or a whole-document replacement.
	MutationResult = execute.Result

	// Outcome reports what applying a suggestion actually did.
	Outcome = execute.Outcome

	// Tracker carries per-application mutation counters.
	Tracker = execute.Tracker

	// HistoryEntry is one stored conversation message.
	HistoryEntry = store.HistoryEntry
)

// MutationRequest is one user-visible request against a website document.
type MutationRequest struct {
	// Instruction is the user's free-text ask. Empty means autonomous mode:
	// the assistant proposes one improvement on its own.
	Instruction string `json:"instruction"`

	// Selection optionally scopes the request to a CSS criterion resolved
	// against the current document before the prompt is built.
	Selection string `json:"selection,omitempty"`

	// DeviceContext names the editing viewport, e.g. "mobile".
	DeviceContext string `json:"deviceContext,omitempty"`
}

// ConversationState is the explicit per-session conversation identity and
// auto-suggest bookkeeping.
type ConversationState struct {
	// ConversationID threads multi-turn context through the upstream
	// service. Empty until the first successful exchange.
	ConversationID string `json:"conversationId"`

	// LastFingerprint is a digest of the document content at the last
	// applied suggestion, used to detect edits made since.
	LastFingerprint string `json:"lastFingerprint"`

	// PendingEdits counts manual edits since the last suggestion.
	PendingEdits int `json:"pendingEdits"`

	// AutoSuggestArmed is true until the user interacts with the assistant
	// directly. Once disarmed it stays disarmed for the document's lifetime.
	AutoSuggestArmed bool `json:"autoSuggestArmed"`
}

// Reply is the result of a completed assistant request.
type Reply struct {
	Explanation    string   `json:"explanation"`
	Applied        bool     `json:"applied"`
	UsedFallback   bool     `json:"usedFallback,omitempty"`
	Saved          bool     `json:"saved"`
	ConversationID string   `json:"conversationId,omitempty"`
	TokenCount     int      `json:"tokenCount,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}
