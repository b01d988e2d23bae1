package assist

// EventType classifies assistant lifecycle events.
type EventType string

const (
	// EventApplied fires when a suggestion lands on the canvas.
	EventApplied EventType = "applied"

	// EventSuggested fires when an autonomous suggestion is displayed.
	EventSuggested EventType = "suggested"

	// EventFailed fires when a request ends in an error shown to the user.
	EventFailed EventType = "failed"

	// EventQuotaExhausted fires on quota rejection so the UI can refresh
	// its usage display.
	EventQuotaExhausted EventType = "quota_exhausted"

	// EventSaved fires when the document is persisted.
	EventSaved EventType = "saved"

	// EventNotSaved fires when a mutation applied but persistence failed.
	EventNotSaved EventType = "not_saved"
)

// Event is one assistant lifecycle notification.
type Event struct {
	Type        EventType `json:"type"`
	WebsiteID   string    `json:"websiteId"`
	Explanation string    `json:"explanation,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// Sink receives assistant events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit calls f(ev).
func (f SinkFunc) Emit(ev Event) { f(ev) }

type nopSink struct{}

func (nopSink) Emit(Event) {}
