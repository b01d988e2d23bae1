package assist

import (
	"errors"

	"github.com/Kurisu21/webeenthere-sub000/assist/internal/execute"
	"github.com/Kurisu21/webeenthere-sub000/assist/internal/fallback"
	"github.com/Kurisu21/webeenthere-sub000/assist/internal/upstream"
)

// Failure classes surfaced by the assistant. Callers branch with errors.Is.
var (
	// ErrUnsafeInstruction marks a suggestion rejected by the safety screen.
	// Never retried.
	ErrUnsafeInstruction = execute.ErrUnsafeInstruction

	// ErrNoEffect marks a suggestion that executed but changed nothing.
	ErrNoEffect = execute.ErrNoEffect

	// ErrFallbackExhausted means the textual fallback also produced no change.
	ErrFallbackExhausted = fallback.ErrExhausted

	// ErrQuotaExceeded means the upstream AI quota is spent. Not retried.
	ErrQuotaExceeded = upstream.ErrQuota

	// ErrTransient marks a recoverable upstream failure, retried with backoff.
	ErrTransient = upstream.ErrTransient

	// ErrCancelled means the request was superseded or aborted by the user.
	ErrCancelled = errors.New("assist: request cancelled")

	// ErrNotSaved means the mutation was applied in memory but could not be
	// persisted. The canvas and the stored copy disagree until the next save.
	ErrNotSaved = errors.New("assist: applied but not saved")
)

// UserMessage maps an assistant error to text safe to show an end user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrQuotaExceeded):
		return "You've used up your AI quota. Upgrade your plan to keep going."
	case errors.Is(err, ErrUnsafeInstruction):
		return "That change can't be applied safely."
	case errors.Is(err, ErrCancelled):
		return "Request cancelled."
	case errors.Is(err, ErrNotSaved):
		return "The change was applied but couldn't be saved. Try saving again."
	case errors.Is(err, ErrFallbackExhausted):
		return "I couldn't make that change. Try being more specific or select the element first."
	case errors.Is(err, ErrNoEffect):
		var ne *execute.NoEffectError
		if errors.As(err, &ne) && ne.Diagnostic != "" {
			return "I " + ne.Diagnostic + "."
		}
		return "I couldn't make that change. Try being more specific or select the element first."
	default:
		return "Something went wrong. Please try again."
	}
}
