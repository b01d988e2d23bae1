// Package guard provides the safety primitives of the builder core:
// screening of model-supplied operation text, sanitation of model-supplied
// markup, URL validation for configured upstream endpoints, and bounded
// I/O helpers.
//
// The denylist screen is a textual filter, not a security boundary. The
// executor interprets a closed instruction grammar, so unsafe verbs cannot
// execute; the screen exists to reject legacy free-text operation payloads
// before they are even parsed.
package guard

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MaxResponseBody is the default cap for upstream response body reads (4 MiB).
const MaxResponseBody int64 = 4 << 20

// ErrUnsafePrimitive is returned when operation text contains a denylisted
// dynamic-evaluation or network-access primitive.
var ErrUnsafePrimitive = errors.New("guard: operation contains a forbidden primitive")

// ErrPrivateEndpoint is returned when a configured URL targets a private or
// loopback address.
var ErrPrivateEndpoint = errors.New("guard: URL targets a private or loopback address")

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("guard: only http and https schemes are allowed")

// denylist holds token patterns for dynamic code construction, timers,
// network access, and dynamic module loading. Matching is case-insensitive
// substring matching on the raw operation text.
var denylist = []string{
	"eval(",
	"new function",
	"function(",
	"settimeout",
	"setinterval",
	"fetch(",
	"xmlhttprequest",
	"websocket",
	"import(",
	"require(",
	"document.write",
	"javascript:",
}

// destructive holds primitives that legitimately remove content. They are
// reported, not blocked: some instructions require removal.
var destructive = []string{
	"remove(",
	"replacewith",
	"innerhtml = ''",
	`innerhtml = ""`,
	"remove-node",
	"clear-children",
}

// ScreenOperations checks raw operation text against the denylist.
// It returns ErrUnsafePrimitive naming the first matched token, or nil.
func ScreenOperations(text string) error {
	lower := strings.ToLower(text)
	for _, tok := range denylist {
		if strings.Contains(lower, tok) {
			return fmt.Errorf("%w: %q", ErrUnsafePrimitive, tok)
		}
	}
	return nil
}

// DestructivePrimitives returns the destructive primitives present in the
// operation text, for warning-level logging by the caller.
func DestructivePrimitives(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, tok := range destructive {
		if strings.Contains(lower, tok) {
			found = append(found, tok)
		}
	}
	return found
}

// markupPolicy sanitizes model-supplied replacement markup. It starts from
// the UGC policy and re-allows the structural and styling attributes a page
// builder document depends on, while script elements and event-handler
// attributes stay stripped.
var markupPolicy = newMarkupPolicy()

func newMarkupPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("section", "header", "footer", "nav", "main", "aside",
		"article", "figure", "figcaption", "button", "form", "input",
		"label", "textarea", "select", "option", "video", "source", "iframe")
	p.AllowAttrs("id", "class", "style").Globally()
	p.AllowAttrs("type", "name", "value", "placeholder").OnElements("input", "textarea", "select", "button")
	p.AllowAttrs("src", "controls", "autoplay", "loop", "muted").OnElements("video", "source", "iframe")
	p.AllowAttrs("data-slot", "data-block", "data-device").Globally()
	p.AllowStyling()
	return p
}

// SanitizeMarkup strips script vectors from model-supplied markup while
// preserving the layout attributes the builder document depends on.
func SanitizeMarkup(markup string) string {
	return markupPolicy.Sanitize(markup)
}

// ValidateEndpoint checks that rawURL uses http/https, has a hostname, and
// does not resolve to a private or loopback IP. Applied to configured
// upstream endpoints at startup, not to user input.
func ValidateEndpoint(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("guard: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("guard: URL has no host")
	}
	// Local model gateways are a supported deployment shape.
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() {
			return nil
		}
		if isPrivateIP(ip) {
			return ErrPrivateEndpoint
		}
		return nil
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		// DNS failure: let the connection attempt report it.
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return ErrPrivateEndpoint
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r, erroring past the limit.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("guard: response exceeds %d bytes", maxBytes)
	}
	return data, nil
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, network := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"fc00::/7",
		"::1/128",
	} {
		_, cidr, err := net.ParseCIDR(network)
		if err != nil {
			continue
		}
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}
