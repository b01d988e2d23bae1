// Package prompt assembles the bounded natural-language prompt sent to the
// upstream model: current markup and stylesheet verbatim, a readable
// content outline, selection constraints, and device context.
package prompt

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
)

// defaultMaxSection caps each embedded document section. Documents are
// normally embedded verbatim; the cap only trips on pathological sizes.
const defaultMaxSection = 200_000

// Input is everything the builder needs. Build is a pure function of it.
type Input struct {
	Markup        string
	Stylesheet    string
	DeviceContext string

	// Selection describes the selected node ("h1#slot-title"), empty
	// when nothing is selected.
	Selection string

	// Instruction is the user's request; empty means the model should
	// propose exactly one improvement on its own.
	Instruction string
}

// Builder renders prompts. Safe for concurrent use.
type Builder struct {
	maxSection int
	md         *converter.Converter
}

// Option configures a Builder.
type Option func(*Builder)

// WithMaxSection overrides the per-section length cap.
func WithMaxSection(n int) Option {
	return func(b *Builder) { b.maxSection = n }
}

// New creates a Builder.
func New(opts ...Option) *Builder {
	b := &Builder{
		maxSection: defaultMaxSection,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build assembles the prompt text. The output is opaque to the executor
// and fallback components; nothing downstream parses it.
func (b *Builder) Build(in Input) string {
	var sb strings.Builder

	sb.WriteString("You are editing a website built with a visual page builder.\n\n")

	if in.Instruction != "" {
		sb.WriteString("USER REQUEST:\n")
		sb.WriteString(in.Instruction)
		sb.WriteString("\n\n")
	} else {
		sb.WriteString("AUTONOMOUS MODE: the user has not asked for anything specific. ")
		sb.WriteString("Propose exactly one concrete improvement to this page and apply it.\n\n")
	}

	if in.Selection != "" {
		sb.WriteString("SELECTION CONSTRAINT: the user has an element selected (")
		sb.WriteString(in.Selection)
		sb.WriteString("). Operate ONLY on the selected element. ")
		sb.WriteString("Address it with the target \"selected\" instead of searching the document.\n\n")
	}

	if in.DeviceContext != "" {
		fmt.Fprintf(&sb, "DEVICE: the user is viewing the %s layout.\n\n", in.DeviceContext)
	}

	sb.WriteString("CURRENT HTML:\n")
	sb.WriteString(clip(in.Markup, b.maxSection))
	sb.WriteString("\n\nCURRENT CSS:\n")
	sb.WriteString(clip(in.Stylesheet, b.maxSection))
	sb.WriteString("\n")

	if outline := b.outline(in.Markup); outline != "" {
		sb.WriteString("\nPAGE CONTENT OUTLINE (for reading convenience, do not echo):\n")
		sb.WriteString(outline)
		sb.WriteString("\n")
	}

	sb.WriteString("\nRespond with either a list of operations from the supported set ")
	sb.WriteString("(set-content, set-attribute, set-style, add-class, remove-class, ")
	sb.WriteString("remove-node, clear-children), or the complete replacement HTML and CSS. ")
	sb.WriteString("Include a short, non-technical one-sentence explanation of what you did.\n")

	return sb.String()
}

// outline renders the markup as markdown so the model sees readable copy
// alongside the raw HTML. Conversion failures drop the section silently;
// the verbatim markup is always present.
func (b *Builder) outline(markup string) string {
	if strings.TrimSpace(markup) == "" {
		return ""
	}
	md, err := b.md.ConvertString(markup)
	if err != nil {
		return ""
	}
	return clip(strings.TrimSpace(md), b.maxSection/10)
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[truncated]"
}
