// Package canvas defines the capability surface through which the builder
// core reads and mutates the document being edited, plus an in-memory
// implementation backed by golang.org/x/net/html.
//
// The core never owns the document tree. The visual editor (an external
// collaborator) owns rendering, selection, and undo; the core sees only
// this interface. The in-memory Document is the reference implementation
// used server-side and in tests.
package canvas

import "context"

// Node is an addressable element within the editable document.
type Node interface {
	// ID returns the element's id attribute, empty if unset.
	ID() string
	// Classes returns the element's class list.
	Classes() []string
	// Tag returns the lowercase element name.
	Tag() string

	Attribute(name string) (string, bool)
	SetAttribute(name, value string)

	// Content returns the concatenated text of the node's subtree.
	Content() string
	// SetContent replaces the node's children with a single text node.
	SetContent(text string)

	Style(property string) (string, bool)
	SetStyle(property, value string)

	AddClass(name string)
	RemoveClass(name string)

	// Remove detaches the node from the tree.
	Remove()
	// ClearChildren removes the node's entire subtree.
	ClearChildren()
}

// Accessor is the document capability surface consumed by the core.
// Serialization is always well-formed: every opened tag is closed.
type Accessor interface {
	Markup() string
	SetMarkup(markup string) error
	Stylesheet() string
	SetStylesheet(css string)

	// SelectedNode returns the node currently selected in the editor,
	// or nil when nothing is selected.
	SelectedNode() Node

	// FindNodes returns all nodes matching a CSS criterion. Supported
	// forms: tag, .class, #id, tag.class, tag#id, tag[attr], tag[attr=v],
	// and descendant combinations separated by spaces.
	FindNodes(criterion string) []Node

	// NodeCount returns the number of element nodes in the document.
	NodeCount() int

	// Flush forces the accessor to complete any pending internal
	// normalization so that Markup reflects the final state.
	Flush(ctx context.Context) error
}
