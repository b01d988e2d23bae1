package canvas

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is the in-memory Accessor implementation. The markup is held as
// a parsed body fragment; rendering always closes every opened tag, so the
// serialization invariant holds by construction.
//
// Document is not safe for concurrent use. The orchestrator guarantees a
// single active mutator.
type Document struct {
	root       *html.Node // synthetic body element holding the fragment
	stylesheet string
	selected   *html.Node
}

// NewDocument parses markup into a live document.
func NewDocument(markup, stylesheet string) (*Document, error) {
	d := &Document{stylesheet: stylesheet}
	if err := d.SetMarkup(markup); err != nil {
		return nil, err
	}
	return d, nil
}

// Markup serializes the fragment. Every opened tag is closed.
func (d *Document) Markup() string {
	var b strings.Builder
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		// Render cannot fail on a strings.Builder.
		html.Render(&b, c)
	}
	return b.String()
}

// SetMarkup replaces the fragment wholesale. The current selection is
// re-resolved by element id where possible, otherwise dropped.
func (d *Document) SetMarkup(markup string) error {
	selectedID := ""
	if d.selected != nil {
		selectedID = attr(d.selected, "id")
	}

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return fmt.Errorf("canvas: parse markup: %w", err)
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}
	d.root = body
	d.selected = nil

	if selectedID != "" {
		if found := d.findFirst("#" + selectedID); found != nil {
			d.selected = found
		}
	}
	return nil
}

func (d *Document) Stylesheet() string       { return d.stylesheet }
func (d *Document) SetStylesheet(css string) { d.stylesheet = css }

// SelectedNode returns the selected node, nil when nothing is selected.
func (d *Document) SelectedNode() Node {
	if d.selected == nil {
		return nil
	}
	return &elemNode{doc: d, n: d.selected}
}

// Select marks the first node matching the criterion as selected.
// Returns false when nothing matches.
func (d *Document) Select(criterion string) bool {
	n := d.findFirst(criterion)
	if n == nil {
		return false
	}
	d.selected = n
	return true
}

// ClearSelection drops the current selection.
func (d *Document) ClearSelection() { d.selected = nil }

// FindNodes returns all element nodes matching the CSS criterion.
func (d *Document) FindNodes(criterion string) []Node {
	matches := querySelectorAll(d.root, criterion)
	nodes := make([]Node, 0, len(matches))
	for _, m := range matches {
		nodes = append(nodes, &elemNode{doc: d, n: m})
	}
	return nodes
}

func (d *Document) findFirst(criterion string) *html.Node {
	matches := querySelectorAll(d.root, criterion)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

// NodeCount counts element nodes in the fragment.
func (d *Document) NodeCount() int {
	count := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n != d.root {
			count++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return count
}

// Flush re-parses the rendered fragment, forcing the same normalization a
// live editor performs asynchronously. Cheap for the in-memory document;
// kept on the interface so remote accessors can do real work here.
func (d *Document) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.SetMarkup(d.Markup())
}

// elemNode adapts an *html.Node to the Node capability.
type elemNode struct {
	doc *Document
	n   *html.Node
}

func (e *elemNode) ID() string  { return attr(e.n, "id") }
func (e *elemNode) Tag() string { return e.n.Data }

func (e *elemNode) Classes() []string {
	raw := attr(e.n, "class")
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

func (e *elemNode) Attribute(name string) (string, bool) {
	for _, a := range e.n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (e *elemNode) SetAttribute(name, value string) {
	for i, a := range e.n.Attr {
		if a.Key == name {
			e.n.Attr[i].Val = value
			return
		}
	}
	e.n.Attr = append(e.n.Attr, html.Attribute{Key: name, Val: value})
}

func (e *elemNode) Content() string { return collectText(e.n) }

func (e *elemNode) SetContent(text string) {
	e.clearChildren()
	e.n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func (e *elemNode) Style(property string) (string, bool) {
	raw, ok := e.Attribute("style")
	if !ok {
		return "", false
	}
	for _, decl := range strings.Split(raw, ";") {
		prop, val, ok := strings.Cut(decl, ":")
		if ok && strings.TrimSpace(prop) == property {
			return strings.TrimSpace(val), true
		}
	}
	return "", false
}

func (e *elemNode) SetStyle(property, value string) {
	raw, _ := e.Attribute("style")
	var decls []string
	replaced := false
	for _, decl := range strings.Split(raw, ";") {
		prop, _, ok := strings.Cut(decl, ":")
		if !ok || strings.TrimSpace(prop) == "" {
			continue
		}
		if strings.TrimSpace(prop) == property {
			decls = append(decls, property+": "+value)
			replaced = true
			continue
		}
		decls = append(decls, strings.TrimSpace(decl))
	}
	if !replaced {
		decls = append(decls, property+": "+value)
	}
	e.SetAttribute("style", strings.Join(decls, "; "))
}

func (e *elemNode) AddClass(name string) {
	for _, c := range e.Classes() {
		if c == name {
			return
		}
	}
	classes := append(e.Classes(), name)
	e.SetAttribute("class", strings.Join(classes, " "))
}

func (e *elemNode) RemoveClass(name string) {
	var kept []string
	for _, c := range e.Classes() {
		if c != name {
			kept = append(kept, c)
		}
	}
	e.SetAttribute("class", strings.Join(kept, " "))
}

func (e *elemNode) Remove() {
	if e.n.Parent == nil {
		return
	}
	if e.doc.selected == e.n {
		e.doc.selected = nil
	}
	e.n.Parent.RemoveChild(e.n)
}

func (e *elemNode) ClearChildren() { e.clearChildren() }

func (e *elemNode) clearChildren() {
	for e.n.FirstChild != nil {
		e.n.RemoveChild(e.n.FirstChild)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// collectText concatenates the text nodes of a subtree.
func collectText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
