package execute

import (
	"fmt"
	"log/slog"

	"github.com/Kurisu21/webeenthere-sub000/canvas"
	"github.com/Kurisu21/webeenthere-sub000/guard"
)

// Executor applies MutationResults to a document. Synchronous: it never
// suspends mid-mutation, so the verification snapshot always sees a fully
// applied or fully untouched tree.
type Executor struct {
	logger *slog.Logger
}

// New creates an Executor.
func New(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger}
}

// Apply dispatches on the result shape. Replacement results are always
// classified applied; imperative results go through verification and may
// return ErrNoEffect or ErrUnsafeInstruction.
func (e *Executor) Apply(doc canvas.Accessor, res *Result) (*Outcome, error) {
	if res.IsReplacement() {
		return e.applyReplacement(doc, res)
	}
	return e.applyImperative(doc, res)
}

// applyReplacement swaps markup and stylesheet wholesale. Trust is placed
// in the model's obligation to return the complete document, so this path
// is always "applied" even when the content is byte-identical. A
// stylesheet-only replacement leaves the markup untouched; re-sanitizing
// the existing markup could alter user-authored content.
func (e *Executor) applyReplacement(doc canvas.Accessor, res *Result) (*Outcome, error) {
	before := doc.Markup()

	if res.NewMarkup != "" {
		sanitized := guard.SanitizeMarkup(res.NewMarkup)
		if sanitized != res.NewMarkup {
			e.logger.Warn("replacement markup sanitized", "original_len", len(res.NewMarkup), "sanitized_len", len(sanitized))
		}
		if err := doc.SetMarkup(sanitized); err != nil {
			return nil, fmt.Errorf("execute: replace markup: %w", err)
		}
	}
	if res.NewStylesheet != "" {
		doc.SetStylesheet(res.NewStylesheet)
	}

	return &Outcome{
		Applied:       true,
		MarkupChanged: doc.Markup() != before,
	}, nil
}

func (e *Executor) applyImperative(doc canvas.Accessor, res *Result) (*Outcome, error) {
	if res.LegacyOperations != "" {
		if err := guard.ScreenOperations(res.LegacyOperations); err != nil {
			e.logger.Warn("legacy operations rejected", "error", err)
			return nil, fmt.Errorf("%w: %v", ErrUnsafeInstruction, err)
		}
	}

	outcome := &Outcome{}
	for _, tok := range guard.DestructivePrimitives(res.LegacyOperations) {
		e.logger.Warn("destructive primitive in operations", "token", tok)
	}

	markupBefore := doc.Markup()
	cssBefore := doc.Stylesheet()
	countBefore := doc.NodeCount()

	wrapped := &trackedAccessor{Accessor: doc, tracker: &outcome.Tracker}
	for _, in := range res.Operations {
		if destructiveVerbs[in.Verb] {
			e.logger.Warn("destructive instruction permitted", "op", string(in.Verb), "target", in.Target)
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("destructive operation %s on %s", in.Verb, in.Target))
		}
		e.run(wrapped, in)
	}

	outcome.MarkupChanged = doc.Markup() != markupBefore
	outcome.StylesheetChanged = doc.Stylesheet() != cssBefore
	outcome.NodeDelta = doc.NodeCount() - countBefore

	if outcome.NodeDelta < 0 {
		// Undoable in the surrounding editor; warn, don't fail.
		e.logger.Warn("node count decreased", "delta", outcome.NodeDelta)
		outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("%d node(s) removed", -outcome.NodeDelta))
	}

	outcome.Applied = outcome.MarkupChanged || outcome.StylesheetChanged ||
		outcome.NodeDelta != 0 || outcome.Tracker.NodesMutated > 0
	if outcome.Applied {
		return outcome, nil
	}

	outcome.Diagnostic = diagnose(&outcome.Tracker)
	return outcome, &NoEffectError{Diagnostic: outcome.Diagnostic}
}

// run interprets a single instruction against the tracked surface.
// Unknown verbs and zero-match lookups are recorded, not fatal: the
// verification pass decides what the attempt amounted to.
func (e *Executor) run(acc *trackedAccessor, in Instruction) {
	nodes := acc.resolve(in.Target)
	if len(nodes) == 0 {
		return
	}
	for _, n := range nodes {
		switch in.Verb {
		case VerbSetContent:
			n.SetContent(in.Value)
		case VerbSetAttribute:
			n.SetAttribute(in.Name, in.Value)
		case VerbSetStyle:
			n.SetStyle(in.Name, in.Value)
		case VerbAddClass:
			n.AddClass(in.Name)
		case VerbRemoveClass:
			n.RemoveClass(in.Name)
		case VerbRemoveNode:
			n.Remove()
		case VerbClearChildren:
			n.ClearChildren()
		default:
			acc.tracker.Errors = append(acc.tracker.Errors,
				fmt.Sprintf("unsupported operation %q", string(in.Verb)))
			continue
		}
		acc.tracker.NodesMutated++
	}
}

// diagnose selects the user-safe no-effect message by priority.
func diagnose(t *Tracker) string {
	switch {
	case t.Lookups == 0:
		return "couldn't find what you're looking for, be more specific or select the element first"
	case t.NodesMatched == 0:
		return "couldn't find that element"
	case t.NodesMutated == 0:
		return fmt.Sprintf("found %d element(s) but couldn't modify them, try selecting it first", t.NodesMatched)
	default:
		return "couldn't make that change"
	}
}

// trackedAccessor decorates the capability surface for instrumentation
// only; it does not change the accessor's contracts.
type trackedAccessor struct {
	canvas.Accessor
	tracker *Tracker
}

// resolve looks up the instruction target, counting the lookup and its
// matches. The literal "selected" resolves to the editor selection.
func (a *trackedAccessor) resolve(target string) []canvas.Node {
	a.tracker.Lookups++

	var nodes []canvas.Node
	if target == "selected" {
		if n := a.SelectedNode(); n != nil {
			nodes = []canvas.Node{n}
		}
	} else {
		nodes = a.FindNodes(target)
	}

	if len(nodes) == 0 {
		a.tracker.Errors = append(a.tracker.Errors,
			fmt.Sprintf("no nodes matched %q", target))
		return nil
	}
	a.tracker.NodesMatched += len(nodes)
	return nodes
}
