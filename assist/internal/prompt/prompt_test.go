package prompt

import (
	"strings"
	"testing"
)

func TestBuildWithInstruction(t *testing.T) {
	b := New()
	out := b.Build(Input{
		Markup:        `<h1 id="slot-title">Old Name</h1>`,
		Stylesheet:    "h1 { color: red; }",
		DeviceContext: "mobile",
		Instruction:   "Make the title friendlier",
	})

	for _, want := range []string{
		"USER REQUEST:",
		"Make the title friendlier",
		`<h1 id="slot-title">Old Name</h1>`,
		"h1 { color: red; }",
		"mobile layout",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(out, "AUTONOMOUS MODE") {
		t.Error("autonomous directive present despite instruction")
	}
	if strings.Contains(out, "SELECTION CONSTRAINT") {
		t.Error("selection constraint present without selection")
	}
}

func TestBuildAutonomous(t *testing.T) {
	out := New().Build(Input{Markup: "<p>x</p>"})
	if !strings.Contains(out, "AUTONOMOUS MODE") {
		t.Error("missing autonomous directive")
	}
	if !strings.Contains(out, "exactly one") {
		t.Error("autonomous directive must request exactly one improvement")
	}
}

func TestBuildSelectionConstraint(t *testing.T) {
	out := New().Build(Input{
		Markup:      "<p>x</p>",
		Selection:   "h1#slot-title",
		Instruction: "center it",
	})
	if !strings.Contains(out, "SELECTION CONSTRAINT") {
		t.Error("missing selection constraint block")
	}
	if !strings.Contains(out, `"selected"`) {
		t.Error("constraint must steer the model to the selected target")
	}
}

func TestBuildIsPure(t *testing.T) {
	b := New()
	in := Input{Markup: "<p>same</p>", Instruction: "x"}
	if b.Build(in) != b.Build(in) {
		t.Error("Build is not deterministic")
	}
}

func TestBuildCapsSections(t *testing.T) {
	b := New(WithMaxSection(10))
	out := b.Build(Input{Markup: strings.Repeat("a", 50)})
	if !strings.Contains(out, "[truncated]") {
		t.Error("oversized section not capped")
	}
}

func TestOutlineRendersContent(t *testing.T) {
	out := New().Build(Input{Markup: "<h1>Big Heading</h1><p>Some copy</p>"})
	if !strings.Contains(out, "PAGE CONTENT OUTLINE") {
		t.Error("missing outline section")
	}
	if !strings.Contains(out, "Big Heading") {
		t.Error("outline lost the heading text")
	}
}
