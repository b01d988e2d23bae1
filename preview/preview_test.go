package preview

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Kurisu21/webeenthere-sub000/assist"
)

func TestComposeDocument(t *testing.T) {
	doc := ComposeDocument(`<h1>Hi</h1>`, "h1 { color: red }")
	if !strings.HasPrefix(doc, "<!DOCTYPE html>") {
		t.Error("missing doctype")
	}
	if !strings.Contains(doc, "<style>\nh1 { color: red }\n</style>") {
		t.Errorf("stylesheet not embedded: %q", doc)
	}
	if !strings.Contains(doc, "<body>\n<h1>Hi</h1>") {
		t.Errorf("body not embedded: %q", doc)
	}
}

func TestComposeDocumentWithoutStylesheet(t *testing.T) {
	doc := ComposeDocument(`<p>Text</p>`, "")
	if strings.Contains(doc, "<style>") {
		t.Error("empty stylesheet produced a style tag")
	}
}

type fakeRenderer struct {
	calls []string
	html  string
	err   error
}

func (f *fakeRenderer) Show(_ context.Context, websiteID, html, _ string) error {
	f.calls = append(f.calls, websiteID)
	f.html = html
	return f.err
}

func TestRefresherRendersOnApplied(t *testing.T) {
	fr := &fakeRenderer{}
	r := NewRefresher(fr, func(_ context.Context, id string) (string, string, error) {
		return "<h1>" + id + "</h1>", "", nil
	}, nil)

	r.Emit(assist.Event{Type: assist.EventApplied, WebsiteID: "site-1"})
	if len(fr.calls) != 1 || fr.calls[0] != "site-1" {
		t.Fatalf("calls = %v", fr.calls)
	}
	if fr.html != "<h1>site-1</h1>" {
		t.Errorf("html = %q", fr.html)
	}
}

func TestRefresherIgnoresOtherEvents(t *testing.T) {
	fr := &fakeRenderer{}
	r := NewRefresher(fr, func(_ context.Context, _ string) (string, string, error) {
		return "", "", errors.New("should not be called")
	}, nil)

	r.Emit(assist.Event{Type: assist.EventFailed, WebsiteID: "site-1"})
	r.Emit(assist.Event{Type: assist.EventSaved, WebsiteID: "site-1"})
	if len(fr.calls) != 0 {
		t.Fatalf("calls = %v, want none", fr.calls)
	}
}
