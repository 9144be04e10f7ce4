package protocol

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestFormatEntry_Layout(t *testing.T) {
	e := FeedbackEvent{
		Feedback:  "Button misaligned",
		URL:       "https://example.com/",
		Title:     "Example",
		Timestamp: "2026-01-02T03:04:05Z",
	}

	got := FormatEntry(e)
	want := "\n-------------------------------\n" +
		"Timestamp: 2026-01-02T03:04:05Z\n" +
		"URL: https://example.com/\n" +
		"Title: Example\n" +
		"Feedback: Button misaligned\n" +
		"-------------------------------\n"
	if got != want {
		t.Errorf("FormatEntry =\n%q\nwant\n%q", got, want)
	}
}

func TestNewFeedbackEvent_TimestampIsISO8601(t *testing.T) {
	e := NewFeedbackEvent("hi", "https://example.com/", "Example", SourcePage)
	if _, err := time.Parse(time.RFC3339Nano, e.Timestamp); err != nil {
		t.Fatalf("timestamp %q is not RFC 3339: %v", e.Timestamp, err)
	}
	if e.SourceContext != SourcePage {
		t.Errorf("SourceContext = %q, want %q", e.SourceContext, SourcePage)
	}
}

func TestParseLog_RoundTripsEntries(t *testing.T) {
	first := FeedbackEvent{Feedback: "one", URL: "https://a/", Title: "A", Timestamp: "t1"}
	second := FeedbackEvent{Feedback: "two\nlines", URL: "https://b/", Title: "B", Timestamp: "t2"}

	events := ParseLog(FormatEntry(first) + FormatEntry(second))
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Feedback != "one" || events[0].URL != "https://a/" || events[0].Title != "A" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Feedback != "two\nlines" {
		t.Errorf("second feedback = %q, want %q", events[1].Feedback, "two\nlines")
	}
}

func TestParseLog_Empty(t *testing.T) {
	if events := ParseLog(""); len(events) != 0 {
		t.Errorf("got %d events from empty blob", len(events))
	}
}

func TestResultMessage_CarriesResult(t *testing.T) {
	r := DeliveryResult{Success: true, Warning: WarnHostUnavailable, RequestID: "req-1"}
	msg := ResultMessage(r)
	if msg.Type != TypeFeedbackResponse {
		t.Fatalf("Type = %q, want %q", msg.Type, TypeFeedbackResponse)
	}
	if got := msg.Result(); got != r {
		t.Errorf("Result() = %+v, want %+v", got, r)
	}
}

func TestHostErrorWarning(t *testing.T) {
	w := HostErrorWarning(fmt.Errorf("%w: host exited", ErrTransport))
	if !strings.HasPrefix(w, "Native messaging error: ") {
		t.Errorf("warning = %q", w)
	}
	if !errors.Is(fmt.Errorf("wrap: %w", ErrStore), ErrStore) {
		t.Error("ErrStore should survive wrapping")
	}
}
