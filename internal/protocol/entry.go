package protocol

import (
	"fmt"
	"strings"
	"time"
)

// EntrySeparator brackets every entry in the log blob.
const EntrySeparator = "-------------------------------"

// NewFeedbackEvent stamps a feedback submission with the current time.
func NewFeedbackEvent(feedback, url, title, source string) FeedbackEvent {
	return FeedbackEvent{
		Feedback:      feedback,
		URL:           url,
		Title:         title,
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		SourceContext: source,
	}
}

// FormatEntry renders an event in the persisted log layout.
func FormatEntry(e FeedbackEvent) string {
	return fmt.Sprintf("\n%s\nTimestamp: %s\nURL: %s\nTitle: %s\nFeedback: %s\n%s\n",
		EntrySeparator, e.Timestamp, e.URL, e.Title, e.Feedback, EntrySeparator)
}

// ParseLog splits a log blob back into events. Entries whose fields cannot
// be found are skipped. Multi-line feedback is preserved.
func ParseLog(blob string) []FeedbackEvent {
	var events []FeedbackEvent
	var cur *FeedbackEvent
	var inFeedback bool

	for _, line := range strings.Split(blob, "\n") {
		if line == EntrySeparator {
			if cur == nil {
				cur = &FeedbackEvent{}
				inFeedback = false
				continue
			}
			if cur.Timestamp != "" {
				events = append(events, *cur)
			}
			cur = nil
			inFeedback = false
			continue
		}
		if cur == nil {
			continue
		}
		switch {
		case strings.HasPrefix(line, "Timestamp: ") && !inFeedback:
			cur.Timestamp = strings.TrimPrefix(line, "Timestamp: ")
		case strings.HasPrefix(line, "URL: ") && !inFeedback:
			cur.URL = strings.TrimPrefix(line, "URL: ")
		case strings.HasPrefix(line, "Title: ") && !inFeedback:
			cur.Title = strings.TrimPrefix(line, "Title: ")
		case strings.HasPrefix(line, "Feedback: ") && !inFeedback:
			cur.Feedback = strings.TrimPrefix(line, "Feedback: ")
			inFeedback = true
		case inFeedback:
			cur.Feedback += "\n" + line
		}
	}
	return events
}
