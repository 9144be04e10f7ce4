// Package protocol defines the messages exchanged between the page, bridge,
// relay and native host contexts.
package protocol

// Window-level message type tags (page <-> bridge).
const (
	TypeSubmitFeedback   = "submit-feedback"
	TypeFeedbackResponse = "feedback-response"
	TypeSetVerbose       = "set-verbose"

	// EventReady is dispatched once when the page API is installed.
	EventReady = "feedbackflow-ready"
)

// Action names on the privileged runtime channel (bridge <-> relay).
const (
	ActionSaveFeedback  = "saveFeedback"
	ActionClearFeedback = "clearFeedback"
	ActionToggleVerbose = "toggleVerbose"
	ActionGetFeedback   = "getFeedback"
	ActionSetVerbose    = "setVerbose"
)

// Native host actions.
const (
	HostActionWriteFeedback = "writeFeedback"
	HostActionClearFeedback = "clearFeedback"
)

// Source contexts a FeedbackEvent can originate from.
const (
	SourcePage = "page"
	SourceMCP  = "mcp"
	SourceCLI  = "cli"
)

// FeedbackEvent is one submission. It is created in the page context and
// never modified afterwards.
type FeedbackEvent struct {
	Feedback      string `json:"feedback"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	Timestamp     string `json:"timestamp"`
	SourceContext string `json:"sourceContext"`
	RequestID     string `json:"requestId,omitempty"`
}

// DeliveryResult is the normalized outcome of every write-type request.
//
// Success is true whenever the local store write succeeded. Warning is set
// only when the external host failed or was absent; Error only when the
// local write failed.
type DeliveryResult struct {
	Success   bool   `json:"success"`
	Warning   string `json:"warning,omitempty"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// WindowMessage is posted on a page's window channel.
type WindowMessage struct {
	Type      string `json:"type"`
	Feedback  string `json:"feedback,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Success   bool   `json:"success,omitempty"`
	Warning   string `json:"warning,omitempty"`
	Error     string `json:"error,omitempty"`
	Value     bool   `json:"value,omitempty"`
}

// ResultMessage wraps a DeliveryResult as a feedback-response window message.
func ResultMessage(r DeliveryResult) WindowMessage {
	return WindowMessage{
		Type:      TypeFeedbackResponse,
		RequestID: r.RequestID,
		Success:   r.Success,
		Warning:   r.Warning,
		Error:     r.Error,
	}
}

// Result extracts the DeliveryResult carried by a feedback-response message.
func (m WindowMessage) Result() DeliveryResult {
	return DeliveryResult{
		Success:   m.Success,
		Warning:   m.Warning,
		Error:     m.Error,
		RequestID: m.RequestID,
	}
}

// Request is a runtime message addressed to the relay or to a tab's bridge.
type Request struct {
	Action string         `json:"action"`
	Event  *FeedbackEvent `json:"event,omitempty"`
	Value  *bool          `json:"value,omitempty"`
}

// Response answers a Request. Write-type actions fill the embedded
// DeliveryResult; toggleVerbose also reports the new state.
type Response struct {
	DeliveryResult
	Verbose *bool  `json:"verbose,omitempty"`
	Log     string `json:"log,omitempty"`
}

// HostEnvelope is the JSON body sent to the native host.
type HostEnvelope struct {
	Action  string `json:"action"`
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

// HostReply is what the native host answers. Anything other than
// Success == true counts as failure.
type HostReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}
