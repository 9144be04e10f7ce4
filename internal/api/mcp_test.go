package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/feedbackflow/internal/protocol"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, AppDeps) {
	t.Helper()
	app := newTestDeps(t)
	return MCPDeps{
		Relay:    app.Relay,
		Store:    app.Store,
		Version:  "test",
		HostName: "com.feedbackflow.host",
		LogPath:  ".feedbackflow/feedback.log",
	}, app
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func resourceText(t *testing.T, contents []mcp.ResourceContents) string {
	t.Helper()
	if len(contents) != 1 {
		t.Fatalf("got %d resource contents", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	return tc.Text
}

func TestMCPServer_Creates(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPAddFeedback(t *testing.T) {
	deps, app := newTestMCPDeps(t)
	ctx := context.Background()

	result, err := mcpAddFeedback(deps)(ctx, makeCallToolRequest("add_feedback", map[string]interface{}{
		"message": "Checkout button is hidden on mobile",
		"source":  "claude",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if text := toolText(t, result); !strings.Contains(text, protocol.WarnHostUnavailable) {
		t.Errorf("text = %q, want the host warning", text)
	}

	blob, _ := app.Relay.Log(ctx)
	if !strings.Contains(blob, "Feedback: Checkout button is hidden on mobile") || strings.Contains(blob, "mcp://") {
		t.Errorf("blob = %q", blob)
	}
	entries, _ := app.Store.ListEntries(10, 0)
	if len(entries) != 1 || entries[0].Source != "claude" || entries[0].URL != "" || entries[0].Title != "MCP" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestMCPAddFeedback_SourceMetadata(t *testing.T) {
	tests := []struct {
		name       string
		args       map[string]interface{}
		wantSource string
		wantURL    string
		wantTitle  string
	}{
		{
			name:       "default source",
			args:       map[string]interface{}{"message": "m"},
			wantSource: protocol.SourceMCP,
			wantTitle:  "MCP",
		},
		{
			name:       "web source doubles as url",
			args:       map[string]interface{}{"message": "m", "source": "https://shop.test/cart"},
			wantSource: "https://shop.test/cart",
			wantURL:    "https://shop.test/cart",
			wantTitle:  "MCP",
		},
		{
			name:       "explicit url and title",
			args:       map[string]interface{}{"message": "m", "source": "cursor", "url": "https://app.test/settings", "title": "Settings"},
			wantSource: "cursor",
			wantURL:    "https://app.test/settings",
			wantTitle:  "Settings",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, app := newTestMCPDeps(t)
			result, err := mcpAddFeedback(deps)(context.Background(), makeCallToolRequest("add_feedback", tt.args))
			if err != nil || result.IsError {
				t.Fatalf("add_feedback = %v, %v", result, err)
			}
			entries, _ := app.Store.ListEntries(10, 0)
			if len(entries) != 1 {
				t.Fatalf("entries = %+v", entries)
			}
			e := entries[0]
			if e.Source != tt.wantSource || e.URL != tt.wantURL || e.Title != tt.wantTitle {
				t.Errorf("entry source=%q url=%q title=%q, want %q %q %q", e.Source, e.URL, e.Title, tt.wantSource, tt.wantURL, tt.wantTitle)
			}
			blob, _ := app.Relay.Log(context.Background())
			if !strings.Contains(blob, "URL: "+tt.wantURL+"\n") {
				t.Errorf("blob = %q", blob)
			}
		})
	}
}

func TestMCPAddFeedback_MissingMessage(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	for _, args := range []map[string]interface{}{{}, {"message": "  "}} {
		result, err := mcpAddFeedback(deps)(context.Background(), makeCallToolRequest("add_feedback", args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Errorf("args %v: expected tool error", args)
		}
	}
}

func TestMCPClearFeedback(t *testing.T) {
	deps, app := newTestMCPDeps(t)
	ctx := context.Background()
	mcpAddFeedback(deps)(ctx, makeCallToolRequest("add_feedback", map[string]interface{}{"message": "x"}))

	result, _ := mcpClearFeedback(deps)(ctx, makeCallToolRequest("clear_feedback", nil))
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if blob, _ := app.Relay.Log(ctx); blob != "" {
		t.Errorf("blob after clear = %q", blob)
	}
}

func TestMCPMarkAddressed(t *testing.T) {
	deps, app := newTestMCPDeps(t)
	ctx := context.Background()
	mcpAddFeedback(deps)(ctx, makeCallToolRequest("add_feedback", map[string]interface{}{"message": "x"}))
	entries, _ := app.Store.ListEntries(1, 0)

	result, _ := mcpMarkAddressed(deps)(ctx, makeCallToolRequest("mark_feedback_addressed", map[string]interface{}{
		"id":         entries[0].ID,
		"resolution": "done",
	}))
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	got, _ := app.Store.GetEntry(entries[0].ID)
	if !got.Addressed || got.Resolution != "done" {
		t.Errorf("entry = %+v", got)
	}

	result, _ = mcpMarkAddressed(deps)(ctx, makeCallToolRequest("mark_feedback_addressed", map[string]interface{}{"id": "missing"}))
	if !result.IsError {
		t.Error("expected error for unknown id")
	}
}

func TestMCPToggleVerbose(t *testing.T) {
	deps, app := newTestMCPDeps(t)
	ctx := context.Background()

	result, _ := mcpToggleVerbose(deps)(ctx, makeCallToolRequest("toggle_verbose", nil))
	if text := toolText(t, result); !strings.Contains(text, "mode on") || !app.Relay.Verbose() {
		t.Errorf("flip: text = %q, verbose = %v", text, app.Relay.Verbose())
	}

	result, _ = mcpToggleVerbose(deps)(ctx, makeCallToolRequest("toggle_verbose", map[string]interface{}{"value": true}))
	if !app.Relay.Verbose() {
		t.Errorf("explicit true turned verbose off: %s", toolText(t, result))
	}

	mcpToggleVerbose(deps)(ctx, makeCallToolRequest("toggle_verbose", map[string]interface{}{"value": false}))
	if app.Relay.Verbose() {
		t.Error("explicit false left verbose on")
	}
}

func TestMCPResources(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	ctx := context.Background()
	mcpAddFeedback(deps)(ctx, makeCallToolRequest("add_feedback", map[string]interface{}{"message": "first"}))
	mcpAddFeedback(deps)(ctx, makeCallToolRequest("add_feedback", map[string]interface{}{"message": "second"}))

	contents, err := mcpResourceLog(deps)(ctx, makeReadResourceRequest("feedback://log"))
	if err != nil {
		t.Fatal(err)
	}
	if events := protocol.ParseLog(resourceText(t, contents)); len(events) != 2 {
		t.Errorf("log has %d entries", len(events))
	}

	contents, err = mcpResourceStatus(deps)(ctx, makeReadResourceRequest("feedback://status"))
	if err != nil {
		t.Fatal(err)
	}
	var st feedbackStatus
	if err := json.Unmarshal([]byte(resourceText(t, contents)), &st); err != nil {
		t.Fatal(err)
	}
	if st.Entries != 2 || st.Open != 2 || st.HostAvailable || len(st.Recent) != 2 {
		t.Errorf("status = %+v", st)
	}

	contents, err = mcpResourceMeta(deps)(ctx, makeReadResourceRequest("feedback://meta"))
	if err != nil {
		t.Fatal(err)
	}
	var meta map[string]string
	json.Unmarshal([]byte(resourceText(t, contents)), &meta)
	if meta["host_name"] != "com.feedbackflow.host" || meta["version"] != "test" {
		t.Errorf("meta = %v", meta)
	}
}

func TestMCPPromptAnalyze(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	ctx := context.Background()

	req := mcp.GetPromptRequest{}
	req.Params.Name = "analyze_feedback"
	req.Params.Arguments = map[string]string{"focus": "layout"}

	result, err := mcpPromptAnalyze(deps)(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	text := result.Messages[0].Content.(mcp.TextContent).Text
	if !strings.Contains(text, "no open feedback") || !strings.Contains(text, "layout") {
		t.Errorf("prompt = %q", text)
	}

	mcpAddFeedback(deps)(ctx, makeCallToolRequest("add_feedback", map[string]interface{}{"message": "Header overlaps logo"}))
	result, _ = mcpPromptAnalyze(deps)(ctx, req)
	if text := result.Messages[0].Content.(mcp.TextContent).Text; !strings.Contains(text, "Header overlaps logo") {
		t.Errorf("prompt = %q", text)
	}
}
