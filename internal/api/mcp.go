package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/feedbackflow/internal/protocol"
	"github.com/kalambet/feedbackflow/internal/relay"
	"github.com/kalambet/feedbackflow/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Relay    *relay.Relay
	Store    *storage.Store
	Version  string
	HostName string
	LogPath  string
}

// NewMCPServer creates an MCP server exposing the feedback log to assistants.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"feedbackflow",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithInstructions("feedbackflow collects user feedback submitted from web pages. Read feedback://log for the raw log."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("add_feedback",
			mcp.WithDescription("Record a feedback entry in the local log."),
			mcp.WithString("message", mcp.Description("Feedback text"), mcp.Required()),
			mcp.WithString("source", mcp.Description("Where the feedback came from, e.g. a website URL or a tool name (default mcp)")),
			mcp.WithString("url", mcp.Description("Page the feedback is about; defaults to source when that is a web URL")),
			mcp.WithString("title", mcp.Description("Page or topic title (default MCP)")),
		),
		mcpAddFeedback(deps),
	)

	s.AddTool(
		mcp.NewTool("clear_feedback",
			mcp.WithDescription("Clear the feedback log and the native host's copy."),
		),
		mcpClearFeedback(deps),
	)

	s.AddTool(
		mcp.NewTool("mark_feedback_addressed",
			mcp.WithDescription("Mark a feedback entry as addressed."),
			mcp.WithString("id", mcp.Description("Entry id from feedback://status or the entries API"), mcp.Required()),
			mcp.WithString("resolution", mcp.Description("What was done about it")),
		),
		mcpMarkAddressed(deps),
	)

	s.AddTool(
		mcp.NewTool("toggle_verbose",
			mcp.WithDescription("Flip verbose logging, or set it when value is given, and notify open pages."),
			mcp.WithBoolean("value", mcp.Description("Explicit verbose state")),
		),
		mcpToggleVerbose(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"feedback://log",
			"Feedback Log",
			mcp.WithResourceDescription("The raw feedback log"),
			mcp.WithMIMEType("text/plain"),
		),
		mcpResourceLog(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"feedback://status",
			"Feedback Status",
			mcp.WithResourceDescription("Entry counts, verbosity and native host availability"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"feedback://meta",
			"Server Metadata",
			mcp.WithResourceDescription("Version and log locations"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceMeta(deps),
	)

	// Prompts
	s.AddPrompt(
		mcp.NewPrompt("analyze_feedback",
			mcp.WithPromptDescription("Summarize open feedback and suggest fixes."),
			mcp.WithArgument("focus", mcp.ArgumentDescription("Optional area to concentrate on, e.g. layout")),
		),
		mcpPromptAnalyze(deps),
	)

	return s
}

func mcpAddFeedback(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil || strings.TrimSpace(message) == "" {
			return mcpError("message is required"), nil
		}
		source := strings.TrimSpace(req.GetString("source", ""))
		if source == "" {
			source = protocol.SourceMCP
		}
		pageURL := strings.TrimSpace(req.GetString("url", ""))
		if pageURL == "" && isWebURL(source) {
			pageURL = source
		}
		title := req.GetString("title", "MCP")

		event := protocol.NewFeedbackEvent(message, pageURL, title, source)
		res := deps.Relay.SaveFeedback(ctx, event)
		if !res.Success {
			return mcpError(fmt.Sprintf("failed to save feedback: %s", res.Error)), nil
		}
		if res.Warning != "" {
			return mcpText(fmt.Sprintf("Feedback saved (%s)", res.Warning)), nil
		}
		return mcpText("Feedback saved"), nil
	}
}

func isWebURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func mcpClearFeedback(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := deps.Relay.ClearFeedback(ctx)
		if !res.Success {
			return mcpError(fmt.Sprintf("failed to clear feedback: %s", res.Error)), nil
		}
		if res.Warning != "" {
			return mcpText(fmt.Sprintf("Feedback cleared (%s)", res.Warning)), nil
		}
		return mcpText("Feedback cleared"), nil
	}
}

func mcpMarkAddressed(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		resolution := req.GetString("resolution", "")

		if err := deps.Store.MarkEntryAddressed(id, resolution); err != nil {
			return mcpError(fmt.Sprintf("failed to mark %s: %v", id, err)), nil
		}
		return mcpText(fmt.Sprintf("Marked %s as addressed", id)), nil
	}
}

func mcpToggleVerbose(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var explicit *bool
		if v, ok := req.GetArguments()["value"].(bool); ok {
			explicit = &v
		}

		res := deps.Relay.ToggleVerbose(ctx, explicit)
		state := "off"
		if res.Verbose {
			state = "on"
		}
		return mcpText(fmt.Sprintf("Verbose mode %s (%d pages notified)", state, res.Delivered)), nil
	}
}

func mcpResourceLog(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		blob, err := deps.Relay.Log(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read feedback log: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "text/plain",
				Text:     blob,
			},
		}, nil
	}
}

type feedbackStatus struct {
	Entries       int           `json:"entries"`
	Open          int           `json:"open"`
	Verbose       bool          `json:"verbose"`
	HostAvailable bool          `json:"host_available"`
	Recent        []recentEntry `json:"recent"`
}

type recentEntry struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	URL       string `json:"url"`
	Feedback  string `json:"feedback"`
	Addressed bool   `json:"addressed"`
}

func mcpResourceStatus(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		total, err := deps.Store.CountEntries()
		if err != nil {
			return nil, fmt.Errorf("failed to count entries: %w", err)
		}
		entries, err := deps.Store.ListEntries(total, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list entries: %w", err)
		}

		st := feedbackStatus{
			Entries:       total,
			Verbose:       deps.Relay.Verbose(),
			HostAvailable: deps.Relay.HostAvailable(),
			Recent:        []recentEntry{},
		}
		for _, e := range entries {
			if !e.Addressed {
				st.Open++
			}
		}
		start := max(len(entries)-10, 0)
		for _, e := range entries[start:] {
			st.Recent = append(st.Recent, recentEntry{
				ID:        e.ID,
				Timestamp: e.Timestamp,
				URL:       e.URL,
				Feedback:  e.Feedback,
				Addressed: e.Addressed,
			})
		}

		b, err := json.Marshal(st)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal status: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceMeta(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(map[string]string{
			"name":      "feedbackflow",
			"version":   deps.Version,
			"host_name": deps.HostName,
			"log_path":  deps.LogPath,
			"log_key":   "feedbackLog",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpPromptAnalyze(deps MCPDeps) server.PromptHandlerFunc {
	return func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		entries, err := deps.Store.ListEntries(200, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list entries: %w", err)
		}

		var b strings.Builder
		b.WriteString("Review the following user feedback collected from web pages. ")
		b.WriteString("Group related items, identify the most pressing problems and propose concrete fixes.")
		if focus := req.Params.Arguments["focus"]; focus != "" {
			fmt.Fprintf(&b, " Concentrate on: %s.", focus)
		}
		b.WriteString("\n")

		open := 0
		for _, e := range entries {
			if e.Addressed {
				continue
			}
			open++
			fmt.Fprintf(&b, "\n[%s] %s (%s)\n%s\n", e.ID, e.URL, e.Timestamp, e.Feedback)
		}
		if open == 0 {
			b.WriteString("\nThere is no open feedback.\n")
		}

		return mcp.NewGetPromptResult(
			"Analyze open feedback",
			[]mcp.PromptMessage{
				mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(b.String())),
			},
		), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
