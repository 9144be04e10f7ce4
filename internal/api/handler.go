// Package api exposes the relay over HTTP and MCP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/feedbackflow/internal/protocol"
	"github.com/kalambet/feedbackflow/internal/relay"
	"github.com/kalambet/feedbackflow/internal/storage"
	"github.com/kalambet/feedbackflow/internal/tabs"
)

const maxRequestBodySize = 1 << 20 // 1MB

const defaultPageURL = "about:blank"

type AppDeps struct {
	Relay *relay.Relay
	Store *storage.Store
	Tabs  *tabs.Manager
	Token string
}

type FeedbackRequest struct {
	Feedback string `json:"feedback"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	// Source is page (the default) or cli.
	Source string `json:"source,omitempty"`
}

type AddressRequest struct {
	Resolution string `json:"resolution"`
}

type VerboseRequest struct {
	Value *bool `json:"value"`
}

type OpenTabRequest struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Bridge *bool  `json:"bridge"`
}

type VerboseResponse struct {
	Success   bool     `json:"success"`
	Verbose   bool     `json:"verbose"`
	Delivered int      `json:"delivered"`
	Failed    []string `json:"failed,omitempty"`
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/feedback", handleGetLog(deps))
		r.Post("/feedback", handleSubmitFeedback(deps))
		r.Delete("/feedback", handleClearFeedback(deps))
		r.Get("/feedback/entries", handleListEntries(deps))
		r.Post("/feedback/entries/{id}/addressed", handleMarkAddressed(deps))

		r.Get("/verbose", handleGetVerbose(deps))
		r.Put("/verbose", handleSetVerbose(deps))

		r.Get("/tabs", handleListTabs(deps))
		r.Post("/tabs", handleOpenTab(deps))
		r.Get("/tabs/{id}", handleGetTab(deps))
		r.Delete("/tabs/{id}", handleCloseTab(deps))
		r.Post("/tabs/{id}/feedback", handleTabFeedback(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleGetLog(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		blob, err := deps.Relay.Log(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read feedback log: %v", err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(blob))
	}
}

func handleSubmitFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FeedbackRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.URL == "" {
			req.URL = defaultPageURL
		}
		switch req.Source {
		case "", protocol.SourcePage, protocol.SourceCLI:
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown source %q", req.Source)
			return
		}

		res, err := deps.Tabs.SubmitOnce(r.Context(), req.URL, req.Title, req.Feedback, tabs.OpenOptions{Source: req.Source})
		writeDelivery(w, res, err)
	}
}

func handleTabFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FeedbackRequest
		if !decodeBody(w, r, &req) {
			return
		}
		res, err := deps.Tabs.Submit(r.Context(), chi.URLParam(r, "id"), req.Feedback)
		writeDelivery(w, res, err)
	}
}

// writeDelivery maps a page submission outcome to a response. A result that
// reached the relay is returned as-is; a failed local write is a 500.
func writeDelivery(w http.ResponseWriter, res protocol.DeliveryResult, err error) {
	switch {
	case errors.Is(err, protocol.ErrValidation):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "feedback is required")
	case errors.Is(err, tabs.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "tab not found")
	case errors.Is(err, tabs.ErrNoBridge):
		httpError(w, http.StatusConflict, "invalid_request_error", "%v", err)
	case err != nil:
		httpError(w, http.StatusGatewayTimeout, "api_error", "feedback not acknowledged: %v", err)
	case !res.Success:
		writeJSON(w, http.StatusInternalServerError, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func handleClearFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := deps.Relay.ClearFeedback(r.Context())
		status := http.StatusOK
		if !res.Success {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, res)
	}
}

func handleListEntries(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)
		offset := parseIntParam(r, "offset", 0, 0)

		entries, err := deps.Store.ListEntries(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list entries: %v", err)
			return
		}
		if entries == nil {
			entries = []storage.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleMarkAddressed(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req AddressRequest
		if r.ContentLength != 0 && !decodeBody(w, r, &req) {
			return
		}

		err := deps.Store.MarkEntryAddressed(id, req.Resolution)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "entry not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to mark entry: %v", err)
			return
		}

		entry, err := deps.Store.GetEntry(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load entry: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func handleGetVerbose(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"verbose": deps.Relay.Verbose()})
	}
}

func handleSetVerbose(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VerboseRequest
		if r.ContentLength != 0 && !decodeBody(w, r, &req) {
			return
		}

		res := deps.Relay.ToggleVerbose(r.Context(), req.Value)
		resp := VerboseResponse{Success: true, Verbose: res.Verbose, Delivered: res.Delivered}
		for _, f := range res.Failures {
			resp.Failed = append(resp.Failed, f.TabID)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleListTabs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Tabs.List())
	}
}

func handleOpenTab(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OpenTabRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.URL) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
			return
		}

		opts := tabs.OpenOptions{NoBridge: req.Bridge != nil && !*req.Bridge}
		tab := deps.Tabs.Open(req.URL, req.Title, opts)
		writeJSON(w, http.StatusCreated, tab.Info())
	}
}

func handleGetTab(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tab, err := deps.Tabs.Get(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found", "tab not found")
			return
		}
		writeJSON(w, http.StatusOK, tab.Info())
	}
}

func handleCloseTab(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Tabs.Close(chi.URLParam(r, "id")); err != nil {
			httpError(w, http.StatusNotFound, "not_found", "tab not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
