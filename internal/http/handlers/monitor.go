package handlers

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/tunerr/internal/analyzer"
	"github.com/jmylchreest/tunerr/internal/session"
	"github.com/jmylchreest/tunerr/internal/validator"
)

// SessionTerminator force-ends a tuning session.
type SessionTerminator interface {
	TerminateSession(id string) bool
}

// AnalyzerCache exposes the analyzer's profile cache for inspection.
type AnalyzerCache interface {
	CacheSnapshot() []analyzer.CachedProfile
	Invalidate(url string) bool
}

// EventSource exposes the validator's recent-event ring.
type EventSource interface {
	Events() []validator.Event
}

// MonitorHandler handles the live-state endpoints: sessions, consumers,
// analyzer cache, and validator events.
type MonitorHandler struct {
	registry   *session.Registry
	consumers  *session.ConsumerManager
	terminator SessionTerminator
	cache      AnalyzerCache
	events     EventSource
}

// NewMonitorHandler creates a monitor handler.
func NewMonitorHandler(
	registry *session.Registry,
	consumers *session.ConsumerManager,
	terminator SessionTerminator,
	cache AnalyzerCache,
	events EventSource,
) *MonitorHandler {
	return &MonitorHandler{
		registry:   registry,
		consumers:  consumers,
		terminator: terminator,
		cache:      cache,
		events:     events,
	}
}

// Register registers the monitor routes with the API.
func (h *MonitorHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      "GET",
		Path:        "/api/v1/sessions",
		Summary:     "List active sessions",
		Description: "Returns every active tuning session with bandwidth figures and tuner utilization",
		Tags:        []string{"Monitor"},
	}, h.ListSessions)

	huma.Register(api, huma.Operation{
		OperationID: "terminateSession",
		Method:      "DELETE",
		Path:        "/api/v1/sessions/{id}",
		Summary:     "Terminate session",
		Description: "Force-ends a tuning session and frees its tuner slot",
		Tags:        []string{"Monitor"},
	}, h.TerminateSession)

	huma.Register(api, huma.Operation{
		OperationID: "listConsumers",
		Method:      "GET",
		Path:        "/api/v1/consumers",
		Summary:     "List consumers",
		Description: "Returns clients currently known from discovery polling and streaming",
		Tags:        []string{"Monitor"},
	}, h.ListConsumers)

	huma.Register(api, huma.Operation{
		OperationID: "listAnalyzerCache",
		Method:      "GET",
		Path:        "/api/v1/analyzer/cache",
		Summary:     "Inspect analyzer cache",
		Description: "Returns cached stream profiles and their expiry",
		Tags:        []string{"Monitor"},
	}, h.ListAnalyzerCache)

	huma.Register(api, huma.Operation{
		OperationID: "invalidateAnalyzerCache",
		Method:      "DELETE",
		Path:        "/api/v1/analyzer/cache",
		Summary:     "Invalidate analyzer cache entry",
		Description: "Drops the cached profile for a URL so the next tune re-probes it",
		Tags:        []string{"Monitor"},
	}, h.InvalidateAnalyzerCache)

	huma.Register(api, huma.Operation{
		OperationID: "listValidatorEvents",
		Method:      "GET",
		Path:        "/api/v1/validator/events",
		Summary:     "List metadata validator events",
		Description: "Returns the ring of recent XML sanitization events",
		Tags:        []string{"Monitor"},
	}, h.ListValidatorEvents)
}

// ListSessionsInput is the input for listing sessions.
type ListSessionsInput struct{}

// ListSessionsOutput is the output for listing sessions.
type ListSessionsOutput struct {
	Body struct {
		Sessions []session.Info `json:"sessions"`
		Stats    session.Stats  `json:"stats"`
	}
}

// ListSessions returns the active sessions and registry statistics.
func (h *MonitorHandler) ListSessions(ctx context.Context, input *ListSessionsInput) (*ListSessionsOutput, error) {
	resp := &ListSessionsOutput{}
	resp.Body.Sessions = h.registry.Enumerate()
	resp.Body.Stats = h.registry.Stats()
	return resp, nil
}

// TerminateSessionInput is the input for terminating a session.
type TerminateSessionInput struct {
	ID string `path:"id" doc:"Session ID (UUID)"`
}

// TerminateSessionOutput is the output for terminating a session.
type TerminateSessionOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// TerminateSession force-ends a session.
func (h *MonitorHandler) TerminateSession(ctx context.Context, input *TerminateSessionInput) (*TerminateSessionOutput, error) {
	if !h.terminator.TerminateSession(input.ID) {
		return nil, huma.Error404NotFound(fmt.Sprintf("session %s not found", input.ID))
	}

	resp := &TerminateSessionOutput{}
	resp.Body.Message = fmt.Sprintf("session %s terminated", input.ID)
	return resp, nil
}

// ListConsumersInput is the input for listing consumers.
type ListConsumersInput struct{}

// ListConsumersOutput is the output for listing consumers.
type ListConsumersOutput struct {
	Body struct {
		Consumers []session.ConsumerInfo `json:"consumers"`
		Count     int                    `json:"count"`
	}
}

// ListConsumers returns the live consumer table.
func (h *MonitorHandler) ListConsumers(ctx context.Context, input *ListConsumersInput) (*ListConsumersOutput, error) {
	resp := &ListConsumersOutput{}
	resp.Body.Consumers = h.consumers.Snapshot()
	resp.Body.Count = len(resp.Body.Consumers)
	return resp, nil
}

// ListAnalyzerCacheInput is the input for inspecting the analyzer cache.
type ListAnalyzerCacheInput struct{}

// ListAnalyzerCacheOutput is the output for inspecting the analyzer cache.
type ListAnalyzerCacheOutput struct {
	Body struct {
		Profiles []analyzer.CachedProfile `json:"profiles"`
	}
}

// ListAnalyzerCache returns the cached stream profiles.
func (h *MonitorHandler) ListAnalyzerCache(ctx context.Context, input *ListAnalyzerCacheInput) (*ListAnalyzerCacheOutput, error) {
	resp := &ListAnalyzerCacheOutput{}
	resp.Body.Profiles = h.cache.CacheSnapshot()
	return resp, nil
}

// InvalidateAnalyzerCacheInput is the input for dropping a cache entry.
type InvalidateAnalyzerCacheInput struct {
	URL string `query:"url" required:"true" doc:"Stream URL whose cached profile should be dropped"`
}

// InvalidateAnalyzerCacheOutput is the output for dropping a cache entry.
type InvalidateAnalyzerCacheOutput struct {
	Body struct {
		Invalidated bool `json:"invalidated"`
	}
}

// InvalidateAnalyzerCache drops the cached profile for a URL.
func (h *MonitorHandler) InvalidateAnalyzerCache(ctx context.Context, input *InvalidateAnalyzerCacheInput) (*InvalidateAnalyzerCacheOutput, error) {
	resp := &InvalidateAnalyzerCacheOutput{}
	resp.Body.Invalidated = h.cache.Invalidate(input.URL)
	return resp, nil
}

// ListValidatorEventsInput is the input for listing validator events.
type ListValidatorEventsInput struct{}

// ListValidatorEventsOutput is the output for listing validator events.
type ListValidatorEventsOutput struct {
	Body struct {
		Events []validator.Event `json:"events"`
	}
}

// ListValidatorEvents returns recent XML sanitization events.
func (h *MonitorHandler) ListValidatorEvents(ctx context.Context, input *ListValidatorEventsInput) (*ListValidatorEventsOutput, error) {
	resp := &ListValidatorEventsOutput{}
	resp.Body.Events = h.events.Events()
	return resp, nil
}
