package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/tunerr/internal/ingestor"
	"github.com/jmylchreest/tunerr/internal/models"
	"github.com/jmylchreest/tunerr/internal/repository"
)

// Refresher is the slice of the ingestor the source handlers drive.
type Refresher interface {
	RefreshStreamSource(ctx context.Context, id models.ULID) (*ingestor.PlaylistResult, error)
	RefreshGuideSource(ctx context.Context, id models.ULID) (*ingestor.GuideResult, error)
	Refreshing(id models.ULID) bool
}

// CronValidator checks cron expressions before they are stored.
type CronValidator interface {
	ValidateCron(expr string) error
}

// StreamSourceHandler handles playlist source endpoints.
type StreamSourceHandler struct {
	sources   repository.StreamSourceRepository
	refresher Refresher
	cron      CronValidator
	logger    *slog.Logger
}

// NewStreamSourceHandler creates a stream source handler.
func NewStreamSourceHandler(sources repository.StreamSourceRepository, refresher Refresher, cron CronValidator, logger *slog.Logger) *StreamSourceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamSourceHandler{
		sources:   sources,
		refresher: refresher,
		cron:      cron,
		logger:    logger,
	}
}

// Register registers the stream source routes with the API.
func (h *StreamSourceHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listStreamSources",
		Method:      "GET",
		Path:        "/api/v1/sources/streams",
		Summary:     "List playlist sources",
		Tags:        []string{"Stream Sources"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getStreamSource",
		Method:      "GET",
		Path:        "/api/v1/sources/streams/{id}",
		Summary:     "Get playlist source",
		Tags:        []string{"Stream Sources"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "createStreamSource",
		Method:      "POST",
		Path:        "/api/v1/sources/streams",
		Summary:     "Create playlist source",
		Tags:        []string{"Stream Sources"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "updateStreamSource",
		Method:      "PUT",
		Path:        "/api/v1/sources/streams/{id}",
		Summary:     "Update playlist source",
		Tags:        []string{"Stream Sources"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteStreamSource",
		Method:      "DELETE",
		Path:        "/api/v1/sources/streams/{id}",
		Summary:     "Delete playlist source",
		Description: "Deletes a playlist source and all its channels",
		Tags:        []string{"Stream Sources"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "refreshStreamSource",
		Method:      "POST",
		Path:        "/api/v1/sources/streams/{id}/refresh",
		Summary:     "Refresh playlist source",
		Description: "Fetches the playlist and reconciles channels and streams in the background",
		Tags:        []string{"Stream Sources"},
	}, h.Refresh)
}

// ListStreamSourcesInput is the input for listing sources.
type ListStreamSourcesInput struct{}

// ListStreamSourcesOutput is the output for listing sources.
type ListStreamSourcesOutput struct {
	Body struct {
		Sources []StreamSourceResponse `json:"sources"`
	}
}

// List returns all playlist sources.
func (h *StreamSourceHandler) List(ctx context.Context, input *ListStreamSourcesInput) (*ListStreamSourcesOutput, error) {
	sources, err := h.sources.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list sources", err)
	}

	resp := &ListStreamSourcesOutput{}
	resp.Body.Sources = make([]StreamSourceResponse, 0, len(sources))
	for _, s := range sources {
		resp.Body.Sources = append(resp.Body.Sources, StreamSourceFromModel(s, h.refresher.Refreshing(s.ID)))
	}
	return resp, nil
}

// GetStreamSourceInput is the input for getting a source.
type GetStreamSourceInput struct {
	ID string `path:"id" doc:"Source ID (ULID)"`
}

// GetStreamSourceOutput is the output for getting a source.
type GetStreamSourceOutput struct {
	Body StreamSourceResponse
}

// GetByID returns a playlist source by ID.
func (h *StreamSourceHandler) GetByID(ctx context.Context, input *GetStreamSourceInput) (*GetStreamSourceOutput, error) {
	source, err := h.loadSource(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &GetStreamSourceOutput{
		Body: StreamSourceFromModel(source, h.refresher.Refreshing(source.ID)),
	}, nil
}

// CreateStreamSourceInput is the input for creating a source.
type CreateStreamSourceInput struct {
	Body CreateStreamSourceRequest
}

// CreateStreamSourceOutput is the output for creating a source.
type CreateStreamSourceOutput struct {
	Body StreamSourceResponse
}

// Create creates a playlist source.
func (h *StreamSourceHandler) Create(ctx context.Context, input *CreateStreamSourceInput) (*CreateStreamSourceOutput, error) {
	source := input.Body.ToModel()

	if err := h.validateCron(source.CronSchedule); err != nil {
		return nil, err
	}

	if err := h.sources.Create(ctx, source); err != nil {
		if errors.Is(err, models.ErrNameRequired) ||
			errors.Is(err, models.ErrURLRequired) ||
			errors.Is(err, models.ErrInvalidURL) {
			return nil, huma.Error400BadRequest(err.Error())
		}
		if isUniqueViolation(err) {
			return nil, huma.Error409Conflict("a source with this name already exists")
		}
		return nil, huma.Error500InternalServerError("failed to create source", err)
	}

	return &CreateStreamSourceOutput{
		Body: StreamSourceFromModel(source, false),
	}, nil
}

// UpdateStreamSourceInput is the input for updating a source.
type UpdateStreamSourceInput struct {
	ID   string `path:"id" doc:"Source ID (ULID)"`
	Body UpdateStreamSourceRequest
}

// UpdateStreamSourceOutput is the output for updating a source.
type UpdateStreamSourceOutput struct {
	Body StreamSourceResponse
}

// Update updates a playlist source.
func (h *StreamSourceHandler) Update(ctx context.Context, input *UpdateStreamSourceInput) (*UpdateStreamSourceOutput, error) {
	source, err := h.loadSource(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	input.Body.ApplyToModel(source)

	if err := h.validateCron(source.CronSchedule); err != nil {
		return nil, err
	}

	if err := h.sources.Update(ctx, source); err != nil {
		if errors.Is(err, models.ErrNameRequired) ||
			errors.Is(err, models.ErrURLRequired) ||
			errors.Is(err, models.ErrInvalidURL) {
			return nil, huma.Error400BadRequest(err.Error())
		}
		if isUniqueViolation(err) {
			return nil, huma.Error409Conflict("a source with this name already exists")
		}
		return nil, huma.Error500InternalServerError("failed to update source", err)
	}

	return &UpdateStreamSourceOutput{
		Body: StreamSourceFromModel(source, h.refresher.Refreshing(source.ID)),
	}, nil
}

// DeleteStreamSourceInput is the input for deleting a source.
type DeleteStreamSourceInput struct {
	ID string `path:"id" doc:"Source ID (ULID)"`
}

// DeleteStreamSourceOutput is the output for deleting a source.
type DeleteStreamSourceOutput struct{}

// Delete deletes a playlist source and its channels.
func (h *StreamSourceHandler) Delete(ctx context.Context, input *DeleteStreamSourceInput) (*DeleteStreamSourceOutput, error) {
	source, err := h.loadSource(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if err := h.sources.Delete(ctx, source.ID); err != nil {
		return nil, huma.Error500InternalServerError("failed to delete source", err)
	}

	return &DeleteStreamSourceOutput{}, nil
}

// RefreshStreamSourceInput is the input for triggering a refresh.
type RefreshStreamSourceInput struct {
	ID string `path:"id" doc:"Source ID (ULID)"`
}

// RefreshStreamSourceOutput is the output for triggering a refresh.
type RefreshStreamSourceOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// Refresh starts a background refresh for the source.
func (h *StreamSourceHandler) Refresh(ctx context.Context, input *RefreshStreamSourceInput) (*RefreshStreamSourceOutput, error) {
	source, err := h.loadSource(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if h.refresher.Refreshing(source.ID) {
		return nil, huma.Error409Conflict("a refresh for this source is already running")
	}

	// Detached from the request context: the refresh outlives the response.
	go func() {
		if _, err := h.refresher.RefreshStreamSource(context.Background(), source.ID); err != nil {
			if !errors.Is(err, ingestor.ErrRefreshInFlight) {
				h.logger.Error("background playlist refresh failed",
					slog.String("source_id", source.ID.String()),
					slog.Any("error", err))
			}
		}
	}()

	resp := &RefreshStreamSourceOutput{}
	resp.Body.Message = fmt.Sprintf("refresh started for source %s", source.Name)
	return resp, nil
}

// loadSource parses the ID and loads the source, translating the usual
// failures into API errors.
func (h *StreamSourceHandler) loadSource(ctx context.Context, rawID string) (*models.StreamSource, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	source, err := h.sources.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get source", err)
	}
	if source == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("source %s not found", rawID))
	}
	return source, nil
}

// validateCron rejects unparseable cron schedules. Empty means no schedule.
func (h *StreamSourceHandler) validateCron(expr string) error {
	if expr == "" || h.cron == nil {
		return nil
	}
	if err := h.cron.ValidateCron(expr); err != nil {
		return huma.Error400BadRequest("invalid cron schedule", err)
	}
	return nil
}
