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

// GuideSourceHandler handles XMLTV guide source endpoints.
type GuideSourceHandler struct {
	guides    repository.GuideSourceRepository
	refresher Refresher
	cron      CronValidator
	logger    *slog.Logger
}

// NewGuideSourceHandler creates a guide source handler.
func NewGuideSourceHandler(guides repository.GuideSourceRepository, refresher Refresher, cron CronValidator, logger *slog.Logger) *GuideSourceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuideSourceHandler{
		guides:    guides,
		refresher: refresher,
		cron:      cron,
		logger:    logger,
	}
}

// Register registers the guide source routes with the API.
func (h *GuideSourceHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listGuideSources",
		Method:      "GET",
		Path:        "/api/v1/sources/guides",
		Summary:     "List guide sources",
		Tags:        []string{"Guide Sources"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getGuideSource",
		Method:      "GET",
		Path:        "/api/v1/sources/guides/{id}",
		Summary:     "Get guide source",
		Tags:        []string{"Guide Sources"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "createGuideSource",
		Method:      "POST",
		Path:        "/api/v1/sources/guides",
		Summary:     "Create guide source",
		Tags:        []string{"Guide Sources"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "updateGuideSource",
		Method:      "PUT",
		Path:        "/api/v1/sources/guides/{id}",
		Summary:     "Update guide source",
		Tags:        []string{"Guide Sources"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteGuideSource",
		Method:      "DELETE",
		Path:        "/api/v1/sources/guides/{id}",
		Summary:     "Delete guide source",
		Description: "Deletes a guide source and all its programs",
		Tags:        []string{"Guide Sources"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "refreshGuideSource",
		Method:      "POST",
		Path:        "/api/v1/sources/guides/{id}/refresh",
		Summary:     "Refresh guide source",
		Description: "Fetches the XMLTV document and upserts its programs in the background",
		Tags:        []string{"Guide Sources"},
	}, h.Refresh)
}

// ListGuideSourcesInput is the input for listing guide sources.
type ListGuideSourcesInput struct{}

// ListGuideSourcesOutput is the output for listing guide sources.
type ListGuideSourcesOutput struct {
	Body struct {
		Sources []GuideSourceResponse `json:"sources"`
	}
}

// List returns all guide sources.
func (h *GuideSourceHandler) List(ctx context.Context, input *ListGuideSourcesInput) (*ListGuideSourcesOutput, error) {
	sources, err := h.guides.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list guide sources", err)
	}

	resp := &ListGuideSourcesOutput{}
	resp.Body.Sources = make([]GuideSourceResponse, 0, len(sources))
	for _, s := range sources {
		resp.Body.Sources = append(resp.Body.Sources, GuideSourceFromModel(s, h.refresher.Refreshing(s.ID)))
	}
	return resp, nil
}

// GetGuideSourceInput is the input for getting a guide source.
type GetGuideSourceInput struct {
	ID string `path:"id" doc:"Source ID (ULID)"`
}

// GetGuideSourceOutput is the output for getting a guide source.
type GetGuideSourceOutput struct {
	Body GuideSourceResponse
}

// GetByID returns a guide source by ID.
func (h *GuideSourceHandler) GetByID(ctx context.Context, input *GetGuideSourceInput) (*GetGuideSourceOutput, error) {
	source, err := h.loadSource(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &GetGuideSourceOutput{
		Body: GuideSourceFromModel(source, h.refresher.Refreshing(source.ID)),
	}, nil
}

// CreateGuideSourceInput is the input for creating a guide source.
type CreateGuideSourceInput struct {
	Body CreateGuideSourceRequest
}

// CreateGuideSourceOutput is the output for creating a guide source.
type CreateGuideSourceOutput struct {
	Body GuideSourceResponse
}

// Create creates a guide source.
func (h *GuideSourceHandler) Create(ctx context.Context, input *CreateGuideSourceInput) (*CreateGuideSourceOutput, error) {
	source := input.Body.ToModel()

	if err := h.validateCron(source.CronSchedule); err != nil {
		return nil, err
	}

	if err := h.guides.Create(ctx, source); err != nil {
		if errors.Is(err, models.ErrNameRequired) ||
			errors.Is(err, models.ErrURLRequired) ||
			errors.Is(err, models.ErrInvalidURL) {
			return nil, huma.Error400BadRequest(err.Error())
		}
		if isUniqueViolation(err) {
			return nil, huma.Error409Conflict("a guide source with this name already exists")
		}
		return nil, huma.Error500InternalServerError("failed to create guide source", err)
	}

	return &CreateGuideSourceOutput{
		Body: GuideSourceFromModel(source, false),
	}, nil
}

// UpdateGuideSourceInput is the input for updating a guide source.
type UpdateGuideSourceInput struct {
	ID   string `path:"id" doc:"Source ID (ULID)"`
	Body UpdateGuideSourceRequest
}

// UpdateGuideSourceOutput is the output for updating a guide source.
type UpdateGuideSourceOutput struct {
	Body GuideSourceResponse
}

// Update updates a guide source.
func (h *GuideSourceHandler) Update(ctx context.Context, input *UpdateGuideSourceInput) (*UpdateGuideSourceOutput, error) {
	source, err := h.loadSource(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	input.Body.ApplyToModel(source)

	if err := h.validateCron(source.CronSchedule); err != nil {
		return nil, err
	}

	if err := h.guides.Update(ctx, source); err != nil {
		if errors.Is(err, models.ErrNameRequired) ||
			errors.Is(err, models.ErrURLRequired) ||
			errors.Is(err, models.ErrInvalidURL) {
			return nil, huma.Error400BadRequest(err.Error())
		}
		if isUniqueViolation(err) {
			return nil, huma.Error409Conflict("a guide source with this name already exists")
		}
		return nil, huma.Error500InternalServerError("failed to update guide source", err)
	}

	return &UpdateGuideSourceOutput{
		Body: GuideSourceFromModel(source, h.refresher.Refreshing(source.ID)),
	}, nil
}

// DeleteGuideSourceInput is the input for deleting a guide source.
type DeleteGuideSourceInput struct {
	ID string `path:"id" doc:"Source ID (ULID)"`
}

// DeleteGuideSourceOutput is the output for deleting a guide source.
type DeleteGuideSourceOutput struct{}

// Delete deletes a guide source and its programs.
func (h *GuideSourceHandler) Delete(ctx context.Context, input *DeleteGuideSourceInput) (*DeleteGuideSourceOutput, error) {
	source, err := h.loadSource(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if err := h.guides.Delete(ctx, source.ID); err != nil {
		return nil, huma.Error500InternalServerError("failed to delete guide source", err)
	}

	return &DeleteGuideSourceOutput{}, nil
}

// RefreshGuideSourceInput is the input for triggering a guide refresh.
type RefreshGuideSourceInput struct {
	ID string `path:"id" doc:"Source ID (ULID)"`
}

// RefreshGuideSourceOutput is the output for triggering a guide refresh.
type RefreshGuideSourceOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// Refresh starts a background refresh for the guide source.
func (h *GuideSourceHandler) Refresh(ctx context.Context, input *RefreshGuideSourceInput) (*RefreshGuideSourceOutput, error) {
	source, err := h.loadSource(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if h.refresher.Refreshing(source.ID) {
		return nil, huma.Error409Conflict("a refresh for this source is already running")
	}

	go func() {
		if _, err := h.refresher.RefreshGuideSource(context.Background(), source.ID); err != nil {
			if !errors.Is(err, ingestor.ErrRefreshInFlight) {
				h.logger.Error("background guide refresh failed",
					slog.String("source_id", source.ID.String()),
					slog.Any("error", err))
			}
		}
	}()

	resp := &RefreshGuideSourceOutput{}
	resp.Body.Message = fmt.Sprintf("refresh started for guide source %s", source.Name)
	return resp, nil
}

func (h *GuideSourceHandler) loadSource(ctx context.Context, rawID string) (*models.GuideSource, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	source, err := h.guides.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get guide source", err)
	}
	if source == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("guide source %s not found", rawID))
	}
	return source, nil
}

func (h *GuideSourceHandler) validateCron(expr string) error {
	if expr == "" || h.cron == nil {
		return nil
	}
	if err := h.cron.ValidateCron(expr); err != nil {
		return huma.Error400BadRequest("invalid cron schedule", err)
	}
	return nil
}
