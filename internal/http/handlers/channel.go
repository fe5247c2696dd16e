package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/tunerr/internal/models"
	"github.com/jmylchreest/tunerr/internal/repository"
)

// ChannelHandler handles channel and stream endpoints. Channels are created
// by the importer, so the API only reads and curates them.
type ChannelHandler struct {
	channels repository.ChannelRepository
	streams  repository.StreamRepository
}

// NewChannelHandler creates a channel handler.
func NewChannelHandler(channels repository.ChannelRepository, streams repository.StreamRepository) *ChannelHandler {
	return &ChannelHandler{
		channels: channels,
		streams:  streams,
	}
}

// Register registers the channel routes with the API.
func (h *ChannelHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listChannels",
		Method:      "GET",
		Path:        "/api/v1/channels",
		Summary:     "List channels",
		Description: "Returns channels ordered by guide number, with pagination and name search",
		Tags:        []string{"Channels"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getChannel",
		Method:      "GET",
		Path:        "/api/v1/channels/{id}",
		Summary:     "Get channel",
		Description: "Returns a channel with its streams",
		Tags:        []string{"Channels"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "updateChannel",
		Method:      "PATCH",
		Path:        "/api/v1/channels/{id}",
		Summary:     "Update channel",
		Description: "Curates a channel: number, name, EPG mapping, logo, enabled",
		Tags:        []string{"Channels"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "listChannelStreams",
		Method:      "GET",
		Path:        "/api/v1/channels/{id}/streams",
		Summary:     "List channel streams",
		Description: "Returns the channel's backing streams ordered by priority",
		Tags:        []string{"Channels"},
	}, h.ListStreams)

	huma.Register(api, huma.Operation{
		OperationID: "updateStream",
		Method:      "PATCH",
		Path:        "/api/v1/streams/{id}",
		Summary:     "Update stream",
		Description: "Enables or disables a stream and adjusts its priority",
		Tags:        []string{"Channels"},
	}, h.UpdateStream)
}

// ListChannelsInput is the input for listing channels.
type ListChannelsInput struct {
	Page     int    `query:"page" default:"1" minimum:"1" doc:"Page number"`
	PageSize int    `query:"page_size" default:"50" minimum:"1" maximum:"500" doc:"Channels per page"`
	Search   string `query:"search" doc:"Case-insensitive name filter"`
}

// ListChannelsOutput is the output for listing channels.
type ListChannelsOutput struct {
	Body struct {
		Channels []ChannelResponse `json:"channels"`
		Total    int64             `json:"total"`
		Page     int               `json:"page"`
		PageSize int               `json:"page_size"`
	}
}

// List returns channels page by page.
func (h *ChannelHandler) List(ctx context.Context, input *ListChannelsInput) (*ListChannelsOutput, error) {
	page := input.Page
	if page < 1 {
		page = 1
	}
	pageSize := input.PageSize
	if pageSize < 1 {
		pageSize = 50
	}

	channels, total, err := h.channels.GetAllPaginated(ctx, (page-1)*pageSize, pageSize, input.Search)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list channels", err)
	}

	resp := &ListChannelsOutput{}
	resp.Body.Channels = make([]ChannelResponse, 0, len(channels))
	for _, c := range channels {
		resp.Body.Channels = append(resp.Body.Channels, ChannelFromModel(c))
	}
	resp.Body.Total = total
	resp.Body.Page = page
	resp.Body.PageSize = pageSize
	return resp, nil
}

// GetChannelInput is the input for getting a channel.
type GetChannelInput struct {
	ID string `path:"id" doc:"Channel ID (ULID)"`
}

// GetChannelOutput is the output for getting a channel.
type GetChannelOutput struct {
	Body ChannelResponse
}

// GetByID returns a channel with its streams.
func (h *ChannelHandler) GetByID(ctx context.Context, input *GetChannelInput) (*GetChannelOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	channel, err := h.channels.GetByIDWithStreams(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get channel", err)
	}
	if channel == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("channel %s not found", input.ID))
	}

	return &GetChannelOutput{Body: ChannelFromModel(channel)}, nil
}

// UpdateChannelInput is the input for updating a channel.
type UpdateChannelInput struct {
	ID   string `path:"id" doc:"Channel ID (ULID)"`
	Body UpdateChannelRequest
}

// UpdateChannelOutput is the output for updating a channel.
type UpdateChannelOutput struct {
	Body ChannelResponse
}

// Update curates a channel.
func (h *ChannelHandler) Update(ctx context.Context, input *UpdateChannelInput) (*UpdateChannelOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	channel, err := h.channels.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get channel", err)
	}
	if channel == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("channel %s not found", input.ID))
	}

	if input.Body.Number != nil && *input.Body.Number != channel.Number {
		existing, err := h.channels.GetByNumber(ctx, *input.Body.Number)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to check channel number", err)
		}
		if existing != nil {
			return nil, huma.Error409Conflict(fmt.Sprintf("channel number %d is already in use", *input.Body.Number))
		}
	}

	input.Body.ApplyToModel(channel)

	if err := h.channels.Update(ctx, channel); err != nil {
		if errors.Is(err, models.ErrChannelNumberRange) || errors.Is(err, models.ErrNameRequired) {
			return nil, huma.Error400BadRequest(err.Error())
		}
		return nil, huma.Error500InternalServerError("failed to update channel", err)
	}

	return &UpdateChannelOutput{Body: ChannelFromModel(channel)}, nil
}

// ListChannelStreamsInput is the input for listing a channel's streams.
type ListChannelStreamsInput struct {
	ID string `path:"id" doc:"Channel ID (ULID)"`
}

// ListChannelStreamsOutput is the output for listing a channel's streams.
type ListChannelStreamsOutput struct {
	Body struct {
		Streams []StreamResponse `json:"streams"`
	}
}

// ListStreams returns the channel's streams ordered by priority.
func (h *ChannelHandler) ListStreams(ctx context.Context, input *ListChannelStreamsInput) (*ListChannelStreamsOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	channel, err := h.channels.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get channel", err)
	}
	if channel == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("channel %s not found", input.ID))
	}

	streams, err := h.streams.GetByChannelID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list streams", err)
	}

	resp := &ListChannelStreamsOutput{}
	resp.Body.Streams = make([]StreamResponse, 0, len(streams))
	for _, s := range streams {
		resp.Body.Streams = append(resp.Body.Streams, StreamFromModel(s))
	}
	return resp, nil
}

// UpdateStreamRequest carries curatable stream fields.
type UpdateStreamRequest struct {
	Enabled  *bool `json:"enabled,omitempty"`
	Priority *int  `json:"priority,omitempty" minimum:"0"`
}

// UpdateStreamInput is the input for updating a stream.
type UpdateStreamInput struct {
	ID   string `path:"id" doc:"Stream ID (ULID)"`
	Body UpdateStreamRequest
}

// UpdateStreamOutput is the output for updating a stream.
type UpdateStreamOutput struct {
	Body StreamResponse
}

// UpdateStream enables, disables or reprioritises a stream.
func (h *ChannelHandler) UpdateStream(ctx context.Context, input *UpdateStreamInput) (*UpdateStreamOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	stream, err := h.streams.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get stream", err)
	}
	if stream == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("stream %s not found", input.ID))
	}

	if input.Body.Enabled != nil {
		stream.Enabled = models.BoolPtr(*input.Body.Enabled)
	}
	if input.Body.Priority != nil {
		stream.Priority = *input.Body.Priority
	}

	if err := h.streams.Update(ctx, stream); err != nil {
		return nil, huma.Error500InternalServerError("failed to update stream", err)
	}

	return &UpdateStreamOutput{Body: StreamFromModel(stream)}, nil
}
