package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/tunerr/internal/epg"
	"github.com/jmylchreest/tunerr/internal/models"
)

// GuideHandler handles the guide status and now/next endpoints.
type GuideHandler struct {
	epg *epg.Service
}

// NewGuideHandler creates a guide handler.
func NewGuideHandler(service *epg.Service) *GuideHandler {
	return &GuideHandler{epg: service}
}

// Register registers the guide routes with the API.
func (h *GuideHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getGuideStatus",
		Method:      "GET",
		Path:        "/api/v1/guide/status",
		Summary:     "Guide status",
		Description: "Returns whether guide data is available and where the XMLTV export is served",
		Tags:        []string{"Guide"},
	}, h.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID: "getGuideNowNext",
		Method:      "GET",
		Path:        "/api/v1/guide/channels/{epgID}/now",
		Summary:     "Now and next",
		Description: "Returns the current programme and the next few upcoming ones for a channel",
		Tags:        []string{"Guide"},
	}, h.GetNowNext)
}

// GuideStatusInput is the input for the guide status endpoint.
type GuideStatusInput struct{}

// GuideStatusOutput is the output for the guide status endpoint.
type GuideStatusOutput struct {
	Body struct {
		Available bool   `json:"available"`
		Programs  int64  `json:"programs"`
		XMLTVURL  string `json:"xmltv_url"`
	}
}

// GetStatus reports guide availability.
func (h *GuideHandler) GetStatus(ctx context.Context, input *GuideStatusInput) (*GuideStatusOutput, error) {
	available, programs := h.epg.GuideStatus(ctx)

	resp := &GuideStatusOutput{}
	resp.Body.Available = available
	resp.Body.Programs = programs
	resp.Body.XMLTVURL = h.epg.XMLTVURL()
	return resp, nil
}

// NowNextInput is the input for the now/next endpoint.
type NowNextInput struct {
	EpgID string `path:"epgID" doc:"Channel EPG ID (tvg-id)"`
	Limit int    `query:"limit" default:"5" minimum:"1" maximum:"50" doc:"Number of upcoming programmes to return"`
}

// NowNextOutput is the output for the now/next endpoint.
type NowNextOutput struct {
	Body struct {
		Now      *models.GuideProgram   `json:"now"`
		Upcoming []*models.GuideProgram `json:"upcoming"`
	}
}

// GetNowNext returns the current and upcoming programmes for a channel.
func (h *GuideHandler) GetNowNext(ctx context.Context, input *NowNextInput) (*NowNextOutput, error) {
	now, err := h.epg.Current(ctx, input.EpgID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to look up current programme", err)
	}

	upcoming, err := h.epg.Upcoming(ctx, input.EpgID, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to look up upcoming programmes", err)
	}

	resp := &NowNextOutput{}
	resp.Body.Now = now
	resp.Body.Upcoming = upcoming
	return resp, nil
}
