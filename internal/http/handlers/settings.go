package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/tunerr/internal/models"
	"github.com/jmylchreest/tunerr/internal/repository"
	"github.com/jmylchreest/tunerr/internal/settings"
)

// SettingsService is the write-through settings surface the handler drives.
type SettingsService interface {
	Snapshot() settings.Snapshot
	Set(ctx context.Context, key, value string) error
	Clear(ctx context.Context, key string) error
}

// SettingsHandler handles the runtime settings endpoints.
type SettingsHandler struct {
	service SettingsService
	repo    repository.SettingRepository
}

// NewSettingsHandler creates a settings handler.
func NewSettingsHandler(service SettingsService, repo repository.SettingRepository) *SettingsHandler {
	return &SettingsHandler{service: service, repo: repo}
}

// Register registers the settings routes with the API.
func (h *SettingsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSettings",
		Method:      "GET",
		Path:        "/api/v1/settings",
		Summary:     "List runtime settings",
		Description: "Returns every recognised runtime setting key, its stored override if any, and the effective value",
		Tags:        []string{"Settings"},
	}, h.ListSettings)

	huma.Register(api, huma.Operation{
		OperationID: "setSetting",
		Method:      "PUT",
		Path:        "/api/v1/settings/{key}",
		Summary:     "Set runtime setting",
		Description: "Stores a runtime override. Stored settings take precedence over environment variables and the config file",
		Tags:        []string{"Settings"},
	}, h.SetSetting)

	huma.Register(api, huma.Operation{
		OperationID: "clearSetting",
		Method:      "DELETE",
		Path:        "/api/v1/settings/{key}",
		Summary:     "Clear runtime setting",
		Description: "Removes a stored override so the environment or config file value applies again",
		Tags:        []string{"Settings"},
	}, h.ClearSetting)
}

// SettingResponse is a single runtime setting with override details.
type SettingResponse struct {
	Key        string     `json:"key"`
	Effective  string     `json:"effective"`
	Overridden bool       `json:"overridden"`
	Override   string     `json:"override,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// ListSettingsInput is the input for listing settings.
type ListSettingsInput struct{}

// ListSettingsOutput is the output for listing settings.
type ListSettingsOutput struct {
	Body struct {
		Settings []SettingResponse `json:"settings"`
	}
}

// ListSettings returns all recognised settings and their effective values.
func (h *SettingsHandler) ListSettings(ctx context.Context, input *ListSettingsInput) (*ListSettingsOutput, error) {
	stored, err := h.repo.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list settings", err)
	}

	overrides := make(map[string]struct {
		value     string
		updatedAt time.Time
	}, len(stored))
	for _, s := range stored {
		overrides[s.Key] = struct {
			value     string
			updatedAt time.Time
		}{s.Value, s.UpdatedAt}
	}

	snap := h.service.Snapshot()
	effective := map[string]string{
		models.SettingAdvertisedHost: snap.AdvertisedHost,
		models.SettingFriendlyName:   snap.FriendlyName,
		models.SettingTunerCount:     strconv.Itoa(snap.TunerCount),
	}

	resp := &ListSettingsOutput{}
	for _, key := range settings.Keys() {
		entry := SettingResponse{Key: key, Effective: effective[key]}
		if ov, ok := overrides[key]; ok {
			entry.Overridden = true
			entry.Override = ov.value
			t := ov.updatedAt
			entry.UpdatedAt = &t
		}
		resp.Body.Settings = append(resp.Body.Settings, entry)
	}
	return resp, nil
}

// SetSettingInput is the input for storing a setting override.
type SetSettingInput struct {
	Key  string `path:"key" doc:"Setting key, e.g. discovery.tuner_count"`
	Body struct {
		Value string `json:"value" doc:"New value for the setting"`
	}
}

// SetSettingOutput is the output for storing a setting override.
type SetSettingOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// SetSetting stores a runtime override and republishes the snapshot.
func (h *SettingsHandler) SetSetting(ctx context.Context, input *SetSettingInput) (*SetSettingOutput, error) {
	if err := h.service.Set(ctx, input.Key, input.Body.Value); err != nil {
		switch {
		case errors.Is(err, settings.ErrUnknownKey):
			return nil, huma.Error404NotFound(err.Error())
		case errors.Is(err, settings.ErrInvalidValue):
			return nil, huma.Error400BadRequest(err.Error())
		default:
			return nil, huma.Error500InternalServerError("failed to store setting", err)
		}
	}

	resp := &SetSettingOutput{}
	resp.Body.Message = fmt.Sprintf("setting %s updated", input.Key)
	return resp, nil
}

// ClearSettingInput is the input for clearing a setting override.
type ClearSettingInput struct {
	Key string `path:"key" doc:"Setting key to clear"`
}

// ClearSettingOutput is the output for clearing a setting override.
type ClearSettingOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// ClearSetting removes a stored override.
func (h *SettingsHandler) ClearSetting(ctx context.Context, input *ClearSettingInput) (*ClearSettingOutput, error) {
	if err := h.service.Clear(ctx, input.Key); err != nil {
		if errors.Is(err, settings.ErrUnknownKey) {
			return nil, huma.Error404NotFound(err.Error())
		}
		return nil, huma.Error500InternalServerError("failed to clear setting", err)
	}

	resp := &ClearSettingOutput{}
	resp.Body.Message = fmt.Sprintf("setting %s cleared", input.Key)
	return resp, nil
}
