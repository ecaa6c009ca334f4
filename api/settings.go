package api

import (
	"errors"
	"net/http"

	"github.com/xraph/flowbridge/settings"
)

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	all, err := h.bridge.Settings().All(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// The secret is write-only.
	if s, _ := all[settings.WebhookSecret].(string); s != "" {
		all[settings.WebhookSecret] = "********"
	}
	writeJSON(w, http.StatusOK, all)
}

// putSettings applies each option in the body. Nothing is written when any
// option is unknown or invalid.
func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	for name, v := range req {
		if err := settings.Validate(name, v); err != nil {
			writeSettingsError(w, err)
			return
		}
	}
	for name, v := range req {
		if err := h.bridge.Settings().Set(r.Context(), name, v); err != nil {
			writeSettingsError(w, err)
			return
		}
	}

	h.getSettings(w, r)
}

func writeSettingsError(w http.ResponseWriter, err error) {
	if errors.Is(err, settings.ErrUnknownOption) || errors.Is(err, settings.ErrInvalidValue) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
