package api

import (
	"errors"
	"net/http"

	"github.com/xraph/flowbridge"
)

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("sent") != "true" {
		writeError(w, http.StatusBadRequest, "only sent=true listing is supported")
		return
	}

	states, err := h.bridge.SentRecords(r.Context(), queryInt(r, "offset", 0), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (h *Handler) reprocess(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid record ID")
		return
	}
	writeResult(w, h.bridge.Reprocess(r.Context(), id))
}

func (h *Handler) diagnose(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid record ID")
		return
	}

	diag, err := h.bridge.Diagnose(r.Context(), id)
	if err != nil {
		writeRecordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diag)
}

func (h *Handler) getPayload(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid record ID")
		return
	}

	st, err := h.bridge.Snapshot(r.Context(), id)
	if err != nil {
		writeRecordError(w, err)
		return
	}
	if st.Snapshot == nil {
		writeError(w, http.StatusNotFound, "no payload recorded for this booking")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeRecordError(w http.ResponseWriter, err error) {
	if errors.Is(err, flowbridge.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
