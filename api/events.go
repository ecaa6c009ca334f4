package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/xraph/flowbridge"
	"github.com/xraph/flowbridge/event"
	"github.com/xraph/flowbridge/signature"
)

const maxEventBody = 1 << 20

func (h *Handler) postSaved(w http.ResponseWriter, r *http.Request) {
	env, ok := h.readEnvelope(w, r, event.KindSaved)
	if !ok {
		return
	}
	writeResult(w, h.bridge.HandleSaved(r.Context(), env.Saved()))
}

func (h *Handler) postStatus(w http.ResponseWriter, r *http.Request) {
	env, ok := h.readEnvelope(w, r, event.KindStatus)
	if !ok {
		return
	}
	writeResult(w, h.bridge.HandleStatusTransition(r.Context(), env.Transition()))
}

// readEnvelope reads, authenticates and decodes an event body. The kind is
// implied by the route when the body omits it.
func (h *Handler) readEnvelope(w http.ResponseWriter, r *http.Request, kind string) (*event.Envelope, bool) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}

	if h.inboundSecret != "" {
		if err := signature.VerifyRequest(r, body, h.inboundSecret, h.tolerance); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return nil, false
		}
	}

	var env event.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if env.Kind == "" {
		env.Kind = kind
	}
	if env.Kind != kind {
		writeError(w, http.StatusBadRequest, "event kind does not match route")
		return nil, false
	}
	if err := env.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &env, true
}

// writeResult maps a Result to a status code. The event source only needs
// to know whether the request was understood, so processed events answer
// 200 and the body carries the outcome.
func writeResult(w http.ResponseWriter, res *flowbridge.Result) {
	status := http.StatusOK
	switch res.Kind {
	case flowbridge.KindNotFound:
		status = http.StatusNotFound
	case flowbridge.KindIntegrationUnavailable:
		status = http.StatusServiceUnavailable
	case flowbridge.KindStore:
		if !res.Success {
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, res)
}
