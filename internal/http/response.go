package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"fintrack/internal/core"
	"fintrack/internal/log"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    core.Kind `json:"kind"`
	Field   string    `json:"field,omitempty"`
	Message string    `json:"message"`
}

// statusFor maps an error kind onto the HTTP status the API answers with.
func statusFor(kind core.Kind) int {
	switch kind {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindAuth:
		return http.StatusUnauthorized
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindConflict:
		return http.StatusConflict
	case core.KindStorageTimeout:
		return http.StatusServiceUnavailable
	case core.KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as the JSON error envelope. Messages of
// unclassified and storage errors are not exposed.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		// Client went away; nothing useful to send.
		return
	}

	kind := core.KindOf(err)
	status := statusFor(kind)
	detail := errorDetail{Kind: kind, Message: http.StatusText(status)}

	var typed *core.Error
	if errors.As(err, &typed) {
		detail.Field = typed.Entity
		switch kind {
		case core.KindStorage, core.KindInternal:
		default:
			detail.Message = typed.Message
		}
	}

	if status >= http.StatusInternalServerError {
		log.LogError(r.Context(), s.logger, "Request failed", err, string(kind), r.Method+" "+r.URL.Path,
			log.NewFields().WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, ""))
	}
	writeJSON(w, status, errorBody{Error: detail})
}
