package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sells-group/contractml/internal/model"
)

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: failed to encode response", zap.Error(err))
	}
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case model.IsNotFound(err):
		return http.StatusNotFound
	case model.IsValidation(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	if me, ok := model.AsModelError(err); ok {
		if me.Op == model.OpLoad {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	kind := model.ErrorKind(err)

	fields := []zap.Field{
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("kind", kind),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed", fields...)
	} else {
		zap.L().Debug("api: request rejected", fields...)
	}
	writeJSON(w, status, errorResponse{Error: kind, Detail: err.Error()})
}

func writeFailure(w http.ResponseWriter, r *http.Request, status int, kind, detail string) {
	zap.L().Debug("api: request rejected",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("detail", detail),
	)
	writeJSON(w, status, errorResponse{Error: kind, Detail: detail})
}

// decode reads a single JSON document into dst, keeping numbers as
// json.Number so integer fields survive intact. It writes the error
// response itself and reports whether decoding succeeded.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := r.Body
	if h.maxBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	dec := json.NewDecoder(body)
	dec.UseNumber()

	err := dec.Decode(dst)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeFailure(w, r, http.StatusRequestEntityTooLarge, "bad_request", "request body too large")
	case errors.Is(err, io.EOF):
		writeFailure(w, r, http.StatusBadRequest, "bad_request", "request body is required")
	default:
		writeFailure(w, r, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
	}
	return false
}
