package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/akolanti/layoutlens/internal/adapter"
	"github.com/akolanti/layoutlens/internal/annotation"
	"github.com/akolanti/layoutlens/internal/config"
	"github.com/akolanti/layoutlens/internal/document"
	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
	"github.com/akolanti/layoutlens/internal/domain/jobModel"
	"github.com/akolanti/layoutlens/internal/template"
)

func writeJsonResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log the error but can't send a clean status code now
		logRH.Error("Error encoding response", "err", err)
	}
}

// decodeBody reads a JSON body capped at config.MaxRequestBodyBytes.
func decodeBody(w http.ResponseWriter, r *http.Request, into any) error {
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodyBytes)
	defer func() {
		if err := r.Body.Close(); err != nil {
			logRH.Error("Couldn't close the request body", "err", err)
		}
	}()
	return json.NewDecoder(r.Body).Decode(into)
}

func validateId(id string, traceId string) (result jobModel.Job, isFound bool) {
	if id == "" {
		logRH.Warn("Empty Job ID")
		return jobModel.Job{}, false
	}
	return GetJobStatus(id, traceId)
}

func traceIdFrom(ctx context.Context) string {
	trace, _ := ctx.Value(config.TRACE_ID_KEY).(string)
	return trace
}

func validateContext(ctx context.Context) bool {
	if ctx.Err() != nil {
		logRH.FromContext(ctx).Warn("context error", "err", ctx.Err())
		return false
	}

	select {
	case <-ctx.Done():
		logRH.FromContext(ctx).Warn("context cancelled")
		return false
	default:
		return true

	}
}

func WriteErrorResponse(w http.ResponseWriter, httpCode int, id string, error string) {
	writeJsonResponse(w, httpCode, adapter.BadRequest(id, error, httpCode))
}

// writeDomainError maps the error taxonomy onto HTTP codes.
func writeDomainError(w http.ResponseWriter, id string, err error) {
	WriteErrorResponse(w, statusFor(err), id, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, fieldModel.ErrInvalidGeometry),
		errors.Is(err, template.ErrInvalidTemplate),
		errors.Is(err, document.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, fieldModel.ErrTemplateNotFound),
		errors.Is(err, annotation.ErrFieldNotFound):
		return http.StatusNotFound
	case errors.Is(err, annotation.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, fieldModel.ErrEngineTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, fieldModel.ErrEngineUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, fieldModel.ErrEngineEmpty):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
