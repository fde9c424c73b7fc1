package middleware

import (
	"net/http"
	"strconv"

	"github.com/akolanti/layoutlens/internal/handlers"
	"github.com/akolanti/layoutlens/internal/metrics"
	"github.com/akolanti/layoutlens/pkg/logger_i"
	"github.com/go-chi/chi/v5"
)

type requestResponseStruct struct {
	writer     http.ResponseWriter
	req        *http.Request
	badRequest failureStruct
	logger     *logger_i.Logger
}

type failureStruct struct {
	isBadRequest bool
	httpCode     int
	errorMessage string
	id           string
}

var GetHandler = http.HandlerFunc(handlers.GetHandler)

var ExtractHandler = Wrap(handlers.ExtractHandler)
var GetStatusHandler = Wrap(handlers.GetStatusHandler)
var RetryHandler = Wrap(handlers.RetryHandler)
var CancelHandler = Wrap(handlers.CancelHandler)

var GetSessionFieldsHandler = Wrap(handlers.GetSessionFieldsHandler)
var PostSessionFieldHandler = Wrap(handlers.PostSessionFieldHandler)
var PatchSessionFieldHandler = Wrap(handlers.PatchSessionFieldHandler)
var DeleteSessionFieldHandler = Wrap(handlers.DeleteSessionFieldHandler)
var DeleteSessionHandler = Wrap(handlers.DeleteSessionHandler)
var ReextractHandler = Wrap(handlers.ReextractHandler)

var PostTemplateHandler = Wrap(handlers.PostTemplateHandler)
var GetTemplateHandler = Wrap(handlers.GetTemplateHandler)
var DeleteTemplateHandler = Wrap(handlers.DeleteTemplateHandler)
var MatchTemplatesHandler = Wrap(handlers.MatchTemplatesHandler)
var AlignHandler = Wrap(handlers.AlignHandler)

func Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &metrics.HttpStatusRecorder{ResponseWriter: w, Status: http.StatusOK} //metrics
		re := processRequest(requestResponseStruct{req: r, writer: rec})

		if re.badRequest.isBadRequest {
			handleBadRequest(re)
		} else {
			next(rec, re.req)
		}

		metrics.HttpRequestsTotal.WithLabelValues(routePattern(r), strconv.Itoa(rec.Status)).Inc() //metrics
	}
}

// routePattern keeps ids out of the metric labels.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func processRequest(re requestResponseStruct) requestResponseStruct {
	re.logger = logger_i.NewLogger("middleware")
	re.logger.Debug("New request received")
	re = injectTrace(re)
	if re.badRequest.isBadRequest {
		return re
	}
	re = authenticate(re)
	if re.badRequest.isBadRequest {
		return re //stop if auth fails
	}
	return rateLimiter(re)
}
