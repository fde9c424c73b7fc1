package handlers

import (
	"net/http"
	"strings"

	"github.com/akolanti/layoutlens/internal/adapter"
	"github.com/akolanti/layoutlens/internal/adapter/utils"
	"github.com/akolanti/layoutlens/internal/api"
	"github.com/akolanti/layoutlens/internal/document"
	"github.com/akolanti/layoutlens/pkg/logger_i"
)

var logRH *logger_i.Logger

// GetHandler godoc
// @Summary      Health check
// @Tags         Health
// @Success      200
// @Router       /health [get]
func GetHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// ExtractHandler godoc
// @Summary      Start an extraction run
// @Description  Decodes the page, opens a review session and queues a round based extraction run. Poll the status URL for round progress.
// @Tags         Extraction
// @Accept       json
// @Produce      json
// @Param        request  body      api.ExtractRequest   true  "Page image and field questions"
// @Success      202      {object}  api.InitJobResponse  "Run queued"
// @Failure      400      {object}  api.JobResponse      "Invalid document, page or questions"
// @Router       /extract [post]
func ExtractHandler(w http.ResponseWriter, request *http.Request) {
	if !validateContext(request.Context()) {
		logRH.Warn("Invalid Context by request", "remote", request.RemoteAddr)
		return
	}
	log := logRH.FromContext(request.Context())

	var requestData api.ExtractRequest
	if err := decodeBody(w, request, &requestData); err != nil {
		log.Warn("Bad extract request", "error", err)
		WriteErrorResponse(w, http.StatusBadRequest, "", "Bad Request")
		return
	}
	for _, q := range requestData.Questions {
		if strings.TrimSpace(q.Key) == "" {
			WriteErrorResponse(w, http.StatusBadRequest, "", errEmptyQuestions.Error())
			return
		}
	}
	if len(requestData.Questions) == 0 {
		WriteErrorResponse(w, http.StatusBadRequest, "", errEmptyQuestions.Error())
		return
	}

	docId := requestData.Document.DocumentId
	if docId == "" {
		docId = utils.GetNewUUID()
	}
	doc, err := document.Decode(docId, requestData.Document.Image, requestData.Document.Format)
	if err != nil {
		log.Warn("Could not decode document", "error", err)
		WriteErrorResponse(w, http.StatusBadRequest, docId, err.Error())
		return
	}
	page := requestData.Page
	if page == 0 {
		page = 1
	}
	if err := document.ValidatePage(doc, page); err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, docId, err.Error())
		return
	}

	sessionId := requestData.SessionId
	if sessionId == "" {
		sessionId = utils.GetNewUUID()
	}
	newJob := newJobData{
		id:        utils.GetNewUUID(),
		sessionId: sessionId,
		traceId:   traceIdFrom(request.Context()),
		document:  doc,
		page:      page,
		questions: requestData.Questions,
	}
	if err := CreateNewJob(newJob); err != nil {
		log.Error("Could not queue job", "error", err)
		WriteErrorResponse(w, http.StatusInternalServerError, newJob.id, "Could not queue job")
		return
	}
	writeJsonResponse(w, http.StatusAccepted, adapter.ToInitJobResponse(newJob.id, sessionId))
}

// GetStatusHandler godoc
// @Summary      Get run status
// @Description  Status, last round info and every field extracted so far.
// @Tags         Extraction
// @Produce      json
// @Param        id   path      string  true  "Job ID"
// @Success      200  {object}  api.JobResponse   "Current state of the run"
// @Failure      404  {object}  api.JobResponse   "Job not found"
// @Router       /status/{id} [get]
func GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	idString := utils.GetChiURLParam(r, "id")
	result, isFound := validateId(idString, traceIdFrom(r.Context()))

	logRH.FromContext(r.Context()).Debug("Get Status Request", "URL path", r.URL.Path)
	if !isFound {
		WriteErrorResponse(w, http.StatusNotFound, idString, "Job not found")
		return
	}

	writeJsonResponse(w, http.StatusOK, adapter.ToAPIResponse(result))
}

// RetryHandler godoc
// @Summary      Resume a failed run
// @Description  Queues a run that stopped on a failed round, or was cancelled, from the round it stopped at.
// @Tags         Extraction
// @Produce      json
// @Param        id   path      string  true  "Job ID"
// @Success      202  {object}  api.InitJobResponse
// @Failure      404  {object}  api.JobResponse  "Job not found"
// @Failure      409  {object}  api.JobResponse  "Run is not retryable"
// @Failure      410  {object}  api.JobResponse  "Page image expired"
// @Router       /extract/{id}/retry [post]
func RetryHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	id := utils.GetChiURLParam(r, "id")
	retried, err := RetryJob(id, traceIdFrom(r.Context()))
	if err != nil {
		WriteErrorResponse(w, jobErrorStatus(err), id, err.Error())
		return
	}
	writeJsonResponse(w, http.StatusAccepted, adapter.ToInitJobResponse(retried.Id, retried.SessionId))
}

// CancelHandler godoc
// @Summary      Cancel a run
// @Description  The run stops before its next round; a round already in flight completes.
// @Tags         Extraction
// @Produce      json
// @Param        id   path      string  true  "Job ID"
// @Success      202  {object}  api.JobResponse
// @Failure      404  {object}  api.JobResponse  "Job not found"
// @Failure      409  {object}  api.JobResponse  "Run already finished"
// @Router       /extract/{id}/cancel [post]
func CancelHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	id := utils.GetChiURLParam(r, "id")
	current, err := CancelJob(id, traceIdFrom(r.Context()))
	if err != nil {
		WriteErrorResponse(w, jobErrorStatus(err), id, err.Error())
		return
	}
	writeJsonResponse(w, http.StatusAccepted, adapter.ToAPIResponse(current))
}
