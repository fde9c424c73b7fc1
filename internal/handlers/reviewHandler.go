package handlers

import (
	"errors"
	"net/http"
	"sync"

	"github.com/akolanti/layoutlens/internal/adapter"
	"github.com/akolanti/layoutlens/internal/adapter/utils"
	"github.com/akolanti/layoutlens/internal/alignment"
	"github.com/akolanti/layoutlens/internal/annotation"
	"github.com/akolanti/layoutlens/internal/api"
	"github.com/akolanti/layoutlens/internal/document"
	"github.com/akolanti/layoutlens/internal/domain/commonModels"
	"github.com/akolanti/layoutlens/internal/gateway"
	"github.com/akolanti/layoutlens/internal/geometry"
	"github.com/akolanti/layoutlens/internal/template"
	"github.com/akolanti/layoutlens/pkg/logger_i"
)

var (
	reviewInstance *ReviewHandler
	reviewOnce     sync.Once
	logRV          *logger_i.Logger

	errSessionNotFound = errors.New("session not found")
	errNoPage          = errors.New("either session_id or document is required")
)

// ReviewHandler serves the reviewer surface: sessions, re-extraction, templates and alignment.
type ReviewHandler struct {
	sessions  *annotation.Registry
	templates *template.Service
	aligner   *alignment.Aligner
	engine    gateway.Engine
	mapper    geometry.Mapper
}

type ReviewConfig struct {
	Sessions  *annotation.Registry
	Templates *template.Service
	Aligner   *alignment.Aligner
	Engine    gateway.Engine
	Mapper    geometry.Mapper
}

func InitReviewHandler(cfg ReviewConfig) {
	reviewOnce.Do(func() {
		reviewInstance = &ReviewHandler{
			sessions:  cfg.Sessions,
			templates: cfg.Templates,
			aligner:   cfg.Aligner,
			engine:    cfg.Engine,
			mapper:    cfg.Mapper,
		}
		logRV = logger_i.NewLogger("ReviewHandler")
		logRV.Info("Starting review handler")
	})
}

func sessionFromURL(w http.ResponseWriter, r *http.Request) (*annotation.Session, bool) {
	id := utils.GetChiURLParam(r, "id")
	session, ok := reviewInstance.sessions.Get(id)
	if !ok {
		WriteErrorResponse(w, http.StatusNotFound, id, errSessionNotFound.Error())
	}
	return session, ok
}

// GetSessionFieldsHandler godoc
// @Summary      Merged review fields
// @Description  Engine fields merged with reviewer fields; custom fields win on the same label. Fields still being read are listed in in_flight.
// @Tags         Review
// @Produce      json
// @Param        id   path      string  true  "Session ID"
// @Success      200  {object}  api.FieldsResponse
// @Failure      404  {object}  api.JobResponse  "Session not found"
// @Router       /sessions/{id}/fields [get]
func GetSessionFieldsHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	session, ok := sessionFromURL(w, r)
	if !ok {
		return
	}
	writeJsonResponse(w, http.StatusOK, adapter.ToFieldsResponse(session))
}

// PostSessionFieldHandler godoc
// @Summary      Draw a custom field
// @Description  Normalizes the drawn render rectangle and reads its value in the background. The field comes back immediately, marked in flight.
// @Tags         Review
// @Accept       json
// @Produce      json
// @Param        id       path      string                true  "Session ID"
// @Param        request  body      api.DrawFieldRequest  true  "Drawn rectangle in render pixels"
// @Success      202      {object}  fieldModel.ExtractedField
// @Failure      400      {object}  api.JobResponse  "Rectangle too small or sizes missing"
// @Failure      404      {object}  api.JobResponse  "Session not found"
// @Router       /sessions/{id}/fields [post]
func PostSessionFieldHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	session, ok := sessionFromURL(w, r)
	if !ok {
		return
	}
	var req api.DrawFieldRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, session.Id, "Bad Request")
		return
	}
	zoom := req.Zoom
	if zoom == 0 {
		zoom = 1
	}
	box, approximate, err := reviewInstance.mapper.NormalizeDrawn(req.Rect, req.RenderSize, req.EngineSize, zoom)
	if err != nil {
		logRV.FromContext(r.Context()).Debug("rejected drawn rect", "error", err)
		writeDomainError(w, session.Id, err)
		return
	}
	field, err := session.StartCustomExtraction(r.Context(), box, req.Label, approximate)
	if err != nil {
		writeDomainError(w, session.Id, err)
		return
	}
	writeJsonResponse(w, http.StatusAccepted, field)
}

// PatchSessionFieldHandler godoc
// @Summary      Edit a field value
// @Tags         Review
// @Accept       json
// @Produce      json
// @Param        id       path      string                true  "Session ID"
// @Param        fieldId  path      string                true  "Field ID"
// @Param        request  body      api.EditFieldRequest  true  "New value"
// @Success      200      {object}  fieldModel.ExtractedField
// @Failure      404      {object}  api.JobResponse  "Session or field not found"
// @Router       /sessions/{id}/fields/{fieldId} [patch]
func PatchSessionFieldHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	session, ok := sessionFromURL(w, r)
	if !ok {
		return
	}
	var req api.EditFieldRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, session.Id, "Bad Request")
		return
	}
	field, err := session.Edit(utils.GetChiURLParam(r, "fieldId"), req.Value)
	if err != nil {
		writeDomainError(w, session.Id, err)
		return
	}
	writeJsonResponse(w, http.StatusOK, field)
}

// DeleteSessionFieldHandler godoc
// @Summary      Remove a field
// @Tags         Review
// @Param        id       path      string  true  "Session ID"
// @Param        fieldId  path      string  true  "Field ID"
// @Success      204
// @Failure      404      {object}  api.JobResponse  "Session or field not found"
// @Router       /sessions/{id}/fields/{fieldId} [delete]
func DeleteSessionFieldHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	session, ok := sessionFromURL(w, r)
	if !ok {
		return
	}
	if err := session.Remove(utils.GetChiURLParam(r, "fieldId")); err != nil {
		writeDomainError(w, session.Id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteSessionHandler godoc
// @Summary      Close a review session
// @Description  Results of extractions still running for the session are discarded.
// @Tags         Review
// @Param        id   path      string  true  "Session ID"
// @Success      204
// @Failure      404  {object}  api.JobResponse  "Session not found"
// @Router       /sessions/{id} [delete]
func DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	id := utils.GetChiURLParam(r, "id")
	if !reviewInstance.sessions.Close(id) {
		WriteErrorResponse(w, http.StatusNotFound, id, errSessionNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReextractHandler godoc
// @Summary      Re-extract one box
// @Description  Reads the text inside a box as is, empty values included. With session_id and field_id the answer is written into that field.
// @Tags         Review
// @Accept       json
// @Produce      json
// @Param        request  body      api.ReextractRequest  true  "Box and page source"
// @Success      200      {object}  api.ReextractResponse
// @Failure      400      {object}  api.JobResponse  "Invalid box or page source"
// @Failure      502      {object}  api.JobResponse  "Engine unavailable"
// @Failure      504      {object}  api.JobResponse  "Engine timeout"
// @Router       /reextract [post]
func ReextractHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	log := logRV.FromContext(r.Context())
	var req api.ReextractRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "", "Bad Request")
		return
	}
	if err := geometry.Validate(req.Box); err != nil {
		writeDomainError(w, req.SessionId, err)
		return
	}

	var session *annotation.Session
	var doc commonModels.Document
	var page int
	switch {
	case req.SessionId != "":
		s, ok := reviewInstance.sessions.Get(req.SessionId)
		if !ok {
			WriteErrorResponse(w, http.StatusNotFound, req.SessionId, errSessionNotFound.Error())
			return
		}
		session = s
		doc, page = s.Document()
	case req.Document != nil:
		decoded, err := document.Decode(req.Document.DocumentId, req.Document.Image, req.Document.Format)
		if err != nil {
			WriteErrorResponse(w, http.StatusBadRequest, req.Document.DocumentId, err.Error())
			return
		}
		doc, page = decoded, req.Page
		if page == 0 {
			page = 1
		}
		if err := document.ValidatePage(doc, page); err != nil {
			WriteErrorResponse(w, http.StatusBadRequest, doc.Id, err.Error())
			return
		}
	default:
		WriteErrorResponse(w, http.StatusBadRequest, "", errNoPage.Error())
		return
	}

	answer, err := reviewInstance.engine.Reextract(r.Context(), doc, page, req.Box)
	if err != nil {
		log.Warn("re-extraction failed", "error", err)
		writeDomainError(w, req.SessionId, err)
		return
	}
	res := api.ReextractResponse{Answer: answer}
	if session != nil && req.FieldId != "" {
		field, err := session.ApplyReextraction(req.FieldId, answer)
		if err != nil {
			writeDomainError(w, session.Id, err)
			return
		}
		res.Field = &field
	}
	writeJsonResponse(w, http.StatusOK, res)
}
