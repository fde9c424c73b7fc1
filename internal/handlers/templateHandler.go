package handlers

import (
	"fmt"
	"net/http"

	"github.com/akolanti/layoutlens/internal/adapter"
	"github.com/akolanti/layoutlens/internal/adapter/utils"
	"github.com/akolanti/layoutlens/internal/api"
	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
)

// fieldsFor prefers the session's fields, falling back to the ones sent in the body.
func fieldsFor(sessionId string, fields []fieldModel.ExtractedField) ([]fieldModel.ExtractedField, error) {
	if sessionId == "" {
		return fields, nil
	}
	session, ok := reviewInstance.sessions.Get(sessionId)
	if !ok {
		return nil, errSessionNotFound
	}
	merged := session.Fields()
	out := make([]fieldModel.ExtractedField, 0, len(merged))
	for _, f := range merged {
		out = append(out, f.ExtractedField)
	}
	return out, nil
}

// PostTemplateHandler godoc
// @Summary      Save a template
// @Description  Saves the layout of a reviewed session, an explicit field list, or an imported template record. Saving under an existing name replaces it.
// @Tags         Templates
// @Accept       json
// @Produce      json
// @Param        request  body      api.SaveTemplateRequest  true  "Template source"
// @Success      201      {object}  fieldModel.Template
// @Failure      400      {object}  api.JobResponse  "Invalid template"
// @Failure      404      {object}  api.JobResponse  "Session not found"
// @Router       /templates [post]
func PostTemplateHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	var req api.SaveTemplateRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "", "Bad Request")
		return
	}

	if req.Template != nil {
		saved, err := reviewInstance.templates.Save(r.Context(), *req.Template)
		if err != nil {
			writeDomainError(w, req.Template.Name, err)
			return
		}
		writeJsonResponse(w, http.StatusCreated, saved)
		return
	}

	fields, err := fieldsFor(req.SessionId, req.Fields)
	if err != nil {
		WriteErrorResponse(w, http.StatusNotFound, req.SessionId, err.Error())
		return
	}
	saved, err := reviewInstance.templates.SaveFromFields(r.Context(), req.Name, fields, req.Metadata)
	if err != nil {
		writeDomainError(w, req.Name, err)
		return
	}
	writeJsonResponse(w, http.StatusCreated, saved)
}

// GetTemplateHandler godoc
// @Summary      Get a template
// @Tags         Templates
// @Produce      json
// @Param        name  path      string  true  "Template name"
// @Success      200   {object}  fieldModel.Template
// @Failure      404   {object}  api.JobResponse  "Template not found"
// @Router       /templates/{name} [get]
func GetTemplateHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	name := utils.GetChiURLParam(r, "name")
	t, err := reviewInstance.templates.Get(r.Context(), name)
	if err != nil {
		writeDomainError(w, name, err)
		return
	}
	if t == nil {
		WriteErrorResponse(w, http.StatusNotFound, name, fieldModel.ErrTemplateNotFound.Error())
		return
	}
	writeJsonResponse(w, http.StatusOK, t)
}

// DeleteTemplateHandler godoc
// @Summary      Delete a template
// @Tags         Templates
// @Param        name  path  string  true  "Template name"
// @Success      204
// @Failure      404   {object}  api.JobResponse  "Template not found"
// @Router       /templates/{name} [delete]
func DeleteTemplateHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	name := utils.GetChiURLParam(r, "name")
	if err := reviewInstance.templates.Delete(r.Context(), name); err != nil {
		writeDomainError(w, name, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MatchTemplatesHandler godoc
// @Summary      Rank templates
// @Description  Scores every stored template against the observed keys; the vendor bonus applies when vendor names overlap.
// @Tags         Templates
// @Accept       json
// @Produce      json
// @Param        request  body      api.MatchRequest  true  "Observed fields or session"
// @Success      200      {object}  api.MatchResponse
// @Failure      404      {object}  api.JobResponse  "Session not found"
// @Router       /templates/match [post]
func MatchTemplatesHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	var req api.MatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "", "Bad Request")
		return
	}
	fields, err := fieldsFor(req.SessionId, req.Fields)
	if err != nil {
		WriteErrorResponse(w, http.StatusNotFound, req.SessionId, err.Error())
		return
	}
	matches, err := reviewInstance.templates.Match(r.Context(), fields, req.TopK)
	if err != nil {
		writeDomainError(w, req.SessionId, err)
		return
	}
	if matches == nil {
		matches = []fieldModel.TemplateMatch{}
	}
	writeJsonResponse(w, http.StatusOK, api.MatchResponse{Matches: matches})
}

// AlignHandler godoc
// @Summary      Align a template onto a page
// @Description  Moves each template field to the nearest detected text box in its vertical window and reads its value. Blank or low confidence values are skipped. With apply the fields are added to the session.
// @Tags         Templates
// @Accept       json
// @Produce      json
// @Param        request  body      api.AlignRequest  true  "Template and target session"
// @Success      200      {object}  api.AlignResponse
// @Failure      404      {object}  api.JobResponse  "Template or session not found"
// @Failure      502      {object}  api.JobResponse  "Text detection failed"
// @Router       /align [post]
func AlignHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	log := logRV.FromContext(r.Context())
	var req api.AlignRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "", "Bad Request")
		return
	}
	t, err := reviewInstance.templates.Get(r.Context(), req.TemplateName)
	if err != nil {
		writeDomainError(w, req.TemplateName, err)
		return
	}
	if t == nil {
		writeDomainError(w, req.TemplateName, fmt.Errorf("%w: %s", fieldModel.ErrTemplateNotFound, req.TemplateName))
		return
	}
	session, ok := reviewInstance.sessions.Get(req.SessionId)
	if !ok {
		WriteErrorResponse(w, http.StatusNotFound, req.SessionId, errSessionNotFound.Error())
		return
	}
	doc, page := session.Document()

	candidates := req.Candidates
	if len(candidates) == 0 {
		candidates, err = reviewInstance.aligner.DetectCandidates(r.Context(), doc, page, session.Boxes())
		if err != nil {
			log.Warn("text detection failed", "error", err)
			writeDomainError(w, req.SessionId, err)
			return
		}
	}

	res := reviewInstance.aligner.Align(r.Context(), doc, page, t.Fields, candidates)
	if req.Apply {
		if _, err := session.AddCustomFields(res.Fields); err != nil {
			writeDomainError(w, session.Id, err)
			return
		}
	}
	log.Info("aligned template", "template", t.Name, "applied", res.Summary.AppliedCount, "skipped", res.Summary.SkippedCount)
	writeJsonResponse(w, http.StatusOK, adapter.ToAlignResponse(t.Name, res))
}
