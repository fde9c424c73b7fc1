package adapter

import (
	"fmt"
	"time"

	"github.com/akolanti/layoutlens/internal/alignment"
	"github.com/akolanti/layoutlens/internal/annotation"
	"github.com/akolanti/layoutlens/internal/api"
	"github.com/akolanti/layoutlens/internal/domain/jobModel"
)

func ToInitJobResponse(id string, sessionId string) api.InitJobResponse {
	return api.InitJobResponse{
		Id:        id,
		SessionId: sessionId,
		StatusURL: fmt.Sprintf("status/%s", id), //pass "status/job.Id"
	}
}

func ToAPIResponse(job jobModel.Job) api.JobResponse {

	var errorPtr *api.JobOutgoingError
	if job.Error.Message != "" || job.Error.Code != 0 {
		errorPtr = &api.JobOutgoingError{
			Code:    job.Error.Code,
			Message: job.Error.Message,
			Retry:   job.Error.Retry,
		}
	}

	result := api.Result{
		Status:   string(job.Status),
		Step:     string(job.CurrentStep),
		Progress: ToRoundProgress(job),
		Fields:   job.Fields,
		Failed:   job.Failed,
	}

	return api.JobResponse{
		Id:        job.Id,
		SessionId: job.SessionId,
		StartTime: job.CreatedTime,
		EndTime:   job.EndTime,
		Error:     errorPtr,
		Result:    result,
	}
}

// ToRoundProgress reports the latest completed round, nil before the first one lands.
func ToRoundProgress(job jobModel.Job) *api.RoundProgress {
	if len(job.Rounds) == 0 {
		return nil
	}
	return &api.RoundProgress{
		RoundInfo: job.Rounds[len(job.Rounds)-1],
		Completed: len(job.Rounds),
	}
}

func ToFieldsResponse(session *annotation.Session) api.FieldsResponse {
	return api.FieldsResponse{
		SessionId: session.Id,
		Fields:    session.Fields(),
		InFlight:  session.InFlight(),
	}
}

func ToAlignResponse(templateName string, res alignment.Result) api.AlignResponse {
	return api.AlignResponse{
		Template:   templateName,
		Fields:     res.Fields,
		Placements: res.Placements,
		Summary:    res.Summary,
	}
}

func BadRequest(id string, error string, code int) api.JobResponse {
	return api.JobResponse{
		Id:        id,
		StartTime: time.Time{},
		EndTime:   time.Time{},
		Result: api.Result{
			Status: string(api.JobStatusError),
		},
		Error: &api.JobOutgoingError{
			Code:    code,
			Message: error,
			Retry:   false,
		},
	}
}
