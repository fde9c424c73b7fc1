package fieldModel

import (
	"errors"
	"fmt"
)

var (
	ErrEngineUnavailable = errors.New("extraction engine unavailable")
	ErrEngineTimeout     = errors.New("extraction engine timeout")
	ErrEngineEmpty       = errors.New("extraction engine returned no answer")
	ErrInvalidGeometry   = errors.New("invalid geometry")
	ErrTemplateNotFound  = errors.New("template not found")
	ErrRoundFailure      = errors.New("every question in round failed")
)

type GeometryError struct {
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidGeometry.Error(), e.Reason)
}

func (e *GeometryError) Unwrap() error {
	return ErrInvalidGeometry
}

func InvalidGeometry(format string, args ...any) error {
	return &GeometryError{Reason: fmt.Sprintf(format, args...)}
}

// RoundFailureError carries the fields extracted before the failing round so the caller can resume.
type RoundFailureError struct {
	Round   int
	Partial []ExtractedField
	Cause   error
}

func (e *RoundFailureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("round %d: %s: %v", e.Round, ErrRoundFailure.Error(), e.Cause)
	}
	return fmt.Sprintf("round %d: %s", e.Round, ErrRoundFailure.Error())
}

func (e *RoundFailureError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrRoundFailure}
	}
	return []error{ErrRoundFailure, e.Cause}
}

// IsTransportFailure reports whether err is one of the engine failures a round tolerates per question.
func IsTransportFailure(err error) bool {
	return errors.Is(err, ErrEngineUnavailable) || errors.Is(err, ErrEngineTimeout)
}

func IsEngineFailure(err error) bool {
	return IsTransportFailure(err) || errors.Is(err, ErrEngineEmpty)
}
