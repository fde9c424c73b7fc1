package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), fieldModel.ErrEngineTimeout},
		{"net timeout", timeoutErr{}, fieldModel.ErrEngineTimeout},
		{"grpc deadline", status.Error(codes.DeadlineExceeded, "slow"), fieldModel.ErrEngineTimeout},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), fieldModel.ErrEngineUnavailable},
		{"grpc not found", status.Error(codes.NotFound, "nothing"), fieldModel.ErrEngineEmpty},
		{"plain", errors.New("connection refused"), fieldModel.ErrEngineUnavailable},
		{"already typed", fieldModel.ErrEngineEmpty, fieldModel.ErrEngineEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.in); !errors.Is(got, tt.want) {
				t.Errorf("Classify(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestDropExcluded(t *testing.T) {
	candidates := []fieldModel.AlignmentCandidate{
		{Id: "a", Box: fieldModel.BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 50}},
		{Id: "b", Box: fieldModel.BoundingBox{X1: 200, Y1: 200, X2: 300, Y2: 250}},
	}
	exclude := []fieldModel.BoundingBox{{X1: 50, Y1: 10, X2: 150, Y2: 40}}

	got := DropExcluded(candidates, exclude)
	if len(got) != 1 || got[0].Id != "b" {
		t.Errorf("got %+v", got)
	}
	if len(DropExcluded(candidates, nil)) != 2 {
		t.Error("nil exclude should keep everything")
	}
}
