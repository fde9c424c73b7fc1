package scheduler

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/akolanti/layoutlens/internal/config"
	"github.com/akolanti/layoutlens/internal/domain/commonModels"
	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
)

type mockEngine struct {
	mu    sync.Mutex
	calls []string
	OnAsk func(ctx context.Context, q fieldModel.FieldQuestion) (fieldModel.EngineAnswer, error)
}

func (m *mockEngine) Ask(ctx context.Context, doc commonModels.Document, page int, q fieldModel.FieldQuestion) (fieldModel.EngineAnswer, error) {
	m.mu.Lock()
	m.calls = append(m.calls, q.Key)
	m.mu.Unlock()
	if m.OnAsk != nil {
		return m.OnAsk(ctx, q)
	}
	return fieldModel.EngineAnswer{Value: "v-" + q.Key, Confidence: 0.9, Box: fieldModel.BoundingBox{X1: 1, Y1: 1, X2: 10, Y2: 10}}, nil
}

func (m *mockEngine) Reextract(ctx context.Context, doc commonModels.Document, page int, box fieldModel.BoundingBox) (fieldModel.EngineAnswer, error) {
	return fieldModel.EngineAnswer{}, nil
}

func (m *mockEngine) DetectText(ctx context.Context, doc commonModels.Document, page int, exclude []fieldModel.BoundingBox) ([]fieldModel.AlignmentCandidate, error) {
	return nil, nil
}

func newTestScheduler(engine *mockEngine) (*Scheduler, *[]time.Duration) {
	s := New(engine, config.SchedulerTuning{RoundSize: 5, RoundDelay: 500 * time.Millisecond})
	waits := &[]time.Duration{}
	s.wait = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
	return s, waits
}

func questions(required []string, optional []string) []fieldModel.FieldQuestion {
	var qs []fieldModel.FieldQuestion
	for _, k := range required {
		qs = append(qs, fieldModel.FieldQuestion{Key: k, IsRequired: true})
	}
	for _, k := range optional {
		qs = append(qs, fieldModel.FieldQuestion{Key: k})
	}
	return qs
}

func keys(qs []fieldModel.FieldQuestion) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.Key
	}
	return out
}

func TestPlanRounds(t *testing.T) {
	tests := []struct {
		name      string
		questions []fieldModel.FieldQuestion
		size      int
		want      [][]string
	}{
		{
			name:      "required fill the priority round",
			questions: questions([]string{"A", "B", "C"}, []string{"D", "E", "F", "G"}),
			size:      5,
			want:      [][]string{{"A", "B", "C", "D", "E"}, {"F", "G"}},
		},
		{
			name: "required interleaved in input",
			questions: []fieldModel.FieldQuestion{
				{Key: "x"}, {Key: "A", IsRequired: true}, {Key: "y"}, {Key: "B", IsRequired: true},
			},
			size: 2,
			want: [][]string{{"A", "B"}, {"x", "y"}},
		},
		{
			name:      "more required than one round",
			questions: questions([]string{"A", "B", "C"}, []string{"D"}),
			size:      2,
			want:      [][]string{{"A", "B"}, {"C", "D"}},
		},
		{
			name:      "empty",
			questions: nil,
			size:      5,
			want:      [][]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches := PlanRounds(tt.questions, tt.size)
			got := make([][]string, len(batches))
			for i, b := range batches {
				got[i] = keys(b.Questions)
				if b.Index != i || b.IsPriority != (i == 0) {
					t.Errorf("batch %d has index %d priority %v", i, b.Index, b.IsPriority)
				}
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlanRounds_Properties(t *testing.T) {
	for n := 0; n < 23; n++ {
		for size := 1; size <= 6; size++ {
			var qs []fieldModel.FieldQuestion
			for i := 0; i < n; i++ {
				qs = append(qs, fieldModel.FieldQuestion{Key: string(rune('a' + i)), IsRequired: i%3 == 0})
			}
			batches := PlanRounds(qs, size)

			seenOptional := false
			total := 0
			for i, b := range batches {
				if i < len(batches)-1 && len(b.Questions) != size {
					t.Fatalf("n=%d size=%d: round %d has %d questions", n, size, i, len(b.Questions))
				}
				if len(b.Questions) == 0 || len(b.Questions) > size {
					t.Fatalf("n=%d size=%d: round %d has %d questions", n, size, i, len(b.Questions))
				}
				for _, q := range b.Questions {
					if q.IsRequired && seenOptional {
						t.Fatalf("n=%d size=%d: required %s after an optional question", n, size, q.Key)
					}
					seenOptional = seenOptional || !q.IsRequired
				}
				total += len(b.Questions)
			}
			if total != n {
				t.Fatalf("n=%d size=%d: planned %d questions", n, size, total)
			}
		}
	}
}

func TestRun_EmitsRoundsThenAllComplete(t *testing.T) {
	engine := &mockEngine{}
	s, waits := newTestScheduler(engine)

	var events []Event
	res, err := s.Run(context.Background(), Request{
		Page:      1,
		Questions: questions([]string{"A", "B", "C"}, []string{"D", "E", "F", "G"}),
	}, func(e Event) { events = append(events, e) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if want := []string{"A", "B", "C", "D", "E", "F", "G"}; !reflect.DeepEqual(engine.calls, want) {
		t.Errorf("call order got %v, want %v", engine.calls, want)
	}
	if len(events) != 3 || events[0].Kind != RoundComplete || events[1].Kind != RoundComplete || events[2].Kind != AllComplete {
		t.Fatalf("unexpected events %+v", events)
	}
	first := events[0].Info
	if !first.IsPriority || first.RoundIndex != 0 || first.ProcessedCount != 5 || !first.HasMore || first.NextRoundIndex != 1 {
		t.Errorf("first round info %+v", first)
	}
	last := events[1].Info
	if last.IsPriority || last.ProcessedCount != 7 || last.HasMore || last.TotalRounds != 2 || last.TotalFields != 7 {
		t.Errorf("last round info %+v", last)
	}
	if len(events[2].Fields) != 7 || len(res.Fields) != 7 {
		t.Errorf("expected 7 fields, got %d", len(res.Fields))
	}
	for i, f := range res.Fields {
		if f.Key != engine.calls[i] || f.Source != fieldModel.SourceEngine || f.Id == "" {
			t.Errorf("field %d got %+v", i, f)
		}
	}
	// one delay between two rounds, none after the last
	if len(*waits) != 1 || (*waits)[0] != 500*time.Millisecond {
		t.Errorf("waits got %v", *waits)
	}
	if res.NextRound != 2 {
		t.Errorf("next round got %d", res.NextRound)
	}
}

func TestRun_QuestionFailuresDoNotAbortRound(t *testing.T) {
	engine := &mockEngine{OnAsk: func(ctx context.Context, q fieldModel.FieldQuestion) (fieldModel.EngineAnswer, error) {
		switch q.Key {
		case "B":
			return fieldModel.EngineAnswer{}, fieldModel.ErrEngineTimeout
		case "C":
			return fieldModel.EngineAnswer{}, fieldModel.ErrEngineEmpty
		}
		return fieldModel.EngineAnswer{Value: q.Key, Confidence: 1}, nil
	}}
	s, _ := newTestScheduler(engine)

	res, err := s.Run(context.Background(), Request{Questions: questions([]string{"A", "B", "C", "D"}, nil)}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Fields) != 2 || res.Fields[0].Key != "A" || res.Fields[1].Key != "D" {
		t.Errorf("fields got %+v", res.Fields)
	}
	if len(res.Failed) != 2 || res.Failed[0].Key != "B" || res.Failed[1].Key != "C" {
		t.Errorf("failed got %+v", res.Failed)
	}
}

func TestRun_TotalRoundFailure(t *testing.T) {
	engine := &mockEngine{OnAsk: func(ctx context.Context, q fieldModel.FieldQuestion) (fieldModel.EngineAnswer, error) {
		if q.Key == "A" || q.Key == "B" {
			return fieldModel.EngineAnswer{Value: q.Key}, nil
		}
		return fieldModel.EngineAnswer{}, fieldModel.ErrEngineUnavailable
	}}
	s, _ := newTestScheduler(engine)
	s.roundSize = 2

	var events []Event
	res, err := s.Run(context.Background(), Request{Questions: questions([]string{"A", "B"}, []string{"C", "D", "E"})},
		func(e Event) { events = append(events, e) })

	var rf *fieldModel.RoundFailureError
	if !errors.As(err, &rf) || !errors.Is(err, fieldModel.ErrRoundFailure) || !errors.Is(err, fieldModel.ErrEngineUnavailable) {
		t.Fatalf("expected round failure, got %v", err)
	}
	if rf.Round != 1 || len(rf.Partial) != 2 {
		t.Errorf("round failure got round %d partial %d", rf.Round, len(rf.Partial))
	}
	if last := events[len(events)-1]; last.Kind != Error || len(last.Fields) != 2 {
		t.Errorf("last event got %+v", last)
	}
	// round 2 never started
	if want := []string{"A", "B", "C", "D"}; !reflect.DeepEqual(engine.calls, want) {
		t.Errorf("calls got %v", engine.calls)
	}
	if res.NextRound != 1 {
		t.Errorf("next round got %d", res.NextRound)
	}

	// explicit resume from the failed round once the engine is back
	engine.OnAsk = nil
	engine.calls = nil
	res, err = s.Run(context.Background(), Request{
		Questions:  questions([]string{"A", "B"}, []string{"C", "D", "E"}),
		StartRound: res.NextRound,
		Prior:      res.Fields,
	}, nil)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if want := []string{"C", "D", "E"}; !reflect.DeepEqual(engine.calls, want) {
		t.Errorf("resume calls got %v", engine.calls)
	}
	if len(res.Fields) != 5 || res.Fields[0].Key != "A" || res.Fields[4].Key != "E" {
		t.Errorf("resumed fields got %+v", res.Fields)
	}
}

func TestRun_EmptyAnswersAreNotRoundFailure(t *testing.T) {
	engine := &mockEngine{OnAsk: func(ctx context.Context, q fieldModel.FieldQuestion) (fieldModel.EngineAnswer, error) {
		return fieldModel.EngineAnswer{}, fieldModel.ErrEngineEmpty
	}}
	s, _ := newTestScheduler(engine)

	res, err := s.Run(context.Background(), Request{Questions: questions([]string{"A"}, []string{"B"})}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Fields) != 0 || len(res.Failed) != 2 {
		t.Errorf("got %+v", res)
	}
}

func TestRun_CancelBetweenRounds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var inFlightCtxErr error
	engine := &mockEngine{}
	engine.OnAsk = func(callCtx context.Context, q fieldModel.FieldQuestion) (fieldModel.EngineAnswer, error) {
		if q.Key == "B" {
			cancel()
			inFlightCtxErr = callCtx.Err()
		}
		return fieldModel.EngineAnswer{Value: q.Key}, nil
	}
	s, _ := newTestScheduler(engine)
	s.roundSize = 2

	var events []Event
	res, err := s.Run(ctx, Request{Questions: questions(nil, []string{"A", "B", "C", "D"})}, func(e Event) { events = append(events, e) })
	if !errors.Is(err, context.Canceled) || !res.Cancelled {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if inFlightCtxErr != nil {
		t.Errorf("in-flight call saw cancellation: %v", inFlightCtxErr)
	}
	// round 0 ran to completion, round 1 never started
	if want := []string{"A", "B"}; !reflect.DeepEqual(engine.calls, want) {
		t.Errorf("calls got %v", engine.calls)
	}
	if len(events) != 1 || events[0].Kind != RoundComplete || res.NextRound != 1 {
		t.Errorf("events %+v next %d", events, res.NextRound)
	}
}

func TestRun_RealDelayIsSkippedAfterLastRound(t *testing.T) {
	s := New(&mockEngine{}, config.SchedulerTuning{RoundSize: 5, RoundDelay: 300 * time.Millisecond})

	start := time.Now()
	if _, err := s.Run(context.Background(), Request{Questions: questions([]string{"A"}, nil)}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("single round run took %v", elapsed)
	}
}

func TestRun_BadStartRound(t *testing.T) {
	s, _ := newTestScheduler(&mockEngine{})
	if _, err := s.Run(context.Background(), Request{Questions: questions([]string{"A"}, nil), StartRound: 3}, nil); err == nil {
		t.Error("expected error for start round past the plan")
	}
}

func TestRun_RequestRoundSizeOverridesTuning(t *testing.T) {
	s, _ := newTestScheduler(&mockEngine{})
	if s.RoundSize() != 5 {
		t.Fatalf("tuned round size got %d", s.RoundSize())
	}

	res, err := s.Run(context.Background(), Request{Questions: questions(nil, []string{"A", "B", "C"}), RoundSize: 1, StartRound: 1}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Rounds) != 2 || res.Rounds[0].RoundSize != 1 || res.Rounds[0].TotalRounds != 3 || res.NextRound != 3 {
		t.Errorf("rounds got %+v next=%d", res.Rounds, res.NextRound)
	}
}
