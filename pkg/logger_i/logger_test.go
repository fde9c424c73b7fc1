package logger_i

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/akolanti/layoutlens/internal/config"
)

func TestLogger_FromContextAddsTrace(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf)

	ctx := context.WithValue(context.Background(), config.TRACE_ID_KEY, "trace-42")
	NewLogger("test").FromContext(ctx).Info("hello")

	out := buf.String()
	if !strings.Contains(out, "component=test") {
		t.Errorf("missing component attribute: %s", out)
	}
	if !strings.Contains(out, "traceId=trace-42") {
		t.Errorf("missing trace attribute: %s", out)
	}
}

func TestLogger_FromContextWithoutTrace(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf)

	NewLogger("test").FromContext(context.Background()).Warn("no trace")

	if strings.Contains(buf.String(), "traceId") {
		t.Errorf("unexpected trace attribute: %s", buf.String())
	}
}
