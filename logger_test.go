package dunning

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFmtLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := WithLoggerFields(NewFmtLogger(&buf), map[string]any{"execution_id": "e1", "step": 2})
	logger = logger.WithContext(context.Background())
	logger.Warn("attempt %d failed", 3)

	line := buf.String()
	assert.Contains(t, line, "WARN")
	assert.Contains(t, line, "attempt 3 failed")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(line), "execution_id=e1 step=2"), line)
}

func TestNormalizeLogger(t *testing.T) {
	assert.NotNil(t, NormalizeLogger(nil))
	l := NewFmtLogger(nil)
	assert.Same(t, l, NormalizeLogger(l))
}

func TestJSONLoggerWritesStructuredOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := WithLoggerFields(NewJSONLogger(&buf, "debug"), map[string]any{"campaign_id": "c9"})
	logger.Info("campaign %s ready", "c9")

	out := buf.String()
	if strings.TrimSpace(out) == "" {
		t.Fatalf("expected go-logger output")
	}
	assert.Contains(t, out, "campaign_id")
}

func TestLoggerPanicHandler(t *testing.T) {
	var buf bytes.Buffer
	handler := MakePanicHandler(LoggerPanicHandler(NewFmtLogger(&buf)))

	func() {
		defer handler("sweep", map[string]any{"tenant_id": "t1"})
		panic("boom")
	}()

	out := buf.String()
	assert.Contains(t, out, "recovered from panic in sweep: boom")
	assert.Contains(t, out, "tenant_id=t1")
}
