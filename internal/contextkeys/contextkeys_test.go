package contextkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerFromContextFallsBackToNoop(t *testing.T) {
	logger := LoggerFromContext(context.Background())

	assert.NotNil(t, logger)
	assert.NotPanics(t, func() {
		logger.WithFields(nil).Error("boom", nil, nil)
	})
}

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := ContextWithTraceID(context.Background(), "trace-1")

	assert.Equal(t, "trace-1", TraceIDFromContext(ctx))
	assert.Equal(t, "", TraceIDFromContext(context.Background()))
}
