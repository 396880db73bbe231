package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContextAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	ctx := context.WithValue(context.Background(), DatasetKey, "cpc_us_precip")
	ctx = context.WithValue(ctx, RunIDKey, "run-1")
	ctx = context.WithValue(ctx, StageKey, "fetch")

	FromContext(ctx, base).Info("fetching")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "cpc_us_precip", fields["dataset"])
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "fetch", fields["stage"])
}

func TestInitRejectsBadLevel(t *testing.T) {
	err := Init(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestGetDefaults(t *testing.T) {
	Set(nil)
	assert.NotNil(t, Get())
}
