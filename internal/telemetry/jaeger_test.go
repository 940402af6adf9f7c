package telemetry

import (
	"context"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestInitJaegerDisabled(t *testing.T) {
	shutdown, err := InitJaeger("room-panel", "", 1)
	assert.Equal(t, err, nil)
	assert.Equal(t, shutdown(context.Background()), nil)
}

func TestSampler(t *testing.T) {
	assert.Equal(t, strings.HasPrefix(Sampler(1).Description(), "ParentBased{root:AlwaysOnSampler"), true)
	assert.Equal(t, strings.HasPrefix(Sampler(5).Description(), "ParentBased{root:AlwaysOnSampler"), true)
	assert.Equal(t, strings.Contains(Sampler(0.25).Description(), "TraceIDRatioBased{0.25}"), true)
	assert.Equal(t, clampRatio(-1), 0.0)
}
