package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisabledReturnsUsableNoopProvider(t *testing.T) {
	p, err := New(Config{ServiceName: "intellirouter-test", Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	ctx, span := p.StartSpan(context.Background(), "route")
	assert.NotNil(t, ctx)
	span.End()

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewEnabledBuildsStdoutTracerProvider(t *testing.T) {
	p, err := New(Config{ServiceName: "intellirouter-test", Enabled: true})
	require.NoError(t, err)
	require.NotNil(t, p)

	_, span := p.StartSpan(context.Background(), "route")
	span.End()

	assert.NoError(t, p.Shutdown(context.Background()))
}
