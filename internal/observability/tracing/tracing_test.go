package tracing

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewProviderDisabled(t *testing.T) {
	tp, err := NewProvider(nil, Config{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, tp)

	_, span := tp.Tracer("test").Start(t.Context(), "noop")
	require.False(t, span.SpanContext().IsSampled())
	span.End()
}

func TestNewExporterRejectsUnknownProtocol(t *testing.T) {
	_, err := newExporter(t.Context(), "carrier-pigeon", "localhost:4317")
	require.Error(t, err)
}
