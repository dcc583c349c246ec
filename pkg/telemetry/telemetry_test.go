package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, Setup(ctx, ""))

	// Spans must be safe to produce even with nothing exporting them.
	_, span := otel.Tracer("test").Start(ctx, "operation")
	span.End()
}

func TestSetupWithEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Exporter construction does not dial, so a dead endpoint still
	// sets up cleanly.
	require.NoError(t, Setup(ctx, "localhost:4318"))
}
