package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	require.NoError(t, InitWithExporter("bills-test", "0.0.1", exporter))

	_, approveSpan := StartSpan(context.Background(), "bill.approve", map[string]string{"bill.id": "b1"})
	approveSpan.SetAttribute("bill.status", "pending")
	EndSpan(approveSpan, nil)

	_, failed := StartSpan(context.Background(), "bill.reject", nil)
	EndSpan(failed, errors.New("boom"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "bill.approve", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
	assert.Equal(t, "boom", spans[1].Status.Description)

	EndSpan(nil, nil)
}
