package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
)

func TestCorrelationID_NoSpan(t *testing.T) {
	t.Parallel()

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
}

func TestEndSpan_RecordsError(t *testing.T) {
	_, _, exp := testSetup(t)

	_, span := StartSpan(context.Background(), "analysis")
	EndSpan(span, errors.New("upstream failed"))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status.Code)
	}
	if len(spans[0].Events) == 0 {
		t.Error("error event not recorded")
	}
}

func TestLogger_CarriesTraceID(t *testing.T) {
	_, _, _ = testSetup(t)

	ctx, span := StartSpan(context.Background(), "log-test")
	defer span.End()

	if Logger(ctx) == nil {
		t.Fatal("Logger returned nil")
	}
	if CorrelationID(ctx) == "" {
		t.Error("CorrelationID empty inside span")
	}
}
