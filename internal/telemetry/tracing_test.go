package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerDisabled(t *testing.T) {
	tp, err := InitTracer(context.Background(), TracerConfig{Enabled: false}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown of disabled tracer: %v", err)
	}
	var nilProvider *TracerProvider
	if err := nilProvider.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown of nil tracer: %v", err)
	}
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
	}
	for _, tt := range tests {
		if got := samplerFor(tt.rate).Description(); got != tt.want {
			t.Errorf("samplerFor(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}

func TestSpanAttributesAndErrors(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "resolve")
	AddSpanAttributes(span, map[string]any{
		"guild_id": "42",
		"attempt":  2,
		"cached":   true,
		"elapsed":  1500 * time.Millisecond,
		"ignored":  []string{"x"},
	})
	RecordError(span, nil)
	RecordError(span, errors.New("boom"))
	span.End()

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d", len(spans))
	}
	got := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		got[kv.Key] = kv.Value
	}
	if got["guild_id"].AsString() != "42" || got["attempt"].AsInt64() != 2 || !got["cached"].AsBool() {
		t.Fatalf("attributes = %v", got)
	}
	if got["elapsed"].AsFloat64() != 1.5 {
		t.Fatalf("elapsed = %v", got["elapsed"])
	}
	if _, ok := got["ignored"]; ok {
		t.Fatal("unsupported attribute type should be skipped")
	}
	if spans[0].Status().Code != codes.Error || len(spans[0].Events()) != 1 {
		t.Fatalf("status = %+v events = %d", spans[0].Status(), len(spans[0].Events()))
	}
}
