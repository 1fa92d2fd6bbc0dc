package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInit_Disabled_ReturnsNoopShutdown(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	if shutdown == nil {
		t.Fatal("shutdown func is nil")
	}

	// safe to call multiple times
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestInit_Disabled_SetsTracerProvider(t *testing.T) {
	_, _ = Init(context.Background(), Options{Enabled: false})

	tp := otel.GetTracerProvider()
	if tp == nil {
		t.Fatal("TracerProvider is nil")
	}
	if _, ok := tp.(*sdktrace.TracerProvider); !ok {
		t.Fatalf("TracerProvider type = %T, want *sdktrace.TracerProvider", tp)
	}
}

func TestInit_Disabled_SetsPropagator(t *testing.T) {
	_, _ = Init(context.Background(), Options{Enabled: false})

	prop := otel.GetTextMapPropagator()
	if prop == nil {
		t.Fatal("TextMapPropagator is nil")
	}

	fieldSet := make(map[string]bool)
	for _, f := range prop.Fields() {
		fieldSet[f] = true
	}
	if !fieldSet["traceparent"] {
		t.Error("propagator missing traceparent field")
	}
	if !fieldSet["baggage"] {
		t.Error("propagator missing baggage field")
	}
}

func TestInit_Disabled_TracerUsable(t *testing.T) {
	_, _ = Init(context.Background(), Options{Enabled: false})

	tracer := otel.Tracer("test")
	ctx, span := tracer.Start(context.Background(), "test-span")
	if span == nil || ctx == nil {
		t.Fatal("tracer should produce usable spans when disabled")
	}
	span.SetName("renamed")
	span.End()
}
