package logger

import (
	"context"
	"testing"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	if RequestIDFromContext(ctx) != "" || RouteFromContext(ctx) != "" {
		t.Fatal("empty context carries values")
	}

	ctx = WithRoute(WithRequestID(ctx, "req-1"), "greet")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("RequestIDFromContext() = %q, want req-1", got)
	}
	if got := RouteFromContext(ctx); got != "greet" {
		t.Errorf("RouteFromContext() = %q, want greet", got)
	}

	// Keys are unexported, so a plain string key cannot collide.
	ctx = context.WithValue(ctx, "request_id", "other") //nolint:staticcheck
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("RequestIDFromContext() = %q after string-key write", got)
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) != Default() {
		t.Error("FromContext without a logger did not return Default()")
	}

	l, _ := newJSON(t, "info")
	if FromContext(WithLogger(context.Background(), l)) != l {
		t.Error("FromContext did not return the stored logger")
	}
}

func TestL(t *testing.T) {
	tests := []struct {
		name      string
		requestID string
		route     string
	}{
		{"none", "", ""},
		{"request id", "req-2", ""},
		{"route", "", "PersonCreated"},
		{"both", "req-3", "greet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, buf := newJSON(t, "info")
			ctx := WithLogger(context.Background(), l)
			if tt.requestID != "" {
				ctx = WithRequestID(ctx, tt.requestID)
			}
			if tt.route != "" {
				ctx = WithRoute(ctx, tt.route)
			}

			L(ctx).Info("dispatched")
			got := entries(t, buf)[0]

			if id, ok := got["request_id"]; ok != (tt.requestID != "") || (ok && id != tt.requestID) {
				t.Errorf("request_id = %v, want %q", id, tt.requestID)
			}
			if route, ok := got["route"]; ok != (tt.route != "") || (ok && route != tt.route) {
				t.Errorf("route = %v, want %q", route, tt.route)
			}
		})
	}
}

func TestWithContext_SurvivesWith(t *testing.T) {
	l, buf := newJSON(t, "info")
	ctx := WithRequestID(context.Background(), "req-4")
	l.WithContext(ctx).With("store", "dynamodb").Warn("retrying")

	got := entries(t, buf)[0]
	if got["request_id"] != "req-4" || got["store"] != "dynamodb" {
		t.Errorf("entry = %v", got)
	}
}
