package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/apaul10-dot/Project-Alpha/internal/wire"
)

// TestRouterDispatch tests exact matches, prefix matches and the fallback.
func TestRouterDispatch(t *testing.T) {
	var called string
	record := func(name string) HandlerFunc {
		return func(context.Context, *Exchange) {
			called = name
		}
	}

	r := NewRouter(record("notFound"))
	r.Handle("GET", "/health", record("health"))
	r.Handle("POST", "/send", record("send"))
	r.HandlePrefix("GET", "/assets/", record("asset"))

	tests := []struct {
		method string
		path   string
		want   string
	}{
		{"GET", "/health", "health"},
		{"POST", "/send", "send"},
		{"GET", "/assets/logo.jpg", "asset"},
		{"GET", "/assets/", "asset"},
		{"POST", "/health", "notFound"},
		{"GET", "/send", "notFound"},
		{"GET", "/health/", "notFound"},
		{"POST", "/assets/logo.jpg", "notFound"},
		{"GET", "/assets", "notFound"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			called = ""
			r.Dispatch(context.Background(), &Exchange{Request: &wire.Request{Method: tt.method, Path: tt.path}})
			assert.Equal(t, tt.want, called)
		})
	}
}

// TestSetupRoutes tests that every phone-facing route is registered.
func TestSetupRoutes(t *testing.T) {
	r := SetupRoutes(&handlers{})

	for _, route := range []struct{ method, path string }{
		{"GET", "/"},
		{"GET", "/events"},
		{"POST", "/send"},
		{"GET", "/health"},
		{"GET", "/connect"},
		{"GET", "/profile"},
		{"POST", "/profile"},
		{"GET", "/settings"},
		{"POST", "/settings"},
		{"GET", "/assets/avatar.jpg"},
	} {
		_, ok := r.Lookup(route.method, route.path)
		assert.True(t, ok, "%s %s", route.method, route.path)
	}

	_, ok := r.Lookup("GET", "/unknown-path")
	assert.False(t, ok)
}
