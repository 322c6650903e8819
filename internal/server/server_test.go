package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func serve(s *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp := httptest.NewRecorder()
	s.Engine.ServeHTTP(resp, req)
	return resp
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		health     HealthChecker
		wantStatus int
		wantBody   string
	}{
		{name: "memory backend", health: nil, wantStatus: http.StatusOK, wantBody: `"database":"memory"`},
		{name: "database up", health: pingFunc(func(context.Context) error { return nil }), wantStatus: http.StatusOK, wantBody: `"database":"connected"`},
		{name: "database down", health: pingFunc(func(context.Context) error { return errors.New("refused") }), wantStatus: http.StatusServiceUnavailable, wantBody: `"unhealthy"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := serve(New(":0", tc.health, "release"), "/health")
			require.Equal(t, tc.wantStatus, resp.Code)
			require.Contains(t, resp.Body.String(), tc.wantBody)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	resp := serve(New(":0", nil, "release"), "/metrics")
	require.Equal(t, http.StatusOK, resp.Code)
	require.True(t, strings.Contains(resp.Body.String(), "go_goroutines"))
}
