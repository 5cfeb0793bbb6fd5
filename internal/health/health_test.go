package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthy(t *testing.T) {
	code, body := get(t, Router(map[string]Check{
		"redis": func(context.Context) error { return nil },
	}))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["ok"])
}

func TestFailingCheck(t *testing.T) {
	code, body := get(t, Router(map[string]Check{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}))
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, false, body["ok"])
	require.Equal(t, "connection refused", body["redis"])
}

func TestUnknownPath(t *testing.T) {
	rec := httptest.NewRecorder()
	Router(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
