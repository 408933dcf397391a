package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/entitystream/config"
	"github.com/c360/entitystream/engine"
)

func testServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.Queue.RetryDelay = 5 * time.Millisecond
	cfg.Queue.Debounce = 10 * time.Millisecond
	cfg.Queue.FlushInterval = 50 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	eng, err := engine.New(cfg)
	require.NoError(t, err)
	eng.Start(context.Background())
	t.Cleanup(eng.Stop)

	srv, err := NewServer(cfg, eng)
	require.NoError(t, err)
	return srv
}

func publishBody(t *testing.T, ev map[string]any, opts map[string]any) []byte {
	t.Helper()
	payload := map[string]any{"event": ev}
	if opts != nil {
		payload["options"] = opts
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return body
}

func doJSON(t *testing.T, h http.Handler, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestPublishEndpoint(t *testing.T) {
	srv := testServer(t, nil)

	body := publishBody(t, map[string]any{
		"entityType": "customer",
		"eventType":  "created",
		"eventData":  map[string]any{"entityId": "c-1"},
	}, map[string]any{"priority": "high", "guaranteed": true})

	rec, resp := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/events", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.NotEmpty(t, resp["eventId"])
	assert.NotEmpty(t, resp["deliveryId"])
	assert.Equal(t, engine.ResultDelivered, resp["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestPublishValidationFailure(t *testing.T) {
	srv := testServer(t, nil)

	body := publishBody(t, map[string]any{"eventType": "created"}, nil)
	rec, resp := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/events", body)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "event validation failed", resp["error"])
	assert.NotEmpty(t, resp["details"])
}

func TestPublishMalformedJSON(t *testing.T) {
	srv := testServer(t, nil)

	rec, _ := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/events", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublishBodyTooLarge(t *testing.T) {
	srv := testServer(t, func(cfg *config.Config) {
		cfg.Server.MaxRequestSize = 64
	})

	body := publishBody(t, map[string]any{
		"entityType": "customer",
		"eventType":  "created",
		"eventData":  map[string]any{"padding": string(make([]byte, 256))},
	}, nil)
	rec, _ := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/events", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	srv := testServer(t, nil)

	body := publishBody(t, map[string]any{
		"entityType": "customer",
		"eventType":  "created",
	}, map[string]any{"priority": "high"})
	rec, resp := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/events", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	eventID := resp["eventId"].(string)

	rec, status := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/events/"+eventID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "delivered", status["status"])
}

func TestStatusUnknownEvent(t *testing.T) {
	srv := testServer(t, nil)

	rec, resp := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/events/no-such-event", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "resource not found", resp["error"])
}

func TestStatsEndpoint(t *testing.T) {
	srv := testServer(t, nil)

	body := publishBody(t, map[string]any{
		"entityType": "customer",
		"eventType":  "created",
	}, map[string]any{"priority": "high"})
	rec, _ := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/events", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec, stats := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), stats["totalQueued"])
}

func TestHealthzEndpoint(t *testing.T) {
	srv := testServer(t, nil)

	rec, resp := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", resp["status"])
	assert.NotNil(t, resp["stats"])
}

func TestCORSPreflight(t *testing.T) {
	srv := testServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/events", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestCORSDisallowedOrigin(t *testing.T) {
	srv := testServer(t, func(cfg *config.Config) {
		cfg.Server.CORSOrigins = []string{"https://app.example.com"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/events", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiting(t *testing.T) {
	srv := testServer(t, func(cfg *config.Config) {
		cfg.Server.RateLimit = 1
		cfg.Server.RateBurst = 2
	})

	var limited bool
	for i := 0; i < 5; i++ {
		body := publishBody(t, map[string]any{
			"entityType": "customer",
			"eventType":  "created",
			"eventData":  map[string]any{"entityId": fmt.Sprintf("c-%d", i)},
		}, nil)
		rec, _ := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/events", body)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	assert.True(t, limited, "burst of 5 against limit 1/s burst 2 must trip the limiter")
}
