package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"streamrev/internal/core"
	"streamrev/internal/flood"
)

type fakePlayCounts struct {
	report *core.PlayCountReport
	err    error
	calls  int
}

func (f *fakePlayCounts) Lookup(context.Context, string) (*core.PlayCountReport, error) {
	f.calls++
	return f.report, f.err
}

type fakeMetadata struct {
	track *core.TrackMetadata
	err   error
}

func (f *fakeMetadata) GetTrack(context.Context, string) (*core.TrackMetadata, error) {
	return f.track, f.err
}

type fakeTokens struct {
	token string
	err   error
}

func (f *fakeTokens) AccessToken(context.Context) (string, error) {
	return f.token, f.err
}

func newTestAPI(services Services) (*httptest.Server, *Metrics) {
	registry := prometheus.NewRegistry()
	metrics := newMetrics(registry)
	api := &apiHandler{services: services, metrics: metrics, logger: zap.NewNop()}
	return httptest.NewServer(setupRoutes(zap.NewNop(), api, registry)), metrics
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, url, http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	return resp, strings.TrimSpace(string(body))
}

func foundReport() *core.PlayCountReport {
	name := "Blinding Lights"
	total := 2380.0
	return &core.PlayCountReport{
		ExtractionResult: core.ExtractionResult{
			TrackName:     &name,
			PlayCounts:    []core.RawPlayCountCandidate{{Count: "1,000,000", SourceMarkup: "<span>1,000,000</span>"}},
			PopularTracks: []core.PopularTrackRow{},
		},
		PlayCount: &core.ReconciledCount{Count: 1000000, Confidence: core.ConfidencePrimary, Source: "1,000,000"},
		Revenue:   core.RevenueEstimate{PerStream: 0.00238, Total: &total, Currency: "USD"},
	}
}

func TestCreateHTTPServer(t *testing.T) {
	config := &core.ServerConfig{
		Host:         "0.0.0.0",
		Port:         9090,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	mux := http.NewServeMux()
	server := createHTTPServer(config, mux)

	expectedAddr := "0.0.0.0:9090"
	if server.Addr != expectedAddr {
		t.Errorf("createHTTPServer() Addr = %q, expected %q", server.Addr, expectedAddr)
	}

	if server.Handler != mux {
		t.Errorf("createHTTPServer() Handler mismatch")
	}

	if server.ReadTimeout != config.ReadTimeout {
		t.Errorf("createHTTPServer() ReadTimeout = %v, expected %v", server.ReadTimeout, config.ReadTimeout)
	}

	if server.WriteTimeout != config.WriteTimeout {
		t.Errorf("createHTTPServer() WriteTimeout = %v, expected %v", server.WriteTimeout, config.WriteTimeout)
	}
}

func TestNewServerTwice(t *testing.T) {
	config := &core.ServerConfig{Host: "127.0.0.1", Port: 0}

	// Each server owns its registry, so constructing two must not panic.
	for i := 0; i < 2; i++ {
		if server := NewServer(config, Services{}, zap.NewNop()); server.GetMetrics() == nil {
			t.Fatal("Expected metrics")
		}
	}
}

func TestNewServerFloodMetrics(t *testing.T) {
	fg := flood.New(1)
	defer fg.Stop()

	server := NewServer(&core.ServerConfig{Host: "127.0.0.1"}, Services{
		Tokens:    &fakeTokens{token: "t"},
		Floodgate: fg,
	}, zap.NewNop())
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	get(t, ts.URL+"/api/spotify/token")

	_, body := get(t, ts.URL+"/metrics")
	if !strings.Contains(body, "streamrev_flood_active_clients 1") {
		t.Errorf("Expected one tracked client in metrics, got:\n%s", body)
	}
}

func TestAmbientEndpoints(t *testing.T) {
	server, _ := newTestAPI(Services{})
	defer server.Close()

	tests := []struct {
		path        string
		contentType string
		body        string
	}{
		{path: "/healthz", contentType: "application/json", body: `{"status":"ok","service":"streamrev"}`},
		{path: "/readyz", contentType: "application/json", body: `{"status":"ready","service":"streamrev"}`},
		{path: "/metrics"},
		{path: "/", contentType: "text/html"},
	}

	for _, tt := range tests {
		resp, body := get(t, server.URL+tt.path)

		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s returned status %d, expected %d", tt.path, resp.StatusCode, http.StatusOK)
		}
		if tt.contentType != "" && resp.Header.Get("Content-Type") != tt.contentType {
			t.Errorf("%s Content-Type = %q, expected %q", tt.path, resp.Header.Get("Content-Type"), tt.contentType)
		}
		if tt.body != "" && body != tt.body {
			t.Errorf("%s body = %q, expected %q", tt.path, body, tt.body)
		}
	}
}

func TestHomeHandler(t *testing.T) {
	handler := homeHandler(zap.NewNop())

	req := httptest.NewRequest("GET", "/", http.NoBody)
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	expectedElements := []string{
		"<!DOCTYPE html>",
		"<title>StreamRev</title>",
		"/api/spotify/track/{trackId}",
		"/metrics",
		"/healthz",
		"/readyz",
		"0.00238",
	}

	for _, element := range expectedElements {
		if !strings.Contains(body, element) {
			t.Errorf("Expected body to contain %q", element)
		}
	}
}

func TestPlayCountEndpoint(t *testing.T) {
	playCounts := &fakePlayCounts{report: foundReport()}
	server, _ := newTestAPI(Services{PlayCounts: playCounts})
	defer server.Close()

	resp, body := get(t, server.URL+"/api/spotify/track/0VjIjW4GlUZAMYd2vXMi3b")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, body)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header on API response")
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	for _, key := range []string{"trackName", "playCounts", "popularTracks", "playCount", "revenue"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("Expected key %q in response %s", key, body)
		}
	}

	_, exposition := get(t, server.URL+"/metrics")
	for _, line := range []string{
		`streamrev_lookups_total{outcome="ok"} 1`,
		`streamrev_play_count_confidence_total{confidence="primary"} 1`,
		`streamrev_lookups_in_flight 0`,
	} {
		if !strings.Contains(exposition, line) {
			t.Errorf("Expected metrics to contain %q", line)
		}
	}
}

func TestPlayCountEndpointErrors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		err        error
		wantStatus int
		wantBody   string
		wantCalls  int
	}{
		{
			name:       "invalid id",
			path:       "/api/spotify/track/not-an-id",
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Invalid Spotify track URI or URL format"}`,
		},
		{
			name:       "busy",
			path:       "/api/spotify/track/abc123",
			err:        core.ErrBusy,
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"error":"Failed to fetch Spotify data","details":"all browser sessions are busy"}`,
			wantCalls:  1,
		},
		{
			name:       "navigation timeout",
			path:       "/api/spotify/track/abc123",
			err:        core.ErrNavigationTimeout,
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"Failed to fetch Spotify data","details":"navigation timed out"}`,
			wantCalls:  1,
		},
		{
			name:       "launch failure",
			path:       "/api/spotify/track/abc123",
			err:        errors.New("browser launch failed: exec: not found"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"Failed to fetch Spotify data","details":"browser launch failed: exec: not found"}`,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			playCounts := &fakePlayCounts{err: tt.err}
			server, _ := newTestAPI(Services{PlayCounts: playCounts})
			defer server.Close()

			resp, body := get(t, server.URL+tt.path)

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if body != tt.wantBody {
				t.Errorf("Expected body %s, got %s", tt.wantBody, body)
			}
			if playCounts.calls != tt.wantCalls {
				t.Errorf("Expected %d lookups, got %d", tt.wantCalls, playCounts.calls)
			}
		})
	}
}

func TestMetadataEndpoint(t *testing.T) {
	track := &core.TrackMetadata{ID: "abc123", Name: "Blinding Lights", DurationMs: 200040, Popularity: 91}
	server, _ := newTestAPI(Services{Metadata: &fakeMetadata{track: track}})
	defer server.Close()

	resp, body := get(t, server.URL+"/api/spotify/metadata/abc123")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"duration_ms":200040`) || !strings.Contains(body, `"popularity":91`) {
		t.Errorf("Unexpected body %s", body)
	}
}

func TestMetadataEndpointSurfacesUpstreamError(t *testing.T) {
	server, _ := newTestAPI(Services{Metadata: &fakeMetadata{err: errors.New("invalid id")}})
	defer server.Close()

	resp, body := get(t, server.URL+"/api/spotify/metadata/abc123")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", resp.StatusCode)
	}
	if body != `{"error":"invalid id"}` {
		t.Errorf("Unexpected body %s", body)
	}
}

func TestTokenEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		tokens     *fakeTokens
		wantStatus int
		wantBody   string
	}{
		{
			name:       "success",
			tokens:     &fakeTokens{token: "app-token"},
			wantStatus: http.StatusOK,
			wantBody:   `{"access_token":"app-token"}`,
		},
		{
			name:       "missing credentials",
			tokens:     &fakeTokens{err: core.ErrMissingCredentials},
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"Spotify credentials not configured"}`,
		},
		{
			name:       "exchange failure",
			tokens:     &fakeTokens{err: errors.New("failed to get access token: invalid_client")},
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"failed to get access token: invalid_client"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newTestAPI(Services{Tokens: tt.tokens})
			defer server.Close()

			resp, body := get(t, server.URL+"/api/spotify/token")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if body != tt.wantBody {
				t.Errorf("Expected body %s, got %s", tt.wantBody, body)
			}
		})
	}
}

func TestFloodLimit(t *testing.T) {
	fg := flood.New(2)
	defer fg.Stop()

	server, _ := newTestAPI(Services{Tokens: &fakeTokens{token: "t"}, Floodgate: fg})
	defer server.Close()

	for i := 0; i < 2; i++ {
		if resp, _ := get(t, server.URL+"/api/spotify/token"); resp.StatusCode != http.StatusOK {
			t.Fatalf("Request %d: expected status 200, got %d", i+1, resp.StatusCode)
		}
	}

	resp, body := get(t, server.URL+"/api/spotify/token")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}
	if !strings.Contains(body, `"error"`) {
		t.Errorf("Expected error body, got %s", body)
	}
	if _, exposition := get(t, server.URL+"/metrics"); !strings.Contains(exposition, "streamrev_rate_limited_total 1") {
		t.Error("Expected one rate-limited request in metrics")
	}

	// Ambient endpoints are not limited.
	if resp, _ := get(t, server.URL+"/healthz"); resp.StatusCode != http.StatusOK {
		t.Errorf("Expected /healthz to bypass the limit, got %d", resp.StatusCode)
	}
}

func TestPreflight(t *testing.T) {
	server, _ := newTestAPI(Services{})
	defer server.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodOptions, server.URL+"/api/spotify/token", http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header")
	}
}

func TestServer_StartContextCancellation(t *testing.T) {
	config := &core.ServerConfig{Host: "127.0.0.1", Port: 0}
	server := NewServer(config, Services{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not shut down")
	}
}
