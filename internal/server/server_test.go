package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/francyfox/sqstat/internal/config"
	"github.com/francyfox/sqstat/internal/metrics"
	"github.com/francyfox/sqstat/internal/store"
	"github.com/francyfox/sqstat/internal/ws"
)

type fakeIndex struct {
	countFn     func(query string) (int64, error)
	searchFn    func(query string, opts store.SearchOptions) (*store.SearchResult, error)
	aggregateFn func(query string, opts store.AggregateOptions) (*store.AggregateResult, error)
}

func (f *fakeIndex) Count(_ context.Context, query string) (int64, error) {
	if f.countFn == nil {
		return 0, nil
	}
	return f.countFn(query)
}

func (f *fakeIndex) Search(_ context.Context, query string, opts store.SearchOptions) (*store.SearchResult, error) {
	if f.searchFn == nil {
		return &store.SearchResult{}, nil
	}
	return f.searchFn(query, opts)
}

func (f *fakeIndex) Aggregate(_ context.Context, query string, opts store.AggregateOptions) (*store.AggregateResult, error) {
	if f.aggregateFn == nil {
		return &store.AggregateResult{}, nil
	}
	return f.aggregateFn(query, opts)
}

func newTestServer(t *testing.T, cfg *config.Config, idx store.Index) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg == nil {
		cfg = &config.Config{Listen: ":0"}
	}
	svc := metrics.New(idx, logger, "")
	hub := ws.NewHub(logger)
	done := make(chan struct{})
	go hub.Run(done)
	t.Cleanup(func() { close(done) })
	return New(cfg, svc, idx, hub, logger)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil, &fakeIndex{})

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestAccessLogsPaging(t *testing.T) {
	var gotOpts store.SearchOptions
	idx := &fakeIndex{
		searchFn: func(query string, opts store.SearchOptions) (*store.SearchResult, error) {
			gotOpts = opts
			return &store.SearchResult{
				Total: 42,
				Docs: []store.Document{
					{"timestamp": "1758882992020", "url": "https://example.com/a"},
				},
			}, nil
		},
	}
	s := newTestServer(t, nil, idx)

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/stats/access-logs?page=3&limit=10", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if gotOpts.Offset != 20 || gotOpts.Limit != 10 {
		t.Errorf("offset/limit = %d/%d, want 20/10", gotOpts.Offset, gotOpts.Limit)
	}
	if gotOpts.SortBy != "timestamp" || !gotOpts.Desc {
		t.Errorf("sort = %q desc=%v, want timestamp desc", gotOpts.SortBy, gotOpts.Desc)
	}

	var body struct {
		Total int64            `json:"total"`
		Page  int              `json:"page"`
		Items []store.Document `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Total != 42 || body.Page != 3 || len(body.Items) != 1 {
		t.Errorf("body = %+v", body)
	}
}

func TestAccessLogsLimitValidation(t *testing.T) {
	s := newTestServer(t, nil, &fakeIndex{})

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/stats/access-logs?limit=500", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	idx := &fakeIndex{
		aggregateFn: func(query string, opts store.AggregateOptions) (*store.AggregateResult, error) {
			if opts.GroupBy == "clientIP" {
				return &store.AggregateResult{
					Total: 1,
					Rows: []store.Row{
						{"clientIP": "10.0.0.1", "totalBytes": "4096", "totalDuration": "2000",
							"freshBytes": "0", "freshDuration": "0"},
					},
				}, nil
			}
			return &store.AggregateResult{}, nil
		},
		countFn: func(query string) (int64, error) { return 10, nil },
	}
	s := newTestServer(t, nil, idx)

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/stats/access-logs/metrics", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Count         int64                  `json:"count"`
		Users         []metrics.UserInfo     `json:"users"`
		GlobalStates  metrics.GlobalStates   `json:"globalStates"`
		CurrentStates map[string]interface{} `json:"currentStates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Count != 1 {
		t.Errorf("count = %d, want 1", body.Count)
	}
	if len(body.Users) != 1 || body.Users[0].ClientIP != "10.0.0.1" {
		t.Errorf("users = %+v", body.Users)
	}
	if body.GlobalStates.TotalRequests != 10 {
		t.Errorf("totalRequests = %d, want 10", body.GlobalStates.TotalRequests)
	}
}

func TestDomainsValidation(t *testing.T) {
	s := newTestServer(t, nil, &fakeIndex{})

	tests := []struct {
		name string
		url  string
	}{
		{"limit too large", "/stats/access-logs/metrics/domains?limit=1000"},
		{"bad sort order", "/stats/access-logs/metrics/domains?sortOrder=sideways"},
		{"inverted range", "/stats/access-logs/metrics/domains?startTime=200&endTime=100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, tt.url, nil))
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestDomainsEndpoint(t *testing.T) {
	idx := &fakeIndex{
		aggregateFn: func(query string, opts store.AggregateOptions) (*store.AggregateResult, error) {
			return &store.AggregateResult{
				Total: 1,
				Rows: []store.Row{
					{"domain": "example.com", "requestCount": "20", "totalBytes": "512",
						"totalDuration": "100", "lastActivity": "1758882992020",
						"errorsCount": "2", "blockedMax": "0"},
				},
			}, nil
		},
	}
	s := newTestServer(t, nil, idx)

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/stats/access-logs/metrics/domains?limit=10", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body metrics.DomainsResult
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Total != 1 || len(body.Items) != 1 {
		t.Fatalf("body = %+v", body)
	}
	if body.Items[0].ErrorsRate != 10 {
		t.Errorf("errorsRate = %v, want 10", body.Items[0].ErrorsRate)
	}
}

func TestBasicAuthHtpasswd(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	htpasswd := filepath.Join(t.TempDir(), "htpasswd")
	if err := os.WriteFile(htpasswd, []byte("admin:"+string(hash)+"\n"), 0600); err != nil {
		t.Fatalf("write htpasswd: %v", err)
	}

	cfg := &config.Config{Listen: ":0", HtpasswdFile: htpasswd}
	s := newTestServer(t, cfg, &fakeIndex{})

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err = s.app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.SetBasicAuth("admin", "wrong")
	resp, err = s.app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", resp.StatusCode)
	}
}

func TestParseHtpasswdRejectsNonBcrypt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "htpasswd")
	content := "# comment\nmd5user:$apr1$abcdefgh$123456789\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write htpasswd: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := parseHtpasswd(path, logger); err == nil {
		t.Error("expected error when no bcrypt entries remain")
	}
}
