package server_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/vocalytics/internal/config"
	"github.com/wesm/vocalytics/internal/db"
	"github.com/wesm/vocalytics/internal/metrics"
	"github.com/wesm/vocalytics/internal/server"
)

// testEnv sets up a server with a temporary database.
type testEnv struct {
	srv     *server.Server
	handler http.Handler
	db      *db.DB
	metrics *metrics.Manager
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	m := metrics.NewManager()
	database, err := db.Open(context.Background(), config.StoreConfig{
		Driver:     config.DriverSQLite,
		Path:       filepath.Join(t.TempDir(), "test.db"),
		InitSchema: true,
	}, db.WithMetrics(m))
	require.NoError(t, err, "opening db")
	t.Cleanup(func() { database.Close() })

	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.RequestTimeout = 5 * time.Second
	srv := server.New(cfg, database,
		server.WithMetrics(m),
		server.WithVersion(server.VersionInfo{Version: "test"}),
	)
	return &testEnv{
		srv: srv, handler: srv.Handler(), db: database, metrics: m,
	}
}

func (te *testEnv) exec(t *testing.T, query string, args ...any) {
	t.Helper()
	err := te.db.Update(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec(query, args...)
		return err
	})
	require.NoError(t, err, query)
}

// seed loads agent A1 under supervisor S1 with three calls
// analyzed today and one escalation, and agent A2 with no calls.
func (te *testEnv) seed(t *testing.T) {
	t.Helper()
	te.exec(t, `INSERT INTO users (user_id, name, supervisor_id) VALUES
		('S1', 'Sue', NULL), ('A1', 'Alice', 'S1'), ('A2', 'Bob', 'S1')`)
	te.exec(t, `INSERT INTO calls (call_id, user_id, duration_sec, language) VALUES
		('c1', 'A1', 60, 'en'), ('c2', 'A1', 90, 'en'), ('c3', 'A1', 30, 'es')`)
	te.exec(t, `INSERT INTO call_sentiments
		(call_id, overall_sentiment, sentiment_score, conversation_tags, analyzed_at) VALUES
		('c1', 'positive', 0.9, '["billing"]', datetime('now', 'start of day', '+3 seconds')),
		('c2', 'neutral', 0.5, '["billing","refund"]', datetime('now', 'start of day', '+2 seconds')),
		('c3', 'negative', 0.1, '["refund"]', datetime('now', 'start of day', '+1 seconds'))`)
	te.exec(t, `INSERT INTO escalations
		(escalation_id, call_id, agent_id, supervisor_id, escalation_reason,
		 possible_action, created_at, status) VALUES
		('e1', 'c3', 'A1', 'S1', 'rude', 'coach', datetime('now'), 'Open')`)
	te.exec(t, `INSERT INTO agents_ai_insights
		(user_id, strengths, area_of_improvement, action_items) VALUES
		('A1', '["empathy"]', 'pacing', '{"next":"shadow a senior"}')`)
	te.exec(t, `INSERT INTO leaderboard
		(user_name, total_calls, positive_calls, negative_calls, performance_score, "rank") VALUES
		('Alice', 3, 1, 1, 0.5, 1)`)
}

func (te *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	te.handler.ServeHTTP(w, req)
	return w
}

// getJSON fetches path, requires 200 and returns the raw body.
func (te *testEnv) getJSON(t *testing.T, path string) string {
	t.Helper()
	w := te.get(t, path)
	require.Equal(t, http.StatusOK, w.Code, "GET %s: %s", path, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	return w.Body.String()
}

var agentPaths = []string{
	"/api/weekly-volume/%s",
	"/api/performance-score/%s",
	"/api/leaderboard-rank/%s",
	"/api/sentiment-distribution/%s",
	"/api/calls-by-tag/%s",
	"/api/recent-escalations/%s",
	"/api/recent-calls/%s",
	"/api/calls-today/%s",
	"/api/agent-insights/%s",
}

var supervisorPaths = []string{
	"/api/supervisor/calls-today/%s",
	"/api/supervisor/weekly-volume/%s",
	"/api/supervisor/monthly-escalations/%s",
	"/api/supervisor/agent-performance/%s",
	"/api/supervisor/tag-sentiment-heatmap/%s",
	"/api/supervisor/team-sentiment/%s",
	"/api/supervisor/escalations/%s",
}

var globalPaths = []string{
	"/api/supervisor/leaderboard",
	"/api/supervisor/learderboad",
	"/api/supervisor/compare-agents?agent1=A1&agent2=A2",
	"/api/call-count-by-tag",
	"/api/escalation-by-tag",
}

func allPaths(agent, supervisor string) []string {
	var out []string
	for _, p := range agentPaths {
		out = append(out, strings.Replace(p, "%s", agent, 1))
	}
	for _, p := range supervisorPaths {
		out = append(out, strings.Replace(p, "%s", supervisor, 1))
	}
	return append(out, globalPaths...)
}

func TestAgentEndpoints(t *testing.T) {
	te := setup(t)
	te.seed(t)

	var week []map[string]any
	require.NoError(t, json.Unmarshal(
		[]byte(te.getJSON(t, "/api/weekly-volume/A1")), &week))
	require.Len(t, week, 1)
	assert.Equal(t, 3.0, week[0]["count"])

	assert.JSONEq(t, `{"score":0.5}`,
		te.getJSON(t, "/api/performance-score/A1"))
	assert.JSONEq(t, `{"rank":1}`,
		te.getJSON(t, "/api/leaderboard-rank/A1"))
	assert.JSONEq(t, `{"sentiment":[
		{"overall_sentiment":"negative","count":1},
		{"overall_sentiment":"neutral","count":1},
		{"overall_sentiment":"positive","count":1}]}`,
		te.getJSON(t, "/api/sentiment-distribution/A1"))
	assert.JSONEq(t, `{"calls":[
		{"tag":"billing","count":2},{"tag":"refund","count":2}]}`,
		te.getJSON(t, "/api/calls-by-tag/A1"))
	assert.JSONEq(t, `{"count":3}`,
		te.getJSON(t, "/api/calls-today/A1"))
	assert.JSONEq(t, `{"insights":[{"user_id":"A1","strengths":["empathy"],
		"area_of_improvement":"pacing","action_items":{"next":"shadow a senior"}}]}`,
		te.getJSON(t, "/api/agent-insights/A1"))

	var esc struct {
		Escalations []map[string]any `json:"escalations"`
	}
	require.NoError(t, json.Unmarshal(
		[]byte(te.getJSON(t, "/api/recent-escalations/A1")), &esc))
	require.Len(t, esc.Escalations, 1)
	assert.Equal(t, "c3", esc.Escalations[0]["call_id"])
	assert.Equal(t, "rude", esc.Escalations[0]["escalation_reason"])
	assert.Contains(t, esc.Escalations[0], "created_at")

	var calls struct {
		Calls []map[string]any `json:"calls"`
	}
	require.NoError(t, json.Unmarshal(
		[]byte(te.getJSON(t, "/api/recent-calls/A1")), &calls))
	require.Len(t, calls.Calls, 3)
	assert.Equal(t, "c1", calls.Calls[0]["call_id"])
	for _, k := range []string{
		"duration_sec", "language", "overall_sentiment", "analyzed_at",
	} {
		assert.Contains(t, calls.Calls[0], k)
	}
}

func TestAgentWithoutCalls(t *testing.T) {
	te := setup(t)
	te.seed(t)

	want := map[string]string{
		"/api/weekly-volume/A2":          `[]`,
		"/api/performance-score/A2":      `{"score":null}`,
		"/api/leaderboard-rank/A2":       `{"rank":null}`,
		"/api/sentiment-distribution/A2": `{"sentiment":[]}`,
		"/api/calls-by-tag/A2":           `{"calls":[]}`,
		"/api/recent-escalations/A2":     `{"escalations":[]}`,
		"/api/recent-calls/A2":           `{"calls":[]}`,
		"/api/calls-today/A2":            `{"count":0}`,
		"/api/agent-insights/A2":         `{"insights":[]}`,
	}
	for path, body := range want {
		t.Run(path, func(t *testing.T) {
			assert.JSONEq(t, body, te.getJSON(t, path))
		})
	}
}

func TestSupervisorEndpoints(t *testing.T) {
	te := setup(t)
	te.seed(t)

	assert.JSONEq(t, `{"count":3}`,
		te.getJSON(t, "/api/supervisor/calls-today/S1"))
	assert.JSONEq(t, `{"count":3}`,
		te.getJSON(t, "/api/supervisor/weekly-volume/S1"))
	assert.JSONEq(t, `{"count":1}`,
		te.getJSON(t, "/api/supervisor/monthly-escalations/S1"))
	assert.JSONEq(t, `[{"name":"Alice","total_calls":3,
		"positive_calls":1,"negative_calls":1}]`,
		te.getJSON(t, "/api/supervisor/agent-performance/S1"))
	assert.JSONEq(t, `[
		{"overall_sentiment":"negative","count":1},
		{"overall_sentiment":"neutral","count":1},
		{"overall_sentiment":"positive","count":1}]`,
		te.getJSON(t, "/api/supervisor/team-sentiment/S1"))
	assert.JSONEq(t, `[{"call_id":"c3","agent_id":"A1",
		"escalation_reason":"rude","possible_action":"coach",
		"escalation_id":"e1","status":"Open","name":"Alice",
		"status_display":"Open today"}]`,
		te.getJSON(t, "/api/supervisor/escalations/S1"))

	var heat []map[string]any
	require.NoError(t, json.Unmarshal([]byte(
		te.getJSON(t, "/api/supervisor/tag-sentiment-heatmap/S1")), &heat))
	assert.Len(t, heat, 4)

	assert.JSONEq(t, `[]`,
		te.getJSON(t, "/api/supervisor/agent-performance/nobody"))
}

func TestGlobalEndpoints(t *testing.T) {
	te := setup(t)
	te.seed(t)

	board := `[{"name":"Alice","positive_calls":1,"negative_calls":1,
		"rank":1,"performance_score":0.5}]`
	assert.JSONEq(t, board, te.getJSON(t, "/api/supervisor/leaderboard"))
	assert.JSONEq(t, board, te.getJSON(t, "/api/supervisor/learderboad"))

	var cmp []map[string]any
	require.NoError(t, json.Unmarshal([]byte(te.getJSON(t,
		"/api/supervisor/compare-agents?agent1=A1&agent2=A2")), &cmp))
	require.Len(t, cmp, 1)
	assert.Equal(t, "Alice", cmp[0]["name"])
	assert.Equal(t, 3.0, cmp[0]["call_count"])

	assert.JSONEq(t, `[]`,
		te.getJSON(t, "/api/supervisor/compare-agents"))
	assert.JSONEq(t, `[{"tag":"billing","count":2},{"tag":"refund","count":2}]`,
		te.getJSON(t, "/api/call-count-by-tag"))
	assert.JSONEq(t, `[{"tag":"refund","count":1}]`,
		te.getJSON(t, "/api/escalation-by-tag"))
}

func TestStoreUnreachable(t *testing.T) {
	te := setup(t)
	te.seed(t)
	require.NoError(t, te.db.Close())

	for _, path := range allPaths("A1", "S1") {
		t.Run(path, func(t *testing.T) {
			w := te.get(t, path)
			assert.Equal(t, http.StatusInternalServerError, w.Code)
			assert.Equal(t, "Server error", w.Body.String())
			assert.True(t, strings.HasPrefix(
				w.Header().Get("Content-Type"), "text/plain"))
		})
	}
}

func TestHealth(t *testing.T) {
	te := setup(t)
	assert.JSONEq(t, `{"status":"ok"}`, te.getJSON(t, "/healthz"))

	require.NoError(t, te.db.Close())
	w := te.get(t, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "Server error", w.Body.String())
}

func TestVersion(t *testing.T) {
	te := setup(t)
	assert.JSONEq(t, `{"version":"test","commit":"","build_date":""}`,
		te.getJSON(t, "/api/version"))
}

func TestCORS(t *testing.T) {
	te := setup(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/weekly-volume/A1", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	w := httptest.NewRecorder()
	te.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = te.get(t, "/api/weekly-volume/A1")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = te.get(t, "/healthz")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflightIsCounted(t *testing.T) {
	te := setup(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/weekly-volume/A1", nil)
	req.Header.Set("X-Request-ID", "preflight-1")
	w := httptest.NewRecorder()
	te.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "preflight-1", w.Header().Get("X-Request-ID"))

	w = te.get(t, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(),
		`vocalytics_http_requests_total{endpoint="preflight",method="OPTIONS",status_code="204"} 1`)
}

func TestRequestID(t *testing.T) {
	te := setup(t)

	w := te.get(t, "/api/weekly-volume/A1")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/weekly-volume/A1", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	te.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestUnknownRoute(t *testing.T) {
	te := setup(t)
	assert.Equal(t, http.StatusNotFound, te.get(t, "/api/nope").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/weekly-volume/A1", nil)
		w := httptest.NewRecorder()
		te.handler.ServeHTTP(w, req)
		return w.Code
	}())
}

func TestMetricsEndpoint(t *testing.T) {
	te := setup(t)
	te.seed(t)
	te.getJSON(t, "/api/weekly-volume/A1")

	w := te.get(t, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text,
		`vocalytics_http_requests_total{endpoint="GET /api/weekly-volume/{agentId}",method="GET",status_code="200"} 1`)
	assert.Contains(t, text, `vocalytics_store_query_duration_seconds_count{query="weekly_volume"} 1`)
	assert.NotContains(t, text, `A1`)
}

func TestListenAndServeShutdown(t *testing.T) {
	te := setup(t)
	te.srv.SetPort(0)

	errCh := make(chan error, 1)
	go func() { errCh <- te.srv.ListenAndServe() }()

	// Shutdown may race the listener start; retry until the
	// server has been created.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := te.srv.Shutdown(ctx)
		cancel()
		require.NoError(t, err)
		select {
		case err := <-errCh:
			assert.NoError(t, err)
			return
		default:
		}
	}
	t.Fatal("server did not stop")
}
