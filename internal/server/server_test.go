package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MiracleAig/IoT-WebUI/internal/config"
	"github.com/MiracleAig/IoT-WebUI/internal/database"
	"github.com/MiracleAig/IoT-WebUI/internal/events"
	"github.com/MiracleAig/IoT-WebUI/internal/metrics"
	"github.com/MiracleAig/IoT-WebUI/internal/models"
	"github.com/MiracleAig/IoT-WebUI/internal/service"
	"github.com/MiracleAig/IoT-WebUI/internal/source"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

const testBarJSON = `{"product":{
	"product_name": "Test Bar",
	"image_front_url": "https://images.off/front.jpg",
	"nutriments": {"energy-kcal_100g": 200, "proteins_100g": 5, "carbohydrates_100g": 20, "fat_100g": 8}
}}`

type testEnv struct {
	server      *Server
	db          *database.SQLiteDB
	broadcaster *events.Broadcaster
	offCalls    *atomic.Int32
}

func newTestEnv(t *testing.T, stream config.StreamConfig) *testEnv {
	t.Helper()

	offCalls := &atomic.Int32{}
	off := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offCalls.Add(1)
		if r.URL.Path == "/api/v2/product/012345" {
			_, _ = w.Write([]byte(testBarJSON))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(off.Close)

	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "nutrition.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m := metrics.New()
	b := events.New(events.WithMetrics(m))
	src := source.NewOpenFoodFacts(off.URL, &http.Client{Timeout: 2 * time.Second}, "test")
	resolver := service.NewProductResolver(db, src, nil, m)

	srv := New(
		config.ServerConfig{
			Host:             "127.0.0.1",
			Port:             "0",
			ShutdownTimeout:  time.Second,
			CORSAllowOrigins: []string{"*"},
		},
		stream,
		Deps{
			Resolver:    resolver,
			Recorder:    service.NewScanRecorder(db, resolver, b, nil, m),
			Summarizer:  service.NewAggregator(db),
			Health:      db,
			Broadcaster: b,
			Metrics:     m,
		},
	)
	return &testEnv{server: srv, db: db, broadcaster: b, offCalls: offCalls}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, config.StreamConfig{})

	w, body := env.do(t, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])
	_, err := time.Parse(models.TimestampLayout, body["time"].(string))
	assert.NoError(t, err)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestScanThenProduct_UsesCache(t *testing.T) {
	env := newTestEnv(t, config.StreamConfig{})

	w, body := env.do(t, http.MethodPost, "/api/scan", `{"barcode":"012345"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "012345", body["barcode"])
	assert.NotZero(t, body["id"])
	assert.NotEmpty(t, body["ts"])
	assert.Equal(t, int32(1), env.offCalls.Load())

	w, body = env.do(t, http.MethodGet, "/api/scans", "")
	require.Equal(t, http.StatusOK, w.Code)
	rows := body["rows"].([]any)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	assert.Equal(t, "Test Bar", row["name"])
	assert.Equal(t, 200.0, row["calories"])
	assert.Equal(t, 5.0, row["protein"])
	assert.Equal(t, 20.0, row["carbs"])
	assert.Equal(t, 8.0, row["fat"])
	assert.Equal(t, "https://images.off/front.jpg", row["image_url"])

	w, body = env.do(t, http.MethodGet, "/api/product/012345", "")
	require.Equal(t, http.StatusOK, w.Code)
	product := body["product"].(map[string]any)
	assert.Equal(t, "Test Bar", product["name"])
	assert.Equal(t, 200.0, product["calories"])
	assert.Equal(t, "openfoodfacts", product["source"])
	assert.Equal(t, int32(1), env.offCalls.Load(), "second resolution must come from the cache")
}

func TestProduct_NotFound(t *testing.T) {
	env := newTestEnv(t, config.StreamConfig{})

	w, body := env.do(t, http.MethodGet, "/api/product/999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, map[string]any{"ok": false, "error": "not found"}, body)

	// Misses are not cached.
	env.do(t, http.MethodGet, "/api/product/999", "")
	assert.Equal(t, int32(2), env.offCalls.Load())
}

func TestProduct_BlankBarcode(t *testing.T) {
	env := newTestEnv(t, config.StreamConfig{})

	w, body := env.do(t, http.MethodGet, "/api/product/%20%20", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "barcode is required", body["error"])
	assert.Zero(t, env.offCalls.Load())
}

func TestScan_Validation(t *testing.T) {
	env := newTestEnv(t, config.StreamConfig{})

	testCases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "missing barcode", body: `{}`, wantErr: "barcode is required"},
		{name: "blank barcode", body: `{"barcode":"   "}`, wantErr: "barcode is required"},
		{name: "null barcode", body: `{"barcode":null}`, wantErr: "barcode is required"},
		{name: "not json", body: `barcode=1`, wantErr: "invalid JSON body"},
		{name: "array", body: `[1,2]`, wantErr: "invalid JSON body"},
		{name: "empty body", body: ``, wantErr: "invalid JSON body"},
		{name: "string calories", body: `{"barcode":"1","calories":"12"}`, wantErr: "invalid JSON body"},
		{name: "numeric name", body: `{"barcode":"1","name":5}`, wantErr: "invalid JSON body"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w, body := env.do(t, http.MethodPost, "/api/scan", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, false, body["ok"])
			assert.Equal(t, tc.wantErr, body["error"])
		})
	}

	rows, err := env.db.ListScans(context.Background(), models.ScanFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestScan_NumericBarcodeAndPartialFields(t *testing.T) {
	env := newTestEnv(t, config.StreamConfig{})

	w, body := env.do(t, http.MethodPost, "/api/scan", `{"barcode": 4006381333931, "calories": 12.5}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "4006381333931", body["barcode"])
	assert.Zero(t, env.offCalls.Load(), "partial input never auto-fills")

	rows, err := env.db.ListScans(context.Background(), models.ScanFilter{Barcode: "4006381333931"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 12.5, *rows[0].Calories)
	assert.Nil(t, rows[0].Name)
}

func TestScans_DateFilter(t *testing.T) {
	env := newTestEnv(t, config.StreamConfig{})
	ctx := context.Background()

	for _, rec := range []*models.ScanRecord{
		{Timestamp: "2024-01-01T08:00:00.000000Z", Barcode: "a"},
		{Timestamp: "2024-01-01T20:00:00.000000Z", Barcode: "b"},
		{Timestamp: "2024-01-02T00:00:00.000000Z", Barcode: "c"},
	} {
		require.NoError(t, env.db.InsertScan(ctx, rec))
	}

	w, body := env.do(t, http.MethodGet, "/api/scans?date=2024-01-01", "")
	require.Equal(t, http.StatusOK, w.Code)
	rows := body["rows"].([]any)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0].(map[string]any)["barcode"])
	assert.Equal(t, "a", rows[1].(map[string]any)["barcode"])

	_, body = env.do(t, http.MethodGet, "/api/scans?date=2023-12-31", "")
	assert.Equal(t, []any{}, body["rows"])

	_, body = env.do(t, http.MethodGet, "/api/scans?barcode=c", "")
	assert.Len(t, body["rows"], 1)

	w, _ = env.do(t, http.MethodGet, "/api/scans?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSummary(t *testing.T) {
	env := newTestEnv(t, config.StreamConfig{})

	env.do(t, http.MethodPost, "/api/scan", `{"barcode":"x","calories":100,"protein":4}`)
	env.do(t, http.MethodPost, "/api/scan", `{"barcode":"y","calories":50.5,"fat":2}`)

	w, body := env.do(t, http.MethodGet, "/api/summary/today", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, time.Now().UTC().Format(models.DateLayout), body["date"])
	assert.Equal(t, 150.5, body["calories"])
	assert.Equal(t, 4.0, body["protein"])
	assert.Equal(t, 0.0, body["carbs"])
	assert.Equal(t, 2.0, body["fat"])
	assert.Equal(t, 2.0, body["scans"])

	_, body = env.do(t, http.MethodGet, "/api/summary?date=1999-01-01", "")
	assert.Equal(t, map[string]any{
		"ok": true, "date": "1999-01-01",
		"calories": 0.0, "protein": 0.0, "carbs": 0.0, "fat": 0.0, "scans": 0.0,
	}, body)
}

func TestHealthAndStorageFailure(t *testing.T) {
	env := newTestEnv(t, config.StreamConfig{})

	w, _ := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	require.NoError(t, env.db.Close())

	w, _ = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, body := env.do(t, http.MethodPost, "/api/scan", `{"barcode":"x","name":"n"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, map[string]any{"ok": false, "error": "internal error"}, body)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, config.StreamConfig{})

	req := httptest.NewRequest(http.MethodOptions, "/api/scan", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestCORS_AllowList(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"http://allowed.local/"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	for origin, want := range map[string]string{
		"http://allowed.local": "http://allowed.local",
		"http://evil.local":    "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Header().Get("Access-Control-Allow-Origin"), origin)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, config.StreamConfig{})
	env.do(t, http.MethodPost, "/api/scan", `{"barcode":"012345"}`)

	w, _ := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `nutrition_scans_recorded_total{autofilled="true"} 1`)
	assert.Contains(t, w.Body.String(), `nutrition_product_lookups_total{outcome="resolved"} 1`)
}

func openStream(t *testing.T, ts *httptest.Server) (*bufio.Reader, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return bufio.NewReader(resp.Body), cancel
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(line, "\n")
}

func TestStream_DeliversScanEvents(t *testing.T) {
	env := newTestEnv(t, config.StreamConfig{})
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	r, cancel := openStream(t, ts)
	defer cancel()
	require.Eventually(t, func() bool { return env.broadcaster.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(ts.URL+"/api/scan", "application/json", strings.NewReader(`{"barcode":"012345"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, `data: {"barcode":"012345"}`, readLine(t, r))
	assert.Equal(t, "", readLine(t, r))

	cancel()
	assert.Eventually(t, func() bool { return env.broadcaster.Count() == 0 }, 2*time.Second, 10*time.Millisecond,
		"disconnecting removes the subscriber")
}

func TestStream_Keepalive(t *testing.T) {
	env := newTestEnv(t, config.StreamConfig{Keepalive: 20 * time.Millisecond})
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	r, cancel := openStream(t, ts)
	defer cancel()

	assert.Equal(t, ": keepalive", readLine(t, r))
	assert.Equal(t, "", readLine(t, r))
}

func TestWebSocket_DeliversScanEvents(t *testing.T) {
	env := newTestEnv(t, config.StreamConfig{})
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.broadcaster.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(ts.URL+"/api/scan", "application/json", strings.NewReader(`{"barcode":"777","name":"Water"}`))
	require.NoError(t, err)
	resp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "scan", msg.Type)
	assert.Equal(t, "777", msg.Data.Barcode)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return env.broadcaster.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStart_GracefulShutdown(t *testing.T) {
	env := newTestEnv(t, config.StreamConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
