package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pattern-scanner/internal/analysis/patterns"
	"pattern-scanner/internal/config"
	"pattern-scanner/internal/engine"
	"pattern-scanner/internal/metrics"
	"pattern-scanner/internal/models"
	"pattern-scanner/internal/resilience"
	"pattern-scanner/internal/store"
)

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// vDipInputs builds a flat market at 100 with a dip to 94 and a breakout bar at 101.
func vDipInputs() []models.CandleInput {
	closes := make([]float64, patterns.DefaultWindowSize)
	for i := range closes {
		closes[i] = 100
	}
	copy(closes[58:63], []float64{98, 96, 94, 96, 98})
	closes[len(closes)-1] = 101

	start := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC).UnixMilli()
	out := make([]models.CandleInput, len(closes))
	for i, c := range closes {
		c := c
		ts := start + int64(i)*60_000
		vol := 1000.0
		if i == len(closes)-1 {
			vol = 5000
		}
		out[i] = models.CandleInput{Timestamp: &ts, Open: &c, High: &c, Low: &c, Close: &c, V: &vol}
	}
	return out
}

func newTestServer(t *testing.T, source store.CandleSource) (*Server, *engine.Engine) {
	t.Helper()
	eng := engine.New(engine.DefaultConfig(), engine.WithRandomSource(patterns.NewSeededSource(7)))
	cfg := config.Default().Server
	h := NewHandler(eng, source, patterns.DefaultWindowSize)
	return New(h, cfg, metrics.New(), zerolog.Nop()), eng
}

func do(t *testing.T, s *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decoding response: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, env
}

func TestAnalyzeStructure(t *testing.T) {
	s, eng := newTestServer(t, nil)
	body := models.AnalyzeRequest{Symbol: "btcusdt", Timeframe: "1m", OHLC: vDipInputs()}

	var det models.Detection
	for call := 1; call <= 5; call++ {
		rec, env := do(t, s, http.MethodPost, "/analyze-structure", body)
		if rec.Code != http.StatusOK || env.Status != http.StatusOK {
			t.Fatalf("call %d: status %d: %s", call, rec.Code, rec.Body.String())
		}
		if err := json.Unmarshal(env.Data, &det); err != nil {
			t.Fatal(err)
		}
	}

	if det.Name != "DOUBLE BOTTOM (NEUTRAL)" || det.Status != models.StatusActiveBreakout {
		t.Errorf("detection = %q/%s", det.Name, det.Status)
	}
	if !det.VolumeConfirmed {
		t.Error("volume given under \"v\" was not used")
	}
	if _, ok := eng.State(models.NewKey("BTCUSDT", "1m")); !ok {
		t.Error("state not stored under the normalized key")
	}
}

func TestAnalyzeStructure_DefaultsKey(t *testing.T) {
	s, eng := newTestServer(t, nil)

	rec, _ := do(t, s, http.MethodPost, "/analyze-structure", map[string]interface{}{"ohlc": vDipInputs()})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := eng.State(models.NewKey("DEFAULT", "1m")); !ok {
		t.Error("request without symbol did not use DEFAULT:1m")
	}
}

func TestAnalyzeStructure_ValidationErrors(t *testing.T) {
	s, _ := newTestServer(t, nil)

	tests := []struct {
		name      string
		body      interface{}
		wantField string
	}{
		{
			name:      "missing ohlc",
			body:      map[string]interface{}{"symbol": "BTC"},
			wantField: "ohlc",
		},
		{
			name: "missing close",
			body: map[string]interface{}{"ohlc": []map[string]float64{
				{"open": 1, "high": 1, "low": 1, "close": 1},
				{"open": 1, "high": 1, "low": 1},
			}},
			wantField: "ohlc[1].close",
		},
		{
			name: "negative volume",
			body: map[string]interface{}{"ohlc": []map[string]float64{
				{"open": 1, "high": 1, "low": 1, "close": 1, "volume": -5},
			}},
			wantField: "ohlc[0].volume",
		},
		{
			name: "bad timeframe",
			body: map[string]interface{}{"timeframe": "xx", "ohlc": []map[string]float64{
				{"open": 1, "high": 1, "low": 1, "close": 1},
			}},
			wantField: "timeframe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, s, http.MethodPost, "/analyze-structure", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
			var errs []ValidationError
			if err := json.Unmarshal(env.Data, &errs); err != nil {
				t.Fatal(err)
			}
			if len(errs) == 0 || errs[0].Field != tt.wantField {
				t.Errorf("errors = %+v, want field %q", errs, tt.wantField)
			}
		})
	}
}

func TestAnalyzeStructure_StalledWindow(t *testing.T) {
	s, eng := newTestServer(t, nil)
	one := 100.0
	body := map[string]interface{}{"symbol": "FLAT", "ohlc": []models.CandleInput{{Open: &one, High: &one, Low: &one, Close: &one}}}

	rec, env := do(t, s, http.MethodPost, "/analyze-structure", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var det models.Detection
	if err := json.Unmarshal(env.Data, &det); err != nil {
		t.Fatal(err)
	}
	if det.Name != engine.NameStalled || det.Status != models.StatusLowVolatility {
		t.Errorf("detection = %q/%s", det.Name, det.Status)
	}
	if st, ok := eng.State(models.NewKey("FLAT", "1m")); ok {
		t.Errorf("stalled window created state: %+v", st)
	}
	if rec, _ := do(t, s, http.MethodGet, "/state/FLAT/1m", nil); rec.Code != http.StatusNotFound {
		t.Errorf("GET /state after a stalled window: status %d, want 404", rec.Code)
	}
}

func TestStateEndpoints(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec, _ := do(t, s, http.MethodGet, "/state/BTC/1m", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown key: status %d, want 404", rec.Code)
	}

	do(t, s, http.MethodPost, "/analyze-structure", models.AnalyzeRequest{Symbol: "BTC", Timeframe: "1m", OHLC: vDipInputs()})

	rec, env := do(t, s, http.MethodGet, "/state/btc/1m", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var st StateResponse
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatal(err)
	}
	if st.Key != "BTC:1m" || st.LastPattern != "DOUBLE_BOTTOM" || st.Score != 1 {
		t.Errorf("state = %+v", st)
	}

	if rec, _ := do(t, s, http.MethodDelete, "/state/BTC/1m", nil); rec.Code != http.StatusOK {
		t.Errorf("delete: status %d", rec.Code)
	}
	if rec, _ := do(t, s, http.MethodDelete, "/state/BTC/1m", nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: status %d, want 404", rec.Code)
	}
	if rec, _ := do(t, s, http.MethodDelete, "/state/BTC;DROP/1m", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad symbol: status %d, want 400", rec.Code)
	}
}

func TestAnalyzeStored(t *testing.T) {
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "candles.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	req := models.AnalyzeRequest{OHLC: vDipInputs()}
	if err := db.SaveCandles(context.Background(), "BTC", "1m", req.Candles()); err != nil {
		t.Fatal(err)
	}

	s, _ := newTestServer(t, db)

	rec, env := do(t, s, http.MethodGet, "/analyze/BTC/1m", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var det models.Detection
	if err := json.Unmarshal(env.Data, &det); err != nil {
		t.Fatal(err)
	}
	if det.PatternName != "DOUBLE_BOTTOM" {
		t.Errorf("PatternName = %q", det.PatternName)
	}

	if rec, _ := do(t, s, http.MethodGet, "/analyze/ETH/1m", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing series: status %d, want 404", rec.Code)
	}
}

func TestAnalyzeStored_NoStore(t *testing.T) {
	s, _ := newTestServer(t, nil)
	if rec, _ := do(t, s, http.MethodGet, "/analyze/BTC/1m", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", rec.Code)
	}
}

func TestTemplatesAndHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec, env := do(t, s, http.MethodGet, "/templates", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var templates []TemplateResponse
	if err := json.Unmarshal(env.Data, &templates); err != nil {
		t.Fatal(err)
	}
	if len(templates) != len(patterns.DefaultTemplates()) || templates[0].Name != "DOUBLE_BOTTOM" {
		t.Errorf("templates = %d, first %q", len(templates), templates[0].Name)
	}

	rec, _ = do(t, s, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	do(t, s, http.MethodGet, "/healthz", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Error("request counter not exported")
	}
}

func TestHealth_UnhealthyComponent(t *testing.T) {
	eng := engine.New(engine.DefaultConfig())
	h := NewHandler(eng, nil, patterns.DefaultWindowSize)
	h.RegisterHealthCheck("database", resilience.DatabaseHealthCheck(func(ctx context.Context) error {
		return errors.New("disk gone")
	}))
	s := New(h, config.Default().Server, nil, zerolog.Nop())

	rec, _ := do(t, s, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
