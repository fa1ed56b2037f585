package engine

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"pattern-scanner/internal/analysis"
	"pattern-scanner/internal/analysis/patterns"
	"pattern-scanner/internal/analysis/stability"
	apperrors "pattern-scanner/internal/errors"
	"pattern-scanner/internal/metrics"
	"pattern-scanner/internal/models"
)

func flatCandles(closes []float64, volume float64) []models.Candle {
	start := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)
	candles := make([]models.Candle, len(closes))
	for i, c := range closes {
		candles[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    volume,
		}
	}
	return candles
}

// vDip builds a flat market at 100 with a dip to 94 around index 60. The last bar
// closes at last on a volume spike.
func vDip(last float64) []models.Candle {
	closes := make([]float64, patterns.DefaultWindowSize)
	for i := range closes {
		closes[i] = 100
	}
	copy(closes[58:63], []float64{98, 96, 94, 96, 98})
	closes[len(closes)-1] = last

	candles := flatCandles(closes, 1000)
	candles[len(candles)-1].Volume = 5000
	return candles
}

func newTestEngine(opts ...Option) *Engine {
	opts = append([]Option{
		WithRandomSource(patterns.NewSeededSource(7)),
		WithMetrics(metrics.New()),
	}, opts...)
	return New(DefaultConfig(), opts...)
}

// stubMatcher returns a fixed ranking.
type stubMatcher struct {
	ranked []analysis.Prediction
	panics bool
}

func (m *stubMatcher) Name() string { return "stub" }

func (m *stubMatcher) Rank(w *analysis.Window) ([]analysis.Prediction, error) {
	if m.panics {
		panic("classifier exploded")
	}
	return m.ranked, nil
}

func TestAnalyze_VDipBreakout(t *testing.T) {
	e := newTestEngine()
	key := models.NewKey("btcusdt", "1M")
	candles := vDip(101)

	var det models.Detection
	for call := 1; call <= 5; call++ {
		var err error
		det, err = e.Analyze(key, candles)
		if err != nil {
			t.Fatalf("call %d: Analyze failed: %v", call, err)
		}
		if det.PatternName != "DOUBLE_BOTTOM" {
			t.Fatalf("call %d: raw detection = %s, want DOUBLE_BOTTOM", call, det.PatternName)
		}
		if call < 5 {
			if det.Name != stability.Placeholder || det.Status != models.StatusAnalyzing {
				t.Fatalf("call %d: got %q/%s before lock", call, det.Name, det.Status)
			}
		}
	}

	if det.Name != "DOUBLE BOTTOM (NEUTRAL)" {
		t.Errorf("name = %q, want %q", det.Name, "DOUBLE BOTTOM (NEUTRAL)")
	}
	if det.Status != models.StatusActiveBreakout {
		t.Errorf("status = %s, want ACTIVE_BREAKOUT", det.Status)
	}
	if !det.IsBullish || !det.VolumeConfirmed {
		t.Errorf("bullish = %v, volume confirmed = %v", det.IsBullish, det.VolumeConfirmed)
	}
	if math.Abs(det.Edges.Neckline-100) > 1e-9 || math.Abs(det.Edges.Support-94) > 1e-9 {
		t.Errorf("edges = %+v, want neckline 100 support 94", det.Edges)
	}
	if math.Abs(det.TargetPrice-105.4) > 1e-9 {
		t.Errorf("target = %v, want 105.4", det.TargetPrice)
	}
	if det.TargetPrice <= det.Edges.Neckline {
		t.Error("bullish target must sit above the neckline")
	}
	if det.Similarity != 52.8 {
		t.Errorf("similarity = %v, want 52.8", det.Similarity)
	}
	if det.CandleSignal != patterns.SignalNeutral {
		t.Errorf("candle signal = %q", det.CandleSignal)
	}
	if det.DeadlineX != 75 {
		t.Errorf("deadline x = %v, want 75", det.DeadlineX)
	}
	path := det.ProjectionPath
	if len(path) != 19 || path[0].Y != 101 || path[len(path)-1].Y != det.TargetPrice {
		t.Errorf("projection path = %+v", path)
	}

	state, ok := e.State(key)
	if !ok || state.Score != 5 || state.LockedPattern != "DOUBLE_BOTTOM" {
		t.Errorf("state = %+v, %v", state, ok)
	}
}

func TestAnalyze_DegenerateWindow(t *testing.T) {
	e := newTestEngine()
	key := models.NewKey("FLAT", "1m")

	closes := make([]float64, 50)
	for i := range closes {
		closes[i] = 250
	}
	det, err := e.Analyze(key, flatCandles(closes, 10))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if det.Name != NameStalled || det.Status != models.StatusLowVolatility {
		t.Errorf("got %q/%s, want %q/LOW_VOLATILITY", det.Name, det.Status, NameStalled)
	}
	if det.TargetPrice != 250 {
		t.Errorf("target = %v, want last close", det.TargetPrice)
	}
	if state, _ := e.State(key); state != (stability.State{}) {
		t.Errorf("state changed on a stalled window: %+v", state)
	}
}

func TestAnalyze_LowVolatility(t *testing.T) {
	e := newTestEngine()
	key := models.NewKey("QUIET", "1m")

	closes := make([]float64, 120)
	for i := range closes {
		closes[i] = 100
		if i%2 == 1 {
			closes[i] = 100.0001
		}
	}
	det, err := e.Analyze(key, flatCandles(closes, 10))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if det.Name != NameLowActivity || det.Status != models.StatusLowVolatility {
		t.Errorf("got %q/%s, want %q/LOW_VOLATILITY", det.Name, det.Status, NameLowActivity)
	}
	if det.Volatility <= 0 || det.Volatility >= DefaultConfig().MinVolatility {
		t.Errorf("volatility = %v", det.Volatility)
	}
	if state, _ := e.State(key); state != (stability.State{}) {
		t.Errorf("state changed on a quiet window: %+v", state)
	}
}

func TestAnalyze_MalformedInputLeavesStateUntouched(t *testing.T) {
	e := newTestEngine()
	key := models.NewKey("ETH", "5m")

	for i := 0; i < 3; i++ {
		if _, err := e.Analyze(key, vDip(101)); err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
	}
	before, _ := e.State(key)

	bad := vDip(101)
	bad[10].Close = math.NaN()
	_, err := e.Analyze(key, bad)

	var verr *apperrors.ValidationError
	if !apperrors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if verr.Field != "ohlc[10].close" {
		t.Errorf("field = %q", verr.Field)
	}
	var eerr *apperrors.EngineError
	if !apperrors.As(err, &eerr) || eerr.Key != key.String() {
		t.Errorf("err = %v, want EngineError for %s", err, key)
	}

	if after, _ := e.State(key); after != before {
		t.Errorf("state changed after failure: %+v -> %+v", before, after)
	}
}

func TestAnalyze_FreshKeyNotTrackedAfterFailedOrSkippedCall(t *testing.T) {
	e := newTestEngine()

	bad := vDip(101)
	bad[10].Close = math.NaN()
	failed := models.NewKey("FRESH", "1m")
	if _, err := e.Analyze(failed, bad); err == nil {
		t.Fatal("expected a validation error")
	}

	stalled := models.NewKey("STALL", "1m")
	if _, err := e.Analyze(stalled, flatCandles([]float64{250, 250, 250}, 10)); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	for _, key := range []models.Key{failed, stalled} {
		if state, ok := e.State(key); ok {
			t.Errorf("%s tracked after an uncommitted call: %+v", key, state)
		}
	}
	if keys := e.Keys(); len(keys) != 0 {
		t.Errorf("Keys() = %v, want none", keys)
	}

	if _, err := e.Analyze(failed, vDip(101)); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if state, ok := e.State(failed); !ok || state.Score != 1 {
		t.Errorf("state after first good call = %+v, %v", state, ok)
	}
}

func TestAnalyze_ConfidenceOverrideReportsAILocked(t *testing.T) {
	m := &stubMatcher{ranked: []analysis.Prediction{
		{Label: "BULLISH_FLAG", Confidence: 0.999, Bias: analysis.Bullish},
	}}
	e := newTestEngine(WithMatcher(m))
	key := models.NewKey("SOL", "15m")

	// Last close below the formation high keeps the bullish breakout WAITING.
	candles := vDip(97)

	det, err := e.Analyze(key, candles)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	state, _ := e.State(key)
	if state.LockedPattern != "BULLISH_FLAG" {
		t.Fatalf("override did not lock on the first call: %+v", state)
	}
	if det.Name != stability.Placeholder {
		t.Errorf("displayed before reaching display stability: %q", det.Name)
	}

	for i := 0; i < 2; i++ {
		det, err = e.Analyze(key, candles)
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
	}
	if det.Name != "BULLISH FLAG (NEUTRAL)" {
		t.Errorf("name = %q", det.Name)
	}
	if det.Status != models.StatusAILocked {
		t.Errorf("status = %s, want AI_LOCKED", det.Status)
	}
	if math.Abs(det.Edges.Neckline-100) > 1e-9 {
		t.Errorf("neckline = %v, want 100", det.Edges.Neckline)
	}
}

func TestAnalyze_NeutralLabelIsNeverDisplayed(t *testing.T) {
	m := &stubMatcher{ranked: []analysis.Prediction{
		{Label: analysis.NeutralLabel, Confidence: 0.999, Bias: analysis.Bullish},
	}}
	e := newTestEngine(WithMatcher(m))
	key := models.NewKey("ADA", "1h")

	var det models.Detection
	for i := 0; i < 6; i++ {
		var err error
		if det, err = e.Analyze(key, vDip(101)); err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
	}
	if det.Name != stability.Placeholder || det.Status != models.StatusAnalyzing {
		t.Errorf("got %q/%s, want placeholder", det.Name, det.Status)
	}
}

func TestAnalyze_RecoversFromPanics(t *testing.T) {
	e := newTestEngine(WithMatcher(&stubMatcher{panics: true}))
	key := models.NewKey("XRP", "1m")

	_, err := e.Analyze(key, vDip(101))
	if !apperrors.Is(err, apperrors.ErrInternal) {
		t.Fatalf("err = %v, want ErrInternal", err)
	}
	var eerr *apperrors.EngineError
	if !apperrors.As(err, &eerr) || eerr.Stage != stageMatch {
		t.Errorf("err = %v, want match stage", err)
	}
	if state, _ := e.State(key); state != (stability.State{}) {
		t.Errorf("state changed after panic: %+v", state)
	}
}

func TestAnalyze_IndependentKeys(t *testing.T) {
	e := newTestEngine()
	const calls = 4

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := models.NewKey(fmt.Sprintf("SYM%d", i), "1m")
			for j := 0; j < calls; j++ {
				if _, err := e.Analyze(key, vDip(101)); err != nil {
					t.Errorf("Analyze(%s) failed: %v", key, err)
				}
			}
		}(i)
	}
	wg.Wait()

	if len(e.Keys()) != 6 {
		t.Fatalf("tracked %d keys, want 6", len(e.Keys()))
	}
	for _, k := range e.Keys() {
		state, _ := e.states.Get(k)
		if state.Score != calls {
			t.Errorf("%s score = %d, want %d", k, state.Score, calls)
		}
	}

	if !e.Clear(models.NewKey("SYM0", "1m")) {
		t.Error("Clear returned false for a tracked key")
	}
	if _, ok := e.State(models.NewKey("SYM0", "1m")); ok {
		t.Error("state survived Clear")
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName("HEAD_AND_SHOULDERS_TOP", "SHOOTING STAR"); got != "HEAD AND SHOULDERS TOP (SHOOTING STAR)" {
		t.Errorf("DisplayName = %q", got)
	}
	if got := DisplayName("DOUBLE_TOP", ""); got != "DOUBLE TOP" {
		t.Errorf("DisplayName without signal = %q", got)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.DetectionEvent
}

func (p *recordingPublisher) Publish(ev models.DetectionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func TestAnalyze_PublishesEvents(t *testing.T) {
	pub := &recordingPublisher{}
	e := newTestEngine(WithPublisher(pub))
	key := models.NewKey("btcusdt", "1m")

	for i := 0; i < 5; i++ {
		if _, err := e.Analyze(key, vDip(101)); err != nil {
			t.Fatal(err)
		}
	}
	bad := vDip(101)
	bad[3].Close = math.NaN()
	if _, err := e.Analyze(key, bad); err == nil {
		t.Fatal("expected error for a NaN close")
	}

	if len(pub.events) != 5 {
		t.Fatalf("events = %d, want 5", len(pub.events))
	}
	changes := 0
	for i, ev := range pub.events {
		if ev.Key != "BTCUSDT:1m" || ev.Stability != i+1 {
			t.Errorf("event %d = %s stability %d", i, ev.Key, ev.Stability)
		}
		if ev.LockChanged {
			changes++
		}
	}
	last := pub.events[4]
	if changes != 1 || last.LockedPattern != "DOUBLE_BOTTOM" {
		t.Errorf("lock changes = %d, locked %q", changes, last.LockedPattern)
	}
	if last.Detection.Status != models.StatusActiveBreakout {
		t.Errorf("last status = %s", last.Detection.Status)
	}
}
