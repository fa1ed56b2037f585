package patterns

import (
	"math"
	"testing"
	"time"

	"pattern-scanner/internal/analysis"
	apperrors "pattern-scanner/internal/errors"
	"pattern-scanner/internal/models"
)

// flatCandles returns candles with open=high=low=close for each close.
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

// vDipCloses is a flat market at 100 with a dip to 94 around index 60 and a close
// above the range on the last bar.
func vDipCloses() []float64 {
	closes := make([]float64, DefaultWindowSize)
	for i := range closes {
		closes[i] = 100
	}
	copy(closes[58:63], []float64{98, 96, 94, 96, 98})
	closes[len(closes)-1] = 101
	return closes
}

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestNormalize_PadsOnTheLeft(t *testing.T) {
	n := NewWindowNormalizer(DefaultWindowSize)
	candles := flatCandles([]float64{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}, 100)

	w, err := n.Normalize(candles)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if w.Len() != DefaultWindowSize {
		t.Fatalf("window length = %d, want %d", w.Len(), DefaultWindowSize)
	}
	if w.Samples != len(candles) {
		t.Errorf("samples = %d, want %d", w.Samples, len(candles))
	}
	for i := 0; i < DefaultWindowSize-len(candles); i++ {
		if w.Candles[i].Close != 10 {
			t.Fatalf("padded candle %d close = %v, want 10", i, w.Candles[i].Close)
		}
	}
	if w.Last().Close != 19 {
		t.Errorf("last close = %v, want 19", w.Last().Close)
	}
	if got := w.Recent(3); len(got) != 3 || got[0].Close != 17 {
		t.Errorf("Recent(3) = %+v", got)
	}
	if got := w.Recent(50); len(got) != len(candles) {
		t.Errorf("Recent(50) returned %d candles, want %d real candles", len(got), len(candles))
	}
}

func TestNormalize_KeepsMostRecent(t *testing.T) {
	n := NewWindowNormalizer(DefaultWindowSize)
	closes := make([]float64, 150)
	for i := range closes {
		closes[i] = float64(i + 1)
	}

	w, err := n.Normalize(flatCandles(closes, 10))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if w.Candles[0].Close != 31 {
		t.Errorf("first close = %v, want 31", w.Candles[0].Close)
	}
	if w.Samples != DefaultWindowSize {
		t.Errorf("samples = %d, want %d", w.Samples, DefaultWindowSize)
	}
}

func TestNormalize_JointPriceScale(t *testing.T) {
	n := NewWindowNormalizer(DefaultWindowSize)
	candles := []models.Candle{
		{Open: 100, High: 110, Low: 90, Close: 105, Volume: 10},
		{Open: 105, High: 108, Low: 95, Close: 100, Volume: 0},
	}

	w, err := n.Normalize(candles)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if w.PriceMin != 90 || w.PriceMax != 110 {
		t.Fatalf("price range = [%v, %v], want [90, 110]", w.PriceMin, w.PriceMax)
	}
	last := w.Len() - 1
	if !approx(w.Close[last], 0.5, 1e-12) {
		t.Errorf("normalized close = %v, want 0.5", w.Close[last])
	}
	if !approx(w.Denormalize(w.Close[last]), 100, 1e-9) {
		t.Errorf("denormalized close = %v, want 100", w.Denormalize(w.Close[last]))
	}
	if w.Volume[last] != 0 {
		t.Errorf("zero volume normalized to %v", w.Volume[last])
	}
	if w.Volume[0] != 1 {
		t.Errorf("max volume normalized to %v, want 1", w.Volume[0])
	}
}

func TestNormalize_Degenerate(t *testing.T) {
	n := NewWindowNormalizer(DefaultWindowSize)
	_, err := n.Normalize(flatCandles([]float64{100, 100, 100}, 10))
	if !apperrors.Is(err, apperrors.ErrDegenerateWindow) {
		t.Fatalf("err = %v, want ErrDegenerateWindow", err)
	}
}

func TestNormalize_Empty(t *testing.T) {
	n := NewWindowNormalizer(DefaultWindowSize)
	_, err := n.Normalize(nil)
	if !apperrors.Is(err, apperrors.ErrInsufficientData) {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}
}

func TestNormalize_RejectsMalformedCandles(t *testing.T) {
	n := NewWindowNormalizer(DefaultWindowSize)

	tests := []struct {
		name  string
		edit  func(c *models.Candle)
		field string
	}{
		{"nan close", func(c *models.Candle) { c.Close = math.NaN() }, "ohlc[3].close"},
		{"inf high", func(c *models.Candle) { c.High = math.Inf(1) }, "ohlc[3].high"},
		{"negative volume", func(c *models.Candle) { c.Volume = -1 }, "ohlc[3].volume"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candles := flatCandles([]float64{1, 2, 3, 4, 5}, 10)
			tt.edit(&candles[3])

			_, err := n.Normalize(candles)
			var verr *apperrors.ValidationError
			if !apperrors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
			if !apperrors.Is(err, apperrors.ErrInputValidation) {
				t.Error("validation error should match ErrInputValidation")
			}
		})
	}
}

func TestSkeleton_Extract(t *testing.T) {
	e := NewSkeletonExtractor(DefaultExtremaOrder)

	tests := []struct {
		name    string
		series  []float64
		indices []int
	}{
		{"single peak", []float64{1, 2, 3, 2, 1}, []int{0, 2, 4}},
		{"flat", []float64{5, 5, 5, 5, 5, 5}, []int{0, 5}},
		{"single point", []float64{7}, []int{0}},
		{"plateau is not strict", []float64{1, 2, 3, 3, 2, 1}, []int{0, 5}},
		{"peak and trough", []float64{0, 1, 2, 5, 2, 1, 0, -1, -4, -1, 0, 1}, []int{0, 3, 8, 11}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := e.Extract(tt.series)
			if len(s.Indices) != len(tt.indices) {
				t.Fatalf("indices = %v, want %v", s.Indices, tt.indices)
			}
			for i := range tt.indices {
				if s.Indices[i] != tt.indices[i] {
					t.Fatalf("indices = %v, want %v", s.Indices, tt.indices)
				}
				if s.Values[i] != tt.series[tt.indices[i]] {
					t.Fatalf("values = %v do not follow indices", s.Values)
				}
			}
		})
	}
}

func TestSkeleton_Formation(t *testing.T) {
	s := Skeleton{Indices: []int{0, 5, 9}, Values: []float64{1, 0, 2}}
	if got := s.Formation(); len(got) != 2 || got[1] != 0 {
		t.Errorf("Formation() = %v, want [1 0]", got)
	}
	two := Skeleton{Indices: []int{0, 9}, Values: []float64{1, 2}}
	if got := two.Formation(); len(got) != 2 {
		t.Errorf("Formation() of two points = %v, want both points", got)
	}
}

func TestDTWDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 0},
		{"warped repetition", []float64{0, 1}, []float64{0, 0, 1, 1}, 0},
		{"one against many", []float64{0}, []float64{1, 1, 1}, 3},
		{"offset", []float64{0, 0}, []float64{1, 1}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DTWDistance(tt.a, tt.b); !approx(got, tt.want, 1e-12) {
				t.Errorf("DTWDistance = %v, want %v", got, tt.want)
			}
		})
	}

	if d := DTWDistance(nil, []float64{1}); !math.IsInf(d, 1) {
		t.Errorf("empty input distance = %v, want +Inf", d)
	}
	if s := Similarity(math.Inf(1)); s != 0 {
		t.Errorf("Similarity(+Inf) = %v, want 0", s)
	}
	if s := Similarity(0); s != 100 {
		t.Errorf("Similarity(0) = %v, want 100", s)
	}
	if s := Similarity(1); s != 50 {
		t.Errorf("Similarity(1) = %v, want 50", s)
	}
}

func TestLibrary_Default(t *testing.T) {
	lib := DefaultLibrary()
	if lib.Len() != 19 {
		t.Fatalf("library has %d templates, want 19", lib.Len())
	}

	templates := lib.Templates()
	if templates[0].Name != "DOUBLE_BOTTOM" {
		t.Errorf("first template = %s, want DOUBLE_BOTTOM", templates[0].Name)
	}
	for _, tmpl := range templates {
		lo, hi := tmpl.Shape[0], tmpl.Shape[0]
		for _, v := range tmpl.Shape {
			lo, hi = min(lo, v), max(hi, v)
		}
		if lo != 0 || hi != 1 {
			t.Errorf("%s shape range = [%v, %v], want [0, 1]", tmpl.Name, lo, hi)
		}
	}

	// Mutating a copy must not reach the library.
	templates[0].Shape[0] = 42
	if got, _ := lib.Get("DOUBLE_BOTTOM"); got.Shape[0] == 42 {
		t.Error("Templates() exposed internal shape storage")
	}

	if bias, ok := lib.Bias("RECTANGLE_BOX"); !ok || bias != analysis.Bearish {
		t.Errorf("RECTANGLE_BOX bias = %v, %v; want bearish", bias, ok)
	}
	if bias, ok := lib.Bias("CUP_AND_HANDLE"); !ok || bias != analysis.Bullish {
		t.Errorf("CUP_AND_HANDLE bias = %v, %v; want bullish", bias, ok)
	}
	if _, err := lib.Get("NOPE"); !apperrors.Is(err, apperrors.ErrUnknownTemplate) {
		t.Errorf("Get(unknown) err = %v, want ErrUnknownTemplate", err)
	}
}

func TestLibrary_RejectsInvalidTemplates(t *testing.T) {
	tests := []struct {
		name      string
		templates []Template
	}{
		{"empty name", []Template{{Shape: []float64{1, 2, 3, 4, 5}, Bias: analysis.Bullish}}},
		{"too short", []Template{{Name: "A", Shape: []float64{1, 2, 3, 4}, Bias: analysis.Bullish}}},
		{"too long", []Template{{Name: "A", Shape: make([]float64, 10), Bias: analysis.Bullish}}},
		{"flat", []Template{{Name: "A", Shape: []float64{3, 3, 3, 3, 3}, Bias: analysis.Bullish}}},
		{"bad bias", []Template{{Name: "A", Shape: []float64{1, 2, 3, 4, 5}, Bias: "sideways"}}},
		{"duplicate", []Template{
			{Name: "A", Shape: []float64{1, 2, 3, 4, 5}, Bias: analysis.Bullish},
			{Name: "A", Shape: []float64{5, 4, 3, 2, 1}, Bias: analysis.Bearish},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLibrary(tt.templates); !apperrors.Is(err, apperrors.ErrInputValidation) {
				t.Errorf("err = %v, want validation error", err)
			}
		})
	}
}

func TestMatcher_EveryTemplateMatchesItself(t *testing.T) {
	m := NewTemplateMatcher(nil, nil)

	for _, tmpl := range m.Library().Templates() {
		results := m.Score(tmpl.Shape)
		best := results[0]
		for _, r := range results[1:] {
			if r.Similarity > best.Similarity {
				best = r
			}
		}
		if best.TemplateName != tmpl.Name {
			t.Errorf("best match for %s = %s", tmpl.Name, best.TemplateName)
		}
		if best.Similarity != 100 {
			t.Errorf("%s self similarity = %v, want 100", tmpl.Name, best.Similarity)
		}
	}
}

func TestMatcher_RankVDip(t *testing.T) {
	m := NewTemplateMatcher(nil, nil)
	n := NewWindowNormalizer(DefaultWindowSize)

	w, err := n.Normalize(flatCandles(vDipCloses(), 1000))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	ranked, err := m.Rank(w)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if len(ranked) != m.Library().Len() {
		t.Fatalf("ranked %d labels, want %d", len(ranked), m.Library().Len())
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i].Confidence > ranked[i-1].Confidence {
			t.Fatalf("ranking not descending at %d", i)
		}
	}

	top := ranked[0]
	if top.Label != "DOUBLE_BOTTOM" || top.Bias != analysis.Bullish {
		t.Fatalf("top = %+v, want bullish DOUBLE_BOTTOM", top)
	}
	if !approx(top.Confidence, 0.5283, 1e-3) {
		t.Errorf("confidence = %v, want ~0.528", top.Confidence)
	}
}

func TestWithGeometry(t *testing.T) {
	s := Skeleton{Indices: []int{0, 60, 119}, Values: []float64{6.0 / 7.0, 0, 1}}

	bull := WithGeometry(MatchResult{Bias: analysis.Bullish}, s)
	if !approx(bull.Neckline, 6.0/7.0, 1e-12) || bull.Support != 0 {
		t.Errorf("bullish geometry = %+v", bull)
	}
	if !approx(bull.PatternHeight, 6.0/7.0, 1e-12) {
		t.Errorf("height = %v, want 6/7", bull.PatternHeight)
	}

	bear := WithGeometry(MatchResult{Bias: analysis.Bearish}, s)
	if bear.Neckline != 0 {
		t.Errorf("bearish neckline = %v, want formation low", bear.Neckline)
	}
}

func TestCandlestickDetector(t *testing.T) {
	d := NewCandlestickDetector()

	tests := []struct {
		name    string
		candles []models.Candle
		want    string
	}{
		{"empty", nil, SignalNeutral},
		{"doji without wicks", []models.Candle{{Open: 100, High: 100, Low: 100, Close: 100}}, SignalNeutral},
		{"plain candle", []models.Candle{{Open: 100, High: 101.1, Low: 99.9, Close: 101}}, SignalNeutral},
		{"hammer", []models.Candle{{Open: 100, High: 101.2, Low: 95, Close: 101}}, SignalHammer},
		{"shooting star", []models.Candle{{Open: 101, High: 106, Low: 99.9, Close: 100}}, SignalShootingStar},
		{"bullish engulfing", []models.Candle{
			{Open: 102, High: 102.2, Low: 99.9, Close: 100},
			{Open: 99.5, High: 103.2, Low: 99.4, Close: 103},
		}, SignalBullishEngulfing},
		{"morning star", []models.Candle{
			{Open: 110, High: 111, Low: 99, Close: 100},
			{Open: 99, High: 100, Low: 98.5, Close: 99.5},
			{Open: 100, High: 108.5, Low: 99.8, Close: 108},
		}, SignalMorningStar},
		{"morning star needs a bearish first candle", []models.Candle{
			{Open: 100, High: 111, Low: 99, Close: 110},
			{Open: 99, High: 100, Low: 98.5, Close: 99.5},
			{Open: 100, High: 108.5, Low: 99.8, Close: 108},
		}, SignalNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Detect(tt.candles); got != tt.want {
				t.Errorf("Detect() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVolumeConfirmation(t *testing.T) {
	v := NewVolumeConfirmation(20, 1.5)

	base := make([]float64, 20)
	for i := range base {
		base[i] = 1000
	}

	tests := []struct {
		name    string
		volumes []float64
		want    bool
	}{
		{"spike", append(append([]float64{}, base...), 1500), true},
		{"below multiplier", append(append([]float64{}, base...), 1499), false},
		{"too few samples", []float64{1000, 5000}, false},
		{"zero latest", append(make([]float64, 20), 0), false},
		{"zero baseline", append(make([]float64, 20), 10), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.Confirmed(tt.volumes); got != tt.want {
				t.Errorf("Confirmed() = %v, want %v", got, tt.want)
			}
		})
	}
}

type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

func TestProjector_BreakoutStatus(t *testing.T) {
	p := NewProjector(DefaultProjectorConfig(), fixedSource(0.5))

	tests := []struct {
		name    string
		price   float64
		bullish bool
		volume  bool
		want    models.Status
	}{
		{"bullish confirmed", 101, true, true, models.StatusActiveBreakout},
		{"bullish unconfirmed", 101, true, false, models.StatusWeakBreakout},
		{"bullish below", 99, true, true, models.StatusWaiting},
		{"bullish at neckline", 100, true, true, models.StatusWaiting},
		{"bearish confirmed", 99, false, true, models.StatusActiveBreakout},
		{"bearish above", 101, false, false, models.StatusWaiting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.BreakoutStatus(tt.price, 100, tt.bullish, tt.volume); got != tt.want {
				t.Errorf("BreakoutStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestProjector_Target(t *testing.T) {
	p := NewProjector(DefaultProjectorConfig(), fixedSource(0.5))
	if got := p.Target(100, 10, true); !approx(got, 109, 1e-12) {
		t.Errorf("bullish target = %v, want 109", got)
	}
	if got := p.Target(100, 10, false); !approx(got, 91, 1e-12) {
		t.Errorf("bearish target = %v, want 91", got)
	}
}

func TestProjector_Path(t *testing.T) {
	cfg := DefaultProjectorConfig()
	p := NewProjector(cfg, fixedSource(0.9))

	path := p.Path(98, 100, 105.4)
	if len(path) != 2*cfg.Steps-1 {
		t.Fatalf("path has %d points, want %d", len(path), 2*cfg.Steps-1)
	}
	if path[0] != (models.Point{X: 40, Y: 98}) {
		t.Errorf("start = %+v", path[0])
	}
	if path[cfg.Steps-1] != (models.Point{X: 55, Y: 100}) {
		t.Errorf("neckline vertex = %+v", path[cfg.Steps-1])
	}
	if path[len(path)-1] != (models.Point{X: 75, Y: 105.4}) {
		t.Errorf("end = %+v", path[len(path)-1])
	}
	for i := 1; i < len(path); i++ {
		if path[i].X <= path[i-1].X {
			t.Fatalf("x not increasing at %d: %v <= %v", i, path[i].X, path[i-1].X)
		}
	}

	// Interior jitter stays within half the amplitude of the straight line.
	amplitude := 2 * cfg.Jitter
	for i := 1; i < cfg.Steps-1; i++ {
		linear := 98 + 2*float64(i)/float64(cfg.Steps-1)
		if math.Abs(path[i].Y-linear) > amplitude/2+1e-9 {
			t.Errorf("point %d deviates %v from the line", i, path[i].Y-linear)
		}
	}
}

func TestProjector_PathDeterministicWithSeed(t *testing.T) {
	a := NewProjector(DefaultProjectorConfig(), NewSeededSource(42)).Path(90, 100, 110)
	b := NewProjector(DefaultProjectorConfig(), NewSeededSource(42)).Path(90, 100, 110)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("seeded paths differ at %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}
