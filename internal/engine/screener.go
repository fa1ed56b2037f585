package engine

import (
	"context"
	"sort"
	"strings"
	"sync"

	"pattern-scanner/internal/analysis/stability"
	"pattern-scanner/internal/models"
)

// CandleProvider returns the candle window of a key.
type CandleProvider func(ctx context.Context, key models.Key) ([]models.Candle, error)

// Filter selects screen results. Zero values match everything.
type Filter struct {
	MinSimilarity float64
	Pattern       string
	// Bias is "bullish", "bearish" or empty.
	Bias string
	// Displayed keeps only keys whose classification passed the display gate.
	Displayed bool
}

// ScreenResult is the outcome of analyzing one key.
type ScreenResult struct {
	Key       string           `json:"key"`
	Detection models.Detection `json:"detection"`
	Stability int              `json:"stability"`
	Err       error            `json:"-"`
	Error     string           `json:"error,omitempty"`
}

// Matches reports whether a successful result passes f.
func (f Filter) Matches(r ScreenResult) bool {
	det := r.Detection
	if r.Err != nil || det.PatternName == "" {
		return false
	}
	if det.Similarity < f.MinSimilarity {
		return false
	}
	if f.Pattern != "" && !strings.EqualFold(det.PatternName, f.Pattern) {
		return false
	}
	switch strings.ToLower(f.Bias) {
	case "bullish":
		if !det.IsBullish {
			return false
		}
	case "bearish":
		if det.IsBullish {
			return false
		}
	}
	if f.Displayed && det.Name == stability.Placeholder {
		return false
	}
	return true
}

// Screener analyzes many keys concurrently through one engine.
type Screener struct {
	engine      *Engine
	candles     CandleProvider
	concurrency int
}

// NewScreener creates a screener.
func NewScreener(engine *Engine, candles CandleProvider, concurrency int) *Screener {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Screener{
		engine:      engine,
		candles:     candles,
		concurrency: concurrency,
	}
}

// Scan analyzes keys and returns the results passing filter, highest similarity
// first. Keys that fail are returned separately.
func (s *Screener) Scan(ctx context.Context, keys []models.Key, filter Filter) (passed, failed []ScreenResult) {
	if len(keys) == 0 {
		return nil, nil
	}

	resultChan := make(chan ScreenResult, len(keys))
	workChan := make(chan models.Key)

	var wg sync.WaitGroup
	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range workChan {
				resultChan <- s.scanKey(ctx, key)
			}
		}()
	}

	go func() {
		defer close(workChan)
		for _, key := range keys {
			select {
			case <-ctx.Done():
				return
			case workChan <- key:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for r := range resultChan {
		switch {
		case r.Err != nil:
			r.Error = r.Err.Error()
			failed = append(failed, r)
		case filter.Matches(r):
			passed = append(passed, r)
		}
	}

	sort.SliceStable(passed, func(i, j int) bool {
		if passed[i].Detection.Similarity != passed[j].Detection.Similarity {
			return passed[i].Detection.Similarity > passed[j].Detection.Similarity
		}
		return passed[i].Key < passed[j].Key
	})
	sort.Slice(failed, func(i, j int) bool { return failed[i].Key < failed[j].Key })
	return passed, failed
}

func (s *Screener) scanKey(ctx context.Context, key models.Key) ScreenResult {
	result := ScreenResult{Key: key.String()}

	candles, err := s.candles(ctx, key)
	if err != nil {
		result.Err = err
		return result
	}

	det, err := s.engine.Analyze(key, candles)
	if err != nil {
		result.Err = err
		return result
	}
	result.Detection = det
	if state, ok := s.engine.State(key); ok {
		result.Stability = state.Score
	}
	return result
}
