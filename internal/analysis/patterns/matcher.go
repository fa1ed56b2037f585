package patterns

import (
	"sort"

	"pattern-scanner/internal/analysis"
	apperrors "pattern-scanner/internal/errors"
)

// MatchResult describes a template match and its geometry on the normalized scale.
type MatchResult struct {
	TemplateName  string
	Similarity    float64
	Bias          analysis.Bias
	Neckline      float64
	Support       float64
	PatternHeight float64
}

// TemplateMatcher scores a window's skeleton against every registered template by
// dynamic time warping.
type TemplateMatcher struct {
	library   *Library
	extractor *SkeletonExtractor
}

// NewTemplateMatcher creates a matcher over the given library.
func NewTemplateMatcher(library *Library, extractor *SkeletonExtractor) *TemplateMatcher {
	if library == nil {
		library = DefaultLibrary()
	}
	if extractor == nil {
		extractor = NewSkeletonExtractor(DefaultExtremaOrder)
	}
	return &TemplateMatcher{
		library:   library,
		extractor: extractor,
	}
}

func (m *TemplateMatcher) Name() string {
	return "TemplateMatcher"
}

// Library returns the matcher's template library.
func (m *TemplateMatcher) Library() *Library {
	return m.library
}

// Score returns the similarity of the skeleton to every template, in registry order.
func (m *TemplateMatcher) Score(skeleton []float64) []MatchResult {
	results := make([]MatchResult, 0, len(m.library.templates))
	for _, t := range m.library.templates {
		results = append(results, MatchResult{
			TemplateName: t.Name,
			Similarity:   Similarity(DTWDistance(skeleton, t.Shape)),
			Bias:         t.Bias,
		})
	}
	return results
}

// Rank implements analysis.Matcher.
func (m *TemplateMatcher) Rank(w *analysis.Window) ([]analysis.Prediction, error) {
	if w == nil || len(w.Close) == 0 {
		return nil, apperrors.Wrap(apperrors.ErrInsufficientData, "empty window")
	}
	skeleton := m.extractor.Extract(w.Close)
	if skeleton.Len() < 2 {
		return nil, apperrors.Wrap(apperrors.ErrInsufficientData, "skeleton needs at least two points")
	}

	results := m.Score(skeleton.Values)
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	predictions := make([]analysis.Prediction, len(results))
	for i, r := range results {
		predictions[i] = analysis.Prediction{
			Label:      r.TemplateName,
			Confidence: r.Similarity / 100,
			Bias:       r.Bias,
		}
	}
	return predictions, nil
}

// WithGeometry fills neckline, support and height from the skeleton's formation
// points. The neckline is the formation high for bullish patterns and the
// formation low for bearish ones. The latest skeleton point is the breakout leg and
// is excluded.
func WithGeometry(r MatchResult, skeleton Skeleton) MatchResult {
	formation := skeleton.Formation()
	if len(formation) == 0 {
		return r
	}
	hi, lo := formation[0], formation[0]
	for _, v := range formation[1:] {
		hi = max(hi, v)
		lo = min(lo, v)
	}

	r.PatternHeight = hi - lo
	r.Support = lo
	if r.Bias.IsBullish() {
		r.Neckline = hi
	} else {
		r.Neckline = lo
	}
	return r
}
