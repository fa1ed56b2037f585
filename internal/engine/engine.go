// Package engine coordinates the detection pipeline and owns the per-key
// classification state.
package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pattern-scanner/internal/analysis"
	"pattern-scanner/internal/analysis/indicators"
	"pattern-scanner/internal/analysis/patterns"
	"pattern-scanner/internal/analysis/stability"
	apperrors "pattern-scanner/internal/errors"
	"pattern-scanner/internal/logging"
	"pattern-scanner/internal/metrics"
	"pattern-scanner/internal/models"
)

// Names reported when matching is skipped.
const (
	NameStalled     = "MARKET STALLED"
	NameLowActivity = "LOW ACTIVITY"
)

// Pipeline stages, used in EngineError.
const (
	stageNormalize = "normalize"
	stageExtract   = "extract"
	stageMatch     = "match"
	stageProject   = "project"
)

// Config holds engine configuration.
type Config struct {
	WindowSize       int
	ExtremaOrder     int
	MinVolatility    float64
	VolumeLookback   int
	VolumeMultiplier float64
	Projection       patterns.ProjectorConfig
	Stability        stability.Config
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		WindowSize:       patterns.DefaultWindowSize,
		ExtremaOrder:     patterns.DefaultExtremaOrder,
		MinVolatility:    0.0001,
		VolumeLookback:   20,
		VolumeMultiplier: 1.5,
		Projection:       patterns.DefaultProjectorConfig(),
		Stability:        stability.DefaultConfig(),
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithMatcher replaces the template matcher with another classifier.
func WithMatcher(m analysis.Matcher) Option {
	return func(e *Engine) {
		e.matcher = m
	}
}

// WithLibrary sets the template library used by the default matcher.
func WithLibrary(lib *patterns.Library) Option {
	return func(e *Engine) {
		e.library = lib
	}
}

// WithRandomSource sets the projection jitter source.
func WithRandomSource(rng patterns.RandomSource) Option {
	return func(e *Engine) {
		e.rng = rng
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r *metrics.Recorder) Option {
	return func(e *Engine) {
		e.metrics = r
	}
}

// Publisher receives an event after every successful analysis.
type Publisher interface {
	Publish(models.DetectionEvent)
}

// WithPublisher sets the detection event publisher.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// Engine runs normalize -> extract -> match -> project -> gate for a key and keeps
// one classification state per key.
type Engine struct {
	config Config

	normalizer *patterns.WindowNormalizer
	extractor  *patterns.SkeletonExtractor
	candles    *patterns.CandlestickDetector
	volume     *patterns.VolumeConfirmation
	library    *patterns.Library
	matcher    analysis.Matcher
	projector  *patterns.Projector
	gate       *stability.Gate
	rng        patterns.RandomSource

	states    *stability.Registry
	logger    zerolog.Logger
	metrics   *metrics.Recorder
	publisher Publisher
}

// New creates an engine.
func New(config Config, opts ...Option) *Engine {
	e := &Engine{
		config: config,
		states: stability.NewRegistry(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.normalizer = patterns.NewWindowNormalizer(config.WindowSize)
	e.extractor = patterns.NewSkeletonExtractor(config.ExtremaOrder)
	e.candles = patterns.NewCandlestickDetector()
	e.volume = patterns.NewVolumeConfirmation(config.VolumeLookback, config.VolumeMultiplier)
	if e.library == nil {
		e.library = patterns.DefaultLibrary()
	}
	if e.matcher == nil {
		e.matcher = patterns.NewTemplateMatcher(e.library, e.extractor)
	}
	e.projector = patterns.NewProjector(config.Projection, e.rng)
	e.gate = stability.NewGate(config.Stability)

	return e
}

// Library returns the template library.
func (e *Engine) Library() *patterns.Library {
	return e.library
}

// Matcher returns the active matcher.
func (e *Engine) Matcher() analysis.Matcher {
	return e.matcher
}

// State returns a snapshot of the classification state of key.
func (e *Engine) State(key models.Key) (stability.State, bool) {
	return e.states.Get(key.String())
}

// Clear drops the classification state of key.
func (e *Engine) Clear(key models.Key) bool {
	return e.states.Clear(key.String())
}

// Keys returns the tracked keys.
func (e *Engine) Keys() []string {
	return e.states.Keys()
}

// Analyze classifies candles for key. The state of key is updated only when the
// whole pipeline succeeds; skipped windows (stalled or low activity) and failures
// leave it untouched.
func (e *Engine) Analyze(key models.Key, candles []models.Candle) (models.Detection, error) {
	start := time.Now()
	k := key.String()
	logger := logging.WithKey(e.logger, k)
	defer func() {
		e.metrics.RecordLatency("analyze", time.Since(start).Seconds())
	}()

	var det models.Detection
	var decision stability.Decision
	err := e.states.Update(k, func(prev stability.State) (stability.State, bool, error) {
		out, dec, commit, err := e.run(k, prev, candles)
		if err != nil {
			return prev, false, err
		}
		det, decision = out, dec
		return dec.State, commit, nil
	})
	if err != nil {
		e.metrics.RecordError(errorKind(err))
		logger.Error().Err(err).Msg("Detection failed")
		return models.Detection{}, err
	}

	e.metrics.RecordStatus(string(det.Status))
	if det.PatternName != "" {
		e.metrics.RecordDetection(k, det.PatternName, det.Similarity)
		logging.LogDetection(logger, k, det.PatternName, det.Similarity, string(det.Status))
	}
	if decision.LockChanged {
		e.metrics.RecordLock(decision.State.LockedPattern)
		logging.LogStateTransition(logger, k, decision.State.LastPattern, decision.State.Score, decision.State.LockedPattern)
	}

	if e.publisher != nil {
		state, _ := e.states.Get(k)
		e.publisher.Publish(models.DetectionEvent{
			Key:           k,
			Time:          time.Now().UTC(),
			Detection:     det,
			Stability:     state.Score,
			LockedPattern: state.LockedPattern,
			LockChanged:   decision.LockChanged,
		})
	}

	return det, nil
}

// run executes the pipeline without touching shared state. commit is false when the
// window was skipped before matching.
func (e *Engine) run(key string, prev stability.State, candles []models.Candle) (det models.Detection, dec stability.Decision, commit bool, err error) {
	stage := stageNormalize
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewEngineError(key, stage, fmt.Errorf("%w: %v", apperrors.ErrInternal, r))
		}
	}()

	w, err := e.normalizer.Normalize(candles)
	if apperrors.Is(err, apperrors.ErrDegenerateWindow) {
		return stalled(candles), dec, false, nil
	}
	if err != nil {
		return det, dec, false, apperrors.NewEngineError(key, stage, err)
	}
	if w.Volatility < e.config.MinVolatility {
		return lowActivity(w), dec, false, nil
	}

	stage = stageExtract
	skeleton := e.extractor.Extract(w.Close)
	if skeleton.Len() < 2 {
		return det, dec, false, apperrors.NewEngineError(key, stage, apperrors.ErrInsufficientData)
	}

	stage = stageMatch
	ranked, err := e.matcher.Rank(w)
	if err != nil {
		return det, dec, false, apperrors.NewEngineError(key, stage, err)
	}
	if len(ranked) == 0 {
		return det, dec, false, apperrors.NewEngineError(key, stage, apperrors.ErrDataNotFound)
	}
	top := ranked[0]
	dec = e.gate.Apply(prev, top.Label, top.Confidence)
	if dec.Display == analysis.NeutralLabel {
		dec.Display = stability.Placeholder
		dec.Displayed = false
	}

	// Project the displayed pattern when there is one, otherwise the raw detection.
	subject := top
	if dec.Displayed {
		subject = lookup(ranked, dec.Display, top)
	}
	match := patterns.WithGeometry(patterns.MatchResult{
		TemplateName: subject.Label,
		Similarity:   subject.Confidence * 100,
		Bias:         subject.Bias,
	}, skeleton)

	stage = stageProject
	bullish := subject.Bias.IsBullish()
	current := w.Last().Close
	neckline := w.Denormalize(match.Neckline)
	support := w.Denormalize(match.Support)
	height := match.PatternHeight * (w.PriceMax - w.PriceMin)
	volumeConfirmed := e.volume.Confirmed(indicators.Volumes(w.Recent(e.volume.MinSamples())))
	target := e.projector.Target(neckline, height, bullish)

	det = models.Detection{
		Name:            stability.Placeholder,
		Similarity:      round1(match.Similarity),
		TargetPrice:     target,
		Status:          models.StatusAnalyzing,
		IsBullish:       bullish,
		Edges:           models.Edges{Neckline: neckline, Support: support},
		ProjectionPath:  e.projector.Path(current, neckline, target),
		Volatility:      w.Volatility,
		DeadlineX:       e.projector.DeadlineX(),
		PatternName:     top.Label,
		CandleSignal:    e.candles.Detect(w.Recent(3)),
		VolumeConfirmed: volumeConfirmed,
	}
	if dec.Displayed {
		det.Name = DisplayName(dec.Display, det.CandleSignal)
		det.Status = e.projector.BreakoutStatus(current, neckline, bullish, volumeConfirmed)
		if det.Status == models.StatusWaiting && dec.Overridden {
			det.Status = models.StatusAILocked
		}
	}

	return det, dec, true, nil
}

// DisplayName joins the macro pattern and the micro candle signal.
func DisplayName(pattern, signal string) string {
	name := strings.ReplaceAll(pattern, "_", " ")
	if signal == "" {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, signal)
}

func lookup(ranked []analysis.Prediction, label string, fallback analysis.Prediction) analysis.Prediction {
	for _, p := range ranked {
		if p.Label == label {
			return p
		}
	}
	return fallback
}

func stalled(candles []models.Candle) models.Detection {
	price := 0.0
	if len(candles) > 0 {
		price = candles[len(candles)-1].Close
	}
	return models.Detection{
		Name:           NameStalled,
		TargetPrice:    price,
		Status:         models.StatusLowVolatility,
		Edges:          models.Edges{Neckline: price, Support: price},
		ProjectionPath: []models.Point{},
	}
}

func lowActivity(w *analysis.Window) models.Detection {
	price := w.Last().Close
	return models.Detection{
		Name:           NameLowActivity,
		TargetPrice:    price,
		Status:         models.StatusLowVolatility,
		Edges:          models.Edges{Neckline: price, Support: price},
		ProjectionPath: []models.Point{},
		Volatility:     w.Volatility,
	}
}

func errorKind(err error) string {
	var verr *apperrors.ValidationError
	switch {
	case apperrors.As(err, &verr):
		return "validation"
	case apperrors.Is(err, apperrors.ErrInternal):
		return "internal"
	case apperrors.Is(err, apperrors.ErrInsufficientData):
		return "insufficient_data"
	default:
		return "pipeline"
	}
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
