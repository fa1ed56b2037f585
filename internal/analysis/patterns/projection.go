package patterns

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"pattern-scanner/internal/models"
)

// RandomSource supplies uniform values in [0, 1) for projection jitter.
type RandomSource interface {
	Float64() float64
}

// lockedSource makes a *rand.Rand safe for concurrent use.
type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// NewSeededSource returns a goroutine-safe random source. A zero seed seeds from
// the clock.
func NewSeededSource(seed int64) RandomSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedSource{rng: rand.New(rand.NewSource(seed))}
}

// ProjectorConfig holds target projection parameters.
type ProjectorConfig struct {
	Factor    float64 // Fraction of pattern height projected past the neckline
	Steps     int     // Points per path segment
	StartX    float64
	NecklineX float64
	DeadlineX float64
	Jitter    float64 // Jitter amplitude as a fraction of segment span
}

// DefaultProjectorConfig returns the measured-move defaults.
func DefaultProjectorConfig() ProjectorConfig {
	return ProjectorConfig{
		Factor:    0.9,
		Steps:     10,
		StartX:    40,
		NecklineX: 55,
		DeadlineX: 75,
		Jitter:    0.2,
	}
}

// Projector computes breakout status, target price and the projection path.
type Projector struct {
	config ProjectorConfig
	rng    RandomSource
}

// NewProjector creates a projector drawing jitter from rng.
func NewProjector(config ProjectorConfig, rng RandomSource) *Projector {
	if config.Steps < 2 {
		config.Steps = 2
	}
	if rng == nil {
		rng = NewSeededSource(0)
	}
	return &Projector{config: config, rng: rng}
}

func (p *Projector) Name() string {
	return "Projector"
}

// DeadlineX is the chart x coordinate at which the target is expected.
func (p *Projector) DeadlineX() float64 {
	return p.config.DeadlineX
}

// Crossed reports whether price is beyond the neckline in the bias direction.
func Crossed(price, neckline float64, bullish bool) bool {
	if bullish {
		return price > neckline
	}
	return price < neckline
}

// BreakoutStatus classifies the breakout of price through neckline.
func (p *Projector) BreakoutStatus(price, neckline float64, bullish, volumeConfirmed bool) models.Status {
	switch {
	case !Crossed(price, neckline, bullish):
		return models.StatusWaiting
	case volumeConfirmed:
		return models.StatusActiveBreakout
	default:
		return models.StatusWeakBreakout
	}
}

// Target projects the neckline by the configured fraction of the pattern height.
func (p *Projector) Target(neckline, height float64, bullish bool) float64 {
	move := height * p.config.Factor
	if bullish {
		return neckline + move
	}
	return neckline - move
}

// Path returns the two-leg projection current -> neckline -> target. The shared
// neckline vertex appears once.
func (p *Projector) Path(current, neckline, target float64) []models.Point {
	first := p.segment(p.config.StartX, current, p.config.NecklineX, neckline)
	second := p.segment(p.config.NecklineX, neckline, p.config.DeadlineX, target)
	return append(first, second[1:]...)
}

// segment linearly interpolates Steps points and jitters every point except the
// two anchors.
func (p *Projector) segment(x0, y0, x1, y1 float64) []models.Point {
	steps := p.config.Steps
	amplitude := math.Abs(y1-y0) * p.config.Jitter
	points := make([]models.Point, steps)
	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps-1)
		x := x0 + (x1-x0)*t
		y := y0 + (y1-y0)*t
		if i > 0 && i < steps-1 {
			y += (p.rng.Float64() - 0.5) * amplitude
		}
		points[i] = models.Point{X: x, Y: y}
	}
	// Pin anchors exactly.
	points[0] = models.Point{X: x0, Y: y0}
	points[steps-1] = models.Point{X: x1, Y: y1}
	return points
}
