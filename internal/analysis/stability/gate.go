// Package stability provides the hysteresis gate that keeps the displayed pattern
// classification from flickering between calls.
package stability

// Placeholder is the name displayed while no classification passes the display gate.
const Placeholder = "SCANNING"

// Config holds hysteresis gate configuration.
type Config struct {
	// ReinforceStep is added to the score when the detection repeats.
	ReinforceStep int
	// DecayStep is subtracted from the score when a different label is detected.
	DecayStep int
	// MaxStability caps the score.
	MaxStability int
	// LockThreshold is the score at which the incumbent label is locked.
	LockThreshold int
	// OverrideConfidence locks on a single call whose confidence exceeds it.
	OverrideConfidence float64
	// DisplayConfidence and DisplayStability gate what is reported externally.
	DisplayConfidence float64
	DisplayStability  int
}

// DefaultConfig returns the default gate configuration.
func DefaultConfig() Config {
	return Config{
		ReinforceStep:      1,
		DecayStep:          2,
		MaxStability:       15,
		LockThreshold:      5,
		OverrideConfidence: 0.99,
		DisplayConfidence:  0.45,
		DisplayStability:   3,
	}
}

// State is the classification state of one key.
type State struct {
	LastPattern   string `json:"lastPatternName"`
	Score         int    `json:"stabilityScore"`
	LockedPattern string `json:"lockedPatternName"`
}

// Decision is the outcome of feeding one detection through the gate.
type Decision struct {
	State State
	// Display is the externally reported name: the locked pattern or Placeholder.
	Display string
	// Displayed is true when the locked pattern passed the display gate.
	Displayed bool
	// Overridden is true when this call locked through the confidence override.
	Overridden bool
	// LockChanged is true when the locked pattern differs from the previous state.
	LockChanged bool
}

// Gate applies the hysteresis policy. It holds no state of its own.
type Gate struct {
	config Config
}

// NewGate creates a gate with the given policy.
func NewGate(config Config) *Gate {
	return &Gate{config: config}
}

// Config returns the gate policy.
func (g *Gate) Config() Config {
	return g.config
}

// Apply returns the state that results from detecting label with confidence on top
// of prev. prev is not modified.
func (g *Gate) Apply(prev State, label string, confidence float64) Decision {
	next := prev

	if label == next.LastPattern {
		next.Score = min(next.Score+g.config.ReinforceStep, g.config.MaxStability)
	} else {
		next.Score = max(next.Score-g.config.DecayStep, 0)
		if next.Score == 0 {
			// The incumbent has no support left; the challenger takes over.
			next.LastPattern = label
			next.Score = 1
		}
	}

	d := Decision{}
	byScore := next.Score >= g.config.LockThreshold
	byConfidence := confidence > g.config.OverrideConfidence
	if byScore || byConfidence {
		next.LockedPattern = next.LastPattern
		d.Overridden = byConfidence && !byScore
	}

	d.State = next
	d.LockChanged = next.LockedPattern != prev.LockedPattern
	d.Display = Placeholder
	if next.LockedPattern != "" &&
		confidence > g.config.DisplayConfidence &&
		next.Score >= g.config.DisplayStability {
		d.Display = next.LockedPattern
		d.Displayed = true
	}
	return d
}
