package engine

import (
	"fmt"

	"github.com/rs/zerolog"

	"pattern-scanner/internal/analysis"
	"pattern-scanner/internal/analysis/patterns"
	"pattern-scanner/internal/analysis/stability"
	"pattern-scanner/internal/config"
	"pattern-scanner/internal/metrics"
)

// ConfigFrom maps the application configuration onto an engine configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		WindowSize:       cfg.Engine.WindowSize,
		ExtremaOrder:     cfg.Engine.ExtremaOrder,
		MinVolatility:    cfg.Engine.MinVolatility,
		VolumeLookback:   cfg.Volume.Lookback,
		VolumeMultiplier: cfg.Volume.Multiplier,
		Projection: patterns.ProjectorConfig{
			Factor:    cfg.Projection.Factor,
			Steps:     cfg.Projection.Steps,
			StartX:    cfg.Projection.StartX,
			NecklineX: cfg.Projection.NecklineX,
			DeadlineX: cfg.Projection.DeadlineX,
			Jitter:    cfg.Projection.Jitter,
		},
		Stability: stability.Config{
			ReinforceStep:      cfg.Stability.ReinforceStep,
			DecayStep:          cfg.Stability.DecayStep,
			MaxStability:       cfg.Stability.MaxStability,
			LockThreshold:      cfg.Stability.LockThreshold,
			OverrideConfidence: cfg.Stability.OverrideConfidence,
			DisplayConfidence:  cfg.Stability.DisplayConfidence,
			DisplayStability:   cfg.Stability.DisplayStability,
		},
	}
}

// LibraryFrom builds the builtin library followed by the configured templates.
func LibraryFrom(cfg *config.Config) (*patterns.Library, error) {
	templates := patterns.DefaultTemplates()
	for _, t := range cfg.Templates {
		shape := make([]float64, len(t.Shape))
		copy(shape, t.Shape)
		templates = append(templates, patterns.Template{
			Name:  t.Name,
			Shape: shape,
			Bias:  analysis.Bias(t.Bias),
		})
	}

	lib, err := patterns.NewLibrary(templates)
	if err != nil {
		return nil, fmt.Errorf("building template library: %w", err)
	}
	return lib, nil
}

// NewFromConfig creates an engine wired from the application configuration.
// Extra options are applied after the configured ones.
func NewFromConfig(cfg *config.Config, logger zerolog.Logger, recorder *metrics.Recorder, opts ...Option) (*Engine, error) {
	lib, err := LibraryFrom(cfg)
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithLibrary(lib),
		WithRandomSource(patterns.NewSeededSource(cfg.Projection.Seed)),
		WithLogger(logger),
		WithMetrics(recorder),
	}
	return New(ConfigFrom(cfg), append(base, opts...)...), nil
}
