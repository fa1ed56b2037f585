package patterns

import (
	"fmt"

	"pattern-scanner/internal/analysis"
	apperrors "pattern-scanner/internal/errors"
)

// Template is a canonical turning-point shape of a named chart pattern.
type Template struct {
	Name  string
	Shape []float64
	Bias  analysis.Bias
}

// DefaultTemplates returns the builtin pattern DNA in registry order.
func DefaultTemplates() []Template {
	return []Template{
		{Name: "DOUBLE_BOTTOM", Shape: []float64{10, 2, 8, 2, 10}, Bias: analysis.Bullish},
		{Name: "DOUBLE_TOP", Shape: []float64{2, 10, 4, 10, 2}, Bias: analysis.Bearish},
		{Name: "HEAD_AND_SHOULDERS_BOTTOM", Shape: []float64{5, 3, 5, 1, 5, 3, 5}, Bias: analysis.Bullish},
		{Name: "HEAD_AND_SHOULDERS_TOP", Shape: []float64{5, 8, 5, 10, 5, 8, 5}, Bias: analysis.Bearish},
		{Name: "TRIPLE_BOTTOM", Shape: []float64{10, 2, 8, 2, 8, 2, 10}, Bias: analysis.Bullish},
		{Name: "TRIPLE_TOP", Shape: []float64{2, 10, 4, 10, 4, 10, 2}, Bias: analysis.Bearish},
		{Name: "BULLISH_FLAG", Shape: []float64{1, 10, 8, 9, 7, 8, 6}, Bias: analysis.Bullish},
		{Name: "BEARISH_FLAG", Shape: []float64{10, 1, 3, 2, 4, 3, 5}, Bias: analysis.Bearish},
		{Name: "CUP_AND_HANDLE", Shape: []float64{10, 6, 4, 3, 4, 6, 10, 8, 11}, Bias: analysis.Bullish},
		{Name: "RECTANGLE_BOX", Shape: []float64{10, 2, 10, 2, 10, 2, 10}, Bias: analysis.Bearish},
		{Name: "ASCENDING_TRIANGLE", Shape: []float64{2, 10, 4, 10, 6, 10, 8}, Bias: analysis.Bullish},
		{Name: "DESCENDING_TRIANGLE", Shape: []float64{10, 2, 8, 2, 6, 2, 4}, Bias: analysis.Bearish},
		{Name: "SYMMETRICAL_TRIANGLE", Shape: []float64{10, 2, 8, 3, 7, 4, 6}, Bias: analysis.Bearish},
		{Name: "FALLING_WEDGE", Shape: []float64{10, 2, 8, 3, 7, 4, 5}, Bias: analysis.Bullish},
		{Name: "RISING_WEDGE", Shape: []float64{2, 10, 3, 9, 4, 8, 5}, Bias: analysis.Bearish},
		{Name: "QUASIMODO_BULLISH", Shape: []float64{5, 10, 4, 12, 8, 5}, Bias: analysis.Bullish},
		{Name: "QUASIMODO_BEARISH", Shape: []float64{8, 3, 9, 1, 5, 8}, Bias: analysis.Bearish},
		{Name: "GARTLEY_BULLISH", Shape: []float64{2, 10, 4, 8, 6}, Bias: analysis.Bullish},
		{Name: "BAT_BULLISH", Shape: []float64{2, 10, 3, 9, 5}, Bias: analysis.Bullish},
	}
}

// Library is an immutable, ordered registry of templates with shapes scaled to [0,1].
type Library struct {
	templates []Template
	index     map[string]int
}

// NewLibrary validates and registers templates in the given order.
func NewLibrary(templates []Template) (*Library, error) {
	lib := &Library{
		templates: make([]Template, 0, len(templates)),
		index:     make(map[string]int, len(templates)),
	}

	for _, t := range templates {
		if t.Name == "" {
			return nil, apperrors.NewValidationError("template.name", t.Name, "name is required")
		}
		if _, dup := lib.index[t.Name]; dup {
			return nil, apperrors.NewValidationError("template.name", t.Name, "duplicate template")
		}
		if len(t.Shape) < 5 || len(t.Shape) > 9 {
			return nil, apperrors.NewValidationError("template.shape", len(t.Shape), fmt.Sprintf("%s: shape must have 5 to 9 points", t.Name))
		}
		if t.Bias != analysis.Bullish && t.Bias != analysis.Bearish {
			return nil, apperrors.NewValidationError("template.bias", t.Bias, fmt.Sprintf("%s: bias must be bullish or bearish", t.Name))
		}
		shape, ok := scaleUnit(t.Shape)
		if !ok {
			return nil, apperrors.NewValidationError("template.shape", t.Shape, fmt.Sprintf("%s: shape is flat", t.Name))
		}

		lib.index[t.Name] = len(lib.templates)
		lib.templates = append(lib.templates, Template{Name: t.Name, Shape: shape, Bias: t.Bias})
	}

	return lib, nil
}

// DefaultLibrary returns the builtin library.
func DefaultLibrary() *Library {
	lib, err := NewLibrary(DefaultTemplates())
	if err != nil {
		panic(err)
	}
	return lib
}

// Templates returns a copy of the registered templates in registry order.
func (l *Library) Templates() []Template {
	out := make([]Template, len(l.templates))
	for i, t := range l.templates {
		out[i] = Template{Name: t.Name, Shape: append([]float64(nil), t.Shape...), Bias: t.Bias}
	}
	return out
}

// Len returns the number of registered templates.
func (l *Library) Len() int {
	return len(l.templates)
}

// Get returns a template by name.
func (l *Library) Get(name string) (Template, error) {
	i, ok := l.index[name]
	if !ok {
		return Template{}, apperrors.Wrapf(apperrors.ErrUnknownTemplate, "%s", name)
	}
	return l.templates[i], nil
}

// Bias returns the bias of a registered template.
func (l *Library) Bias(name string) (analysis.Bias, bool) {
	i, ok := l.index[name]
	if !ok {
		return "", false
	}
	return l.templates[i].Bias, true
}

func scaleUnit(values []float64) ([]float64, bool) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if hi == lo {
		return nil, false
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = (v - lo) / (hi - lo)
	}
	return out, true
}
