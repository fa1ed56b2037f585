package models

import "time"

// CandleInput is the wire form of a candle. Price fields are pointers so a missing
// field can be told apart from a zero price. Volume may arrive under any of the
// keys "volume", "v" or "vol".
type CandleInput struct {
	Timestamp *int64   `json:"timestamp,omitempty"`
	Open      *float64 `json:"open" validate:"required"`
	High      *float64 `json:"high" validate:"required"`
	Low       *float64 `json:"low" validate:"required"`
	Close     *float64 `json:"close" validate:"required"`
	Volume    *float64 `json:"volume,omitempty" validate:"omitempty,gte=0"`
	V         *float64 `json:"v,omitempty" validate:"omitempty,gte=0"`
	Vol       *float64 `json:"vol,omitempty" validate:"omitempty,gte=0"`
}

// ToCandle converts the input into a Candle. Callers must validate first.
func (in CandleInput) ToCandle() Candle {
	c := Candle{
		Open:  deref(in.Open),
		High:  deref(in.High),
		Low:   deref(in.Low),
		Close: deref(in.Close),
	}
	switch {
	case in.Volume != nil:
		c.Volume = *in.Volume
	case in.V != nil:
		c.Volume = *in.V
	case in.Vol != nil:
		c.Volume = *in.Vol
	}
	if in.Timestamp != nil {
		c.Timestamp = time.UnixMilli(*in.Timestamp)
	}
	return c
}

// NewCandleInput converts a stored candle back into its wire form.
func NewCandleInput(c Candle) CandleInput {
	o, h, l, cl, v := c.Open, c.High, c.Low, c.Close, c.Volume
	in := CandleInput{Open: &o, High: &h, Low: &l, Close: &cl, Volume: &v}
	if !c.Timestamp.IsZero() {
		ts := c.Timestamp.UnixMilli()
		in.Timestamp = &ts
	}
	return in
}

// AnalyzeRequest is the body of an analysis request.
type AnalyzeRequest struct {
	Symbol    string        `json:"symbol" default:"DEFAULT" validate:"max=32"`
	Timeframe string        `json:"timeframe" default:"1m" validate:"max=16"`
	OHLC      []CandleInput `json:"ohlc" validate:"required,min=1,dive"`
}

// Candles converts every input candle.
func (r AnalyzeRequest) Candles() []Candle {
	out := make([]Candle, len(r.OHLC))
	for i, in := range r.OHLC {
		out[i] = in.ToCandle()
	}
	return out
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
