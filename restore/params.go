package restore

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Params are the seven per-run controls. Every field except Warmth is
// normalized to [0,1]; Warmth is in [-1,1].
type Params struct {
	Strength   float64 `json:"strength" yaml:"strength"`
	Scratch    float64 `json:"scratchAmount" yaml:"scratchAmount"`
	Smooth     float64 `json:"smoothAmount" yaml:"smoothAmount"`
	Detail     float64 `json:"detailAmount" yaml:"detailAmount"`
	Contrast   float64 `json:"contrastAmount" yaml:"contrastAmount"`
	Saturation float64 `json:"saturationAmount" yaml:"saturationAmount"`
	Warmth     float64 `json:"warmthAmount" yaml:"warmthAmount"`
}

// Auto is the hand-tuned parameter set behind the one-click fix.
func Auto() Params {
	return Params{
		Strength:   0.70,
		Scratch:    0.40,
		Smooth:     0.25,
		Detail:     0.30,
		Contrast:   0.22,
		Saturation: 0.16,
		Warmth:     0.12,
	}
}

// Clamped returns p with every field forced into its domain. NaN becomes 0.
func (p Params) Clamped() Params {
	return Params{
		Strength:   clampParam(p.Strength, 0),
		Scratch:    clampParam(p.Scratch, 0),
		Smooth:     clampParam(p.Smooth, 0),
		Detail:     clampParam(p.Detail, 0),
		Contrast:   clampParam(p.Contrast, 0),
		Saturation: clampParam(p.Saturation, 0),
		Warmth:     clampParam(p.Warmth, -1),
	}
}

func clampParam(v, lo float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return clamp(v, lo, 1)
}

// fields maps the wire names onto Params fields. sharpenAmount is the name
// the multi-pass tooling uses for the same control as detailAmount.
var fields = map[string]func(*Params) *float64{
	"strength":         func(p *Params) *float64 { return &p.Strength },
	"scratchAmount":    func(p *Params) *float64 { return &p.Scratch },
	"smoothAmount":     func(p *Params) *float64 { return &p.Smooth },
	"detailAmount":     func(p *Params) *float64 { return &p.Detail },
	"sharpenAmount":    func(p *Params) *float64 { return &p.Detail },
	"contrastAmount":   func(p *Params) *float64 { return &p.Contrast },
	"saturationAmount": func(p *Params) *float64 { return &p.Saturation },
	"warmthAmount":     func(p *Params) *float64 { return &p.Warmth },
}

// ParamNames lists the accepted field names in sorted order.
func ParamNames() []string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Set assigns one field by its wire name. The value is stored as given;
// clamping happens when the pipeline runs.
func (p *Params) Set(name string, v float64) error {
	f, ok := fields[name]
	if !ok {
		return fmt.Errorf("unknown parameter %q", name)
	}
	*f(p) = v
	return nil
}

// UnmarshalJSON accepts sharpenAmount as an alias for detailAmount.
func (p *Params) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if _, both := raw["detailAmount"]; both && k == "sharpenAmount" {
			continue
		}
		if err := p.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}
