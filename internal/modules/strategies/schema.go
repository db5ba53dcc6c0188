package strategies

import (
	"math"
	"math/rand"
)

// ParameterRange bounds one tunable parameter
type ParameterRange struct {
	Name    string  `json:"name"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Integer bool    `json:"integer"`
}

// Clamp forces v into [Min, Max], rounding integer parameters.
// NaN maps to Min.
func (r ParameterRange) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		v = r.Min
	}
	if r.Integer {
		v = math.Round(v)
	}
	return math.Max(r.Min, math.Min(r.Max, v))
}

// Contains reports whether v lies within the range
func (r ParameterRange) Contains(v float64) bool {
	if r.Integer && v != math.Round(v) {
		return false
	}
	return v >= r.Min && v <= r.Max
}

// Sample draws a value uniformly from the range
func (r ParameterRange) Sample(rng *rand.Rand) float64 {
	if r.Integer {
		lo, hi := int(math.Ceil(r.Min)), int(math.Floor(r.Max))
		return float64(lo + rng.Intn(hi-lo+1))
	}
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

// Midpoint returns the default value used when a parameter is missing
func (r ParameterRange) Midpoint() float64 {
	return r.Clamp((r.Min + r.Max) / 2)
}

// Schema is the ordered list of parameters a strategy accepts
type Schema []ParameterRange

// Common risk parameters shared by every strategy
var riskSchema = Schema{
	{Name: ParamStopLossPct, Min: 1, Max: 15},
	{Name: ParamTakeProfitPct, Min: 2, Max: 30},
	{Name: ParamPositionSizeRatio, Min: 0.1, Max: 1.0},
}

// Parameter names understood outside individual strategies
const (
	ParamStopLossPct       = "stop_loss_pct"
	ParamTakeProfitPct     = "take_profit_pct"
	ParamPositionSizeRatio = "position_size_ratio"
)

func withRisk(s Schema) Schema {
	out := make(Schema, 0, len(s)+len(riskSchema))
	out = append(out, s...)
	return append(out, riskSchema...)
}

// Range looks up a parameter by name
func (s Schema) Range(name string) (ParameterRange, bool) {
	for _, r := range s {
		if r.Name == name {
			return r, true
		}
	}
	return ParameterRange{}, false
}

// Names returns parameter names in schema order
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, r := range s {
		names[i] = r.Name
	}
	return names
}

// Sample draws every parameter independently
func (s Schema) Sample(rng *rand.Rand) Params {
	p := make(Params, len(s))
	for _, r := range s {
		p[r.Name] = r.Sample(rng)
	}
	return p
}

// Clamp returns a copy of p restricted to the schema: unknown names are
// dropped, missing names get the range midpoint and every value is clamped.
func (s Schema) Clamp(p Params) Params {
	out := make(Params, len(s))
	for _, r := range s {
		v, ok := p[r.Name]
		if !ok {
			v = r.Midpoint()
		}
		out[r.Name] = r.Clamp(v)
	}
	return out
}

// Validate reports whether every schema parameter is present and in range
func (s Schema) Validate(p Params) bool {
	for _, r := range s {
		v, ok := p[r.Name]
		if !ok || !r.Contains(v) {
			return false
		}
	}
	return true
}

// Params maps parameter name to value
type Params map[string]float64

// Get returns the named value or def when absent
func (p Params) Get(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

// Int returns the named value as an int
func (p Params) Int(name string, def int) int {
	return int(math.Round(p.Get(name, float64(def))))
}

// Clone copies p
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// RiskPcts extracts the stop-loss and take-profit percentages, nil when absent
func (p Params) RiskPcts() (stopLoss, takeProfit *float64) {
	if v, ok := p[ParamStopLossPct]; ok {
		stopLoss = &v
	}
	if v, ok := p[ParamTakeProfitPct]; ok {
		takeProfit = &v
	}
	return stopLoss, takeProfit
}

// PositionSizeRatio returns the fraction of cash committed per buy, within (0, 1]
func (p Params) PositionSizeRatio() float64 {
	r := p.Get(ParamPositionSizeRatio, 1.0)
	if r <= 0 || r > 1 || math.IsNaN(r) {
		return 1.0
	}
	return r
}
