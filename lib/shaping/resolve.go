package shaping

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Selection names the preset to start from. The zero value selects none.
type Selection struct {
	Preset string
}

// None reports whether no preset is selected.
func (s Selection) None() bool {
	return strings.TrimSpace(s.Preset) == ""
}

// Resolver turns a selection and explicit overrides into a Profile.
// It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	presets *Table
}

// NewResolver creates a resolver backed by the given preset table.
// A nil table uses the built-in presets.
func NewResolver(presets *Table) *Resolver {
	if presets == nil {
		presets = DefaultTable()
	}
	return &Resolver{presets: presets}
}

// Presets returns the table the resolver looks presets up in.
func (r *Resolver) Presets() *Table {
	return r.presets
}

// Resolve builds the profile for iface. Values are layered in a fixed order:
// defaults, then the selected preset (rate, delay, loss), then each explicit
// override independently. Explicit values always win.
func (r *Resolver) Resolve(iface string, sel Selection, ov Overrides) (*Profile, error) {
	p := &Profile{
		Interface:      iface,
		RateKbps:       DefaultRateKbps,
		DelayMs:        DefaultDelayMs,
		JitterMs:       DefaultJitterMs,
		LossPct:        DefaultLossPct,
		CorrelationPct: CorrelationPct,
	}

	if !sel.None() {
		preset, ok := r.presets.Lookup(sel.Preset)
		if !ok {
			return nil, fmt.Errorf("%w: %q (known presets: %s)", ErrInvalidSelection, sel.Preset, strings.Join(r.presets.Names(), ", "))
		}
		p.Preset = preset.Name()
		p.RateKbps = preset.RateKbps
		p.DelayMs = preset.DelayMs
		p.LossPct = preset.LossPct
	}

	if ov.RateKbps != nil {
		p.RateKbps = *ov.RateKbps
	}
	if ov.DelayMs != nil {
		p.DelayMs = *ov.DelayMs
	}
	if ov.JitterMs != nil {
		p.JitterMs = *ov.JitterMs
	}
	if ov.LossPct != nil {
		p.LossPct = *ov.LossPct
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Resolve resolves against the built-in preset table.
func Resolve(iface string, sel Selection, ov Overrides) (*Profile, error) {
	return NewResolver(nil).Resolve(iface, sel, ov)
}

// ParseOverrides converts textual values into Overrides. An empty string
// leaves the field unset. Range checks happen in Resolve.
func ParseOverrides(rate, delay, jitter, loss string) (Overrides, error) {
	var ov Overrides
	var err error
	if ov.RateKbps, err = parseFloatField("rate", rate); err != nil {
		return Overrides{}, err
	}
	if ov.DelayMs, err = parseIntField("delay", delay); err != nil {
		return Overrides{}, err
	}
	if ov.JitterMs, err = parseIntField("jitter", jitter); err != nil {
		return Overrides{}, err
	}
	if ov.LossPct, err = parseFloatField("loss", loss); err != nil {
		return Overrides{}, err
	}
	return ov, nil
}

func parseFloatField(field, s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: %s %q is not a number", ErrInvalidValue, field, s)
	}
	return &v, nil
}

func parseIntField(field, s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q is not a whole number of milliseconds", ErrInvalidValue, field, s)
	}
	return &v, nil
}
