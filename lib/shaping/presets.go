package shaping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Preset is a named bundle of rate/delay/loss values approximating a real
// network technology. Presets never carry jitter or correlation.
type Preset struct {
	Names       []string `json:"names"` // First name is canonical, the rest are aliases
	RateKbps    float64  `json:"rate_kbps"`
	DelayMs     int      `json:"delay_ms"`
	LossPct     float64  `json:"loss_pct"`
	Description string   `json:"description,omitempty"`
}

// Name returns the canonical name of the preset.
func (p Preset) Name() string {
	if len(p.Names) == 0 {
		return ""
	}
	return p.Names[0]
}

// builtinPresets is the static preset table. Several names can share one row.
var builtinPresets = []Preset{
	{Names: []string{"gsm", "2g", "csd"}, RateKbps: 9.6, DelayMs: 650, LossPct: 2.0, Description: "GSM circuit-switched data"},
	{Names: []string{"2.5g", "gprs", "edge"}, RateKbps: 200, DelayMs: 500, LossPct: 1.5, Description: "GPRS / EDGE packet data"},
	{Names: []string{"3g", "umts"}, RateKbps: 700, DelayMs: 300, LossPct: 1.0, Description: "UMTS"},
	{Names: []string{"3.5g", "hspa"}, RateKbps: 2000, DelayMs: 150, LossPct: 1.0, Description: "HSPA / HSPA+"},
	{Names: []string{"4g", "lte"}, RateKbps: 4500, DelayMs: 80, LossPct: 1.0, Description: "LTE under typical load"},
	{Names: []string{"dialup", "modem"}, RateKbps: 56, DelayMs: 120, LossPct: 0.5, Description: "V.90 dial-up modem"},
	{Names: []string{"dsl", "adsl"}, RateKbps: 1500, DelayMs: 30, LossPct: 0.1, Description: "Entry-level ADSL uplink"},
	{Names: []string{"cable"}, RateKbps: 5000, DelayMs: 20, LossPct: 0.1, Description: "DOCSIS cable uplink"},
	{Names: []string{"wifi"}, RateKbps: 30000, DelayMs: 5, LossPct: 0.2, Description: "Uncongested 802.11n"},
	{Names: []string{"wifi-busy"}, RateKbps: 2000, DelayMs: 40, LossPct: 3.0, Description: "Congested shared Wi-Fi"},
	{Names: []string{"vsat", "satellite"}, RateKbps: 5000, DelayMs: 600, LossPct: 0.2, Description: "Geostationary VSAT link"},
	{Names: []string{"vsat-busy"}, RateKbps: 500, DelayMs: 800, LossPct: 3.0, Description: "Oversubscribed VSAT link"},
}

// Table is an immutable preset lookup table keyed by every name of every row.
type Table struct {
	presets []Preset
	index   map[string]int
}

// NewTable builds a table from presets. Names are case-insensitive and must
// be unique across all rows.
func NewTable(presets ...Preset) (*Table, error) {
	t := &Table{index: make(map[string]int)}
	if err := t.add(presets); err != nil {
		return nil, err
	}
	return t, nil
}

var defaultTable = lo.Must(NewTable(builtinPresets...))

// DefaultTable returns the built-in preset table.
func DefaultTable() *Table {
	return defaultTable
}

// Extend returns a new table holding t's rows followed by extra.
// Extra rows may not reuse a name already present.
func (t *Table) Extend(extra ...Preset) (*Table, error) {
	nt := &Table{index: make(map[string]int, len(t.index))}
	if err := nt.add(t.presets); err != nil {
		return nil, err
	}
	if err := nt.add(extra); err != nil {
		return nil, err
	}
	return nt, nil
}

func (t *Table) add(presets []Preset) error {
	for _, p := range presets {
		if len(p.Names) == 0 {
			return fmt.Errorf("%w: preset without a name", ErrInvalidValue)
		}
		if p.RateKbps <= 0 || p.DelayMs < 0 || p.LossPct < 0 || p.LossPct > 100 {
			return fmt.Errorf("%w: preset %q has out-of-range values", ErrInvalidValue, p.Name())
		}
		row := len(t.presets)
		names := make([]string, 0, len(p.Names))
		for _, name := range p.Names {
			key := normalizePresetName(name)
			if key == "" {
				return fmt.Errorf("%w: preset %q has an empty alias", ErrInvalidValue, p.Name())
			}
			if _, exists := t.index[key]; exists {
				return fmt.Errorf("%w: preset name %q defined twice", ErrInvalidValue, key)
			}
			t.index[key] = row
			names = append(names, key)
		}
		p.Names = names
		t.presets = append(t.presets, p)
	}
	return nil
}

// Lookup returns the preset registered under name.
func (t *Table) Lookup(name string) (Preset, bool) {
	row, ok := t.index[normalizePresetName(name)]
	if !ok {
		return Preset{}, false
	}
	return t.presets[row], true
}

// Names returns every preset name and alias, sorted.
func (t *Table) Names() []string {
	names := lo.Keys(t.index)
	sort.Strings(names)
	return names
}

// Presets returns a copy of the table rows in definition order.
func (t *Table) Presets() []Preset {
	return lo.Map(t.presets, func(p Preset, _ int) Preset {
		p.Names = append([]string(nil), p.Names...)
		return p
	})
}

func normalizePresetName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
