package shaping

import (
	"errors"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDefaults(t *testing.T) {
	p, err := Resolve("eth0", Selection{}, Overrides{})
	require.NoError(t, err)

	assert.Equal(t, "eth0", p.Interface)
	assert.Equal(t, 5000.0, p.RateKbps)
	assert.Equal(t, 0, p.DelayMs)
	assert.Equal(t, 0, p.JitterMs)
	assert.Equal(t, 0.0, p.LossPct)
	assert.Equal(t, CorrelationPct, p.CorrelationPct)
	assert.Empty(t, p.Preset)
}

func TestResolveEveryPreset(t *testing.T) {
	for _, preset := range DefaultTable().Presets() {
		for _, name := range preset.Names {
			t.Run(name, func(t *testing.T) {
				p, err := Resolve("eth0", Selection{Preset: name}, Overrides{})
				require.NoError(t, err)

				assert.Equal(t, preset.RateKbps, p.RateKbps)
				assert.Equal(t, preset.DelayMs, p.DelayMs)
				assert.Equal(t, preset.LossPct, p.LossPct)
				assert.Equal(t, 0, p.JitterMs, "presets never set jitter")
				assert.Equal(t, preset.Name(), p.Preset)
			})
		}
	}
}

func TestResolveAliasesShareRow(t *testing.T) {
	gprs, err := Resolve("eth0", Selection{Preset: "gprs"}, Overrides{})
	require.NoError(t, err)
	edge, err := Resolve("eth0", Selection{Preset: "edge"}, Overrides{})
	require.NoError(t, err)
	g25, err := Resolve("eth0", Selection{Preset: "2.5g"}, Overrides{})
	require.NoError(t, err)

	assert.Equal(t, gprs, edge)
	assert.Equal(t, gprs, g25)
}

func TestResolvePresetLookupIsCaseInsensitive(t *testing.T) {
	p, err := Resolve("eth0", Selection{Preset: " LTE "}, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "4g", p.Preset)
}

func TestResolveOverridesWin(t *testing.T) {
	tests := []struct {
		name   string
		preset string
		ov     Overrides
		want   Profile
	}{
		{
			name:   "4g with explicit delay",
			preset: "4g",
			ov:     Overrides{DelayMs: lo.ToPtr(50)},
			want:   Profile{RateKbps: 4500, DelayMs: 50, LossPct: 1.0},
		},
		{
			name:   "preset with jitter",
			preset: "vsat-busy",
			ov:     Overrides{JitterMs: lo.ToPtr(30)},
			want:   Profile{RateKbps: 500, DelayMs: 800, JitterMs: 30, LossPct: 3.0},
		},
		{
			name:   "every field overridden",
			preset: "dsl",
			ov: Overrides{
				RateKbps: lo.ToPtr(9.6),
				DelayMs:  lo.ToPtr(10),
				JitterMs: lo.ToPtr(2),
				LossPct:  lo.ToPtr(0.0),
			},
			want: Profile{RateKbps: 9.6, DelayMs: 10, JitterMs: 2, LossPct: 0},
		},
		{
			name: "overrides without preset",
			ov:   Overrides{RateKbps: lo.ToPtr(700.0), DelayMs: lo.ToPtr(300)},
			want: Profile{RateKbps: 700, DelayMs: 300},
		},
		{
			name:   "explicit zero loss beats preset loss",
			preset: "wifi-busy",
			ov:     Overrides{LossPct: lo.ToPtr(0.0)},
			want:   Profile{RateKbps: 2000, DelayMs: 40, LossPct: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Resolve("eth0", Selection{Preset: tt.preset}, tt.ov)
			require.NoError(t, err)

			assert.Equal(t, tt.want.RateKbps, p.RateKbps)
			assert.Equal(t, tt.want.DelayMs, p.DelayMs)
			assert.Equal(t, tt.want.JitterMs, p.JitterMs)
			assert.Equal(t, tt.want.LossPct, p.LossPct)
		})
	}
}

func TestResolveUnknownPreset(t *testing.T) {
	_, err := Resolve("eth0", Selection{Preset: "5g"}, Overrides{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSelection))
	assert.Contains(t, err.Error(), "5g")
	assert.Contains(t, err.Error(), "known presets: ")
	assert.Contains(t, err.Error(), "4g")
}

func TestResolveInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		iface string
		ov    Overrides
	}{
		{name: "loss above 100", iface: "eth0", ov: Overrides{LossPct: lo.ToPtr(150.0)}},
		{name: "negative loss", iface: "eth0", ov: Overrides{LossPct: lo.ToPtr(-0.5)}},
		{name: "negative delay", iface: "eth0", ov: Overrides{DelayMs: lo.ToPtr(-1)}},
		{name: "negative jitter", iface: "eth0", ov: Overrides{JitterMs: lo.ToPtr(-3)}},
		{name: "delay beyond netem range", iface: "eth0", ov: Overrides{DelayMs: lo.ToPtr(MaxDelayMs + 1)}},
		{name: "jitter beyond netem range", iface: "eth0", ov: Overrides{JitterMs: lo.ToPtr(5000000)}},
		{name: "zero rate", iface: "eth0", ov: Overrides{RateKbps: lo.ToPtr(0.0)}},
		{name: "negative rate", iface: "eth0", ov: Overrides{RateKbps: lo.ToPtr(-10.0)}},
		{name: "missing interface", iface: ""},
		{name: "interface too long", iface: "averyveryverylongname"},
		{name: "interface with slash", iface: "../etc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Resolve(tt.iface, Selection{}, tt.ov)
			require.Error(t, err)
			assert.Nil(t, p)
			assert.True(t, errors.Is(err, ErrInvalidValue), "got %v", err)
		})
	}
}

func TestParseOverrides(t *testing.T) {
	ov, err := ParseOverrides("9.6", "", " 20 ", "0.5")
	require.NoError(t, err)

	require.NotNil(t, ov.RateKbps)
	assert.Equal(t, 9.6, *ov.RateKbps)
	assert.Nil(t, ov.DelayMs)
	require.NotNil(t, ov.JitterMs)
	assert.Equal(t, 20, *ov.JitterMs)
	require.NotNil(t, ov.LossPct)
	assert.Equal(t, 0.5, *ov.LossPct)

	empty, err := ParseOverrides("", "", "", "")
	require.NoError(t, err)
	assert.True(t, empty.Empty())
}

func TestParseOverridesRejectsNonNumeric(t *testing.T) {
	tests := []struct {
		name                      string
		rate, delay, jitter, loss string
	}{
		{name: "rate with unit", rate: "10mbit"},
		{name: "fractional delay", delay: "1.5"},
		{name: "word jitter", jitter: "lots"},
		{name: "NaN loss", loss: "NaN"},
		{name: "infinite rate", rate: "Inf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOverrides(tt.rate, tt.delay, tt.jitter, tt.loss)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidValue))
		})
	}
}
