// Package shaping resolves egress shaping intent (preset or explicit
// rate/delay/jitter/loss) into a validated Profile and derives the
// backend-level queueing parameters from it.
package shaping

import (
	"fmt"
	"math"
	"strings"

	"github.com/c2h5oh/datasize"
)

// Defaults applied before any preset or explicit override.
const (
	DefaultRateKbps = 5000.0
	DefaultDelayMs  = 0
	DefaultJitterMs = 0
	DefaultLossPct  = 0.0
)

// CorrelationPct is the probability that a packet repeats the delay/loss
// outcome of the previous one. It must stay non-zero: zero turns the burst
// model into independent random impairment.
const CorrelationPct = 25.0

// MaxDelayMs bounds delay and jitter so the microsecond value netem takes
// still fits in a u32.
const MaxDelayMs = math.MaxUint32 / 1000

// maxInterfaceNameLen is IFNAMSIZ minus the trailing NUL.
const maxInterfaceNameLen = 15

// Profile is the fully resolved shaping intent for one interface.
// A Profile returned by Resolve is never modified afterwards.
type Profile struct {
	Interface      string  `json:"interface"`
	RateKbps       float64 `json:"rate_kbps"`
	DelayMs        int     `json:"delay_ms"`
	JitterMs       int     `json:"jitter_ms"`
	LossPct        float64 `json:"loss_pct"`
	CorrelationPct float64 `json:"correlation_pct"`
	Preset         string  `json:"preset,omitempty"` // Preset the profile started from, if any
}

// Impaired reports whether the profile injects delay or loss.
func (p *Profile) Impaired() bool {
	return p.DelayMs > 0 || p.LossPct > 0
}

// Validate checks the profile invariants.
func (p *Profile) Validate() error {
	if err := ValidateInterfaceName(p.Interface); err != nil {
		return err
	}
	if math.IsNaN(p.RateKbps) || math.IsInf(p.RateKbps, 0) || p.RateKbps <= 0 {
		return fmt.Errorf("%w: rate must be a positive number of kbit/s, got %v", ErrInvalidValue, p.RateKbps)
	}
	if p.DelayMs < 0 || p.DelayMs > MaxDelayMs {
		return fmt.Errorf("%w: delay must be between 0 and %dms, got %dms", ErrInvalidValue, MaxDelayMs, p.DelayMs)
	}
	if p.JitterMs < 0 || p.JitterMs > MaxDelayMs {
		return fmt.Errorf("%w: jitter must be between 0 and %dms, got %dms", ErrInvalidValue, MaxDelayMs, p.JitterMs)
	}
	if math.IsNaN(p.LossPct) || p.LossPct < 0 || p.LossPct > 100 {
		return fmt.Errorf("%w: loss must be between 0 and 100 percent, got %v", ErrInvalidValue, p.LossPct)
	}
	if p.Impaired() && (p.CorrelationPct <= 0 || p.CorrelationPct > 100) {
		return fmt.Errorf("%w: correlation must be in (0, 100] when delay or loss is set, got %v", ErrInvalidValue, p.CorrelationPct)
	}
	return nil
}

func (p *Profile) String() string {
	return fmt.Sprintf("%s rate=%vkbit delay=%dms jitter=%dms loss=%v%% correlation=%v%%",
		p.Interface, p.RateKbps, p.DelayMs, p.JitterMs, p.LossPct, p.CorrelationPct)
}

// ValidateInterfaceName checks that name could be a Linux network device name.
// It does not check that the device exists.
func ValidateInterfaceName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: interface name is required", ErrInvalidValue)
	case len(name) > maxInterfaceNameLen:
		return fmt.Errorf("%w: interface name %q exceeds %d characters", ErrInvalidValue, name, maxInterfaceNameLen)
	case name == "." || name == "..":
		return fmt.Errorf("%w: interface name %q is reserved", ErrInvalidValue, name)
	case strings.ContainsAny(name, "/ \t\n"):
		return fmt.Errorf("%w: interface name %q contains '/' or whitespace", ErrInvalidValue, name)
	}
	return nil
}

// Overrides holds explicitly supplied values. A nil field is unset and
// falls back to the preset or default value.
type Overrides struct {
	RateKbps *float64 `json:"rate_kbps,omitempty"`
	DelayMs  *int     `json:"delay_ms,omitempty"`
	JitterMs *int     `json:"jitter_ms,omitempty"`
	LossPct  *float64 `json:"loss_pct,omitempty"`
}

// Empty reports whether no override is set.
func (o Overrides) Empty() bool {
	return o.RateKbps == nil && o.DelayMs == nil && o.JitterMs == nil && o.LossPct == nil
}

// DerivedParameters are the backend-facing values computed from a Profile.
type DerivedParameters struct {
	// QueueLimitPackets is the number of packets the impairment stage may hold
	// while delaying them.
	QueueLimitPackets int `json:"queue_limit_packets"`

	// HTBMtuBytes is the transmission unit used for rate-class bucketing.
	HTBMtuBytes int `json:"htb_mtu_bytes"`

	// BufferBytes estimates the memory a full queue occupies at the assumed packet size.
	BufferBytes datasize.ByteSize `json:"buffer_size"`
}
