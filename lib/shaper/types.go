package shaper

import (
	"time"

	"github.com/onkernel/netshape/lib/backend"
	"github.com/onkernel/netshape/lib/shaping"
)

// ApplyRequest is the caller's shaping intent for one interface.
type ApplyRequest struct {
	Interface string
	Preset    string            // empty selects no preset
	Overrides shaping.Overrides // nil fields fall back to preset or default
}

// Result describes a successful apply.
type Result struct {
	OperationID string                    `json:"operation_id"`
	Backend     backend.Type              `json:"backend"`
	Profile     *shaping.Profile          `json:"profile"`
	Derived     shaping.DerivedParameters `json:"derived"`
	AppliedAt   time.Time                 `json:"applied_at"`
}

// Status is the active shaping state as reported by the backend, plus the
// interfaces this process has shaped and not yet reset.
type Status struct {
	Backend backend.Type `json:"backend"`
	Output  string       `json:"output"`
	Shaped  []Result     `json:"shaped"`
}
