// Package backend defines the capability interface for applying egress
// shaping to a network interface. Implementations live in subpackages
// (tc, rtnl, memory) and register themselves in init().
package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/onkernel/netshape/lib/shaping"
)

// Type identifies a backend implementation
type Type string

const (
	// TypeTC shells out to the iproute2 tc binary
	TypeTC Type = "tc"
	// TypeNetlink talks rtnetlink directly
	TypeNetlink Type = "netlink"
	// TypeMemory keeps state in process, for dry runs and tests
	TypeMemory Type = "memory"
)

// Queueing layout shared by the kernel backends: an HTB root whose single
// default class carries the rate limit, with netem attached below it.
const (
	RootHandleMajor  = 1
	ClassHandleMinor = 1
	NetemHandleMajor = 10
)

// Backend applies, clears and reports shaping state.
type Backend interface {
	// Type returns the backend implementation type.
	Type() Type

	// Apply creates or updates the rate class and impairment stage on the
	// egress queue of iface. Applying again updates in place.
	Apply(ctx context.Context, iface string, profile *shaping.Profile, derived shaping.DerivedParameters) error

	// Reset removes all shaping from iface. Succeeds if nothing is configured.
	Reset(ctx context.Context, iface string) error

	// Query describes all active shaping state on all interfaces, in the
	// backend's native form.
	Query(ctx context.Context) (string, error)
}

// Options configures backend construction.
type Options struct {
	// TCPath is the tc binary used by the tc backend. Empty means "tc" from PATH.
	TCPath string
	// Interfaces restricts the memory backend to known device names.
	// Empty accepts any name.
	Interfaces []string
}

// Factory constructs a backend.
type Factory func(opts Options) (Backend, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[Type]Factory)
)

// Register makes a backend available to New.
// Called by each implementation's init() function.
func Register(t Type, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[t] = f
}

// New constructs the backend registered for t.
func New(t Type, opts Options) (Backend, error) {
	factoriesMu.RLock()
	f, ok := factories[t]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no backend registered for %q (available: %v)", ErrBackendUnavailable, t, Registered())
	}
	return f(opts)
}

// Registered returns the registered backend types, sorted.
func Registered() []Type {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	types := make([]Type, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
