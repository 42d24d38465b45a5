// Package memory implements an in-process shaping backend. It records what
// would be applied without touching the kernel, for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/onkernel/netshape/lib/backend"
	"github.com/onkernel/netshape/lib/shaping"
)

func init() {
	backend.Register(backend.TypeMemory, func(opts backend.Options) (backend.Backend, error) {
		return New(opts.Interfaces...), nil
	})
}

// State is the shaping recorded for one interface.
type State struct {
	Profile shaping.Profile
	Derived shaping.DerivedParameters
}

// Backend keeps shaping state in a map.
type Backend struct {
	mu     sync.Mutex
	known  map[string]bool // nil accepts any interface
	states map[string]State
}

var _ backend.Backend = (*Backend)(nil)

// New creates a memory backend. If interfaces are given, only those names
// exist; otherwise every name is accepted.
func New(interfaces ...string) *Backend {
	b := &Backend{states: make(map[string]State)}
	if len(interfaces) > 0 {
		b.known = make(map[string]bool, len(interfaces))
		for _, name := range interfaces {
			b.known[name] = true
		}
	}
	return b
}

// Type returns backend.TypeMemory.
func (b *Backend) Type() backend.Type {
	return backend.TypeMemory
}

func (b *Backend) checkLink(iface string) error {
	if b.known != nil && !b.known[iface] {
		return fmt.Errorf("%w: %s", backend.ErrInterfaceNotFound, iface)
	}
	return nil
}

// Apply records the profile for iface, replacing any previous one.
func (b *Backend) Apply(ctx context.Context, iface string, profile *shaping.Profile, derived shaping.DerivedParameters) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkLink(iface); err != nil {
		return err
	}
	b.states[iface] = State{Profile: *profile, Derived: derived}
	return nil
}

// Reset forgets iface.
func (b *Backend) Reset(ctx context.Context, iface string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkLink(iface); err != nil {
		return err
	}
	delete(b.states, iface)
	return nil
}

// Query renders the recorded state, one interface per line, sorted by name.
func (b *Backend) Query(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.states))
	for name := range b.states {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		s := b.states[name]
		fmt.Fprintf(&sb, "%s limit %d mtu %d\n", s.Profile.String(), s.Derived.QueueLimitPackets, s.Derived.HTBMtuBytes)
	}
	return sb.String(), nil
}

// Get returns the state recorded for iface.
func (b *Backend) Get(iface string) (State, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.states[iface]
	return s, ok
}
