// Package shaper orchestrates shaping operations: it resolves intent into a
// profile, derives queueing parameters and drives the configured backend,
// serializing operations per interface.
package shaper

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nrednav/cuid2"
	"github.com/onkernel/netshape/lib/backend"
	"github.com/onkernel/netshape/lib/logger"
	"github.com/onkernel/netshape/lib/shaping"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Manager applies, resets and reports egress shaping.
type Manager interface {
	// Apply resolves the request and configures the interface. Nothing is
	// changed on the interface unless resolution succeeds.
	Apply(ctx context.Context, req ApplyRequest) (*Result, error)

	// Reset removes all shaping from iface.
	Reset(ctx context.Context, iface string) error

	// Status reports the active shaping state.
	Status(ctx context.Context) (*Status, error)

	// Presets lists the available presets.
	Presets() []shaping.Preset
}

type manager struct {
	resolver *shaping.Resolver
	backend  backend.Backend
	metrics  *Metrics

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex // one per interface, never removed

	shapedMu sync.RWMutex
	shaped   map[string]Result
}

// NewManager creates a shaping manager. meter and tracer may be nil.
func NewManager(resolver *shaping.Resolver, b backend.Backend, meter metric.Meter, tracer trace.Tracer) (Manager, error) {
	if resolver == nil {
		resolver = shaping.NewResolver(nil)
	}
	m := &manager{
		resolver: resolver,
		backend:  b,
		locks:    make(map[string]*sync.Mutex),
		shaped:   make(map[string]Result),
	}
	if meter != nil {
		metrics, err := newShaperMetrics(meter, tracer, m)
		if err != nil {
			return nil, err
		}
		m.metrics = metrics
	}
	return m, nil
}

func (m *manager) lockFor(iface string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[iface]
	if !ok {
		l = &sync.Mutex{}
		m.locks[iface] = l
	}
	return l
}

func (m *manager) startSpan(ctx context.Context, name string, iface string) (context.Context, trace.Span) {
	if m.metrics == nil || m.metrics.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return m.metrics.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("interface", iface),
		attribute.String("backend", string(m.backend.Type())),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// requestedInterfaceAttr carries a name that has not been confirmed as a
// device. Only confirmed names go under logger.InterfaceAttr, which opens a
// history file.
const requestedInterfaceAttr = "requested_interface"

// interfaceLogger binds iface under the key matching what err says about it.
func interfaceLogger(log *slog.Logger, iface string, err error) *slog.Logger {
	if errors.Is(err, backend.ErrInterfaceNotFound) {
		return log.With(requestedInterfaceAttr, iface)
	}
	return log.With(logger.InterfaceAttr, iface)
}

func (m *manager) Apply(ctx context.Context, req ApplyRequest) (result *Result, err error) {
	start := time.Now()
	ctx, span := m.startSpan(ctx, "ApplyShaping", req.Interface)
	defer func() {
		m.recordOperation(ctx, "apply", start, err)
		endSpan(span, err)
	}()

	opID := cuid2.Generate()
	log := logger.FromContext(ctx).With("operation_id", opID)

	profile, err := m.resolver.Resolve(req.Interface, shaping.Selection{Preset: req.Preset}, req.Overrides)
	if err != nil {
		log.WarnContext(ctx, "rejected shaping request",
			requestedInterfaceAttr, req.Interface, "preset", req.Preset, "error", err)
		return nil, err
	}
	derived := shaping.Derive(profile)

	l := m.lockFor(profile.Interface)
	l.Lock()
	defer l.Unlock()

	log.DebugContext(ctx, "applying shaping",
		requestedInterfaceAttr, profile.Interface,
		"backend", m.backend.Type(),
		"queue_limit", derived.QueueLimitPackets,
		"mtu", derived.HTBMtuBytes)

	if err := m.backend.Apply(ctx, profile.Interface, profile, derived); err != nil {
		interfaceLogger(log, profile.Interface, err).ErrorContext(ctx, "failed to apply shaping", "error", err)
		return nil, err
	}
	log = log.With(logger.InterfaceAttr, profile.Interface)

	result = &Result{
		OperationID: opID,
		Backend:     m.backend.Type(),
		Profile:     profile,
		Derived:     derived,
		AppliedAt:   time.Now().UTC(),
	}
	m.shapedMu.Lock()
	m.shaped[profile.Interface] = *result
	m.shapedMu.Unlock()

	log.InfoContext(ctx, "shaping applied",
		"preset", profile.Preset,
		"rate_kbps", profile.RateKbps,
		"delay_ms", profile.DelayMs,
		"jitter_ms", profile.JitterMs,
		"loss_pct", profile.LossPct,
		"queue_limit", derived.QueueLimitPackets,
		"buffer", derived.BufferBytes.HumanReadable())
	return result, nil
}

func (m *manager) Reset(ctx context.Context, iface string) (err error) {
	start := time.Now()
	ctx, span := m.startSpan(ctx, "ResetShaping", iface)
	defer func() {
		m.recordOperation(ctx, "reset", start, err)
		endSpan(span, err)
	}()

	log := logger.FromContext(ctx)

	if err := shaping.ValidateInterfaceName(iface); err != nil {
		log.WarnContext(ctx, "rejected reset request", requestedInterfaceAttr, iface, "error", err)
		return err
	}

	l := m.lockFor(iface)
	l.Lock()
	defer l.Unlock()

	if err := m.backend.Reset(ctx, iface); err != nil {
		interfaceLogger(log, iface, err).ErrorContext(ctx, "failed to reset shaping", "error", err)
		return err
	}
	log = log.With(logger.InterfaceAttr, iface)

	m.shapedMu.Lock()
	delete(m.shaped, iface)
	m.shapedMu.Unlock()

	log.InfoContext(ctx, "shaping reset")
	return nil
}

func (m *manager) Status(ctx context.Context) (*Status, error) {
	out, err := m.backend.Query(ctx)
	if err != nil {
		logger.FromContext(ctx).ErrorContext(ctx, "failed to query shaping", "backend", m.backend.Type(), "error", err)
		return nil, err
	}

	m.shapedMu.RLock()
	shaped := make([]Result, 0, len(m.shaped))
	for _, r := range m.shaped {
		shaped = append(shaped, r)
	}
	m.shapedMu.RUnlock()
	sort.Slice(shaped, func(i, j int) bool {
		return shaped[i].Profile.Interface < shaped[j].Profile.Interface
	})

	return &Status{
		Backend: m.backend.Type(),
		Output:  out,
		Shaped:  shaped,
	}, nil
}

func (m *manager) Presets() []shaping.Preset {
	return m.resolver.Presets().Presets()
}

func (m *manager) shapedCount() int {
	m.shapedMu.RLock()
	defer m.shapedMu.RUnlock()
	return len(m.shaped)
}
