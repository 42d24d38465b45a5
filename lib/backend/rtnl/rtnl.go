// Package rtnl implements the shaping backend over rtnetlink using
// vishvananda/netlink, without depending on the tc binary.
package rtnl

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/onkernel/netshape/lib/backend"
	"github.com/onkernel/netshape/lib/logger"
	"github.com/onkernel/netshape/lib/shaping"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

func init() {
	backend.Register(backend.TypeNetlink, func(backend.Options) (backend.Backend, error) {
		return New()
	})
}

var (
	rootHandle  = netlink.MakeHandle(backend.RootHandleMajor, 0)
	classHandle = netlink.MakeHandle(backend.RootHandleMajor, backend.ClassHandleMinor)
	netemHandle = netlink.MakeHandle(backend.NetemHandleMajor, 0)
)

// Backend shapes traffic through a netlink handle.
type Backend struct {
	h *netlink.Handle
}

var _ backend.Backend = (*Backend)(nil)

// New creates a backend bound to the current network namespace.
func New() (*Backend, error) {
	h, err := netlink.NewHandle(unix.NETLINK_ROUTE)
	if err != nil {
		return nil, backend.Wrap("open netlink handle", err, "")
	}
	return &Backend{h: h}, nil
}

// NewWithHandle creates a backend using an existing handle, e.g. one opened
// in another namespace with netlink.NewHandleAt.
func NewWithHandle(h *netlink.Handle) *Backend {
	return &Backend{h: h}
}

// Type returns backend.TypeNetlink.
func (b *Backend) Type() backend.Type {
	return backend.TypeNetlink
}

// Close releases the netlink sockets.
func (b *Backend) Close() {
	b.h.Close()
}

// Apply installs or updates the HTB + netem hierarchy on iface.
func (b *Backend) Apply(ctx context.Context, iface string, profile *shaping.Profile, derived shaping.DerivedParameters) error {
	log := logger.FromContext(ctx)

	link, err := b.h.LinkByName(iface)
	if err != nil {
		return backend.Wrap("lookup interface "+iface, err, "")
	}
	index := link.Attrs().Index

	// 1. Root HTB qdisc, created only if ours is not already there.
	qdiscs, err := b.h.QdiscList(link)
	if err != nil {
		return backend.Wrap("list qdiscs", err, "")
	}
	if findRootHTB(qdiscs) == nil {
		// A root of another kind holding 1: cannot be replaced by HTB.
		if q := findForeignRoot(qdiscs); q != nil {
			if err := b.h.QdiscDel(q); err != nil && !errors.Is(err, unix.ENOENT) {
				return backend.Wrap("delete foreign root qdisc", err, "")
			}
			log.DebugContext(ctx, "removed foreign root qdisc", "interface", iface, "kind", q.Type())
		}
		root := netlink.NewHtb(netlink.QdiscAttrs{
			LinkIndex: index,
			Handle:    rootHandle,
			Parent:    netlink.HANDLE_ROOT,
		})
		root.Defcls = backend.ClassHandleMinor
		if err := b.h.QdiscReplace(root); err != nil {
			return backend.Wrap("replace root htb", err, "")
		}
		log.DebugContext(ctx, "HTB root ready", "interface", iface, "status", "configured")
	}

	// 2. Rate class. The bucket is sized for one HTB MTU on top of a
	// timer tick worth of traffic.
	bitsPerSec := uint64(math.Round(profile.RateKbps * 1000))
	if bitsPerSec == 0 {
		bitsPerSec = 1
	}
	bucket := uint32(float64(bitsPerSec/8)/netlink.Hz() + float64(derived.HTBMtuBytes))
	class := netlink.NewHtbClass(netlink.ClassAttrs{
		LinkIndex: index,
		Parent:    rootHandle,
		Handle:    classHandle,
	}, netlink.HtbClassAttrs{
		Rate:    bitsPerSec,
		Ceil:    bitsPerSec,
		Buffer:  bucket,
		Cbuffer: bucket,
	})
	if err := b.h.ClassReplace(class); err != nil {
		return backend.Wrap("replace htb class", err, "")
	}

	// 3. Impairment stage.
	netem := netlink.NewNetem(netlink.QdiscAttrs{
		LinkIndex: index,
		Parent:    classHandle,
		Handle:    netemHandle,
	}, NetemAttrs(profile, derived))
	if err := b.h.QdiscReplace(netem); err != nil {
		return backend.Wrap("replace netem", err, "")
	}

	log.InfoContext(ctx, "netlink shaping applied", "interface", iface, "rate_bps", bitsPerSec,
		"delay_ms", profile.DelayMs, "jitter_ms", profile.JitterMs, "loss_pct", profile.LossPct,
		"limit", derived.QueueLimitPackets)
	return nil
}

// NetemAttrs converts a profile into netem attributes.
// Latency and jitter are in microseconds, percentages stay percentages.
func NetemAttrs(profile *shaping.Profile, derived shaping.DerivedParameters) netlink.NetemQdiscAttrs {
	attrs := netlink.NetemQdiscAttrs{
		Limit:   uint32(derived.QueueLimitPackets),
		Latency: uint32(profile.DelayMs) * 1000,
		Jitter:  uint32(profile.JitterMs) * 1000,
		Loss:    float32(profile.LossPct),
	}
	if profile.JitterMs > 0 {
		attrs.DelayCorr = float32(profile.CorrelationPct)
	}
	if profile.LossPct > 0 {
		attrs.LossCorr = float32(profile.CorrelationPct)
	}
	return attrs
}

// Reset deletes the root qdisc if one is installed.
func (b *Backend) Reset(ctx context.Context, iface string) error {
	link, err := b.h.LinkByName(iface)
	if err != nil {
		return backend.Wrap("lookup interface "+iface, err, "")
	}

	qdiscs, err := b.h.QdiscList(link)
	if err != nil {
		return backend.Wrap("list qdiscs", err, "")
	}
	for _, q := range qdiscs {
		attrs := q.Attrs()
		// Kernel default roots (mq, pfifo_fast, noqueue) have handle 0 and
		// cannot be deleted.
		if attrs.Parent != netlink.HANDLE_ROOT || attrs.Handle == 0 {
			continue
		}
		if err := b.h.QdiscDel(q); err != nil && !errors.Is(err, unix.ENOENT) {
			return backend.Wrap("delete root qdisc", err, "")
		}
		logger.FromContext(ctx).DebugContext(ctx, "root qdisc deleted", "interface", iface, "kind", q.Type())
	}
	return nil
}

// Query renders the qdiscs and classes of every link in a tc-like format.
func (b *Backend) Query(ctx context.Context) (string, error) {
	links, err := b.h.LinkList()
	if err != nil {
		return "", backend.Wrap("list links", err, "")
	}

	var sb strings.Builder
	for _, link := range links {
		name := link.Attrs().Name
		qdiscs, err := b.h.QdiscList(link)
		if err != nil {
			return "", backend.Wrap("list qdiscs on "+name, err, "")
		}
		for _, q := range qdiscs {
			sb.WriteString(formatQdisc(name, q))
		}
		if findRootHTB(qdiscs) == nil {
			continue
		}
		classes, err := b.h.ClassList(link, rootHandle)
		if err != nil {
			return "", backend.Wrap("list classes on "+name, err, "")
		}
		for _, c := range classes {
			sb.WriteString(formatClass(name, c))
		}
	}
	return sb.String(), nil
}

func findRootHTB(qdiscs []netlink.Qdisc) *netlink.Htb {
	for _, q := range qdiscs {
		if htb, ok := q.(*netlink.Htb); ok && htb.Parent == netlink.HANDLE_ROOT && htb.Handle == rootHandle {
			return htb
		}
	}
	return nil
}

func findForeignRoot(qdiscs []netlink.Qdisc) netlink.Qdisc {
	for _, q := range qdiscs {
		attrs := q.Attrs()
		if _, ok := q.(*netlink.Htb); !ok && attrs.Parent == netlink.HANDLE_ROOT && attrs.Handle == rootHandle {
			return q
		}
	}
	return nil
}

func formatQdisc(dev string, q netlink.Qdisc) string {
	attrs := q.Attrs()
	parent := "root"
	if attrs.Parent != netlink.HANDLE_ROOT {
		parent = "parent " + netlink.HandleStr(attrs.Parent)
	}
	line := fmt.Sprintf("qdisc %s %s dev %s %s", q.Type(), netlink.HandleStr(attrs.Handle), dev, parent)
	if n, ok := q.(*netlink.Netem); ok {
		line += fmt.Sprintf(" limit %d delay %dms %dms loss %s",
			n.Limit, n.Latency/1000, n.Jitter/1000, kernelPercent(n.Loss))
	}
	return line + "\n"
}

func formatClass(dev string, c netlink.Class) string {
	attrs := c.Attrs()
	line := fmt.Sprintf("class %s %s dev %s parent %s", c.Type(), netlink.HandleStr(attrs.Handle), dev, netlink.HandleStr(attrs.Parent))
	if htb, ok := c.(*netlink.HtbClass); ok {
		line += fmt.Sprintf(" rate %dbit ceil %dbit", htb.Rate*8, htb.Ceil*8)
	}
	return line + "\n"
}

// kernelPercent renders a netem probability stored as a fraction of 2^32-1.
func kernelPercent(v uint32) string {
	return fmt.Sprintf("%.2f%%", float64(v)/math.MaxUint32*100)
}
