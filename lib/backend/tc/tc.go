// Package tc implements the shaping backend on top of the iproute2 tc tool.
// It builds an HTB root qdisc with one default class for the rate limit and
// a netem qdisc below that class for delay, jitter and loss.
package tc

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strings"
	"syscall"

	"github.com/onkernel/netshape/lib/backend"
	"github.com/onkernel/netshape/lib/logger"
	"github.com/onkernel/netshape/lib/shaping"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

func init() {
	backend.Register(backend.TypeTC, func(opts backend.Options) (backend.Backend, error) {
		return New(opts.TCPath)
	})
}

var (
	rootHandle  = fmt.Sprintf("%d:", backend.RootHandleMajor)
	classID     = fmt.Sprintf("%d:%d", backend.RootHandleMajor, backend.ClassHandleMinor)
	netemHandle = fmt.Sprintf("%d:", backend.NetemHandleMajor)
)

// runner executes a command and returns its combined output.
type runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// execRunner runs commands with CAP_NET_ADMIN as an ambient capability so
// tc inherits it from a capability-granted (non-root) parent.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		AmbientCaps: []uintptr{unix.CAP_NET_ADMIN},
	}
	return cmd.CombinedOutput()
}

// Backend shapes traffic by invoking tc.
type Backend struct {
	tcPath     string
	run        runner
	linkExists func(name string) error
}

var _ backend.Backend = (*Backend)(nil)

// New creates a tc backend. tcPath defaults to "tc" looked up on PATH.
func New(tcPath string) (*Backend, error) {
	if tcPath == "" {
		tcPath = "tc"
	}
	resolved, err := exec.LookPath(tcPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrBackendUnavailable, err)
	}
	return &Backend{
		tcPath:     resolved,
		run:        execRunner{},
		linkExists: netlinkLinkExists,
	}, nil
}

func netlinkLinkExists(name string) error {
	_, err := netlink.LinkByName(name)
	return err
}

// Type returns backend.TypeTC.
func (b *Backend) Type() backend.Type {
	return backend.TypeTC
}

func (b *Backend) tc(ctx context.Context, args ...string) (string, error) {
	log := logger.FromContext(ctx)
	log.DebugContext(ctx, "running tc", "args", strings.Join(args, " "))
	out, err := b.run.Run(ctx, b.tcPath, args...)
	if err != nil {
		log.DebugContext(ctx, "tc failed", "args", strings.Join(args, " "), "output", string(out), "error", err)
	}
	return string(out), err
}

func (b *Backend) checkLink(iface string) error {
	if err := b.linkExists(iface); err != nil {
		return backend.Wrap("lookup interface "+iface, err, "")
	}
	return nil
}

// Apply installs or updates the HTB + netem hierarchy on iface.
func (b *Backend) Apply(ctx context.Context, iface string, profile *shaping.Profile, derived shaping.DerivedParameters) error {
	log := logger.FromContext(ctx)

	if err := b.checkLink(iface); err != nil {
		return err
	}

	plan := Plan(iface, profile, derived)

	// 1. Root HTB qdisc. HTB does not support in-place change, so an
	// existing root of ours is left alone and anything else is replaced.
	out, err := b.tc(ctx, "qdisc", "show", "dev", iface)
	if err != nil {
		return backend.Wrap("tc qdisc show", err, out)
	}
	if hasRootHTB(out) {
		log.DebugContext(ctx, "HTB root ready", "interface", iface, "status", "existing")
	} else {
		// A root of another kind holding 1: cannot be replaced by HTB.
		if kind := foreignRootKind(out); kind != "" {
			if out, err := b.tc(ctx, ResetArgs(iface)...); err != nil && !isNoQdisc(out) {
				return backend.Wrap("tc qdisc del", err, out)
			}
			log.DebugContext(ctx, "removed foreign root qdisc", "interface", iface, "kind", kind)
		}
		if out, err := b.tc(ctx, plan.Root...); err != nil {
			return backend.Wrap("tc qdisc replace htb", err, out)
		}
		log.DebugContext(ctx, "HTB root ready", "interface", iface, "status", "configured")
	}

	// 2. Rate class. "replace" creates it or changes the rate in place.
	if out, err := b.tc(ctx, plan.Class...); err != nil {
		return backend.Wrap("tc class replace htb", err, out)
	}

	// 3. Impairment stage below the class.
	if out, err := b.tc(ctx, plan.Netem...); err != nil {
		return backend.Wrap("tc qdisc replace netem", err, out)
	}

	log.InfoContext(ctx, "tc shaping applied", "interface", iface, "rate", FormatRate(profile.RateKbps),
		"delay_ms", profile.DelayMs, "jitter_ms", profile.JitterMs, "loss_pct", profile.LossPct,
		"limit", derived.QueueLimitPackets)
	return nil
}

// Reset deletes the root qdisc, which removes the class and netem with it.
func (b *Backend) Reset(ctx context.Context, iface string) error {
	if err := b.checkLink(iface); err != nil {
		return err
	}

	out, err := b.tc(ctx, ResetArgs(iface)...)
	if err == nil || isNoQdisc(out) {
		return nil
	}
	return backend.Wrap("tc qdisc del", err, out)
}

// Query returns tc's view of every qdisc, plus the classes on interfaces
// that carry an HTB root.
func (b *Backend) Query(ctx context.Context) (string, error) {
	out, err := b.tc(ctx, "qdisc", "show")
	if err != nil {
		return "", backend.Wrap("tc qdisc show", err, out)
	}

	var sb strings.Builder
	sb.WriteString(out)
	for _, dev := range htbRootDevices(out) {
		classes, err := b.tc(ctx, "class", "show", "dev", dev)
		if err != nil {
			return "", backend.Wrap("tc class show", err, classes)
		}
		sb.WriteString(classes)
	}
	return sb.String(), nil
}

// Commands holds the tc argument lists that shape one interface.
type Commands struct {
	Root  []string // root HTB qdisc, skipped when already present
	Class []string // rate class
	Netem []string // impairment stage
}

// All returns the commands in the order they are run.
func (c Commands) All() [][]string {
	return [][]string{c.Root, c.Class, c.Netem}
}

// Plan returns the tc arguments that shape iface according to profile.
func Plan(iface string, profile *shaping.Profile, derived shaping.DerivedParameters) Commands {
	return Commands{
		Root: []string{"qdisc", "replace", "dev", iface, "root",
			"handle", rootHandle, "htb", "default", fmt.Sprintf("%d", backend.ClassHandleMinor)},
		Class: []string{"class", "replace", "dev", iface, "parent", rootHandle,
			"classid", classID, "htb", "rate", FormatRate(profile.RateKbps), "mtu", fmt.Sprintf("%d", derived.HTBMtuBytes)},
		Netem: append([]string{"qdisc", "replace", "dev", iface, "parent", classID, "handle", netemHandle},
			NetemArgs(profile, derived)...),
	}
}

// ResetArgs returns the tc arguments that remove all shaping from iface.
func ResetArgs(iface string) []string {
	return []string{"qdisc", "del", "dev", iface, "root"}
}

// NetemArgs returns the netem qdisc arguments for a profile.
// e.g. "netem limit 10000 delay 300ms 20ms 25% loss 1% 25%"
func NetemArgs(profile *shaping.Profile, derived shaping.DerivedParameters) []string {
	corr := formatPercent(profile.CorrelationPct)
	args := []string{"netem", "limit", fmt.Sprintf("%d", derived.QueueLimitPackets)}
	if profile.DelayMs > 0 || profile.JitterMs > 0 {
		args = append(args, "delay", fmt.Sprintf("%dms", profile.DelayMs))
		if profile.JitterMs > 0 {
			args = append(args, fmt.Sprintf("%dms", profile.JitterMs), corr)
		}
	}
	if profile.LossPct > 0 {
		args = append(args, "loss", formatPercent(profile.LossPct), corr)
	}
	return args
}

// FormatRate formats a kbit/s rate as a tc rate string.
// It uses the largest unit that exactly represents the value to avoid
// truncation (e.g., 2500 kbit/s becomes "2500kbit" not "2mbit", and
// 9.6 kbit/s becomes "9600bit").
func FormatRate(rateKbps float64) string {
	bitsPerSec := int64(math.Round(rateKbps * 1000))
	if bitsPerSec < 1 {
		bitsPerSec = 1
	}
	switch {
	case bitsPerSec >= 1000000000 && bitsPerSec%1000000000 == 0:
		return fmt.Sprintf("%dgbit", bitsPerSec/1000000000)
	case bitsPerSec >= 1000000 && bitsPerSec%1000000 == 0:
		return fmt.Sprintf("%dmbit", bitsPerSec/1000000)
	case bitsPerSec >= 1000 && bitsPerSec%1000 == 0:
		return fmt.Sprintf("%dkbit", bitsPerSec/1000)
	default:
		return fmt.Sprintf("%dbit", bitsPerSec)
	}
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%s%%", strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), "."))
}

// hasRootHTB reports whether `tc qdisc show dev X` output has our HTB root.
// Line format: "qdisc htb 1: root refcnt 2 r2q 10 default 0x1 direct_packets_stat 0"
func hasRootHTB(out string) bool {
	return strings.Contains(out, "qdisc htb "+rootHandle+" root")
}

// foreignRootKind returns the kind of a non-HTB root qdisc that holds our
// root handle in `tc qdisc show dev X` output, or "".
// Line format: "qdisc netem 1: root refcnt 2 limit 1000 delay 100ms"
func foreignRootKind(out string) string {
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 4 && fields[0] == "qdisc" && fields[2] == rootHandle && fields[3] == "root" && fields[1] != "htb" {
			return fields[1]
		}
	}
	return ""
}

// htbRootDevices parses `tc qdisc show` output for devices with our HTB root.
// Line format: "qdisc htb 1: dev eth0 root refcnt 2 r2q 10 default 0x1 ..."
func htbRootDevices(out string) []string {
	var devs []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 || fields[0] != "qdisc" || fields[1] != "htb" || fields[2] != rootHandle {
			continue
		}
		if fields[3] == "dev" && fields[5] == "root" {
			devs = append(devs, fields[4])
		}
	}
	return devs
}

// isNoQdisc reports whether a failed delete only means nothing was installed.
func isNoQdisc(out string) bool {
	return strings.Contains(out, "Cannot delete qdisc with handle of zero") ||
		strings.Contains(out, "Cannot find specified qdisc") ||
		strings.Contains(out, "No such file or directory")
}
