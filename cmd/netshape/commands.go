package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/onkernel/netshape/lib/backend/tc"
	mw "github.com/onkernel/netshape/lib/middleware"
	"github.com/onkernel/netshape/lib/shaper"
	"github.com/onkernel/netshape/lib/shaping"
)

func runApply(ctx context.Context, svc service, opts *options, stdout io.Writer) error {
	ov, err := shaping.ParseOverrides(opts.rate, opts.delay, opts.jitter, opts.loss)
	if err != nil {
		return err
	}

	res, err := svc.Apply(ctx, shaper.ApplyRequest{
		Interface: opts.iface,
		Preset:    opts.preset,
		Overrides: ov,
	})
	if err != nil {
		return err
	}

	if opts.dryRun {
		for _, args := range tc.Plan(res.Profile.Interface, res.Profile, res.Derived).All() {
			fmt.Fprintf(stdout, "tc %s\n", strings.Join(args, " "))
		}
		return nil
	}

	p := res.Profile
	preset := ""
	if p.Preset != "" {
		preset = fmt.Sprintf(" (preset %s)", p.Preset)
	}
	fmt.Fprintf(stdout, "%s: rate %s, delay %dms, jitter %dms, loss %v%%%s\n",
		p.Interface, tc.FormatRate(p.RateKbps), p.DelayMs, p.JitterMs, p.LossPct, preset)
	fmt.Fprintf(stdout, "  queue limit %d packets (~%s), mtu %d, backend %s\n",
		res.Derived.QueueLimitPackets, res.Derived.BufferBytes.HumanReadable(), res.Derived.HTBMtuBytes, res.Backend)
	return nil
}

func runReset(ctx context.Context, svc service, opts *options, stdout io.Writer) error {
	if opts.dryRun {
		if err := shaping.ValidateInterfaceName(opts.iface); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "tc %s\n", strings.Join(tc.ResetArgs(opts.iface), " "))
		return nil
	}
	if err := svc.Reset(ctx, opts.iface); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: shaping removed\n", opts.iface)
	return nil
}

func runStatus(ctx context.Context, svc service, stdout io.Writer) error {
	st, err := svc.Status(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(st.Output) == "" {
		fmt.Fprintln(stdout, "no shaping active")
		return nil
	}
	fmt.Fprint(stdout, st.Output)
	if !strings.HasSuffix(st.Output, "\n") {
		fmt.Fprintln(stdout)
	}
	return nil
}

func runPresets(ctx context.Context, svc service, stdout io.Writer) error {
	presets, err := svc.Presets(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tALIASES\tRATE\tDELAY\tLOSS\tDESCRIPTION")
	for _, p := range presets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%dms\t%v%%\t%s\n",
			p.Name(), strings.Join(p.Names[1:], ","), tc.FormatRate(p.RateKbps), p.DelayMs, p.LossPct, p.Description)
	}
	return w.Flush()
}

// runToken mints an API token signed with JWT_SECRET.
func runToken(opts *options, stdout io.Writer) error {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is not set")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   opts.userID,
		Issuer:    mw.TokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(opts.tokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	fmt.Fprintln(stdout, token)
	return nil
}
