// Command netshape applies, resets and reports egress traffic shaping on
// Linux network interfaces, either locally or through a netshape API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/onkernel/netshape/lib/backend"
	"github.com/onkernel/netshape/lib/logger"
)

const usage = `Usage: %[1]s [apply|reset|status|presets|token] [flags] [preset]

  apply    shape an interface (default command)
  reset    remove all shaping from an interface
  status   show active shaping on all interfaces
  presets  list available presets
  token    mint an API token (needs JWT_SECRET)

Examples:
  %[1]s -i eth0 3g
  %[1]s apply -i eth0 -rate 2000 -delay 100 -loss 0.5
  %[1]s reset -i eth0
  %[1]s status -remote http://shaper:8080

Flags:
`

var commands = []string{"apply", "reset", "status", "presets", "token"}

// options is the parsed command line.
type options struct {
	command   string
	iface     string
	preset    string
	rate      string
	delay     string
	jitter    string
	loss      string
	backend   string
	tcPath    string
	dryRun    bool
	remote    string
	token     string
	userID    string
	tokenTTL  time.Duration
	verbose   bool
	showUsage bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}
	if opts.showUsage {
		return nil
	}

	log := newLogger(opts.verbose, stderr)
	ctx = logger.AddToContext(ctx, log)

	if opts.command == "token" {
		return runToken(opts, stdout)
	}

	svc, closeFn, err := newService(opts)
	if err != nil {
		return err
	}
	defer closeFn()

	switch opts.command {
	case "apply":
		return runApply(ctx, svc, opts, stdout)
	case "reset":
		return runReset(ctx, svc, opts, stdout)
	case "status":
		return runStatus(ctx, svc, stdout)
	case "presets":
		return runPresets(ctx, svc, stdout)
	}
	return fmt.Errorf("unknown command %q", opts.command)
}

// parseArgs parses "[command] [flags] [preset]". Flags and the preset may
// appear in any order after the command.
func parseArgs(args []string, stderr io.Writer) (*options, error) {
	opts := &options{command: "apply"}
	if len(args) > 0 && slices.Contains(commands, args[0]) {
		opts.command = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("netshape "+opts.command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, usage, "netshape")
		fs.PrintDefaults()
	}

	fs.StringVar(&opts.iface, "i", "", "Interface to shape (short for -interface)")
	fs.StringVar(&opts.iface, "interface", "", "Interface to shape")
	fs.StringVar(&opts.rate, "rate", "", "Rate limit in kbit/s")
	fs.StringVar(&opts.delay, "delay", "", "Added latency in ms")
	fs.StringVar(&opts.jitter, "jitter", "", "Latency variation in ms")
	fs.StringVar(&opts.loss, "loss", "", "Packet loss in percent")
	fs.StringVar(&opts.backend, "backend", string(backend.TypeTC), "Local backend: tc, netlink or memory")
	fs.StringVar(&opts.tcPath, "tc-path", "", "Path to the tc binary (default: tc on PATH)")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Print the tc commands instead of running them")
	fs.StringVar(&opts.remote, "remote", "", "netshape API URL; run against the server instead of locally")
	fs.StringVar(&opts.token, "token", "", "API token for -remote (or use NETSHAPE_TOKEN env var)")
	fs.StringVar(&opts.userID, "user-id", "netshape-cli", "Subject of a minted token")
	fs.DurationVar(&opts.tokenTTL, "ttl", 24*time.Hour, "Lifetime of a minted token")
	fs.BoolVar(&opts.verbose, "v", false, "Verbose logging to stderr")

	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				opts.showUsage = true
				return opts, nil
			}
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			break
		}
		positional = append(positional, args[0])
		args = args[1:]
	}

	switch opts.command {
	case "apply":
		if len(positional) > 1 {
			return nil, fmt.Errorf("only one preset may be given, got %v", positional)
		}
		if len(positional) == 1 {
			opts.preset = positional[0]
		}
	default:
		if len(positional) > 0 {
			return nil, fmt.Errorf("%s takes no arguments, got %v", opts.command, positional)
		}
	}

	if (opts.command == "apply" || opts.command == "reset") && opts.iface == "" {
		return nil, fmt.Errorf("%s needs an interface (-i)", opts.command)
	}
	if opts.dryRun {
		if opts.remote != "" {
			return nil, fmt.Errorf("-dry-run cannot be combined with -remote")
		}
		if opts.command != "apply" && opts.command != "reset" {
			return nil, fmt.Errorf("-dry-run only applies to apply and reset")
		}
	}
	return opts, nil
}

// newLogger logs warnings and errors to stderr, or everything with -v.
// LOG_LEVEL still applies when set.
func newLogger(verbose bool, stderr io.Writer) *slog.Logger {
	cfg := logger.NewConfig()
	cfg.Output = stderr
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.DefaultLevel = slog.LevelWarn
	}
	if verbose {
		cfg.DefaultLevel = slog.LevelDebug
		cfg.SubsystemLevels[logger.SubsystemCLI] = slog.LevelDebug
	}
	return logger.NewSubsystemLogger(logger.SubsystemCLI, cfg, nil)
}
