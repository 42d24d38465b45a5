package main

import (
	"context"
	"fmt"
	"os"

	"github.com/onkernel/netshape/lib/backend"
	_ "github.com/onkernel/netshape/lib/backend/memory"
	_ "github.com/onkernel/netshape/lib/backend/rtnl"
	_ "github.com/onkernel/netshape/lib/backend/tc"
	"github.com/onkernel/netshape/lib/shaper"
	"github.com/onkernel/netshape/lib/shaping"
)

// service is what the commands run against: a local shaper manager or a
// remote netshape API.
type service interface {
	Apply(ctx context.Context, req shaper.ApplyRequest) (*shaper.Result, error)
	Reset(ctx context.Context, iface string) error
	Status(ctx context.Context) (*shaper.Status, error)
	Presets(ctx context.Context) ([]shaping.Preset, error)
}

// localService runs operations in process.
type localService struct {
	manager shaper.Manager
}

func (l localService) Apply(ctx context.Context, req shaper.ApplyRequest) (*shaper.Result, error) {
	return l.manager.Apply(ctx, req)
}

func (l localService) Reset(ctx context.Context, iface string) error {
	return l.manager.Reset(ctx, iface)
}

func (l localService) Status(ctx context.Context) (*shaper.Status, error) {
	return l.manager.Status(ctx)
}

func (l localService) Presets(ctx context.Context) ([]shaping.Preset, error) {
	return l.manager.Presets(), nil
}

// newService picks the remote client or a local manager. The returned
// function releases backend resources.
func newService(opts *options) (service, func(), error) {
	noop := func() {}

	if opts.remote != "" {
		token := opts.token
		if token == "" {
			token = os.Getenv("NETSHAPE_TOKEN")
		}
		if token == "" {
			return nil, nil, fmt.Errorf("API token required for -remote (use -token or NETSHAPE_TOKEN env var)")
		}
		c, err := newRemoteClient(opts.remote, token)
		if err != nil {
			return nil, nil, err
		}
		return c, noop, nil
	}

	presets, err := shaping.LoadPresetFile(os.Getenv("PRESETS_FILE"))
	if err != nil {
		return nil, nil, err
	}

	typ := backend.Type(opts.backend)
	if opts.dryRun || opts.command == "presets" {
		typ = backend.TypeMemory
	}
	b, err := backend.New(typ, backend.Options{TCPath: opts.tcPath})
	if err != nil {
		return nil, nil, err
	}
	closeFn := noop
	if c, ok := b.(interface{ Close() }); ok {
		closeFn = c.Close
	}

	m, err := shaper.NewManager(shaping.NewResolver(presets), b, nil, nil)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return localService{manager: m}, closeFn, nil
}
