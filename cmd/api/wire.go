//go:build wireinject

package main

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	"github.com/onkernel/netshape/cmd/api/api"
	"github.com/onkernel/netshape/cmd/api/config"
	"github.com/onkernel/netshape/lib/backend"
	"github.com/onkernel/netshape/lib/providers"
	"github.com/onkernel/netshape/lib/shaper"
)

// application struct to hold initialized components
type application struct {
	Ctx           context.Context
	Logger        *slog.Logger
	Config        *config.Config
	ShaperBackend backend.Backend
	ShaperManager shaper.Manager
	ApiService    *api.ApiService
}

// initializeApp is the injector function
func initializeApp(otelHandler slog.Handler) (*application, func(), error) {
	panic(wire.Build(
		providers.ProvideLogger,
		providers.ProvideContext,
		providers.ProvideConfig,
		providers.ProvidePaths,
		providers.ProvidePresetTable,
		providers.ProvideBackend,
		providers.ProvideShaperManager,
		api.New,
		wire.Struct(new(application), "*"),
	))
}
