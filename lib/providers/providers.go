package providers

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/onkernel/netshape/cmd/api/config"
	"github.com/onkernel/netshape/lib/backend"
	_ "github.com/onkernel/netshape/lib/backend/memory"
	_ "github.com/onkernel/netshape/lib/backend/rtnl"
	_ "github.com/onkernel/netshape/lib/backend/tc"
	"github.com/onkernel/netshape/lib/logger"
	"github.com/onkernel/netshape/lib/paths"
	"github.com/onkernel/netshape/lib/shaper"
	"github.com/onkernel/netshape/lib/shaping"
	"go.opentelemetry.io/otel"
)

// ProvideLogger provides a structured logger that also writes per-interface
// shaping history under the data directory.
func ProvideLogger(p *paths.Paths, otelHandler slog.Handler) *slog.Logger {
	cfg := logger.NewConfig()
	base := logger.NewSubsystemLogger(logger.SubsystemShaper, cfg, otelHandler)
	return slog.New(logger.NewInterfaceLogHandler(base.Handler(), p.InterfaceLog))
}

// ProvideContext provides a context with logger attached
func ProvideContext(log *slog.Logger) context.Context {
	return logger.AddToContext(context.Background(), log)
}

// ProvideConfig provides the application configuration
func ProvideConfig() *config.Config {
	return config.Load()
}

// ProvidePaths provides the paths abstraction
func ProvidePaths(cfg *config.Config) *paths.Paths {
	return paths.New(cfg.DataDir)
}

// ProvidePresetTable loads the built-in presets plus site presets from
// PRESETS_FILE, or from <DATA_DIR>/presets.yaml when that exists.
func ProvidePresetTable(cfg *config.Config, p *paths.Paths) (*shaping.Table, error) {
	file := cfg.PresetsFile
	if file == "" {
		if _, err := os.Stat(p.PresetsFile()); err == nil {
			file = p.PresetsFile()
		}
	}
	table, err := shaping.LoadPresetFile(file)
	if err != nil {
		return nil, fmt.Errorf("load presets: %w", err)
	}
	return table, nil
}

// ProvideBackend provides the shaping backend selected by SHAPING_BACKEND.
// The cleanup releases the backend's kernel handle, if it holds one.
func ProvideBackend(cfg *config.Config) (backend.Backend, func(), error) {
	b, err := backend.New(backend.Type(cfg.ShapingBackend), backend.Options{TCPath: cfg.TCPath})
	if err != nil {
		return nil, nil, fmt.Errorf("create %s backend: %w", cfg.ShapingBackend, err)
	}
	cleanup := func() {}
	if c, ok := b.(interface{ Close() }); ok {
		cleanup = c.Close
	}
	return b, cleanup, nil
}

// ProvideShaperManager provides the shaping manager, instrumented with the
// global OTel providers (no-ops unless OTel was initialized).
func ProvideShaperManager(table *shaping.Table, b backend.Backend) (shaper.Manager, error) {
	return shaper.NewManager(
		shaping.NewResolver(table),
		b,
		otel.GetMeterProvider().Meter("netshape/shaper"),
		otel.GetTracerProvider().Tracer("netshape/shaper"),
	)
}
