// Package app wires configuration, logging, metrics, plugins, devices and
// the workflow engine into one application root.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vision-workbench/internal/algorithms"
	"vision-workbench/internal/algorithms/ocr"
	cvalgorithms "vision-workbench/internal/algorithms/opencv"
	"vision-workbench/internal/config"
	"vision-workbench/internal/device"
	"vision-workbench/internal/device/file"
	cvdevice "vision-workbench/internal/device/opencv"
	"vision-workbench/internal/device/simulated"
	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/logger"
	"vision-workbench/internal/metrics"
	"vision-workbench/internal/parameters"
	"vision-workbench/internal/plugin"
	"vision-workbench/internal/workflow"
)

const (
	AppName    = "vision-workbench"
	AppVersion = "1.0.0"

	component = "Application"
)

type Application struct {
	Config     *config.Config
	Logger     logger.Logger
	Metrics    *metrics.Metrics
	Plugins    *plugin.Manager
	Devices    *device.Manager
	Engine     *workflow.Engine
	Parameters *parameters.Repository

	lifecycle *Lifecycle
}

// NewLogger builds the logger selected by cfg, writing to w.
func NewLogger(cfg *config.Config, w io.Writer) logger.Logger {
	level := logger.ParseLevel(cfg.LogLevel)
	if cfg.LogFormat == "json" {
		return logger.NewJSONLogger(w, level, AppName)
	}
	return logger.NewZerolog(zerolog.ConsoleWriter{Out: w, NoColor: true}, level)
}

// New builds the application and registers its plugins and devices.
// Nothing is loaded or connected until Start.
func New(cfg *config.Config, log logger.Logger) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = logger.OrNop(log)
	mt := metrics.New()

	plugins := plugin.NewManager(log,
		plugin.WithLoadTimeout(cfg.PluginLoadTimeout),
		plugin.WithMetrics(mt),
	)
	devices := device.NewManager(log, mt)
	params := parameters.NewRepository(cfg.ParameterDir, log)
	engine := workflow.NewEngine(plugins,
		workflow.WithImageSource(devices),
		workflow.WithParameterStore(params),
		workflow.WithLogger(log),
		workflow.WithMetrics(mt),
	)

	a := &Application{
		Config:     cfg,
		Logger:     log,
		Metrics:    mt,
		Plugins:    plugins,
		Devices:    devices,
		Engine:     engine,
		Parameters: params,
	}

	catalog := append(algorithms.Builtin(), cvalgorithms.Builtin()...)
	catalog = append(catalog, ocr.NewWithEngine(ocr.NewTesseract(cfg.Plugins.Tessdata)))
	for i, p := range catalog {
		catalog[i] = decorate(p, cfg.Plugins, mt)
	}
	if err := algorithms.Register(plugins, catalog, cfg.Plugins.Disabled...); err != nil {
		return nil, verrors.Wrap(err, component, "New")
	}

	for _, dc := range cfg.Devices {
		d, err := NewDriver(dc, log)
		if err != nil {
			return nil, err
		}
		if err := devices.Register(d); err != nil {
			return nil, verrors.Wrap(err, component, "New")
		}
	}

	a.lifecycle = NewLifecycle(a)

	log.Info(component, "application created", map[string]interface{}{
		"version": AppVersion,
		"plugins": len(plugins.Plugins()),
		"devices": len(cfg.Devices),
	})
	return a, nil
}

// decorate wraps image algorithms with the configured cache and retry
// policies. Nodes are returned unchanged, even when they also implement
// Algorithm, so their ports stay visible. UI modes are seen through the
// wrappers.
func decorate(p plugin.Plugin, cfg config.PluginConfig, mt *metrics.Metrics) plugin.Plugin {
	if _, isNode := p.(plugin.Node); isNode {
		return p
	}
	alg, ok := p.(plugin.Algorithm)
	if !ok {
		return p
	}
	if cfg.Cache.Size > 0 {
		alg = plugin.WithCache(alg, cfg.Cache.Size, cfg.Cache.TTL, mt)
	}
	if cfg.Retry.Attempts > 1 {
		alg = plugin.WithRetry(alg, cfg.Retry.Attempts, cfg.Retry.Delay)
	}
	return alg
}

// Driver option keys consumed by NewDriver. Any other option is applied as
// a driver parameter, matched case-insensitively.
var driverOptions = map[string]bool{"dir": true, "source": true, "connect_delay": true}

// NewDriver builds the driver described by dc.
func NewDriver(dc config.DeviceConfig, log logger.Logger) (device.Driver, error) {
	var d device.Driver
	switch dc.Type {
	case config.DeviceSimulated:
		opts := []simulated.Option{simulated.WithLogger(log)}
		if dc.Name != "" {
			opts = append(opts, simulated.WithName(dc.Name))
		}
		if s := dc.Option("connect_delay"); s != "" {
			delay, err := time.ParseDuration(s)
			if err != nil {
				return nil, verrors.New(component, "NewDriver", verrors.ErrInvalidConfig, "device %s: connect_delay: %v", dc.ID, err)
			}
			opts = append(opts, simulated.WithConnectDelay(delay))
		}
		d = simulated.New(dc.ID, opts...)
	case config.DeviceFile:
		d = file.New(dc.ID, dc.Option("dir"), log)
	case config.DeviceCamera:
		var source any = dc.Option("source")
		if n, err := strconv.Atoi(dc.Option("source")); err == nil {
			source = n
		} else if source == "" {
			source = 0
		}
		d = cvdevice.New(dc.ID, dc.Name, source, log)
	default:
		return nil, verrors.New(component, "NewDriver", verrors.ErrInvalidConfig, "device %s: unknown type %q", dc.ID, dc.Type)
	}

	for key, value := range dc.Options {
		if driverOptions[key] {
			continue
		}
		if err := d.SetParameter(parameterName(d, key), value); err != nil {
			return nil, verrors.New(component, "NewDriver", verrors.ErrInvalidConfig, "device %s: option %s: %v", dc.ID, key, err)
		}
	}
	return d, nil
}

// parameterName maps a lower-cased config key back to the driver's
// parameter name.
func parameterName(d device.Driver, key string) string {
	if p, ok := d.(interface{ Parameters() []parameters.Metadata }); ok {
		for _, m := range p.Parameters() {
			if strings.EqualFold(m.Name, key) {
				return m.Name
			}
		}
	}
	return key
}

// Start loads and starts the plugins and loads every workflow document in
// the configured directory. Plugin and document failures are logged and
// reported, not fatal.
func (a *Application) Start(ctx context.Context) (plugin.LoadReport, error) {
	return a.lifecycle.Start(ctx)
}

// LoadWorkflows builds every *.yaml or *.yml document in dir. A missing
// directory is not an error.
func (a *Application) LoadWorkflows(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workflow dir: %w", err)
	}

	var loaded []string
	var errs []error
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		w, err := a.Engine.LoadWorkflow(filepath.Join(dir, e.Name()))
		if err != nil {
			a.Logger.Warning(component, "workflow document rejected", map[string]interface{}{
				"file":  e.Name(),
				"error": err.Error(),
			})
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		loaded = append(loaded, w.ID)
	}
	return loaded, verrors.Join(errs...)
}

// Listen shuts the application down on SIGINT or SIGTERM.
func (a *Application) Listen() (stop func()) {
	return a.lifecycle.shutdown.Listen()
}

// Context is cancelled when shutdown begins.
func (a *Application) Context() context.Context {
	return a.lifecycle.shutdown.Context()
}

// Shutdown disconnects devices and unloads plugins.
func (a *Application) Shutdown() error {
	return a.lifecycle.shutdown.Shutdown()
}
