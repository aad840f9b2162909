package app

import (
	"context"
	"time"

	"vision-workbench/internal/plugin"
	"vision-workbench/internal/shutdown"
)

// Lifecycle starts the application's components and registers them for
// shutdown in dependency order: plugins first so they are released last.
type Lifecycle struct {
	app      *Application
	shutdown *shutdown.Manager
}

func NewLifecycle(a *Application) *Lifecycle {
	l := &Lifecycle{
		app:      a,
		shutdown: shutdown.NewManager(a.Logger, 2*a.Config.PluginLoadTimeout),
	}
	l.shutdown.Register("plugins", a.Plugins)
	l.shutdown.Register("devices", a.Devices)
	l.shutdown.Register("metrics", shutdown.Func(func(context.Context) error {
		a.Metrics.SetDevicesConnected(0)
		a.Metrics.SetPluginsLoaded(0)
		return nil
	}))
	return l
}

func (l *Lifecycle) Start(ctx context.Context) (plugin.LoadReport, error) {
	a := l.app
	started := time.Now()

	report, err := a.Plugins.LoadPlugins(ctx)
	if err != nil {
		return report, err
	}
	if failed := report.FailedIDs(); len(failed) > 0 {
		a.Logger.Warning(component, "some plugins failed to load", map[string]interface{}{
			"failed": failed,
		})
	}
	if err := a.Plugins.StartPlugins(); err != nil {
		return report, err
	}

	workflows, err := a.LoadWorkflows(a.Config.WorkflowDir)
	if err != nil {
		a.Logger.Warning(component, "some workflow documents were rejected", map[string]interface{}{
			"error": err.Error(),
		})
	}

	a.Logger.Info(component, "application started", map[string]interface{}{
		"plugins":     len(a.Plugins.LoadedIDs()),
		"workflows":   len(workflows),
		"duration_ms": time.Since(started).Milliseconds(),
	})
	return report, nil
}
