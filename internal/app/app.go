package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dshills/buildninja/internal/config"
	"github.com/dshills/buildninja/internal/integration/process"
	"github.com/dshills/buildninja/internal/integration/task"
	"github.com/dshills/buildninja/internal/integration/task/sources"
)

// Options configures the application.
type Options struct {
	// ProjectDir is the project root. Defaults to the working directory.
	ProjectDir string

	// ConfigPath overrides the workspace config file.
	ConfigPath string

	// UserConfigDir overrides the user config directory.
	UserConfigDir string

	// NinjaCommand overrides the ninja.command setting when non-empty.
	NinjaCommand string

	// Subdirs overrides the ninja.subdirs setting when non-nil.
	Subdirs []string

	// Verbose enables debug logging regardless of log.level.
	Verbose bool

	// GracePeriod is how long an interrupted child may take to exit after
	// SIGTERM before it is killed. Defaults to process.DefaultGracePeriod.
	GracePeriod time.Duration

	// Watch reloads the config files when they change on disk.
	Watch bool

	// Debounce is the quiet period after a config file write before it is
	// reloaded. Zero keeps the watcher default.
	Debounce time.Duration

	// Runner answers target queries. Defaults to the process supervisor.
	Runner task.Runner

	// Stdout and Stderr default to the process streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Application owns the components of one buildninja invocation.
type Application struct {
	opts Options
	root string

	logger     *log.Logger
	config     *config.Config
	supervisor *process.Supervisor
	notifier   *Notifier
	source     *sources.NinjaSource
	discovery  *task.Discovery
	executor   *task.Executor

	shutdownOnce sync.Once
}

// New creates an Application and loads its configuration.
func New(ctx context.Context, opts Options) (*Application, error) {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = process.DefaultGracePeriod
	}

	app := &Application{opts: opts}
	if err := app.bootstrap(ctx); err != nil {
		app.Shutdown()
		return nil, err
	}
	return app, nil
}

// bootstrap initializes all components in dependency order.
func (app *Application) bootstrap(ctx context.Context) error {
	// 1. Logger
	level := log.InfoLevel
	if app.opts.Verbose {
		level = log.DebugLevel
	}
	logCfg := DefaultLoggerConfig()
	logCfg.Level = level
	logCfg.Output = app.opts.Stderr
	app.logger = NewLogger(logCfg)

	// 2. Project root
	root := app.opts.ProjectDir
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return &InitError{Component: "project", Err: err}
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return &InitError{Component: "project", Err: err}
	}
	app.root = root

	// 3. Config
	configOpts := []config.Option{
		config.WithProjectDir(root),
		config.WithWatcher(app.opts.Watch),
		config.WithDebounce(app.opts.Debounce),
		config.WithLogger(app.logger),
	}
	if app.opts.ConfigPath != "" {
		configOpts = append(configOpts, config.WithWorkspaceFile(app.opts.ConfigPath))
	}
	if app.opts.UserConfigDir != "" {
		configOpts = append(configOpts, config.WithUserConfigDir(app.opts.UserConfigDir))
	}
	app.config = config.New(configOpts...)
	if err := app.config.Load(ctx); err != nil {
		return &InitError{Component: "config", Err: err}
	}
	if err := app.applyOverrides(); err != nil {
		return &InitError{Component: "config", Err: err}
	}
	if !app.opts.Verbose {
		if lvl, err := app.config.GetString(config.KeyLogLevel); err == nil {
			app.logger.SetLevel(ParseLogLevel(lvl))
		}
	}

	// 4. Process supervisor
	app.supervisor = process.NewSupervisor(
		process.WithGracePeriod(app.opts.GracePeriod),
		process.WithLogger(app.logger),
	)

	// 5. Ninja provider
	runner := app.opts.Runner
	if runner == nil {
		runner = app.supervisor
	}
	app.notifier = NewNotifier(app.opts.Stderr)
	app.source = sources.NewNinjaSource(root, app.config,
		sources.WithRunner(runner),
		sources.WithNotifier(app.notifier),
		sources.WithLogger(app.logger),
	)

	// 6. Discovery
	app.discovery = task.NewDiscovery(app.logger)
	app.discovery.Register(app.source)

	// 7. Executor
	app.executor = task.NewExecutor(app.supervisor, task.DefaultExecutorConfig(),
		task.WithExecutorLogger(app.logger))

	app.logger.Debug("initialized", "root", root, "workspace", app.config.WorkspaceFile(), "providers", app.discovery.Providers())
	return nil
}

// applyOverrides writes command-line and environment overrides into the
// arguments layer of the config.
func (app *Application) applyOverrides() error {
	if app.opts.NinjaCommand != "" {
		if err := app.config.Set(config.KeyNinjaCommand, app.opts.NinjaCommand); err != nil {
			return err
		}
	}
	if app.opts.Subdirs != nil {
		if err := app.config.Set(config.KeyNinjaSubdirs, app.opts.Subdirs); err != nil {
			return err
		}
	}
	return nil
}

// Root returns the absolute project root.
func (app *Application) Root() string {
	return app.root
}

// Config returns the configuration.
func (app *Application) Config() *config.Config {
	return app.config
}

// Logger returns the application logger.
func (app *Application) Logger() *log.Logger {
	return app.logger
}

// Source returns the ninja provider.
func (app *Application) Source() *sources.NinjaSource {
	return app.source
}

// Notifier returns the notifier that reports failed queries.
func (app *Application) Notifier() *Notifier {
	return app.notifier
}

// Discover runs one discovery cycle.
func (app *Application) Discover(ctx context.Context) (*task.DiscoveryResult, error) {
	return app.discovery.Discover(ctx)
}

// OnRefresh registers fn to be called whenever the run configurations may
// have changed.
func (app *Application) OnRefresh(fn func()) (cancel func()) {
	return app.discovery.OnRefresh(fn)
}

// Execute runs t to completion, reporting progress to listener. The
// finished execution is no longer tracked by the executor.
func (app *Application) Execute(ctx context.Context, t *task.Task, listener task.ExecutionListener) (*task.Execution, error) {
	if listener != nil {
		app.executor.AddListener(listener)
		defer app.executor.RemoveListener(listener)
	}
	defer app.executor.CleanupCompleted()
	return app.executor.ExecuteSync(ctx, t)
}

// Shutdown stops running tasks and releases every component. It is safe to
// call more than once.
func (app *Application) Shutdown() {
	app.shutdownOnce.Do(func() {
		if app.discovery != nil {
			app.discovery.Close()
		}
		if app.source != nil {
			app.source.Close()
		}
		if app.executor != nil {
			app.executor.CancelAll()
		}
		if app.supervisor != nil {
			app.supervisor.Shutdown(app.opts.GracePeriod)
		}
		if app.config != nil {
			app.config.Close()
		}
	})
}
