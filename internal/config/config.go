package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dshills/buildninja/internal/config/layer"
	"github.com/dshills/buildninja/internal/config/loader"
	"github.com/dshills/buildninja/internal/config/notify"
	"github.com/dshills/buildninja/internal/config/watcher"
)

// Layer names.
const (
	LayerDefaults  = "defaults"
	LayerUser      = "user"
	LayerWorkspace = "workspace"
	LayerArguments = "arguments"
)

// Workspace config file names, in lookup order.
var workspaceFileNames = []string{".buildninja.toml", ".buildninja.json"}

// Config provides unified access to the buildninja configuration system.
// It manages configuration loading, live reloading, and change notification.
type Config struct {
	// mu serializes layer updates so that the before/after snapshots used
	// for change detection are consistent.
	mu sync.Mutex

	layers   *layer.Manager
	notifier *notify.Notifier
	watcher  *watcher.Watcher
	logger   *log.Logger

	userConfigDir string
	projectDir    string
	workspaceFile string

	enableWatcher bool
	debounce      time.Duration
}

// Option configures a Config instance.
type Option func(*Config)

// WithUserConfigDir sets the user configuration directory.
func WithUserConfigDir(dir string) Option {
	return func(c *Config) {
		c.userConfigDir = dir
	}
}

// WithProjectDir sets the project root searched for a workspace config file.
func WithProjectDir(dir string) Option {
	return func(c *Config) {
		c.projectDir = dir
	}
}

// WithWorkspaceFile sets the workspace config file explicitly.
func WithWorkspaceFile(path string) Option {
	return func(c *Config) {
		c.workspaceFile = path
	}
}

// WithWatcher enables file watching for live reload.
func WithWatcher(enable bool) Option {
	return func(c *Config) {
		c.enableWatcher = enable
	}
}

// WithDebounce sets how long a settings file must stay quiet after a write
// before it is reloaded. Zero keeps the watcher default.
func WithDebounce(d time.Duration) Option {
	return func(c *Config) {
		c.debounce = d
	}
}

// WithLogger sets the logger used for reload diagnostics.
func WithLogger(logger *log.Logger) Option {
	return func(c *Config) {
		c.logger = logger
	}
}

// New creates a new Config holding the built-in defaults and an empty
// argument layer. Call Load to read the settings files.
func New(opts ...Option) *Config {
	c := &Config{
		layers:   layer.NewManager(),
		notifier: notify.New(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = log.New(io.Discard)
	}
	if c.userConfigDir == "" {
		c.userConfigDir = defaultUserConfigDir()
	}
	if c.workspaceFile == "" && c.projectDir != "" {
		c.workspaceFile = findWorkspaceFile(c.projectDir)
	}

	c.layers.AddLayer(layer.NewLayerWithData(LayerDefaults, layer.SourceBuiltin,
		layer.DefaultPriority(layer.SourceBuiltin), defaultConfig()))
	c.layers.AddLayer(layer.NewLayer(LayerArguments, layer.SourceArgs,
		layer.DefaultPriority(layer.SourceArgs)))

	return c
}

// Load reads the user and workspace settings files and, if enabled, starts
// watching them. Missing files are not an error.
func (c *Config) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	files := c.files()
	for _, f := range files {
		if err := c.loadFile(f.name, f.source, f.path); err != nil {
			return err
		}
	}

	if !c.enableWatcher || len(files) == 0 {
		return nil
	}

	watchOpts := []watcher.Option{
		watcher.WithErrorHandler(func(err error) {
			c.logger.Warn("config watcher error", "err", err)
		}),
	}
	if c.debounce > 0 {
		watchOpts = append(watchOpts, watcher.WithDebounce(c.debounce))
	}
	w, err := watcher.New(watchOpts...)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := w.Watch(f.path); err != nil {
			c.logger.Debug("not watching config file", "path", f.path, "err", err)
		}
	}
	w.OnChange(c.handleFileChange)
	w.Start()

	c.mu.Lock()
	c.watcher = w
	c.mu.Unlock()

	return nil
}

type configFile struct {
	name   string
	source layer.Source
	path   string
}

func (c *Config) files() []configFile {
	var files []configFile
	if c.userConfigDir != "" {
		files = append(files, configFile{LayerUser, layer.SourceUserGlobal, filepath.Join(c.userConfigDir, "settings.toml")})
	}
	if c.workspaceFile != "" {
		files = append(files, configFile{LayerWorkspace, layer.SourceWorkspace, c.workspaceFile})
	}
	return files
}

func (c *Config) loadFile(name string, source layer.Source, path string) error {
	ld := loader.ForPath(path)
	data, err := ld.Load()
	if err != nil {
		return err
	}

	c.mu.Lock()
	before := c.layers.Merge()
	l := layer.NewLayerWithData(name, source, layer.DefaultPriority(source), data)
	l.Path = ld.Path()
	c.layers.AddLayer(l)
	changes := diffChanges(before, c.layers.Merge(), path)
	c.mu.Unlock()

	c.emit(changes)
	return nil
}

// Reload re-reads the settings file at path and notifies observers of every
// setting whose effective value changed. Paths that do not belong to a
// loaded layer are ignored.
func (c *Config) Reload(path string) error {
	for _, f := range c.files() {
		if sameFile(f.path, path) {
			return c.loadFile(f.name, f.source, f.path)
		}
	}
	return nil
}

func (c *Config) handleFileChange(ev watcher.Event) {
	c.logger.Debug("config file changed", "path", ev.Path, "op", ev.Op)
	if err := c.Reload(ev.Path); err != nil {
		c.logger.Warn("config reload failed", "path", ev.Path, "err", err)
	}
}

// diffChanges returns one change per differing leaf path, sets first, each
// group in path order.
func diffChanges(before, after map[string]any, source string) []notify.Change {
	added, modified, removed := layer.DiffMaps(before, after)

	changed := append(append([]string{}, added...), modified...)
	sort.Strings(changed)

	changes := make([]notify.Change, 0, len(changed)+len(removed))
	for _, path := range changed {
		oldVal, _ := layer.GetByPath(before, path)
		newVal, _ := layer.GetByPath(after, path)
		changes = append(changes, notify.Change{Path: path, Type: notify.ChangeSet, OldValue: oldVal, NewValue: newVal, Source: source})
	}
	for _, path := range removed {
		oldVal, _ := layer.GetByPath(before, path)
		changes = append(changes, notify.Change{Path: path, Type: notify.ChangeDelete, OldValue: oldVal, Source: source})
	}
	return changes
}

// emit delivers changes outside c.mu so observers may call back into Config.
func (c *Config) emit(changes []notify.Change) {
	for _, change := range changes {
		c.notifier.Notify(change)
	}
}

// Close stops the file watcher and the notifier.
func (c *Config) Close() {
	c.mu.Lock()
	w := c.watcher
	c.watcher = nil
	c.mu.Unlock()

	if w != nil {
		w.Stop()
	}
	c.notifier.Close()
}

// Get returns the value at the given path from the merged configuration.
func (c *Config) Get(path string) (any, bool) {
	return layer.GetByPath(c.layers.Merge(), path)
}

// GetString returns a string value at the given path.
func (c *Config) GetString(path string) (string, error) {
	v, ok := c.Get(path)
	if !ok {
		return "", ErrSettingNotFound
	}
	s, ok := v.(string)
	if !ok {
		return "", &TypeError{Path: path, Expected: "string", Actual: typeName(v)}
	}
	return s, nil
}

// GetStringSlice returns a string slice at the given path.
func (c *Config) GetStringSlice(path string) ([]string, error) {
	v, ok := c.Get(path)
	if !ok {
		return nil, ErrSettingNotFound
	}

	switch val := v.(type) {
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out, nil
	case []any:
		result := make([]string, len(val))
		for i, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, &TypeError{Path: path, Expected: "[]string", Actual: typeName(v)}
			}
			result[i] = s
		}
		return result, nil
	default:
		return nil, &TypeError{Path: path, Expected: "[]string", Actual: typeName(v)}
	}
}

// Set sets a value in the argument layer. Observers are notified only if the
// effective value changes.
func (c *Config) Set(path string, value any) error {
	c.mu.Lock()
	before := c.layers.Merge()
	if err := c.layers.Set(LayerArguments, path, value); err != nil {
		c.mu.Unlock()
		return err
	}
	changes := diffChanges(before, c.layers.Merge(), LayerArguments)
	c.mu.Unlock()

	c.emit(changes)
	return nil
}

// Save writes value to the workspace config file and reloads it.
func (c *Config) Save(path string, value any) error {
	if c.workspaceFile == "" {
		return ErrNoWorkspaceFile
	}
	if err := loader.ForPath(c.workspaceFile).SetValue(path, value); err != nil {
		return err
	}
	return c.loadFile(LayerWorkspace, layer.SourceWorkspace, c.workspaceFile)
}

// Subscribe registers an observer for changes affecting any of paths, or for
// every change when no path is given. One change calls the observer once.
func (c *Config) Subscribe(observer notify.Observer, paths ...string) *notify.Subscription {
	return c.notifier.Subscribe(observer, paths...)
}

// Merged returns a copy of the effective configuration as nested maps.
func (c *Config) Merged() map[string]any {
	return c.layers.Merge()
}

// Origin returns the name of the layer providing the effective value of path.
func (c *Config) Origin(path string) string {
	return c.layers.WhichLayer(path)
}

// WorkspaceFile returns the workspace config file path ("" without a project).
func (c *Config) WorkspaceFile() string {
	return c.workspaceFile
}

// UserConfigDir returns the user configuration directory.
func (c *Config) UserConfigDir() string {
	return c.userConfigDir
}

func defaultUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "buildninja")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "buildninja")
}

// findWorkspaceFile returns the first existing workspace file in dir, or the
// default name so that it can be created and watched later.
func findWorkspaceFile(dir string) string {
	for _, name := range workspaceFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Join(dir, workspaceFileNames[0])
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	switch v.(type) {
	case string:
		return "string"
	case int, int64:
		return "int"
	case float64:
		return "float64"
	case bool:
		return "bool"
	case []string:
		return "[]string"
	case []any:
		return "[]any"
	case map[string]any:
		return "map"
	default:
		return fmt.Sprintf("%T", v)
	}
}
