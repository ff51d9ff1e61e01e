// Package sources provides run configuration providers for build systems.
package sources

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/buildninja/internal/config"
	"github.com/dshills/buildninja/internal/config/notify"
	"github.com/dshills/buildninja/internal/integration/process"
	"github.com/dshills/buildninja/internal/integration/task"
)

const (
	// NinjaLabel is the provider's display label.
	NinjaLabel = "Ninja"

	// NinjaMarkerFile is the file whose presence makes a directory eligible.
	NinjaMarkerFile = "build.ninja"

	// NinjaSourceName identifies ninja tasks in Task.Source.
	NinjaSourceName = "ninja"

	// QueryFailedTitle is the notification title for a failed target query.
	QueryFailedTitle = "Failed to fetch Ninja targets"

	// dirPrefixSeparator joins a directory and a target name when more than
	// one build directory is eligible. It is not escaped.
	dirPrefixSeparator = ": "
)

// ninjaTargetPattern matches one line of `ninja -t targets` output.
var ninjaTargetPattern = regexp.MustCompile(`^([A-Za-z0-9_]+):\s\S+$`)

// ConfigStore is the configuration a NinjaSource reads and observes.
type ConfigStore interface {
	NinjaCommand() string
	Subdirs() []string
	Subscribe(observer notify.Observer, paths ...string) *notify.Subscription
}

// NinjaOption configures a NinjaSource.
type NinjaOption func(*NinjaSource)

// WithRunner sets the command runner used for target queries. By default
// queries run through a private process.Supervisor.
func WithRunner(r task.Runner) NinjaOption {
	return func(s *NinjaSource) {
		s.runner = r
	}
}

// WithNotifier sets where failed queries are reported.
func WithNotifier(n task.Notifier) NinjaOption {
	return func(s *NinjaSource) {
		s.notifier = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) NinjaOption {
	return func(s *NinjaSource) {
		s.logger = logger
	}
}

// NinjaSource discovers ninja targets in the configured build directories
// of one project. It implements task.Provider.
type NinjaSource struct {
	root     string
	cfg      ConfigStore
	runner   task.Runner
	notifier task.Notifier
	logger   *log.Logger

	mu       sync.RWMutex
	eligible []string

	sub        *notify.Subscription
	supervisor *process.Supervisor

	handlersMu sync.RWMutex
	handlers   map[int]func()
	nextID     int
}

var _ task.Provider = (*NinjaSource)(nil)

// NewNinjaSource creates a provider for the project at root. It subscribes
// to the ninja command and build directory settings of cfg; call Close to
// release the subscriptions.
func NewNinjaSource(root string, cfg ConfigStore, opts ...NinjaOption) *NinjaSource {
	s := &NinjaSource{
		root:     root,
		cfg:      cfg,
		handlers: make(map[int]func()),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = log.New(io.Discard)
	}
	if s.notifier == nil {
		s.notifier = task.NotifierFunc(func(task.Notification) {})
	}
	if s.runner == nil {
		s.supervisor = process.NewSupervisor(process.WithLogger(s.logger))
		s.runner = s.supervisor
	}

	s.sub = cfg.Subscribe(s.handleConfigChange, config.KeyNinjaCommand, config.KeyNinjaSubdirs)

	return s
}

// Label returns the provider's display label.
func (s *NinjaSource) Label() string {
	return NinjaLabel
}

// Root returns the project root.
func (s *NinjaSource) Root() string {
	return s.root
}

// IsEligible checks the configured build directories for build.ninja and
// retains the matching ones for the next Settings call.
func (s *NinjaSource) IsEligible() bool {
	dirs := FindBuildDirs(s.root, s.cfg.Subdirs())

	s.mu.Lock()
	s.eligible = dirs
	s.mu.Unlock()

	s.logger.Debug("eligibility checked", "root", s.root, "eligible", dirs)
	return len(dirs) > 0
}

// EligibleDirs returns the directories found by the last IsEligible call.
func (s *NinjaSource) EligibleDirs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dirs := make([]string, len(s.eligible))
	copy(dirs, s.eligible)
	return dirs
}

// Settings queries every eligible directory concurrently and returns one
// task per target, grouped by directory in eligibility order. Failed
// queries are reported through the notifier and contribute no tasks. The
// error is non-nil only when ctx ended.
func (s *NinjaSource) Settings(ctx context.Context) ([]*task.Task, error) {
	dirs := s.EligibleDirs()
	if len(dirs) == 0 {
		return []*task.Task{}, nil
	}

	command := s.cfg.NinjaCommand()

	results := make([][]*task.Task, len(dirs))
	failures := make([]*task.QueryError, len(dirs))

	var g errgroup.Group
	for i, dir := range dirs {
		g.Go(func() error {
			tasks, err := s.queryDir(ctx, dirs, dir, command)
			if err != nil {
				failures[i] = err
				return nil
			}
			results[i] = tasks
			return nil
		})
	}
	_ = g.Wait()

	all := make([]*task.Task, 0)
	for i := range dirs {
		if qe := failures[i]; qe != nil {
			if ctx.Err() != nil {
				s.logger.Debug("ninja target query canceled", "dir", qe.BuildDir)
				continue
			}
			s.reportFailure(qe)
			continue
		}
		all = append(all, results[i]...)
	}

	return all, ctx.Err()
}

func (s *NinjaSource) queryDir(ctx context.Context, eligible []string, dir, command string) ([]*task.Task, *task.QueryError) {
	buildDir := filepath.Join(s.root, dir)
	args := []string{"-C", buildDir, "-t", "targets"}

	output, err := s.runner.Output(ctx, command, args, s.root)
	if err != nil {
		return nil, &task.QueryError{
			Command:  command,
			Args:     args,
			Dir:      s.root,
			BuildDir: buildDir,
			Err:      err,
		}
	}

	names := ParseNinjaTargets(output)
	tasks := make([]*task.Task, 0, len(names))
	for _, name := range names {
		tasks = append(tasks, NewNinjaTask(s.root, eligible, dir, name, command))
	}

	s.logger.Debug("targets queried", "dir", dir, "targets", len(tasks))
	return tasks, nil
}

func (s *NinjaSource) reportFailure(qe *task.QueryError) {
	s.logger.Debug("ninja target query failed", "cmd", qe.Command, "dir", qe.BuildDir, "err", qe.Err)
	s.notifier.Notify(task.Notification{
		Title:  QueryFailedTitle,
		Detail: fmt.Sprintf("Can't execute `%s` in `%s` directory: %v", qe.Command, qe.BuildDir, qe.Err),
	})
}

// OnRefresh registers fn to be called once per change of the ninja command
// or build directory settings.
func (s *NinjaSource) OnRefresh(fn func()) (cancel func()) {
	s.handlersMu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = fn
	s.handlersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.handlersMu.Lock()
			delete(s.handlers, id)
			s.handlersMu.Unlock()
		})
	}
}

func (s *NinjaSource) handleConfigChange(change notify.Change) {
	s.logger.Debug("ninja setting changed", "key", change.Path, "source", change.Source)

	s.handlersMu.RLock()
	ids := make([]int, 0, len(s.handlers))
	for id := range s.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), len(ids))
	for i, id := range ids {
		fns[i] = s.handlers[id]
	}
	s.handlersMu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

// Close releases the configuration subscriptions and stops any query
// still running under the default runner.
func (s *NinjaSource) Close() {
	s.sub.Unsubscribe()

	if s.supervisor != nil {
		s.supervisor.Shutdown(process.DefaultGracePeriod)
	}
}

// FindBuildDirs returns the candidates that contain build.ninja directly
// beneath root. Order is preserved and duplicates are kept.
func FindBuildDirs(root string, candidates []string) []string {
	dirs := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if _, err := os.Stat(filepath.Join(root, candidate, NinjaMarkerFile)); err == nil {
			dirs = append(dirs, candidate)
		}
	}
	return dirs
}

// ParseNinjaTargets extracts target names from `ninja -t targets` output.
// Lines that do not look like "name: rule" are skipped.
func ParseNinjaTargets(output string) []string {
	names := make([]string, 0)

	for line := range strings.Lines(output) {
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
		if m := ninjaTargetPattern.FindStringSubmatch(line); m != nil {
			names = append(names, m[1])
		}
	}

	return names
}

// NewNinjaTask builds the run configuration for target name in dir. The
// target is prefixed with its directory when more than one directory is
// eligible.
func NewNinjaTask(root string, eligible []string, dir, name, command string) *task.Task {
	effective := name
	if len(eligible) > 1 {
		effective = dir + dirPrefixSeparator + name
	}

	buildDir := filepath.Join(root, dir)

	return &task.Task{
		ID:             fmt.Sprintf("%s:%s:%s", NinjaSourceName, dir, name),
		Name:           NinjaLabel + ": " + effective,
		Source:         NinjaSourceName,
		SourceFile:     filepath.Join(buildDir, NinjaMarkerFile),
		Type:           task.TaskTypeNinja,
		Group:          task.InferGroup(name),
		Command:        command,
		Args:           []string{effective},
		Cwd:            buildDir,
		Shell:          false,
		ProblemMatcher: "$gcc",
		IsDefault:      name == "all",
		Directory:      dir,
		Target:         name,
	}
}
