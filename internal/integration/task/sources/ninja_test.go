package sources

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/buildninja/internal/config"
	"github.com/dshills/buildninja/internal/integration/task"
)

// makeBuildDirs creates root/<dir>/build.ninja for each dir.
func makeBuildDirs(t *testing.T, root string, dirs ...string) {
	t.Helper()
	for _, dir := range dirs {
		path := filepath.Join(root, dir)
		if err := os.MkdirAll(path, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(path, NinjaMarkerFile), []byte("# ninja\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestConfig(t *testing.T, subdirs ...string) *config.Config {
	t.Helper()
	cfg := config.New(config.WithUserConfigDir(t.TempDir()))
	t.Cleanup(cfg.Close)
	if len(subdirs) > 0 {
		if err := cfg.Set(config.KeyNinjaSubdirs, subdirs); err != nil {
			t.Fatal(err)
		}
	}
	return cfg
}

type call struct {
	command string
	args    []string
	dir     string
}

// fakeRunner answers target queries from a map keyed by build directory.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []call
	outputs map[string]string
	fail    map[string]error
	delays  map[string]time.Duration
}

func (r *fakeRunner) Output(ctx context.Context, command string, args []string, dir string) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, call{command, append([]string(nil), args...), dir})
	r.mu.Unlock()

	buildDir := args[1]
	if d := r.delays[buildDir]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := r.fail[buildDir]; err != nil {
		return "", err
	}
	return r.outputs[buildDir], nil
}

type notifications struct {
	mu  sync.Mutex
	got []task.Notification
}

func (n *notifications) Notify(x task.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, x)
}

func taskArgs(tasks []*task.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Args[0]
	}
	return out
}

func TestFindBuildDirs(t *testing.T) {
	root := t.TempDir()
	makeBuildDirs(t, root, "out/Release", "out/Debug")
	if err := os.MkdirAll(filepath.Join(root, "out/Empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		candidates []string
		want       []string
	}{
		{"none", nil, []string{}},
		{"missing", []string{"src/out/Debug", "out/Empty"}, []string{}},
		{"order preserved", []string{"out/Debug", "out/Empty", "out/Release"}, []string{"out/Debug", "out/Release"}},
		{"duplicates kept", []string{"out/Debug", "out/Debug"}, []string{"out/Debug", "out/Debug"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FindBuildDirs(root, tt.candidates); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FindBuildDirs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindBuildDirs_ReflectsFilesystem(t *testing.T) {
	root := t.TempDir()
	candidates := []string{"out"}

	if got := FindBuildDirs(root, candidates); len(got) != 0 {
		t.Fatalf("FindBuildDirs() = %v before build.ninja exists", got)
	}
	makeBuildDirs(t, root, "out")
	if got := FindBuildDirs(root, candidates); len(got) != 1 {
		t.Fatalf("FindBuildDirs() = %v after build.ninja was created", got)
	}
	if err := os.Remove(filepath.Join(root, "out", NinjaMarkerFile)); err != nil {
		t.Fatal(err)
	}
	if got := FindBuildDirs(root, candidates); len(got) != 0 {
		t.Fatalf("FindBuildDirs() = %v after build.ninja was removed", got)
	}
}

func TestParseNinjaTargets(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []string
	}{
		{"basic", "foo: phony\nbar: 123\nbadline\n", []string{"foo", "bar"}},
		{"empty", "", []string{}},
		{"no matches", "ninja: Entering directory `out'\n\n", []string{}},
		{"crlf", "foo: phony\r\nbar: cxx\r\n", []string{"foo", "bar"}},
		{"no trailing newline", "all: phony", []string{"all"}},
		{"path target skipped", "obj/foo.o: cxx\nfoo: phony\n", []string{"foo"}},
		{"two spaces skipped", "foo:  phony\n", []string{}},
		{"extra words skipped", "foo: phony rule\n", []string{}},
		{"tab separator", "foo:\tphony\n", []string{"foo"}},
		{"duplicates kept", "a: x\na: y\n", []string{"a", "a"}},
		{"long line skipped", "first: phony\n" + strings.Repeat("a", 17<<20) + "\nlast: phony\n", []string{"first", "last"}},
		{"blank lines", "\n\nfoo: phony\n\n", []string{"foo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseNinjaTargets(tt.output); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseNinjaTargets() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewNinjaTask(t *testing.T) {
	root := filepath.Join("/", "proj")

	single := NewNinjaTask(root, []string{"out/Debug"}, "out/Debug", "chrome", "ninja")
	want := &task.Task{
		ID:             "ninja:out/Debug:chrome",
		Name:           "Ninja: chrome",
		Source:         "ninja",
		SourceFile:     filepath.Join(root, "out/Debug", "build.ninja"),
		Type:           task.TaskTypeNinja,
		Group:          task.TaskGroupOther,
		Command:        "ninja",
		Args:           []string{"chrome"},
		Cwd:            filepath.Join(root, "out/Debug"),
		ProblemMatcher: "$gcc",
		Directory:      "out/Debug",
		Target:         "chrome",
	}
	if !reflect.DeepEqual(single, want) {
		t.Errorf("NewNinjaTask() = %+v\nwant %+v", single, want)
	}

	multi := NewNinjaTask(root, []string{"d1", "d2"}, "d1", "t", "/opt/ninja")
	if !reflect.DeepEqual(multi.Args, []string{"d1: t"}) {
		t.Errorf("Args = %q, want [d1: t]", multi.Args)
	}
	if multi.Name != "Ninja: d1: t" {
		t.Errorf("Name = %q", multi.Name)
	}
	if multi.Command != "/opt/ninja" || multi.Shell {
		t.Errorf("Command = %q, Shell = %v", multi.Command, multi.Shell)
	}
	if multi.Cwd != filepath.Join(root, "d1") {
		t.Errorf("Cwd = %q", multi.Cwd)
	}

	if all := NewNinjaTask(root, []string{"d"}, "d", "all", "ninja"); !all.IsDefault || all.Group != task.TaskGroupBuild {
		t.Errorf("all: IsDefault = %v, Group = %v", all.IsDefault, all.Group)
	}
}

func TestNinjaSource_Label(t *testing.T) {
	s := NewNinjaSource(t.TempDir(), newTestConfig(t), WithRunner(&fakeRunner{}))
	defer s.Close()
	if s.Label() != "Ninja" {
		t.Errorf("Label() = %q, want Ninja", s.Label())
	}
}

func TestNinjaSource_IsEligible(t *testing.T) {
	root := t.TempDir()
	makeBuildDirs(t, root, "out/B")
	cfg := newTestConfig(t, "out/A", "out/B")

	s := NewNinjaSource(root, cfg, WithRunner(&fakeRunner{}))
	defer s.Close()

	if !s.IsEligible() {
		t.Fatal("IsEligible() = false")
	}
	if got := s.EligibleDirs(); !reflect.DeepEqual(got, []string{"out/B"}) {
		t.Errorf("EligibleDirs() = %v", got)
	}

	if err := cfg.Set(config.KeyNinjaSubdirs, []string{"out/A"}); err != nil {
		t.Fatal(err)
	}
	if s.IsEligible() {
		t.Error("IsEligible() = true without build.ninja")
	}
}

func TestNinjaSource_DefaultSubdirs(t *testing.T) {
	root := t.TempDir()
	makeBuildDirs(t, root, "src/out/Debug")

	s := NewNinjaSource(root, newTestConfig(t), WithRunner(&fakeRunner{}))
	defer s.Close()

	if !s.IsEligible() {
		t.Error("default build directory src/out/Debug not found")
	}
}

func TestNinjaSource_SettingsBeforeEligibility(t *testing.T) {
	runner := &fakeRunner{}
	s := NewNinjaSource(t.TempDir(), newTestConfig(t), WithRunner(runner))
	defer s.Close()

	tasks, err := s.Settings(context.Background())
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}
	if tasks == nil || len(tasks) != 0 {
		t.Errorf("Settings() = %v, want empty non-nil slice", tasks)
	}
	if len(runner.calls) != 0 {
		t.Errorf("runner called %d times", len(runner.calls))
	}
}

func TestNinjaSource_SettingsSingleDir(t *testing.T) {
	root := t.TempDir()
	makeBuildDirs(t, root, "out")
	cfg := newTestConfig(t, "out")
	if err := cfg.Set(config.KeyNinjaCommand, "/opt/ninja"); err != nil {
		t.Fatal(err)
	}

	buildDir := filepath.Join(root, "out")
	runner := &fakeRunner{outputs: map[string]string{buildDir: "all: phony\nchrome: phony\nobj/x.o: cxx\n"}}
	s := NewNinjaSource(root, cfg, WithRunner(runner))
	defer s.Close()

	if !s.IsEligible() {
		t.Fatal("IsEligible() = false")
	}
	tasks, err := s.Settings(context.Background())
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}

	if got := taskArgs(tasks); !reflect.DeepEqual(got, []string{"all", "chrome"}) {
		t.Errorf("args = %q", got)
	}

	if len(runner.calls) != 1 {
		t.Fatalf("runner called %d times, want 1", len(runner.calls))
	}
	c := runner.calls[0]
	if c.command != "/opt/ninja" {
		t.Errorf("command = %q", c.command)
	}
	if !reflect.DeepEqual(c.args, []string{"-C", buildDir, "-t", "targets"}) {
		t.Errorf("args = %q", c.args)
	}
	if c.dir != root {
		t.Errorf("dir = %q, want %q", c.dir, root)
	}
	for _, tk := range tasks {
		if tk.Command != "/opt/ninja" || tk.Cwd != buildDir {
			t.Errorf("task %s: Command = %q, Cwd = %q", tk.Name, tk.Command, tk.Cwd)
		}
	}
}

func TestNinjaSource_SettingsOrderIndependentOfCompletion(t *testing.T) {
	root := t.TempDir()
	dirs := []string{"d1", "d2", "d3"}
	makeBuildDirs(t, root, dirs...)

	runner := &fakeRunner{
		outputs: map[string]string{},
		delays:  map[string]time.Duration{},
	}
	for i, d := range dirs {
		bd := filepath.Join(root, d)
		runner.outputs[bd] = fmt.Sprintf("a%d: phony\nb%d: phony\n", i, i)
		// The first directory finishes last.
		runner.delays[bd] = time.Duration(len(dirs)-i) * 30 * time.Millisecond
	}

	s := NewNinjaSource(root, newTestConfig(t, dirs...), WithRunner(runner))
	defer s.Close()

	s.IsEligible()
	tasks, err := s.Settings(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"d1: a0", "d1: b0", "d2: a1", "d2: b1", "d3: a2", "d3: b2"}
	if got := taskArgs(tasks); !reflect.DeepEqual(got, want) {
		t.Errorf("args = %q, want %q", got, want)
	}
}

func TestNinjaSource_SettingsQueriesConcurrently(t *testing.T) {
	root := t.TempDir()
	dirs := []string{"d1", "d2", "d3", "d4"}
	makeBuildDirs(t, root, dirs...)

	runner := &fakeRunner{delays: map[string]time.Duration{}}
	for _, d := range dirs {
		runner.delays[filepath.Join(root, d)] = 200 * time.Millisecond
	}

	s := NewNinjaSource(root, newTestConfig(t, dirs...), WithRunner(runner))
	defer s.Close()
	s.IsEligible()

	start := time.Now()
	if _, err := s.Settings(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 700*time.Millisecond {
		t.Errorf("Settings() took %v; queries are not concurrent", elapsed)
	}
}

func TestNinjaSource_SettingsFailureIsolated(t *testing.T) {
	root := t.TempDir()
	makeBuildDirs(t, root, "good", "bad")

	badDir := filepath.Join(root, "bad")
	runner := &fakeRunner{
		outputs: map[string]string{filepath.Join(root, "good"): "all: phony\n"},
		fail:    map[string]error{badDir: errors.New("exit status 1")},
	}
	sink := &notifications{}

	s := NewNinjaSource(root, newTestConfig(t, "bad", "good"), WithRunner(runner), WithNotifier(sink))
	defer s.Close()

	s.IsEligible()
	tasks, err := s.Settings(context.Background())
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}

	if got := taskArgs(tasks); !reflect.DeepEqual(got, []string{"good: all"}) {
		t.Errorf("args = %q", got)
	}

	if len(sink.got) != 1 {
		t.Fatalf("got %d notifications, want 1", len(sink.got))
	}
	n := sink.got[0]
	if n.Title != "Failed to fetch Ninja targets" {
		t.Errorf("Title = %q", n.Title)
	}
	wantDetail := fmt.Sprintf("Can't execute `ninja` in `%s` directory: exit status 1", badDir)
	if n.Detail != wantDetail {
		t.Errorf("Detail = %q, want %q", n.Detail, wantDetail)
	}

	// Reported once per Settings call.
	if _, err := s.Settings(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sink.got) != 2 {
		t.Errorf("got %d notifications after second call, want 2", len(sink.got))
	}
}

func TestNinjaSource_SettingsIdempotent(t *testing.T) {
	root := t.TempDir()
	makeBuildDirs(t, root, "a", "b")
	runner := &fakeRunner{outputs: map[string]string{
		filepath.Join(root, "a"): "x: phony\n",
		filepath.Join(root, "b"): "y: phony\nz: phony\n",
	}}

	s := NewNinjaSource(root, newTestConfig(t, "a", "b"), WithRunner(runner))
	defer s.Close()
	s.IsEligible()

	first, err := s.Settings(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Settings(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("Settings() results differ between calls")
	}
	if len(first) > 0 && first[0] == second[0] {
		t.Error("Settings() returned the same task pointers; results must be fresh")
	}
}

func TestNinjaSource_SettingsCanceled(t *testing.T) {
	root := t.TempDir()
	makeBuildDirs(t, root, "slow")
	runner := &fakeRunner{delays: map[string]time.Duration{filepath.Join(root, "slow"): 10 * time.Second}}
	sink := &notifications{}

	s := NewNinjaSource(root, newTestConfig(t, "slow"), WithRunner(runner), WithNotifier(sink))
	defer s.Close()
	s.IsEligible()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	tasks, err := s.Settings(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Settings() error = %v, want DeadlineExceeded", err)
	}
	if len(tasks) != 0 {
		t.Errorf("got %d tasks", len(tasks))
	}
	if len(sink.got) != 0 {
		t.Errorf("cancellation produced %d notifications", len(sink.got))
	}
}

func TestNinjaSource_CommandSnapshot(t *testing.T) {
	root := t.TempDir()
	makeBuildDirs(t, root, "out")
	cfg := newTestConfig(t, "out")

	runner := task.RunnerFunc(func(ctx context.Context, command string, args []string, dir string) (string, error) {
		// A change while the query runs does not affect this cycle.
		_ = cfg.Set(config.KeyNinjaCommand, "changed")
		return "all: phony\n", nil
	})
	s := NewNinjaSource(root, cfg, WithRunner(runner))
	defer s.Close()

	s.IsEligible()
	tasks, err := s.Settings(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Command != "ninja" {
		t.Errorf("tasks = %+v, want command snapshot 'ninja'", tasks)
	}
}

func TestNinjaSource_OnRefresh(t *testing.T) {
	cfg := newTestConfig(t)
	s := NewNinjaSource(t.TempDir(), cfg, WithRunner(&fakeRunner{}))
	defer s.Close()

	count := 0
	cancel := s.OnRefresh(func() { count++ })

	if err := cfg.Set(config.KeyNinjaCommand, "samu"); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("refresh fired %d times after command change, want 1", count)
	}

	if err := cfg.Set(config.KeyNinjaSubdirs, []string{"out/A", "out/B"}); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("refresh fired %d times after subdirs change, want 2", count)
	}

	if err := cfg.Set(config.KeyNinjaSubdirs, []string{"out/A", "out/B"}); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("refresh fired for an unchanged value")
	}

	if err := cfg.Set(config.KeyLogLevel, "debug"); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("refresh fired for an unrelated setting")
	}

	// Rapid successive changes are not coalesced.
	for i := 0; i < 3; i++ {
		if err := cfg.Set(config.KeyNinjaCommand, fmt.Sprintf("ninja-%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if count != 5 {
		t.Errorf("refresh fired %d times, want 5", count)
	}

	cancel()
	cancel()
	if err := cfg.Set(config.KeyNinjaCommand, "ninja"); err != nil {
		t.Fatal(err)
	}
	if count != 5 {
		t.Error("canceled handler still called")
	}
}

func TestNinjaSource_OnRefreshFromWorkspaceFile(t *testing.T) {
	project := t.TempDir()
	cfg := config.New(config.WithUserConfigDir(t.TempDir()), config.WithProjectDir(project))
	defer cfg.Close()
	if err := cfg.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	s := NewNinjaSource(project, cfg, WithRunner(&fakeRunner{}))
	defer s.Close()

	count := 0
	s.OnRefresh(func() { count++ })

	if err := cfg.Save(config.KeyNinjaSubdirs, []string{"out/Release"}); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("refresh fired %d times, want 1", count)
	}
}

func TestNinjaSource_OnRefreshTableReplaced(t *testing.T) {
	project := t.TempDir()
	path := filepath.Join(project, ".buildninja.toml")
	if err := os.WriteFile(path, []byte("[ninja]\ncommand = \"samu\"\nsubdirs = [\"out\"]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.New(config.WithUserConfigDir(t.TempDir()), config.WithProjectDir(project))
	defer cfg.Close()
	if err := cfg.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	s := NewNinjaSource(project, cfg, WithRunner(&fakeRunner{}))
	defer s.Close()

	count := 0
	s.OnRefresh(func() { count++ })

	// Both settings disappear in one edit.
	if err := os.WriteFile(path, []byte("ninja = \"x\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Reload(path); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("refresh fired %d times, want 1", count)
	}
	if got := cfg.NinjaCommand(); got != config.DefaultNinjaCommand {
		t.Errorf("NinjaCommand() = %q, want default", got)
	}
}

func TestNinjaSource_Close(t *testing.T) {
	cfg := newTestConfig(t)
	s := NewNinjaSource(t.TempDir(), cfg, WithRunner(&fakeRunner{}))

	count := 0
	s.OnRefresh(func() { count++ })
	s.Close()

	if err := cfg.Set(config.KeyNinjaCommand, "samu"); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Error("refresh fired after Close")
	}
}

func TestNinjaSource_DefaultRunner(t *testing.T) {
	root := t.TempDir()
	makeBuildDirs(t, root, "out")

	// A stand-in for ninja that checks its arguments and prints targets.
	script := filepath.Join(root, "fake-ninja")
	body := `#!/bin/sh
if [ "$1" != "-C" ] || [ "$3" != "-t" ] || [ "$4" != "targets" ]; then
  echo "unexpected args: $*" >&2
  exit 2
fi
[ -f "$2/build.ninja" ] || { echo "ninja: error: loading 'build.ninja'" >&2; exit 1; }
printf 'all: phony\nbase: phony\nobj/a.o: cxx\n'
`
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := newTestConfig(t, "out", "missing")
	if err := cfg.Set(config.KeyNinjaCommand, script); err != nil {
		t.Fatal(err)
	}

	s := NewNinjaSource(root, cfg)
	defer s.Close()

	if !s.IsEligible() {
		t.Fatal("IsEligible() = false")
	}
	tasks, err := s.Settings(context.Background())
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}
	if got := taskArgs(tasks); !reflect.DeepEqual(got, []string{"all", "base"}) {
		t.Errorf("args = %q", got)
	}
}

func TestNinjaSource_DefaultRunnerFailure(t *testing.T) {
	root := t.TempDir()
	makeBuildDirs(t, root, "out")

	cfg := newTestConfig(t, "out")
	if err := cfg.Set(config.KeyNinjaCommand, "buildninja-no-such-ninja"); err != nil {
		t.Fatal(err)
	}
	sink := &notifications{}

	s := NewNinjaSource(root, cfg, WithNotifier(sink))
	defer s.Close()

	s.IsEligible()
	tasks, err := s.Settings(context.Background())
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("got %d tasks", len(tasks))
	}
	if len(sink.got) != 1 || !strings.Contains(sink.got[0].Detail, "buildninja-no-such-ninja") {
		t.Errorf("notifications = %+v", sink.got)
	}
}
