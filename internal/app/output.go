package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/dshills/buildninja/internal/config"
	"github.com/dshills/buildninja/internal/integration/task"
)

// targetRecord is the --json form of one run configuration.
type targetRecord struct {
	Name      string   `json:"name"`
	Target    string   `json:"target"`
	Directory string   `json:"directory"`
	Exec      string   `json:"exec"`
	Args      []string `json:"args"`
	Cwd       string   `json:"cwd"`
	Sh        bool     `json:"sh"`
	Group     string   `json:"group"`
	Default   bool     `json:"default,omitempty"`
}

func newTargetRecord(t *task.Task) targetRecord {
	return targetRecord{
		Name:      t.Name,
		Target:    t.Target,
		Directory: t.Directory,
		Exec:      t.Command,
		Args:      t.Args,
		Cwd:       t.Cwd,
		Sh:        t.Shell,
		Group:     string(t.Group),
		Default:   t.IsDefault,
	}
}

// writeTargetsJSON writes tasks as an indented JSON array.
func writeTargetsJSON(w io.Writer, tasks []*task.Task) error {
	records := make([]targetRecord, len(tasks))
	for i, t := range tasks {
		records[i] = newTargetRecord(t)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// writeTargets prints one row per task. Terminals get a styled table with a
// header; other writers get tab-separated "args<TAB>cwd" rows.
func writeTargets(w io.Writer, root string, tasks []*task.Task) {
	if !isTerminal(w) {
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\n", strings.Join(t.Args, " "), t.Cwd)
		}
		return
	}

	s := newStyles(w)
	fmt.Fprintf(w, "%s %s\n\n", s.Title.Render(fmt.Sprintf("%d ninja targets", len(tasks))), s.Muted.Render(root))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, t := range tasks {
		marker := " "
		if t.IsDefault {
			marker = s.Success.Render("*")
		}
		fmt.Fprintf(tw, "%s %s\t%s\t%s\n", marker, s.Target.Render(strings.Join(t.Args, " ")), s.Muted.Render(string(t.Group)), s.Muted.Render(t.Cwd))
	}
	_ = tw.Flush()
}

// writeProblems prints the problems collected while running a task.
func writeProblems(w io.Writer, problems []task.Problem) {
	if len(problems) == 0 {
		return
	}
	s := newStyles(w)
	fmt.Fprintf(w, "\n%s\n", s.Title.Render(fmt.Sprintf("%d problems", len(problems))))
	for _, p := range problems {
		style := s.Warning
		if p.Severity == task.ProblemSeverityError {
			style = s.Error
		}
		fmt.Fprintf(w, "  %s\n", style.Render(p.String()))
	}
}

// writeConfig prints every known setting with the layer it comes from.
func writeConfig(w io.Writer, cfg *config.Config) {
	s := newStyles(w)

	workspace := cfg.WorkspaceFile()
	if workspace == "" {
		workspace = "(none)"
	}
	fmt.Fprintf(w, "%s %s\n", s.Muted.Render("workspace:"), workspace)
	fmt.Fprintf(w, "%s %s\n\n", s.Muted.Render("user:     "), cfg.UserConfigDir())

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, key := range config.Keys() {
		value, _ := cfg.Get(key)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Target.Render(key), formatValue(value), s.Muted.Render("("+cfg.Origin(key)+")"))
	}
	_ = tw.Flush()
}

// writeConfigJSON prints the merged settings, including keys buildninja does
// not know, as indented JSON.
func writeConfigJSON(w io.Writer, merged map[string]any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(merged)
}

func formatValue(v any) string {
	switch val := v.(type) {
	case []string:
		return "[" + strings.Join(quoteAll(val), ", ") + "]"
	case []any:
		items := make([]string, len(val))
		for i, item := range val {
			items[i] = fmt.Sprint(item)
		}
		return "[" + strings.Join(quoteAll(items), ", ") + "]"
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprint(val)
	}
}

func quoteAll(items []string) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = fmt.Sprintf("%q", item)
	}
	return out
}

// writeOutputTail prints retained output lines to w.
func writeOutputTail(w io.Writer, lines []task.OutputLine) {
	for _, line := range lines {
		fmt.Fprintln(w, line.Content)
	}
}

// streamListener copies task output to the host's stdout and stderr.
type streamListener struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

var _ task.ExecutionListener = (*streamListener)(nil)

func (l *streamListener) OnExecutionStarted(*task.Execution) {}

func (l *streamListener) OnExecutionOutput(_ *task.Execution, line task.OutputLine) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.stdout
	if line.Stream == task.OutputStreamStderr {
		w = l.stderr
	}
	fmt.Fprintln(w, line.Content)
}

func (l *streamListener) OnExecutionProblem(*task.Execution, task.Problem) {}

func (l *streamListener) OnExecutionCompleted(*task.Execution) {}
