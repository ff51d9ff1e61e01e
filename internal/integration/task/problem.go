package task

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// ProblemSeverity indicates the severity of a problem.
type ProblemSeverity string

const (
	// ProblemSeverityError is an error.
	ProblemSeverityError ProblemSeverity = "error"
	// ProblemSeverityWarning is a warning.
	ProblemSeverityWarning ProblemSeverity = "warning"
	// ProblemSeverityInfo is informational.
	ProblemSeverityInfo ProblemSeverity = "info"
)

// Problem represents a detected problem from task output.
type Problem struct {
	// File is the file path where the problem occurred.
	File string `json:"file,omitempty"`

	// Line is the line number (1-based, 0 if unknown).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-based, 0 if unknown).
	Column int `json:"column,omitempty"`

	// Severity indicates error, warning, or info.
	Severity ProblemSeverity `json:"severity"`

	// Message is the problem description.
	Message string `json:"message"`

	// Source is the tool that reported the problem.
	Source string `json:"source"`
}

// String formats the problem the way compilers do.
func (p Problem) String() string {
	var b strings.Builder
	if p.File != "" {
		b.WriteString(p.File)
		if p.Line > 0 {
			fmt.Fprintf(&b, ":%d", p.Line)
			if p.Column > 0 {
				fmt.Fprintf(&b, ":%d", p.Column)
			}
		}
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "%s: %s", p.Severity, p.Message)
	return b.String()
}

// ProblemPattern is a regular expression whose named groups describe a
// problem. Recognized group names are file, line, col, severity and message.
type ProblemPattern struct {
	// Pattern is the regular expression.
	Pattern string

	// DefaultSeverity is used when the pattern has no severity group.
	DefaultSeverity ProblemSeverity
}

// FileLocation says how file paths in problems are interpreted.
type FileLocation string

const (
	// FileLocationRelative resolves paths against the task's working directory.
	FileLocationRelative FileLocation = "relative"
	// FileLocationAbsolute leaves paths as reported.
	FileLocationAbsolute FileLocation = "absolute"
)

// ProblemMatcherDefinition defines a problem matcher.
type ProblemMatcherDefinition struct {
	// Name is the matcher name, by convention prefixed with "$".
	Name string

	// Owner identifies the tool (e.g., "gcc", "ninja").
	Owner string

	// Patterns are tried in order; the first match wins.
	Patterns []ProblemPattern

	// FileLocation indicates how file paths are specified.
	FileLocation FileLocation
}

// CompiledMatcher is a compiled problem matcher ready for use.
type CompiledMatcher struct {
	def      ProblemMatcherDefinition
	patterns []*compiledPattern
}

type compiledPattern struct {
	regex           *regexp.Regexp
	defaultSeverity ProblemSeverity
}

// Name returns the matcher name.
func (m *CompiledMatcher) Name() string {
	return m.def.Name
}

// Match attempts to match a line and extract a problem. Relative file paths
// are resolved against dir when the matcher uses FileLocationRelative and
// dir is non-empty.
func (m *CompiledMatcher) Match(line, dir string) (Problem, bool) {
	for _, p := range m.patterns {
		matches := p.regex.FindStringSubmatch(line)
		if matches == nil {
			continue
		}

		problem := Problem{
			Source:   m.def.Owner,
			Severity: p.defaultSeverity,
		}

		for i, name := range p.regex.SubexpNames() {
			if i == 0 || name == "" || i >= len(matches) {
				continue
			}
			value := matches[i]
			switch name {
			case "file":
				problem.File = strings.TrimSpace(value)
			case "line":
				problem.Line, _ = strconv.Atoi(value)
			case "col":
				problem.Column, _ = strconv.Atoi(value)
			case "severity":
				problem.Severity = parseSeverity(value)
			case "message":
				problem.Message = strings.TrimSpace(value)
			}
		}

		if problem.Severity == "" {
			problem.Severity = ProblemSeverityError
		}
		if m.def.FileLocation == FileLocationRelative && dir != "" &&
			problem.File != "" && !filepath.IsAbs(problem.File) && !isDrivePath(problem.File) {
			problem.File = filepath.Join(dir, problem.File)
		}

		return problem, true
	}

	return Problem{}, false
}

// isDrivePath reports whether path starts with a Windows drive letter.
func isDrivePath(path string) bool {
	return len(path) >= 3 && path[1] == ':' && (path[2] == '\\' || path[2] == '/') &&
		((path[0] >= 'A' && path[0] <= 'Z') || (path[0] >= 'a' && path[0] <= 'z'))
}

func parseSeverity(s string) ProblemSeverity {
	switch strings.ToLower(s) {
	case "error", "fatal", "fatal error":
		return ProblemSeverityError
	case "warning", "warn":
		return ProblemSeverityWarning
	case "info", "note":
		return ProblemSeverityInfo
	default:
		return ProblemSeverityError
	}
}

// ProblemMatcher manages problem matchers.
type ProblemMatcher struct {
	matchers map[string]*CompiledMatcher
	mu       sync.RWMutex
}

// NewProblemMatcher creates a new problem matcher registry holding the
// built-in $gcc and $ninja matchers.
func NewProblemMatcher() *ProblemMatcher {
	pm := &ProblemMatcher{
		matchers: make(map[string]*CompiledMatcher),
	}

	pm.registerBuiltinMatchers()

	return pm
}

// Register compiles and registers a problem matcher definition.
func (pm *ProblemMatcher) Register(def ProblemMatcherDefinition) error {
	compiled, err := compileMatcher(def)
	if err != nil {
		return err
	}

	pm.mu.Lock()
	pm.matchers[def.Name] = compiled
	pm.mu.Unlock()

	return nil
}

// matcher returns a compiled matcher by name, or nil.
func (pm *ProblemMatcher) matcher(name string) *CompiledMatcher {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.matchers[name]
}

func compileMatcher(def ProblemMatcherDefinition) (*CompiledMatcher, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("problem matcher: empty name")
	}

	compiled := &CompiledMatcher{
		def:      def,
		patterns: make([]*compiledPattern, 0, len(def.Patterns)),
	}

	for _, p := range def.Patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("problem matcher %s: %w", def.Name, err)
		}
		compiled.patterns = append(compiled.patterns, &compiledPattern{
			regex:           re,
			defaultSeverity: p.DefaultSeverity,
		})
	}

	return compiled, nil
}

func (pm *ProblemMatcher) registerBuiltinMatchers() {
	// GCC/Clang style: file:line:col: severity: message. The file may carry
	// a Windows drive prefix.
	_ = pm.Register(ProblemMatcherDefinition{
		Name:  "$gcc",
		Owner: "gcc",
		Patterns: []ProblemPattern{
			{
				Pattern: `^(?P<file>(?:[A-Za-z]:[\\/])?[^:\n]+):(?P<line>\d+):(?P<col>\d+):\s*(?P<severity>fatal error|error|warning|note):\s*(?P<message>.+)$`,
			},
			{
				Pattern: `^(?P<file>(?:[A-Za-z]:[\\/])?[^:\n]+):(?P<line>\d+):\s*(?P<severity>fatal error|error|warning|note):\s*(?P<message>.+)$`,
			},
		},
		FileLocation: FileLocationRelative,
	})

	// Ninja edge failures: "FAILED: obj/foo.o" and "ninja: error: ...".
	_ = pm.Register(ProblemMatcherDefinition{
		Name:  "$ninja",
		Owner: "ninja",
		Patterns: []ProblemPattern{
			{
				Pattern:         `^FAILED: (?P<message>.+)$`,
				DefaultSeverity: ProblemSeverityError,
			},
			{
				Pattern:         `^ninja: (?P<severity>error|warning): (?P<message>.+)$`,
				DefaultSeverity: ProblemSeverityError,
			},
		},
		FileLocation: FileLocationAbsolute,
	})
}

// MatchLine tries the named matchers against a line, in order.
func (pm *ProblemMatcher) MatchLine(line, dir string, names ...string) (Problem, bool) {
	for _, name := range names {
		if m := pm.matcher(name); m != nil {
			if problem, ok := m.Match(line, dir); ok {
				return problem, true
			}
		}
	}

	return Problem{}, false
}
