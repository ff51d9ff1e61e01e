package task

import (
	"strings"
)

// TaskType identifies the type of task.
type TaskType string

const (
	// TaskTypeNinja is a ninja build target.
	TaskTypeNinja TaskType = "ninja"
	// TaskTypeProcess is a plain process-based task.
	TaskTypeProcess TaskType = "process"
)

// TaskGroup categorizes tasks.
type TaskGroup string

const (
	// TaskGroupBuild contains build-related tasks.
	TaskGroupBuild TaskGroup = "build"
	// TaskGroupTest contains test-related tasks.
	TaskGroupTest TaskGroup = "test"
	// TaskGroupRun contains run/start tasks.
	TaskGroupRun TaskGroup = "run"
	// TaskGroupClean contains cleanup tasks.
	TaskGroupClean TaskGroup = "clean"
	// TaskGroupLint contains linting tasks.
	TaskGroupLint TaskGroup = "lint"
	// TaskGroupOther contains uncategorized tasks.
	TaskGroupOther TaskGroup = "other"
)

// Task is a run configuration: one invocation a host can offer and execute.
type Task struct {
	// ID is a unique identifier for the task.
	ID string `json:"id"`

	// Name is the display name of the task.
	Name string `json:"name"`

	// Source identifies the provider the task came from.
	Source string `json:"source"`

	// SourceFile is the file the task was derived from.
	SourceFile string `json:"sourceFile,omitempty"`

	// Type is the task type.
	Type TaskType `json:"type"`

	// Group is the task category.
	Group TaskGroup `json:"group"`

	// Command is the executable to run. It is never passed to a shell.
	Command string `json:"command"`

	// Args are the command arguments.
	Args []string `json:"args,omitempty"`

	// Cwd is the working directory for the task.
	Cwd string `json:"cwd,omitempty"`

	// Shell reports whether the command should be run through a shell.
	// Providers in this module always set it to false.
	Shell bool `json:"shell"`

	// ProblemMatcher is the problem matcher name applied to output.
	ProblemMatcher string `json:"problemMatcher,omitempty"`

	// IsDefault indicates this is a default task for its group.
	IsDefault bool `json:"isDefault,omitempty"`

	// Directory is the build directory relative to the project root.
	Directory string `json:"directory,omitempty"`

	// Target is the target name as reported by the build tool.
	Target string `json:"target,omitempty"`
}

// CommandLine returns the command and its arguments joined by spaces.
func (t *Task) CommandLine() string {
	return strings.Join(append([]string{t.Command}, t.Args...), " ")
}

// InferGroup infers the task group from a target name.
func InferGroup(name string) TaskGroup {
	buildPatterns := []string{"all", "build", "compile", "install", "package", "lib"}
	testPatterns := []string{"test", "check", "verify", "coverage", "bench"}
	runPatterns := []string{"run", "start", "serve"}
	cleanPatterns := []string{"clean", "clear", "purge"}
	lintPatterns := []string{"lint", "format", "fmt", "tidy"}

	lowerName := strings.ToLower(name)

	// Test targets often also contain "build" (e.g. build_tests), so check
	// them first.
	for _, pattern := range testPatterns {
		if strings.Contains(lowerName, pattern) {
			return TaskGroupTest
		}
	}

	for _, pattern := range cleanPatterns {
		if strings.Contains(lowerName, pattern) {
			return TaskGroupClean
		}
	}

	for _, pattern := range lintPatterns {
		if strings.Contains(lowerName, pattern) {
			return TaskGroupLint
		}
	}

	for _, pattern := range buildPatterns {
		if strings.Contains(lowerName, pattern) {
			return TaskGroupBuild
		}
	}

	for _, pattern := range runPatterns {
		if strings.Contains(lowerName, pattern) {
			return TaskGroupRun
		}
	}

	return TaskGroupOther
}
