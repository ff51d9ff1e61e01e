package task

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	// ErrTaskNotFound is returned when no task matches a lookup.
	ErrTaskNotFound = errors.New("task not found")

	// ErrShellNotSupported is returned for tasks that request a shell.
	ErrShellNotSupported = errors.New("shell execution not supported")

	// ErrEmptyCommand is returned for tasks without a command.
	ErrEmptyCommand = errors.New("empty command")
)

// QueryError reports a failed target query in one build directory.
type QueryError struct {
	// Command is the executable that was run.
	Command string
	// Args are its arguments.
	Args []string
	// Dir is the working directory the command ran in.
	Dir string
	// BuildDir is the build directory being queried.
	BuildDir string
	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("query targets in %s: %s: %v",
		e.BuildDir, strings.Join(append([]string{e.Command}, e.Args...), " "), e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// DiscoveryError reports a provider that failed during discovery.
type DiscoveryError struct {
	Source string
	Err    error
}

func (e DiscoveryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error.
func (e DiscoveryError) Unwrap() error {
	return e.Err
}
