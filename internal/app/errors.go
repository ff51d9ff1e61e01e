// Package app provides the buildninja command-line host. It wires the
// configuration, process supervisor, ninja provider and task executor
// together behind a cobra command tree.
package app

import (
	"errors"
	"fmt"
)

// Exit codes returned by buildninja.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitNotEligible = 2
)

// Application errors.
var (
	// ErrNoBuildDir indicates that no candidate directory contains build.ninja.
	ErrNoBuildDir = errors.New("no build directory with build.ninja")

	// ErrTargetNotFound indicates that no run configuration has the requested name.
	ErrTargetNotFound = errors.New("target not found")

	// ErrInitialization indicates an initialization failure.
	ErrInitialization = errors.New("initialization failed")
)

// InitError represents a failure to initialize a component.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("failed to initialize %s: %v", e.Component, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrInitialization.
func (e *InitError) Is(target error) bool {
	return target == ErrInitialization
}

// ExitError signals a non-zero exit code without calling os.Exit in
// command handlers.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}
