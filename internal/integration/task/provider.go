package task

import (
	"context"
)

// Provider supplies run configurations to a host.
type Provider interface {
	// Label is the human-readable provider name.
	Label() string

	// IsEligible reports whether the provider applies to the project.
	// It performs filesystem checks only and never fails.
	IsEligible() bool

	// Settings returns the run configurations for the project. Failures of
	// individual queries are reported through a Notifier, not returned; the
	// error is non-nil only when ctx ended.
	Settings(ctx context.Context) ([]*Task, error)

	// OnRefresh registers fn to be called whenever previously returned
	// configurations may be stale. The returned func unregisters it.
	OnRefresh(fn func()) (cancel func())
}

// Runner executes a command and returns its standard output.
type Runner interface {
	Output(ctx context.Context, command string, args []string, dir string) (string, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, command string, args []string, dir string) (string, error)

// Output calls f.
func (f RunnerFunc) Output(ctx context.Context, command string, args []string, dir string) (string, error) {
	return f(ctx, command, args, dir)
}

// Notification is a user-facing error message.
type Notification struct {
	Title  string
	Detail string
}

// Notifier shows notifications to the user.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(n Notification)

// Notify calls f.
func (f NotifierFunc) Notify(n Notification) {
	f(n)
}
