package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// DefaultGracePeriod is how long a canceled process may take to exit after
// SIGTERM before it is killed.
const DefaultGracePeriod = 5 * time.Second

// Supervisor starts child processes and tracks them until they exit.
//
// Every process gets a UUID, runs in its own process group, and is
// terminated when the context passed to Start ends. Supervisor is safe for
// concurrent use.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Process

	closed      atomic.Bool
	gracePeriod time.Duration
	logger      *log.Logger
}

// SupervisorOption configures a Supervisor instance.
type SupervisorOption func(*Supervisor)

// WithGracePeriod sets how long a canceled process may take to exit.
func WithGracePeriod(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.gracePeriod = d
	}
}

// WithLogger sets the logger for process lifecycle messages.
func WithLogger(logger *log.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		processes:   make(map[string]*Process),
		gracePeriod: DefaultGracePeriod,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = log.New(io.Discard)
	}

	return s
}

// Start starts a new managed process.
//
// When ctx ends the process group receives SIGTERM, followed by SIGKILL
// after the grace period. Returns ErrSupervisorShutdown if the supervisor
// is shutting down.
func (s *Supervisor) Start(ctx context.Context, spec Spec) (*Process, error) {
	return s.StartWithID(ctx, uuid.New().String(), spec)
}

// StartWithID starts a new managed process with a specific ID.
func (s *Supervisor) StartWithID(ctx context.Context, id string, spec Spec) (*Process, error) {
	if spec.Command == "" {
		return nil, ErrEmptyCommand
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check shutdown state under lock to prevent race
	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}

	if _, exists := s.processes[id]; exists {
		return nil, fmt.Errorf("process ID already exists: %s", id)
	}

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = s.gracePeriod

	name := spec.Name
	if name == "" {
		name = spec.Command
	}
	proc := NewProcess(id, name, cmd)

	if spec.Stdout != nil {
		cmd.Stdout = spec.Stdout
	} else {
		r, w := io.Pipe()
		cmd.Stdout = w
		proc.Stdout = r
		proc.writers = append(proc.writers, w)
	}

	if spec.Stderr != nil {
		cmd.Stderr = spec.Stderr
	} else {
		r, w := io.Pipe()
		cmd.Stderr = w
		proc.Stderr = r
		proc.writers = append(proc.writers, w)
	}

	// Start the process before tracking (so we don't track failed starts)
	if err := proc.start(); err != nil {
		return nil, err
	}

	s.processes[id] = proc
	s.logger.Debug("process started", "id", id, "name", name, "cmd", spec.CommandLine(), "dir", spec.Dir, "pid", proc.PID())

	go s.monitorProcess(proc)

	return proc, nil
}

// Output runs command in dir and returns its standard output.
//
// A non-zero exit yields a *CommandError carrying the exit code and the
// trimmed standard error. If ctx ends first the error wraps ctx.Err().
func (s *Supervisor) Output(ctx context.Context, command string, args []string, dir string) (string, error) {
	var stdout, stderr bytes.Buffer

	spec := Spec{
		Name:    command,
		Command: command,
		Args:    args,
		Dir:     dir,
		Stdout:  &stdout,
		Stderr:  &stderr,
	}

	proc, err := s.Start(ctx, spec)
	if err != nil {
		return "", err
	}

	waitErr := proc.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		waitErr = ctxErr
	}
	if waitErr != nil {
		return stdout.String(), &CommandError{
			Command:  command,
			Args:     args,
			Dir:      dir,
			ExitCode: proc.ExitCode(),
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      waitErr,
		}
	}

	return stdout.String(), nil
}

// monitorProcess watches for process exit and cleans up.
func (s *Supervisor) monitorProcess(proc *Process) {
	<-proc.Done()

	s.logger.Debug("process exited", "id", proc.ID, "name", proc.Name, "code", proc.ExitCode(), "runtime", proc.Runtime())

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()
}

// List returns all managed processes.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		result = append(result, p)
	}
	return result
}

// Count returns the number of managed processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// Shutdown gracefully shuts down all processes.
//
// It first sends SIGTERM to all processes and waits up to timeout
// for them to exit. Any processes still running after the timeout
// are killed with SIGKILL.
//
// Shutdown blocks until all processes have exited and been removed.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	if s.closed.Swap(true) {
		return
	}

	procs := s.List()
	if len(procs) == 0 {
		return
	}

	for _, p := range procs {
		if p.IsRunning() {
			_ = p.Terminate()
		}
	}

	done := make(chan struct{})
	go func() {
		for _, p := range procs {
			<-p.Done()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		for _, p := range procs {
			if p.IsRunning() {
				_ = p.Kill()
			}
		}
		<-done
	}

	s.waitForCleanup()
}

// waitForCleanup waits for all processes to be removed from the map.
func (s *Supervisor) waitForCleanup() {
	for s.Count() > 0 {
		time.Sleep(time.Millisecond)
	}
}

// Sentinel errors.
var (
	// ErrSupervisorShutdown is returned when the supervisor is shutting down.
	ErrSupervisorShutdown = errors.New("supervisor is shutting down")

	// ErrEmptyCommand is returned when a Spec has no command.
	ErrEmptyCommand = errors.New("empty command")
)
