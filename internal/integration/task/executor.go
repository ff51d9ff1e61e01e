package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dshills/buildninja/internal/integration/process"
)

// ExecutorConfig configures the task executor.
type ExecutorConfig struct {
	// Env are environment variables added to every task.
	Env map[string]string

	// OutputCapacity is the number of output lines kept per execution.
	OutputCapacity int

	// MaxConcurrent is the maximum concurrent task executions.
	MaxConcurrent int
}

// DefaultExecutorConfig returns sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		OutputCapacity: DefaultOutputCapacity,
		MaxConcurrent:  1,
	}
}

// ExecutionState represents the state of a task execution.
type ExecutionState string

const (
	// ExecutionStatePending indicates the task is waiting to run.
	ExecutionStatePending ExecutionState = "pending"
	// ExecutionStateRunning indicates the task is currently running.
	ExecutionStateRunning ExecutionState = "running"
	// ExecutionStateSucceeded indicates the task completed successfully.
	ExecutionStateSucceeded ExecutionState = "succeeded"
	// ExecutionStateFailed indicates the task failed.
	ExecutionStateFailed ExecutionState = "failed"
	// ExecutionStateCanceled indicates the task was canceled.
	ExecutionStateCanceled ExecutionState = "canceled"
)

// IsFinal reports whether the state is terminal.
func (s ExecutionState) IsFinal() bool {
	return s == ExecutionStateSucceeded || s == ExecutionStateFailed || s == ExecutionStateCanceled
}

// Execution represents a running or completed task execution.
type Execution struct {
	// ID is a unique identifier for this execution.
	ID string

	// Task is the task being executed.
	Task *Task

	mu        sync.RWMutex
	state     ExecutionState
	startTime time.Time
	endTime   time.Time
	exitCode  int
	err       error
	problems  []Problem

	output *OutputLog
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// ExecutionListener receives execution events. Output and problem events
// for stdout and stderr may arrive concurrently.
type ExecutionListener interface {
	OnExecutionStarted(exec *Execution)
	OnExecutionOutput(exec *Execution, line OutputLine)
	OnExecutionProblem(exec *Execution, problem Problem)
	OnExecutionCompleted(exec *Execution)
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the logger.
func WithExecutorLogger(logger *log.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// Executor runs tasks as supervised child processes, streaming their output
// and collecting problems.
type Executor struct {
	config     ExecutorConfig
	supervisor *process.Supervisor
	problems   *ProblemMatcher
	logger     *log.Logger

	executions   map[string]*Execution
	executionsMu sync.RWMutex

	// sem limits concurrent executions.
	sem chan struct{}

	listeners   []ExecutionListener
	listenersMu sync.RWMutex
}

// NewExecutor creates a new task executor that starts processes through
// supervisor.
func NewExecutor(supervisor *process.Supervisor, config ExecutorConfig, opts ...ExecutorOption) *Executor {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	if config.OutputCapacity <= 0 {
		config.OutputCapacity = DefaultOutputCapacity
	}

	e := &Executor{
		config:     config,
		supervisor: supervisor,
		executions: make(map[string]*Execution),
		sem:        make(chan struct{}, config.MaxConcurrent),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.problems == nil {
		e.problems = NewProblemMatcher()
	}
	if e.logger == nil {
		e.logger = log.New(io.Discard)
	}

	return e
}

// AddListener adds an execution listener.
func (e *Executor) AddListener(listener ExecutionListener) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.listeners = append(e.listeners, listener)
}

// RemoveListener removes an execution listener.
func (e *Executor) RemoveListener(listener ExecutionListener) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()

	for i, l := range e.listeners {
		if l == listener {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			return
		}
	}
}

// Validate checks that a task can be executed.
func (e *Executor) Validate(task *Task) error {
	if task == nil {
		return ErrTaskNotFound
	}
	if strings.TrimSpace(task.Command) == "" {
		return ErrEmptyCommand
	}
	if task.Shell {
		return fmt.Errorf("%s: %w", task.Name, ErrShellNotSupported)
	}
	return nil
}

// Execute starts a task and returns the execution handle.
func (e *Executor) Execute(ctx context.Context, task *Task) (*Execution, error) {
	if err := e.Validate(task); err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithCancel(ctx)

	exec := &Execution{
		ID:       uuid.New().String(),
		Task:     task,
		state:    ExecutionStatePending,
		exitCode: -1,
		output:   NewOutputLog(e.config.OutputCapacity),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	e.executionsMu.Lock()
	e.executions[exec.ID] = exec
	e.executionsMu.Unlock()

	go e.runExecution(execCtx, exec)

	return exec, nil
}

// ExecuteSync runs a task and waits for completion.
func (e *Executor) ExecuteSync(ctx context.Context, task *Task) (*Execution, error) {
	exec, err := e.Execute(ctx, task)
	if err != nil {
		return nil, err
	}

	<-exec.Done()

	return exec, nil
}

// ListExecutions returns all tracked executions.
func (e *Executor) ListExecutions() []*Execution {
	e.executionsMu.RLock()
	defer e.executionsMu.RUnlock()

	result := make([]*Execution, 0, len(e.executions))
	for _, exec := range e.executions {
		result = append(result, exec)
	}
	return result
}

// CancelAll cancels all active executions.
func (e *Executor) CancelAll() {
	for _, exec := range e.ListExecutions() {
		exec.Cancel()
	}
}

// CleanupCompleted removes completed executions from tracking.
func (e *Executor) CleanupCompleted() int {
	e.executionsMu.Lock()
	defer e.executionsMu.Unlock()

	count := 0
	for id, exec := range e.executions {
		if exec.State().IsFinal() {
			delete(e.executions, id)
			count++
		}
	}
	return count
}

// runExecution handles the actual task execution.
func (e *Executor) runExecution(ctx context.Context, exec *Execution) {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		e.finish(exec, ExecutionStateCanceled, -1, ctx.Err())
		return
	}

	task := exec.Task
	proc, err := e.supervisor.Start(ctx, process.Spec{
		Name:    task.Name,
		Command: task.Command,
		Args:    task.Args,
		Dir:     task.Cwd,
		Env:     e.environment(),
	})
	if err != nil {
		e.finish(exec, ExecutionStateFailed, -1, err)
		return
	}

	exec.mu.Lock()
	exec.startTime = proc.Started
	exec.state = ExecutionStateRunning
	exec.mu.Unlock()

	e.logger.Debug("task started", "task", task.Name, "process", proc.ID, "cmd", task.CommandLine(), "cwd", task.Cwd, "execution", exec.ID)
	e.notifyStarted(exec)

	matchers := e.matchersFor(task)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.processOutput(exec, proc.Stdout, OutputStreamStdout, matchers)
	}()
	go func() {
		defer wg.Done()
		e.processOutput(exec, proc.Stderr, OutputStreamStderr, matchers)
	}()
	wg.Wait()

	waitErr := proc.Wait()

	switch {
	case ctx.Err() != nil:
		e.finish(exec, ExecutionStateCanceled, proc.ExitCode(), ctx.Err())
	case waitErr != nil:
		e.finish(exec, ExecutionStateFailed, proc.ExitCode(), waitErr)
	default:
		e.finish(exec, ExecutionStateSucceeded, 0, nil)
	}
}

// matchersFor returns the matcher names applied to a task's output.
func (e *Executor) matchersFor(task *Task) []string {
	var names []string
	if task.ProblemMatcher != "" {
		names = append(names, task.ProblemMatcher)
	}
	if task.Type == TaskTypeNinja && task.ProblemMatcher != "$ninja" {
		names = append(names, "$ninja")
	}
	return names
}

// environment returns nil to inherit the parent environment, or the parent
// environment overlaid with the configured variables.
func (e *Executor) environment() []string {
	if len(e.config.Env) == 0 {
		return nil
	}

	envMap := make(map[string]string)
	for _, kv := range os.Environ() {
		if idx := strings.Index(kv, "="); idx > 0 {
			envMap[kv[:idx]] = kv[idx+1:]
		}
	}
	for k, v := range e.config.Env {
		envMap[k] = v
	}

	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+envMap[k])
	}
	return env
}

// processOutput reads and processes output from a stream.
func (e *Executor) processOutput(exec *Execution, r io.Reader, stream OutputStream, matchers []string) {
	err := exec.output.Process(r, stream, func(line OutputLine) {
		e.notifyOutput(exec, line)

		if len(matchers) == 0 {
			return
		}
		if problem, ok := e.problems.MatchLine(line.Content, exec.Task.Cwd, matchers...); ok {
			exec.mu.Lock()
			exec.problems = append(exec.problems, problem)
			exec.mu.Unlock()
			e.notifyProblem(exec, problem)
		}
	})
	if err != nil {
		e.logger.Warn("reading task output", "task", exec.Task.Name, "stream", stream, "err", err)
		// Drain so the child is not blocked on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
}

// finish records the final state and notifies listeners exactly once.
func (e *Executor) finish(exec *Execution, state ExecutionState, exitCode int, err error) {
	first := false
	exec.once.Do(func() {
		first = true
		exec.mu.Lock()
		exec.state = state
		exec.exitCode = exitCode
		exec.err = err
		exec.endTime = time.Now()
		if exec.startTime.IsZero() {
			exec.startTime = exec.endTime
		}
		exec.mu.Unlock()
	})
	if !first {
		return
	}

	exec.cancel()
	e.logger.Debug("task finished", "task", exec.Task.Name, "state", state, "code", exitCode, "err", err)

	close(exec.done)
	e.notifyCompleted(exec)
}

func (e *Executor) snapshotListeners() []ExecutionListener {
	e.listenersMu.RLock()
	defer e.listenersMu.RUnlock()
	listeners := make([]ExecutionListener, len(e.listeners))
	copy(listeners, e.listeners)
	return listeners
}

func (e *Executor) notifyStarted(exec *Execution) {
	for _, l := range e.snapshotListeners() {
		l.OnExecutionStarted(exec)
	}
}

func (e *Executor) notifyOutput(exec *Execution, line OutputLine) {
	for _, l := range e.snapshotListeners() {
		l.OnExecutionOutput(exec, line)
	}
}

func (e *Executor) notifyProblem(exec *Execution, problem Problem) {
	for _, l := range e.snapshotListeners() {
		l.OnExecutionProblem(exec, problem)
	}
}

func (e *Executor) notifyCompleted(exec *Execution) {
	for _, l := range e.snapshotListeners() {
		l.OnExecutionCompleted(exec)
	}
}

// Cancel cancels the execution. The supervisor terminates the process group.
func (ex *Execution) Cancel() {
	ex.cancel()
}

// Done returns a channel that's closed when execution completes.
func (ex *Execution) Done() <-chan struct{} {
	return ex.done
}

// State returns the current execution state.
func (ex *Execution) State() ExecutionState {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	return ex.state
}

// ExitCode returns the process exit code, or -1 if unknown.
func (ex *Execution) ExitCode() int {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	return ex.exitCode
}

// Err returns the error that ended the execution, if any.
func (ex *Execution) Err() error {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	return ex.err
}

// Problems returns the problems found so far.
func (ex *Execution) Problems() []Problem {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	result := make([]Problem, len(ex.problems))
	copy(result, ex.problems)
	return result
}

// Duration returns the execution duration.
func (ex *Execution) Duration() time.Duration {
	ex.mu.RLock()
	defer ex.mu.RUnlock()

	if ex.startTime.IsZero() {
		return 0
	}

	end := ex.endTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(ex.startTime)
}

// Output returns the retained output lines.
func (ex *Execution) Output() *OutputLog {
	return ex.output
}

// IsExitError reports whether err is a non-zero exit of the task's process
// rather than a failure to run it.
func IsExitError(err error) bool {
	var exitErr interface{ ExitCode() int }
	return errors.As(err, &exitErr)
}
