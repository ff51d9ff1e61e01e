package task

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Discovery aggregates run configurations from registered providers and
// forwards their refresh signals. Every Discover call queries the providers
// afresh.
type Discovery struct {
	mu        sync.RWMutex
	providers []Provider
	cancels   []func()

	refreshMu sync.RWMutex
	onRefresh map[int]func()
	nextID    int

	logger *log.Logger
}

// DiscoveryResult contains the results of task discovery.
type DiscoveryResult struct {
	// Tasks is the list of discovered tasks, grouped by provider in
	// registration order and in provider order within each group.
	Tasks []*Task

	// BySource groups tasks by provider label.
	BySource map[string][]*Task

	// ByGroup groups tasks by task group.
	ByGroup map[TaskGroup][]*Task

	// Ineligible lists providers that did not apply to the project.
	Ineligible []string

	// Errors contains providers whose Settings call failed.
	Errors []DiscoveryError

	// Duration is how long discovery took.
	Duration time.Duration

	// Timestamp is when discovery completed.
	Timestamp time.Time
}

// Eligible reports whether at least one provider applied to the project.
func (r *DiscoveryResult) Eligible() bool {
	return len(r.BySource) > 0 || len(r.Errors) > 0
}

// Find returns the first task whose name, or whose first argument, equals
// name.
func (r *DiscoveryResult) Find(name string) (*Task, bool) {
	for _, t := range r.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	for _, t := range r.Tasks {
		if len(t.Args) > 0 && t.Args[0] == name {
			return t, true
		}
	}
	return nil, false
}

// NewDiscovery creates a new task discovery manager.
func NewDiscovery(logger *log.Logger) *Discovery {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Discovery{
		onRefresh: make(map[int]func()),
		logger:    logger,
	}
}

// Register adds a provider. Its refresh signals are forwarded to the
// Discovery's own refresh handlers.
func (d *Discovery) Register(p Provider) {
	cancel := p.OnRefresh(func() {
		d.logger.Debug("provider requested refresh", "provider", p.Label())
		d.fireRefresh()
	})

	d.mu.Lock()
	d.providers = append(d.providers, p)
	d.cancels = append(d.cancels, cancel)
	d.mu.Unlock()
}

// Providers returns the registered provider labels.
func (d *Discovery) Providers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	labels := make([]string, len(d.providers))
	for i, p := range d.providers {
		labels[i] = p.Label()
	}
	return labels
}

// OnRefresh registers fn to run after any provider requests a refresh.
// The returned cancel func may be called more than once.
func (d *Discovery) OnRefresh(fn func()) (cancel func()) {
	d.refreshMu.Lock()
	id := d.nextID
	d.nextID++
	d.onRefresh[id] = fn
	d.refreshMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.refreshMu.Lock()
			delete(d.onRefresh, id)
			d.refreshMu.Unlock()
		})
	}
}

func (d *Discovery) fireRefresh() {
	d.refreshMu.RLock()
	ids := make([]int, 0, len(d.onRefresh))
	for id := range d.onRefresh {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), len(ids))
	for i, id := range ids {
		fns[i] = d.onRefresh[id]
	}
	d.refreshMu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

// Discover runs one discovery cycle: an eligibility check followed by a
// settings query for every eligible provider, in registration order.
func (d *Discovery) Discover(ctx context.Context) (*DiscoveryResult, error) {
	start := time.Now()

	d.mu.RLock()
	providers := make([]Provider, len(d.providers))
	copy(providers, d.providers)
	d.mu.RUnlock()

	result := &DiscoveryResult{
		Tasks:    make([]*Task, 0),
		BySource: make(map[string][]*Task),
		ByGroup:  make(map[TaskGroup][]*Task),
	}

	for _, p := range providers {
		if !p.IsEligible() {
			result.Ineligible = append(result.Ineligible, p.Label())
			continue
		}

		tasks, err := p.Settings(ctx)
		if err != nil {
			result.Errors = append(result.Errors, DiscoveryError{Source: p.Label(), Err: err})
		}

		result.BySource[p.Label()] = append(result.BySource[p.Label()], tasks...)
		for _, t := range tasks {
			result.Tasks = append(result.Tasks, t)
			result.ByGroup[t.Group] = append(result.ByGroup[t.Group], t)
		}

		if ctx.Err() != nil {
			return result, ctx.Err()
		}
	}

	result.Duration = time.Since(start)
	result.Timestamp = time.Now()

	d.logger.Debug("discovery finished", "tasks", len(result.Tasks), "duration", result.Duration)

	return result, nil
}

// Close unregisters from all providers.
func (d *Discovery) Close() {
	d.mu.Lock()
	cancels := d.cancels
	d.cancels = nil
	d.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
