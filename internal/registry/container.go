package registry

import "sync"

// Container is the dependency-injection surface the lifecycle manager
// consults. Every rebind leaves the previous definition unreachable but
// unloadable, so the container tracks a cumulative rebind count that acts
// as a hard ceiling on in-process definition growth.
type Container interface {
	ExceedsRebindThreshold() bool
	TotalRebindCount() int
}

// DefaultRebindThreshold bounds cumulative rebinds before the worker is
// drained and restarted.
const DefaultRebindThreshold = 100

// RebindContainer is a minimal binding store implementing Container. Its
// rebind counters are scoped to the process lifetime: Reset clears bindings
// but never the counters. Only a process restart zeroes them.
type RebindContainer struct {
	mu        sync.Mutex
	threshold int
	bindings  map[string]any
	counts    map[string]int
	total     int
}

// NewRebindContainer creates a container with the given rebind threshold.
// A threshold of 0 or less falls back to DefaultRebindThreshold.
func NewRebindContainer(threshold int) *RebindContainer {
	if threshold <= 0 {
		threshold = DefaultRebindThreshold
	}
	return &RebindContainer{
		threshold: threshold,
		bindings:  make(map[string]any),
		counts:    make(map[string]int),
	}
}

// Bind registers the initial binding for abstract without counting a rebind.
func (c *RebindContainer) Bind(abstract string, concrete any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings[abstract] = concrete
}

// Rebind replaces the binding for abstract and increments its counter and
// the cumulative total.
func (c *RebindContainer) Rebind(abstract string, concrete any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings[abstract] = concrete
	c.counts[abstract]++
	c.total++
}

// Resolve returns the current binding for abstract.
func (c *RebindContainer) Resolve(abstract string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.bindings[abstract]
	return v, ok
}

// Reset clears all bindings. Rebind counters survive: the definitions they
// count are still resident in process memory.
func (c *RebindContainer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings = make(map[string]any)
}

// ResetCounters zeroes the rebind counters. Call only when the worker
// process holding the counted definitions has actually restarted.
func (c *RebindContainer) ResetCounters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[string]int)
	c.total = 0
}

// RebindCount returns the rebind counter for one abstract.
func (c *RebindContainer) RebindCount(abstract string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[abstract]
}

// TotalRebindCount returns the cumulative rebind count across all abstracts.
func (c *RebindContainer) TotalRebindCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// ExceedsRebindThreshold reports whether the cumulative count has crossed
// the configured ceiling.
func (c *RebindContainer) ExceedsRebindThreshold() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total > c.threshold
}
