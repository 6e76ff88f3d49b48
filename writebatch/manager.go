package writebatch

import (
	"context"
	"fmt"
	"log"

	"github.com/mevdschee/stockbatch/metrics"
	"github.com/mevdschee/stockbatch/parser"
)

// Manager accumulates parameterized writes per handle and flushes them so
// that handles with a lower priority number are always executed before the
// handles that depend on them. A Manager belongs to one unit of work on one
// connection and is not safe for concurrent use.
type Manager struct {
	prep    Preparer
	config  Config
	handles map[string]*handle
	groups  []*priorityGroup // ascending by priority
}

// New creates a new batch manager compiling statements with prep
func New(prep Preparer, config Config) *Manager {
	if config.Threshold <= 0 {
		config.Threshold = 1
	}
	if config.FailureDetector == nil {
		config.FailureDetector = ContainsExecuteFailed
	}
	return &Manager{
		prep:    prep,
		config:  config,
		handles: make(map[string]*handle),
	}
}

// Config returns the effective configuration
func (m *Manager) Config() Config {
	return m.config
}

// Register compiles template and tracks it under name with the given
// priority, 0 being the highest.
func (m *Manager) Register(ctx context.Context, name, template string, priority int) error {
	if _, exists := m.handles[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateHandle, name)
	}
	if priority < 0 {
		return fmt.Errorf("%w: %q has priority %d", ErrInvalidPriority, name, priority)
	}

	parsed := parser.Parse(template)
	if !parsed.IsWritable() {
		return fmt.Errorf("%w: %q", ErrInvalidTemplate, name)
	}

	stmt, err := m.prep.PrepareContext(ctx, template)
	if err != nil {
		return fmt.Errorf("prepare %q: %w", name, err)
	}

	h := &handle{
		name:     name,
		priority: priority,
		stmt:     stmt,
		template: parsed,
	}
	m.handles[name] = h
	m.addToGroup(h)
	metrics.BatchPending.WithLabelValues(name).Set(0)
	return nil
}

// Unregister releases the statement behind name and discards its pending
// rows. Unknown names are ignored.
func (m *Manager) Unregister(name string) {
	h, ok := m.handles[name]
	if !ok {
		return
	}
	closeStmt(h)
	delete(m.handles, name)
	m.removeFromGroup(h)
	metrics.BatchPending.DeleteLabelValues(name)
}

// Append binds values positionally and adds them to the pending batch of
// name, then considers an automatic flush. types optionally overrides the
// binding of each position.
func (m *Manager) Append(ctx context.Context, name string, values []any, types ...ParamType) error {
	h, ok := m.handles[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownHandle, name)
	}

	row, err := bindRow(h, values, types)
	if err != nil {
		return err
	}
	h.pending = append(h.pending, row)
	metrics.BatchPending.WithLabelValues(name).Set(float64(len(h.pending)))

	return m.ConsiderAutoFlush(ctx, name)
}

// PendingCount returns the number of rows waiting in the batch of name
func (m *Manager) PendingCount(name string) int {
	if h, ok := m.handles[name]; ok {
		return len(h.pending)
	}
	return 0
}

// State returns the flush state of name
func (m *Manager) State(name string) State {
	n := m.PendingCount(name)
	switch {
	case n == 0:
		return StateIdle
	case n >= m.config.Threshold:
		return StateReadyToFlush
	default:
		return StateAccumulating
	}
}

// Priority returns the priority name was registered with
func (m *Manager) Priority(name string) (int, bool) {
	h, ok := m.handles[name]
	if !ok {
		return 0, false
	}
	return h.priority, true
}

// Handles returns registered names in flush order: ascending priority,
// then registration order.
func (m *Manager) Handles() []string {
	names := make([]string, 0, len(m.handles))
	for _, g := range m.groups {
		for _, h := range g.handles {
			names = append(names, h.name)
		}
	}
	return names
}

// ClearAll discards every pending row without executing it. Statements stay
// registered.
func (m *Manager) ClearAll() {
	for _, h := range m.handles {
		if len(h.pending) > 0 {
			log.Printf("[Batch] Discarding %d pending rows for %s", len(h.pending), h.name)
		}
		h.pending = nil
		metrics.BatchPending.WithLabelValues(h.name).Set(0)
	}
}

// CloseAll releases every statement and empties the registry. Close errors
// are logged, never returned. Calling it again is a no-op.
func (m *Manager) CloseAll() {
	for name, h := range m.handles {
		closeStmt(h)
		metrics.BatchPending.DeleteLabelValues(name)
	}
	m.handles = make(map[string]*handle)
	m.groups = nil
}

func closeStmt(h *handle) {
	if h.stmt == nil {
		return
	}
	if err := h.stmt.Close(); err != nil {
		log.Printf("[Batch] Failed to close statement for %s: %v", h.name, err)
	}
	h.stmt = nil
}
