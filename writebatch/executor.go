package writebatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mevdschee/stockbatch/metrics"
)

// ConsiderAutoFlush flushes name when auto trigger is on and its pending
// rows reached the threshold. With failure checking on, any batch the flush
// executed, cascaded ones included, that the FailureDetector rejects is
// returned as a BatchExecutionError.
func (m *Manager) ConsiderAutoFlush(ctx context.Context, name string) error {
	h, ok := m.handles[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownHandle, name)
	}
	if !m.config.AutoTrigger || len(h.pending) < m.config.Threshold {
		return nil
	}

	_, err := m.flush(ctx, h, false, m.config.CheckAutoTriggerFailures)
	return err
}

// Flush executes the pending batches of every handle with a strictly lower
// priority number than name, then the batch of name itself if it reached
// the threshold or force is set. Only the results of name are returned; nil
// means name had nothing executed.
func (m *Manager) Flush(ctx context.Context, name string, force bool) ([]int64, error) {
	h, ok := m.handles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandle, name)
	}
	return m.flush(ctx, h, force, false)
}

// FlushAll flushes every handle in priority order and stops at the first
// batch that fails. It returns nil when no handle is registered.
func (m *Manager) FlushAll(ctx context.Context, force bool) (map[string][]int64, error) {
	if len(m.handles) == 0 {
		return nil, nil
	}

	all := make(map[string][]int64, len(m.handles))
	for _, name := range m.Handles() {
		h := m.handles[name]
		results, err := m.flush(ctx, h, force, true)
		if err != nil {
			return all, err
		}
		all[name] = results
	}
	return all, nil
}

// flush runs the cascade and then h. With detect set, every executed batch
// is also checked with the FailureDetector.
func (m *Manager) flush(ctx context.Context, h *handle, force, detect bool) ([]int64, error) {
	// Dependencies first
	for _, g := range m.groups {
		if g.priority >= h.priority {
			break
		}
		for _, dep := range g.handles {
			if len(dep.pending) == 0 {
				continue
			}
			log.Printf("[Batch] Due to higher priority, executing batch for %s before %s", dep.name, h.name)
			results, err := m.execute(ctx, dep, "cascade")
			if err != nil {
				return nil, err
			}
			if detect {
				if err := m.rejected(dep, results); err != nil {
					return nil, err
				}
			}
		}
	}

	n := len(h.pending)
	if n == 0 || (n < m.config.Threshold && !force) {
		return nil, nil
	}
	reason := "threshold"
	if n < m.config.Threshold {
		reason = "force"
	}
	results, err := m.execute(ctx, h, reason)
	if err != nil || !detect {
		return results, err
	}
	return results, m.rejected(h, results)
}

// rejected reports results the FailureDetector flags as a failure of h
func (m *Manager) rejected(h *handle, results []int64) error {
	if !m.config.FailureDetector(results) {
		return nil
	}
	log.Printf("[Batch] Results of %s rejected by failure detector", h.name)
	return &BatchExecutionError{Handle: h.name, Index: -1, Results: results}
}

// execute runs every pending row of h through its statement and resets the
// batch, whether or not it succeeded. Rows after a failing row are not
// attempted and are reported as ExecuteFailed.
func (m *Manager) execute(ctx context.Context, h *handle, reason string) ([]int64, error) {
	rows := h.pending
	h.pending = nil
	metrics.BatchPending.WithLabelValues(h.name).Set(0)

	start := time.Now()
	results := make([]int64, len(rows))
	failedAt := -1
	var execErr error

	for i, args := range rows {
		if execErr != nil {
			results[i] = ExecuteFailed
			continue
		}
		res, err := h.stmt.ExecContext(ctx, args...)
		if err != nil {
			execErr = err
			failedAt = i
			results[i] = ExecuteFailed
			continue
		}
		affected, err := res.RowsAffected()
		if err != nil {
			results[i] = SuccessNoInfo
			continue
		}
		results[i] = affected
	}

	metrics.BatchFlushes.WithLabelValues(h.name, reason).Inc()
	metrics.BatchLatency.WithLabelValues(h.name).Observe(time.Since(start).Seconds())

	if execErr != nil {
		metrics.BatchRows.WithLabelValues(h.name, "ok").Add(float64(failedAt))
		metrics.BatchRows.WithLabelValues(h.name, "failed").Add(float64(len(rows) - failedAt))
		log.Printf("[Batch] Batch for %s failed at row %d of %d: %v", h.name, failedAt, len(rows), execErr)
		return results, &BatchExecutionError{
			Handle:  h.name,
			Index:   failedAt,
			Results: results,
			Err:     execErr,
		}
	}

	metrics.BatchRows.WithLabelValues(h.name, "ok").Add(float64(len(rows)))
	log.Printf("[Batch] Executed %d rows for %s (%s)", len(rows), h.name, reason)
	return results, nil
}
