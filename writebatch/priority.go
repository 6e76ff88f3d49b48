package writebatch

import "sort"

// priorityGroup holds the handles sharing one priority, in registration order
type priorityGroup struct {
	priority int
	handles  []*handle
}

// addToGroup inserts h into the group for its priority, creating the group
// at its sorted position when needed.
func (m *Manager) addToGroup(h *handle) {
	i := sort.Search(len(m.groups), func(i int) bool {
		return m.groups[i].priority >= h.priority
	})
	if i < len(m.groups) && m.groups[i].priority == h.priority {
		m.groups[i].handles = append(m.groups[i].handles, h)
		return
	}
	m.groups = append(m.groups, nil)
	copy(m.groups[i+1:], m.groups[i:])
	m.groups[i] = &priorityGroup{priority: h.priority, handles: []*handle{h}}
}

// removeFromGroup drops h from its group and the group itself once empty
func (m *Manager) removeFromGroup(h *handle) {
	i := sort.Search(len(m.groups), func(i int) bool {
		return m.groups[i].priority >= h.priority
	})
	if i == len(m.groups) || m.groups[i].priority != h.priority {
		return
	}
	g := m.groups[i]
	for j, other := range g.handles {
		if other == h {
			g.handles = append(g.handles[:j], g.handles[j+1:]...)
			break
		}
	}
	if len(g.handles) == 0 {
		m.groups = append(m.groups[:i], m.groups[i+1:]...)
	}
}

// Priorities returns the distinct registered priorities in ascending order
func (m *Manager) Priorities() []int {
	out := make([]int, len(m.groups))
	for i, g := range m.groups {
		out[i] = g.priority
	}
	return out
}
