// memory.go keeps the bounded per-mode memory log fed back into the reason
// step. Memories are process-local; they inform the next few cycles, not
// long-term storage.
package orchestrator

import (
	"sync"

	"github.com/aegis-labs/aegis/core"
)

// memoryWindow is how many recent memories each mode retains.
const memoryWindow = 50

// memoryLog is a concurrency-safe ring of recent memories per mode.
type memoryLog struct {
	mu   sync.Mutex
	byID map[string][]core.Memory
}

func newMemoryLog() *memoryLog {
	return &memoryLog{byID: make(map[string][]core.Memory)}
}

// record appends a memory, dropping the oldest past the window.
func (l *memoryLog) record(m core.Memory) {
	l.mu.Lock()
	defer l.mu.Unlock()

	mems := append(l.byID[m.ModeID], m)
	if len(mems) > memoryWindow {
		mems = mems[len(mems)-memoryWindow:]
	}
	l.byID[m.ModeID] = mems
}

// recent returns a copy of the mode's memories, oldest first.
func (l *memoryLog) recent(modeID string) []core.Memory {
	l.mu.Lock()
	defer l.mu.Unlock()

	mems := l.byID[modeID]
	out := make([]core.Memory, len(mems))
	copy(out, mems)
	return out
}
