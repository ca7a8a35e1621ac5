package execdriver

import "sync"

// tail is a fixed-size ring of the helper's most recent output lines.
// When full, each write overwrites the oldest line. The tail is logged when
// a helper exits unexpectedly.
type tail struct {
	mu    sync.RWMutex
	lines []string
	head  int // next write position
	size  int
}

func newTail(capacity int) *tail {
	if capacity <= 0 {
		capacity = DefaultTailLines
	}
	return &tail{lines: make([]string, capacity)}
}

func (t *tail) Write(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lines[t.head] = line
	t.head = (t.head + 1) % len(t.lines)
	if t.size < len(t.lines) {
		t.size++
	}
}

// Lines returns the buffered lines, oldest first.
func (t *tail) Lines() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]string, t.size)
	if t.size < len(t.lines) {
		copy(result, t.lines[:t.size])
		return result
	}
	for i := 0; i < t.size; i++ {
		result[i] = t.lines[(t.head+i)%len(t.lines)]
	}
	return result
}
