package campaign

import "sync"

// LogBuffer is a fixed-capacity ring of log lines. When full, pushing a
// new line evicts the oldest one. Safe for concurrent use.
type LogBuffer struct {
	mu   sync.Mutex
	buf  []string
	next int
	full bool
}

// NewLogBuffer returns a buffer holding at most capacity lines. A
// capacity below 1 is treated as 1.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &LogBuffer{buf: make([]string, capacity)}
}

// Push appends a line, evicting the oldest line when the buffer is full.
func (b *LogBuffer) Push(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf[b.next] = line
	b.next++
	if b.next == len(b.buf) {
		b.next = 0
		b.full = true
	}
}

// Len returns the number of buffered lines.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.buf)
	}
	return b.next
}

// Lines returns the buffered lines, oldest first.
func (b *LogBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		out := make([]string, b.next)
		copy(out, b.buf[:b.next])
		return out
	}
	out := make([]string, 0, len(b.buf))
	out = append(out, b.buf[b.next:]...)
	out = append(out, b.buf[:b.next]...)
	return out
}

// Last returns the most recently pushed line, if any.
func (b *LogBuffer) Last() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.next == 0 {
		if !b.full {
			return "", false
		}
		return b.buf[len(b.buf)-1], true
	}
	return b.buf[b.next-1], true
}
