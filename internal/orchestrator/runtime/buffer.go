package runtime

import "bytes"

// boundedBuffer keeps the first limit bytes written to it and silently
// discards the rest, so a noisy build cannot exhaust memory.
type boundedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newBoundedBuffer(limit int) *boundedBuffer {
	return &boundedBuffer{limit: limit}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if remaining := b.limit - b.buf.Len(); remaining < len(p) {
		b.truncated = true
		p = p[:max(remaining, 0)]
	}
	b.buf.Write(p)
	return n, nil
}

// Truncated reports whether any write was cut short.
func (b *boundedBuffer) Truncated() bool {
	return b.truncated
}

func (b *boundedBuffer) String() string {
	return b.buf.String()
}
