package protocol

import (
	"strings"

	"github.com/smallnest/ringbuffer"
)

// DefaultLineBuffer is the reassembly capacity used when none is configured.
const DefaultLineBuffer = 512

// LineBuffer reassembles newline-terminated lines from notification
// fragments. The peripheral may split one line across several
// notifications or pack several lines into one.
//
// Not safe for concurrent use.
type LineBuffer struct {
	rb *ringbuffer.RingBuffer
}

// NewLineBuffer creates a LineBuffer holding at most size bytes of an
// unterminated line.
func NewLineBuffer(size int) *LineBuffer {
	if size <= 0 {
		size = DefaultLineBuffer
	}
	return &LineBuffer{rb: ringbuffer.New(size)}
}

// Write appends a fragment and returns the lines it completed, without
// the terminator (a trailing "\r" is dropped too). If the buffer fills
// before a newline arrives, the buffered bytes are returned as a line.
func (b *LineBuffer) Write(p []byte) []string {
	var lines []string
	for _, c := range p {
		if c == Terminator {
			lines = append(lines, b.drain())
			continue
		}
		if b.rb.Free() == 0 {
			lines = append(lines, b.drain())
		}
		_ = b.rb.WriteByte(c)
	}
	return lines
}

// Pending returns the number of buffered bytes not yet terminated.
func (b *LineBuffer) Pending() int {
	return b.rb.Length()
}

// Reset discards any partial line.
func (b *LineBuffer) Reset() {
	b.rb.Reset()
}

func (b *LineBuffer) drain() string {
	buf := make([]byte, 0, b.rb.Length())
	for !b.rb.IsEmpty() {
		c, err := b.rb.ReadByte()
		if err != nil {
			break
		}
		buf = append(buf, c)
	}
	return strings.TrimSuffix(string(buf), "\r")
}
