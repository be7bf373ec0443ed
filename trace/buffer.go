// Package trace holds the line-oriented output path of the monitor: a
// bounded formatting buffer and the sink it flushes to.
//
// The buffer is deliberately fixed-capacity. Event callbacks run on threads
// the platform owns; truncating an over-long line there is recoverable,
// running out of memory is not.
package trace

import (
	"fmt"
	"io"
	"strings"
)

// Sink consumes one assembled text block per flush.
type Sink interface {
	Puts(s string)
}

// WriterSink adapts an io.Writer to a Sink. Write errors are ignored: the
// trace stream is diagnostic output, not data.
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) Puts(text string) {
	io.WriteString(s.W, text)
}

// Buffer assembles one event's output lines. Writes that would exceed the
// capacity are truncated, never buffered past it.
type Buffer struct {
	buf   []byte
	n     int
	width int
}

// NewBuffer returns a buffer of the given byte capacity that wraps long
// fields at width columns.
func NewBuffer(capacity, width int) *Buffer {
	if capacity <= 0 {
		capacity = 2048
	}
	if width <= 0 {
		width = 80
	}
	return &Buffer{buf: make([]byte, capacity), width: width}
}

// Remaining returns the free capacity in bytes.
func (b *Buffer) Remaining() int { return len(b.buf) - b.n }

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return b.n }

// String returns the buffered content. The result is copied; it stays valid
// across Reset.
func (b *Buffer) String() string { return string(b.buf[:b.n]) }

// Addf appends formatted text and returns the number of bytes written.
// If the remaining capacity cannot hold even the literal format string the
// call is a no-op returning 0; an expansion longer than the remaining
// capacity is truncated.
func (b *Buffer) Addf(format string, args ...any) int {
	if b.Remaining() < len(format) {
		return 0
	}
	s := fmt.Sprintf(format, args...)
	n := copy(b.buf[b.n:], s)
	b.n += n
	return n
}

// AddChar appends a single byte, or returns 0 when full.
func (b *Buffer) AddChar(c byte) int {
	if b.Remaining() < 1 {
		return 0
	}
	b.buf[b.n] = c
	b.n++
	return 1
}

// Reset rewinds the buffer without flushing.
func (b *Buffer) Reset() { b.n = 0 }

// Flush hands the buffered text to the sink, if any, and resets.
func (b *Buffer) Flush(s Sink) {
	if b.n > 0 {
		s.Puts(string(b.buf[:b.n]))
	}
	b.Reset()
}

// AddWrapped appends text, breaking it into multiple lines when the
// remaining width on the current line cannot hold the next word. Words are
// delimited by brk or '-'; runs of delimiters collapse. Continuation lines
// are indented by indent spaces. A trailing newline is always appended.
func (b *Buffer) AddWrapped(text string, indent int, brk byte) {
	left := b.width - indent
	i := 0
	wordStart := 0
	for i < len(text) {
		c := text[i]
		if c == brk || c == '-' {
			// Find the end of the next word to know if it fits. The word
			// runs to the nearest delimiter of either kind.
			next := strings.IndexAny(text[i+1:], string(brk)+"-")
			if next < 0 {
				next = len(text) - i - 1
			}
			if left < 2 || left <= next {
				if brk != ' ' {
					b.AddChar(brk)
				}
				b.AddChar('\n')
				for j := 0; j < indent; j++ {
					b.AddChar(' ')
				}
				left = b.width - indent
				i++
				wordStart = i
				continue
			}
			// Collapse repeated delimiters.
			if i > wordStart {
				prev := text[i-1]
				if prev == brk || prev == '-' {
					i++
					wordStart = i
					continue
				}
			}
		}
		if b.AddChar(c) == 0 {
			break
		}
		left--
		i++
	}
	b.AddChar('\n')
}
