// Package outbuf is the line-oriented buffered output layer between a
// backend and the final file: backends append lines freely, and frame-
// dependent text (prologue, epilogue, frame-pointer displacements) is
// written as opaque tokens patched once the function's final stack size
// is known. The buffered lines are also what the peephole pass rewrites.
package outbuf

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Tokens understood by FixStack.
const (
	PrologueToken = "@P@"
	EpilogueToken = "@E@"
)

// FPToken renders a frame-relative reference token for a displacement
// of n bytes below the frame pointer.
func FPToken(n int) string {
	return fmt.Sprintf("@FP@%d@", n)
}

var fpTokenRe = regexp.MustCompile(`@FP@(-?\d+)@`)

// Framer supplies the concrete text FixStack substitutes for the
// deferred tokens once the stack size is known.
type Framer interface {
	Prologue(stackSize int) []string
	Epilogue(stackSize int) []string
	FrameRef(disp int) string
}

// Buffer accumulates output lines for one compilation.
type Buffer struct {
	lines []string
}

// New creates an empty buffer.
func New() *Buffer { return &Buffer{} }

// Printf appends one formatted line.
func (b *Buffer) Printf(format string, args ...interface{}) {
	b.lines = append(b.lines, fmt.Sprintf(format, args...))
}

// Line appends one literal line.
func (b *Buffer) Line(s string) { b.lines = append(b.lines, s) }

// Len returns the number of buffered lines; backends record it at
// function start so FixStack can be restricted to one function's lines.
func (b *Buffer) Len() int { return len(b.lines) }

// Lines returns the buffered lines. The slice is live: the peephole
// pass reads it and stores its rewrite back with SetLines.
func (b *Buffer) Lines() []string { return b.lines }

// SetLines replaces the buffered content wholesale.
func (b *Buffer) SetLines(lines []string) { b.lines = lines }

// FixStack patches every deferred token in lines [from, len): the
// prologue and epilogue tokens expand to the framer's sequences for the
// given stack size, and each @FP@n@ becomes the framer's frame
// reference text.
func (b *Buffer) FixStack(from, stackSize int, f Framer) {
	out := b.lines[:from:from]
	for _, line := range b.lines[from:] {
		switch strings.TrimSpace(line) {
		case PrologueToken:
			out = append(out, f.Prologue(stackSize)...)
			continue
		case EpilogueToken:
			out = append(out, f.Epilogue(stackSize)...)
			continue
		}
		out = append(out, fpTokenRe.ReplaceAllStringFunc(line, func(tok string) string {
			n, _ := strconv.Atoi(fpTokenRe.FindStringSubmatch(tok)[1])
			return f.FrameRef(n)
		}))
	}
	b.lines = out
}

// WriteTo flushes the buffer to w, one line per buffered line.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, line := range b.lines {
		n, err := io.WriteString(w, line+"\n")
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
