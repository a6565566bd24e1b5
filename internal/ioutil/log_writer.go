// Package ioutil provides I/O utilities.
package ioutil

import (
	"bytes"
	"io"
	"sync"
	"testing"
)

// TestLogWriter builds and returns an io.Writer that
// writes messages to the given testing.TB.
// The returned writer is safe for concurrent use.
func TestLogWriter(t testing.TB, prefix string) (w io.Writer) {
	w, flush := LogfWriter(t.Logf, prefix)
	t.Cleanup(flush)
	return w
}

// printfWriter is an io.Writer that writes to a printf-style function.
type printfWriter struct {
	// printf implementation should add a newline at the end.
	printf func(string, ...any)
	prefix string
	buff   bytes.Buffer
	mu     sync.Mutex
}

var _ io.Writer = (*printfWriter)(nil)

// LogfWriter builds and returns an io.Writer that forwards each line
// written to it to printf, prefixed with prefix.
//
// The done function must be called when the writer is no longer needed.
// It will flush any buffered text that didn't end with a newline.
func LogfWriter(printf func(string, ...any), prefix string) (w io.Writer, done func()) {
	pw := &printfWriter{
		printf: printf,
		prefix: prefix,
	}
	return pw, pw.flush
}

var _newline = []byte{'\n'}

func (w *printfWriter) Write(bs []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	total := len(bs)
	for len(bs) > 0 {
		var (
			line []byte
			ok   bool
		)
		line, bs, ok = bytes.Cut(bs, _newline)
		if !ok {
			// No newline. Buffer and wait for more.
			w.buff.Write(line)
			break
		}

		if w.buff.Len() == 0 {
			// No prior partial write. Flush.
			w.printf("%s%s", w.prefix, line)
			continue
		}

		// Flush prior partial write.
		w.buff.Write(line)
		w.printf("%s%s", w.prefix, w.buff.Bytes())
		w.buff.Reset()
	}
	return total, nil
}

// flush flushes buffered text, even if it doesn't end with a newline.
func (w *printfWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buff.Len() > 0 {
		w.printf("%s%s", w.prefix, w.buff.Bytes())
		w.buff.Reset()
	}
}
