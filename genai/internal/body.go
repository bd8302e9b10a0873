package internal

import (
	"bytes"
	"io"
	"sync"
)

var (
	dataPrefix = []byte("data: ")
	doneMarker = []byte("[DONE]")
)

// SSEBody passes a streaming response body through to the caller untouched
// while scanning server-sent events out of it. onEvent fires for each data
// payload as the caller reads past it; onDone fires exactly once when the
// stream is exhausted, closed early, or fails mid-read.
type SSEBody struct {
	src     io.ReadCloser
	onEvent func(data []byte)
	onDone  func(err error)

	rem  []byte // partial line carried between reads
	once sync.Once
}

// NewSSEBody wraps src. Both callbacks run synchronously on the reader's
// goroutine.
func NewSSEBody(src io.ReadCloser, onEvent func(data []byte), onDone func(err error)) *SSEBody {
	return &SSEBody{src: src, onEvent: onEvent, onDone: onDone}
}

func (b *SSEBody) Read(p []byte) (int, error) {
	n, err := b.src.Read(p)
	if n > 0 {
		b.scan(p[:n])
	}
	switch {
	case err == io.EOF:
		b.finish(nil)
	case err != nil:
		b.finish(err)
	}
	return n, err
}

// Close finalizes telemetry even if the caller abandoned the stream early.
func (b *SSEBody) Close() error {
	b.finish(nil)
	return b.src.Close()
}

func (b *SSEBody) scan(data []byte) {
	b.rem = append(b.rem, data...)
	for {
		i := bytes.IndexByte(b.rem, '\n')
		if i < 0 {
			return
		}
		line := bytes.TrimSuffix(b.rem[:i], []byte("\r"))
		b.rem = b.rem[i+1:]

		payload, ok := bytes.CutPrefix(line, dataPrefix)
		if !ok || bytes.Equal(payload, doneMarker) {
			continue
		}
		if b.onEvent != nil {
			b.onEvent(payload)
		}
	}
}

func (b *SSEBody) finish(err error) {
	b.once.Do(func() {
		if b.onDone != nil {
			b.onDone(err)
		}
	})
}

// BufferedBody passes a response body through to the caller untouched while
// keeping a copy. onDone receives the buffered bytes exactly once, on EOF,
// close, or read error.
type BufferedBody struct {
	src    io.ReadCloser
	onDone func(body io.Reader, err error)

	buf  bytes.Buffer
	once sync.Once
}

// NewBufferedBody wraps src. onDone runs synchronously on the reader's
// goroutine.
func NewBufferedBody(src io.ReadCloser, onDone func(body io.Reader, err error)) *BufferedBody {
	return &BufferedBody{src: src, onDone: onDone}
}

func (b *BufferedBody) Read(p []byte) (int, error) {
	n, err := b.src.Read(p)
	if n > 0 {
		b.buf.Write(p[:n])
	}
	switch {
	case err == io.EOF:
		b.finish(nil)
	case err != nil:
		b.finish(err)
	}
	return n, err
}

// Close triggers onDone with whatever was buffered so far.
func (b *BufferedBody) Close() error {
	b.finish(nil)
	return b.src.Close()
}

func (b *BufferedBody) finish(err error) {
	b.once.Do(func() {
		if b.onDone != nil {
			b.onDone(&b.buf, err)
		}
	})
}
