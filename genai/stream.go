package genai

import "iter"

// StreamSource is the iterator shape shared by the provider SDK stream
// types this package wraps (Next advances, Current returns the last chunk,
// Err reports a mid-stream failure after Next returns false).
type StreamSource[T any] interface {
	Next() bool
	Current() T
	Err() error
	Close() error
}

// Stream is a transparent proxy over a provider chunk stream. It yields
// exactly the chunks the wrapped stream yields, in order and unmodified,
// while the recorder accumulates telemetry from each one.
//
// Telemetry finalizes exactly once, on whichever comes first: stream
// exhaustion, a mid-stream error, or Close. Closing an abandoned stream
// therefore still emits its telemetry, covering consumers that break out
// of the read loop early.
type Stream[T any] struct {
	src      StreamSource[T]
	adapter  ChunkAdapter[T]
	recorder *Recorder
	cur      T
	err      error
	done     bool
}

// NewStream wraps a provider stream. The recorder must come from
// Settings.Start and must not be shared with another stream.
func NewStream[T any](src StreamSource[T], adapter ChunkAdapter[T], recorder *Recorder) *Stream[T] {
	return &Stream[T]{
		src:      src,
		adapter:  adapter,
		recorder: recorder,
	}
}

// Next advances the stream. It returns false when the wrapped stream is
// exhausted or fails; check Err afterwards.
func (s *Stream[T]) Next() bool {
	if s.done {
		return false
	}
	if s.src.Next() {
		s.cur = s.src.Current()
		Observe(s.recorder, s.adapter, s.cur)
		return true
	}
	s.done = true
	if err := s.src.Err(); err != nil {
		s.err = err
		s.recorder.Fail(err)
	} else {
		s.recorder.Finish()
	}
	return false
}

// Current returns the chunk read by the last successful Next.
func (s *Stream[T]) Current() T {
	return s.cur
}

// Err returns the error that ended the stream, if any.
func (s *Stream[T]) Err() error {
	return s.err
}

// Close releases the wrapped stream. If the stream was abandoned before
// exhaustion, telemetry for the chunks seen so far is finalized here.
func (s *Stream[T]) Close() error {
	s.done = true
	s.recorder.Finish()
	return s.src.Close()
}

// All returns the remaining chunks as a range-over-func sequence. The
// stream still needs Close, and Err still reports mid-stream failures.
func (s *Stream[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for s.Next() {
			if !yield(s.cur) {
				return
			}
		}
	}
}
