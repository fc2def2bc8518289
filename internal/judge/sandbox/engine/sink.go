package engine

import (
	"io"
	"sync"
)

// cappedSink forwards at most limit bytes to w. Anything past the limit is
// counted and discarded, and breached is closed on the first overflow.
// Write always reports the full length.
type cappedSink struct {
	w        io.Writer
	limit    int64
	written  int64
	total    int64
	err      error
	breached chan struct{}
	once     sync.Once
}

func newCappedSink(w io.Writer, limit int64) *cappedSink {
	return &cappedSink{w: w, limit: limit, breached: make(chan struct{})}
}

func (s *cappedSink) Write(p []byte) (int, error) {
	s.total += int64(len(p))
	if room := s.limit - s.written; room > 0 && s.err == nil {
		chunk := p
		if int64(len(chunk)) > room {
			chunk = chunk[:room]
		}
		n, err := s.w.Write(chunk)
		s.written += int64(n)
		if err != nil {
			s.err = err
		}
	}
	if s.total > s.limit {
		s.once.Do(func() { close(s.breached) })
	}
	return len(p), nil
}
