package downloader

import (
	"context"
	"io"
	"sync/atomic"
	"time"
)

// stallReader cancels the request when no read completes within timeout.
type stallReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
	stalled atomic.Bool
}

func newStallReader(r io.Reader, timeout time.Duration, cancel context.CancelFunc) *stallReader {
	s := &stallReader{r: r, timeout: timeout}
	s.timer = time.AfterFunc(timeout, func() {
		s.stalled.Store(true)
		cancel()
	})
	return s
}

func (s *stallReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if s.stalled.Load() {
		return n, ErrStalled
	}
	s.timer.Reset(s.timeout)
	return n, err
}

func (s *stallReader) Stop() {
	s.timer.Stop()
}
