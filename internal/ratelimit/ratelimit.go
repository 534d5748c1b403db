// Package ratelimit throttles data channel throughput with a token bucket.
package ratelimit

import (
	"io"
	"sync"
	"time"
)

// maxChunk bounds a single read or write so that waits stay short and the
// rate stays smooth.
const maxChunk = 32 * 1024

// Limiter is a token bucket holding at most one second of tokens. One
// Limiter may be shared by several readers and writers; the limit then
// applies to their sum.
type Limiter struct {
	mu     sync.Mutex
	rate   float64
	tokens float64
	last   time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

// New returns a Limiter allowing bytesPerSecond. A non-positive rate means
// no limit and returns nil, which every function here accepts.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	return newWithClock(bytesPerSecond, time.Now, time.Sleep)
}

func newWithClock(bytesPerSecond int64, now func() time.Time, sleep func(time.Duration)) *Limiter {
	rate := float64(bytesPerSecond)
	return &Limiter{rate: rate, tokens: rate, last: now(), now: now, sleep: sleep}
}

// Rate returns the configured bytes per second.
func (l *Limiter) Rate() int64 {
	if l == nil {
		return 0
	}
	return int64(l.rate)
}

// reserve takes n tokens, going into debt if needed, and returns how long
// the caller must wait for the debt to be repaid.
func (l *Limiter) reserve(n int) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	if l.tokens > l.rate {
		l.tokens = l.rate
	}
	l.last = now

	l.tokens -= float64(n)
	if l.tokens >= 0 {
		return 0
	}
	return time.Duration(-l.tokens / l.rate * float64(time.Second))
}

// Wait blocks until n bytes may be transferred.
func (l *Limiter) Wait(n int) {
	if l == nil || n <= 0 {
		return
	}
	if d := l.reserve(n); d > 0 {
		l.sleep(d)
	}
}

func (l *Limiter) chunk(n int) int {
	limit := maxChunk
	if r := int(l.rate); r < limit {
		limit = max(r, 1)
	}
	return min(n, limit)
}

type reader struct {
	r io.Reader
	l *Limiter
}

// NewReader throttles r. With a nil limiter r is returned unchanged.
func NewReader(r io.Reader, l *Limiter) io.Reader {
	if l == nil {
		return r
	}
	return &reader{r: r, l: l}
}

// Read waits for tokens after reading, charging only for the bytes that
// actually arrived.
func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := r.r.Read(p[:r.l.chunk(len(p))])
	r.l.Wait(n)
	return n, err
}

type writer struct {
	w io.Writer
	l *Limiter
}

// NewWriter throttles w. With a nil limiter w is returned unchanged.
func NewWriter(w io.Writer, l *Limiter) io.Writer {
	if l == nil {
		return w
	}
	return &writer{w: w, l: l}
}

// Write splits p into chunks and waits for tokens before each one.
func (w *writer) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n := w.l.chunk(len(p) - written)
		w.l.Wait(n)
		m, err := w.w.Write(p[written : written+n])
		written += m
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
