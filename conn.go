package ftp

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Transport is a connection whose reads and writes can be bounded by
// byte-count-gated timeouts. A timer armed with SetReadTimeout(n, d) expires
// unless at least n bytes are read within d; every n bytes read re-arms it.
type Transport interface {
	SetReadTimeout(threshold int64, d time.Duration) error
	SetWriteTimeout(threshold int64, d time.Duration) error
	CancelReadTimer()
	CancelWriteTimer()
	Stream() io.ReadWriter
}

// TimeoutPolicy builds the Transport used for a raw connection. The control
// channel and every data channel get their own Transport.
type TimeoutPolicy interface {
	BuildTransport(raw net.Conn) Transport
}

// Timeouts are the per-operation timeouts installed around every exchange.
// A zero duration disables that direction.
type Timeouts struct {
	ReadThreshold  int64
	Read           time.Duration
	WriteThreshold int64
	Write          time.Duration
}

// DefaultTimeouts returns the timeouts used when no option overrides them.
func DefaultTimeouts() Timeouts {
	return Timeouts{ReadThreshold: 1, Read: 30 * time.Second, WriteThreshold: 1, Write: 30 * time.Second}
}

// DefaultTimeoutPolicy returns the deadline-based policy.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return deadlinePolicy{}
}

type deadlinePolicy struct{}

func (deadlinePolicy) BuildTransport(raw net.Conn) Transport {
	return &timeoutConn{Conn: raw}
}

// timeoutConn implements Transport with connection deadlines.
type timeoutConn struct {
	net.Conn

	rd, wr gate
}

// gate tracks one direction's timer.
type gate struct {
	armed     bool
	threshold int64
	d         time.Duration
	moved     int64
}

func (c *timeoutConn) Stream() io.ReadWriter { return c }

func (c *timeoutConn) SetReadTimeout(threshold int64, d time.Duration) error {
	if c.rd.armed {
		return ErrTimerActive
	}
	if d <= 0 {
		return nil
	}
	c.rd = gate{armed: true, threshold: max(threshold, 1), d: d}
	return c.Conn.SetReadDeadline(time.Now().Add(d))
}

func (c *timeoutConn) SetWriteTimeout(threshold int64, d time.Duration) error {
	if c.wr.armed {
		return ErrTimerActive
	}
	if d <= 0 {
		return nil
	}
	c.wr = gate{armed: true, threshold: max(threshold, 1), d: d}
	return c.Conn.SetWriteDeadline(time.Now().Add(d))
}

func (c *timeoutConn) CancelReadTimer() {
	if c.rd.armed {
		c.rd = gate{}
		_ = c.Conn.SetReadDeadline(time.Time{})
	}
}

func (c *timeoutConn) CancelWriteTimer() {
	if c.wr.armed {
		c.wr = gate{}
		_ = c.Conn.SetWriteDeadline(time.Time{})
	}
}

func (c *timeoutConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if c.rd.armed && n > 0 {
		c.rd.moved += int64(n)
		if c.rd.moved >= c.rd.threshold {
			c.rd.moved %= c.rd.threshold
			_ = c.Conn.SetReadDeadline(time.Now().Add(c.rd.d))
		}
	}
	return n, timeoutErr("read", err)
}

func (c *timeoutConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if c.wr.armed && n > 0 {
		c.wr.moved += int64(n)
		if c.wr.moved >= c.wr.threshold {
			c.wr.moved %= c.wr.threshold
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.wr.d))
		}
	}
	return n, timeoutErr("write", err)
}

func timeoutErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{Op: op, Err: err}
	}
	return err
}

// installTimeouts arms both timers on t. It never arms the write timer
// without the read timer.
func installTimeouts(t Transport, to Timeouts) error {
	if err := t.SetReadTimeout(to.ReadThreshold, to.Read); err != nil {
		return err
	}
	if err := t.SetWriteTimeout(to.WriteThreshold, to.Write); err != nil {
		t.CancelReadTimer()
		return err
	}
	return nil
}

func cancelTimeouts(t Transport) {
	t.CancelReadTimer()
	t.CancelWriteTimer()
}
