package securetransport

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"
)

// pipe is the net.Conn the TLS engine runs on. Ciphertext pulled from the
// transport is appended to in, and ciphertext written by the engine queues in
// out until the shim pushes it. All fields are guarded by mu; cond is
// signalled on every change the shim or the engine may be waiting for.
type pipe struct {
	mu   sync.Mutex
	cond *sync.Cond
	addr pipeAddr

	in      []byte
	inEOF   bool
	inErr   error
	out     []byte
	reading bool
	closed  bool
}

func newPipe(peer string) *pipe {
	p := &pipe{addr: pipeAddr(peer)}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.in) == 0 && !p.inEOF && p.inErr == nil && !p.closed {
		p.reading = true
		p.cond.Broadcast()
		p.cond.Wait()
	}
	p.reading = false

	switch {
	case len(p.in) > 0:
		n := copy(b, p.in)
		p.in = p.in[n:]
		if len(p.in) == 0 {
			p.in = nil
		}
		return n, nil
	case p.closed:
		return 0, net.ErrClosed
	case p.inErr != nil:
		return 0, p.inErr
	default:
		return 0, io.EOF
	}
}

func (p *pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, net.ErrClosed
	}
	p.out = append(p.out, b...)
	p.cond.Broadcast()
	return len(b), nil
}

// Close releases any engine goroutine parked in Read.
func (p *pipe) Close() error {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	return nil
}

func (p *pipe) feed(b []byte) {
	p.mu.Lock()
	p.in = append(p.in, b...)
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *pipe) setEOF() {
	p.mu.Lock()
	p.inEOF = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *pipe) abort(err error) {
	p.mu.Lock()
	if p.inErr == nil {
		p.inErr = err
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}

// starving reports whether the engine is parked waiting for ciphertext that
// only the transport can provide. Callers hold p.mu.
func (p *pipe) starving() bool {
	return p.reading && len(p.in) == 0 && !p.inEOF && p.inErr == nil && !p.closed
}

func (p *pipe) LocalAddr() net.Addr                { return p.addr }
func (p *pipe) RemoteAddr() net.Addr               { return p.addr }
func (p *pipe) SetDeadline(t time.Time) error      { return nil }
func (p *pipe) SetReadDeadline(t time.Time) error  { return nil }
func (p *pipe) SetWriteDeadline(t time.Time) error { return nil }

type pipeAddr string

func (a pipeAddr) Network() string { return "securetransport" }
func (a pipeAddr) String() string  { return string(a) }

type opKind int

const (
	opHandshake opKind = iota
	opRead
	opWrite
	opCloseNotify
)

func (k opKind) String() string {
	switch k {
	case opHandshake:
		return "handshake"
	case opRead:
		return "read"
	case opWrite:
		return "write"
	case opCloseNotify:
		return "close_notify"
	}
	return "unknown"
}

// op is one call into the TLS engine. It runs on its own goroutine and stays
// in flight across shim calls until done is set; n, err and done are guarded
// by the pipe mutex.
type op struct {
	kind opKind
	buf  []byte
	n    int
	err  error
	done bool
}

// needsInput reports whether the op may park waiting for ciphertext.
func (o *op) needsInput() bool {
	return o.kind == opHandshake || o.kind == opRead
}

func run(tc *tls.Conn, p *pipe, o *op) {
	go func() {
		var (
			n   int
			err error
		)
		switch o.kind {
		case opHandshake:
			err = tc.HandshakeContext(context.Background())
		case opRead:
			n, err = tc.Read(o.buf)
		case opWrite:
			n, err = tc.Write(o.buf)
		case opCloseNotify:
			err = tc.CloseWrite()
		}

		p.mu.Lock()
		o.n, o.err, o.done = n, err, true
		p.cond.Broadcast()
		p.mu.Unlock()
	}()
}
