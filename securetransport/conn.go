package securetransport

import (
	"crypto/tls"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Transport is the byte stream a Conn encrypts. Non-blocking transports
// return an error wrapping ErrWouldBlock when they cannot make progress.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// Want is the readiness condition a pending operation waits for.
type Want int

const (
	WantNone Want = iota
	WantRead
	WantWrite
)

func (w Want) String() string {
	switch w {
	case WantNone:
		return "none"
	case WantRead:
		return "read"
	case WantWrite:
		return "write"
	}
	return "unknown"
}

// Role selects the TLS side a Conn plays.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// State is the lifecycle state of a Conn.
type State int

const (
	StateCreated State = iota
	StateHandshaking
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Config configures a Conn.
type Config struct {
	// Credentials supplies trust anchors and certificates. Nil means the
	// system roots and no certificate.
	Credentials *Credentials

	// ServerName is verified against the peer certificate and keys the
	// session cache.
	ServerName string

	// PeerAddr keys the session cache when ServerName is empty.
	PeerAddr string

	Role Role

	// Session is a blob from ExportSession to resume.
	Session []byte

	// Cache is consulted and populated for session resumption. It may be
	// shared between connections.
	Cache tls.ClientSessionCache

	Logger logrus.FieldLogger

	// OnHandshake, if set, is called once per completed or failed handshake.
	OnHandshake func(resumed bool, err error)
}

// minReadSize is large enough for one maximum-size TLS record.
const minReadSize = 16*1024 + 2048

// Conn is a TLS channel over a Transport. A Conn is not safe for concurrent
// use; callers serialize access.
type Conn struct {
	transport Transport
	cfg       Config
	log       logrus.FieldLogger

	tls      *tls.Conn
	pipe     *pipe
	recorder *recordingCache
	cacheKey string

	state            State
	handshakeDone    bool
	sessionRemovable bool
	lastErr          error
	eof              bool

	hs, rd, wr *op
	plain      []byte
	rbuf       []byte
}

// New creates a Conn over t. No I/O happens until the first operation.
func New(t Transport, cfg Config) (*Conn, error) {
	if t == nil {
		return nil, errors.New("securetransport: nil transport")
	}
	creds := cfg.Credentials
	if creds == nil {
		creds = &Credentials{}
	}
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	key := cfg.ServerName
	if key == "" {
		key = cfg.PeerAddr
	}

	rec := &recordingCache{inner: cfg.Cache}
	if len(cfg.Session) > 0 {
		cs, err := DecodeSession(cfg.Session)
		if err != nil {
			return nil, err
		}
		rec.seed = cs
	}

	p := newPipe(cfg.PeerAddr)
	tcfg, err := creds.TLSConfig(cfg.ServerName, cfg.Role, rec)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		transport: t,
		cfg:       cfg,
		log:       log.WithField("peer", key),
		pipe:      p,
		recorder:  rec,
		cacheKey:  key,
		state:     StateCreated,
	}
	if cfg.Role == RoleServer {
		c.tls = tls.Server(p, tcfg)
	} else {
		c.tls = tls.Client(p, tcfg)
	}
	return c, nil
}

// State returns the current lifecycle state.
func (c *Conn) State() State { return c.state }

// HandshakeComplete reports whether a handshake has succeeded.
func (c *Conn) HandshakeComplete() bool { return c.handshakeDone }

// DidResume reports whether the handshake resumed an earlier session.
func (c *Conn) DidResume() bool {
	return c.handshakeDone && c.tls.ConnectionState().DidResume
}

// ConnectionState returns the negotiated parameters.
func (c *Conn) ConnectionState() tls.ConnectionState {
	return c.tls.ConnectionState()
}

// Err returns the sticky error, if any.
func (c *Conn) Err() error {
	if c.failed() {
		return c.lastErr
	}
	return nil
}

// SetTransport replaces the underlying transport. The new transport must
// continue the same byte stream.
func (c *Conn) SetTransport(t Transport) {
	c.transport = t
}

// Handshake performs or resumes the handshake.
func (c *Conn) Handshake() (Want, error) {
	if err := c.usable(); err != nil {
		return WantNone, err
	}
	if c.handshakeDone {
		return WantNone, nil
	}
	return c.handshake()
}

// Rehandshake behaves as Handshake until the first handshake completes.
// Afterwards it returns ErrRenegotiationUnsupported; renegotiations the peer
// starts are processed by Recv when Credentials.Renegotiation allows them.
func (c *Conn) Rehandshake() (Want, error) {
	if err := c.usable(); err != nil {
		return WantNone, err
	}
	if !c.handshakeDone {
		return c.handshake()
	}
	return WantNone, ErrRenegotiationUnsupported
}

func (c *Conn) handshake() (Want, error) {
	if c.hs == nil {
		c.state = StateHandshaking
		c.hs = &op{kind: opHandshake}
		run(c.tls, c.pipe, c.hs)
	}

	want, err := c.drive(c.hs)
	if err != nil {
		c.hs = nil
		c.handshakeFinished(err)
		return WantNone, err
	}
	if want != WantNone {
		return want, nil
	}

	o := c.hs
	c.hs = nil
	if o.err != nil {
		err := classifyTLS(o.err)
		if errors.Is(err, io.EOF) {
			err = errors.Wrap(io.ErrUnexpectedEOF, "securetransport: handshake")
		}
		err = c.fail(err)
		c.handshakeFinished(err)
		return WantNone, err
	}

	c.handshakeDone = true
	c.sessionRemovable = true
	c.state = StateEstablished
	c.handshakeFinished(nil)
	return WantNone, nil
}

func (c *Conn) handshakeFinished(err error) {
	resumed := err == nil && c.tls.ConnectionState().DidResume
	if err != nil {
		c.log.WithError(err).Debug("TLS handshake failed")
	} else {
		cs := c.tls.ConnectionState()
		c.log.WithFields(logrus.Fields{
			"version": tls.VersionName(cs.Version),
			"cipher":  tls.CipherSuiteName(cs.CipherSuite),
			"resumed": resumed,
		}).Debug("TLS handshake complete")
	}
	if c.cfg.OnHandshake != nil {
		c.cfg.OnHandshake(resumed, err)
	}
}

// Recv reads decrypted bytes into p. It returns (0, WantNone, nil) once the
// peer has closed the channel in an orderly way.
func (c *Conn) Recv(p []byte) (int, Want, error) {
	if err := c.usable(); err != nil {
		return 0, WantNone, err
	}
	if len(c.plain) > 0 {
		n := copy(p, c.plain)
		c.plain = c.plain[n:]
		return n, WantNone, nil
	}
	if !c.handshakeDone {
		if want, err := c.handshake(); err != nil || want != WantNone {
			return 0, want, err
		}
	}
	if len(p) == 0 {
		return 0, WantNone, nil
	}

	for {
		if c.rd == nil {
			size := len(p)
			if size < minReadSize {
				size = minReadSize
			}
			c.rd = &op{kind: opRead, buf: make([]byte, size)}
			run(c.tls, c.pipe, c.rd)
		}

		want, err := c.drive(c.rd)
		if err != nil {
			c.rd = nil
			return 0, WantNone, err
		}
		if want != WantNone {
			return 0, want, nil
		}

		o := c.rd
		c.rd = nil
		if o.n > 0 {
			n := copy(p, o.buf[:o.n])
			if n < o.n {
				c.plain = append(c.plain, o.buf[n:o.n]...)
			}
			return n, WantNone, nil
		}
		switch {
		case o.err == nil:
			// Records consumed without application data; run again.
			continue
		case errors.Is(o.err, io.EOF):
			return 0, WantNone, nil
		default:
			return 0, WantNone, c.fail(classifyTLS(o.err))
		}
	}
}

// Send encrypts p and pushes the records to the transport. After a pending
// result the caller must retry with the same bytes; the reported count is
// only returned once every record has reached the transport.
func (c *Conn) Send(p []byte) (int, Want, error) {
	if err := c.usable(); err != nil {
		return 0, WantNone, err
	}
	if !c.handshakeDone {
		if want, err := c.handshake(); err != nil || want != WantNone {
			return 0, want, err
		}
	}
	if len(p) == 0 && c.wr == nil {
		return 0, WantNone, nil
	}

	if c.wr == nil {
		c.wr = &op{kind: opWrite, buf: append([]byte(nil), p...)}
		run(c.tls, c.pipe, c.wr)
	}

	want, err := c.drive(c.wr)
	if err != nil {
		c.wr = nil
		return 0, WantNone, err
	}
	if want != WantNone {
		return 0, want, nil
	}

	o := c.wr
	c.wr = nil
	if o.err != nil {
		return o.n, WantNone, c.fail(classifyTLS(o.err))
	}
	return o.n, WantNone, nil
}

// Shutdown sends close_notify on a healthy channel and closes the Conn.
// Failures while closing a transport that has already failed are suppressed.
func (c *Conn) Shutdown() error {
	if c.state == StateClosed {
		return nil
	}
	defer c.teardown()

	if !c.handshakeDone || c.failed() {
		return nil
	}

	o := &op{kind: opCloseNotify}
	run(c.tls, c.pipe, o)
	want, err := c.drive(o)
	if err != nil {
		return nil
	}
	if want != WantNone {
		c.log.WithField("want", want).Debug("close_notify not flushed")
		return nil
	}
	if o.err != nil {
		return errors.Wrap(o.err, "securetransport: close_notify")
	}
	return nil
}

// Close releases the Conn without notifying the peer.
func (c *Conn) Close() error {
	if c.state != StateClosed {
		c.teardown()
	}
	return nil
}

func (c *Conn) teardown() {
	c.state = StateClosed
	c.plain = nil
	_ = c.pipe.Close()
	if c.sessionRemovable && c.failed() {
		c.log.Debug("evicting cached TLS session after failure")
		c.recorder.Evict(c.cacheKey)
	}
}

// ExportSession returns an opaque blob that resumes this session on a later
// connection to the same peer.
func (c *Conn) ExportSession() ([]byte, error) {
	cs := c.recorder.Last()
	if cs == nil {
		return nil, ErrNoSession
	}
	return EncodeSession(cs)
}

func (c *Conn) usable() error {
	if c.state == StateClosed {
		return ErrClosed
	}
	if c.failed() {
		return c.lastErr
	}
	return nil
}

func (c *Conn) failed() bool {
	return c.lastErr != nil && !isWouldBlock(c.lastErr)
}

// fail records err as the sticky error and releases the engine. The first
// real error wins.
func (c *Conn) fail(err error) error {
	if !c.failed() {
		c.lastErr = err
	}
	c.pipe.abort(c.lastErr)
	return c.lastErr
}

// drive runs the transport side of o until o completes with all of its
// ciphertext pushed, or until the transport would block.
func (c *Conn) drive(o *op) (Want, error) {
	for {
		if want, err := c.flush(); err != nil || want != WantNone {
			return want, err
		}

		c.pipe.mu.Lock()
		for !o.done && len(c.pipe.out) == 0 && !(o.needsInput() && c.pipe.starving()) {
			c.pipe.cond.Wait()
		}
		done := o.done
		pendingOut := len(c.pipe.out) > 0
		starving := o.needsInput() && c.pipe.starving()
		c.pipe.mu.Unlock()

		switch {
		case pendingOut:
			continue
		case done:
			return WantNone, nil
		case starving:
			if want, err := c.fill(); err != nil || want != WantNone {
				return want, err
			}
		}
	}
}

// flush pushes queued ciphertext to the transport.
func (c *Conn) flush() (Want, error) {
	for {
		c.pipe.mu.Lock()
		chunk := c.pipe.out
		c.pipe.mu.Unlock()
		if len(chunk) == 0 {
			return WantNone, nil
		}

		n, err := c.push(chunk)

		c.pipe.mu.Lock()
		c.pipe.out = c.pipe.out[n:]
		if len(c.pipe.out) == 0 {
			c.pipe.out = nil
		}
		c.pipe.mu.Unlock()

		switch {
		case err == nil:
		case isWouldBlock(err):
			return WantWrite, nil
		default:
			return WantNone, err
		}
	}
}

// fill pulls ciphertext from the transport into the engine.
func (c *Conn) fill() (Want, error) {
	if c.eof {
		c.pipe.setEOF()
		return WantNone, nil
	}
	if c.rbuf == nil {
		c.rbuf = make([]byte, minReadSize)
	}

	n, err := c.pull(c.rbuf)
	if n > 0 {
		c.pipe.feed(c.rbuf[:n])
	}

	switch {
	case err == nil && n == 0:
		return WantRead, nil
	case err == nil:
		return WantNone, nil
	case isWouldBlock(err):
		if n > 0 {
			return WantNone, nil
		}
		return WantRead, nil
	case errors.Is(err, io.EOF):
		c.eof = true
		c.pipe.setEOF()
		return WantNone, nil
	default:
		return WantNone, err
	}
}

// pull is the engine's read adapter. It records every outcome; after a real
// error it returns that error without calling the transport.
func (c *Conn) pull(b []byte) (int, error) {
	if c.failed() {
		return 0, c.lastErr
	}
	n, err := c.transport.Read(b)
	switch {
	case err == nil, isWouldBlock(err):
		c.lastErr = err
	case errors.Is(err, io.EOF):
		c.lastErr = nil
	default:
		return n, c.fail(classifyTransport("read", err))
	}
	return n, err
}

// push is the engine's write adapter, with the same recording rules as pull.
func (c *Conn) push(b []byte) (int, error) {
	if c.failed() {
		return 0, c.lastErr
	}
	n, err := c.transport.Write(b)
	if err != nil && !isWouldBlock(err) {
		return n, c.fail(classifyTransport("write", err))
	}
	c.lastErr = err
	return n, err
}
