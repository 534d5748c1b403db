package ftp

import (
	"bufio"
	"io"
	"net"

	"github.com/gonzalop/ftpclient/securetransport"
	"github.com/pkg/errors"
)

// channel is what the control connection currently runs over: either
// plainChannel or securedChannel.
type channel interface {
	secured() bool
}

type plainChannel struct{}

func (plainChannel) secured() bool { return false }

type securedChannel struct {
	conn *securetransport.Conn
}

func (securedChannel) secured() bool { return true }

// session is the connection state shared by every operation of a Client.
// All fields are guarded by Client.mu.
type session struct {
	raw        net.Conn
	socketName net.Addr
	peerName   net.Addr

	// peerHost is the host passive data connections are made to when the
	// server does not name one.
	peerHost string

	policy    TimeoutPolicy
	transport Transport
	channel   channel

	reader *bufio.Reader
	writer *bufio.Writer

	broken bool
	closed bool
}

func newSession(raw net.Conn, peerHost string, policy TimeoutPolicy) *session {
	s := &session{
		raw:        raw,
		socketName: raw.LocalAddr(),
		peerName:   raw.RemoteAddr(),
		peerHost:   peerHost,
		policy:     policy,
		channel:    plainChannel{},
	}
	s.rebuildStream()
	return s
}

// rebuildStream recreates the transport and the line stream on top of it.
// It is called whenever the policy or the channel changes, always between
// exchanges, so no buffered reply bytes are lost.
func (s *session) rebuildStream() {
	s.transport = s.policy.BuildTransport(s.raw)

	var rw io.ReadWriter = s.transport.Stream()
	if sc, ok := s.channel.(securedChannel); ok {
		sc.conn.SetTransport(rw)
		rw = securetransport.NewStream(sc.conn, nil)
	}
	s.reader = bufio.NewReader(rw)
	s.writer = bufio.NewWriter(rw)
}

func (s *session) setPolicy(p TimeoutPolicy) {
	s.policy = p
	s.rebuildStream()
}

func (s *session) secure(conn *securetransport.Conn) {
	s.channel = securedChannel{conn: conn}
	s.rebuildStream()
}

func (s *session) usable() error {
	switch {
	case s.closed:
		return ErrClosed
	case s.broken:
		return ErrConnectionBroken
	}
	return nil
}

// close releases the channel and the socket. A secured channel gets a
// close_notify unless the session is broken.
func (s *session) close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if sc, ok := s.channel.(securedChannel); ok {
		if s.broken {
			_ = sc.conn.Close()
		} else {
			_ = sc.conn.Shutdown()
		}
	}
	return errors.Wrap(s.raw.Close(), "ftp: close control connection")
}
