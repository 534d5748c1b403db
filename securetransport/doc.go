// Package securetransport turns a byte-oriented transport into a TLS channel
// that never blocks on the transport longer than one Read or Write call.
//
// # Overview
//
// crypto/tls drives its handshake and record layer with blocking calls on a
// net.Conn. A Conn runs that engine against an in-memory pipe and moves
// ciphertext between the pipe and the caller's Transport itself. When the
// transport reports ErrWouldBlock, the operation returns a Want telling the
// caller which readiness condition to wait for before calling again:
//
//	for {
//	    want, err := conn.Handshake()
//	    if err != nil {
//	        return err
//	    }
//	    if want == securetransport.WantNone {
//	        break
//	    }
//	    waitFor(fd, want) // poll, epoll, kqueue...
//	}
//
// Blocking transports (such as a net.Conn) never report ErrWouldBlock, so the
// same calls simply complete. NewStream wraps a Conn as an io.ReadWriter for
// callers that prefer the standard interfaces.
//
// # Errors
//
// Every transport error is recorded. Once a real error (anything other than
// ErrWouldBlock) has been seen, every later operation returns that same error
// without touching the transport again. Expired transport deadlines surface as
// *TimeoutError and alerts sent by the peer as *AlertError.
//
// # Session resumption
//
// Config.Session seeds a handshake with an opaque blob produced by
// ExportSession on an earlier connection to the same peer. SessionCache and
// RedisSessionCache are tls.ClientSessionCache implementations that can be
// shared by many connections.
package securetransport
