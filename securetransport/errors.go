package securetransport

import (
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrWouldBlock is returned (possibly wrapped) by non-blocking transports
	// when the operation cannot make progress without waiting.
	ErrWouldBlock = errors.New("securetransport: operation would block")

	// ErrClosed is returned by every operation after Shutdown or Close.
	ErrClosed = errors.New("securetransport: connection closed")

	// ErrNoSession is returned by ExportSession before the peer has issued
	// a resumable session.
	ErrNoSession = errors.New("securetransport: no resumable session")

	// ErrRenegotiationUnsupported is returned by Rehandshake on an established
	// connection. crypto/tls does not initiate renegotiation.
	ErrRenegotiationUnsupported = errors.New("securetransport: renegotiation is not supported")
)

// Severity is the level of a TLS alert.
type Severity int

const (
	SeverityWarning Severity = 1
	SeverityFatal   Severity = 2
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityFatal:
		return "fatal"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// AlertError reports an alert received from the peer.
type AlertError struct {
	Severity    Severity
	Description string
	Err         error
}

func (e *AlertError) Error() string {
	return fmt.Sprintf("securetransport: %s alert from peer: %s", e.Severity, e.Description)
}

func (e *AlertError) Unwrap() error { return e.Err }

// TimeoutError reports an expired transport deadline. It is fatal: the
// connection that produced it cannot be used again.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error   { return e.Err }
func (e *TimeoutError) Timeout() bool   { return true }
func (e *TimeoutError) Temporary() bool { return false }

func isWouldBlock(err error) bool {
	return err != nil && errors.Is(err, ErrWouldBlock)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// classifyTransport converts a transport error into the error the shim
// reports to its caller.
func classifyTransport(op string, err error) error {
	if isTimeout(err) {
		return &TimeoutError{Op: op, Err: err}
	}
	return errors.Wrapf(err, "securetransport: transport %s", op)
}

// classifyTLS converts an error from the TLS engine.
func classifyTLS(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return te
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "remote error" && opErr.Err != nil {
		// crypto/tls discards TLS 1.2 warning alerts and ends a TLS 1.3
		// connection on any alert but close_notify, so a remote error
		// always ends the connection.
		desc := strings.TrimPrefix(opErr.Err.Error(), "tls: ")
		return &AlertError{Severity: SeverityFatal, Description: desc, Err: err}
	}
	return errors.WithStack(err)
}
