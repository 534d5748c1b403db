package ftp

import (
	"fmt"
	"strings"

	"github.com/gonzalop/ftpclient/securetransport"
	"github.com/pkg/errors"
)

var (
	// ErrConnectionBroken is returned by every operation after an earlier I/O
	// failure left the control channel in an unknown state. The Client must
	// be discarded.
	ErrConnectionBroken = errors.New("ftp: connection is broken")

	// ErrPeerClosed reports that the server closed the control channel.
	ErrPeerClosed = errors.New("ftp: connection closed by server")

	// ErrClosed is returned after Quit or Close.
	ErrClosed = errors.New("ftp: client is closed")

	// ErrUnsupportedAddressFamily is returned when a data channel cannot be
	// negotiated for the control channel's address family.
	ErrUnsupportedAddressFamily = errors.New("ftp: unsupported address family")

	// ErrInvalidArgument is returned, before anything is sent, when a
	// caller-supplied path, name or command contains a NUL byte.
	ErrInvalidArgument = errors.New("ftp: invalid argument")

	// ErrTimerActive is returned by a Transport when a timeout is installed
	// while a previous one is still armed.
	ErrTimerActive = errors.New("ftp: timeout already active")
)

// TimeoutError reports an expired read or write deadline. It satisfies
// net.Error with Timeout() == true.
type TimeoutError = securetransport.TimeoutError

// ProtocolError represents an FTP protocol error with full context of the
// command/response conversation.
type ProtocolError struct {
	// Command is the FTP command that was sent (e.g., "STOR")
	Command string

	// Response is the full reply text, all lines included.
	Response string

	// Code is the numeric FTP response code (e.g., 550)
	Code int
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ftp: %s failed: %s (code %d)", e.Command, firstLine(e.Response), e.Code)
}

// Is2xx returns true if the error code is in the 2xx range (success).
func (e *ProtocolError) Is2xx() bool {
	return e.Code >= 200 && e.Code < 300
}

// Is3xx returns true if the error code is in the 3xx range (intermediate).
func (e *ProtocolError) Is3xx() bool {
	return e.Code >= 300 && e.Code < 400
}

// Is4xx returns true if the error code is in the 4xx range (temporary failure).
func (e *ProtocolError) Is4xx() bool {
	return e.Code >= 400 && e.Code < 500
}

// Is5xx returns true if the error code is in the 5xx range (permanent failure).
func (e *ProtocolError) Is5xx() bool {
	return e.Code >= 500 && e.Code < 600
}

// IsTemporary returns true if the error is a temporary failure (4xx).
// This can be used to implement retry logic.
func (e *ProtocolError) IsTemporary() bool {
	return e.Is4xx()
}

// IsPermanent returns true if the error is a permanent failure (5xx).
func (e *ProtocolError) IsPermanent() bool {
	return e.Is5xx()
}

// MalformedReplyError reports a reply the client could not parse: a PASV
// or EPSV tuple, an MLST fact, or a reply that broke the line limits.
type MalformedReplyError struct {
	Command string

	// Reply is the raw text that failed to parse.
	Reply string

	Reason string
}

func (e *MalformedReplyError) Error() string {
	return fmt.Sprintf("ftp: malformed %s reply (%s): %q", e.Command, e.Reason, e.Reply)
}

func malformed(command, reply, reason string) error {
	return &MalformedReplyError{Command: command, Reply: reply, Reason: reason}
}

// checkArgs rejects arguments that would corrupt the command line.
func checkArgs(args ...string) error {
	for _, a := range args {
		if strings.IndexByte(a, 0) >= 0 {
			return errors.Wrapf(ErrInvalidArgument, "%q contains a NUL byte", a)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
