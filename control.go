package ftp

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxResponseLines = 1000
	defaultMaxLineLength    = 4096
)

// Response represents an FTP server reply.
type Response struct {
	// Code is the three-digit response code (e.g., 220, 550)
	Code int

	// Message is the reply text without status codes, lines joined by "\n".
	Message string

	// Lines contains all lines of the response as received.
	Lines []string
}

// Is1xx returns true for a preliminary reply.
func (r *Response) Is1xx() bool {
	return r.Code >= 100 && r.Code < 200
}

// Is2xx returns true if the response code is in the 2xx range (success).
func (r *Response) Is2xx() bool {
	return r.Code >= 200 && r.Code < 300
}

// Is3xx returns true if the response code is in the 3xx range (intermediate).
func (r *Response) Is3xx() bool {
	return r.Code >= 300 && r.Code < 400
}

// Is4xx returns true if the response code is in the 4xx range (temporary failure).
func (r *Response) Is4xx() bool {
	return r.Code >= 400 && r.Code < 500
}

// Is5xx returns true if the response code is in the 5xx range (permanent failure).
func (r *Response) Is5xx() bool {
	return r.Code >= 500 && r.Code < 600
}

// String returns the full response as a string.
func (r *Response) String() string {
	return strings.Join(r.Lines, "\n")
}

// class is the first character of the reply, '1' through '5' for
// well-formed replies.
func (r *Response) class() byte {
	if len(r.Lines) == 0 || r.Lines[0] == "" {
		return 0
	}
	return r.Lines[0][0]
}

func newResponse(lines []string) *Response {
	r := &Response{Lines: lines}
	if len(lines) == 0 {
		return r
	}
	r.Code = leadingCode(lines[0])

	msgs := make([]string, 0, len(lines))
	for _, l := range lines {
		if len(l) >= 4 && isDigits(l[:3]) && (l[3] == ' ' || l[3] == '-') {
			msgs = append(msgs, l[4:])
		} else if len(l) == 3 && isDigits(l) {
			msgs = append(msgs, "")
		} else {
			msgs = append(msgs, l)
		}
	}
	r.Message = strings.Join(msgs, "\n")
	return r
}

// leadingCode parses the run of digits the reply starts with.
func leadingCode(s string) int {
	end := 0
	for end < len(s) && end < 9 && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	code, _ := strconv.Atoi(s[:end])
	return code
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// classify turns a non-success reply into a *ProtocolError. Replies whose
// first character is 1, 2 or 3 are successful.
func classify(command string, r *Response) error {
	switch r.class() {
	case '1', '2', '3':
		return nil
	}
	full := r.String()
	return &ProtocolError{Command: command, Code: leadingCode(full), Response: full}
}

// command escapes text and writes it to the control channel. The caller
// holds c.mu.
func (c *Client) command(text string) error {
	c.lastCommand = time.Now()
	if _, err := c.sess.writer.Write(escapeCommand(text)); err != nil {
		return c.ioFailure(err)
	}
	if err := c.sess.writer.Flush(); err != nil {
		return c.ioFailure(err)
	}
	return nil
}

// readLine reads one reply line. NUL bytes are dropped and bytes past
// maxLineLength are discarded.
func (c *Client) readLine() (string, error) {
	var line []byte
	truncated := false
	for {
		chunk, err := c.sess.reader.ReadSlice('\n')
		for _, b := range chunk {
			if b == 0 {
				continue
			}
			if len(line) < c.maxLineLength {
				line = append(line, b)
			} else {
				truncated = true
			}
		}
		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return "", err
	}
	if truncated {
		c.log.WithField("limit", c.maxLineLength).Debug("reply line truncated")
	}
	return strings.TrimRight(string(line), "\r\n"), nil
}

// response reads one complete reply and hands every line to collect.
//
// A reply is multi-line when its first line is at least four characters
// long and the fourth is '-'. It then ends at the first line that starts
// with the same three characters followed by a space.
func (c *Client) response(command string, collect func(string)) error {
	first, err := c.readLine()
	if err != nil {
		return c.ioFailure(err)
	}
	collect(first)
	if len(first) < 4 || first[3] != '-' {
		return nil
	}

	ref := first[:3]
	n := 1
	overflow := false
	for {
		line, err := c.readLine()
		if err != nil {
			return c.ioFailure(err)
		}
		if n < c.maxResponseLines {
			collect(line)
			n++
		} else {
			overflow = true
		}
		if len(line) >= 4 && line[:3] == ref && line[3] == ' ' {
			break
		}
	}
	if overflow {
		return malformed(command, first, "more than "+strconv.Itoa(c.maxResponseLines)+" lines")
	}
	return nil
}

// readResponse reads one reply into a Response.
func (c *Client) readResponse(command string) (*Response, error) {
	var lines []string
	if err := c.response(command, func(l string) { lines = append(lines, l) }); err != nil {
		return nil, err
	}
	resp := newResponse(lines)
	c.metrics.reply(resp)
	c.log.WithFields(logrus.Fields{
		"command": command,
		"code":    resp.Code,
		"message": resp.Message,
	}).Debug("ftp response")
	return resp, nil
}

// okResponse reads replies until one that is not preliminary.
func (c *Client) okResponse(command string) (*Response, error) {
	for {
		resp, err := c.readResponse(command)
		if err != nil {
			return nil, err
		}
		if !resp.Is1xx() {
			return resp, nil
		}
	}
}

// ioFailure marks the session broken and converts err into the error the
// caller sees.
func (c *Client) ioFailure(err error) error {
	c.sess.broken = true

	var te *TimeoutError
	switch {
	case errors.As(err, &te):
		c.log.WithError(err).Debug("control channel timed out")
		return te
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		c.log.Debug("control channel closed by server")
		return ErrPeerClosed
	}
	c.log.WithError(err).Debug("control channel failed")
	return errors.Wrap(err, "ftp: control channel")
}

// armTimeouts installs the default timeouts on the control transport. A
// timer that is still armed means an earlier exchange never completed, so
// the session is marked broken.
func (c *Client) armTimeouts() error {
	if err := installTimeouts(c.sess.transport, c.timeouts); err != nil {
		c.sess.broken = true
		c.log.WithError(err).Debug("timeout installation failed")
		return errors.Wrap(ErrConnectionBroken, err.Error())
	}
	return nil
}

func (c *Client) disarmTimeouts() {
	cancelTimeouts(c.sess.transport)
}

// exchange sends one command and returns the first non-preliminary reply.
// Non-success replies are returned together with a *ProtocolError. The
// caller holds c.mu.
func (c *Client) exchange(cmd string, args ...string) (*Response, error) {
	if err := checkArgs(append([]string{cmd}, args...)...); err != nil {
		return nil, err
	}
	if err := c.sess.usable(); err != nil {
		return nil, err
	}
	if err := c.armTimeouts(); err != nil {
		return nil, err
	}
	defer c.disarmTimeouts()

	text := commandLine(cmd, args)
	c.logCommand(cmd, text)
	c.metrics.command(cmd)
	if err := c.command(text); err != nil {
		return nil, err
	}

	resp, err := c.okResponse(cmd)
	if err != nil {
		return nil, err
	}
	return resp, classify(cmd, resp)
}

// cmd is exchange for callers that do not hold c.mu.
func (c *Client) cmd(command string, args ...string) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchange(command, args...)
}

// expectCode runs a command and requires a specific reply code.
func (c *Client) expectCode(code int, command string, args ...string) (*Response, error) {
	resp, err := c.cmd(command, args...)
	if err != nil {
		return resp, err
	}
	if resp.Code != code {
		return resp, &ProtocolError{Command: command, Code: resp.Code, Response: resp.String()}
	}
	return resp, nil
}

func commandLine(cmd string, args []string) string {
	if len(args) == 0 {
		return cmd
	}
	return cmd + " " + strings.Join(args, " ")
}

func (c *Client) logCommand(cmd, text string) {
	if strings.EqualFold(cmd, "PASS") {
		text = "PASS ****"
	}
	c.log.WithField("cmd", text).Debug("ftp command")
}
