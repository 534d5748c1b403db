package ftp

import (
	"io"
	"strconv"
	"time"

	"github.com/gonzalop/ftpclient/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

// transferRequest describes one data transfer.
type transferRequest struct {
	// typ is the representation type set before the transfer; empty keeps
	// the current one.
	typ    string
	offset int64
	cmd    string
	args   []string
	path   string
}

// transferGuard owns the client for the duration of one transfer. It holds
// c.mu from openTransfer until Close. Unless the transfer was acknowledged,
// Close aborts it and drains the server's replies so the control channel
// stays in step.
type transferGuard struct {
	c    *Client
	req  transferRequest
	data *dataChannel

	// first is the reply to the transfer command, final the completion reply.
	first, final *Response

	awaitingCompletion bool
	acknowledged       bool
	released           bool

	start  time.Time
	reader io.Reader
	writer io.Writer
	log    logrus.FieldLogger
}

// openTransfer negotiates a data channel, sends the transfer command and
// returns a guard holding c.mu. On error the lock is released, after an
// abort if the server had already accepted the command.
func (c *Client) openTransfer(req transferRequest) (*transferGuard, error) {
	if err := checkArgs(append([]string{req.cmd}, req.args...)...); err != nil {
		return nil, err
	}

	c.mu.Lock()
	g, err := c.startTransfer(req)
	if err != nil {
		if g != nil {
			_ = g.Close()
		} else {
			c.mu.Unlock()
		}
		return nil, err
	}
	return g, nil
}

// startTransfer does the work of openTransfer. It returns a guard whenever
// the transfer command was accepted, even together with an error.
func (c *Client) startTransfer(req transferRequest) (*transferGuard, error) {
	if err := c.sess.usable(); err != nil {
		return nil, err
	}
	if err := c.setType(req.typ); err != nil {
		return nil, err
	}

	dc, err := c.negotiate()
	if err != nil {
		return nil, err
	}

	if req.offset > 0 {
		resp, err := c.exchange("REST", strconv.FormatInt(req.offset, 10))
		if err == nil && resp.Code != 350 {
			err = &ProtocolError{Command: "REST", Code: resp.Code, Response: resp.String()}
		}
		if err != nil {
			dc.abort()
			return nil, err
		}
	}

	first, err := c.begin(req.cmd, req.args)
	if err != nil {
		dc.abort()
		return nil, err
	}

	g := &transferGuard{
		c:                  c,
		req:                req,
		data:               dc,
		first:              first,
		awaitingCompletion: first.Is1xx(),
		start:              time.Now(),
		log: c.log.WithFields(logrus.Fields{
			"cmd":  req.cmd,
			"mode": dc.mode,
		}),
	}
	if err := c.establish(dc); err != nil {
		return g, err
	}

	var r io.Reader = ratelimit.NewReader(dc.stream, c.limiter)
	var w io.Writer = ratelimit.NewWriter(dc.stream, c.limiter)
	if c.progress != nil {
		report := func(n int64) { c.progress(req.path, n) }
		r = &ProgressReader{Reader: r, Callback: report}
		w = &ProgressWriter{Writer: w, Callback: report}
	}
	g.reader, g.writer = r, w
	return g, nil
}

// begin sends the transfer command and reads its first reply. A
// preliminary reply means the completion reply is still to come.
func (c *Client) begin(cmd string, args []string) (*Response, error) {
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
	resp, err := c.readResponse(cmd)
	if err != nil {
		return nil, err
	}
	return resp, classify(cmd, resp)
}

// Read reads from the data channel.
func (g *transferGuard) Read(p []byte) (int, error) {
	n, err := g.reader.Read(p)
	g.c.metrics.transferred("download", n)
	return n, err
}

// Write writes to the data channel.
func (g *transferGuard) Write(p []byte) (int, error) {
	n, err := g.writer.Write(p)
	g.c.metrics.transferred("upload", n)
	return n, err
}

// Acknowledge marks the transfer as finished so Close does not abort it.
func (g *transferGuard) Acknowledge() {
	g.acknowledged = true
}

// complete closes the data channel in an orderly way and reads the
// completion reply. The transfer counts as acknowledged once the reply has
// been read, whatever its code.
func (g *transferGuard) complete() error {
	c := g.c
	g.data.close()
	defer c.metrics.transferDone(g.req.cmd, g.start)

	if !g.awaitingCompletion {
		g.Acknowledge()
		g.final = g.first
		return nil
	}

	if err := c.armTimeouts(); err != nil {
		return err
	}
	resp, err := c.okResponse(g.req.cmd)
	c.disarmTimeouts()
	if err != nil {
		return err
	}
	g.Acknowledge()
	g.final = resp
	g.log.WithField("code", resp.Code).Debug("transfer complete")
	return classify(g.req.cmd, resp)
}

// Close releases the client. An unacknowledged transfer is aborted first:
// the data channel is dropped, the interrupt sequence and ABOR are sent and
// the replies drained. Errors during the abort are logged and swallowed.
func (g *transferGuard) Close() error {
	if g.released {
		return nil
	}
	g.released = true
	c := g.c
	defer c.mu.Unlock()

	if g.acknowledged {
		return nil
	}
	g.data.abort()
	if c.sess.usable() != nil {
		return nil
	}
	c.abort(g.req.cmd, g.awaitingCompletion)
	return nil
}

// abort sends the interrupt sequence and ABOR, then reads the replies: the
// transfer command's completion (usually 426) when one is outstanding, and
// the reply to ABOR. A 225 ends the drain early, as it is only sent when no
// transfer was in progress. The caller holds c.mu.
func (c *Client) abort(cmd string, awaitingCompletion bool) {
	log := c.log.WithField("cmd", cmd)
	log.Debug("aborting transfer")
	c.metrics.abort()

	if err := c.armTimeouts(); err != nil {
		return
	}
	defer c.disarmTimeouts()

	if err := c.sendInterrupt(); err != nil {
		log.WithError(c.ioFailure(err)).Debug("interrupt failed")
		return
	}
	c.logCommand("ABOR", "ABOR")
	c.metrics.command("ABOR")
	if err := c.command("ABOR"); err != nil {
		log.WithError(err).Debug("ABOR failed")
		return
	}

	replies := 1
	if awaitingCompletion {
		replies = 2
	}
	for i := 0; i < replies; i++ {
		resp, err := c.okResponse("ABOR")
		if err != nil {
			log.WithError(err).Debug("draining abort replies failed")
			return
		}
		if resp.Code == 225 {
			return
		}
	}
}
