package ftp

import (
	"net"
	"strings"
)

// Telnet bytes used on the control channel.
const (
	telnetIAC = 0xFF
	telnetIP  = 0xF4
	telnetDM  = 0xF2
)

// escapeCommand encodes a command line for the wire: IAC bytes are
// doubled, a NUL follows every CR, and CRLF is appended.
func escapeCommand(text string) []byte {
	out := make([]byte, 0, len(text)+2)
	for i := 0; i < len(text); i++ {
		b := text[i]
		out = append(out, b)
		switch b {
		case telnetIAC:
			out = append(out, telnetIAC)
		case '\r':
			out = append(out, 0)
		}
	}
	return append(out, '\r', '\n')
}

// unescapeCommand reverses escapeCommand.
func unescapeCommand(wire []byte) string {
	wire = []byte(strings.TrimSuffix(string(wire), "\r\n"))
	var sb strings.Builder
	for i := 0; i < len(wire); i++ {
		b := wire[i]
		sb.WriteByte(b)
		switch {
		case b == telnetIAC && i+1 < len(wire) && wire[i+1] == telnetIAC:
			i++
		case b == '\r' && i+1 < len(wire) && wire[i+1] == 0:
			i++
		}
	}
	return sb.String()
}

// sendInterrupt writes the Telnet interrupt sequence that precedes ABOR:
// IAC IP, then IAC DM with the IAC sent as TCP urgent data. On a secured
// channel, or where urgent data is unavailable, the whole sequence goes
// in-band. The caller holds c.mu.
func (c *Client) sendInterrupt() error {
	w := c.sess.writer
	if _, err := w.Write([]byte{telnetIAC, telnetIP}); err != nil {
		return err
	}

	if !c.sess.channel.secured() {
		if tcp, ok := c.sess.raw.(*net.TCPConn); ok {
			if err := w.Flush(); err != nil {
				return err
			}
			if err := sendUrgent(tcp, telnetIAC); err == nil {
				if _, err := w.Write([]byte{telnetDM}); err != nil {
					return err
				}
				return w.Flush()
			}
			c.log.Debug("urgent data unavailable, sending interrupt in-band")
		}
	}

	if _, err := w.Write([]byte{telnetIAC, telnetDM}); err != nil {
		return err
	}
	return w.Flush()
}
