package ftp

import (
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gonzalop/ftpclient/securetransport"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type dataMode int

const (
	modePassive dataMode = iota
	modeActive
)

func (m dataMode) String() string {
	if m == modeActive {
		return "active"
	}
	return "passive"
}

type addrFamily int

const (
	familyIPv4 addrFamily = iota
	familyIPv6
)

// dataChannel is one data connection, from negotiation until the end of
// the transfer it carries.
type dataChannel struct {
	mode   dataMode
	family addrFamily

	// endpoint is the advertised listener address in active mode and the
	// server's address in passive mode.
	endpoint string
	listener net.Listener

	raw       net.Conn
	transport Transport
	tls       *securetransport.Conn
	stream    io.ReadWriter
}

// parsePASV extracts the address from a 227 reply such as
// "227 Entering Passive Mode (192,168,1,1,195,149)".
func parsePASV(reply string) (net.IP, int, error) {
	open := strings.IndexByte(reply, '(')
	if open < 0 {
		return nil, 0, malformed("PASV", reply, "missing '('")
	}
	end := strings.IndexByte(reply[open:], ')')
	if end < 0 {
		return nil, 0, malformed("PASV", reply, "missing ')'")
	}

	fields := strings.Split(reply[open+1:open+end], ",")
	if len(fields) != 6 {
		return nil, 0, malformed("PASV", reply, "expected six numbers")
	}
	var b [6]byte
	for i, f := range fields {
		if !isDigits(f) || len(f) > 3 {
			return nil, 0, malformed("PASV", reply, "bad number "+strconv.Quote(f))
		}
		v, _ := strconv.Atoi(f)
		if v > 255 {
			return nil, 0, malformed("PASV", reply, "number out of range "+f)
		}
		b[i] = byte(v)
	}
	return net.IPv4(b[0], b[1], b[2], b[3]), int(b[4])<<8 | int(b[5]), nil
}

// parseEPSV extracts the port from a 229 reply such as
// "229 Entering Extended Passive Mode (|||6446|)". Any printable delimiter
// other than a digit is accepted.
func parseEPSV(reply string) (int, error) {
	open := strings.IndexByte(reply, '(')
	if open < 0 {
		return 0, malformed("EPSV", reply, "missing '('")
	}
	body := reply[open+1:]
	end := strings.IndexByte(body, ')')
	if end < 0 {
		return 0, malformed("EPSV", reply, "missing ')'")
	}
	body = body[:end]

	if len(body) < 5 {
		return 0, malformed("EPSV", reply, "too short")
	}
	d := body[0]
	if d < 33 || d > 126 || (d >= '0' && d <= '9') {
		return 0, malformed("EPSV", reply, "bad delimiter")
	}
	if body[1] != d || body[2] != d || body[len(body)-1] != d {
		return 0, malformed("EPSV", reply, "bad delimiters")
	}
	port := body[3 : len(body)-1]
	if !isDigits(port) {
		return 0, malformed("EPSV", reply, "bad port "+strconv.Quote(port))
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return 0, malformed("EPSV", reply, "port out of range "+port)
	}
	return p, nil
}

// formatPORT renders the PORT argument h1,h2,h3,h4,p1,p2.
func formatPORT(ip net.IP, port int) (string, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return "", errors.Wrapf(ErrUnsupportedAddressFamily, "PORT requires an IPv4 address, got %s", ip)
	}
	return strconv.Itoa(int(ip4[0])) + "," + strconv.Itoa(int(ip4[1])) + "," +
		strconv.Itoa(int(ip4[2])) + "," + strconv.Itoa(int(ip4[3])) + "," +
		strconv.Itoa(port>>8) + "," + strconv.Itoa(port&0xFF), nil
}

// formatEPRT renders the EPRT argument |proto|addr|port|.
func formatEPRT(ip net.IP, port int) string {
	proto := "2"
	if ip.To4() != nil {
		proto = "1"
	}
	return "|" + proto + "|" + ip.String() + "|" + strconv.Itoa(port) + "|"
}

// dataFamily picks the address family data channels are negotiated for.
// With a proxy the socket addresses belong to the proxy, so the dialed host
// decides.
func (c *Client) dataFamily(addr net.Addr) (addrFamily, error) {
	if c.proxy != nil {
		if ip := net.ParseIP(c.host); ip != nil && ip.To4() == nil {
			return familyIPv6, nil
		}
		return familyIPv4, nil
	}
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return 0, errors.Wrapf(ErrUnsupportedAddressFamily, "%s", addr.Network())
	}
	if tcp.IP.To4() != nil {
		return familyIPv4, nil
	}
	if tcp.IP.To16() != nil {
		return familyIPv6, nil
	}
	return 0, errors.Wrapf(ErrUnsupportedAddressFamily, "%s", tcp.IP)
}

// negotiate sets up the data channel for the next transfer command. A
// passive channel is already connected when negotiate returns. The caller
// holds c.mu.
func (c *Client) negotiate() (*dataChannel, error) {
	if c.activeMode {
		return c.negotiateActive()
	}
	return c.negotiatePassive()
}

func (c *Client) negotiatePassive() (*dataChannel, error) {
	family, err := c.dataFamily(c.sess.peerName)
	if err != nil {
		return nil, err
	}
	dc := &dataChannel{mode: modePassive, family: family}

	if family == familyIPv6 || (c.extendedPassive && !c.epsvFailed) {
		resp, err := c.exchange("EPSV")
		var pe *ProtocolError
		switch {
		case err == nil && resp.Code == 229:
			port, err := parseEPSV(resp.String())
			if err != nil {
				return nil, err
			}
			dc.endpoint = net.JoinHostPort(c.sess.peerHost, strconv.Itoa(port))
		case err == nil:
			return nil, &ProtocolError{Command: "EPSV", Code: resp.Code, Response: resp.String()}
		case family == familyIPv4 && errors.As(err, &pe) && pe.Code == 502:
			c.log.Debug("EPSV not implemented, falling back to PASV")
			c.epsvFailed = true
		default:
			return nil, err
		}
	}

	if dc.endpoint == "" {
		resp, err := c.exchange("PASV")
		if err != nil {
			return nil, err
		}
		if resp.Code != 227 {
			return nil, &ProtocolError{Command: "PASV", Code: resp.Code, Response: resp.String()}
		}
		ip, port, err := parsePASV(resp.String())
		if err != nil {
			return nil, err
		}
		host := ip.String()
		if ip.IsUnspecified() {
			host = c.sess.peerHost
		}
		dc.endpoint = net.JoinHostPort(host, strconv.Itoa(port))
	}

	c.log.WithField("endpoint", dc.endpoint).Debug("opening passive data connection")
	raw, err := c.dial(dc.endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "ftp: failed to connect to data port")
	}
	dc.attach(raw, c.policy)
	return dc, nil
}

func (c *Client) negotiateActive() (*dataChannel, error) {
	if c.proxy != nil {
		return nil, errors.New("ftp: active mode is not available through a proxy")
	}
	family, err := c.dataFamily(c.sess.socketName)
	if err != nil {
		return nil, err
	}
	local := c.sess.socketName.(*net.TCPAddr)

	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: local.IP, Zone: local.Zone})
	if err != nil {
		return nil, errors.Wrap(err, "ftp: failed to create listener")
	}
	addr := ln.Addr().(*net.TCPAddr)
	dc := &dataChannel{mode: modeActive, family: family, endpoint: addr.String(), listener: ln}

	if family == familyIPv4 {
		arg, err := formatPORT(addr.IP, addr.Port)
		if err == nil {
			_, err = c.exchange("PORT", arg)
		}
		if err != nil {
			_ = ln.Close()
			return nil, err
		}
	} else if _, err := c.exchange("EPRT", formatEPRT(addr.IP, addr.Port)); err != nil {
		_ = ln.Close()
		return nil, err
	}
	return dc, nil
}

// attach takes ownership of a connected socket.
func (dc *dataChannel) attach(raw net.Conn, policy TimeoutPolicy) {
	dc.raw = raw
	dc.transport = policy.BuildTransport(raw)
	dc.stream = dc.transport.Stream()
}

// accept waits for the server to connect to an active-mode listener,
// bounded by the read timeout.
func (c *Client) accept(dc *dataChannel) error {
	ln := dc.listener.(*net.TCPListener)
	if c.timeouts.Read > 0 {
		_ = ln.SetDeadline(time.Now().Add(c.timeouts.Read))
	}
	raw, err := ln.Accept()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return &TimeoutError{Op: "accept", Err: err}
		}
		return errors.Wrap(err, "ftp: failed to accept data connection")
	}
	_ = ln.Close()
	dc.listener = nil
	dc.attach(raw, c.policy)
	return nil
}

// establish finishes a data channel once the server has accepted the
// transfer command: it accepts in active mode, installs the timeouts and
// secures the channel when data protection is on. The caller holds c.mu.
func (c *Client) establish(dc *dataChannel) error {
	if dc.mode == modeActive && dc.raw == nil {
		if err := c.accept(dc); err != nil {
			return err
		}
	}
	if err := installTimeouts(dc.transport, c.timeouts); err != nil {
		return errors.Wrap(err, "ftp: data connection timeouts")
	}
	if !c.protectData {
		return nil
	}

	var seed []byte
	if sc, ok := c.sess.channel.(securedChannel); ok {
		blob, err := sc.conn.ExportSession()
		switch {
		case err == nil:
			seed = blob
		case !errors.Is(err, securetransport.ErrNoSession):
			c.log.WithError(err).Debug("control session not exportable")
		}
	}

	conn, err := securetransport.New(dc.transport.Stream(), c.tlsConfig("data", seed))
	if err != nil {
		return errors.Wrap(err, "ftp: data channel TLS setup")
	}
	if err := handshake(conn); err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "ftp: data channel TLS handshake failed")
	}
	c.log.WithFields(logrus.Fields{
		"endpoint": dc.endpoint,
		"resumed":  conn.DidResume(),
	}).Debug("data channel secured")
	dc.tls = conn
	dc.stream = securetransport.NewStream(conn, nil)
	return nil
}

// close ends the data channel in an orderly way, sending close_notify on a
// secured channel.
func (dc *dataChannel) close() {
	if dc.tls != nil {
		_ = dc.tls.Shutdown()
	}
	dc.release()
}

// abort drops the data channel without notifying the peer.
func (dc *dataChannel) abort() {
	if dc.tls != nil {
		_ = dc.tls.Close()
	}
	dc.release()
}

func (dc *dataChannel) release() {
	if dc.transport != nil {
		cancelTimeouts(dc.transport)
	}
	if dc.raw != nil {
		_ = dc.raw.Close()
	}
	if dc.listener != nil {
		_ = dc.listener.Close()
	}
}
