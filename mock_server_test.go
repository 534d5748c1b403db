package ftp

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mockServer is a scripted FTP server for a single control connection.
// Commands without a handler get a default reply.
type mockServer struct {
	t        *testing.T
	listener net.Listener
	addr     string
	handlers map[string]func(s *mockSession, args string)

	// tls is used for AUTH TLS, implicit TLS and protected data channels.
	tls      *tls.Config
	implicit bool

	mu       sync.Mutex
	received []string
	uploads  map[string][]byte
	resumed  []bool
	raw      net.Conn

	done chan struct{}
}

// mockSession is the server side of the control connection.
type mockSession struct {
	srv  *mockServer
	conn net.Conn
	text *textproto.Conn

	prot    bool
	passive net.Listener
	active  string
	quit    bool
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return &mockServer{
		t:        t,
		listener: l,
		addr:     l.Addr().String(),
		handlers: make(map[string]func(*mockSession, string)),
		uploads:  make(map[string][]byte),
		done:     make(chan struct{}),
	}
}

func (s *mockServer) handle(cmd string, h func(ms *mockSession, args string)) {
	s.handlers[cmd] = h
}

func (s *mockServer) start() {
	go func() {
		defer close(s.done)
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		ms := &mockSession{srv: s, conn: conn}
		s.mu.Lock()
		s.raw = conn
		s.mu.Unlock()
		defer ms.close()

		if s.implicit {
			tc := tls.Server(conn, s.tls)
			if err := tc.Handshake(); err != nil {
				return
			}
			ms.conn = tc
		}
		ms.text = textproto.NewConn(ms.conn)
		ms.reply("220 Service ready")

		for !ms.quit {
			cmd, args, err := ms.readCommand()
			if err != nil {
				return
			}
			ms.dispatch(cmd, args)
		}
	}()
}

func (s *mockServer) stop() {
	_ = s.listener.Close()
	s.mu.Lock()
	if s.raw != nil {
		_ = s.raw.Close()
	}
	s.mu.Unlock()
	<-s.done
}

func (s *mockServer) record(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, line)
}

// commands returns the received command lines.
func (s *mockServer) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// verbs returns the command words only.
func (s *mockServer) verbs() []string {
	var out []string
	for _, line := range s.commands() {
		verb, _, _ := strings.Cut(line, " ")
		out = append(out, verb)
	}
	return out
}

func (s *mockServer) upload(name string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads[name]
}

func (s *mockServer) resumptions() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.resumed...)
}

func (ms *mockSession) reply(format string, args ...any) {
	_ = ms.text.PrintfLine(format, args...)
}

// readCommand reads one command line, dropping the Telnet interrupt bytes
// that precede ABOR.
func (ms *mockSession) readCommand() (string, string, error) {
	line, err := ms.text.ReadLine()
	if err != nil {
		return "", "", err
	}
	for len(line) > 0 && (line[0] == telnetIAC || line[0] == telnetIP || line[0] == telnetDM) {
		line = line[1:]
	}
	ms.srv.record(line)
	cmd, args, _ := strings.Cut(line, " ")
	return strings.ToUpper(cmd), args, nil
}

func (ms *mockSession) dispatch(cmd, args string) {
	if h, ok := ms.srv.handlers[cmd]; ok {
		h(ms, args)
		return
	}
	switch cmd {
	case "USER":
		ms.reply("331 User name okay, need password")
	case "PASS":
		ms.reply("230 User logged in")
	case "QUIT":
		ms.reply("221 Goodbye")
		ms.quit = true
	case "TYPE", "PBSZ", "NOOP", "OPTS", "HOST":
		ms.reply("200 %s ok", cmd)
	case "PROT":
		ms.prot = args == "P"
		ms.reply("200 Protection level set to %s", args)
	case "AUTH":
		ms.reply("234 AUTH TLS successful")
		ms.upgrade()
	case "PASV":
		port := ms.listenPassive()
		ms.reply("227 Entering Passive Mode (127,0,0,1,%d,%d)", port>>8, port&0xFF)
	case "EPSV":
		port := ms.listenPassive()
		ms.reply("229 Entering Extended Passive Mode (|||%d|)", port)
	case "PORT":
		addr, err := parsePORTArg(args)
		if err != nil {
			ms.reply("501 %v", err)
			return
		}
		ms.active = addr
		ms.reply("200 PORT command successful")
	case "PWD":
		ms.reply(`257 "/" is current directory`)
	case "CWD", "CDUP", "DELE", "RMD":
		ms.reply("250 Requested file action okay")
	case "ABOR":
		ms.reply("225 No transfer to abort")
	default:
		ms.reply("502 Command not implemented")
	}
}

func (ms *mockSession) upgrade() {
	tc := tls.Server(ms.conn, ms.srv.tls)
	if err := tc.Handshake(); err != nil {
		ms.srv.t.Errorf("control handshake: %v", err)
		ms.quit = true
		return
	}
	ms.conn = tc
	ms.text = textproto.NewConn(tc)
}

func (ms *mockSession) listenPassive() int {
	if ms.passive != nil {
		_ = ms.passive.Close()
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		ms.srv.t.Errorf("passive listen: %v", err)
		return 0
	}
	ms.passive = l
	return l.Addr().(*net.TCPAddr).Port
}

// dataConn opens the negotiated data connection, securing it after PROT P.
func (ms *mockSession) dataConn() net.Conn {
	var (
		conn net.Conn
		err  error
	)
	switch {
	case ms.passive != nil:
		_ = ms.passive.(*net.TCPListener).SetDeadline(time.Now().Add(5 * time.Second))
		conn, err = ms.passive.Accept()
		_ = ms.passive.Close()
		ms.passive = nil
	case ms.active != "":
		conn, err = net.DialTimeout("tcp", ms.active, 5*time.Second)
		ms.active = ""
	default:
		err = fmt.Errorf("no data connection negotiated")
	}
	if err != nil {
		ms.srv.t.Errorf("data connection: %v", err)
		return nil
	}

	if ms.prot {
		tc := tls.Server(conn, ms.srv.tls)
		if err := tc.Handshake(); err != nil {
			ms.srv.t.Errorf("data handshake: %v", err)
			_ = conn.Close()
			return nil
		}
		ms.srv.mu.Lock()
		ms.srv.resumed = append(ms.srv.resumed, tc.ConnectionState().DidResume)
		ms.srv.mu.Unlock()
		conn = tc
	}
	return conn
}

func (ms *mockSession) close() {
	if ms.passive != nil {
		_ = ms.passive.Close()
	}
	_ = ms.conn.Close()
}

// serveData answers a download or listing command with payload.
func serveData(payload string) func(ms *mockSession, args string) {
	return func(ms *mockSession, args string) {
		ms.reply("150 Opening data connection")
		dc := ms.dataConn()
		if dc == nil {
			ms.reply("425 Can't open data connection")
			return
		}
		_, _ = io.WriteString(dc, payload)
		_ = dc.Close()
		ms.reply("226 Transfer complete")
	}
}

// receiveData stores an upload under its argument.
func receiveData() func(ms *mockSession, args string) {
	return func(ms *mockSession, args string) {
		ms.reply("150 Ok to send data")
		dc := ms.dataConn()
		if dc == nil {
			ms.reply("425 Can't open data connection")
			return
		}
		data, _ := io.ReadAll(dc)
		_ = dc.Close()
		ms.srv.mu.Lock()
		ms.srv.uploads[args] = data
		ms.srv.mu.Unlock()
		ms.reply("226 Transfer complete")
	}
}

func parsePORTArg(arg string) (string, error) {
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		return "", fmt.Errorf("bad PORT argument %q", arg)
	}
	var n [6]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return "", err
		}
		n[i] = v
	}
	ip := fmt.Sprintf("%d.%d.%d.%d", n[0], n[1], n[2], n[3])
	return net.JoinHostPort(ip, strconv.Itoa(n[4]<<8|n[5])), nil
}

// dialMock connects a client to s with keepalive off.
func dialMock(t *testing.T, s *mockServer, options ...Option) *Client {
	t.Helper()
	c, err := Dial(s.addr, append([]Option{WithKeepAlive(0), WithTimeout(5 * time.Second)}, options...)...)
	require.NoError(t, err)
	return c
}

// testCert returns a self-signed certificate for 127.0.0.1 and a pool
// trusting it.
func testCert(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "localhost"},
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, pool
}
