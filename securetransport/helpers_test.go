package securetransport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testCert returns a self-signed certificate for localhost and a pool
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
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
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

// memBuffer is one direction of an in-memory non-blocking link.
type memBuffer struct {
	mu     sync.Mutex
	data   []byte
	closed bool
	limit  int
}

// memTransport is a non-blocking Transport reading from in and writing to
// out. Reads on an empty buffer and writes to a full one report
// ErrWouldBlock.
type memTransport struct {
	in, out *memBuffer
	reads   int
	writes  int
}

func (m *memTransport) Read(p []byte) (int, error) {
	m.reads++
	m.in.mu.Lock()
	defer m.in.mu.Unlock()
	if len(m.in.data) == 0 {
		if m.in.closed {
			return 0, io.EOF
		}
		return 0, ErrWouldBlock
	}
	n := copy(p, m.in.data)
	m.in.data = m.in.data[n:]
	return n, nil
}

func (m *memTransport) Write(p []byte) (int, error) {
	m.writes++
	m.out.mu.Lock()
	defer m.out.mu.Unlock()
	if m.out.closed {
		return 0, io.ErrClosedPipe
	}
	room := len(p)
	if m.out.limit > 0 {
		room = m.out.limit - len(m.out.data)
	}
	if room <= 0 {
		return 0, ErrWouldBlock
	}
	if room > len(p) {
		room = len(p)
	}
	m.out.data = append(m.out.data, p[:room]...)
	return room, nil
}

func (m *memTransport) closeWrite() {
	m.out.mu.Lock()
	m.out.closed = true
	m.out.mu.Unlock()
}

// memPair returns two connected transports. limit caps the bytes buffered
// in each direction; 0 means unbounded.
func memPair(limit int) (*memTransport, *memTransport) {
	ab := &memBuffer{limit: limit}
	ba := &memBuffer{limit: limit}
	return &memTransport{in: ba, out: ab}, &memTransport{in: ab, out: ba}
}

type pairConfig struct {
	limit      int
	cache      tls.ClientSessionCache
	session    []byte
	ticketKey  *[32]byte
	untrusted  bool
	maxVersion uint16
}

type tlsPair struct {
	client, server *Conn
	ct, st         *memTransport
}

func newTLSPair(t *testing.T, pc pairConfig) *tlsPair {
	t.Helper()

	cert, pool := testCert(t)
	return newTLSPairWith(t, pc, cert, pool)
}

func newTLSPairWith(t *testing.T, pc pairConfig, cert tls.Certificate, pool *x509.CertPool) *tlsPair {
	t.Helper()

	ct, st := memPair(pc.limit)

	serverBase := &tls.Config{MaxVersion: pc.maxVersion}
	if pc.ticketKey != nil {
		serverBase.SetSessionTicketKeys([][32]byte{*pc.ticketKey})
	}
	server, err := New(st, Config{
		Credentials: &Credentials{Base: serverBase, Certificates: []tls.Certificate{cert}},
		Role:        RoleServer,
		PeerAddr:    "client",
	})
	require.NoError(t, err)

	creds := &Credentials{Base: &tls.Config{MaxVersion: pc.maxVersion}}
	if !pc.untrusted {
		creds.RootCAs = pool
	}
	client, err := New(ct, Config{
		Credentials: creds,
		ServerName:  "localhost",
		Role:        RoleClient,
		Session:     pc.session,
		Cache:       pc.cache,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return &tlsPair{client: client, server: server, ct: ct, st: st}
}

// handshake alternates the two sides until both complete or fail.
func (p *tlsPair) handshake(t *testing.T) (clientErr, serverErr error, wants []Want) {
	t.Helper()

	clientDone, serverDone := false, false
	for i := 0; i < 100 && !(clientDone && serverDone); i++ {
		if !clientDone {
			w, err := p.client.Handshake()
			wants = append(wants, w)
			clientErr = err
			clientDone = err != nil || w == WantNone
		}
		if !serverDone {
			w, err := p.server.Handshake()
			wants = append(wants, w)
			serverErr = err
			serverDone = err != nil || w == WantNone
		}
	}
	return clientErr, serverErr, wants
}

// recvAll reads until n bytes of plaintext have arrived.
func recvAll(t *testing.T, to *Conn, n int) []byte {
	t.Helper()

	var got []byte
	buf := make([]byte, 4096)
	for i := 0; i < 1000 && len(got) < n; i++ {
		k, _, err := to.Recv(buf)
		require.NoError(t, err)
		got = append(got, buf[:k]...)
	}
	return got
}

// errTransport fails every call with err and counts the calls.
type errTransport struct {
	err   error
	calls int
}

func (e *errTransport) Read(p []byte) (int, error) {
	e.calls++
	return 0, e.err
}

func (e *errTransport) Write(p []byte) (int, error) {
	e.calls++
	return 0, e.err
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }
