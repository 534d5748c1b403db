package ftp

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/gonzalop/ftpclient/internal/ratelimit"
	"github.com/gonzalop/ftpclient/securetransport"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// Option is a functional option for configuring an FTP client.
type Option func(*Client) error

// tlsMode represents the TLS mode for the connection.
type tlsMode int

const (
	tlsModeNone tlsMode = iota
	tlsModeExplicit
	tlsModeImplicit
)

func (m tlsMode) String() string {
	switch m {
	case tlsModeExplicit:
		return "explicit"
	case tlsModeImplicit:
		return "implicit"
	}
	return "none"
}

// WithTimeout sets the read and write timeout installed around every
// exchange and data transfer, and the dial timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout < 0 {
			return errors.Errorf("negative timeout %v", timeout)
		}
		c.timeouts.Read = timeout
		c.timeouts.Write = timeout
		return nil
	}
}

// WithTimeouts sets the byte-count-gated timeouts in full.
func WithTimeouts(t Timeouts) Option {
	return func(c *Client) error {
		c.timeouts = t
		return nil
	}
}

// WithTimeoutPolicy replaces the policy that builds timeout-aware
// transports for the control and data connections.
func WithTimeoutPolicy(p TimeoutPolicy) Option {
	return func(c *Client) error {
		if p == nil {
			return errors.New("nil timeout policy")
		}
		c.policy = p
		return nil
	}
}

// WithKeepAlive sets how often an idle connection sends NOOP. The default
// is one minute; 0 disables keepalive.
//
// Example:
//
//	client, _ := ftp.Dial("ftp.example.com:21",
//	    ftp.WithKeepAlive(5*time.Minute),
//	)
func WithKeepAlive(interval time.Duration) Option {
	return func(c *Client) error {
		c.keepAlive = interval
		return nil
	}
}

// WithExplicitTLS enables explicit TLS mode (AUTH TLS).
// The client connects on the standard FTP port (21) and upgrades to TLS
// using the AUTH TLS command. This is the recommended mode for FTPS.
//
// config may be nil. Its ServerName, when set, is verified against the
// server certificate; otherwise the dialed host is.
func WithExplicitTLS(config *tls.Config) Option {
	return func(c *Client) error {
		if c.tlsMode == tlsModeImplicit {
			return errors.New("explicit TLS cannot be combined with implicit TLS")
		}
		c.tlsMode = tlsModeExplicit
		c.applyTLSConfig(config)
		return nil
	}
}

// WithImplicitTLS enables implicit TLS mode.
// The client connects directly with TLS, typically on port 990.
func WithImplicitTLS(config *tls.Config) Option {
	return func(c *Client) error {
		if c.tlsMode == tlsModeExplicit {
			return errors.New("implicit TLS cannot be combined with explicit TLS")
		}
		c.tlsMode = tlsModeImplicit
		c.applyTLSConfig(config)
		return nil
	}
}

func (c *Client) applyTLSConfig(config *tls.Config) {
	if config == nil {
		config = &tls.Config{}
	}
	if c.creds == nil {
		c.creds = &securetransport.Credentials{}
	}
	c.creds.Base = config
	if config.ServerName != "" {
		c.serverName = config.ServerName
	}
	if config.ClientSessionCache != nil && c.sessionCache == nil {
		c.sessionCache = config.ClientSessionCache
	}
}

// WithCredentials sets the trust anchors and client certificates used by
// the control and data channels. It does not enable TLS by itself.
func WithCredentials(creds *securetransport.Credentials) Option {
	return func(c *Client) error {
		if creds == nil {
			return errors.New("nil credentials")
		}
		if c.creds != nil && c.creds.Base != nil && creds.Base == nil {
			creds.Base = c.creds.Base
		}
		c.creds = creds
		return nil
	}
}

// WithServerName overrides the name verified against the server
// certificate.
func WithServerName(name string) Option {
	return func(c *Client) error {
		c.serverName = name
		return nil
	}
}

// WithSessionCache shares a TLS session cache between clients, for example
// a securetransport.RedisSessionCache. The default is a private LRU cache.
func WithSessionCache(cache tls.ClientSessionCache) Option {
	return func(c *Client) error {
		c.sessionCache = cache
		return nil
	}
}

// WithClearData sends PROT C instead of PROT P, leaving data channels
// unencrypted while the control channel stays secured.
func WithClearData() Option {
	return func(c *Client) error {
		c.clearData = true
		return nil
	}
}

// WithLogger enables logging using the provided logger.
// All FTP commands and responses are logged at debug level; passwords are
// redacted.
//
// Example:
//
//	logger := logrus.New()
//	logger.SetLevel(logrus.DebugLevel)
//	client, _ := ftp.Dial("ftp.example.com:21", ftp.WithLogger(logger))
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) error {
		if logger == nil {
			return errors.New("nil logger")
		}
		c.log = logger
		return nil
	}
}

// WithDialer sets a custom net.Dialer for establishing connections.
// This can be used to configure source addresses, keep-alive settings, etc.
func WithDialer(dialer *net.Dialer) Option {
	return func(c *Client) error {
		if dialer == nil {
			return errors.New("nil dialer")
		}
		c.dialer = dialer
		return nil
	}
}

// WithProxy routes the control connection and passive data connections
// through d, for example a SOCKS5 dialer from golang.org/x/net/proxy.
// Active mode is not available through a proxy.
func WithProxy(d proxy.Dialer) Option {
	return func(c *Client) error {
		if d == nil {
			return errors.New("nil proxy dialer")
		}
		c.proxy = d
		c.socks = nil
		return nil
	}
}

type socksProxy struct {
	addr string
	auth *proxy.Auth
}

// WithSOCKS5 routes connections through the SOCKS5 proxy at addr. user and
// password may be empty. The proxy is reached with the dialer in effect
// after all options are applied.
func WithSOCKS5(addr, user, password string) Option {
	return func(c *Client) error {
		if addr == "" {
			return errors.New("empty SOCKS5 address")
		}
		var auth *proxy.Auth
		if user != "" || password != "" {
			auth = &proxy.Auth{User: user, Password: password}
		}
		c.socks = &socksProxy{addr: addr, auth: auth}
		c.proxy = nil
		return nil
	}
}

// WithActiveMode enables active mode (PORT/EPRT) instead of passive mode.
// In active mode, the client opens a port and tells the server to connect to it.
// This may not work behind NAT/firewalls.
func WithActiveMode() Option {
	return func(c *Client) error {
		c.activeMode = true
		return nil
	}
}

// WithExtendedPassive uses EPSV on IPv4 control connections as well. If
// the server answers 502 the client falls back to PASV for the rest of the
// session.
func WithExtendedPassive() Option {
	return func(c *Client) error {
		c.extendedPassive = true
		return nil
	}
}

// WithMaxResponseLines bounds the number of lines kept from one reply.
func WithMaxResponseLines(n int) Option {
	return func(c *Client) error {
		if n < 1 {
			return errors.Errorf("invalid max response lines %d", n)
		}
		c.maxResponseLines = n
		return nil
	}
}

// WithMaxLineLength bounds the length of one reply line; longer lines are
// truncated.
func WithMaxLineLength(n int) Option {
	return func(c *Client) error {
		if n < 4 {
			return errors.Errorf("invalid max line length %d", n)
		}
		c.maxLineLength = n
		return nil
	}
}

// WithMetrics reports client activity to m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) error {
		c.metrics = m
		return nil
	}
}

// WithBandwidthLimit caps data channel throughput in bytes per second.
// 0 means unlimited.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(c *Client) error {
		if bytesPerSecond < 0 {
			return errors.Errorf("invalid bandwidth limit %d", bytesPerSecond)
		}
		c.limiter = ratelimit.New(bytesPerSecond)
		return nil
	}
}

// WithCustomListParser adds a custom directory listing parser.
// Custom parsers are tried before the built-in parsers (EPLF, DOS, Unix).
func WithCustomListParser(parser ListingParser) Option {
	return func(c *Client) error {
		c.parsers = append([]ListingParser{parser}, c.parsers...)
		return nil
	}
}
