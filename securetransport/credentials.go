package securetransport

import (
	"crypto/tls"
	"crypto/x509"

	"github.com/pkg/errors"
)

// Credentials holds what a Conn presents and trusts. The same Credentials
// may back many Conns, for example a control channel and its data channels.
type Credentials struct {
	// Base, if set, is cloned and the remaining fields are applied on top.
	Base *tls.Config

	// RootCAs verifies the peer. Nil means the system pool.
	RootCAs *x509.CertPool

	// Certificates are offered to the peer. In the client role the first
	// certificate the server's request supports is sent.
	Certificates []tls.Certificate

	// GetCertificate overrides Certificates in the server role.
	GetCertificate func(*tls.ClientHelloInfo) (*tls.Certificate, error)

	InsecureSkipVerify bool

	// MinVersion defaults to TLS 1.2.
	MinVersion uint16

	// Renegotiation controls server-initiated renegotiation on client Conns.
	Renegotiation tls.RenegotiationSupport
}

// TLSConfig builds the tls.Config for one Conn.
func (c *Credentials) TLSConfig(serverName string, role Role, cache tls.ClientSessionCache) (*tls.Config, error) {
	var cfg *tls.Config
	if c.Base != nil {
		cfg = c.Base.Clone()
	} else {
		cfg = &tls.Config{}
	}

	if c.RootCAs != nil {
		cfg.RootCAs = c.RootCAs
	}
	if c.InsecureSkipVerify {
		cfg.InsecureSkipVerify = true
	}
	if c.MinVersion != 0 {
		cfg.MinVersion = c.MinVersion
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}
	if serverName != "" && cfg.ServerName == "" {
		cfg.ServerName = serverName
	}

	certs := c.Certificates
	if len(certs) == 0 {
		certs = cfg.Certificates
	}

	switch role {
	case RoleClient:
		if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
			return nil, errors.New("securetransport: ServerName or InsecureSkipVerify is required")
		}
		cfg.Renegotiation = c.Renegotiation
		if cache != nil {
			cfg.ClientSessionCache = cache
		}
		if len(certs) > 0 && cfg.GetClientCertificate == nil {
			cfg.Certificates = nil
			cfg.GetClientCertificate = selectClientCertificate(certs)
		}
	case RoleServer:
		if c.GetCertificate != nil {
			cfg.GetCertificate = c.GetCertificate
		} else if len(certs) > 0 {
			cfg.Certificates = nil
			cfg.GetCertificate = selectServerCertificate(certs)
		}
		if cfg.GetCertificate == nil && len(cfg.Certificates) == 0 {
			return nil, errors.New("securetransport: server role requires a certificate")
		}
	default:
		return nil, errors.Errorf("securetransport: unknown role %d", role)
	}
	return cfg, nil
}

func selectClientCertificate(certs []tls.Certificate) func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	return func(cri *tls.CertificateRequestInfo) (*tls.Certificate, error) {
		for i := range certs {
			if cri.SupportsCertificate(&certs[i]) == nil {
				return &certs[i], nil
			}
		}
		// An empty certificate lets the server decide whether to proceed.
		return &tls.Certificate{}, nil
	}
}

func selectServerCertificate(certs []tls.Certificate) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
		for i := range certs {
			if chi.SupportsCertificate(&certs[i]) == nil {
				return &certs[i], nil
			}
		}
		return &certs[0], nil
	}
}
