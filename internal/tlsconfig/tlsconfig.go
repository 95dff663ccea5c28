// Package tlsconfig builds client TLS configurations from PEM files.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Files names the PEM files and overrides of a client TLS configuration.
// Empty fields keep the crypto/tls defaults.
type Files struct {
	// CAFile replaces the system roots used to verify servers.
	CAFile string
	// CertFile and KeyFile hold the client certificate for mTLS. Both or neither must be set.
	CertFile string
	KeyFile  string
	// ServerName overrides the name verified against the server certificate.
	ServerName         string
	InsecureSkipVerify bool
}

// Client returns a TLS 1.2+ client configuration for f.
func Client(f Files) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         f.ServerName,
		InsecureSkipVerify: f.InsecureSkipVerify, // #nosec G402 -- opt-in for development
	}

	if f.CAFile != "" {
		pool, err := loadCertPool(f.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	if f.CertFile != "" || f.KeyFile != "" {
		if f.CertFile == "" || f.KeyFile == "" {
			return nil, errors.New("both TLS cert and key files must be provided for mTLS")
		}
		pair, err := tls.LoadX509KeyPair(f.CertFile, f.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{pair}
	}

	return cfg, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path) // #nosec G304 -- path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no PEM certificates found in %s", path)
	}
	return pool, nil
}
