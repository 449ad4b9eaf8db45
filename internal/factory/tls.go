package factory

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/muurk/wsconn/internal/logging"
	"github.com/muurk/wsconn/internal/transport"
)

// TLSOptions describes the client TLS context used when a stream upgrades.
type TLSOptions struct {
	CAFile             string `yaml:"ca_file,omitempty"`   // PEM bundle replacing the system roots
	CertFile           string `yaml:"cert_file,omitempty"` // client certificate for mutual TLS
	KeyFile            string `yaml:"key_file,omitempty"`
	ServerName         string `yaml:"server_name,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty"`
}

// NewTLSConfig builds a TLS context from opts. Every failure wraps
// transport.ErrTLSSetup.
func NewTLSConfig(opts TLSOptions) (*tls.Config, error) {
	config := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         opts.ServerName,
		InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // opt-in for test setups
	}

	if opts.CAFile != "" {
		pemData, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: read CA file: %w", transport.ErrTLSSetup, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("%w: no certificates found in %s", transport.ErrTLSSetup, opts.CAFile)
		}
		config.RootCAs = pool
	}

	if (opts.CertFile == "") != (opts.KeyFile == "") {
		return nil, fmt.Errorf("%w: client certificate and key must be provided together", transport.ErrTLSSetup)
	}
	if opts.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: load client certificate: %w", transport.ErrTLSSetup, err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	if opts.InsecureSkipVerify {
		logging.Warn("TLS certificate verification disabled",
			zap.String("server_name", opts.ServerName),
		)
	}

	return config, nil
}
