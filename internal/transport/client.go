// Package transport builds the outbound HTTP clients used for the metadata API,
// component downloads and the object store, with a configurable TLS trust policy.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"
)

// TLSConfig selects which server certificates outbound clients accept.
type TLSConfig struct {
	// CAFile is a PEM bundle trusted in addition to the system roots,
	// e.g. the self-signed certificate of an internal metadata server.
	CAFile string

	// InsecureSkipVerify disables certificate and hostname verification.
	InsecureSkipVerify bool
}

// Config holds outbound HTTP settings.
type Config struct {
	TLS TLSConfig

	// ResponseHeaderTimeout bounds the wait for response headers.
	// Zero means no limit; request contexts still apply.
	ResponseHeaderTimeout time.Duration

	MaxIdleConnsPerHost int
}

// NewTransport returns a clone of the default transport with the TLS policy applied.
func NewTransport(cfg Config) (*http.Transport, error) {
	tlsConfig, err := cfg.TLS.build()
	if err != nil {
		return nil, err
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = tlsConfig
	t.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
	if cfg.MaxIdleConnsPerHost > 0 {
		t.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	return t, nil
}

// NewClient returns an HTTP client without an overall timeout: downloads are
// long-running streams bounded by their request context instead.
func NewClient(cfg Config) (*http.Client, error) {
	t, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: t}, nil
}

func (c TLSConfig) build() (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA file %s contains no PEM certificates", c.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if c.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}
	return tlsConfig, nil
}
