package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// ClientOptions configures outbound HTTP clients.
type ClientOptions struct {
	// Timeout bounds a whole request; 0 leaves it to the caller's context
	Timeout time.Duration
	// CAFile adds a PEM bundle to the system roots, e.g. for a private directory
	CAFile string
	// MaxIdleConnsPerHost keeps connections to peers warm
	MaxIdleConnsPerHost int
}

// DefaultTLSConfig requires TLS 1.2 with AEAD cipher suites.
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// LoadCertPool returns the system roots plus the certificates in caFile.
func LoadCertPool(caFile string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	return pool, nil
}

// Transport returns a hardened transport for opts.
func Transport(opts ClientOptions) (*http.Transport, error) {
	tlsConfig := DefaultTLSConfig()
	if opts.CAFile != "" {
		pool, err := LoadCertPool(opts.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}
	perHost := opts.MaxIdleConnsPerHost
	if perHost <= 0 {
		perHost = 8
	}
	return &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: tlsConfig,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   perHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}, nil
}

// HTTPClient returns a client for directory, dispatch and LLM traffic.
func HTTPClient(opts ClientOptions) (*http.Client, error) {
	tr, err := Transport(opts)
	if err != nil {
		return nil, err
	}
	return &http.Client{Timeout: opts.Timeout, Transport: tr}, nil
}
