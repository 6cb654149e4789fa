package tlsutil

import (
	"crypto/tls"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTLSConfig(t *testing.T) {
	cfg := DefaultTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.NotEmpty(t, cfg.CipherSuites)
}

func TestHTTPClient(t *testing.T) {
	c, err := HTTPClient(ClientOptions{Timeout: 15 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, c.Timeout)

	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
}

func TestTransport(t *testing.T) {
	tr, err := Transport(ClientOptions{MaxIdleConnsPerHost: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, tr.MaxIdleConnsPerHost)
	assert.True(t, tr.ForceAttemptHTTP2)
	assert.Nil(t, tr.TLSClientConfig.RootCAs)
}

func TestLoadCertPool_Errors(t *testing.T) {
	_, err := LoadCertPool(filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o600))
	_, err = HTTPClient(ClientOptions{CAFile: bad})
	assert.Error(t, err)
}
