package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Elon-Abulafia/PipeRT/errors"
)

// generateTestCert creates a self-signed certificate usable by both ends
func generateTestCert(t *testing.T, cn string) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   cn,
		},
		DNSNames:              []string{"localhost"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	return certPEM, keyPEM
}

// setupTestFiles writes a cert, its key and the cert again as a CA bundle
func setupTestFiles(t *testing.T, cn string) (certFile, keyFile, caFile string) {
	t.Helper()
	dir := t.TempDir()
	certPEM, keyPEM := generateTestCert(t, cn)

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	caFile = filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0o644))
	return certFile, keyFile, caFile
}

func TestLoadServerConfig(t *testing.T) {
	certFile, keyFile, caFile := setupTestFiles(t, "localhost")

	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
		check   func(*testing.T, *tls.Config)
	}{
		{
			name: "tls 1.3",
			cfg:  ServerConfig{CertFile: certFile, KeyFile: keyFile, MinVersion: "1.3"},
			check: func(t *testing.T, c *tls.Config) {
				assert.Len(t, c.Certificates, 1)
				assert.Equal(t, uint16(tls.VersionTLS13), c.MinVersion)
				assert.Equal(t, tls.NoClientCert, c.ClientAuth)
			},
		},
		{
			name: "optional client certificates",
			cfg:  ServerConfig{CertFile: certFile, KeyFile: keyFile, ClientCAFiles: []string{caFile}},
			check: func(t *testing.T, c *tls.Config) {
				assert.NotNil(t, c.ClientCAs)
				assert.Equal(t, tls.VerifyClientCertIfGiven, c.ClientAuth)
				assert.Nil(t, c.VerifyPeerCertificate)
			},
		},
		{
			name: "required client certificates with CN allow list",
			cfg: ServerConfig{
				CertFile: certFile, KeyFile: keyFile,
				ClientCAFiles: []string{caFile}, RequireClientCert: true, AllowedClientCNs: []string{"viewer"},
			},
			check: func(t *testing.T, c *tls.Config) {
				assert.Equal(t, tls.RequireAndVerifyClientCert, c.ClientAuth)
				assert.NotNil(t, c.VerifyPeerCertificate)
			},
		},
		{name: "missing cert", cfg: ServerConfig{CertFile: "/nonexistent/cert.pem", KeyFile: keyFile}, wantErr: true},
		{name: "missing client CA", cfg: ServerConfig{CertFile: certFile, KeyFile: keyFile, ClientCAFiles: []string{"/nonexistent/ca.pem"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadServerConfig(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsFatal(err))
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestLoadClientConfig(t *testing.T) {
	certFile, keyFile, caFile := setupTestFiles(t, "client")

	got, err := LoadClientConfig(ClientConfig{})
	require.NoError(t, err)
	assert.NotNil(t, got.RootCAs)
	assert.Equal(t, uint16(tls.VersionTLS12), got.MinVersion)
	assert.False(t, got.InsecureSkipVerify)
	assert.Empty(t, got.Certificates)

	got, err = LoadClientConfig(ClientConfig{CAFiles: []string{caFile}, CertFile: certFile, KeyFile: keyFile, InsecureSkipVerify: true})
	require.NoError(t, err)
	assert.True(t, got.InsecureSkipVerify)
	assert.Len(t, got.Certificates, 1)

	_, err = LoadClientConfig(ClientConfig{CertFile: certFile})
	assert.Error(t, err, "a certificate without its key")

	notPEM := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(notPEM, []byte("not a certificate"), 0o644))
	_, err = LoadClientConfig(ClientConfig{CAFiles: []string{notPEM}})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

// handshake runs a TLS handshake over a loopback connection
func handshake(t *testing.T, server, client *tls.Config) (serverErr, clientErr error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		defer conn.Close()
		done <- tls.Server(conn, server).Handshake()
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	clientErr = tls.Client(conn, client).Handshake()
	return <-done, clientErr
}

func TestHandshake_MutualTLS(t *testing.T) {
	serverCert, serverKey, serverCA := setupTestFiles(t, "localhost")
	clientCert, clientKey, clientCA := setupTestFiles(t, "viewer")

	server, err := LoadServerConfig(ServerConfig{
		CertFile: serverCert, KeyFile: serverKey,
		ClientCAFiles: []string{clientCA}, RequireClientCert: true, AllowedClientCNs: []string{"viewer"},
	})
	require.NoError(t, err)

	client, err := LoadClientConfig(ClientConfig{CAFiles: []string{serverCA}, CertFile: clientCert, KeyFile: clientKey})
	require.NoError(t, err)
	client.ServerName = "localhost"

	serverErr, clientErr := handshake(t, server, client)
	assert.NoError(t, serverErr)
	assert.NoError(t, clientErr)

	anonymous, err := LoadClientConfig(ClientConfig{CAFiles: []string{serverCA}})
	require.NoError(t, err)
	anonymous.ServerName = "localhost"
	serverErr, _ = handshake(t, server, anonymous)
	assert.Error(t, serverErr, "client certificate required")
}

func TestVerifyAllowedClientCN(t *testing.T) {
	leaf := &x509.Certificate{Subject: pkix.Name{CommonName: "viewer"}}
	chains := [][]*x509.Certificate{{leaf}}

	assert.NoError(t, verifyAllowedClientCN(chains, []string{"display", "viewer"}))
	assert.Error(t, verifyAllowedClientCN(chains, []string{"display"}))
	assert.NoError(t, verifyAllowedClientCN(nil, []string{"display"}))
}

func TestParseTLSVersion(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS13), parseTLSVersion("1.3"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.2"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion(""))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.0"))
}
