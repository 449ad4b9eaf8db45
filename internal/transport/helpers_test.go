package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"
)

// configSource is a TLSConfigSource that counts how often it is consulted.
type configSource struct {
	cfg   *tls.Config
	err   error
	calls int
}

func (c *configSource) TLSConfig() (*tls.Config, error) {
	c.calls++
	return c.cfg, c.err
}

// newCertificate returns a self-signed certificate valid for localhost and
// a pool that trusts it.
func newCertificate(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

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
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, pool
}

// tlsPeer is the remote end of a loopback connection that accepts TLS.
type tlsPeer struct {
	conn chan *tls.Conn
	errs chan error
}

// startTLSPeer listens on loopback, accepts one connection and completes a
// server-side handshake on it. It returns the dialed client socket.
func startTLSPeer(t *testing.T, cert tls.Certificate) (*net.TCPConn, *tlsPeer) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	peer := &tlsPeer{conn: make(chan *tls.Conn, 1), errs: make(chan error, 1)}
	go func() {
		raw, err := ln.Accept()
		if err != nil {
			peer.errs <- err
			return
		}
		srv := tls.Server(raw, &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
		if err := srv.Handshake(); err != nil {
			_ = raw.Close()
			peer.errs <- err
			return
		}
		peer.conn <- srv
	}()

	conn, err := net.DialTCP("tcp", nil, ln.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatalf("DialTCP() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return conn, peer
}

func (p *tlsPeer) wait(t *testing.T) *tls.Conn {
	t.Helper()
	select {
	case c := <-p.conn:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case err := <-p.errs:
		t.Fatalf("peer handshake error = %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("peer handshake timed out")
	}
	return nil
}
