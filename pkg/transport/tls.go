package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"

	"harnessbot/harness/pkg/crypto"
	"harnessbot/harness/pkg/log"
)

// handshakeTimeout bounds the TLS handshake on both ends. The deadline is
// cleared right after the handshake so it cannot kill the healthy link.
const handshakeTimeout = 10 * time.Second

// upgradeClient wraps conn in client-side mutual TLS derived from key.
func upgradeClient(conn net.Conn, key string) (net.Conn, error) {
	cfg, err := clientTLSConfig(key)
	if err != nil {
		return nil, fmt.Errorf("building TLS config: %w", err)
	}

	tlsConn := tls.Client(conn, cfg)
	if err := handshake(tlsConn); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("TLS handshake: %w", err)
	}

	return tlsConn, nil
}

// wrapServer returns a handler that performs the server side of the mutual
// TLS upgrade before handing the connection on.
func wrapServer(handler Handler, key string, lgr *log.Logger) (Handler, error) {
	cfg, err := serverTLSConfig(key)
	if err != nil {
		return nil, fmt.Errorf("building TLS config: %w", err)
	}

	return func(conn net.Conn) error {
		tlsConn := tls.Server(conn, cfg)
		if err := handshake(tlsConn); err != nil {
			tlsConn.Close()
			return fmt.Errorf("TLS handshake with %s: %w", conn.RemoteAddr(), err)
		}
		lgr.DebugMsg("mutual TLS established with %s", conn.RemoteAddr())

		return handler(tlsConn)
	}, nil
}

func clientTLSConfig(key string) (*tls.Config, error) {
	pool, cert, err := crypto.GenerateCertificates(key)
	if err != nil {
		return nil, fmt.Errorf("crypto.GenerateCertificates(): %w", err)
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
		// Host names mean nothing on the control link. The chain check
		// against the key-derived CA below is the real verification.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyPeer(pool, rawCerts)
		},
	}, nil
}

func serverTLSConfig(key string) (*tls.Config, error) {
	pool, cert, err := crypto.GenerateCertificates(key)
	if err != nil {
		return nil, fmt.Errorf("crypto.GenerateCertificates(): %w", err)
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
	}, nil
}

// verifyPeer checks that the peer presented exactly one certificate and
// that it chains to the key-derived CA. SANs are ignored.
func verifyPeer(pool *x509.CertPool, rawCerts [][]byte) error {
	if len(rawCerts) != 1 {
		return fmt.Errorf("unexpected number of peer certificates: %d", len(rawCerts))
	}

	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("parsing peer certificate: %w", err)
	}

	if _, err := cert.Verify(x509.VerifyOptions{Roots: pool}); err != nil {
		return fmt.Errorf("verifying peer certificate: %w", err)
	}

	return nil
}

func handshake(tlsConn *tls.Conn) error {
	_ = tlsConn.SetDeadline(time.Now().Add(handshakeTimeout))
	err := tlsConn.Handshake()
	_ = tlsConn.SetDeadline(time.Time{})

	return err
}
