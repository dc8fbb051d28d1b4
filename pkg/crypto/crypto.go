// Package crypto derives the TLS material for the control link. Both ends
// of a keyed link derive the same certificate authority from the shared
// key, then mint a fresh leaf certificate signed by it. Knowing the key is
// what authenticates a peer; host names never matter.
package crypto

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
)

// GenerateCertificates returns the CA pool and a leaf certificate for one
// end of the control link. An empty key produces a throwaway CA, useful
// for plain transport-level TLS where nobody verifies the chain.
func GenerateCertificates(key string) (*x509.CertPool, tls.Certificate, error) {
	var pool *x509.CertPool
	var cert tls.Certificate

	if key == "" {
		random, err := GenerateRandomString(32)
		if err != nil {
			return nil, cert, fmt.Errorf("GenerateRandomString(32): %w", err)
		}
		key = random
	}

	caKeyPEM, caCertPEM, err := generateCA(key)
	if err != nil {
		return nil, cert, fmt.Errorf("generateCA(): %w", err)
	}

	pool = x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCertPEM) {
		return nil, cert, fmt.Errorf("appending CA certificate to pool")
	}

	cert, err = generateLeaf(caCertPEM, caKeyPEM)
	if err != nil {
		return nil, cert, fmt.Errorf("generateLeaf(): %w", err)
	}

	return pool, cert, nil
}

// randReader returns the byte source certificate generation draws from: a
// key-seeded deterministic reader, or crypto/rand for an empty key.
func randReader(key string) io.Reader {
	if key == "" {
		return rand.Reader
	}
	return newDRand(key)
}
