package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// notBefore and notAfter bound every certificate we mint. Clock skew between
// the two ends must never invalidate a link, so the window is generous.
var (
	notBefore = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	notAfter  = time.Date(2063, 4, 5, 11, 0, 0, 0, time.UTC)
)

// generateCA derives the CA key pair and certificate from the shared key.
// The same key always yields the same CA, which is what lets both ends
// verify each other without ever exchanging certificates. Returns the
// PEM-encoded private key and certificate.
func generateCA(key string) ([]byte, []byte, error) {
	caKey, err := generateCAKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("generateCAKey(): %w", err)
	}

	caCert, err := generateCACertificate(caKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("generateCACertificate(): %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: caCert,
	})

	der, err := x509.MarshalECPrivateKey(caKey)
	if err != nil {
		return nil, nil, fmt.Errorf("x509.MarshalECPrivateKey(): %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})

	return keyPEM, certPEM, nil
}

// generateCAKey derives an ECDSA P256 key from the shared key.
func generateCAKey(key string) (*ecdsa.PrivateKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), randReader(key))
	if err != nil {
		return nil, fmt.Errorf("ecdsa.GenerateKey(P256): %w", err)
	}

	return priv, nil
}

// generateCACertificate self-signs a CA certificate for caKey. Subject
// fields are derived from the shared key too, so issuer/subject chaining
// matches across independently generated copies.
func generateCACertificate(caKey *ecdsa.PrivateKey, key string) ([]byte, error) {
	rng := randReader(key)

	cn, err := generateRandomString(8, rng)
	if err != nil {
		return nil, fmt.Errorf("generating common name: %w", err)
	}

	org, err := generateRandomString(8, rng)
	if err != nil {
		return nil, fmt.Errorf("generating organization: %w", err)
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, fmt.Errorf("generating serial: %w", err)
	}

	tmpl := x509.Certificate{
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   cn,
			Organization: []string{org},
		},
		BasicConstraintsValid: true,
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
	}

	cert, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("x509.CreateCertificate(): %w", err)
	}

	return cert, nil
}
