package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
)

// generateLeaf mints a fresh certificate signed by the CA. The leaf key is
// always random; only the CA is deterministic. Peers verify the chain, not
// the leaf itself.
func generateLeaf(caCertPEM, caKeyPEM []byte) (tls.Certificate, error) {
	var out tls.Certificate

	keyBlock, _ := pem.Decode(caKeyPEM)
	if keyBlock == nil {
		return out, fmt.Errorf("decoding CA key PEM block")
	}
	caKey, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return out, fmt.Errorf("x509.ParseECPrivateKey(): %w", err)
	}

	certBlock, _ := pem.Decode(caCertPEM)
	if certBlock == nil {
		return out, fmt.Errorf("decoding CA certificate PEM block")
	}
	caCert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return out, fmt.Errorf("x509.ParseCertificate(): %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return out, fmt.Errorf("ecdsa.GenerateKey(P256): %w", err)
	}

	cn, err := GenerateRandomString(8)
	if err != nil {
		return out, fmt.Errorf("generating common name: %w", err)
	}

	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	cert, err := x509.CreateCertificate(rand.Reader, &tmpl, caCert, &key.PublicKey, caKey)
	if err != nil {
		return out, fmt.Errorf("x509.CreateCertificate(): %w", err)
	}

	out = tls.Certificate{
		Certificate: [][]byte{cert},
		PrivateKey:  key,
	}

	return out, nil
}
