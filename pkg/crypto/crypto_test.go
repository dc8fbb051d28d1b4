package crypto

import (
	"crypto/tls"
	"crypto/x509"
	"testing"
)

func TestGenerateCertificates_WithKey(t *testing.T) {
	t.Parallel()

	pool, cert, err := GenerateCertificates("test-key-123")
	if err != nil {
		t.Fatalf("GenerateCertificates() error = %v, want nil", err)
	}
	if pool == nil {
		t.Error("GenerateCertificates() returned nil CA pool")
	}
	if cert.PrivateKey == nil {
		t.Error("GenerateCertificates() returned certificate with nil PrivateKey")
	}
	if len(cert.Certificate) == 0 {
		t.Error("GenerateCertificates() returned certificate with no certificate data")
	}
}

func TestGenerateCertificates_WithoutKey(t *testing.T) {
	t.Parallel()

	pool, cert, err := GenerateCertificates("")
	if err != nil {
		t.Fatalf("GenerateCertificates(\"\") error = %v, want nil", err)
	}
	if pool == nil {
		t.Error("GenerateCertificates() returned nil CA pool")
	}
	if cert.PrivateKey == nil {
		t.Error("GenerateCertificates() returned certificate with nil PrivateKey")
	}
}

// Two ends that share a key generate their material independently. Each
// side's leaf must chain to the other side's CA pool.
func TestGenerateCertificates_SharedKeyCrossVerifies(t *testing.T) {
	t.Parallel()

	poolA, certA, err := GenerateCertificates("shared-key")
	if err != nil {
		t.Fatalf("GenerateCertificates() A error = %v", err)
	}
	poolB, certB, err := GenerateCertificates("shared-key")
	if err != nil {
		t.Fatalf("GenerateCertificates() B error = %v", err)
	}

	if err := verifyAgainst(t, certA, poolB); err != nil {
		t.Errorf("leaf A does not verify against pool B: %v", err)
	}
	if err := verifyAgainst(t, certB, poolA); err != nil {
		t.Errorf("leaf B does not verify against pool A: %v", err)
	}
}

func TestGenerateCertificates_DifferentKeysRejected(t *testing.T) {
	t.Parallel()

	poolA, _, err := GenerateCertificates("key-a")
	if err != nil {
		t.Fatalf("GenerateCertificates(key-a) error = %v", err)
	}
	_, certB, err := GenerateCertificates("key-b")
	if err != nil {
		t.Fatalf("GenerateCertificates(key-b) error = %v", err)
	}

	if err := verifyAgainst(t, certB, poolA); err == nil {
		t.Error("leaf from key-b verified against pool from key-a; want failure")
	}
}

func verifyAgainst(t *testing.T, cert tls.Certificate, pool *x509.CertPool) error {
	t.Helper()

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("x509.ParseCertificate() error = %v", err)
	}

	_, err = leaf.Verify(x509.VerifyOptions{
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	return err
}
