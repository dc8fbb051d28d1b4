package crypto

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
)

// GenerateRandomString returns length characters of URL-safe base64 from
// crypto/rand.
func GenerateRandomString(length int) (string, error) {
	return generateRandomString(length, rand.Reader)
}

func generateRandomString(length int, r io.Reader) (string, error) {
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("reading %d random bytes: %w", length, err)
	}

	return base64.RawURLEncoding.EncodeToString(b)[:length], nil
}

// newDRand returns a deterministic reader: a sha512 chain seeded by the
// shared key. Each cycle keeps half the hash as the next state and emits
// the other half, so output never reveals the state it came from.
func newDRand(seed string) io.Reader {
	return &dRand{next: []byte(seed)}
}

type dRand struct {
	next []byte
}

func (d *dRand) cycle() []byte {
	result := sha512.Sum512(d.next)
	d.next = result[:sha512.Size/2]
	return result[sha512.Size/2:]
}

// Read fills b from the hash chain. Single-byte reads are refused without
// consuming state: ecdsa.GenerateKey sometimes reads one byte from its
// randomness source on purpose to defeat deterministic callers, and both
// ends must derive the same CA key whether or not that read happens.
func (d *dRand) Read(b []byte) (int, error) {
	if len(b) == 1 {
		return 0, fmt.Errorf("single-byte reads are not supported")
	}

	n := 0
	for n < len(b) {
		out := d.cycle()
		n += copy(b[n:], out)
	}
	return n, nil
}
