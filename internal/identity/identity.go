// Package identity generates the per-run Curve25519 static key pair that
// uniquely names a Summit node on the local link, per §3: keys are
// ephemeral and never persisted across restarts.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// Identity is a node's static X25519 key pair, generated fresh at startup.
type Identity struct {
	PublicKey  [32]byte
	PrivateKey [32]byte
}

// Generate creates a fresh ephemeral identity. Called exactly once per
// daemon process lifetime.
func Generate() (*Identity, error) {
	var priv, pub [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("identity: generate private key: %w", err)
	}
	curve25519.ScalarBaseMult(&pub, &priv)

	return &Identity{PublicKey: pub, PrivateKey: priv}, nil
}

// String returns the full hex form of the public key, suitable for logs.
func (id *Identity) String() string {
	return hex.EncodeToString(id.PublicKey[:])
}

// Less reports whether public key a sorts lexicographically before b — used
// for the initiator tie-break in §4.3.
func Less(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// MinMax returns (min, max) of two public keys in lexicographic order, the
// ordering the session ID derivation in §3 requires.
func MinMax(a, b [32]byte) (min [32]byte, max [32]byte) {
	if Less(a, b) {
		return a, b
	}
	return b, a
}
