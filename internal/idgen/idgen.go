// Package idgen generates the prefixed random IDs used across the API
// (off_, prop_, rev_, lst_, evt_, wh_).
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// entropyBytes gives 96 bits of randomness, 24 hex characters.
const entropyBytes = 12

// WithPrefix returns prefix followed by 24 random hex characters.
func WithPrefix(prefix string) string {
	b := make([]byte, entropyBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}
