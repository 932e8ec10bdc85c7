// Package script holds the reference to the compiled on-chain validator.
// The enforcer never interprets the script; it only needs a stable identity
// for it so environments can detect when their validator artifacts drift.
package script

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// HashLen is the byte length of a script content hash (blake2b-224).
const HashLen = 28

// Reference is an immutable handle to a compiled validator: content hash
// plus the opaque compiled bytes. Build one at startup with Load and pass it
// by value to every consumer; there is no process-wide instance.
type Reference struct {
	hash     [HashLen]byte
	compiled []byte
}

// Load copies the compiled bytes and computes their content hash.
func Load(compiled []byte) (Reference, error) {
	if len(compiled) == 0 {
		return Reference{}, fmt.Errorf("script: compiled bytes required")
	}
	h, err := blake2b.New(HashLen, nil)
	if err != nil {
		return Reference{}, fmt.Errorf("script: %w", err)
	}
	h.Write(compiled)
	var ref Reference
	copy(ref.hash[:], h.Sum(nil))
	ref.compiled = append([]byte(nil), compiled...)
	return ref, nil
}

// Hash returns the content hash as lowercase hex.
func (r Reference) Hash() string {
	return hex.EncodeToString(r.hash[:])
}

// Compiled returns a copy of the validator bytes.
func (r Reference) Compiled() []byte {
	return append([]byte(nil), r.compiled...)
}

// Same reports whether two references point at the same validator artifact.
func (r Reference) Same(other Reference) bool {
	return bytes.Equal(r.hash[:], other.hash[:])
}

// Empty reports whether the reference was never loaded.
func (r Reference) Empty() bool {
	return len(r.compiled) == 0
}
