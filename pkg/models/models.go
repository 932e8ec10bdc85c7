package models

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyHashLen is the byte length of an owner verification-key hash
// (blake2b-224 output).
const KeyHashLen = 28

// KeyHash is a fixed-length verification-key hash. Ownership and signature
// checking against it happens on-chain; off-chain it is an opaque identifier.
type KeyHash [KeyHashLen]byte

// ParseKeyHash parses a lowercase or uppercase hex string of exactly
// KeyHashLen bytes. No prefix, no separators.
func ParseKeyHash(s string) (KeyHash, error) {
	var kh KeyHash
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return kh, fmt.Errorf("key hash: %w", err)
	}
	if len(raw) != KeyHashLen {
		return kh, fmt.Errorf("key hash: want %d bytes, got %d", KeyHashLen, len(raw))
	}
	copy(kh[:], raw)
	return kh, nil
}

// String renders the hash as lowercase hex, two digits per byte, no prefix.
func (k KeyHash) String() string {
	return hex.EncodeToString(k[:])
}

// Bytes returns a copy of the raw hash bytes.
func (k KeyHash) Bytes() []byte {
	out := make([]byte, KeyHashLen)
	copy(out, k[:])
	return out
}

// IdentityLinkage describes how a requester's ephemeral identity may relate
// to a persistent root identity. The three flags are independent; no
// combination is forbidden at the data-model level.
type IdentityLinkage struct {
	EphemeralRequired   bool `json:"ephemeral_required"`
	ProofOfRootAllowed  bool `json:"proof_of_root_allowed"`
	ZKContinuityAllowed bool `json:"zk_continuity_allowed"`
}

// Policy is the published access-control record for one data context.
//
// ID is an off-chain handle only: it never participates in the encoded datum,
// and decoding cannot recover it. Callers track id -> published-location in
// the registry.
//
// MaxRetentionMs and AccessRequest.AccessTime share one unit convention:
// milliseconds.
type Policy struct {
	ID                string          `json:"id"`
	OwnerPKH          KeyHash         `json:"owner_pkh"`
	MinPayment        uint64          `json:"min_payment"`
	MaxRetentionMs    uint64          `json:"max_retention_ms"`
	IdentityLinkage   IdentityLinkage `json:"identity_linkage"`
	RequiredProofHash []byte          `json:"required_proof_hash,omitempty"`
	ContextScope      string          `json:"context_scope"`
}

// RequiresProof reports whether the policy demands a proof reference.
// Empty RequiredProofHash means no proof required.
func (p Policy) RequiresProof() bool {
	return len(p.RequiredProofHash) > 0
}

// AccessRequest is the redeemer a requester submits against a policy.
// AccessTime is milliseconds since the Unix epoch.
type AccessRequest struct {
	RequesterDID   string `json:"requester_did"`
	ProofReference string `json:"proof_reference,omitempty"`
	AccessTime     uint64 `json:"access_time"`
	PaymentAmount  uint64 `json:"payment_amount"`
}

// HasProof reports whether the request carries a proof reference.
func (r AccessRequest) HasProof() bool {
	return r.ProofReference != ""
}

// Outcome is the result of evaluating a request against a policy. Invalid is
// an expected result, not an error: callers must not conflate it with a
// codec failure on malformed bytes.
type Outcome struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Valid is the accepting outcome.
func ValidOutcome() Outcome {
	return Outcome{Valid: true}
}

// Invalid builds a rejecting outcome with the given reason.
func Invalid(reason string) Outcome {
	return Outcome{Valid: false, Reason: reason}
}
