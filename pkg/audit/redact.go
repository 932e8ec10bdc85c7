package audit

import (
	"crypto/sha256"
	"encoding/hex"
)

// redactRecord replaces the identifying fields with salted hashes. The
// decision fields themselves (verdict, reason, policy id) stay in the clear;
// they carry no requester identity.
func redactRecord(rec Record, salt []byte) Record {
	rec.RequesterDID = hashString(rec.RequesterDID, salt)
	if rec.ProofRef != "" {
		rec.ProofRef = hashString(rec.ProofRef, salt)
	}
	return rec
}

func hashString(v string, salt []byte) string {
	h := sha256.New()
	if len(salt) > 0 {
		_, _ = h.Write(salt)
	}
	_, _ = h.Write([]byte(v))
	return hex.EncodeToString(h.Sum(nil))
}
