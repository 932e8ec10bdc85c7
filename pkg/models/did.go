package models

import "strings"

// DID scheme prefixes recognized by the enforcer. A requester presenting a
// key-derived DID is session-scoped and unlinkable; a root-anchored DID is
// persistent.
const (
	SchemeEphemeral  = "did:key:"
	SchemePersistent = "did:prism:"
)

// HasScheme reports whether did starts with any of the given scheme
// prefixes. Matching is exact-prefix, case-sensitive, per DID syntax.
func HasScheme(did string, schemes []string) bool {
	for _, s := range schemes {
		if s == "" {
			continue
		}
		if strings.HasPrefix(did, s) {
			return true
		}
	}
	return false
}
