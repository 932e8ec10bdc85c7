// Package enforce is the off-chain mirror of the on-chain acceptance
// predicate. It re-checks the subset of rules the script evaluates over the
// datum/redeemer pair (ephemeral DID shape, payment threshold, proof
// presence) so obviously non-conforming requests are rejected before a
// submission is paid for. Signature and retention enforcement stay on-chain
// and are deliberately absent here; any change to the script's rules must be
// mirrored in this package.
package enforce

import (
	"fmt"

	"spal/pkg/models"
)

// Reasons surfaced on rejection. Check order is fixed and short-circuiting,
// so the first failing rule determines the reason.
const (
	ReasonEphemeralRequired = "ephemeral identity required"
	ReasonProofRequired     = "proof reference required"
)

// Options tunes the mirror without changing its logic. EphemeralSchemes is
// the DID-prefix allow-list that counts as an unlinkable session identity;
// it exists so additional key-derived schemes can be admitted without a
// code change on this side.
type Options struct {
	EphemeralSchemes []string
}

func defaultOptions() Options {
	return Options{EphemeralSchemes: []string{models.SchemeEphemeral}}
}

// Evaluate checks a request against a policy with default options.
func Evaluate(p models.Policy, r models.AccessRequest) models.Outcome {
	return EvaluateWithOptions(p, r, defaultOptions())
}

// EvaluateWithOptions is a pure function of its inputs: no state, no clock,
// safe to call concurrently. Checks run in the fixed order ephemeral
// identity, payment, proof presence.
func EvaluateWithOptions(p models.Policy, r models.AccessRequest, opts Options) models.Outcome {
	schemes := opts.EphemeralSchemes
	if len(schemes) == 0 {
		schemes = defaultOptions().EphemeralSchemes
	}
	if p.IdentityLinkage.EphemeralRequired && !models.HasScheme(r.RequesterDID, schemes) {
		return models.Invalid(ReasonEphemeralRequired)
	}
	if p.MinPayment > 0 && r.PaymentAmount < p.MinPayment {
		return models.Invalid(fmt.Sprintf("insufficient payment: required %d, supplied %d", p.MinPayment, r.PaymentAmount))
	}
	if p.RequiresProof() && !r.HasProof() {
		return models.Invalid(ReasonProofRequired)
	}
	return models.ValidOutcome()
}
