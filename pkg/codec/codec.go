// Package codec maps the domain records onto the constructor tree and its
// wire form. The field layout here is the contract with the on-chain
// validator: positions, counts, and the boolean constructor encoding must
// not drift.
package codec

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"spal/pkg/models"
	"spal/pkg/plutus"
)

// Record shapes pinned by the on-chain layout.
const (
	policyFieldCount  = 6
	linkageFieldCount = 3
	requestFieldCount = 4
)

// EncodePolicy serializes a policy datum. The ID field is an off-chain
// handle and never reaches the wire. Two structurally equal policies encode
// to byte-identical output.
func EncodePolicy(p models.Policy) ([]byte, error) {
	tree, err := policyTree(p)
	if err != nil {
		return nil, err
	}
	return plutus.Encode(tree), nil
}

// DecodePolicy parses datum bytes back into a policy. ID is undefined after
// decode; callers reattach it from their registry.
func DecodePolicy(raw []byte) (models.Policy, error) {
	tree, err := plutus.Decode(raw)
	if err != nil {
		return models.Policy{}, fmt.Errorf("decode policy datum: %w", err)
	}
	return policyFromTree(tree)
}

// EncodeRequest serializes an access-request redeemer.
func EncodeRequest(r models.AccessRequest) ([]byte, error) {
	tree, err := requestTree(r)
	if err != nil {
		return nil, err
	}
	return plutus.Encode(tree), nil
}

// DecodeRequest parses redeemer bytes back into an access request.
func DecodeRequest(raw []byte) (models.AccessRequest, error) {
	tree, err := plutus.Decode(raw)
	if err != nil {
		return models.AccessRequest{}, fmt.Errorf("decode access redeemer: %w", err)
	}
	return requestFromTree(tree)
}

// IsDecodeError reports whether err is (or wraps) a layout DecodeError and
// returns it. Wire-level parse failures are a different class and return
// false.
func IsDecodeError(err error) (*DecodeError, bool) {
	var de *DecodeError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func policyTree(p models.Policy) (plutus.Data, error) {
	if !utf8.ValidString(p.ContextScope) {
		return nil, &EncodeError{Msg: "context scope is not valid UTF-8"}
	}
	proofHash := p.RequiredProofHash
	if proofHash == nil {
		proofHash = []byte{}
	}
	return plutus.NewConstr(0,
		plutus.Bytes(p.OwnerPKH.Bytes()),
		plutus.Integer(p.MinPayment),
		plutus.Integer(p.MaxRetentionMs),
		linkageTree(p.IdentityLinkage),
		plutus.Bytes(proofHash),
		plutus.Bytes([]byte(p.ContextScope)),
	), nil
}

func linkageTree(l models.IdentityLinkage) plutus.Data {
	return plutus.NewConstr(0,
		plutus.Bool(l.EphemeralRequired),
		plutus.Bool(l.ProofOfRootAllowed),
		plutus.Bool(l.ZKContinuityAllowed),
	)
}

func requestTree(r models.AccessRequest) (plutus.Data, error) {
	if !utf8.ValidString(r.RequesterDID) {
		return nil, &EncodeError{Msg: "requester DID is not valid UTF-8"}
	}
	if !utf8.ValidString(r.ProofReference) {
		return nil, &EncodeError{Msg: "proof reference is not valid UTF-8"}
	}
	return plutus.NewConstr(0,
		plutus.Bytes([]byte(r.RequesterDID)),
		plutus.Bytes([]byte(r.ProofReference)),
		plutus.Integer(r.AccessTime),
		plutus.Integer(r.PaymentAmount),
	), nil
}

func policyFromTree(d plutus.Data) (models.Policy, error) {
	fields, err := recordFields(d, "policy", policyFieldCount)
	if err != nil {
		return models.Policy{}, err
	}
	var p models.Policy
	pkh, err := byteField(fields[0], "policy.ownerPkh")
	if err != nil {
		return models.Policy{}, err
	}
	if len(pkh) != models.KeyHashLen {
		return models.Policy{}, decodeErrf(TypeMismatch, "policy.ownerPkh: want %d bytes, got %d", models.KeyHashLen, len(pkh))
	}
	copy(p.OwnerPKH[:], pkh)
	if p.MinPayment, err = intField(fields[1], "policy.minPayment"); err != nil {
		return models.Policy{}, err
	}
	if p.MaxRetentionMs, err = intField(fields[2], "policy.maxRetentionMs"); err != nil {
		return models.Policy{}, err
	}
	if p.IdentityLinkage, err = linkageFromTree(fields[3]); err != nil {
		return models.Policy{}, err
	}
	proofHash, err := byteField(fields[4], "policy.requiredProofHash")
	if err != nil {
		return models.Policy{}, err
	}
	if len(proofHash) > 0 {
		p.RequiredProofHash = proofHash
	}
	scope, err := byteField(fields[5], "policy.contextScope")
	if err != nil {
		return models.Policy{}, err
	}
	if !utf8.Valid(scope) {
		return models.Policy{}, decodeErrf(TypeMismatch, "policy.contextScope: not valid UTF-8")
	}
	p.ContextScope = string(scope)
	return p, nil
}

func linkageFromTree(d plutus.Data) (models.IdentityLinkage, error) {
	fields, err := recordFields(d, "identityLinkage", linkageFieldCount)
	if err != nil {
		return models.IdentityLinkage{}, err
	}
	var l models.IdentityLinkage
	if l.EphemeralRequired, err = boolField(fields[0], "identityLinkage.ephemeralRequired"); err != nil {
		return models.IdentityLinkage{}, err
	}
	if l.ProofOfRootAllowed, err = boolField(fields[1], "identityLinkage.proofOfRootAllowed"); err != nil {
		return models.IdentityLinkage{}, err
	}
	if l.ZKContinuityAllowed, err = boolField(fields[2], "identityLinkage.zkContinuityAllowed"); err != nil {
		return models.IdentityLinkage{}, err
	}
	return l, nil
}

func requestFromTree(d plutus.Data) (models.AccessRequest, error) {
	fields, err := recordFields(d, "accessRequest", requestFieldCount)
	if err != nil {
		return models.AccessRequest{}, err
	}
	var r models.AccessRequest
	did, err := byteField(fields[0], "accessRequest.requesterDid")
	if err != nil {
		return models.AccessRequest{}, err
	}
	if !utf8.Valid(did) {
		return models.AccessRequest{}, decodeErrf(TypeMismatch, "accessRequest.requesterDid: not valid UTF-8")
	}
	r.RequesterDID = string(did)
	proofRef, err := byteField(fields[1], "accessRequest.proofReference")
	if err != nil {
		return models.AccessRequest{}, err
	}
	if !utf8.Valid(proofRef) {
		return models.AccessRequest{}, decodeErrf(TypeMismatch, "accessRequest.proofReference: not valid UTF-8")
	}
	r.ProofReference = string(proofRef)
	if r.AccessTime, err = intField(fields[2], "accessRequest.accessTime"); err != nil {
		return models.AccessRequest{}, err
	}
	if r.PaymentAmount, err = intField(fields[3], "accessRequest.paymentAmount"); err != nil {
		return models.AccessRequest{}, err
	}
	return r, nil
}

// recordFields asserts a record node: constructor index 0 with exactly want
// fields. Every record in the layout uses index 0; only booleans use other
// indexes.
func recordFields(d plutus.Data, name string, want int) ([]plutus.Data, error) {
	switch v := d.(type) {
	case plutus.Constr:
		if v.Index != 0 {
			return nil, decodeErrf(WrongConstructorShape, "%s: want constructor 0, got %d", name, v.Index)
		}
		if len(v.Fields) != want {
			return nil, decodeErrf(WrongFieldCount, "%s: want %d fields, got %d", name, want, len(v.Fields))
		}
		return v.Fields, nil
	case plutus.Integer, plutus.Bytes:
		return nil, decodeErrf(WrongConstructorShape, "%s: want a constructor, got %T", name, v)
	default:
		return nil, decodeErrf(WrongConstructorShape, "%s: want a constructor, got %T", name, v)
	}
}

func boolField(d plutus.Data, name string) (bool, error) {
	switch v := d.(type) {
	case plutus.Constr:
		if len(v.Fields) != 0 {
			return false, decodeErrf(InvalidBoolean, "%s: boolean constructor carries %d fields", name, len(v.Fields))
		}
		switch v.Index {
		case 0:
			return false, nil
		case 1:
			return true, nil
		default:
			return false, decodeErrf(InvalidBoolean, "%s: constructor index %d is not a boolean", name, v.Index)
		}
	case plutus.Integer, plutus.Bytes:
		return false, decodeErrf(InvalidBoolean, "%s: want a boolean constructor, got %T", name, v)
	default:
		return false, decodeErrf(InvalidBoolean, "%s: want a boolean constructor, got %T", name, v)
	}
}

func intField(d plutus.Data, name string) (uint64, error) {
	switch v := d.(type) {
	case plutus.Integer:
		return uint64(v), nil
	case plutus.Constr, plutus.Bytes:
		return 0, decodeErrf(TypeMismatch, "%s: want an integer, got %T", name, v)
	default:
		return 0, decodeErrf(TypeMismatch, "%s: want an integer, got %T", name, v)
	}
}

func byteField(d plutus.Data, name string) ([]byte, error) {
	switch v := d.(type) {
	case plutus.Bytes:
		return []byte(v), nil
	case plutus.Constr, plutus.Integer:
		return nil, decodeErrf(TypeMismatch, "%s: want a byte string, got %T", name, v)
	default:
		return nil, decodeErrf(TypeMismatch, "%s: want a byte string, got %T", name, v)
	}
}
