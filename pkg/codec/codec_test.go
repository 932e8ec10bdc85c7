package codec

import (
	"bytes"
	"strings"
	"testing"

	"spal/pkg/models"
	"spal/pkg/plutus"
)

func testKeyHash(t *testing.T, fill byte) models.KeyHash {
	t.Helper()
	var kh models.KeyHash
	for i := range kh {
		kh[i] = fill
	}
	return kh
}

func samplePolicy(t *testing.T) models.Policy {
	t.Helper()
	return models.Policy{
		ID:             "pol-health-1",
		OwnerPKH:       testKeyHash(t, 0x11),
		MinPayment:     2_000_000,
		MaxRetentionMs: 86_400_000,
		IdentityLinkage: models.IdentityLinkage{
			EphemeralRequired:   true,
			ProofOfRootAllowed:  false,
			ZKContinuityAllowed: true,
		},
		RequiredProofHash: []byte{0xab, 0xcd, 0x12, 0x34},
		ContextScope:      "health/records.lab",
	}
}

func TestPolicyRoundTrip(t *testing.T) {
	p := samplePolicy(t)
	raw, err := EncodePolicy(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodePolicy(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// ID never reaches the wire and is undefined after decode.
	if back.ID != "" {
		t.Fatalf("decoded policy must not carry an id, got %q", back.ID)
	}
	p.ID = ""
	if back.OwnerPKH != p.OwnerPKH ||
		back.MinPayment != p.MinPayment ||
		back.MaxRetentionMs != p.MaxRetentionMs ||
		back.IdentityLinkage != p.IdentityLinkage ||
		!bytes.Equal(back.RequiredProofHash, p.RequiredProofHash) ||
		back.ContextScope != p.ContextScope {
		t.Fatalf("round-trip mismatch: %+v != %+v", back, p)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	r := models.AccessRequest{
		RequesterDID:   "did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK",
		ProofReference: "midnight:tx:4f1a",
		AccessTime:     1_700_000_000_000,
		PaymentAmount:  2_000_000,
	}
	raw, err := EncodeRequest(r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodeRequest(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back != r {
		t.Fatalf("round-trip mismatch: %+v != %+v", back, r)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	p := samplePolicy(t)
	a, err := EncodePolicy(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, err := EncodePolicy(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("two encodes of the same policy differ")
	}
	// The id is off-chain only: changing it must not change the datum.
	p.ID = "another-handle"
	c, err := EncodePolicy(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(a, c) {
		t.Fatalf("id participated in the encoded form")
	}
}

func TestEncodeInjectivity(t *testing.T) {
	base := samplePolicy(t)
	variants := []func(*models.Policy){
		func(p *models.Policy) { p.OwnerPKH = testKeyHash(t, 0x22) },
		func(p *models.Policy) { p.MinPayment++ },
		func(p *models.Policy) { p.MaxRetentionMs++ },
		func(p *models.Policy) { p.IdentityLinkage.EphemeralRequired = false },
		func(p *models.Policy) { p.IdentityLinkage.ProofOfRootAllowed = true },
		func(p *models.Policy) { p.RequiredProofHash = nil },
		func(p *models.Policy) { p.ContextScope = "health/records.imaging" },
	}
	baseRaw, err := EncodePolicy(base)
	if err != nil {
		t.Fatalf("encode base: %v", err)
	}
	for i, mutate := range variants {
		p := samplePolicy(t)
		mutate(&p)
		raw, err := EncodePolicy(p)
		if err != nil {
			t.Fatalf("encode variant %d: %v", i, err)
		}
		if bytes.Equal(baseRaw, raw) {
			t.Fatalf("variant %d encoded identically to base", i)
		}
	}
}

func TestContextScopeDistinguishesPolicies(t *testing.T) {
	a := samplePolicy(t)
	b := samplePolicy(t)
	b.ContextScope = "finance/ledger"
	rawA, err := EncodePolicy(a)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	rawB, err := EncodePolicy(b)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if bytes.Equal(rawA, rawB) {
		t.Fatalf("policies differing only in contextScope encoded identically")
	}
}

func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	p := samplePolicy(t)
	p.ContextScope = string([]byte{0xff, 0xfe})
	if _, err := EncodePolicy(p); err == nil {
		t.Fatalf("expected EncodeError for invalid UTF-8 scope")
	} else if _, ok := err.(*EncodeError); !ok {
		t.Fatalf("expected *EncodeError, got %T", err)
	}
}

func decodeKind(t *testing.T, err error) DecodeErrorKind {
	t.Helper()
	if err == nil {
		t.Fatalf("expected a decode error")
	}
	de, ok := IsDecodeError(err)
	if !ok {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	return de.Kind
}

func TestDecodeWrongFieldCounts(t *testing.T) {
	// Policy with 5 fields instead of 6.
	p := samplePolicy(t)
	tree, err := policyTree(p)
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	c := tree.(plutus.Constr)
	c.Fields = c.Fields[:5]
	if kind := decodeKindFromTree(t, c, decodePolicyTree); kind != WrongFieldCount {
		t.Fatalf("policy: expected WrongFieldCount, got %s", kind)
	}

	// Linkage with 2 fields instead of 3.
	c = tree.(plutus.Constr)
	fields := append([]plutus.Data(nil), c.Fields...)
	fields[3] = plutus.NewConstr(0, plutus.Bool(true), plutus.Bool(false))
	c.Fields = fields
	if kind := decodeKindFromTree(t, c, decodePolicyTree); kind != WrongFieldCount {
		t.Fatalf("linkage: expected WrongFieldCount, got %s", kind)
	}

	// Request with 3 fields instead of 4.
	rc := plutus.NewConstr(0, plutus.Bytes([]byte("did:key:abc")), plutus.Bytes(nil), plutus.Integer(1))
	if kind := decodeKindFromTree(t, rc, decodeRequestTree); kind != WrongFieldCount {
		t.Fatalf("request: expected WrongFieldCount, got %s", kind)
	}
}

func decodePolicyTree(raw []byte) error {
	_, err := DecodePolicy(raw)
	return err
}

func decodeRequestTree(raw []byte) error {
	_, err := DecodeRequest(raw)
	return err
}

func decodeKindFromTree(t *testing.T, tree plutus.Data, decode func([]byte) error) DecodeErrorKind {
	t.Helper()
	return decodeKind(t, decode(plutus.Encode(tree)))
}

func TestDecodeWrongConstructorIndex(t *testing.T) {
	p := samplePolicy(t)
	tree, err := policyTree(p)
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	c := tree.(plutus.Constr)
	c.Index = 1
	if kind := decodeKindFromTree(t, c, decodePolicyTree); kind != WrongConstructorShape {
		t.Fatalf("expected WrongConstructorShape, got %s", kind)
	}
	// A bare leaf where a record is expected.
	if kind := decodeKindFromTree(t, plutus.Integer(7), decodePolicyTree); kind != WrongConstructorShape {
		t.Fatalf("leaf: expected WrongConstructorShape, got %s", kind)
	}
}

func TestDecodeTypeMismatch(t *testing.T) {
	p := samplePolicy(t)
	tree, _ := policyTree(p)
	c := tree.(plutus.Constr)
	fields := append([]plutus.Data(nil), c.Fields...)
	fields[1] = plutus.Bytes([]byte("not-an-int"))
	c.Fields = fields
	if kind := decodeKindFromTree(t, c, decodePolicyTree); kind != TypeMismatch {
		t.Fatalf("expected TypeMismatch, got %s", kind)
	}

	// Owner key hash with the wrong length.
	c = tree.(plutus.Constr)
	fields = append([]plutus.Data(nil), c.Fields...)
	fields[0] = plutus.Bytes([]byte{1, 2, 3})
	c.Fields = fields
	if kind := decodeKindFromTree(t, c, decodePolicyTree); kind != TypeMismatch {
		t.Fatalf("short pkh: expected TypeMismatch, got %s", kind)
	}
}

func TestDecodeInvalidBoolean(t *testing.T) {
	p := samplePolicy(t)
	tree, _ := policyTree(p)
	c := tree.(plutus.Constr)
	fields := append([]plutus.Data(nil), c.Fields...)
	// Constructor index 2 is not a boolean.
	fields[3] = plutus.NewConstr(0, plutus.NewConstr(2), plutus.Bool(false), plutus.Bool(true))
	c.Fields = fields
	if kind := decodeKindFromTree(t, c, decodePolicyTree); kind != InvalidBoolean {
		t.Fatalf("expected InvalidBoolean, got %s", kind)
	}

	// A boolean constructor must carry no fields.
	fields = append([]plutus.Data(nil), (tree.(plutus.Constr)).Fields...)
	fields[3] = plutus.NewConstr(0, plutus.Constr{Index: 1, Fields: []plutus.Data{plutus.Integer(1)}}, plutus.Bool(false), plutus.Bool(true))
	c = tree.(plutus.Constr)
	c.Fields = fields
	if kind := decodeKindFromTree(t, c, decodePolicyTree); kind != InvalidBoolean {
		t.Fatalf("payloaded bool: expected InvalidBoolean, got %s", kind)
	}
}

func TestMalformedBytesAreNotDecodeErrors(t *testing.T) {
	_, err := DecodePolicy([]byte{0xd8})
	if err == nil {
		t.Fatalf("expected error for truncated bytes")
	}
	if _, ok := IsDecodeError(err); ok {
		t.Fatalf("wire-level parse failure must not be a layout DecodeError")
	}
	if !strings.Contains(err.Error(), "decode policy datum") {
		t.Fatalf("expected wrapped context, got %v", err)
	}
}

func TestEmptyProofHashMeansAbsent(t *testing.T) {
	p := samplePolicy(t)
	p.RequiredProofHash = []byte{}
	raw, err := EncodePolicy(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodePolicy(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.RequiresProof() {
		t.Fatalf("empty proof hash must decode as absent")
	}
	if back.RequiredProofHash != nil {
		t.Fatalf("absent proof hash must be nil, got %v", back.RequiredProofHash)
	}
}
