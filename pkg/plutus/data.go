// Package plutus implements the constructor-tagged data tree used as the
// universal on-chain value representation, and its canonical CBOR wire form.
package plutus

// Data is a node in the constructor tree: a tagged constructor with ordered
// fields, an unsigned integer, or a byte string. The set of variants is
// closed; decode sites switch exhaustively over the three concrete types.
type Data interface {
	isData()
}

// Constr is a constructor node with an integer discriminant and an ordered
// field list. Field order is load-bearing: consumers decode by position.
type Constr struct {
	Index  uint64
	Fields []Data
}

// Integer is an unsigned integer leaf.
type Integer uint64

// Bytes is a byte-string leaf. Text-valued fields are carried as their UTF-8
// byte sequence, not as a chain-native text primitive.
type Bytes []byte

func (Constr) isData()  {}
func (Integer) isData() {}
func (Bytes) isData()   {}

// NewConstr builds a constructor node. A nil field slice and an empty one
// encode identically.
func NewConstr(index uint64, fields ...Data) Constr {
	return Constr{Index: index, Fields: fields}
}

// Bool encodes a boolean the only valid way: Constr 0 with no fields for
// false, Constr 1 with no fields for true.
func Bool(v bool) Constr {
	if v {
		return Constr{Index: 1}
	}
	return Constr{Index: 0}
}

// Equal reports deep structural equality of two trees.
func Equal(a, b Data) bool {
	switch av := a.(type) {
	case Constr:
		bv, ok := b.(Constr)
		if !ok || av.Index != bv.Index || len(av.Fields) != len(bv.Fields) {
			return false
		}
		for i := range av.Fields {
			if !Equal(av.Fields[i], bv.Fields[i]) {
				return false
			}
		}
		return true
	case Integer:
		bv, ok := b.(Integer)
		return ok && av == bv
	case Bytes:
		bv, ok := b.(Bytes)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}
