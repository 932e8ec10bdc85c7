package codec

import "fmt"

// DecodeErrorKind classifies how a well-formed constructor tree failed to
// match the expected record layout.
type DecodeErrorKind string

const (
	WrongFieldCount       DecodeErrorKind = "WRONG_FIELD_COUNT"
	WrongConstructorShape DecodeErrorKind = "WRONG_CONSTRUCTOR_SHAPE"
	TypeMismatch          DecodeErrorKind = "TYPE_MISMATCH"
	InvalidBoolean        DecodeErrorKind = "INVALID_BOOLEAN"
)

// DecodeError reports malformed or adversarial datum/redeemer input. It is
// always recoverable: callers reject the input, they do not crash, and they
// must never fold it into a validation outcome.
type DecodeError struct {
	Kind DecodeErrorKind
	Msg  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: %s: %s", e.Kind, e.Msg)
}

func decodeErrf(kind DecodeErrorKind, format string, args ...any) error {
	return &DecodeError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// EncodeError signals a domain value that cannot be represented on the wire.
// Given the type invariants it marks a programming defect, not a condition
// callers should handle.
type EncodeError struct {
	Msg string
}

func (e *EncodeError) Error() string {
	return "codec: " + e.Msg
}
