package packet

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated        = errors.New("packet: truncated input")
	ErrChecksumMismatch = errors.New("packet: checksum mismatch")
)

// DefinitionError reports a malformed template at build time.
type DefinitionError struct {
	Template string
	Reason   string
}

func (e DefinitionError) Error() string {
	if e.Template == "" {
		return fmt.Sprintf("packet: invalid template: %s", e.Reason)
	}
	return fmt.Sprintf("packet: invalid template %q: %s", e.Template, e.Reason)
}

// MissingFieldError indicates a required key was absent at encode time.
type MissingFieldError struct {
	Template string
	Key      string
}

func (e MissingFieldError) Error() string {
	if e.Template == "" {
		return fmt.Sprintf("packet: field %q not found", e.Key)
	}
	return fmt.Sprintf("packet: field %q not found in template %q", e.Key, e.Template)
}

// ValueRangeError indicates a value does not fit the declared width.
type ValueRangeError struct {
	Key   string
	Value string
	Bits  int
}

func (e ValueRangeError) Error() string {
	return fmt.Sprintf("packet: value %s for field %q does not fit in %d bits", e.Value, e.Key, e.Bits)
}

// FieldTypeError indicates an encode value of an unusable Go type.
type FieldTypeError struct {
	Key string
	Got any
}

func (e FieldTypeError) Error() string {
	return fmt.Sprintf("packet: field %q has unusable type %T", e.Key, e.Got)
}

// TruncatedError reports decode input shorter than a token requires.
type TruncatedError struct {
	Key  string
	Need int
	Have int
}

func (e TruncatedError) Error() string {
	return fmt.Sprintf("packet: truncated input at field %q: need %d bytes, have %d", e.Key, e.Need, e.Have)
}

func (e TruncatedError) Unwrap() error { return ErrTruncated }

// InvalidLengthError reports a decoded length inconsistent with the
// bytes actually remaining.
type InvalidLengthError struct {
	Key       string
	Length    int
	Remaining int
}

func (e InvalidLengthError) Error() string {
	return fmt.Sprintf("packet: length %d at field %q inconsistent with %d remaining bytes", e.Length, e.Key, e.Remaining)
}

// ChecksumError reports a CRC mismatch during decode. It is non-fatal:
// the decoded mapping is still returned alongside it.
type ChecksumError struct {
	Key  string
	Want byte
	Got  byte
}

func (e ChecksumError) Error() string {
	return fmt.Sprintf("packet: checksum mismatch at field %q: computed 0x%02x, transmitted 0x%02x", e.Key, e.Want, e.Got)
}

func (e ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// UnknownKeyError reports a point lookup for a key the template does
// not define.
type UnknownKeyError struct {
	Template string
	Key      string
}

func (e UnknownKeyError) Error() string {
	if e.Template == "" {
		return fmt.Sprintf("packet: unknown field %q", e.Key)
	}
	return fmt.Sprintf("packet: unknown field %q in template %q", e.Key, e.Template)
}
