package packet

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/packetforge-io/packetforge/internal/packet/crc"
)

// Token is a single field definition within a template. The variant
// set is closed; tokens are immutable and safe for concurrent reuse
// across templates and calls.
type Token interface {
	// Key returns the token's name in the field mapping, or "" for an
	// unnamed token.
	Key() string
	// Kind returns the variant name for diagnostics.
	Kind() string

	check() error
	// width returns the encoded width in bytes and whether it is fixed.
	width() (int, bool)
	decode(w *walk) (any, int, error)
}

// valueToken is the capability of encoding from the field mapping.
type valueToken interface {
	Token
	encodeValue(fields FieldMap, tmplName string) ([]byte, error)
}

// postToken is the capability of encoding from the in-process packet.
// Its slot stays a placeholder until the pass that resolves its kind.
type postToken interface {
	Token
	postKind() postKind
	resolve(segs []segment, self int) ([]byte, error)
}

type postKind int

const (
	postLength postKind = iota + 1
	postChecksum
)

// Uint declares a big-endian unsigned integer of size bytes.
func Uint(key string, size int) Token {
	return &uintToken{key: key, size: size}
}

// Int declares a big-endian two's-complement integer of size bytes.
func Int(key string, size int) Token {
	return &intToken{key: key, size: size}
}

// Fixed declares a signed fixed-point value with intBits integer bits
// (sign included) and fracBits fractional bits; the total width must
// be a whole number of bytes.
func Fixed(key string, intBits, fracBits int) Token {
	return &fixedToken{key: key, intBits: intBits, fracBits: fracBits}
}

// List declares a variable-width token that passes an already-ordered
// byte sequence through verbatim.
func List(key string) Token {
	return &listToken{key: key}
}

// String declares a variable-width token carrying text bytes.
func String(key string) Token {
	return &stringToken{key: key}
}

// Embedded declares a variable-width token that flattens an
// already-encoded sub-packet into the parent position.
func Embedded(key string) Token {
	return &embeddedToken{key: key}
}

// Nested declares a token that encodes a sub-mapping with child and
// splices the result into the parent position.
func Nested(key string, child *Template) Token {
	return &nestedToken{key: key, child: child}
}

// Length declares a post-processing token encoding the byte count of
// the sibling tokens following it. With countSelf the token's own
// width is included in the count.
func Length(key string, size int, countSelf bool) Token {
	return &lengthToken{key: key, size: size, countSelf: countSelf}
}

// Checksum declares a 1-byte CRC over the sibling bytes preceding it,
// using the default polynomial.
func Checksum(key string) Token {
	return ChecksumPoly(key, crc.DefaultPolynomial)
}

// ChecksumPoly is Checksum with an explicit CRC polynomial.
func ChecksumPoly(key string, polynomial byte) Token {
	return &checksumToken{key: key, table: crc.New(polynomial)}
}

// ---- unsigned integer ----

type uintToken struct {
	key  string
	size int
}

func (t *uintToken) Key() string        { return t.key }
func (t *uintToken) Kind() string       { return "uint" }
func (t *uintToken) width() (int, bool) { return t.size, true }

func (t *uintToken) check() error {
	return checkByteSize(t.size)
}

func (t *uintToken) encodeValue(fields FieldMap, tmplName string) ([]byte, error) {
	v, ok := fields[t.key]
	if !ok {
		return nil, MissingFieldError{Template: tmplName, Key: t.key}
	}
	u, err := toUint64(t.key, v, t.size*8)
	if err != nil {
		return nil, err
	}
	return uintBytes(u, t.size), nil
}

func (t *uintToken) decode(w *walk) (any, int, error) {
	b, err := w.take(t.size, t.key)
	if err != nil {
		return nil, 0, err
	}
	return uintFrom(b), t.size, nil
}

// ---- signed integer ----

type intToken struct {
	key  string
	size int
}

func (t *intToken) Key() string        { return t.key }
func (t *intToken) Kind() string       { return "int" }
func (t *intToken) width() (int, bool) { return t.size, true }

func (t *intToken) check() error {
	return checkByteSize(t.size)
}

func (t *intToken) encodeValue(fields FieldMap, tmplName string) ([]byte, error) {
	v, ok := fields[t.key]
	if !ok {
		return nil, MissingFieldError{Template: tmplName, Key: t.key}
	}
	n, err := toInt64(t.key, v, t.size*8)
	if err != nil {
		return nil, err
	}
	return uintBytes(uint64(n)&mask(t.size*8), t.size), nil
}

func (t *intToken) decode(w *walk) (any, int, error) {
	b, err := w.take(t.size, t.key)
	if err != nil {
		return nil, 0, err
	}
	return signExtend(uintFrom(b), t.size*8), t.size, nil
}

// ---- fixed point ----

type fixedToken struct {
	key      string
	intBits  int
	fracBits int
}

func (t *fixedToken) Key() string  { return t.key }
func (t *fixedToken) Kind() string { return "fixed" }

func (t *fixedToken) width() (int, bool) { return (t.intBits + t.fracBits) / 8, true }

func (t *fixedToken) check() error {
	total := t.intBits + t.fracBits
	switch {
	case t.intBits < 1:
		return fmt.Errorf("fixed point needs at least 1 integer bit, got %d", t.intBits)
	case t.fracBits < 0:
		return fmt.Errorf("fixed point fractional bits must not be negative, got %d", t.fracBits)
	case total%8 != 0:
		return fmt.Errorf("fixed point width %d bits is not byte aligned", total)
	case total > 64:
		return fmt.Errorf("fixed point width %d bits exceeds 64", total)
	}
	return nil
}

func (t *fixedToken) encodeValue(fields FieldMap, tmplName string) ([]byte, error) {
	v, ok := fields[t.key]
	if !ok {
		return nil, MissingFieldError{Template: tmplName, Key: t.key}
	}
	f, err := toFloat64(t.key, v)
	if err != nil {
		return nil, err
	}
	bits := t.intBits + t.fracBits
	scaled := math.Trunc(f * float64(uint64(1)<<t.fracBits))
	limit := math.Ldexp(1, bits-1)
	if scaled >= limit || scaled < -limit {
		return nil, ValueRangeError{Key: t.key, Value: strconv.FormatFloat(f, 'g', -1, 64), Bits: bits}
	}
	return uintBytes(uint64(int64(scaled))&mask(bits), bits/8), nil
}

func (t *fixedToken) decode(w *walk) (any, int, error) {
	size, _ := t.width()
	b, err := w.take(size, t.key)
	if err != nil {
		return nil, 0, err
	}
	raw := signExtend(uintFrom(b), t.intBits+t.fracBits)
	return float64(raw) / float64(uint64(1)<<t.fracBits), size, nil
}

// ---- pass-through list ----

type listToken struct {
	key string
}

func (t *listToken) Key() string        { return t.key }
func (t *listToken) Kind() string       { return "list" }
func (t *listToken) check() error       { return nil }
func (t *listToken) width() (int, bool) { return 0, false }

func (t *listToken) encodeValue(fields FieldMap, tmplName string) ([]byte, error) {
	v, ok := fields[t.key]
	if !ok {
		return nil, MissingFieldError{Template: tmplName, Key: t.key}
	}
	out := make([]byte, 0, 16)
	if err := flattenInto(&out, t.key, v); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *listToken) decode(w *walk) (any, int, error) {
	n, err := w.extent(t.key)
	if err != nil {
		return nil, 0, err
	}
	b, err := w.take(n, t.key)
	if err != nil {
		return nil, 0, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, n, nil
}

// ---- text ----

type stringToken struct {
	key string
}

func (t *stringToken) Key() string        { return t.key }
func (t *stringToken) Kind() string       { return "string" }
func (t *stringToken) check() error       { return nil }
func (t *stringToken) width() (int, bool) { return 0, false }

func (t *stringToken) encodeValue(fields FieldMap, tmplName string) ([]byte, error) {
	v, ok := fields[t.key]
	if !ok {
		return nil, MissingFieldError{Template: tmplName, Key: t.key}
	}
	switch s := v.(type) {
	case string:
		return []byte(s), nil
	case []byte:
		out := make([]byte, len(s))
		copy(out, s)
		return out, nil
	}
	return nil, FieldTypeError{Key: t.key, Got: v}
}

func (t *stringToken) decode(w *walk) (any, int, error) {
	n, err := w.extent(t.key)
	if err != nil {
		return nil, 0, err
	}
	b, err := w.take(n, t.key)
	if err != nil {
		return nil, 0, err
	}
	return string(b), n, nil
}

// ---- embedded packet ----

type embeddedToken struct {
	key string
}

func (t *embeddedToken) Key() string        { return t.key }
func (t *embeddedToken) Kind() string       { return "packet" }
func (t *embeddedToken) check() error       { return nil }
func (t *embeddedToken) width() (int, bool) { return 0, false }

func (t *embeddedToken) encodeValue(fields FieldMap, tmplName string) ([]byte, error) {
	v, ok := fields[t.key]
	if !ok {
		return nil, MissingFieldError{Template: tmplName, Key: t.key}
	}
	out := make([]byte, 0, 16)
	if err := flattenInto(&out, t.key, v); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *embeddedToken) decode(w *walk) (any, int, error) {
	n, err := w.extent(t.key)
	if err != nil {
		return nil, 0, err
	}
	b, err := w.take(n, t.key)
	if err != nil {
		return nil, 0, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, n, nil
}

// ---- nested template ----

type nestedToken struct {
	key   string
	child *Template
}

func (t *nestedToken) Key() string  { return t.key }
func (t *nestedToken) Kind() string { return "template" }

func (t *nestedToken) check() error {
	if t.child == nil {
		return fmt.Errorf("nested template reference is nil")
	}
	return nil
}

func (t *nestedToken) width() (int, bool) {
	if t.child == nil {
		return 0, false
	}
	return t.child.fixedWidth()
}

func (t *nestedToken) encodeValue(fields FieldMap, tmplName string) ([]byte, error) {
	v, ok := fields[t.key]
	if !ok {
		return nil, MissingFieldError{Template: tmplName, Key: t.key}
	}
	var sub FieldMap
	switch m := v.(type) {
	case FieldMap:
		sub = m
	case map[string]any:
		sub = FieldMap(m)
	default:
		return nil, FieldTypeError{Key: t.key, Got: v}
	}
	p, err := t.child.Encode(sub)
	if err != nil {
		return nil, err
	}
	return p.data, nil
}

func (t *nestedToken) decode(w *walk) (any, int, error) {
	var n int
	if fixed, ok := t.width(); ok {
		n = fixed
	} else {
		var err error
		if n, err = w.extent(t.key); err != nil {
			return nil, 0, err
		}
	}
	b, err := w.take(n, t.key)
	if err != nil {
		return nil, 0, err
	}
	sub, rem, err := t.child.Decode(b)
	if err != nil && !errors.Is(err, ErrChecksumMismatch) {
		return nil, 0, err
	}
	if len(rem) != 0 {
		return nil, 0, InvalidLengthError{Key: t.key, Length: n, Remaining: len(rem)}
	}
	// A child checksum mismatch is non-fatal; the child mapping still
	// comes back with it.
	return sub, n, err
}

// ---- length ----

type lengthToken struct {
	key       string
	size      int
	countSelf bool
}

func (t *lengthToken) Key() string        { return t.key }
func (t *lengthToken) Kind() string       { return "length" }
func (t *lengthToken) width() (int, bool) { return t.size, true }
func (t *lengthToken) postKind() postKind { return postLength }

func (t *lengthToken) check() error {
	return checkByteSize(t.size)
}

func (t *lengthToken) resolve(segs []segment, self int) ([]byte, error) {
	count := 0
	for _, seg := range segs[self+1:] {
		if seg.pending {
			continue
		}
		count += len(seg.bytes)
	}
	if t.countSelf {
		count += t.size
	}
	bits := t.size * 8
	if bits < 64 && uint64(count) >= uint64(1)<<bits {
		return nil, ValueRangeError{Key: t.key, Value: strconv.Itoa(count), Bits: bits}
	}
	return uintBytes(uint64(count), t.size), nil
}

func (t *lengthToken) decode(w *walk) (any, int, error) {
	b, err := w.take(t.size, t.key)
	if err != nil {
		return nil, 0, err
	}
	n := int(uintFrom(b))
	governed := n
	if t.countSelf {
		governed -= t.size
	}
	if governed < 0 || governed > len(w.data)-w.off-t.size {
		return nil, 0, InvalidLengthError{Key: t.key, Length: n, Remaining: len(w.data) - w.off - t.size}
	}
	w.grant(governed)
	return n, t.size, nil
}

// ---- checksum ----

type checksumToken struct {
	key   string
	table *crc.Table
}

func (t *checksumToken) Key() string        { return t.key }
func (t *checksumToken) Kind() string       { return "checksum" }
func (t *checksumToken) check() error       { return nil }
func (t *checksumToken) width() (int, bool) { return 1, true }
func (t *checksumToken) postKind() postKind { return postChecksum }

func (t *checksumToken) resolve(segs []segment, self int) ([]byte, error) {
	covered := make([]byte, 0, 16)
	for i, seg := range segs {
		if i == self || seg.pending {
			continue
		}
		covered = append(covered, seg.bytes...)
	}
	return []byte{t.table.Generate(covered)}, nil
}

func (t *checksumToken) decode(w *walk) (any, int, error) {
	b, err := w.take(1, t.key)
	if err != nil {
		return nil, 0, err
	}
	want := t.table.Generate(w.data[:w.off])
	if got := b[0]; got != want {
		return nil, 1, ChecksumError{Key: t.key, Want: want, Got: got}
	}
	return nil, 1, nil
}

// ---- numeric helpers ----

func checkByteSize(size int) error {
	if size < 1 || size > 8 {
		return fmt.Errorf("byte width must be between 1 and 8, got %d", size)
	}
	return nil
}

func mask(bits int) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<bits - 1
}

func uintBytes(v uint64, size int) []byte {
	out := make([]byte, size)
	for i := size - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

func uintFrom(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func signExtend(v uint64, bits int) int64 {
	if bits < 64 && v&(uint64(1)<<(bits-1)) != 0 {
		v |= ^mask(bits)
	}
	return int64(v)
}

func toUint64(key string, v any, bits int) (uint64, error) {
	var u uint64
	switch x := v.(type) {
	case uint64:
		u = x
	case uint:
		u = uint64(x)
	default:
		n, ok := intScalar(v)
		if !ok {
			return 0, FieldTypeError{Key: key, Got: v}
		}
		if n < 0 {
			return 0, ValueRangeError{Key: key, Value: formatInt(n), Bits: bits}
		}
		u = uint64(n)
	}
	if bits < 64 && u >= uint64(1)<<bits {
		return 0, ValueRangeError{Key: key, Value: strconv.FormatUint(u, 10), Bits: bits}
	}
	return u, nil
}

func toInt64(key string, v any, bits int) (int64, error) {
	n, ok := intScalar(v)
	if !ok {
		return 0, FieldTypeError{Key: key, Got: v}
	}
	limit := int64(1) << (bits - 1)
	if bits < 64 && (n >= limit || n < -limit) {
		return 0, ValueRangeError{Key: key, Value: formatInt(n), Bits: bits}
	}
	return n, nil
}

func toFloat64(key string, v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	}
	if n, ok := intScalar(v); ok {
		return float64(n), nil
	}
	return 0, FieldTypeError{Key: key, Got: v}
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
