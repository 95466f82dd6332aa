// Package crc implements the polynomial-parameterized CRC-8 used for
// packet integrity checks.
//
// Ownership boundary:
// - table generation for an arbitrary 8-bit polynomial
// - checksum generation over flat byte sequences
// - validation of sequences carrying a trailing checksum byte
package crc

// DefaultPolynomial is the ATM CRC-8 polynomial (x^8 + x^2 + x + 1).
const DefaultPolynomial byte = 7

// Default is the shared table for DefaultPolynomial. It is immutable
// and safe for concurrent use.
var Default = New(DefaultPolynomial)

// Table holds the precomputed lookup table for one polynomial.
type Table struct {
	polynomial byte
	entries    [256]byte
}

// New builds the lookup table for polynomial.
func New(polynomial byte) *Table {
	t := &Table{polynomial: polynomial}
	for i := range t.entries {
		t.entries[i] = byteCRC(byte(i), polynomial)
	}
	return t
}

// Polynomial returns the polynomial this table was built from.
func (t *Table) Polynomial() byte {
	return t.polynomial
}

// Generate computes the CRC byte for data.
func (t *Table) Generate(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = t.entries[b^crc]
	}
	return crc
}

// Validate reports whether the final byte of data is the correct CRC
// for the bytes preceding it. Empty input never validates.
func (t *Table) Validate(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	return t.Generate(data[:len(data)-1]) == data[len(data)-1]
}

func byteCRC(v, polynomial byte) byte {
	cur := uint16(v)
	for i := 0; i < 8; i++ {
		cur <<= 1
		if cur&0x100 != 0 {
			cur = (cur & 0xff) ^ uint16(polynomial)
		}
	}
	return byte(cur)
}
