package crc

import "testing"

func TestGenerateKnownValue(t *testing.T) {
	// CRC-8/ATM check value for "123456789".
	got := Default.Generate([]byte("123456789"))
	if got != 0xf4 {
		t.Fatalf("expected 0xf4, got 0x%02x", got)
	}
}

func TestGenerateEmpty(t *testing.T) {
	if got := Default.Generate(nil); got != 0 {
		t.Fatalf("expected 0 for empty input, got 0x%02x", got)
	}
}

func TestValidate(t *testing.T) {
	data := []byte{72, 0, 1, 72, 3, 1, 2, 3}
	signed := append(append([]byte{}, data...), Default.Generate(data))

	if !Default.Validate(signed) {
		t.Fatalf("expected valid checksum")
	}
	signed[2] ^= 0x10
	if Default.Validate(signed) {
		t.Fatalf("expected corrupted packet to fail validation")
	}
	if Default.Validate(nil) {
		t.Fatalf("expected empty input to fail validation")
	}
}

func TestSingleBitErrorDetection(t *testing.T) {
	data := []byte{0x48, 0x00, 0x01, 0x48, 0x03, 0x01, 0x02, 0x03}
	signed := append(append([]byte{}, data...), Default.Generate(data))

	for i := range signed {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte{}, signed...)
			flipped[i] ^= 1 << bit
			if Default.Validate(flipped) {
				t.Fatalf("bit flip at byte %d bit %d went undetected", i, bit)
			}
		}
	}
}

func TestAlternatePolynomial(t *testing.T) {
	// Dallas-Maxim polynomial (0x31) must produce a different table.
	dm := New(0x31)
	if dm.Polynomial() != 0x31 {
		t.Fatalf("polynomial not retained")
	}
	data := []byte{1, 2, 3, 4}
	if dm.Generate(data) == Default.Generate(data) {
		t.Fatalf("tables for distinct polynomials agree unexpectedly")
	}
	signed := append(append([]byte{}, data...), dm.Generate(data))
	if !dm.Validate(signed) {
		t.Fatalf("expected valid checksum for alternate polynomial")
	}
}
