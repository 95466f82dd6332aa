package packet

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/packetforge-io/packetforge/internal/packet/crc"
	"github.com/packetforge-io/packetforge/internal/testutil/testlog"
)

func frameTemplate(t *testing.T) *Template {
	t.Helper()
	tmpl, err := NewTemplate("frame",
		Uint("start", 1),
		Uint("addr", 2),
		Uint("port", 1),
		Length("len", 1, false),
		Embedded("payload"),
		Checksum("crc"),
	)
	require.NoError(t, err)
	return tmpl
}

func TestFrameEncode(t *testing.T) {
	testlog.Start(t)
	tmpl := frameTemplate(t)

	p, err := tmpl.Encode(FieldMap{
		"start":   72,
		"addr":    1,
		"port":    72,
		"payload": []byte{1, 2, 3},
	})
	require.NoError(t, err)

	body := []byte{72, 0, 1, 72, 3, 1, 2, 3}
	want := append(append([]byte{}, body...), crc.Default.Generate(body))
	require.Equal(t, want, p.Bytes())
	require.Equal(t, tmpl, p.Template())
}

func TestFrameDecode(t *testing.T) {
	testlog.Start(t)
	tmpl := frameTemplate(t)

	p, err := tmpl.Encode(FieldMap{
		"start":   72,
		"addr":    1,
		"port":    72,
		"payload": []byte{1, 2, 3},
	})
	require.NoError(t, err)

	fields, rem, err := tmpl.Decode(p.Bytes())
	require.NoError(t, err)
	require.Empty(t, rem)
	require.Equal(t, FieldMap{
		"start":   uint64(72),
		"addr":    uint64(1),
		"port":    uint64(72),
		"len":     3,
		"payload": []byte{1, 2, 3},
	}, fields)
}

func TestDecodeRemainderEnablesChaining(t *testing.T) {
	tmpl := frameTemplate(t)

	p, err := tmpl.Encode(FieldMap{
		"start": 72, "addr": 1, "port": 72, "payload": []byte{1, 2, 3},
	})
	require.NoError(t, err)

	extra := append(p.Bytes(), 9, 9)
	_, rem, err := tmpl.Decode(extra)
	require.NoError(t, err)
	require.Equal(t, []byte{9, 9}, rem)
}

func TestDecodeChecksumMismatchReturnsFields(t *testing.T) {
	tmpl := frameTemplate(t)

	p, err := tmpl.Encode(FieldMap{
		"start": 72, "addr": 1, "port": 72, "payload": []byte{1, 2, 3},
	})
	require.NoError(t, err)

	corrupted := p.Bytes()
	corrupted[5] ^= 0xff

	fields, rem, err := tmpl.Decode(corrupted)
	require.ErrorIs(t, err, ErrChecksumMismatch)
	var ce ChecksumError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "crc", ce.Key)
	require.Empty(t, rem)
	require.NotNil(t, fields)
	require.Equal(t, uint64(72), fields["start"])
}

func TestDecodeSingleBitFlipsDetected(t *testing.T) {
	tmpl := frameTemplate(t)

	p, err := tmpl.Encode(FieldMap{
		"start": 72, "addr": 1, "port": 72, "payload": []byte{1, 2, 3},
	})
	require.NoError(t, err)
	good := p.Bytes()

	for i := range good {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte{}, good...)
			flipped[i] ^= 1 << bit
			_, _, err := tmpl.Decode(flipped)
			if err == nil {
				t.Fatalf("flip at byte %d bit %d decoded cleanly", i, bit)
			}
		}
	}
}

func TestLengthCountsFollowingBytes(t *testing.T) {
	payload := make([]byte, 25)
	for i := range payload {
		payload[i] = byte(i)
	}

	tmpl, err := NewTemplate("", Length("len", 1, false), List("data"))
	require.NoError(t, err)
	p, err := tmpl.Encode(FieldMap{"data": payload})
	require.NoError(t, err)
	require.Equal(t, byte(25), p.Bytes()[0])

	withSelf, err := NewTemplate("", Length("len", 1, true), List("data"))
	require.NoError(t, err)
	p, err = withSelf.Encode(FieldMap{"data": payload})
	require.NoError(t, err)
	require.Equal(t, byte(26), p.Bytes()[0])

	fields, rem, err := withSelf.Decode(p.Bytes())
	require.NoError(t, err)
	require.Empty(t, rem)
	require.Equal(t, 26, fields["len"])
	require.Equal(t, payload, fields["data"])
}

func TestLengthGovernsFixedFieldAfterVariable(t *testing.T) {
	tmpl, err := NewTemplate("", Length("len", 1, false), List("data"), Uint("x", 1))
	require.NoError(t, err)

	p, err := tmpl.Encode(FieldMap{"data": []byte{1, 2}, "x": 5})
	require.NoError(t, err)
	require.Equal(t, []byte{3, 1, 2, 5}, p.Bytes())

	fields, rem, err := tmpl.Decode(p.Bytes())
	require.NoError(t, err)
	require.Empty(t, rem)
	require.Equal(t, 3, fields["len"])
	require.Equal(t, []byte{1, 2}, fields["data"])
	require.Equal(t, uint64(5), fields["x"])

	var lenErr InvalidLengthError
	_, _, err = tmpl.Decode([]byte{0, 1, 2, 5})
	require.ErrorAs(t, err, &lenErr)
	require.Equal(t, "data", lenErr.Key)
}

func TestLengthGovernsFixedFieldBeforeVariable(t *testing.T) {
	tmpl, err := NewTemplate("", Length("len", 1, false),
		Uint("x", 1), List("data"), Checksum("crc"))
	require.NoError(t, err)

	p, err := tmpl.Encode(FieldMap{"x": 5, "data": []byte{1, 2}})
	require.NoError(t, err)
	require.Len(t, p.Bytes(), 5)
	require.Equal(t, []byte{3, 5, 1, 2}, p.Bytes()[:4])

	fields, rem, err := tmpl.Decode(p.Bytes())
	require.NoError(t, err)
	require.Empty(t, rem)
	require.Equal(t, 3, fields["len"])
	require.Equal(t, uint64(5), fields["x"])
	require.Equal(t, []byte{1, 2}, fields["data"])
}

func TestEmbeddedPacketVerbatim(t *testing.T) {
	tmpl, err := NewTemplate("", Uint("a", 1), Embedded("p"), Uint("b", 1))
	require.NoError(t, err)

	p, err := tmpl.Encode(FieldMap{"a": 0xaa, "p": []byte{1, 2, 3}, "b": 0xbb})
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa, 1, 2, 3, 0xbb}, p.Bytes())

	fields, rem, err := tmpl.Decode(p.Bytes())
	require.NoError(t, err)
	require.Empty(t, rem)
	require.Equal(t, []byte{1, 2, 3}, fields["p"])
}

func TestStringToEndOfInput(t *testing.T) {
	tmpl, err := NewTemplate("", String("url"))
	require.NoError(t, err)

	p, err := tmpl.Encode(FieldMap{"url": "ab"})
	require.NoError(t, err)
	require.Equal(t, []byte{97, 98}, p.Bytes())

	fields, rem, err := tmpl.Decode([]byte{97, 98})
	require.NoError(t, err)
	require.Empty(t, rem)
	require.Equal(t, "ab", fields["url"])
}

func TestNestedTemplateRoundTrip(t *testing.T) {
	inner, err := NewTemplate("point", Int("x", 2), Int("y", 2))
	require.NoError(t, err)
	outer, err := NewTemplate("move", Uint("id", 1), Nested("target", inner), Checksum("crc"))
	require.NoError(t, err)

	p, err := outer.Encode(FieldMap{
		"id":     7,
		"target": FieldMap{"x": -2, "y": 300},
	})
	require.NoError(t, err)

	fields, rem, err := outer.Decode(p.Bytes())
	require.NoError(t, err)
	require.Empty(t, rem)
	require.Equal(t, FieldMap{"x": int64(-2), "y": int64(300)}, fields["target"])
}

func TestNestedTemplateGovernedByLength(t *testing.T) {
	inner, err := NewTemplate("body", String("text"))
	require.NoError(t, err)
	outer, err := NewTemplate("msg", Length("len", 1, false), Nested("body", inner), Checksum("crc"))
	require.NoError(t, err)

	p, err := outer.Encode(FieldMap{"body": FieldMap{"text": "hello"}})
	require.NoError(t, err)

	fields, rem, err := outer.Decode(p.Bytes())
	require.NoError(t, err)
	require.Empty(t, rem)
	require.Equal(t, 5, fields["len"])
	require.Equal(t, FieldMap{"text": "hello"}, fields["body"])
}

func TestFindToken(t *testing.T) {
	tmpl := frameTemplate(t)
	p, err := tmpl.Encode(FieldMap{
		"start": 72, "addr": 1, "port": 72, "payload": []byte{1, 2, 3},
	})
	require.NoError(t, err)

	start, end, tok, err := tmpl.FindToken("port", p.Bytes())
	require.NoError(t, err)
	require.Equal(t, 3, start)
	require.Equal(t, 4, end)
	require.Equal(t, "uint", tok.Kind())

	start, end, _, err = tmpl.FindToken("payload", p.Bytes())
	require.NoError(t, err)
	require.Equal(t, 5, start)
	require.Equal(t, 8, end)

	_, _, _, err = tmpl.FindToken("nope", p.Bytes())
	var unknown UnknownKeyError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "frame", unknown.Template)
}

func TestDecodeTruncated(t *testing.T) {
	tmpl := frameTemplate(t)
	_, _, err := tmpl.Decode([]byte{72, 0})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeInvalidLength(t *testing.T) {
	tmpl := frameTemplate(t)
	p, err := tmpl.Encode(FieldMap{
		"start": 72, "addr": 1, "port": 72, "payload": []byte{1, 2, 3},
	})
	require.NoError(t, err)

	bad := p.Bytes()
	bad[4] = 200
	_, _, err = tmpl.Decode(bad)
	var invalid InvalidLengthError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "len", invalid.Key)
}

func TestEncodeMissingField(t *testing.T) {
	tmpl := frameTemplate(t)
	_, err := tmpl.Encode(FieldMap{"start": 72, "addr": 1, "port": 72})
	var missing MissingFieldError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "payload", missing.Key)
	require.Equal(t, "frame", missing.Template)
}

func TestEncodeValueRange(t *testing.T) {
	tmpl, err := NewTemplate("", Uint("x", 1))
	require.NoError(t, err)

	_, err = tmpl.Encode(FieldMap{"x": 256})
	var vre ValueRangeError
	require.ErrorAs(t, err, &vre)
	require.Equal(t, 8, vre.Bits)

	_, err = tmpl.Encode(FieldMap{"x": -1})
	require.ErrorAs(t, err, &vre)
}

func TestDefinitionErrors(t *testing.T) {
	var def DefinitionError

	_, err := NewTemplate("dup-len", Length("a", 1, false), List("p"), Length("b", 1, false))
	require.ErrorAs(t, err, &def)

	_, err = NewTemplate("dup-crc", Uint("a", 1), Checksum("c1"), Checksum("c2"))
	require.ErrorAs(t, err, &def)

	_, err = NewTemplate("two-var", List("a"), String("b"))
	require.ErrorAs(t, err, &def)

	_, err = NewTemplate("bad-size", Uint("a", 9))
	require.ErrorAs(t, err, &def)

	_, err = NewTemplate("nil-tok", nil)
	require.ErrorAs(t, err, &def)

	_, err = NewTemplate("bad-fixed", Fixed("f", 4, 3))
	require.ErrorAs(t, err, &def)

	_, err = NewTemplate("nil-child", Nested("n", nil))
	require.ErrorAs(t, err, &def)
}

func TestRoundTripAllVariants(t *testing.T) {
	inner, err := NewTemplate("inner", Uint("k", 1))
	require.NoError(t, err)
	tmpl, err := NewTemplate("all",
		Uint("u", 3),
		Int("i", 2),
		Fixed("f", 8, 8),
		String("s"),
		Nested("n", inner),
		Checksum("crc"),
	)
	require.NoError(t, err)

	in := FieldMap{
		"u": uint64(0x010203),
		"i": -17,
		"f": -1.25,
		"s": "hey",
		"n": FieldMap{"k": 9},
	}
	p, err := tmpl.Encode(in)
	require.NoError(t, err)

	fields, rem, err := tmpl.Decode(p.Bytes())
	require.NoError(t, err)
	require.Empty(t, rem)
	require.Equal(t, uint64(0x010203), fields["u"])
	require.Equal(t, int64(-17), fields["i"])
	require.Equal(t, -1.25, fields["f"])
	require.Equal(t, "hey", fields["s"])
	require.Equal(t, FieldMap{"k": uint64(9)}, fields["n"])
}

func TestConcurrentEncodeDecode(t *testing.T) {
	tmpl := frameTemplate(t)
	want, err := tmpl.Encode(FieldMap{
		"start": 72, "addr": 1, "port": 72, "payload": []byte{1, 2, 3},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := tmpl.Encode(FieldMap{
				"start": 72, "addr": 1, "port": 72, "payload": []byte{1, 2, 3},
			})
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(p.Bytes(), want.Bytes()) {
				errs <- errors.New("concurrent encode mismatch")
				return
			}
			if _, _, err := tmpl.Decode(p.Bytes()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestPacketBytesAreACopy(t *testing.T) {
	tmpl, err := NewTemplate("", Uint("x", 2))
	require.NoError(t, err)
	p, err := tmpl.Encode(FieldMap{"x": 0x0102})
	require.NoError(t, err)

	b := p.Bytes()
	b[0] = 0xff
	require.Equal(t, []byte{1, 2}, p.Bytes())
	require.Equal(t, 2, p.Len())
}
