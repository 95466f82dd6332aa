package packet

import "math"

// Flatten recursively collapses nested sequences into one flat byte
// slice. It accepts bytes, integer scalars in [0,255], strings, byte
// and integer slices, nested []any sequences, and encoded packets.
func Flatten(v any) ([]byte, error) {
	out := make([]byte, 0, 16)
	if err := flattenInto(&out, "", v); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenInto(out *[]byte, key string, v any) error {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		*out = append(*out, x...)
		return nil
	case string:
		*out = append(*out, x...)
		return nil
	case *Packet:
		*out = append(*out, x.data...)
		return nil
	case []int:
		for _, n := range x {
			b, err := byteScalar(key, int64(n))
			if err != nil {
				return err
			}
			*out = append(*out, b)
		}
		return nil
	case []any:
		for _, elem := range x {
			if err := flattenInto(out, key, elem); err != nil {
				return err
			}
		}
		return nil
	case [][]byte:
		for _, elem := range x {
			*out = append(*out, elem...)
		}
		return nil
	}

	if n, ok := intScalar(v); ok {
		b, err := byteScalar(key, n)
		if err != nil {
			return err
		}
		*out = append(*out, b)
		return nil
	}
	return FieldTypeError{Key: key, Got: v}
}

func byteScalar(key string, n int64) (byte, error) {
	if n < 0 || n > 0xff {
		return 0, ValueRangeError{Key: key, Value: formatInt(n), Bits: 8}
	}
	return byte(n), nil
}

// intScalar widens any Go integer scalar (and integral floats, which
// is what encoding/json hands over) to int64.
func intScalar(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case float32:
		if float32(int64(x)) != x {
			return 0, false
		}
		return int64(x), true
	case float64:
		if math.Trunc(x) != x {
			return 0, false
		}
		return int64(x), true
	}
	return 0, false
}
