package packet

import "encoding/hex"

// FieldMap carries named values into Encode and out of Decode.
type FieldMap map[string]any

// Packet is the byte-sequence result of an encode call. It is
// immutable once produced and keeps a back-reference to the template
// that produced it for diagnostics and re-embedding.
type Packet struct {
	data []byte
	tmpl *Template
}

// Bytes returns a copy of the encoded bytes.
func (p *Packet) Bytes() []byte {
	out := make([]byte, len(p.data))
	copy(out, p.data)
	return out
}

// Len returns the encoded length in bytes.
func (p *Packet) Len() int {
	return len(p.data)
}

// Template returns the template that produced this packet.
func (p *Packet) Template() *Template {
	return p.tmpl
}

func (p *Packet) String() string {
	return hex.EncodeToString(p.data)
}
