package packet

import (
	"errors"
	"fmt"
)

// Template is an ordered, optionally named list of tokens defining a
// packet's wire layout. Templates are immutable after construction and
// safe for concurrent use; all per-call state lives on the call stack.
type Template struct {
	name   string
	tokens []Token
}

// NewTemplate builds a template from an optional name and an ordered
// token list. It returns a DefinitionError for duplicate Length or
// Checksum tokens, invalid token parameters, more than one
// variable-width token (undecodable without delimiters), or a cycle
// through nested templates.
func NewTemplate(name string, tokens ...Token) (*Template, error) {
	var lengths, checksums, variables int
	for i, tok := range tokens {
		if tok == nil {
			return nil, DefinitionError{Template: name, Reason: fmt.Sprintf("token %d is nil", i)}
		}
		if err := tok.check(); err != nil {
			return nil, DefinitionError{Template: name, Reason: fmt.Sprintf("token %d (%s): %v", i, tok.Kind(), err)}
		}
		if pt, ok := tok.(postToken); ok {
			switch pt.postKind() {
			case postLength:
				lengths++
			case postChecksum:
				checksums++
			}
		}
		if _, fixed := tok.width(); !fixed {
			variables++
		}
	}
	if lengths > 1 {
		return nil, DefinitionError{Template: name, Reason: "more than one length token"}
	}
	if checksums > 1 {
		return nil, DefinitionError{Template: name, Reason: "more than one checksum token"}
	}
	if variables > 1 {
		return nil, DefinitionError{Template: name, Reason: "more than one variable-width token"}
	}

	t := &Template{name: name, tokens: append([]Token(nil), tokens...)}
	if err := t.checkCycle(make(map[*Template]bool)); err != nil {
		return nil, DefinitionError{Template: name, Reason: err.Error()}
	}
	return t, nil
}

// Name returns the template's diagnostic name ("" if unnamed).
func (t *Template) Name() string {
	return t.name
}

// Tokens returns a copy of the template's ordered token list.
func (t *Template) Tokens() []Token {
	return append([]Token(nil), t.tokens...)
}

func (t *Template) checkCycle(stack map[*Template]bool) error {
	if stack[t] {
		return fmt.Errorf("nested template cycle through %q", t.name)
	}
	stack[t] = true
	defer delete(stack, t)
	for _, tok := range t.tokens {
		nt, ok := tok.(*nestedToken)
		if !ok || nt.child == nil {
			continue
		}
		if err := nt.child.checkCycle(stack); err != nil {
			return err
		}
	}
	return nil
}

// fixedWidth returns the total encoded width when every token is
// fixed-width.
func (t *Template) fixedWidth() (int, bool) {
	total := 0
	for _, tok := range t.tokens {
		n, fixed := tok.width()
		if !fixed {
			return 0, false
		}
		total += n
	}
	return total, true
}

// segment is one slot of the in-process packet threaded between
// encode passes. A pending slot belongs to a post-processing token
// whose pass has not run yet.
type segment struct {
	bytes   []byte
	pending bool
}

// Encode serializes fields through three ordered passes: value tokens
// first, then length tokens over the partial result, then checksum
// tokens over the finalized bytes.
func (t *Template) Encode(fields FieldMap) (*Packet, error) {
	segs := make([]segment, len(t.tokens))
	for i, tok := range t.tokens {
		vt, ok := tok.(valueToken)
		if !ok {
			segs[i] = segment{pending: true}
			continue
		}
		b, err := vt.encodeValue(fields, t.name)
		if err != nil {
			return nil, err
		}
		segs[i] = segment{bytes: b}
	}
	if err := t.resolvePass(segs, postLength); err != nil {
		return nil, err
	}
	if err := t.resolvePass(segs, postChecksum); err != nil {
		return nil, err
	}

	size := 0
	for _, seg := range segs {
		size += len(seg.bytes)
	}
	data := make([]byte, 0, size)
	for _, seg := range segs {
		data = append(data, seg.bytes...)
	}
	return &Packet{data: data, tmpl: t}, nil
}

func (t *Template) resolvePass(segs []segment, kind postKind) error {
	for i, tok := range t.tokens {
		pt, ok := tok.(postToken)
		if !ok || pt.postKind() != kind {
			continue
		}
		b, err := pt.resolve(segs, i)
		if err != nil {
			return err
		}
		segs[i] = segment{bytes: b}
	}
	return nil
}

// Decode walks data left to right guided by the token order and
// returns the decoded mapping plus the unconsumed remainder. A
// checksum mismatch is reported as a ChecksumError while the decoded
// mapping is still returned; every other error aborts the walk.
func (t *Template) Decode(data []byte) (FieldMap, []byte, error) {
	fields := make(FieldMap, len(t.tokens))
	w := &walk{tmpl: t, data: data}
	var mismatch error
	for i, tok := range t.tokens {
		w.idx = i
		hadGrant := w.granted
		v, n, err := tok.decode(w)
		if err != nil {
			if !errors.Is(err, ErrChecksumMismatch) {
				return nil, nil, err
			}
			if mismatch == nil {
				mismatch = err
			}
		}
		w.off += n
		if hadGrant {
			w.spend(tok, n)
		}
		if v != nil && tok.Key() != "" {
			fields[tok.Key()] = v
		}
	}
	rem := make([]byte, len(data)-w.off)
	copy(rem, data[w.off:])
	return fields, rem, mismatch
}

// FindToken walks only as far as needed to locate key's span within
// data and returns its start and end offsets plus the token
// definition. Checksum mismatches along the way do not abort lookup.
func (t *Template) FindToken(key string, data []byte) (start, end int, tok Token, err error) {
	defined := false
	for _, tk := range t.tokens {
		if tk.Key() == key {
			defined = true
			break
		}
	}
	if !defined {
		return 0, 0, nil, UnknownKeyError{Template: t.name, Key: key}
	}

	w := &walk{tmpl: t, data: data}
	for i, tk := range t.tokens {
		w.idx = i
		hadGrant := w.granted
		s := w.off
		_, n, derr := tk.decode(w)
		if derr != nil && !errors.Is(derr, ErrChecksumMismatch) {
			return 0, 0, nil, derr
		}
		w.off += n
		if hadGrant {
			w.spend(tk, n)
		}
		if tk.Key() == key {
			return s, w.off, tk, nil
		}
	}
	return 0, 0, nil, UnknownKeyError{Template: t.name, Key: key}
}

// walk is the per-call cursor state of one decode pass. A length
// token grants its decoded byte count to the template's variable-width
// token; fixed tokens decoded in between spend from the grant.
type walk struct {
	tmpl     *Template
	data     []byte
	off      int
	idx      int
	granted  bool
	grantRem int
}

func (w *walk) take(n int, key string) ([]byte, error) {
	if len(w.data)-w.off < n {
		return nil, TruncatedError{Key: key, Need: n, Have: len(w.data) - w.off}
	}
	return w.data[w.off : w.off+n], nil
}

func (w *walk) grant(n int) {
	w.granted = true
	w.grantRem = n
}

func (w *walk) spend(tok Token, n int) {
	if !w.granted {
		return
	}
	// Checksum bytes are placeholders when a length resolves, so the
	// encoded count never includes them.
	if pt, ok := tok.(postToken); ok && pt.postKind() == postChecksum {
		return
	}
	w.grantRem -= n
	if w.grantRem < 0 {
		w.grantRem = 0
	}
}

// extent resolves the byte span of a variable-width token: the
// remaining grant from the most recent length token if one precedes
// it, otherwise everything left minus the fixed widths still to come.
func (w *walk) extent(key string) (int, error) {
	if w.granted {
		g := w.grantRem
		w.granted = false
		// The grant still covers fixed tokens after this one. Checksum
		// bytes were placeholders when the length resolved, so they are
		// never part of the count.
		trailing := 0
		for _, tok := range w.tmpl.tokens[w.idx+1:] {
			if pt, ok := tok.(postToken); ok && pt.postKind() == postChecksum {
				continue
			}
			if fw, fixed := tok.width(); fixed {
				trailing += fw
			}
		}
		n := g - trailing
		if n < 0 || n > len(w.data)-w.off {
			return 0, InvalidLengthError{Key: key, Length: g, Remaining: len(w.data) - w.off}
		}
		return n, nil
	}
	trailing := 0
	for _, tok := range w.tmpl.tokens[w.idx+1:] {
		if n, fixed := tok.width(); fixed {
			trailing += n
		}
	}
	n := len(w.data) - w.off - trailing
	if n < 0 {
		return 0, TruncatedError{Key: key, Need: trailing, Have: len(w.data) - w.off}
	}
	return n, nil
}
