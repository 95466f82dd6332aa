// Package schema compiles declarative TOML protocol definitions into
// packet templates.
package schema

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/packetforge-io/packetforge/internal/logging"
	"github.com/packetforge-io/packetforge/internal/packet"
	"github.com/packetforge-io/packetforge/internal/packet/crc"
)

// ValidationError reports a malformed protocol definition.
type ValidationError struct {
	Template   string
	TokenIndex int
	Reason     string
}

func (e ValidationError) Error() string {
	if e.Template == "" {
		return fmt.Sprintf("schema: %s", e.Reason)
	}
	if e.TokenIndex < 0 {
		return fmt.Sprintf("schema: template %q: %s", e.Template, e.Reason)
	}
	return fmt.Sprintf("schema: template %q token %d: %s", e.Template, e.TokenIndex, e.Reason)
}

// Protocol is a compiled set of named templates, in definition order.
type Protocol struct {
	templates map[string]*packet.Template
	order     []string
}

// Template looks up a compiled template by name.
func (p *Protocol) Template(name string) (*packet.Template, bool) {
	t, ok := p.templates[name]
	return t, ok
}

// Names returns the template names in definition order.
func (p *Protocol) Names() []string {
	return append([]string(nil), p.order...)
}

type document struct {
	Templates []templateDef `toml:"template"`
}

type templateDef struct {
	Name   string     `toml:"name"`
	Tokens []tokenDef `toml:"token"`
}

type tokenDef struct {
	Key        string `toml:"key"`
	Type       string `toml:"type"`
	Size       int    `toml:"size"`
	IntBits    int    `toml:"int_bits"`
	FracBits   int    `toml:"frac_bits"`
	CountSelf  bool   `toml:"count_self"`
	Polynomial *int   `toml:"polynomial"`
	Ref        string `toml:"ref"`
}

// Load reads and compiles a protocol definition file.
func Load(path string) (*Protocol, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse compiles a TOML protocol definition.
func Parse(data []byte) (*Protocol, error) {
	var doc document
	meta, err := toml.Decode(string(data), &doc)
	if err != nil {
		return nil, fmt.Errorf("schema: parse: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, ValidationError{TokenIndex: -1, Reason: fmt.Sprintf("unknown key %q", undecoded[0].String())}
	}
	return build(doc)
}

func build(doc document) (*Protocol, error) {
	logging.L().Debug().Int("templates", len(doc.Templates)).Msg("schema build")
	if len(doc.Templates) == 0 {
		return nil, ValidationError{TokenIndex: -1, Reason: "no templates defined"}
	}

	p := &Protocol{templates: make(map[string]*packet.Template, len(doc.Templates))}
	for _, def := range doc.Templates {
		if def.Name == "" {
			return nil, ValidationError{TokenIndex: -1, Reason: "template without a name"}
		}
		if _, exists := p.templates[def.Name]; exists {
			return nil, ValidationError{Template: def.Name, TokenIndex: -1, Reason: "duplicate template name"}
		}
		tokens := make([]packet.Token, len(def.Tokens))
		for i, td := range def.Tokens {
			tok, err := buildToken(p, def.Name, i, td)
			if err != nil {
				logging.L().Error().Str("template", def.Name).Int("token", i).Err(err).Msg("schema build failed")
				return nil, err
			}
			tokens[i] = tok
		}
		tmpl, err := packet.NewTemplate(def.Name, tokens...)
		if err != nil {
			logging.L().Error().Str("template", def.Name).Err(err).Msg("schema build failed")
			return nil, err
		}
		p.templates[def.Name] = tmpl
		p.order = append(p.order, def.Name)
		logging.L().Debug().Str("template", def.Name).Int("tokens", len(tokens)).Msg("template built")
	}
	return p, nil
}

func buildToken(p *Protocol, tmplName string, idx int, td tokenDef) (packet.Token, error) {
	size := td.Size
	if size == 0 {
		size = 1
	}
	switch td.Type {
	case "uint":
		return packet.Uint(td.Key, size), nil
	case "int":
		return packet.Int(td.Key, size), nil
	case "fixed":
		return packet.Fixed(td.Key, td.IntBits, td.FracBits), nil
	case "list":
		return packet.List(td.Key), nil
	case "string":
		return packet.String(td.Key), nil
	case "packet":
		return packet.Embedded(td.Key), nil
	case "template":
		child, ok := p.templates[td.Ref]
		if !ok {
			return nil, ValidationError{Template: tmplName, TokenIndex: idx, Reason: fmt.Sprintf("unknown template reference %q", td.Ref)}
		}
		return packet.Nested(td.Key, child), nil
	case "length":
		return packet.Length(td.Key, size, td.CountSelf), nil
	case "checksum":
		poly := int(crc.DefaultPolynomial)
		if td.Polynomial != nil {
			poly = *td.Polynomial
		}
		if poly <= 0 || poly > 0xff {
			return nil, ValidationError{Template: tmplName, TokenIndex: idx, Reason: fmt.Sprintf("invalid polynomial %d: want 1..255", poly)}
		}
		return packet.ChecksumPoly(td.Key, byte(poly)), nil
	case "":
		return nil, ValidationError{Template: tmplName, TokenIndex: idx, Reason: "token without a type"}
	default:
		return nil, ValidationError{Template: tmplName, TokenIndex: idx, Reason: fmt.Sprintf("unknown token type %q", td.Type)}
	}
}
