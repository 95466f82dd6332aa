package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/packetforge-io/packetforge/internal/packet"
	"github.com/packetforge-io/packetforge/internal/schema"
)

func runEncode(args []string) error {
	fs := flag.NewFlagSet("packetc encode", flag.ExitOnError)
	protoPath := fs.String("p", "", "protocol definition file (TOML)")
	tmplName := fs.String("t", "", "template name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tmpl, err := loadTemplate(*protoPath, *tmplName)
	if err != nil {
		return err
	}
	raw, err := readArgOrStdin(fs)
	if err != nil {
		return err
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("parse fields: %w", err)
	}

	p, err := tmpl.Encode(packet.FieldMap(fields))
	if err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(p.Bytes()))
	return nil
}

func runDecode(args []string) error {
	fs := flag.NewFlagSet("packetc decode", flag.ExitOnError)
	protoPath := fs.String("p", "", "protocol definition file (TOML)")
	tmplName := fs.String("t", "", "template name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tmpl, err := loadTemplate(*protoPath, *tmplName)
	if err != nil {
		return err
	}
	raw, err := readArgOrStdin(fs)
	if err != nil {
		return err
	}
	data, err := parseHex(string(raw))
	if err != nil {
		return err
	}

	fields, rem, err := tmpl.Decode(data)
	if err != nil && !errors.Is(err, packet.ErrChecksumMismatch) {
		return err
	}

	out := map[string]any{"fields": jsonify(fields)}
	if len(rem) > 0 {
		out["remainder"] = hex.EncodeToString(rem)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if jerr := enc.Encode(out); jerr != nil {
		return jerr
	}
	// Checksum mismatch is reported after the decoded mapping so the
	// caller can still inspect it.
	return err
}

func runLookup(args []string) error {
	fs := flag.NewFlagSet("packetc lookup", flag.ExitOnError)
	protoPath := fs.String("p", "", "protocol definition file (TOML)")
	tmplName := fs.String("t", "", "template name")
	key := fs.String("k", "", "field key to locate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tmpl, err := loadTemplate(*protoPath, *tmplName)
	if err != nil {
		return err
	}
	raw, err := readArgOrStdin(fs)
	if err != nil {
		return err
	}
	data, err := parseHex(string(raw))
	if err != nil {
		return err
	}

	start, end, tok, err := tmpl.FindToken(*key, data)
	if err != nil {
		return err
	}
	fmt.Printf("%s: kind=%s bytes=[%d,%d) value=%s\n",
		tok.Key(), tok.Kind(), start, end, hex.EncodeToString(data[start:end]))
	return nil
}

func loadTemplate(protoPath, tmplName string) (*packet.Template, error) {
	if protoPath == "" {
		return nil, fmt.Errorf("missing -p protocol file")
	}
	if tmplName == "" {
		return nil, fmt.Errorf("missing -t template name")
	}
	proto, err := schema.Load(protoPath)
	if err != nil {
		return nil, err
	}
	tmpl, ok := proto.Template(tmplName)
	if !ok {
		return nil, fmt.Errorf("template %q not defined (have: %s)", tmplName, strings.Join(proto.Names(), ", "))
	}
	return tmpl, nil
}

func readArgOrStdin(fs *flag.FlagSet) ([]byte, error) {
	if fs.NArg() > 0 {
		return []byte(fs.Arg(0)), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return data, nil
}

var hexCleaner = strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "", "0x", "")

func parseHex(s string) ([]byte, error) {
	data, err := hex.DecodeString(hexCleaner.Replace(strings.TrimSpace(s)))
	if err != nil {
		return nil, fmt.Errorf("parse hex: %w", err)
	}
	return data, nil
}

// jsonify rewrites decoded values into JSON-friendly shapes: byte
// slices become integer arrays rather than base64 strings.
func jsonify(v any) any {
	switch x := v.(type) {
	case packet.FieldMap:
		out := make(map[string]any, len(x))
		for k, elem := range x {
			out[k] = jsonify(elem)
		}
		return out
	case []byte:
		out := make([]int, len(x))
		for i, b := range x {
			out[i] = int(b)
		}
		return out
	default:
		return v
	}
}
