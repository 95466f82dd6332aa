package main

import (
	"fmt"
	"os"

	"github.com/packetforge-io/packetforge/internal/logging"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	logging.ConfigureRuntime()

	var err error
	switch os.Args[1] {
	case "encode":
		err = runEncode(os.Args[2:])
	case "decode":
		err = runDecode(os.Args[2:])
	case "lookup":
		err = runLookup(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "packetc: unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "packetc: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `packetc - template-driven binary packet codec

Usage:
  packetc <command> [flags]

Commands:
  encode      Encode a JSON field mapping into packet bytes
  decode      Decode hex packet bytes into a JSON field mapping
  lookup      Locate a field's byte span inside packet bytes
  help        Show this help message

Common flags:
  -p path     Protocol definition file (TOML)
  -t name     Template name within the protocol

Use "packetc <command> -h" for command flags.
`)
}
