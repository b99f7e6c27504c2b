// Package decode implements the decode command of maplectl, which prints
// Maple Bus packets given in hex.
package decode

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/clktmr/maple/maplebus"
)

const usageString = `Decode Maple Bus packets.

Usage: %s [flags] [hex...]

Each argument is an encoded packet in wire order, including the checksum.
Without arguments packets are read from stdin, one per line.

`

var (
	flags = flag.NewFlagSet("decode", flag.ExitOnError)

	info = flags.Bool("info", false, "decode device info responses")
)

func usage() {
	fmt.Fprintf(flags.Output(), usageString, "decode")
	flags.PrintDefaults()
}

func Main(args []string) {
	flags.Usage = usage
	flags.Parse(args[1:])

	var failed bool
	decode := func(s string) {
		if err := Decode(os.Stdout, s, *info); err != nil {
			fmt.Fprintln(os.Stderr, err)
			failed = true
		}
	}

	if flags.NArg() > 0 {
		for _, arg := range flags.Args() {
			decode(arg)
		}
	} else {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				decode(line)
			}
		}
		if err := scanner.Err(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if failed {
		os.Exit(1)
	}
}

// Decode writes a description of the packet encoded in s to w.  Spaces and
// colons between bytes are ignored.
func Decode(w io.Writer, s string, withInfo bool) error {
	s = strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%q: %w", s, err)
	}
	p, err := maplebus.Decode(b)
	if err != nil {
		return fmt.Errorf("%q: %w", s, err)
	}

	fmt.Fprintln(w, p)
	fmt.Fprintf(w, "  recipient %v sender %v\n", p.Frame.Recipient, p.Frame.Sender)
	for i, word := range p.Payload {
		fmt.Fprintf(w, "  %2d: %08x\n", i, word)
	}
	if withInfo && p.Frame.Command == maplebus.CmdResponseDeviceInfo {
		di, err := maplebus.ParseDeviceInfo(p.Payload)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  functions %v\n  product %q\n  license %q\n",
			di.Functions, di.ProductName, di.License)
	}
	return nil
}
