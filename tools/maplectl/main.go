package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/clktmr/maple/tools/decode"
	"github.com/clktmr/maple/tools/run"
)

const usageString = `maplectl drives Maple Bus peripherals from a host.

Usage:

	%s <command> [arguments]

The commands are:

	run      drive the configured buses
	decode   print hex encoded packets
`

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), usageString, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	log.Default().SetFlags(0)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	switch flag.Arg(0) {
	case "run":
		run.Main(flag.Args())
	case "decode":
		decode.Main(flag.Args())
	default:
		fmt.Fprintf(flag.CommandLine.Output(), "unknown command: %s\n", flag.Arg(0))
		flag.Usage()
		os.Exit(1)
	}
}
