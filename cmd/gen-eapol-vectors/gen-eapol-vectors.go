package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"strings"
	"unicode"

	"code.wpakey.org/golang/pkg/eapol/exchange"
)

const usageFmt = `
Command Usage: %s [Flags]
  Generate WPA2 4-way handshake test vectors.

Flags:
------
`

var defaultSSIDs = []string{"testnet", "wpakey-lab", "IEEE 802.11 Test SSID"}

type Cmd struct {
	Out    *json.Encoder
	SSIDs  []string
	Repeat int
}

func parseFlags(progname string, args []string) *Cmd {
	cmd := Cmd{}

	flags := flag.NewFlagSet(progname, flag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, usageFmt, path.Base(progname))
		flags.PrintDefaults()
	}

	var outPath string
	flags.StringVar(&outPath, "o", "-", `path where to save the generated vectors`)

	var ssids []string
	const ssidDoc = `
	Network SSID of 1 to 32 bytes.
	Add more than 1 by repeating this option.
	Defaults to %q.
	`
	flags.Func("ssid", dedent(fmt.Sprintf(ssidDoc, defaultSSIDs)), func(v string) error {
		if 0 == len(v) || len(v) > 32 {
			return fmt.Errorf("Invalid SSID length %d", len(v))
		}
		ssids = append(ssids, v)
		return nil
	})

	var repeat uint
	flags.UintVar(&repeat, "n", 10, `number of vectors to generate for each SSID`)

	flags.Parse(args)

	// set cmd.Out
	var err error
	var outFile *os.File
	if "-" != outPath {
		outFile, err = os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if nil != err {
			log.Fatalf("Failed opening %s, got error %v", outPath, err)
		}
	} else {
		outFile = os.Stdout
	}
	enc := json.NewEncoder(outFile)
	enc.SetIndent("", "  ")
	cmd.Out = enc

	// set cmd.SSIDs
	if len(ssids) == 0 {
		ssids = defaultSSIDs
	}
	cmd.SSIDs = ssids

	// set cmd.Repeat
	cmd.Repeat = int(repeat)

	return &cmd
}

func main() {
	cmd := parseFlags(os.Args[0], os.Args[1:])

	var err error
	var vectors []exchange.TestVector
	for _, ssid := range cmd.SSIDs {
		for range cmd.Repeat {
			vector := exchange.TestVector{}
			err = fillVector(ssid, &vector)
			if nil != err {
				log.Fatalf("Failed generating TestVector, got error %v", err)
			}
			vectors = append(vectors, vector)
		}
	}
	err = cmd.Out.Encode(vectors)
	if nil != err {
		log.Fatalf("Failed serializing []TestVector, got error %v", err)
	}
}

func dedent(multilines string) string {
	var sb strings.Builder
	for line := range strings.Lines(strings.TrimRightFunc(multilines, unicode.IsSpace)) {
		sb.WriteString(strings.TrimLeftFunc(line, unicode.IsSpace))
	}
	return sb.String()
}
