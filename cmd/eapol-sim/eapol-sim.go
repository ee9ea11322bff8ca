package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path"
	"time"

	"code.wpakey.org/golang/internal/observability"
)

const usageFmt = `
Command Usage: %s [Flags]
  Run a WPA2 4-way handshake between a simulated supplicant & authenticator.

Flags:
------
`

type Cmd struct {
	Config
	Log     *slog.Logger
	Timeout time.Duration
}

func parseFlags(progname string, args []string) *Cmd {
	cmd := Cmd{}

	flags := flag.NewFlagSet(progname, flag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, usageFmt, path.Base(progname))
		flags.PrintDefaults()
	}

	flags.StringVar(&cmd.SSID, "ssid", "testnet", `network SSID`)
	flags.StringVar(&cmd.Passphrase, "passphrase", "testpassword", `network passphrase, 8 to 63 ASCII characters`)
	flags.BoolVar(&cmd.GTK, "gtk", false, `distribute a group key in message 3`)
	flags.BoolVar(&cmd.TamperRSN, "tamper-rsn", false, `make the supplicant expect another authenticator RSN element`)
	flags.BoolVar(&cmd.Pause, "pause", false, `pause both links transmit queues`)
	flags.StringVar(&cmd.PMKCache, "pmk-cache", "", `path of a bbolt file that caches derived PMKs`)
	flags.StringVar(&cmd.PMKRedis, "pmk-redis", "", `url of a redis server that caches derived PMKs, eg redis://localhost:6379/0`)
	flags.DurationVar(&cmd.Timeout, "timeout", 5*time.Second, `handshake timeout`)

	var verbose, asJSON bool
	flags.BoolVar(&verbose, "v", false, `log handshake frames`)
	flags.BoolVar(&asJSON, "json", false, `log in JSON`)

	flags.Parse(args)

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	cmd.Log = observability.NewLogger(os.Stderr, level, asJSON)

	return &cmd
}

func main() {
	cmd := parseFlags(os.Args[0], os.Args[1:])

	ctx, cancel := context.WithTimeout(context.Background(), cmd.Timeout)
	defer cancel()
	ctx = observability.WithLogger(ctx, cmd.Log)

	res, err := run(ctx, cmd.Config)
	if nil != err {
		log.Fatalf("Failed simulation, got error %v", err)
	}

	fmt.Print(res)
	if nil != res.Supplicant || nil != res.Authenticator {
		os.Exit(1)
	}
}
