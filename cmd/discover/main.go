package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rjboer/bpmtest/internal/app"
	"github.com/rjboer/bpmtest/internal/mdns"
)

// discover is replaced in tests.
var discover = mdns.DiscoverInstruments

func main() {
	if err := run(context.Background(), os.Args[1:], os.LookupEnv, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Discovery error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, lookup app.Lookup, out io.Writer) error {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	timeout := fs.Int("timeout", app.EnvInt(lookup, "BPM_DISCOVER_TIMEOUT", 5), "Timeout in seconds")
	services := fs.String("services", app.EnvString(lookup, "BPM_DISCOVER_SERVICES", strings.Join(mdns.DefaultServices, ",")), "Comma separated service types")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var list []string
	for _, s := range strings.Split(*services, ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}

	fmt.Fprintln(out, "===============================================================")
	fmt.Fprintln(out, " Bench instrument discovery")
	fmt.Fprintln(out, "===============================================================")
	fmt.Fprintf(out, " Services: %s\n", strings.Join(list, ", "))
	fmt.Fprintf(out, " Timeout : %d seconds\n", *timeout)
	fmt.Fprintln(out, "---------------------------------------------------------------")

	start := time.Now()
	found, err := discover(ctx, time.Duration(*timeout)*time.Second, list...)
	duration := time.Since(start)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Fprintf(out, "No instruments found (%s)\n", duration.Truncate(time.Millisecond))
		return nil
	}

	fmt.Fprintf(out, "Discovered %d instrument(s) in %s\n", len(found), duration.Truncate(time.Millisecond))
	fmt.Fprintln(out, "===============================================================")
	for i, h := range found {
		fmt.Fprintf(out, " Instrument #%d\n", i+1)
		fmt.Fprintln(out, "---------------------------------------------------------------")
		fmt.Fprintf(out, " Service  : %s\n", h.Service)
		fmt.Fprintf(out, " Instance : %s\n", h.Instance)
		fmt.Fprintf(out, " Hostname : %s\n", h.Hostname)
		fmt.Fprintf(out, " Port     : %d\n", h.Port)
		fmt.Fprintln(out, " Addresses:")
		if len(h.Addresses) == 0 {
			fmt.Fprintln(out, "   <none>")
		}
		for _, ip := range h.Addresses {
			fmt.Fprintf(out, "   - %s\n", ip)
		}
		if len(h.TXT) > 0 {
			fmt.Fprintln(out, " TXT Records:")
			for _, txt := range h.TXT {
				fmt.Fprintf(out, "   - %s\n", txt)
			}
		}
		// Address is what the bench config's address/port fields take.
		fmt.Fprintf(out, " Connect  : %s\n", h.Address())
		fmt.Fprintln(out, "===============================================================")
	}
	return nil
}
