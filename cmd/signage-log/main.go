// Command signage-log views and analyzes protocol capture files.
//
// Capture files are written by signaged and signage-device when a
// capture path is configured, one CBOR-encoded event per record.
//
// Usage:
//
//	signage-log <command> [flags] <file.cborlog>
//
// Commands:
//
//	view     Print events in human-readable form
//	export   Export events as JSON lines
//	stats    Summarize a capture file
//
// Examples:
//
//	# View wire-layer traffic only
//	signage-log view -layer wire capture.cborlog
//
//	# Pipe into jq
//	signage-log export capture.cborlog | jq .
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	pkglog "github.com/manur84/digitalsignage-sub008/pkg/log"
)

const usage = `signage-log - Protocol Capture Analyzer

Usage:
  signage-log <command> [flags] <file.cborlog>

Commands:
  view     Print events in human-readable form
  export   Export events as JSON lines
  stats    Summarize a capture file

Use "signage-log <command> -help" for more about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	layer := fs.String("layer", "", "Filter by layer (transport, wire, service, discovery)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	client := fs.String("client", "", "Filter by client id")
	fs.Parse(args)

	events := load(fs)
	for _, ev := range events {
		if *layer != "" && !strings.EqualFold(ev.Layer.String(), *layer) {
			continue
		}
		if *direction != "" && !strings.EqualFold(ev.Direction.String(), *direction) {
			continue
		}
		if *client != "" && ev.ClientID != *client {
			continue
		}
		printEvent(ev)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Parse(args)

	enc := json.NewEncoder(os.Stdout)
	for _, ev := range load(fs) {
		if err := enc.Encode(ev); err != nil {
			fatal(err)
		}
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Parse(args)

	events := load(fs)
	if len(events) == 0 {
		fmt.Println("Empty capture")
		return
	}

	byLayer := map[string]int{}
	byType := map[string]int{}
	errorCount := 0
	for _, ev := range events {
		byLayer[ev.Layer.String()]++
		if ev.Message != nil {
			byType[ev.Message.Type]++
		}
		if ev.Error != nil {
			errorCount++
		}
	}

	first, last := events[0].Timestamp, events[len(events)-1].Timestamp
	fmt.Printf("Events:   %d\n", len(events))
	fmt.Printf("Span:     %s (%s .. %s)\n", last.Sub(first).Round(1e6), first.Format("15:04:05.000"), last.Format("15:04:05.000"))
	fmt.Printf("Errors:   %d\n", errorCount)
	fmt.Println("By layer:")
	for layer, n := range byLayer {
		fmt.Printf("  %-12s %d\n", layer, n)
	}
	if len(byType) > 0 {
		fmt.Println("By message type:")
		for typ, n := range byType {
			fmt.Printf("  %-28s %d\n", typ, n)
		}
	}
}

// load reads every event from the file argument of a parsed flag set.
func load(fs *flag.FlagSet) []pkglog.Event {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: capture file path required")
		os.Exit(1)
	}
	reader, err := pkglog.NewReader(fs.Arg(0))
	if err != nil {
		fatal(err)
	}
	defer reader.Close()

	events, err := reader.ReadAll()
	if err != nil {
		fatal(err)
	}
	return events
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "signage-log:", err)
	os.Exit(1)
}

func printEvent(ev pkglog.Event) {
	ts := ev.Timestamp.Format("15:04:05.000")
	dir := " "
	switch ev.Direction {
	case pkglog.DirectionIn:
		dir = "<"
	case pkglog.DirectionOut:
		dir = ">"
	}

	detail := ""
	switch {
	case ev.Message != nil:
		detail = fmt.Sprintf("%s id=%s sender=%s", ev.Message.Type, ev.Message.MessageID, ev.Message.SenderID)
	case ev.Frame != nil:
		detail = fmt.Sprintf("frame %dB", ev.Frame.Size)
	case ev.StateChange != nil:
		detail = fmt.Sprintf("%s %s -> %s (%s)", ev.StateChange.Entity, ev.StateChange.OldState, ev.StateChange.NewState, ev.StateChange.Reason)
	case ev.Discovery != nil:
		detail = fmt.Sprintf("%s server=%s addrs=%v round=%d", ev.Discovery.Kind, ev.Discovery.ServerName, ev.Discovery.Addresses, ev.Discovery.Round)
	case ev.Error != nil:
		detail = fmt.Sprintf("ERROR %s: %s", ev.Error.Context, ev.Error.Message)
	}

	fmt.Printf("%s %s [%-9s] %s\n", ts, dir, ev.Layer, detail)
}
