// Command relay runs the central message relay every node dials into
// (§5 "The relay process"), plus an admin CLI for fault injection
// (drop, delay, threshold) and the POS+ anomaly detector (detect),
// grounded on the teacher's klingnet-cli line-oriented command dispatch.
//
// Usage:
//
//	relay --addr=127.0.0.1:9090 [--step-interval=2s] [--log-level=info]
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	klog "github.com/GZK1108/posnet/internal/log"
	"github.com/GZK1108/posnet/internal/observer"
	"github.com/GZK1108/posnet/internal/relay"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9090", "address to listen on")
	stepInterval := flag.Duration("step-interval", 0, "auto-STEP cadence (0 disables auto-stepping)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logJSON := flag.Bool("log-json", false, "output logs as JSON")
	flag.Parse()

	if err := klog.Init(*logLevel, *logJSON, ""); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := klog.WithComponent("relay")

	r := relay.New(logger)
	obs := observer.New(klog.WithComponent("observer"))
	r.SetObserver(obs.Observe)

	if err := r.Serve(*addr, *stepInterval); err != nil {
		logger.Fatal().Err(err).Msg("failed to start relay")
	}
	logger.Info().Str("addr", *addr).Msg("relay ready, admin commands on stdin")

	runAdminCLI(r, obs)

	if err := r.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing relay")
	}
}

func runAdminCLI(r *relay.Relay, obs *observer.Observer) {
	scanner := bufio.NewScanner(os.Stdin)
	printAdminHelp()
	for {
		fmt.Print("relay> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(fields) == 0 {
			continue
		}
		verb, args := fields[0], fields[1:]

		switch verb {
		case "exit", "quit":
			fmt.Println("goodbye")
			return
		case "step":
			r.Step()
			fmt.Println("STEP broadcast")
		case "stop":
			r.Stop()
			fmt.Println("fan-out paused")
		case "continue":
			r.Continue()
			fmt.Println("fan-out resumed")
		case "drop":
			handleDrop(r, args)
		case "delay":
			handleDelay(r, args)
		case "threshold":
			handleThreshold(r, args)
		case "nodes":
			ids := r.ConnectedNodes()
			if len(ids) == 0 {
				fmt.Println("no nodes connected")
				continue
			}
			fmt.Println(strings.Join(ids, ", "))
		case "attacks":
			active := r.Attacks()
			if len(active) == 0 {
				fmt.Println("no active fault injection")
				continue
			}
			fmt.Println(strings.Join(active, "\n"))
		case "detect":
			handleDetect(obs, args)
		case "help":
			printAdminHelp()
		default:
			fmt.Printf("unknown command %q (try: help)\n", verb)
		}
	}
}

func handleDrop(r *relay.Relay, args []string) {
	if len(args) < 1 {
		fmt.Println("usage: drop <id> [on|off|toggle]")
		return
	}
	id := args[0]
	mode := "toggle"
	if len(args) > 1 {
		mode = args[1]
	}
	switch mode {
	case "on":
		r.SetDrop(id, true)
		fmt.Printf("dropping traffic from %s\n", id)
	case "off":
		r.SetDrop(id, false)
		fmt.Printf("no longer dropping traffic from %s\n", id)
	case "toggle":
		on := r.ToggleDrop(id)
		fmt.Printf("drop(%s) = %v\n", id, on)
	default:
		fmt.Println("usage: drop <id> [on|off|toggle]")
	}
}

func handleDelay(r *relay.Relay, args []string) {
	if len(args) != 2 {
		fmt.Println("usage: delay <id> <duration|off>")
		return
	}
	id := args[0]
	if args[1] == "off" {
		r.SetDelay(id, 0)
		fmt.Printf("delay cleared for %s\n", id)
		return
	}
	d, err := time.ParseDuration(args[1])
	if err != nil {
		fmt.Printf("invalid duration %q: %v\n", args[1], err)
		return
	}
	r.SetDelay(id, d)
	fmt.Printf("delaying traffic from %s by %s\n", id, d)
}

func handleThreshold(r *relay.Relay, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: threshold <fraction>")
		return
	}
	x, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		fmt.Printf("invalid threshold %q: %v\n", args[0], err)
		return
	}
	r.SetThreshold(x)
	fmt.Printf("threshold recorded as %.2f (reporting only, §4.8 is enforced per-node)\n", x)
}

func handleDetect(obs *observer.Observer, args []string) {
	if len(args) == 1 && args[0] == "reset" {
		obs.Reset()
		fmt.Println("anomaly alerts cleared")
		return
	}
	alerts := obs.Alerts()
	if len(alerts) == 0 {
		fmt.Println("no anomalies flagged")
		return
	}
	for _, a := range alerts {
		fmt.Printf("[%s] %s: %s (%s)\n", a.Timestamp.Format(time.RFC3339), a.Kind, a.ValidatorID, a.Detail)
	}
}

func printAdminHelp() {
	fmt.Println("commands: step, stop, continue, drop <id> [on|off|toggle], delay <id> <duration|off>, threshold <x>, nodes, attacks, detect [reset], exit")
}
