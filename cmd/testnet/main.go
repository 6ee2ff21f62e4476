// Command testnet boots a YAML-described multi-node local scenario
// in-process — an N-node generalization of the teacher's hardcoded 2-node
// testnet bring-up — runs it for the scenario's declared duration, and
// reports whether every node's chain converged.
//
// Usage:
//
//	testnet --scenario=scenario.yaml
//	testnet            // runs the built-in 2-node demo scenario
package main

import (
	"flag"
	"fmt"
	"os"

	klog "github.com/GZK1108/posnet/internal/log"

	"github.com/GZK1108/posnet/internal/experiment"
)

// defaultScenario mirrors the teacher's cmd/testnet 2-node convergence
// demo: one staked forger, one follower, no faults, 10 second run.
const defaultScenario = `
relay:
  step_interval: 1s
initial_state:
  alice:
    balance: 1000
    stake: 100
  bob:
    balance: 1000
nodes:
  - id: alice
    vote_enabled: false
  - id: bob
    vote_enabled: false
duration: 10s
`

func main() {
	scenarioPath := flag.String("scenario", "", "path to a scenario YAML file (defaults to a built-in 2-node demo)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	if err := klog.Init(*logLevel, false, ""); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := klog.WithComponent("testnet")

	var s *experiment.Scenario
	var err error
	if *scenarioPath != "" {
		s, err = experiment.Load(*scenarioPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load scenario")
		}
	} else {
		tmp, writeErr := os.CreateTemp("", "posnet-default-scenario-*.yaml")
		if writeErr != nil {
			logger.Fatal().Err(writeErr).Msg("failed to stage built-in scenario")
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.WriteString(defaultScenario); err != nil {
			logger.Fatal().Err(err).Msg("failed to stage built-in scenario")
		}
		tmp.Close()
		s, err = experiment.Load(tmp.Name())
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to parse built-in scenario")
		}
	}

	logger.Info().Int("nodes", len(s.Nodes)).Dur("duration", s.Duration).Msg("running scenario")

	report, err := experiment.Run(s)
	if err != nil {
		logger.Fatal().Err(err).Msg("scenario run failed")
	}

	for _, n := range report.Nodes {
		logger.Info().Str("node", n.ID).Uint64("height", n.Height).Str("head", n.Head[:16]+"...").Msg("final chain state")
	}

	if report.Converged {
		logger.Info().Msg("SUCCESS: all nodes converged")
		return
	}
	logger.Error().Msg("FAILURE: chains did not converge")
	os.Exit(1)
}
