package config

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// Flags holds parsed command-line flags, the highest-precedence config
// layer (§AMBIENT STACK "Configuration").
type Flags struct {
	Help bool

	NodeID  string
	DataDir string
	Config  string

	ServerHost string
	ServerPort int

	SyncTimeout time.Duration

	VoteEnabled   bool
	VoteTimeout   time.Duration
	VoteThreshold float64

	LogLevel string
	LogFile  string
	LogJSON  bool

	Args []string

	// Explicitly-set bool flags, to distinguish "false" from "not given".
	SetVoteEnabled bool
	SetLogJSON     bool
}

// ParseFlags parses os.Args[1:] into a Flags struct.
func ParseFlags() *Flags {
	f := &Flags{}
	fs := flag.NewFlagSet("posnet", flag.ContinueOnError)

	fs.BoolVar(&f.Help, "help", false, "show help message")
	fs.BoolVar(&f.Help, "h", false, "show help message (shorthand)")

	fs.StringVar(&f.NodeID, "node-id", "", "this node's account/validator id")
	fs.StringVar(&f.DataDir, "datadir", "", "data directory path")
	fs.StringVar(&f.Config, "config", "", "config file path")
	fs.StringVar(&f.Config, "c", "", "config file path (shorthand)")

	fs.StringVar(&f.ServerHost, "server-host", "", "relay host to dial")
	fs.IntVar(&f.ServerPort, "server-port", 0, "relay port to dial")

	fs.DurationVar(&f.SyncTimeout, "sync-timeout", 0, "seconds to collect SYNC_RESPONSE")

	fs.BoolVar(&f.VoteEnabled, "vote-enabled", false, "enable the vote tracker")
	fs.DurationVar(&f.VoteTimeout, "vote-timeout", 0, "seconds to gather quorum")
	fs.Float64Var(&f.VoteThreshold, "vote-threshold", 0, "fraction of known validators required")

	fs.StringVar(&f.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "output logs as JSON")

	fs.Usage = printUsage

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	f.SetVoteEnabled = isFlagSet(fs, "vote-enabled")
	f.SetLogJSON = isFlagSet(fs, "log-json")
	f.Args = fs.Args()

	return f
}

// ApplyFlags applies command-line flags to cfg, the richest layer.
func ApplyFlags(cfg *Config, f *Flags) {
	if f.NodeID != "" {
		cfg.NodeID = f.NodeID
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.ServerHost != "" {
		cfg.Server.Host = f.ServerHost
	}
	if f.ServerPort != 0 {
		cfg.Server.Port = f.ServerPort
	}
	if f.SyncTimeout != 0 {
		cfg.Sync.Timeout = f.SyncTimeout
	}
	if f.SetVoteEnabled {
		cfg.Vote.Enabled = f.VoteEnabled
	}
	if f.VoteTimeout != 0 {
		cfg.Vote.Timeout = f.VoteTimeout
	}
	if f.VoteThreshold != 0 {
		cfg.Vote.Threshold = f.VoteThreshold
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == name {
			found = true
		}
	})
	return found
}

func printUsage() {
	usage := `posnet node - proof-of-stake simulation node

Usage:
  nodechaind --node-id=<id> [options]
  nodechaind --help

Core Options:
  --node-id      This node's account/validator id (required)
  --datadir      Data directory (default: ~/.posnet/<node-id>)
  --config, -c   Config file path (default: <datadir>/node.conf)

Relay Options:
  --server-host  Relay host to dial (default: 127.0.0.1)
  --server-port  Relay port to dial (default: 9090)

Sync / Vote Options:
  --sync-timeout   Seconds to collect SYNC_RESPONSE (default: 5s)
  --vote-enabled   Enable the vote tracker
  --vote-timeout   Seconds to gather quorum (default: 3s)
  --vote-threshold Fraction of known validators required (default: 0.66)

Logging Options:
  --log-level    Log level: debug, info, warn, error (default: info)
  --log-file     Log file path, also logged to stdout (default: <datadir>/logs/node.log)
  --log-json     Output logs as JSON
`
	fmt.Print(usage)
}

// Load loads configuration with three-layer precedence: defaults, then
// the node's conf file, then command-line flags.
func Load() (*Config, *Flags, error) {
	flags := ParseFlags()
	if flags.Help {
		printUsage()
		os.Exit(0)
	}
	if flags.NodeID == "" {
		return nil, nil, fmt.Errorf("--node-id is required")
	}

	cfg := Default(flags.NodeID)
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDir(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dir: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	ApplyFlags(cfg, flags)

	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, flags, nil
}

// EnsureDataDir creates the data directory and a default conf file if one
// doesn't already exist — idempotent, safe on every startup.
func EnsureDataDir(cfg *Config) error {
	dirs := []string{cfg.DataDir, cfg.ChainDataDir(), cfg.LogsDir()}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.NodeID); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}
	return nil
}
