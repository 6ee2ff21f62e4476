// Package config handles application configuration for a simulated node:
// where to find the relay, how long to wait on sync/vote collection, and
// the account balances/stakes to seed the ledger with at genesis.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds a node's full runtime configuration.
type Config struct {
	// NodeID is this node's account/validator id — used as the wire
	// HELLO sender_id and as the election/ledger identity.
	NodeID string `conf:"node.id"`

	// DataDir is where this node's chain database and conf file live.
	DataDir string `conf:"datadir"`

	Server       ServerConfig
	Sync         SyncConfig
	Vote         VoteConfig
	InitialState map[string]AccountAlloc
	Log          LogConfig
}

// ServerConfig is the relay endpoint a node dials on startup
// (§6 "server.host", "server.port").
type ServerConfig struct {
	Host string `conf:"server.host"`
	Port int    `conf:"server.port"`
}

// Addr renders host:port for net.Dial/net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SyncConfig bounds the bootstrap sync engine's SYNC_RESPONSE collection
// window (§4.9, §6 "sync.timeout").
type SyncConfig struct {
	Timeout time.Duration `conf:"sync.timeout"`
}

// VoteConfig gates and parameterizes the optional vote tracker
// (§4.8, §6 "vote.enabled/timeout/threshold").
type VoteConfig struct {
	Enabled   bool          `conf:"vote.enabled"`
	Timeout   time.Duration `conf:"vote.timeout"`
	Threshold float64       `conf:"vote.threshold"`
}

// AccountAlloc seeds one account's starting ledger state
// (`initial_state.<id>.balance/stake`, §6).
type AccountAlloc struct {
	Balance float64
	Stake   float64
}

// LogConfig controls the zerolog sink (console + optional file, JSON or
// colored text), matching internal/log.Init's parameters.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// ChainDataDir is the subdirectory badger opens for this node's chain.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, "chaindata")
}

// ConfigFile is the per-node flat-file path (`datadir/node.conf`).
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "node.conf")
}

// LogsDir is where the node's log file is written when Log.File is empty.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// DefaultDataDir returns `~/.posnet/<nodeID>`, the per-node data directory
// used when neither a flag nor a file specifies one explicitly.
func DefaultDataDir(nodeID string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".posnet", nodeID)
}
