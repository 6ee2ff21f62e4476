package config

import "time"

// Default returns the built-in defaults for a node identified by nodeID,
// applied before the conf file and before flags (§AMBIENT STACK
// "Configuration", three-layer precedence).
func Default(nodeID string) *Config {
	return &Config{
		NodeID:  nodeID,
		DataDir: DefaultDataDir(nodeID),
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 9090,
		},
		Sync: SyncConfig{
			Timeout: 5 * time.Second,
		},
		Vote: VoteConfig{
			Enabled:   false,
			Timeout:   3 * time.Second,
			Threshold: 0.66,
		},
		InitialState: make(map[string]AccountAlloc),
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}
