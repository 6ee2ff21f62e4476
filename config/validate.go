package config

import "fmt"

// Validate checks a node's config for obvious operator mistakes before
// the node opens storage or dials the relay.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.NodeID == "" {
		return fmt.Errorf("node.id must not be empty")
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in range [0, 65535]")
	}
	if cfg.Sync.Timeout <= 0 {
		return fmt.Errorf("sync.timeout must be positive")
	}
	if cfg.Vote.Enabled {
		if cfg.Vote.Timeout <= 0 {
			return fmt.Errorf("vote.timeout must be positive when vote.enabled")
		}
		if cfg.Vote.Threshold <= 0 || cfg.Vote.Threshold > 1 {
			return fmt.Errorf("vote.threshold must be in (0, 1]")
		}
	}
	return nil
}
