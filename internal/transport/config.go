package transport

import (
	"fmt"
	"strings"
	"time"

	"github.com/barc/reactivemover/internal/protocol/frame"
)

// BridgeConfig defines the base link and the bus topics it bridges.
type BridgeConfig struct {
	Address            string
	ConnectTimeout     time.Duration
	WriteTimeout       time.Duration
	MaxConnectAttempts int
	Backoff            BackoffConfig

	LaserTopic string
	TwistTopic string
	NodeID     string
	RunID      string
	AuthToken  string

	Limits frame.Limits
}

func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		ConnectTimeout: 5 * time.Second,
		WriteTimeout:   time.Second,
		Backoff:        DefaultBackoffConfig(),
		LaserTopic:     "base_scan",
		TwistTopic:     "cmd_vel",
		NodeID:         "reactive_mover",
		Limits:         frame.DefaultLimits(),
	}
}

func (c BridgeConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return fmt.Errorf("transport: bridge address required")
	}
	if strings.TrimSpace(c.LaserTopic) == "" || strings.TrimSpace(c.TwistTopic) == "" {
		return fmt.Errorf("transport: bridge topics required")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("transport: connect_timeout must be > 0")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("transport: write_timeout must be > 0")
	}
	if c.MaxConnectAttempts < 0 {
		return fmt.Errorf("transport: max_connect_attempts must be >= 0")
	}
	if c.Limits.MaxPayloadBytes == 0 {
		return fmt.Errorf("transport: payload limit must be > 0")
	}
	return nil
}
