package config

import (
	"github.com/barc/reactivemover/internal/behaviors"
	"github.com/barc/reactivemover/internal/transport"
)

func (c Config) Turn() behaviors.TurnConfig {
	return behaviors.TurnConfig{
		ForwardSpeed: c.ForwardSpeed,
		TurningSpeed: c.TurningSpeed,
	}
}

// Bridge maps the [base] section onto a transport config for one run.
func (c Config) Bridge(runID string) transport.BridgeConfig {
	out := transport.DefaultBridgeConfig()
	out.Address = c.Base.Address
	out.ConnectTimeout = c.Base.ConnectTimeout
	out.WriteTimeout = c.Base.WriteTimeout
	out.MaxConnectAttempts = c.Base.MaxConnectAttempts
	out.AuthToken = c.Base.AuthToken
	out.Backoff = transport.BackoffConfig{
		InitialDelay: c.Base.Backoff.InitialDelay,
		Multiplier:   c.Base.Backoff.Multiplier,
		MaxDelay:     c.Base.Backoff.MaxDelay,
		Jitter:       c.Base.Backoff.Jitter,
	}
	out.LaserTopic = c.LaserTopic
	out.TwistTopic = c.TwistTopic
	out.NodeID = c.NodeID
	out.RunID = runID
	return out
}
