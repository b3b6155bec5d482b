// Package config loads the reactivemover TOML configuration.
//
// Defaults come first; only keys present in the file override them. Durations
// are TOML strings parsed with time.ParseDuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the node configuration after defaults and overrides.
type Config struct {
	NodeID       string
	LaserTopic   string
	TwistTopic   string
	ForwardSpeed float64
	TurningSpeed float64
	TickInterval time.Duration
	StaleAfter   time.Duration
	AdminListen  string
	CorsOrigins  []string
	Base         BaseConfig
}

// BaseConfig is the robot base link. An empty Address disables it.
type BaseConfig struct {
	Address            string
	ConnectTimeout     time.Duration
	WriteTimeout       time.Duration
	MaxConnectAttempts int
	AuthToken          string
	Backoff            BackoffConfig
}

type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

func Default() Config {
	return Config{
		NodeID:       "reactive_mover",
		LaserTopic:   "base_scan",
		TwistTopic:   "cmd_vel",
		ForwardSpeed: 0.1,
		TurningSpeed: 0.5,
		TickInterval: 10 * time.Millisecond,
		CorsOrigins:  []string{},
		Base: BaseConfig{
			ConnectTimeout: 5 * time.Second,
			WriteTimeout:   time.Second,
			Backoff: BackoffConfig{
				InitialDelay: 250 * time.Millisecond,
				Multiplier:   2.0,
				MaxDelay:     5 * time.Second,
				Jitter:       true,
			},
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.NodeID) == "" {
		return fmt.Errorf("%w: node_id is required", ErrInvalid)
	}
	if strings.TrimSpace(c.LaserTopic) == "" {
		return fmt.Errorf("%w: laser_topic is required", ErrInvalid)
	}
	if strings.TrimSpace(c.TwistTopic) == "" {
		return fmt.Errorf("%w: twist_topic is required", ErrInvalid)
	}
	if strings.TrimSpace(c.LaserTopic) == strings.TrimSpace(c.TwistTopic) {
		return fmt.Errorf("%w: laser_topic and twist_topic must differ", ErrInvalid)
	}
	if c.ForwardSpeed <= 0 {
		return fmt.Errorf("%w: forward_speed must be > 0", ErrInvalid)
	}
	if c.TurningSpeed <= 0 {
		return fmt.Errorf("%w: turning_speed must be > 0", ErrInvalid)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("%w: tick_interval must be > 0", ErrInvalid)
	}
	if c.StaleAfter < 0 {
		return fmt.Errorf("%w: stale_after must be >= 0", ErrInvalid)
	}
	if c.Base.Address != "" {
		if err := c.Base.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (b BaseConfig) Validate() error {
	if b.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: base.connect_timeout must be > 0", ErrInvalid)
	}
	if b.WriteTimeout <= 0 {
		return fmt.Errorf("%w: base.write_timeout must be > 0", ErrInvalid)
	}
	if b.MaxConnectAttempts < 0 {
		return fmt.Errorf("%w: base.max_connect_attempts must be >= 0", ErrInvalid)
	}
	if b.Backoff.InitialDelay < 0 || b.Backoff.MaxDelay < 0 {
		return fmt.Errorf("%w: base.backoff delays must be >= 0", ErrInvalid)
	}
	return nil
}

type fileConfig struct {
	NodeID       string   `toml:"node_id"`
	LaserTopic   string   `toml:"laser_topic"`
	TwistTopic   string   `toml:"twist_topic"`
	ForwardSpeed float64  `toml:"forward_speed"`
	TurningSpeed float64  `toml:"turning_speed"`
	TickInterval string   `toml:"tick_interval"`
	StaleAfter   string   `toml:"stale_after"`
	AdminListen  string   `toml:"admin_listen"`
	CorsOrigins  []string `toml:"cors_origins"`
	Base         fileBase `toml:"base"`
}

type fileBase struct {
	Address            string      `toml:"address"`
	ConnectTimeout     string      `toml:"connect_timeout"`
	WriteTimeout       string      `toml:"write_timeout"`
	MaxConnectAttempts int         `toml:"max_connect_attempts"`
	AuthToken          string      `toml:"auth_token"`
	Backoff            fileBackoff `toml:"backoff"`
}

type fileBackoff struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

// Load reads path, applies it over Default, and validates the result.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := apply(Default(), raw, meta)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse is Load for in-memory TOML.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	return apply(Default(), raw, meta)
}

func apply(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%w: unknown keys: %s", ErrInvalid, strings.Join(keys, ", "))
	}

	if meta.IsDefined("node_id") {
		cfg.NodeID = strings.TrimSpace(raw.NodeID)
	}
	if meta.IsDefined("laser_topic") {
		cfg.LaserTopic = strings.TrimSpace(raw.LaserTopic)
	}
	if meta.IsDefined("twist_topic") {
		cfg.TwistTopic = strings.TrimSpace(raw.TwistTopic)
	}
	if meta.IsDefined("forward_speed") {
		cfg.ForwardSpeed = raw.ForwardSpeed
	}
	if meta.IsDefined("turning_speed") {
		cfg.TurningSpeed = raw.TurningSpeed
	}
	if err := parseDuration(meta, raw.TickInterval, &cfg.TickInterval, "tick_interval"); err != nil {
		return Config{}, err
	}
	if err := parseDuration(meta, raw.StaleAfter, &cfg.StaleAfter, "stale_after"); err != nil {
		return Config{}, err
	}
	if meta.IsDefined("admin_listen") {
		cfg.AdminListen = strings.TrimSpace(raw.AdminListen)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}

	if meta.IsDefined("base", "address") {
		cfg.Base.Address = strings.TrimSpace(raw.Base.Address)
	}
	if err := parseDuration(meta, raw.Base.ConnectTimeout, &cfg.Base.ConnectTimeout, "base", "connect_timeout"); err != nil {
		return Config{}, err
	}
	if err := parseDuration(meta, raw.Base.WriteTimeout, &cfg.Base.WriteTimeout, "base", "write_timeout"); err != nil {
		return Config{}, err
	}
	if meta.IsDefined("base", "max_connect_attempts") {
		cfg.Base.MaxConnectAttempts = raw.Base.MaxConnectAttempts
	}
	if meta.IsDefined("base", "auth_token") {
		cfg.Base.AuthToken = strings.TrimSpace(raw.Base.AuthToken)
	}
	if err := parseDuration(meta, raw.Base.Backoff.InitialDelay, &cfg.Base.Backoff.InitialDelay, "base", "backoff", "initial_delay"); err != nil {
		return Config{}, err
	}
	if meta.IsDefined("base", "backoff", "multiplier") {
		cfg.Base.Backoff.Multiplier = raw.Base.Backoff.Multiplier
	}
	if err := parseDuration(meta, raw.Base.Backoff.MaxDelay, &cfg.Base.Backoff.MaxDelay, "base", "backoff", "max_delay"); err != nil {
		return Config{}, err
	}
	if meta.IsDefined("base", "backoff", "jitter") {
		cfg.Base.Backoff.Jitter = raw.Base.Backoff.Jitter
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseDuration(meta toml.MetaData, raw string, out *time.Duration, key ...string) error {
	if !meta.IsDefined(key...) {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalid, strings.Join(key, "."), err)
	}
	*out = d
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
