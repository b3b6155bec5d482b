package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/barc/reactivemover/internal/config"
	"github.com/barc/reactivemover/internal/logging"
)

const envBaseAddress = "REACTIVEMOVER_BASE_ADDRESS"

// loadConfig reads path over the defaults. A missing file means defaults; the
// base address may be overridden from the environment for quick bench runs.
func loadConfig(path string) (config.Config, error) {
	cfg := config.Default()
	if strings.TrimSpace(path) != "" {
		loaded, err := config.Load(path)
		switch {
		case err == nil:
			cfg = loaded
		case errors.Is(err, fs.ErrNotExist):
			logger := logging.Component("reactivemover")
			logger.Warn().Str("config", path).Msg("config file not found, using defaults")
		default:
			return config.Config{}, err
		}
	}

	if v, ok := os.LookupEnv(envBaseAddress); ok {
		cfg.Base.Address = strings.TrimSpace(v)
		if err := cfg.Validate(); err != nil {
			return config.Config{}, fmt.Errorf("%s: %w", envBaseAddress, err)
		}
	}
	return cfg, nil
}
