package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/barc/reactivemover/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadEmptyFileKeepsDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Equal(t, "base_scan", cfg.LaserTopic)
	require.Equal(t, "cmd_vel", cfg.TwistTopic)
	require.Equal(t, 10*time.Millisecond, cfg.TickInterval)
	require.Zero(t, cfg.StaleAfter)
	require.Empty(t, cfg.Base.Address)
}

func TestLoadOverridesOnlyDefinedKeys(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(writeConfig(t, `
turning_speed = 0.8
tick_interval = "20ms"
stale_after = "500ms"
cors_origins = [" http://a ", ""]

[base]
address = "10.0.0.2:7400"
max_connect_attempts = 3
auth_token = " s3cret "

[base.backoff]
jitter = false
`))
	require.NoError(t, err)
	require.Equal(t, 0.1, cfg.ForwardSpeed)
	require.Equal(t, 0.8, cfg.TurningSpeed)
	require.Equal(t, 20*time.Millisecond, cfg.TickInterval)
	require.Equal(t, 500*time.Millisecond, cfg.StaleAfter)
	require.Equal(t, []string{"http://a"}, cfg.CorsOrigins)
	require.Equal(t, "10.0.0.2:7400", cfg.Base.Address)
	require.Equal(t, 3, cfg.Base.MaxConnectAttempts)
	require.Equal(t, "s3cret", cfg.Base.AuthToken)
	require.Equal(t, "s3cret", cfg.Bridge("run-1").AuthToken)
	require.Equal(t, 5*time.Second, cfg.Base.ConnectTimeout)
	require.Equal(t, 250*time.Millisecond, cfg.Base.Backoff.InitialDelay)
	require.Equal(t, 2.0, cfg.Base.Backoff.Multiplier)
	require.False(t, cfg.Base.Backoff.Jitter)
}

func TestParseRejectsBadDuration(t *testing.T) {
	testlog.Start(t)
	_, err := Parse(`tick_interval = "fast"`)
	require.ErrorIs(t, err, ErrInvalid)
	require.Contains(t, err.Error(), "tick_interval")

	_, err = Parse("[base]\nconnect_timeout = \"soon\"\n")
	require.ErrorIs(t, err, ErrInvalid)
	require.Contains(t, err.Error(), "base.connect_timeout")
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	testlog.Start(t)
	_, err := Parse(`forward_sped = 0.2`)
	require.ErrorIs(t, err, ErrInvalid)
	require.Contains(t, err.Error(), "forward_sped")
}

func TestValidateRejects(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"empty laser topic":      `laser_topic = " "`,
		"empty twist topic":      `twist_topic = ""`,
		"same topics":            `twist_topic = "base_scan"`,
		"zero forward speed":     `forward_speed = 0.0`,
		"negative turning speed": `turning_speed = -0.5`,
		"zero tick interval":     `tick_interval = "0s"`,
		"negative stale_after":   `stale_after = "-1s"`,
		"empty node id":          `node_id = ""`,
		"bad base timeout":       "[base]\naddress = \"127.0.0.1:1\"\nwrite_timeout = \"0s\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(body)
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestBaseValidationSkippedWhenDisabled(t *testing.T) {
	testlog.Start(t)
	cfg, err := Parse("[base]\nwrite_timeout = \"0s\"\n")
	require.NoError(t, err)
	require.Empty(t, cfg.Base.Address)
}

func TestTemplateParsesAndWrites(t *testing.T) {
	testlog.Start(t)
	cfg, err := Parse(Template())
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:7080", cfg.AdminListen)
	require.Equal(t, "127.0.0.1:7400", cfg.Base.Address)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, WriteTemplate(path, false))
	require.Error(t, WriteTemplate(path, false))
	require.NoError(t, WriteTemplate(path, true))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestConvertToComponentConfigs(t *testing.T) {
	testlog.Start(t)
	cfg := Default()
	cfg.Base.Address = "127.0.0.1:7400"

	turn := cfg.Turn()
	require.Equal(t, 0.1, turn.ForwardSpeed)
	require.Equal(t, 0.5, turn.TurningSpeed)

	br := cfg.Bridge("run-1")
	require.NoError(t, br.Validate())
	require.Equal(t, "run-1", br.RunID)
	require.Equal(t, "base_scan", br.LaserTopic)
	require.Equal(t, "cmd_vel", br.TwistTopic)
	require.Equal(t, time.Second, br.WriteTimeout)
	require.True(t, br.Backoff.Jitter)
}
