package config

import (
	"fmt"
	"os"
)

func Template() string {
	return nodeTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(nodeTemplate), 0o600)
}

const nodeTemplate = `# reactivemover node configuration
node_id = "reactive_mover"
laser_topic = "base_scan"
twist_topic = "cmd_vel"

forward_speed = 0.1
turning_speed = 0.5
tick_interval = "10ms"

# Halt the base when no scan arrived for this long; "0s" disables the watchdog.
stale_after = "0s"

# Admin HTTP (health, status, metrics); empty disables it.
admin_listen = "127.0.0.1:7080"
cors_origins = ["http://localhost:3000"]

[base]
# Robot base TCP address; empty keeps the node on the in-process bus only.
address = "127.0.0.1:7400"
connect_timeout = "5s"
write_timeout = "1s"
max_connect_attempts = 0
# Shared token presented in the hello frame; empty sends none.
auth_token = ""

[base.backoff]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
jitter = true
`
