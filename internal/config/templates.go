package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Pattern Scanner Configuration

[engine]
# Number of candles in the analysis window
window_size = 120
# Neighbours on each side a turning point must strictly exceed
extrema_order = 3
# Close-to-close return volatility below which matching is skipped
min_volatility = 0.0001

[volume]
# Candles averaged for the breakout volume baseline
lookback = 20
# Latest volume must reach this multiple of the baseline
multiplier = 1.5

[projection]
# Fraction of pattern height projected beyond the neckline (0.9 measured move, 0.618 fibonacci)
factor = 0.9
# Points per projection segment
steps = 10
# Chart x coordinates of the current bar, the neckline touch and the target deadline
start_x = 40.0
neckline_x = 55.0
deadline_x = 75.0
# Jitter amplitude as a fraction of each segment's vertical span
jitter = 0.2
# Random seed for projection jitter (0 seeds from the clock)
seed = 0

[stability]
reinforce_step = 1
decay_step = 2
max_stability = 15
# Stability needed before a pattern is locked
lock_threshold = 5
# A single call above this confidence locks immediately
override_confidence = 0.99
# Display gate
display_confidence = 0.45
display_stability = 3

[server]
host = "127.0.0.1"
port = 5001
read_timeout = "10s"
write_timeout = "10s"
shutdown_timeout = "10s"
cors = true

[logging]
# debug, info, warn, error
level = "info"
console = true
file = true

[store]
# db_path = "~/.config/pattern-scanner/candles.db"

# Circuit breaker in front of the store while serving.
[store.circuit]
failure_threshold = 5
success_threshold = 2
open_timeout = "30s"

# Extra templates are appended after the builtin library.
# [[templates]]
# name = "BROADENING_BOTTOM"
# shape = [6, 4, 7, 2, 9, 1, 10]
# bias = "bullish"
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
