package devicesim

import (
	"strings"
	"time"
)

// Scheme is the port name prefix that selects the simulator.
const Scheme = "sim://"

// IsSimPort reports whether a port name selects the simulator.
func IsSimPort(name string) bool {
	return strings.HasPrefix(name, Scheme)
}

// Demo returns a configuration with a few files and periodic output, used
// when the CLI is pointed at sim://.
func Demo() Config {
	return Config{
		Files: map[string][]byte{
			"config.json": []byte(`{"wifi":"lab","interval":30}` + "\n"),
			"boot.log":    []byte(strings.Repeat("I (12) boot: ok\n", 200)),
		},
		LogInterval:     time.Second,
		MonitorInterval: 3 * time.Second,
		Commands: map[string]string{
			"version": "sim-1.0",
		},
	}
}
