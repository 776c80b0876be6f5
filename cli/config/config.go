package config

import (
	"fmt"
	"time"
)

// Config represents an espterm.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	Port            string          `yaml:"port"`
	Baud            int             `yaml:"baud"`
	ReadTimeout     Duration        `yaml:"read_timeout"`
	ResponseTimeout Duration        `yaml:"response_timeout"`
	SettleDelay     Duration        `yaml:"settle_delay"`
	IdleFlush       Duration        `yaml:"idle_flush"`
	Contexts        []ContextConfig `yaml:"contexts"`
	Archive         ArchiveConfig   `yaml:"archive"`
	Adapter         AdapterConfig   `yaml:"adapter"`
	Log             LogConfig       `yaml:"log"`
}

// ContextConfig declares an extra tag-delimited output context.
// Lines inside the tags are written to File, or to stderr when File is empty.
type ContextConfig struct {
	Name     string `yaml:"name"`
	StartTag string `yaml:"start_tag"`
	EndTag   string `yaml:"end_tag"`
	File     string `yaml:"file,omitempty"`
}

// ArchiveConfig holds archive storage defaults from the config file.
type ArchiveConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds event adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Prefix  string            `yaml:"prefix,omitempty"` // redis channel and key prefix
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
	// Events limits webhook delivery to these event types.
	Events []string `yaml:"events,omitempty"`
	// MonitorInterval is the minimum gap between monitor snapshots;
	// negative publishes every block.
	MonitorInterval Duration `yaml:"monitor_interval,omitempty"`
}

// LogConfig selects the log level and destination.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate checks values that cannot be caught by YAML decoding.
func (c *Config) Validate() error {
	if c.Baud < 0 {
		return fmt.Errorf("baud must be positive, got %d", c.Baud)
	}
	seen := make(map[string]bool, len(c.Contexts))
	for i, ctx := range c.Contexts {
		if ctx.Name == "" {
			return fmt.Errorf("contexts[%d]: name is required", i)
		}
		if ctx.StartTag == "" || ctx.EndTag == "" {
			return fmt.Errorf("context %q: start_tag and end_tag are required", ctx.Name)
		}
		if seen[ctx.Name] {
			return fmt.Errorf("context %q declared twice", ctx.Name)
		}
		seen[ctx.Name] = true
	}
	switch c.Archive.Backend {
	case "", "fs", "s3":
	default:
		return fmt.Errorf("archive.backend must be fs or s3, got %q", c.Archive.Backend)
	}
	switch c.Adapter.Type {
	case "", "redis", "webhook":
	default:
		return fmt.Errorf("adapter.type must be redis or webhook, got %q", c.Adapter.Type)
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		return fmt.Errorf("adapter.url is required for adapter type %q", c.Adapter.Type)
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		return fmt.Errorf("adapter.retries must be >= 0, got %d", *c.Adapter.Retries)
	}
	for _, ev := range c.Adapter.Events {
		switch ev {
		case "transfer_completed", "monitor_snapshot":
		default:
			return fmt.Errorf("adapter.events: unknown event type %q", ev)
		}
	}
	return nil
}
