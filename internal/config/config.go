// Package config handles configuration loading via viper, following
// the teacher's internal/config/config.go wrapper-struct pattern
// (root key, env-var override, defaulted via SetDefault) adapted from
// the teacher's "capture-agent" orchestration-agent schema down to
// spec.md §6's actual external-interface surface.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration (spec.md §6).
type Config struct {
	Capture CaptureConfig `mapstructure:"capture"`
	Storage StorageConfig `mapstructure:"storage"`
	HEP     HEPConfig     `mapstructure:"hep"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// CaptureConfig configures capture inputs/outputs (spec.md §4.10-§4.12).
type CaptureConfig struct {
	Interface   string `mapstructure:"interface"`
	Offline     string `mapstructure:"offline"` // path to a pcap file, "-" for stdin
	SnapLen     int    `mapstructure:"snaplen"`
	Promisc     bool   `mapstructure:"promisc"`
	TimeoutMS   int    `mapstructure:"timeout_ms"`
	Filter      string `mapstructure:"filter"` // BPF expression
	OutputFile  string `mapstructure:"output_file"`
	RTP         bool   `mapstructure:"rtp"` // retain RTP payload bytes
	Mode        string `mapstructure:"mode"` // "none" drops frame bytes after parsing
	Limit       int    `mapstructure:"limit"`
	MemoryLimit uint64 `mapstructure:"memory_limit"`
}

// StorageConfig configures the storage stage (spec.md §4.13).
type StorageConfig struct {
	MaxQueueSize int    `mapstructure:"max_queue_size"`
	Rotate       bool   `mapstructure:"rotate"`
	Match        string `mapstructure:"match"`
	Invert       bool   `mapstructure:"invert"`
	OnlyInvite   bool   `mapstructure:"only_invite"`
	OnlyComplete bool   `mapstructure:"only_complete"`
}

// HEPConfig configures the HEP listener/sender (spec.md §4.9/§6).
type HEPConfig struct {
	ListenURL string `mapstructure:"listen_url"`
	AuthKey   string `mapstructure:"auth_key"`
	NodeName  string `mapstructure:"node_name"`
	Servers   []string `mapstructure:"servers"` // HEP output fan-out targets
}

// LogConfig configures logging (ambient stack).
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	Stdout     bool   `mapstructure:"stdout"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// MetricsConfig configures the Prometheus exporter (domain stack).
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type configRoot struct {
	Sngrep Config `mapstructure:"sngrep"`
}

// Load reads configuration from path (YAML/JSON/TOML, whatever viper
// detects from the extension), applying env-var overrides under the
// SNGREP_ prefix and the defaults set in setDefaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg := root.Sngrep
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sngrep.capture.snaplen", 65535)
	v.SetDefault("sngrep.capture.promisc", true)
	v.SetDefault("sngrep.capture.timeout_ms", 200)
	v.SetDefault("sngrep.capture.mode", "all")

	v.SetDefault("sngrep.storage.max_queue_size", 10000)
	v.SetDefault("sngrep.storage.rotate", false)

	v.SetDefault("sngrep.log.level", "info")
	v.SetDefault("sngrep.log.stdout", true)

	v.SetDefault("sngrep.metrics.enabled", false)
	v.SetDefault("sngrep.metrics.listen", ":9090")
}
