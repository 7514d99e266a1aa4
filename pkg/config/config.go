// Package config loads cairnq's YAML configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Backend names the on-disk storage implementation a Config selects.
type Backend string

const (
	BackendSlotFile Backend = "slotfile"
	BackendBoltKV   Backend = "boltkv"
)

// Config is cairnq's on-disk YAML configuration. Every field has a
// documented default and may be omitted.
//
// There is no metrics_addr or slot_len field: /metrics is served on
// the same listen_addr mux as /push et al. (pkg/api/server.go), and
// the slot-file backend derives its fixed record size entirely from
// max_contents_len (pkg/storage/slotfile.Open) — a second knob for
// either would have no independent effect on the running server.
type Config struct {
	ListenAddr     string  `yaml:"listen_addr"`
	DataDir        string  `yaml:"data_dir"`
	Backend        Backend `yaml:"backend"`
	MaxContentsLen uint32  `yaml:"max_contents_len"`
}

// Default returns the configuration cairnq runs with if no file and no
// flags are given.
func Default() Config {
	return Config{
		ListenAddr:     ":8080",
		DataDir:        "./data",
		Backend:        BackendSlotFile,
		MaxContentsLen: 65536,
	}
}

// Load reads a YAML config file at path, overlaying it onto Default().
// A missing path is not an error; Load returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
