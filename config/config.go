// Package config implements YAML-driven server configuration, grounded on
// the teacher's pkg/config loader pattern (os.ReadFile + yaml.Unmarshal).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Chomosuke9/Bubblekit/logging"
)

// Timeouts holds the controller's timer durations (spec.md §4.7).
type Timeouts struct {
	FirstEvent time.Duration `yaml:"first_event"`
	Idle       time.Duration `yaml:"idle"`
	Heartbeat  time.Duration `yaml:"heartbeat"`
}

// DefaultTimeouts returns the spec-mandated defaults: 30s first-event, 60s
// idle, 15s heartbeat.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		FirstEvent: 30 * time.Second,
		Idle:       60 * time.Second,
		Heartbeat:  15 * time.Second,
	}
}

// Redis holds optional Redis connection settings for the persistent
// conversation-index variant. Empty Addr means "use the in-memory index".
type Redis struct {
	Addr   string `yaml:"addr"`
	Prefix string `yaml:"prefix"`
	TTL    time.Duration `yaml:"ttl"`
}

// Server is the top-level server configuration.
type Server struct {
	ListenAddr     string        `yaml:"listen_addr"`
	SinkBufferSize int           `yaml:"sink_buffer_size"`
	Timeouts       Timeouts      `yaml:"timeouts"`
	Redis          Redis         `yaml:"redis"`
	Logging        logging.Spec  `yaml:"logging"`
}

// Default returns a Server configuration usable without any YAML file:
// listen on :8080, in-memory index, spec-mandated timer defaults, info-
// level JSON logging.
func Default() Server {
	return Server{
		ListenAddr:     ":8080",
		SinkBufferSize: 256,
		Timeouts:       DefaultTimeouts(),
		Logging: logging.Spec{
			DefaultLevel: "info",
			Format:       logging.FormatJSON,
		},
	}
}

// Load reads and parses a YAML server configuration file, starting from
// Default() so any field the file omits keeps its default value.
func Load(path string) (Server, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Server{}, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Server{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}
