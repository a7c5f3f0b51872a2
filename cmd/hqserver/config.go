// Copyright 2024 The proxygen-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jdelliot/proxygen"
)

// Config is the sample-server configuration. Values come from defaults,
// then an optional YAML file, then command-line flags.
type Config struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// H3Addr enables the HTTP/3 listener when TLS material is present.
	H3Addr   string `yaml:"h3_addr"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	HTTPVersion         string `yaml:"http_version"`
	MaxResponseLength   uint64 `yaml:"max_response_length"`
	MaxChunkSize        uint64 `yaml:"max_chunk_size"`
	EgressBufferLimit   int    `yaml:"egress_buffer_limit"`
	WriteBytesPerSecond int    `yaml:"write_bytes_per_second"`
	Unhealthy           bool   `yaml:"unhealthy"`

	LogLevel          string   `yaml:"log_level"`
	ReadHeaderTimeout duration `yaml:"read_header_timeout"`
	ShutdownTimeout   duration `yaml:"shutdown_timeout"`
}

// duration adds "10s"-style YAML parsing, which yaml.v3 does not do for
// time.Duration itself.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = duration(parsed)
	return nil
}

func defaultConfig() Config {
	return Config{
		Addr:              ":6667",
		MetricsAddr:       ":9100",
		H3Addr:            ":6667",
		HTTPVersion:       proxygen.DefaultHTTPVersion,
		MaxResponseLength: proxygen.DefaultMaxResponseLength,
		MaxChunkSize:      proxygen.DefaultMaxChunkSize,
		EgressBufferLimit: proxygen.DefaultEgressBufferLimit,
		LogLevel:          "info",
		ReadHeaderTimeout: duration(10 * time.Second),
		ShutdownTimeout:   duration(15 * time.Second),
	}
}

// loadConfig returns the defaults overlaid with the YAML file at path,
// when one is given.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
