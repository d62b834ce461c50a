// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads the server and client configuration files.
// The format is chosen by extension, YAML or TOML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Environment variables holding the configuration paths.
const (
	EnvServerConfig = "SR_SERVERCONF_LOC"
	EnvClientConfig = "SR_CLIENTCONF_LOC"
)

// Default file names, used if neither a flag nor the environment names one.
const (
	DefaultServerConfig = "sr_server_config.toml"
	DefaultClientConfig = "sr_client_config.toml"
)

// Config errors.
var (
	ErrUnknownFormat = errors.New("unknown config format")
	ErrInvalidValue  = errors.New("invalid config value")
)

// Duration time.Duration that unmarshals from "10s".
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// LoadEnv loads the .env files into the environment. Missing files
// are ignored, variables already set are kept.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// Path returns flag if set, else the environment variable, else fallback.
func Path(flag, env, fallback string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return fallback
}

type format int

const (
	formatYAML format = iota
	formatTOML
)

func formatOf(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML, nil
	case ".toml":
		return formatTOML, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Base(path))
	}
}

func unmarshal(path string, data []byte, v any) error {
	f, err := formatOf(path)
	if err != nil {
		return err
	}

	// Environment variables are expanded, "${HOME}/out".
	data = []byte(os.ExpandEnv(string(data)))

	switch f {
	case formatTOML:
		err = toml.Unmarshal(data, v)
	default:
		err = yaml.Unmarshal(data, v)
	}
	if err != nil {
		return fmt.Errorf("unmarshal %v: %w", filepath.Base(path), err)
	}
	return nil
}

func marshal(path string, v any) ([]byte, error) {
	f, err := formatOf(path)
	if err != nil {
		return nil, err
	}
	if f == formatTOML {
		return toml.Marshal(v)
	}
	return yaml.Marshal(v)
}

func load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return unmarshal(path, data, v)
}

// Write writes v to path in the format of its extension.
// Existing files are not overwritten.
func Write(path string, v any) error {
	data, err := marshal(path, v)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return err
	}
	return nil
}
