// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"net"
	"time"
)

// Output formats.
const (
	FormatMP4 = "mp4"
	FormatMKV = "mkv"
	FormatSeg = "seg"
)

// ServerConfig recorder configuration.
type ServerConfig struct {
	TeamName string `yaml:"teamName" toml:"team_name"`

	// Camera nodes connect to RecordAddress, the websocket is served at /record.
	RecordAddress string `yaml:"recordAddress" toml:"record_address"`
	WebAddress    string `yaml:"webAddress" toml:"web_address"`

	OutputDir    string `yaml:"outputDir" toml:"output_directory"`
	OutputFormat string `yaml:"outputFormat" toml:"output_format"`

	Database    string `yaml:"database" toml:"database_name"`
	LogDatabase string `yaml:"logDatabase" toml:"log_database"`

	// Oldest segments are purged above this size, zero disables purging.
	MaxDiskUsageGB float64 `yaml:"maxDiskUsageGB" toml:"max_disk_usage_gb"`

	InstructionBuffer int      `yaml:"instructionBuffer" toml:"instruction_buffer"`
	DrainTimeout      Duration `yaml:"drainTimeout" toml:"drain_timeout"`

	// Stop reading commands from stdin.
	DisableConsole bool `yaml:"disableConsole" toml:"disable_console"`
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	var c ServerConfig
	c.fillDefaults()
	return c
}

func (c *ServerConfig) fillDefaults() {
	if c.TeamName == "" {
		c.TeamName = "TEAM_NAME"
	}
	if c.RecordAddress == "" {
		c.RecordAddress = "127.0.0.1:8000"
	}
	if c.WebAddress == "" {
		c.WebAddress = ":8080"
	}
	if c.OutputDir == "" {
		c.OutputDir = "./out/"
	}
	if c.OutputFormat == "" {
		c.OutputFormat = FormatMP4
	}
	if c.Database == "" {
		c.Database = "primary_database.db"
	}
	if c.LogDatabase == "" {
		c.LogDatabase = "logs.db"
	}
	if c.InstructionBuffer == 0 {
		c.InstructionBuffer = 8
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = Duration(10 * time.Second)
	}
}

// Validate server configuration.
func (c ServerConfig) Validate() error {
	if err := validateAddress("record address", c.RecordAddress); err != nil {
		return err
	}
	if err := validateAddress("web address", c.WebAddress); err != nil {
		return err
	}
	switch c.OutputFormat {
	case FormatMP4, FormatMKV, FormatSeg:
	default:
		return fmt.Errorf("%w: output format %q", ErrInvalidValue, c.OutputFormat)
	}
	if c.MaxDiskUsageGB < 0 {
		return fmt.Errorf("%w: max disk usage %v", ErrInvalidValue, c.MaxDiskUsageGB)
	}
	if c.InstructionBuffer < 1 {
		return fmt.Errorf("%w: instruction buffer %d", ErrInvalidValue, c.InstructionBuffer)
	}
	if c.DrainTimeout < 0 {
		return fmt.Errorf("%w: drain timeout %v", ErrInvalidValue, time.Duration(c.DrainTimeout))
	}
	return nil
}

// MaxDiskUsage in bytes.
func (c ServerConfig) MaxDiskUsage() int64 {
	return int64(c.MaxDiskUsageGB * 1000 * 1000 * 1000)
}

// LoadServer loads, fills in and validates the server configuration.
func LoadServer(path string) (*ServerConfig, error) {
	var c ServerConfig
	if err := load(path, &c); err != nil {
		return nil, err
	}
	c.fillDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func validateAddress(name, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%w: %v %q: %w", ErrInvalidValue, name, addr, err)
	}
	return nil
}
