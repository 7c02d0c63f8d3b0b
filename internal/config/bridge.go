// Package config loads the bridge configuration file. Fields left out of the
// file keep their defaults, and command-line flags override file values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/caiman/internal/serialport"
	"github.com/banshee-data/caiman/internal/session"
)

// DefaultPort is the TCP port the bridge listens on for the host.
const DefaultPort = 8081

// BridgeConfig is the root of the configuration file.
type BridgeConfig struct {
	Port          *int    `json:"port,omitempty"`
	Device        *string `json:"device,omitempty"`
	OutputPath    *string `json:"output_path,omitempty"`
	Local         *bool   `json:"local,omitempty"`
	DAQ           *bool   `json:"daq,omitempty"`
	PrintMessages *bool   `json:"print_messages,omitempty"`
	DebugListen   *string `json:"debug_listen,omitempty"` // e.g. "localhost:8082"

	Serial   *serialport.PortOptions `json:"serial,omitempty"`
	Channels []ChannelConfig         `json:"channels,omitempty"`
}

// ChannelConfig configures one probe channel.
type ChannelConfig struct {
	Channel             int      `json:"channel"`
	ResistanceMilliohms int      `json:"resistance_mohm"`
	Fields              []string `json:"fields,omitempty"` // power, voltage, current; empty means all
	DAQVoltage          string   `json:"daq_voltage,omitempty"`
	DAQCurrent          string   `json:"daq_current,omitempty"`
}

// LoadBridgeConfig loads and validates a configuration file. The file must
// have a .json extension and be under 1 MB.
func LoadBridgeConfig(path string) (*BridgeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &BridgeConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks ports, channel indices, resistances, field names and serial
// options.
func (c *BridgeConfig) Validate() error {
	if c.Port != nil && (*c.Port <= 0 || *c.Port > 65535) {
		return fmt.Errorf("port must be between 1 and 65535, got %d", *c.Port)
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}
	if _, err := c.ChannelSpecs(); err != nil {
		return err
	}
	return nil
}

// SetChannel enables ch with the given shunt resistance, replacing any
// existing entry for ch. Used for -r overrides.
func (c *BridgeConfig) SetChannel(ch, resistanceMilliohms int) {
	for i := range c.Channels {
		if c.Channels[i].Channel == ch {
			c.Channels[i].ResistanceMilliohms = resistanceMilliohms
			return
		}
	}
	c.Channels = append(c.Channels, ChannelConfig{Channel: ch, ResistanceMilliohms: resistanceMilliohms})
}

// ChannelSpecs converts the channel entries for session.Compile.
func (c *BridgeConfig) ChannelSpecs() ([]session.ChannelSpec, error) {
	specs := make([]session.ChannelSpec, 0, len(c.Channels))
	seen := make(map[int]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.Channel < 0 || ch.Channel >= session.MaxChannels {
			return nil, fmt.Errorf("channel %d out of range [0, %d)", ch.Channel, session.MaxChannels)
		}
		if seen[ch.Channel] {
			return nil, fmt.Errorf("channel %d configured twice", ch.Channel)
		}
		seen[ch.Channel] = true
		if ch.ResistanceMilliohms <= 0 {
			return nil, fmt.Errorf("channel %d: resistance_mohm must be positive, got %d", ch.Channel, ch.ResistanceMilliohms)
		}

		var fields session.Field
		for _, name := range ch.Fields {
			f, err := session.ParseField(name)
			if err != nil {
				return nil, fmt.Errorf("channel %d: %w", ch.Channel, err)
			}
			fields |= f
		}
		specs = append(specs, session.ChannelSpec{
			Channel:             ch.Channel,
			ResistanceMilliohms: ch.ResistanceMilliohms,
			Fields:              fields,
			DAQVoltage:          ch.DAQVoltage,
			DAQCurrent:          ch.DAQCurrent,
		})
	}
	return specs, nil
}

// GetPort returns the listen port, DefaultPort if unset.
func (c *BridgeConfig) GetPort() int {
	if c.Port == nil {
		return DefaultPort
	}
	return *c.Port
}

// GetDevice returns the device path; empty means auto-detect.
func (c *BridgeConfig) GetDevice() string {
	if c.Device == nil {
		return ""
	}
	return *c.Device
}

// GetOutputPath returns the output directory, the current directory if unset.
func (c *BridgeConfig) GetOutputPath() string {
	if c.OutputPath == nil || *c.OutputPath == "" {
		return "."
	}
	return *c.OutputPath
}

func (c *BridgeConfig) GetLocal() bool { return c.Local != nil && *c.Local }
func (c *BridgeConfig) GetDAQ() bool   { return c.DAQ != nil && *c.DAQ }

// GetPrintMessages reports whether informational messages go to the console.
// Defaults to true.
func (c *BridgeConfig) GetPrintMessages() bool {
	return c.PrintMessages == nil || *c.PrintMessages
}

// GetDebugListen returns the debug listener address; empty disables it.
func (c *BridgeConfig) GetDebugListen() string {
	if c.DebugListen == nil {
		return ""
	}
	return *c.DebugListen
}

// GetSerial returns the serial options with defaults applied.
func (c *BridgeConfig) GetSerial() serialport.PortOptions {
	var opts serialport.PortOptions
	if c.Serial != nil {
		opts = *c.Serial
	}
	normalized, err := opts.Normalize()
	if err != nil {
		return opts
	}
	return normalized
}
