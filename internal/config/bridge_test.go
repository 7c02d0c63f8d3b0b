package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/banshee-data/caiman/internal/serialport"
	"github.com/banshee-data/caiman/internal/session"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoadBridgeConfig(t *testing.T) {
	path := writeConfig(t, "bridge.json", `{
		"port": 9000,
		"device": "/dev/ttyACM1",
		"output_path": "/var/lib/caiman",
		"print_messages": false,
		"debug_listen": "localhost:8082",
		"serial": {"baud_rate": 9600},
		"channels": [
			{"channel": 0, "resistance_mohm": 20},
			{"channel": 2, "resistance_mohm": 50, "fields": ["power", "current"]}
		]
	}`)

	cfg, err := LoadBridgeConfig(path)
	if err != nil {
		t.Fatalf("LoadBridgeConfig failed: %v", err)
	}
	if got := cfg.GetPort(); got != 9000 {
		t.Errorf("GetPort() = %d, want 9000", got)
	}
	if got := cfg.GetDevice(); got != "/dev/ttyACM1" {
		t.Errorf("GetDevice() = %q", got)
	}
	if got := cfg.GetOutputPath(); got != "/var/lib/caiman" {
		t.Errorf("GetOutputPath() = %q", got)
	}
	if cfg.GetPrintMessages() {
		t.Error("GetPrintMessages() = true, want false")
	}
	if cfg.GetLocal() || cfg.GetDAQ() {
		t.Error("local and daq should default to false")
	}
	if got := cfg.GetDebugListen(); got != "localhost:8082" {
		t.Errorf("GetDebugListen() = %q", got)
	}
	want := serialport.PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"}
	if got := cfg.GetSerial(); got != want {
		t.Errorf("GetSerial() = %+v, want %+v", got, want)
	}

	specs, err := cfg.ChannelSpecs()
	if err != nil {
		t.Fatalf("ChannelSpecs failed: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("got %d specs, want 2", len(specs))
	}
	if specs[0].Fields != 0 {
		t.Errorf("channel 0 fields = %v, want all (0)", specs[0].Fields)
	}
	if specs[1].Fields != session.FieldPower|session.FieldCurrent {
		t.Errorf("channel 2 fields = %v", specs[1].Fields)
	}
}

func TestBridgeConfigDefaults(t *testing.T) {
	cfg := &BridgeConfig{}
	if cfg.GetPort() != DefaultPort {
		t.Errorf("GetPort() = %d, want %d", cfg.GetPort(), DefaultPort)
	}
	if cfg.GetOutputPath() != "." {
		t.Errorf("GetOutputPath() = %q, want .", cfg.GetOutputPath())
	}
	if !cfg.GetPrintMessages() {
		t.Error("GetPrintMessages() should default to true")
	}
	if cfg.GetDevice() != "" || cfg.GetDebugListen() != "" {
		t.Error("device and debug listener should default to empty")
	}
	if cfg.GetSerial().BaudRate != serialport.DefaultBaudRate {
		t.Errorf("GetSerial().BaudRate = %d", cfg.GetSerial().BaudRate)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("empty config should validate: %v", err)
	}
}

func TestLoadBridgeConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "bridge.yaml", `{}`, ".json extension"},
		{"bad json", "bridge.json", `{"port":`, "failed to parse config JSON"},
		{"port out of range", "bridge.json", `{"port": 70000}`, "port must be between"},
		{"channel out of range", "bridge.json", `{"channels":[{"channel":40,"resistance_mohm":20}]}`, "out of range"},
		{"negative channel", "bridge.json", `{"channels":[{"channel":-1,"resistance_mohm":20}]}`, "out of range"},
		{"duplicate channel", "bridge.json", `{"channels":[{"channel":1,"resistance_mohm":20},{"channel":1,"resistance_mohm":30}]}`, "configured twice"},
		{"zero resistance", "bridge.json", `{"channels":[{"channel":1,"resistance_mohm":0}]}`, "must be positive"},
		{"unknown field", "bridge.json", `{"channels":[{"channel":1,"resistance_mohm":20,"fields":["watts"]}]}`, "unknown field"},
		{"bad serial", "bridge.json", `{"serial":{"parity":"X"}}`, "serial: unsupported parity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBridgeConfig(writeConfig(t, tt.file, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadBridgeConfig(filepath.Join(t.TempDir(), "absent.json"))
		if err == nil || !strings.Contains(err.Error(), "failed to stat") {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestSetChannel(t *testing.T) {
	cfg := &BridgeConfig{Channels: []ChannelConfig{{Channel: 0, ResistanceMilliohms: 20, Fields: []string{"power"}}}}
	cfg.SetChannel(0, 100)
	cfg.SetChannel(3, 50)

	if len(cfg.Channels) != 2 {
		t.Fatalf("got %d channels, want 2", len(cfg.Channels))
	}
	if cfg.Channels[0].ResistanceMilliohms != 100 || len(cfg.Channels[0].Fields) != 1 {
		t.Errorf("override lost existing settings: %+v", cfg.Channels[0])
	}
	if !reflect.DeepEqual(cfg.Channels[1], ChannelConfig{Channel: 3, ResistanceMilliohms: 50}) {
		t.Errorf("appended channel = %+v", cfg.Channels[1])
	}
}
