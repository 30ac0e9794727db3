package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"avaneesh/h4-go/pkg/hci"
)

func TestLoadConfigExample(t *testing.T) {
	cfg, err := loadConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.ChannelID != "lab.bt0" {
		t.Errorf("ChannelID = %q, want %q", cfg.ChannelID, "lab.bt0")
	}
	if cfg.Transport != TransportTCP || cfg.Address != "127.0.0.1:9000" || !cfg.Listen {
		t.Errorf("transport = %s %s listen=%v", cfg.Transport, cfg.Address, cfg.Listen)
	}
	want := []hci.PacketType{hci.PacketACL, hci.PacketSCO, hci.PacketEvent, hci.PacketISO}
	if len(cfg.Types) != len(want) {
		t.Fatalf("Types = %v, want %v", cfg.Types, want)
	}
	for i := range want {
		if cfg.Types[i] != want[i] {
			t.Errorf("Types[%d] = %v, want %v", i, cfg.Types[i], want[i])
		}
	}
	if !cfg.Vendor || cfg.AllocBudget != 65536 {
		t.Errorf("Vendor = %v, AllocBudget = %d", cfg.Vendor, cfg.AllocBudget)
	}
	if cfg.FMOpcode != hci.OpcodeVendorFM {
		t.Errorf("FMOpcode = 0x%04x, want 0x%04x", cfg.FMOpcode, hci.OpcodeVendorFM)
	}
	if cfg.RedisTTL != time.Hour {
		t.Errorf("RedisTTL = %v, want %v", cfg.RedisTTL, time.Hour)
	}

	// Keys absent from the file keep their defaults
	if cfg.FMEventCode != hci.EventVendor {
		t.Errorf("FMEventCode = 0x%02x, want 0x%02x", cfg.FMEventCode, hci.EventVendor)
	}
	if cfg.NATSPrefix != "h4.frames" || cfg.RedisPrefix != "h4:frames" {
		t.Errorf("prefixes = %q, %q", cfg.NATSPrefix, cfg.RedisPrefix)
	}
	if cfg.QueueCapacity != 1024 {
		t.Errorf("QueueCapacity = %d, want 1024", cfg.QueueCapacity)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "h4mon.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown transport", `transport = "carrier-pigeon"`},
		{"missing address", `transport = "quic"`},
		{"bad type", `types = ["event", "nope"]`},
		{"bad ttl", `redis_ttl = "soon"`},
		{"fm code range", `fm_event_code = 300`},
		{"fm opcode range", `fm_opcode = 0x10000`},
		{"syntax", `transport = `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadConfig(writeConfig(t, tt.body)); err == nil {
				t.Errorf("loadConfig() error = nil, want error")
			}
		})
	}
}

func TestLoadConfigEmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := DefaultConfig()
	if cfg.Transport != def.Transport || cfg.Device != def.Device || cfg.BaudRate != def.BaudRate {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}
