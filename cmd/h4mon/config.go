package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"avaneesh/h4-go/pkg/hci"
)

// Transports understood by the transport setting
const (
	TransportSerial = "serial"
	TransportTCP    = "tcp"
	TransportUDP    = "udp"
	TransportQUIC   = "quic"
)

// Config is the resolved monitor configuration
type Config struct {
	ChannelID string
	Transport string

	// serial
	Device   string
	BaudRate int

	// tcp, udp, quic
	Address string
	Listen  bool

	Types        []hci.PacketType
	Vendor       bool
	FMEventCode  uint8
	FMOpcode     uint16
	AllocBudget  int
	ResetOnStart bool

	QueueCapacity int

	NATSURL       string
	NATSPrefix    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	RedisTTL      time.Duration

	MonitorAddr string

	LogLevel   string
	FrameDebug bool
}

// DefaultConfig monitors the first USB UART with no downstream sinks
func DefaultConfig() Config {
	return Config{
		ChannelID:     "hci0",
		Transport:     TransportSerial,
		Device:        "/dev/ttyUSB0",
		BaudRate:      115200,
		Types:         hci.DefaultTypes,
		FMEventCode:   hci.EventVendor,
		QueueCapacity: 1024,
		NATSPrefix:    "h4.frames",
		RedisPrefix:   "h4:frames",
		RedisTTL:      24 * time.Hour,
		MonitorAddr:   ":8080",
		LogLevel:      "info",
	}
}

type fileConfig struct {
	ChannelID     string   `toml:"channel_id"`
	Transport     string   `toml:"transport"`
	Device        string   `toml:"device"`
	BaudRate      int      `toml:"baud_rate"`
	Address       string   `toml:"address"`
	Listen        bool     `toml:"listen"`
	Types         []string `toml:"types"`
	Vendor        bool     `toml:"vendor"`
	FMEventCode   int      `toml:"fm_event_code"`
	FMOpcode      int      `toml:"fm_opcode"`
	AllocBudget   int      `toml:"alloc_budget"`
	ResetOnStart  bool     `toml:"reset_on_start"`
	QueueCapacity int      `toml:"queue_capacity"`
	NATSURL       string   `toml:"nats_url"`
	NATSPrefix    string   `toml:"nats_prefix"`
	RedisAddr     string   `toml:"redis_addr"`
	RedisPassword string   `toml:"redis_password"`
	RedisDB       int      `toml:"redis_db"`
	RedisPrefix   string   `toml:"redis_prefix"`
	RedisTTL      string   `toml:"redis_ttl"`
	MonitorAddr   string   `toml:"monitor_addr"`
	LogLevel      string   `toml:"log_level"`
	FrameDebug    bool     `toml:"frame_debug"`
}

// loadConfig overlays the keys present in the file on DefaultConfig
func loadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("channel_id") {
		if id := strings.TrimSpace(raw.ChannelID); id != "" {
			cfg.ChannelID = id
		}
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("device") {
		cfg.Device = strings.TrimSpace(raw.Device)
	}
	if meta.IsDefined("baud_rate") {
		cfg.BaudRate = raw.BaudRate
	}
	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("listen") {
		cfg.Listen = raw.Listen
	}
	if meta.IsDefined("types") {
		types := make([]hci.PacketType, 0, len(raw.Types))
		for _, name := range raw.Types {
			pt, err := hci.ParsePacketType(name)
			if err != nil {
				return Config{}, fmt.Errorf("parse types: %w", err)
			}
			types = append(types, pt)
		}
		cfg.Types = types
	}
	if meta.IsDefined("vendor") {
		cfg.Vendor = raw.Vendor
	}
	if meta.IsDefined("fm_event_code") {
		if raw.FMEventCode < 0 || raw.FMEventCode > 0xFF {
			return Config{}, fmt.Errorf("fm_event_code %d out of range", raw.FMEventCode)
		}
		cfg.FMEventCode = uint8(raw.FMEventCode)
	}
	if meta.IsDefined("fm_opcode") {
		if raw.FMOpcode < 0 || raw.FMOpcode > 0xFFFF {
			return Config{}, fmt.Errorf("fm_opcode %d out of range", raw.FMOpcode)
		}
		cfg.FMOpcode = uint16(raw.FMOpcode)
	}
	if meta.IsDefined("alloc_budget") {
		cfg.AllocBudget = raw.AllocBudget
	}
	if meta.IsDefined("reset_on_start") {
		cfg.ResetOnStart = raw.ResetOnStart
	}
	if meta.IsDefined("queue_capacity") {
		cfg.QueueCapacity = raw.QueueCapacity
	}
	if meta.IsDefined("nats_url") {
		cfg.NATSURL = strings.TrimSpace(raw.NATSURL)
	}
	if meta.IsDefined("nats_prefix") {
		cfg.NATSPrefix = strings.TrimSpace(raw.NATSPrefix)
	}
	if meta.IsDefined("redis_addr") {
		cfg.RedisAddr = strings.TrimSpace(raw.RedisAddr)
	}
	if meta.IsDefined("redis_password") {
		cfg.RedisPassword = raw.RedisPassword
	}
	if meta.IsDefined("redis_db") {
		cfg.RedisDB = raw.RedisDB
	}
	if meta.IsDefined("redis_prefix") {
		cfg.RedisPrefix = strings.TrimSpace(raw.RedisPrefix)
	}
	if meta.IsDefined("redis_ttl") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RedisTTL))
		if err != nil {
			return Config{}, fmt.Errorf("parse redis_ttl: %w", err)
		}
		cfg.RedisTTL = d
	}
	if meta.IsDefined("monitor_addr") {
		cfg.MonitorAddr = strings.TrimSpace(raw.MonitorAddr)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("frame_debug") {
		cfg.FrameDebug = raw.FrameDebug
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Transport {
	case TransportSerial:
		if c.Device == "" {
			return fmt.Errorf("transport serial needs a device")
		}
	case TransportTCP, TransportUDP, TransportQUIC:
		if c.Address == "" {
			return fmt.Errorf("transport %s needs an address", c.Transport)
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	return nil
}
