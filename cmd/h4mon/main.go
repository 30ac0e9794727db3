package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"avaneesh/h4-go/pkg/channel"
	"avaneesh/h4-go/pkg/h4"
	"avaneesh/h4-go/pkg/hci"
	"avaneesh/h4-go/pkg/monitor"
	"avaneesh/h4-go/pkg/sink"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	logLevel := flag.String("log-level", "", "debug, info, warn or error (overrides the config)")
	flag.Parse()

	if err := run(*configPath, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "h4mon: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, logLevel string) error {
	cfg := DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = loadConfig(configPath); err != nil {
			return err
		}
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, err := h4.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	h4.SetLogLevel(level)
	h4.EnableFrameDebug(cfg.FrameDebug)
	log := h4.DefaultLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Downstream sinks run behind one async queue
	var downstream sink.Fanout

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("h4mon "+cfg.ChannelID))
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer nc.Close()
		log.Info("Connected to NATS at %s", cfg.NATSURL)
		downstream = append(downstream, sink.NewNATSPublisher(nc, cfg.NATSPrefix, log))
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect to Redis: %w", err)
		}
		log.Info("Connected to Redis at %s", cfg.RedisAddr)

		rcfg := sink.DefaultRedisRecorderConfig()
		rcfg.KeyPrefix = cfg.RedisPrefix
		rcfg.TTL = cfg.RedisTTL
		downstream = append(downstream, sink.NewRedisRecorder(rdb, rcfg, log))
	}

	var pipeline sink.Fanout
	if len(downstream) > 0 {
		async := sink.NewAsync(downstream, sink.AsyncConfig{Capacity: cfg.QueueCapacity}, log)
		defer async.Close()
		pipeline = append(pipeline, async)
	}

	var tap *monitor.Tap
	if cfg.MonitorAddr != "" {
		tap = monitor.NewTap(log)
		pipeline = append(pipeline, tap)
	}

	physical, err := openPhysical(cfg)
	if err != nil {
		return err
	}

	manager := h4.NewManagerWithLogger(log)
	defer manager.Shutdown()

	chCfg := h4.DefaultChannelConfig()
	chCfg.Types = cfg.Types
	chCfg.Vendor = cfg.Vendor
	chCfg.FMEventCode = cfg.FMEventCode
	chCfg.FMOpcode = cfg.FMOpcode
	chCfg.AllocBudget = cfg.AllocBudget
	chCfg.Subscribers = subscribers(cfg, pipeline)

	ch, err := manager.AddChannel(cfg.ChannelID, physical, chCfg)
	if err != nil {
		physical.Close()
		return err
	}

	if cfg.ResetOnStart {
		if err := ch.SendCommand(hci.Opcode(hci.OGFControllerBaseband, hci.OCFReset), nil); err != nil {
			log.Warn("HCI reset failed: %v", err)
		}
	}

	if tap != nil {
		srv := monitor.NewServer(monitor.Config{Address: cfg.MonitorAddr}, manager, tap, log)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	log.Info("Monitoring %s over %s", cfg.ChannelID, cfg.Transport)
	<-ctx.Done()
	log.Info("Shutting down")

	stats := ch.Statistics()
	log.Info("%s: %d frames, %d unknown bytes, %d oversize, %d dropped bytes",
		cfg.ChannelID, stats.FramesRx, stats.UnknownTypes, stats.OversizeFrames, stats.DroppedBytes)
	return nil
}

// subscribers routes every accepted type to the pipeline
func subscribers(cfg Config, pipeline sink.Fanout) map[hci.PacketType]channel.Subscriber {
	if len(pipeline) == 0 {
		return nil
	}

	types := cfg.Types
	if len(types) == 0 {
		types = hci.DefaultTypes
	}

	out := make(map[hci.PacketType]channel.Subscriber, len(types)+1)
	for _, pt := range types {
		out[pt] = pipeline
	}
	if cfg.Vendor {
		out[hci.PacketFM] = pipeline
	}
	return out
}

// openPhysical opens the configured transport
func openPhysical(cfg Config) (channel.PhysicalChannel, error) {
	switch cfg.Transport {
	case TransportSerial:
		return channel.NewSerialChannel(channel.SerialChannelConfig{
			Device:   cfg.Device,
			BaudRate: cfg.BaudRate,
		})
	case TransportTCP:
		return channel.NewTCPChannel(channel.TCPChannelConfig{
			Address:  cfg.Address,
			IsServer: cfg.Listen,
		})
	case TransportUDP:
		return channel.NewUDPChannel(channel.UDPChannelConfig{
			Address:  cfg.Address,
			IsServer: cfg.Listen,
		})
	case TransportQUIC:
		return channel.NewQUICChannel(channel.QUICChannelConfig{
			Address:  cfg.Address,
			IsServer: cfg.Listen,
		})
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
