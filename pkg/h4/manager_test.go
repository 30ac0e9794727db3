package h4

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"avaneesh/h4-go/pkg/channel"
	"avaneesh/h4-go/pkg/hci"
)

type frameWaiter chan channel.Frame

func (w frameWaiter) OnFrame(frame channel.Frame) {
	w <- frame
}

func (w frameWaiter) next(t *testing.T) channel.Frame {
	t.Helper()
	select {
	case f := <-w:
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
		return channel.Frame{}
	}
}

func TestManager_AddChannel(t *testing.T) {
	m := NewManagerWithLogger(nil)
	defer m.Shutdown()

	events := make(frameWaiter, 4)
	cfg := DefaultChannelConfig()
	cfg.Subscribers = map[hci.PacketType]channel.Subscriber{hci.PacketEvent: events}

	mock := channel.NewMockChannel()
	ch, err := m.AddChannel("hci0", mock, cfg)
	if err != nil {
		t.Fatalf("AddChannel() error = %v", err)
	}
	if ch.ID() != "hci0" {
		t.Errorf("ID() = %q, want %q", ch.ID(), "hci0")
	}

	mock.InjectRead([]byte{0x04, 0x0E, 0x04, 0x01})
	mock.InjectRead([]byte{0x03, 0x0C, 0x00})

	got := events.next(t)
	want := []byte{0x04, 0x0E, 0x04, 0x01, 0x03, 0x0C, 0x00}
	if !bytes.Equal(got.Data, want) {
		t.Errorf("Data = %x, want %x", got.Data, want)
	}

	stats := ch.Statistics()
	if stats.FramesRx != 1 {
		t.Errorf("FramesRx = %d, want 1", stats.FramesRx)
	}
	if stats.ChunksRx != 2 {
		t.Errorf("ChunksRx = %d, want 2", stats.ChunksRx)
	}
	if stats.PhysicalBytesRx != uint64(len(want)) {
		t.Errorf("PhysicalBytesRx = %d, want %d", stats.PhysicalBytesRx, len(want))
	}
	if stats.LastFrame.IsZero() {
		t.Errorf("LastFrame not set")
	}
}

func TestManager_DuplicateAndMissing(t *testing.T) {
	m := NewManagerWithLogger(nil)
	defer m.Shutdown()

	if _, err := m.AddChannel("hci0", channel.NewMockChannel(), DefaultChannelConfig()); err != nil {
		t.Fatalf("AddChannel() error = %v", err)
	}
	if _, err := m.AddChannel("hci0", channel.NewMockChannel(), DefaultChannelConfig()); !errors.Is(err, ErrChannelExists) {
		t.Errorf("duplicate AddChannel() error = %v, want %v", err, ErrChannelExists)
	}
	if err := m.RemoveChannel("hci9"); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("RemoveChannel() error = %v, want %v", err, ErrChannelNotFound)
	}
	if _, ok := m.GetChannel("hci9"); ok {
		t.Errorf("GetChannel(hci9) found a channel")
	}
}

func TestManager_ChannelsSortedAndShutdown(t *testing.T) {
	m := NewManagerWithLogger(nil)

	for _, id := range []string{"uart1", "tcp0", "uart0"} {
		if _, err := m.AddChannel(id, channel.NewMockChannel(), DefaultChannelConfig()); err != nil {
			t.Fatalf("AddChannel(%s) error = %v", id, err)
		}
	}

	chans := m.Channels()
	want := []string{"tcp0", "uart0", "uart1"}
	if len(chans) != len(want) {
		t.Fatalf("len(Channels()) = %d, want %d", len(chans), len(want))
	}
	for i, ch := range chans {
		if ch.ID() != want[i] {
			t.Errorf("Channels()[%d] = %s, want %s", i, ch.ID(), want[i])
		}
	}

	ch, _ := m.GetChannel("tcp0")
	if err := ch.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := m.ChannelCount(); got != 2 {
		t.Errorf("ChannelCount() = %d, want 2", got)
	}

	m.Shutdown()
	if got := m.ChannelCount(); got != 0 {
		t.Errorf("ChannelCount() after Shutdown = %d, want 0", got)
	}
}

func TestChannel_SendAndVendor(t *testing.T) {
	m := NewManagerWithLogger(nil)
	defer m.Shutdown()

	cfg := DefaultChannelConfig()
	cfg.Vendor = true
	mock := channel.NewMockChannel()
	ch, err := m.AddChannel("hci0", mock, cfg)
	if err != nil {
		t.Fatalf("AddChannel() error = %v", err)
	}

	fm := make(frameWaiter, 4)
	if err := ch.Subscribe(hci.PacketFM, fm); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// Native FM type byte
	mock.InjectRead([]byte{0x08, 0x01, 0x01, 0x7F})
	if got := fm.next(t); got.Type != hci.PacketFM {
		t.Errorf("Type = %v, want %v", got.Type, hci.PacketFM)
	}

	if err := ch.Send(hci.PacketACL, []byte{0x01, 0x00, 0x00, 0x00}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := mock.GetWritten(); !bytes.Equal(got, []byte{0x02, 0x01, 0x00, 0x00, 0x00}) {
		t.Errorf("written = %x", got)
	}

	if err := ch.SendCommand(hci.Opcode(0x03, 0x003), nil); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if got := mock.GetWritten(); !bytes.Equal(got, []byte{0x01, 0x03, 0x0C, 0x00}) {
		t.Errorf("written = %x", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"warn", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
