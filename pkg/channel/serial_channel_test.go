package channel

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"
)

// fakePort emulates a UART with a read timeout
type fakePort struct {
	mu      sync.Mutex
	rx      chan []byte
	tx      bytes.Buffer
	timeout time.Duration
	resets  int
	closed  chan struct{}
	once    sync.Once
}

func newFakePort() *fakePort {
	return &fakePort{
		rx:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, io.EOF
	case data := <-p.rx:
		return copy(b, data), nil
	case <-time.After(p.timeout):
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tx.Write(b)
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.resets++
	return nil
}

func TestSerialChannel_ReadWrite(t *testing.T) {
	port := newFakePort()
	var gotMode *serial.Mode

	sc, err := NewSerialChannel(SerialChannelConfig{
		Device:      "/dev/ttyFAKE",
		ReadTimeout: 10 * time.Millisecond,
		Opener: func(name string, mode *serial.Mode) (SerialPort, error) {
			gotMode = mode
			return port, nil
		},
	})
	if err != nil {
		t.Fatalf("NewSerialChannel() error = %v", err)
	}
	defer sc.Close()

	if gotMode.BaudRate != 115200 {
		t.Errorf("BaudRate = %d, want 115200", gotMode.BaudRate)
	}
	if port.resets != 1 {
		t.Errorf("ResetInputBuffer calls = %d, want 1", port.resets)
	}

	port.rx <- []byte{0x04, 0x0E}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := sc.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, []byte{0x04, 0x0E}) {
		t.Errorf("Read() = %x", got)
	}

	if err := sc.Write(ctx, []byte{0x01, 0x03, 0x0C, 0x00}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	port.mu.Lock()
	written := port.tx.Bytes()
	port.mu.Unlock()
	if !bytes.Equal(written, []byte{0x01, 0x03, 0x0C, 0x00}) {
		t.Errorf("written = %x", written)
	}

	stats := sc.Statistics()
	if stats.BytesReceived != 2 || stats.BytesSent != 4 {
		t.Errorf("stats = %+v", stats)
	}
}

type stateRecorder struct {
	mu          sync.Mutex
	established int
	lost        int
}

func (r *stateRecorder) OnConnectionEstablished() {
	r.mu.Lock()
	r.established++
	r.mu.Unlock()
}

func (r *stateRecorder) OnConnectionLost() {
	r.mu.Lock()
	r.lost++
	r.mu.Unlock()
}

func (r *stateRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.established, r.lost
}

func TestSerialChannel_ReopensAfterFailure(t *testing.T) {
	first := newFakePort()
	second := newFakePort()
	ports := []*fakePort{first, second}
	opens := 0

	sc, err := NewSerialChannel(SerialChannelConfig{
		Device:         "/dev/ttyFAKE",
		ReadTimeout:    10 * time.Millisecond,
		ReconnectDelay: 10 * time.Millisecond,
		Opener: func(string, *serial.Mode) (SerialPort, error) {
			if opens >= len(ports) {
				return nil, errors.New("no device")
			}
			p := ports[opens]
			opens++
			return p, nil
		},
	})
	if err != nil {
		t.Fatalf("NewSerialChannel() error = %v", err)
	}
	defer sc.Close()

	rec := &stateRecorder{}
	sc.SetConnectionStateListener(rec)

	// Unplug the first device, then deliver on the second
	first.Close()
	second.rx <- []byte{0x04}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := sc.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, []byte{0x04}) {
		t.Errorf("Read() = %x", got)
	}

	established, lost := rec.counts()
	if established != 1 || lost != 1 {
		t.Errorf("established = %d, lost = %d, want 1 and 1", established, lost)
	}
	stats := sc.Statistics()
	if stats.Connects != 2 || stats.Disconnects != 1 {
		t.Errorf("Connects = %d, Disconnects = %d, want 2 and 1", stats.Connects, stats.Disconnects)
	}
}

func TestNewSerialChannel_OpenError(t *testing.T) {
	_, err := NewSerialChannel(SerialChannelConfig{
		Device: "/dev/ttyFAKE",
		Opener: func(string, *serial.Mode) (SerialPort, error) {
			return nil, errors.New("permission denied")
		},
	})
	if err == nil {
		t.Errorf("NewSerialChannel() error = nil, want error")
	}
}
