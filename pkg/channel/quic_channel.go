package channel

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN is the application protocol negotiated for H4 over QUIC
const ALPN = "h4-quic"

// Keep-alive stops an idle controller link from hitting the QUIC idle timeout
const defaultKeepAlive = 15 * time.Second

// quicLink is one connection and the stream carrying its H4 bytes
type quicLink struct {
	conn   *quic.Conn
	stream *quic.Stream
}

// QUICChannel implements PhysicalChannel over QUIC. A relay next to the
// controller dials in and writes the raw UART stream on its first
// bidirectional stream; the monitor side listens.
type QUICChannel struct {
	config    QUICChannelConfig
	tlsConfig *tls.Config
	quicConf  *quic.Config
	listener  *quic.Listener

	// Current link; ready is closed while link is set
	link      *quicLink
	ready     chan struct{}
	linkMu    sync.Mutex
	installMu sync.Mutex

	stateListener ConnectionStateListener
	listenerLock  sync.RWMutex

	stats struct {
		bytesSent     atomic.Uint64
		bytesReceived atomic.Uint64
		writeErrors   atomic.Uint64
		readErrors    atomic.Uint64
		connects      atomic.Uint64
		disconnects   atomic.Uint64
	}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// QUICChannelConfig configures a QUIC channel
type QUICChannelConfig struct {
	Address        string        // "host:port" format
	IsServer       bool          // true = listen, false = connect
	ReconnectDelay time.Duration // Delay between reconnection attempts (client only)
	ReadTimeout    time.Duration // Read timeout (0 = no timeout)
	WriteTimeout   time.Duration // Write timeout (0 = no timeout)
	KeepAlive      time.Duration // Keep-alive period (0 = default, <0 = off)
	TLSConfig      *tls.Config   // nil = self-signed server cert, unverified client
	ChunkSize      int           // Largest chunk returned by Read
}

// NewQUICChannel listens or dials according to config. A client returns
// once its first connection is up and redials on its own after that.
func NewQUICChannel(config QUICChannelConfig) (*QUICChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 30 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.KeepAlive == 0 {
		config.KeepAlive = defaultKeepAlive
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = defaultChunkSize
	}

	tlsConfig, err := quicTLSConfig(config.TLSConfig, config.IsServer)
	if err != nil {
		return nil, err
	}

	quicConf := &quic.Config{}
	if config.KeepAlive > 0 {
		quicConf.KeepAlivePeriod = config.KeepAlive
	}

	ctx, cancel := context.WithCancel(context.Background())
	qc := &QUICChannel{
		config:    config,
		tlsConfig: tlsConfig,
		quicConf:  quicConf,
		ready:     make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}

	if config.IsServer {
		err = qc.listen()
	} else {
		err = qc.start()
	}
	if err != nil {
		cancel()
		return nil, err
	}
	return qc, nil
}

// quicTLSConfig returns a copy of base that negotiates ALPN, generating
// a self-signed certificate when a server has none
func quicTLSConfig(base *tls.Config, server bool) (*tls.Config, error) {
	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{}
		if server {
			cert, err := selfSignedCert()
			if err != nil {
				return nil, fmt.Errorf("failed to generate certificate: %w", err)
			}
			cfg.Certificates = []tls.Certificate{cert}
		} else {
			// No CA to check a self-signed relay against
			cfg.InsecureSkipVerify = true
		}
	}

	for _, proto := range cfg.NextProtos {
		if proto == ALPN {
			return cfg, nil
		}
	}
	cfg.NextProtos = append(cfg.NextProtos, ALPN)
	return cfg, nil
}

// selfSignedCert makes a short-lived P-256 certificate
func selfSignedCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "h4 monitor"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(30 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}

// listen binds the server and accepts relays in the background
func (qc *QUICChannel) listen() error {
	listener, err := quic.ListenAddr(qc.config.Address, qc.tlsConfig, qc.quicConf)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", qc.config.Address, err)
	}
	qc.listener = listener

	qc.wg.Add(1)
	go qc.acceptLoop()
	return nil
}

// acceptLoop takes one connection at a time; a newer relay replaces the older
func (qc *QUICChannel) acceptLoop() {
	defer qc.wg.Done()

	for {
		conn, err := qc.listener.Accept(qc.ctx)
		if err != nil {
			if qc.ctx.Err() != nil {
				return
			}
			continue
		}

		qc.wg.Add(1)
		go qc.awaitStream(conn)
	}
}

// awaitStream installs conn once the relay opens its stream, which
// happens with the first bytes it writes
func (qc *QUICChannel) awaitStream(conn *quic.Conn) {
	defer qc.wg.Done()

	stream, err := conn.AcceptStream(qc.ctx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return
	}
	qc.install(&quicLink{conn: conn, stream: stream})
}

// dial connects to the server and opens the H4 stream
func (qc *QUICChannel) dial() (*quicLink, error) {
	conn, err := quic.DialAddr(qc.ctx, qc.config.Address, qc.tlsConfig, qc.quicConf)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", qc.config.Address, err)
	}

	stream, err := conn.OpenStreamSync(qc.ctx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	return &quicLink{conn: conn, stream: stream}, nil
}

// start makes the first client connection and hands it to the redial loop
func (qc *QUICChannel) start() error {
	l, err := qc.dial()
	if err != nil {
		return err
	}
	qc.install(l)

	qc.wg.Add(1)
	go qc.redialLoop(l)
	return nil
}

// redialLoop waits for the current connection to end and replaces it
func (qc *QUICChannel) redialLoop(l *quicLink) {
	defer qc.wg.Done()

	for {
		select {
		case <-qc.ctx.Done():
			return
		case <-l.conn.Context().Done():
		}
		qc.fail(l, "connection closed", nil)

		next, ok := qc.redial()
		if !ok {
			return
		}
		l = next
		qc.install(l)
	}
}

// redial retries every ReconnectDelay until a dial succeeds or the channel closes
func (qc *QUICChannel) redial() (*quicLink, bool) {
	for {
		select {
		case <-qc.ctx.Done():
			return nil, false
		case <-time.After(qc.config.ReconnectDelay):
		}

		l, err := qc.dial()
		if err == nil {
			return l, true
		}
	}
}

// install makes l the current link. An older link is reported lost
// before l is visible, so no byte of l reaches a stale partial frame.
func (qc *QUICChannel) install(l *quicLink) {
	qc.installMu.Lock()
	defer qc.installMu.Unlock()

	if old, _ := qc.current(); old != nil {
		qc.fail(old, "replaced", nil)
	}

	qc.linkMu.Lock()
	if qc.closed.Load() {
		qc.linkMu.Unlock()
		l.conn.CloseWithError(0, "channel closed")
		return
	}
	qc.link = l
	close(qc.ready)
	qc.linkMu.Unlock()

	qc.stats.connects.Add(1)
	qc.notify(true)
}

// current returns the link, or nil and a channel closed when one arrives
func (qc *QUICChannel) current() (*quicLink, <-chan struct{}) {
	qc.linkMu.Lock()
	defer qc.linkMu.Unlock()
	return qc.link, qc.ready
}

// detach clears l if it is still current
func (qc *QUICChannel) detach(l *quicLink) bool {
	qc.linkMu.Lock()
	defer qc.linkMu.Unlock()

	if qc.link == nil || qc.link != l {
		return false
	}
	qc.link = nil
	qc.ready = make(chan struct{})
	return true
}

// fail counts an error against l and tears it down if still current
func (qc *QUICChannel) fail(l *quicLink, reason string, counter *atomic.Uint64) {
	if counter != nil {
		counter.Add(1)
	}
	if !qc.detach(l) {
		return
	}

	l.conn.CloseWithError(0, reason)
	qc.stats.disconnects.Add(1)
	if !qc.closed.Load() {
		qc.notify(false)
	}
}

// Read implements PhysicalChannel.Read. It returns what one stream read
// produced, waiting for a relay when none is connected.
func (qc *QUICChannel) Read(ctx context.Context) ([]byte, error) {
	buf := make([]byte, qc.config.ChunkSize)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-qc.ctx.Done():
			return nil, ErrChannelClosed
		default:
		}

		l, ready := qc.current()
		if l == nil {
			select {
			case <-ready:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-qc.ctx.Done():
				return nil, ErrChannelClosed
			}
		}

		if qc.config.ReadTimeout > 0 {
			l.stream.SetReadDeadline(time.Now().Add(qc.config.ReadTimeout))
		}

		n, err := l.stream.Read(buf)
		if n > 0 {
			qc.stats.bytesReceived.Add(uint64(n))
			if err != nil && !isTimeout(err) {
				qc.fail(l, "read error", &qc.stats.readErrors)
			}
			return buf[:n], nil
		}

		switch {
		case err == nil, isTimeout(err):
		case qc.closed.Load():
			return nil, ErrChannelClosed
		default:
			qc.fail(l, "read error", &qc.stats.readErrors)
		}
	}
}

// Write implements PhysicalChannel.Write
func (qc *QUICChannel) Write(ctx context.Context, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-qc.ctx.Done():
		return ErrChannelClosed
	default:
	}

	l, _ := qc.current()
	if l == nil {
		qc.stats.writeErrors.Add(1)
		return fmt.Errorf("not connected")
	}

	if qc.config.WriteTimeout > 0 {
		l.stream.SetWriteDeadline(time.Now().Add(qc.config.WriteTimeout))
	}

	if _, err := l.stream.Write(data); err != nil {
		qc.fail(l, "write error", &qc.stats.writeErrors)
		return err
	}

	qc.stats.bytesSent.Add(uint64(len(data)))
	return nil
}

// Close implements PhysicalChannel.Close
func (qc *QUICChannel) Close() error {
	if !qc.closed.CompareAndSwap(false, true) {
		return nil
	}

	qc.cancel()
	if qc.listener != nil {
		qc.listener.Close()
	}
	if l, _ := qc.current(); l != nil {
		qc.fail(l, "channel closed", nil)
	}

	qc.wg.Wait()
	return nil
}

// Statistics implements PhysicalChannel.Statistics
func (qc *QUICChannel) Statistics() TransportStats {
	return TransportStats{
		BytesSent:     qc.stats.bytesSent.Load(),
		BytesReceived: qc.stats.bytesReceived.Load(),
		WriteErrors:   qc.stats.writeErrors.Load(),
		ReadErrors:    qc.stats.readErrors.Load(),
		Connects:      qc.stats.connects.Load(),
		Disconnects:   qc.stats.disconnects.Load(),
	}
}

// IsConnected reports whether a relay link is up
func (qc *QUICChannel) IsConnected() bool {
	l, _ := qc.current()
	return l != nil && l.conn.Context().Err() == nil
}

// ListenAddr returns the bound UDP address in server mode
func (qc *QUICChannel) ListenAddr() net.Addr {
	if qc.listener == nil {
		return nil
	}
	return qc.listener.Addr()
}

// LocalAddr returns the local address of the current connection
func (qc *QUICChannel) LocalAddr() net.Addr {
	if l, _ := qc.current(); l != nil {
		return l.conn.LocalAddr()
	}
	return nil
}

// RemoteAddr returns the peer address of the current connection
func (qc *QUICChannel) RemoteAddr() net.Addr {
	if l, _ := qc.current(); l != nil {
		return l.conn.RemoteAddr()
	}
	return nil
}

// SetConnectionStateListener implements PhysicalChannel
func (qc *QUICChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	qc.listenerLock.Lock()
	defer qc.listenerLock.Unlock()
	qc.stateListener = listener
}

func (qc *QUICChannel) notify(established bool) {
	qc.listenerLock.RLock()
	listener := qc.stateListener
	qc.listenerLock.RUnlock()

	if listener == nil {
		return
	}
	if established {
		listener.OnConnectionEstablished()
	} else {
		listener.OnConnectionLost()
	}
}
