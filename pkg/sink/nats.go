package sink

import (
	"strings"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"avaneesh/h4-go/pkg/channel"
	"avaneesh/h4-go/pkg/internal/logger"
)

// DefaultSubjectPrefix roots every published subject
const DefaultSubjectPrefix = "h4.frames"

// Publisher is the part of *nats.Conn the publisher uses
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSPublisher publishes every frame as a CBOR Envelope on
// <prefix>.<channel>.<type>
type NATSPublisher struct {
	conn   Publisher
	prefix string
	logger logger.Logger

	published atomic.Uint64
	failures  atomic.Uint64
}

// NewNATSPublisher creates a publisher on conn
func NewNATSPublisher(conn Publisher, prefix string, log logger.Logger) *NATSPublisher {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{
		conn:   conn,
		prefix: prefix,
		logger: log,
	}
}

// Subject returns the subject a frame is published on
func (p *NATSPublisher) Subject(frame channel.Frame) string {
	return p.prefix + "." + subjectToken(frame.Channel) + "." + strings.ToLower(frame.Type.String())
}

// OnFrame implements channel.Subscriber
func (p *NATSPublisher) OnFrame(frame channel.Frame) {
	data, err := NewEnvelope(frame).Marshal()
	if err != nil {
		p.failures.Add(1)
		p.logger.Error("NATS publisher: encode frame: %v", err)
		return
	}

	if err := p.conn.Publish(p.Subject(frame), data); err != nil {
		p.failures.Add(1)
		p.logger.Error("NATS publisher: publish: %v", err)
		return
	}
	p.published.Add(1)
}

// GetPublished returns frames published
func (p *NATSPublisher) GetPublished() uint64 {
	return p.published.Load()
}

// GetFailures returns frames that could not be published
func (p *NATSPublisher) GetFailures() uint64 {
	return p.failures.Load()
}

// subjectToken makes a channel ID safe as one subject token
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}
