package sink

import "avaneesh/h4-go/pkg/channel"

// Fanout delivers each frame to several subscribers in order
type Fanout []channel.Subscriber

// OnFrame implements channel.Subscriber
func (f Fanout) OnFrame(frame channel.Frame) {
	for _, s := range f {
		s.OnFrame(frame)
	}
}
