package reassembly

// Handler receives completed frames.
// HandleFrame runs synchronously inside Feed and must not block; consumers
// that need asynchronous processing queue the frame themselves. The frame
// slice belongs to the handler once delivered.
type Handler interface {
	HandleFrame(typ byte, frame []byte)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(typ byte, frame []byte)

// HandleFrame calls f(typ, frame)
func (f HandlerFunc) HandleFrame(typ byte, frame []byte) {
	f(typ, frame)
}

// Dispatcher hands completed frames to the descriptor's handler.
// It keeps no buffer and never retries.
type Dispatcher struct{}

// Deliver invokes the registered handler for ft
func (Dispatcher) Deliver(ft *FrameType, frame []byte) {
	ft.Handler.HandleFrame(ft.Type, frame)
}

// discardHandler drops every frame
type discardHandler struct{}

func (discardHandler) HandleFrame(byte, []byte) {}

// Discard is a Handler that ignores frames, useful when only events matter
var Discard Handler = discardHandler{}
