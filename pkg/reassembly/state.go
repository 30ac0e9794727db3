package reassembly

// State is the in-flight frame of one channel.
// The zero value is idle. A State must not be shared between channels.
type State struct {
	ft         *FrameType // nil while idle
	buf        []byte     // capacity fixed at ft.MaxLen
	expected   int        // bytes this frame is known to need
	lengthRead bool       // header completed and length field consumed
}

// Active reports whether a frame is partially received
func (s State) Active() bool {
	return s.ft != nil
}

// Type returns the active frame type, if any
func (s State) Type() (byte, bool) {
	if s.ft == nil {
		return 0, false
	}
	return s.ft.Type, true
}

// Buffered returns the number of bytes held for the active frame
func (s State) Buffered() int {
	return len(s.buf)
}

// Expected returns the total length the active frame currently needs
func (s State) Expected() int {
	return s.expected
}

// begin starts a new frame with the type byte already consumed
func (s *State) begin(ft *FrameType, buf []byte) {
	s.ft = ft
	s.buf = append(buf[:0], ft.Type)
	s.expected = ft.HeaderLen
	s.lengthRead = false
}

// clone detaches the buffer from other copies of the same State
func (s *State) clone() {
	if s.buf != nil {
		s.buf = append(make([]byte, 0, cap(s.buf)), s.buf...)
	}
}

// reset returns to idle; every field is cleared together
func (s *State) reset() {
	*s = State{}
}
