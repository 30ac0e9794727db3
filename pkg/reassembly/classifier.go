package reassembly

// Classifier inspects a frame once its fixed header is buffered and may
// move it to a different descriptor before the length field is read.
//
// Returning nil or current keeps the frame where it is. A replacement must
// have the same HeaderLen and must not allow a larger MaxLen than current;
// any other replacement is ignored. Classifiers see one header at a time
// and must not carry state from one frame to the next.
type Classifier interface {
	Classify(header []byte, current *FrameType) *FrameType
}

// ClassifierFunc adapts a function to the Classifier interface
type ClassifierFunc func(header []byte, current *FrameType) *FrameType

// Classify calls f(header, current)
func (f ClassifierFunc) Classify(header []byte, current *FrameType) *FrameType {
	return f(header, current)
}

// accepts reports whether next may replace current for a buffered header
func accepts(current, next *FrameType) bool {
	if next == nil || next == current {
		return false
	}
	if next.HeaderLen != current.HeaderLen || next.MaxLen > current.MaxLen {
		return false
	}
	return next.validate() == nil
}
