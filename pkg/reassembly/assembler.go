package reassembly

// Option configures an Assembler or a Feed call
type Option func(*engine)

// WithClassifier installs a pre-classification hook
func WithClassifier(c Classifier) Option {
	return func(e *engine) {
		e.classifier = c
	}
}

// WithAllocator replaces the heap allocator
func WithAllocator(a Allocator) Option {
	return func(e *engine) {
		if a != nil {
			e.alloc = a
		}
	}
}

// WithStatistics records counters into s
func WithStatistics(s *Statistics) Option {
	return func(e *engine) {
		if s != nil {
			e.stats = s
		}
	}
}

// engine holds everything Feed needs except the per-channel state
type engine struct {
	table      *Table
	classifier Classifier
	alloc      Allocator
	stats      *Statistics
	dispatcher Dispatcher
}

func newEngine(table *Table, opts []Option) *engine {
	e := &engine{
		table: table,
		alloc: HeapAllocator{},
		stats: NewStatistics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Feed consumes all of data, starting from state, and returns the updated
// state together with the events produced in arrival order. Completed
// frames are delivered to their handlers before Feed returns. The caller's
// copy of state is never written, so a snapshot may be fed more than once.
func Feed(table *Table, state State, data []byte, opts ...Option) (State, []Event) {
	e := newEngine(table, opts)
	state.clone()
	events := e.feed(&state, data)
	return state, events
}

// feed is the byte-consuming loop. Assembly may pause at any offset and
// resumes on the next call with the same state.
func (e *engine) feed(st *State, data []byte) []Event {
	var events []Event
	e.stats.addBytesFed(len(data))

	for len(data) > 0 {
		if !st.Active() {
			b := data[0]
			data = data[1:]

			ft, ok := e.table.Lookup(b)
			if !ok {
				events = e.fail(events, Event{Kind: EventError, Err: UnknownType, Type: b, Dropped: 1})
				continue
			}

			buf, err := e.alloc.Alloc(ft.MaxLen)
			if err != nil || cap(buf) < ft.MaxLen {
				if err == nil {
					e.alloc.Release(buf)
				}
				// The rest of this chunk belonged to the frame we could not hold
				dropped := 1 + len(data)
				st.reset()
				return e.fail(events, Event{Kind: EventError, Err: AllocationFailure, Type: b, Dropped: dropped})
			}
			st.begin(ft, buf)
		}

		n := st.expected - len(st.buf)
		if n > len(data) {
			n = len(data)
		}
		st.buf = append(st.buf, data[:n]...)
		data = data[n:]

		if len(st.buf) < st.expected {
			break
		}
		if ev, ok := e.advance(st); ok {
			if ev.Kind == EventError {
				events = e.fail(events, ev)
			} else {
				events = append(events, ev)
			}
		}
	}

	return events
}

// advance runs when the buffer reaches the expected length. It reads the
// length field the first time the header completes and finishes the frame
// once nothing more is owed.
func (e *engine) advance(st *State) (Event, bool) {
	if !st.lengthRead {
		st.lengthRead = true
		e.classify(st)

		ft := st.ft
		if ft.LengthWidth > 0 {
			st.expected += ft.variableLen(st.buf)
			if st.expected > ft.MaxLen {
				ev := Event{
					Kind:     EventError,
					Err:      Oversize,
					Type:     ft.Type,
					Declared: st.expected,
					Dropped:  len(st.buf),
				}
				e.alloc.Release(st.buf)
				st.reset()
				return ev, true
			}
			if len(st.buf) < st.expected {
				return Event{}, false
			}
		}
	}

	ft := st.ft
	frame := st.buf[:len(st.buf):len(st.buf)]
	e.alloc.Release(st.buf)
	st.reset()

	e.dispatcher.Deliver(ft, frame)
	e.stats.frameCompleted()
	return Event{Kind: EventCompleted, Type: ft.Type, Frame: frame}, true
}

// classify gives the classifier its single look at the header
func (e *engine) classify(st *State) {
	if e.classifier == nil {
		return
	}
	next := e.classifier.Classify(st.buf[:st.ft.HeaderLen:st.ft.HeaderLen], st.ft)
	if !accepts(st.ft, next) {
		return
	}
	st.ft = next
	e.stats.reclassified()
}

func (e *engine) fail(events []Event, ev Event) []Event {
	e.stats.record(ev)
	return append(events, ev)
}

// Assembler owns the reassembly state of one channel.
// Feed is not reentrant; callers serialize calls per channel. Any number of
// Assemblers may share a Table.
type Assembler struct {
	engine *engine
	state  State
	closed bool
}

// NewAssembler creates an idle assembler for table
func NewAssembler(table *Table, opts ...Option) *Assembler {
	return &Assembler{
		engine: newEngine(table, opts),
	}
}

// Feed consumes data and returns the resulting events.
// Feeding a closed assembler is a programming error and panics.
func (a *Assembler) Feed(data []byte) []Event {
	if a.closed {
		panic(ErrClosed)
	}
	return a.engine.feed(&a.state, data)
}

// State returns a copy of the current state
func (a *Assembler) State() State {
	return a.state
}

// Statistics returns the assembler's counters
func (a *Assembler) Statistics() *Statistics {
	return a.engine.stats
}

// Table returns the frame type table
func (a *Assembler) Table() *Table {
	return a.engine.table
}

// Reset drops any partially received frame and returns the bytes discarded
func (a *Assembler) Reset() int {
	dropped := len(a.state.buf)
	if a.state.Active() {
		a.engine.alloc.Release(a.state.buf)
	}
	a.state.reset()
	return dropped
}

// Close releases the in-flight frame. The assembler cannot be fed afterwards.
func (a *Assembler) Close() {
	if a.closed {
		return
	}
	a.Reset()
	a.closed = true
}

// Closed reports whether Close was called
func (a *Assembler) Closed() bool {
	return a.closed
}
