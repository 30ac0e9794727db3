package reassembly

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

const (
	typeEvent byte = 0x04
	typeACL   byte = 0x02
	typeFixed byte = 0x09
	typeSmall byte = 0x07
)

type recorded struct {
	typ   byte
	frame []byte
}

type recorder struct {
	frames []recorded
}

func (r *recorder) HandleFrame(typ byte, frame []byte) {
	r.frames = append(r.frames, recorded{typ: typ, frame: append([]byte(nil), frame...)})
}

func testTypes(h Handler) []FrameType {
	return []FrameType{
		{Type: typeEvent, HeaderLen: 3, LengthOffset: 2, LengthWidth: 1, MaxLen: 3 + 255, Handler: h},
		{Type: typeACL, HeaderLen: 5, LengthOffset: 3, LengthWidth: 2, MaxLen: 5 + 1024, Handler: h},
		{Type: typeFixed, HeaderLen: 4, MaxLen: 4, Handler: h},
		{Type: typeSmall, HeaderLen: 3, LengthOffset: 1, LengthWidth: 2, MaxLen: 10, Handler: h},
	}
}

func testTable(t *testing.T, h Handler) *Table {
	t.Helper()
	table, err := NewTable(testTypes(h)...)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	return table
}

func eventFrame(code byte, params ...byte) []byte {
	return append([]byte{typeEvent, code, byte(len(params))}, params...)
}

func aclFrame(handle uint16, n int) []byte {
	frame := []byte{typeACL, byte(handle), byte(handle >> 8), byte(n), byte(n >> 8)}
	for i := 0; i < n; i++ {
		frame = append(frame, byte(i))
	}
	return frame
}

func completed(events []Event) [][]byte {
	var out [][]byte
	for _, ev := range events {
		if ev.Completed() {
			out = append(out, ev.Frame)
		}
	}
	return out
}

func errorKinds(events []Event) []ErrorKind {
	var out []ErrorKind
	for _, ev := range events {
		if ev.Kind == EventError {
			out = append(out, ev.Err)
		}
	}
	return out
}

func TestAssembler_SingleFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{name: "Event with parameters", frame: eventFrame(0x0e, 0x01, 0x03, 0x0c, 0x00)},
		{name: "Event without parameters", frame: eventFrame(0x0e)},
		{name: "ACL n=0", frame: aclFrame(0x0001, 0)},
		{name: "ACL n=255", frame: aclFrame(0x0001, 255)},
		{name: "ACL n=256", frame: aclFrame(0x0001, 256)},
		{name: "ACL n=1024", frame: aclFrame(0x2002, 1024)},
		{name: "Fixed type", frame: []byte{typeFixed, 0xaa, 0xbb, 0xcc}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			a := NewAssembler(testTable(t, rec))

			events := a.Feed(tt.frame)

			if len(events) != 1 || !events[0].Completed() {
				t.Fatalf("events = %v, want one completed frame", events)
			}
			if events[0].Type != tt.frame[0] {
				t.Errorf("Type = 0x%02x, want 0x%02x", events[0].Type, tt.frame[0])
			}
			if !bytes.Equal(events[0].Frame, tt.frame) {
				t.Errorf("Frame length = %d, want %d", len(events[0].Frame), len(tt.frame))
			}
			if len(rec.frames) != 1 || !bytes.Equal(rec.frames[0].frame, tt.frame) {
				t.Errorf("handler received %d frames, want the same frame once", len(rec.frames))
			}
			if a.State().Active() {
				t.Error("state still active after completed frame")
			}
		})
	}
}

func TestAssembler_LengthFieldWidths(t *testing.T) {
	for _, n := range []int{0, 255, 256} {
		frame := aclFrame(0x0042, n)
		a := NewAssembler(testTable(t, Discard))

		// Stop right after the header so the declared size is visible
		a.Feed(frame[:5])
		st := a.State()
		if n == 0 {
			if st.Active() {
				t.Errorf("n=%d: state active after header, want completed", n)
			}
			continue
		}
		if st.Expected() != 5+n {
			t.Errorf("n=%d: Expected() = %d, want %d", n, st.Expected(), 5+n)
		}

		events := a.Feed(frame[5:])
		frames := completed(events)
		if len(frames) != 1 || len(frames[0]) != 5+n {
			t.Errorf("n=%d: completed %d frames, want one of %d bytes", n, len(frames), 5+n)
		}
	}
}

func TestAssembler_ChunkingInvariance(t *testing.T) {
	var stream []byte
	stream = append(stream, eventFrame(0x0e, 0x01, 0x03, 0x0c, 0x00)...)
	stream = append(stream, aclFrame(0x0001, 300)...)
	stream = append(stream, typeFixed, 1, 2, 3)
	stream = append(stream, eventFrame(0x13)...)
	stream = append(stream, aclFrame(0x0002, 0)...)
	stream = append(stream, aclFrame(0x0003, 17)...)

	whole := NewAssembler(testTable(t, Discard))
	want := completed(whole.Feed(stream))
	if len(want) != 6 {
		t.Fatalf("single feed completed %d frames, want 6", len(want))
	}

	check := func(t *testing.T, chunks [][]byte) {
		t.Helper()
		a := NewAssembler(testTable(t, Discard))
		var got [][]byte
		for _, chunk := range chunks {
			got = append(got, completed(a.Feed(chunk))...)
		}
		if len(got) != len(want) {
			t.Fatalf("completed %d frames, want %d", len(got), len(want))
		}
		for i := range want {
			if !bytes.Equal(got[i], want[i]) {
				t.Errorf("frame %d differs", i)
			}
		}
	}

	for size := 1; size <= 8; size++ {
		var chunks [][]byte
		for i := 0; i < len(stream); i += size {
			end := i + size
			if end > len(stream) {
				end = len(stream)
			}
			chunks = append(chunks, stream[i:end])
		}
		check(t, chunks)
	}

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		var chunks [][]byte
		rest := stream
		for len(rest) > 0 {
			n := rng.Intn(len(rest)) + 1
			if n > 40 {
				n = rng.Intn(40) + 1
			}
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		check(t, chunks)
	}
}

func TestAssembler_Resynchronization(t *testing.T) {
	rec := &recorder{}
	a := NewAssembler(testTable(t, rec))
	frame := eventFrame(0x0e, 0x01, 0x02)

	events := a.Feed(append([]byte{0xff}, frame...))

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Kind != EventError || events[0].Err != UnknownType || events[0].Type != 0xff {
		t.Errorf("first event = %v, want UnknownType for 0xff", events[0])
	}
	if events[0].Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", events[0].Dropped)
	}
	if !errors.Is(events[0].Cause(), ErrUnknownType) {
		t.Errorf("Cause() = %v, want ErrUnknownType", events[0].Cause())
	}
	if !events[1].Completed() || !bytes.Equal(events[1].Frame, frame) {
		t.Errorf("second event = %v, want the valid frame intact", events[1])
	}
	if got := a.Statistics().GetUnknownTypes(); got != 1 {
		t.Errorf("UnknownTypes = %d, want 1", got)
	}
}

type capacityTracker struct {
	HeapAllocator
	maxCap  int
	inUse   int
	allocs  int
	release int
}

func (c *capacityTracker) Alloc(capacity int) ([]byte, error) {
	c.allocs++
	c.inUse++
	if capacity > c.maxCap {
		c.maxCap = capacity
	}
	return c.HeapAllocator.Alloc(capacity)
}

func (c *capacityTracker) Release(buf []byte) {
	c.release++
	c.inUse--
}

func TestAssembler_Oversize(t *testing.T) {
	rec := &recorder{}
	tracker := &capacityTracker{}
	a := NewAssembler(testTable(t, rec), WithAllocator(tracker))

	// Declares 3 + 8 = 11 bytes against a maximum of 10
	events := a.Feed([]byte{typeSmall, 0x08, 0x00})

	if kinds := errorKinds(events); len(kinds) != 1 || kinds[0] != Oversize {
		t.Fatalf("errors = %v, want [Oversize]", kinds)
	}
	if len(completed(events)) != 0 || len(rec.frames) != 0 {
		t.Error("oversize frame was delivered")
	}
	if events[0].Declared != 11 {
		t.Errorf("Declared = %d, want 11", events[0].Declared)
	}
	if a.State().Active() {
		t.Error("state active after oversize")
	}
	if tracker.maxCap > 10 {
		t.Errorf("allocated capacity %d, want at most 10", tracker.maxCap)
	}
	if tracker.inUse != 0 {
		t.Errorf("%d buffers still held", tracker.inUse)
	}

	// The exact maximum is accepted
	ok := []byte{typeSmall, 0x07, 0x00, 1, 2, 3, 4, 5, 6, 7}
	frames := completed(a.Feed(ok))
	if len(frames) != 1 || !bytes.Equal(frames[0], ok) {
		t.Errorf("frame at the maximum was not delivered")
	}
	if got := a.Statistics().GetOversizeFrames(); got != 1 {
		t.Errorf("OversizeFrames = %d, want 1", got)
	}
}

func TestAssembler_ZeroVariablePart(t *testing.T) {
	rec := &recorder{}
	a := NewAssembler(testTable(t, rec))

	a.Feed([]byte{typeFixed, 0x01, 0x02})
	if len(rec.frames) != 0 {
		t.Fatal("fixed frame delivered before its header completed")
	}

	events := a.Feed([]byte{0x03})
	frames := completed(events)
	if len(frames) != 1 || len(frames[0]) != 4 {
		t.Fatalf("completed = %v, want one 4-byte frame", frames)
	}
	if a.State().Active() {
		t.Error("state active after fixed frame")
	}
}

func TestAssembler_ZeroDeclaredLength(t *testing.T) {
	a := NewAssembler(testTable(t, Discard))

	// The header alone completes the frame; no later call is needed
	events := a.Feed(eventFrame(0x13))

	if frames := completed(events); len(frames) != 1 || len(frames[0]) != 3 {
		t.Fatalf("completed = %v, want one 3-byte frame", frames)
	}
	if a.State().Active() {
		t.Error("state waiting for zero more bytes")
	}
}

func TestAssembler_BackToBack(t *testing.T) {
	rec := &recorder{}
	a := NewAssembler(testTable(t, rec))
	first := eventFrame(0x0e, 0xaa, 0xbb)
	second := aclFrame(0x0010, 3)

	events := a.Feed(append(append([]byte{}, first...), second...))

	frames := completed(events)
	if len(frames) != 2 {
		t.Fatalf("completed %d frames, want 2", len(frames))
	}
	if !bytes.Equal(frames[0], first) || !bytes.Equal(frames[1], second) {
		t.Errorf("frames = %x, want %x then %x", frames, first, second)
	}
	if rec.frames[0].typ != typeEvent || rec.frames[1].typ != typeACL {
		t.Errorf("handler types = 0x%02x, 0x%02x", rec.frames[0].typ, rec.frames[1].typ)
	}

	// Frames must not alias each other
	frames[0][1] = 0x00
	if frames[1][0] != typeACL {
		t.Error("completed frames share memory")
	}
}

func TestAssembler_SuspendMidLengthField(t *testing.T) {
	a := NewAssembler(testTable(t, Discard))
	frame := aclFrame(0x0001, 300)

	a.Feed(frame[:4]) // low length byte only
	st := a.State()
	if typ, ok := st.Type(); !ok || typ != typeACL {
		t.Fatalf("Type() = 0x%02x, %v, want ACL in progress", typ, ok)
	}
	if st.Buffered() != 4 || st.Expected() != 5 {
		t.Errorf("Buffered/Expected = %d/%d, want 4/5", st.Buffered(), st.Expected())
	}

	a.Feed(frame[4:5])
	if got := a.State().Expected(); got != 305 {
		t.Errorf("Expected() = %d, want 305", got)
	}

	frames := completed(a.Feed(frame[5:]))
	if len(frames) != 1 || !bytes.Equal(frames[0], frame) {
		t.Error("frame not reassembled after suspension in length field")
	}
}

type toggleAllocator struct {
	fail bool
}

func (f *toggleAllocator) Alloc(capacity int) ([]byte, error) {
	if f.fail {
		return nil, ErrAllocation
	}
	return make([]byte, 0, capacity), nil
}

func (f *toggleAllocator) Release([]byte) {}

func TestAssembler_AllocationFailure(t *testing.T) {
	alloc := &toggleAllocator{fail: true}
	rec := &recorder{}
	a := NewAssembler(testTable(t, rec), WithAllocator(alloc))
	frame := eventFrame(0x0e, 1, 2, 3)

	events := a.Feed(frame)
	if len(events) != 1 || events[0].Err != AllocationFailure {
		t.Fatalf("events = %v, want one AllocationFailure", events)
	}
	if events[0].Dropped != len(frame) {
		t.Errorf("Dropped = %d, want %d", events[0].Dropped, len(frame))
	}
	if a.State().Active() {
		t.Fatal("state left active after allocation failure")
	}

	alloc.fail = false
	frames := completed(a.Feed(frame))
	if len(frames) != 1 || !bytes.Equal(frames[0], frame) {
		t.Error("frame not assembled after allocator recovered")
	}
	if got := a.Statistics().GetAllocationFailures(); got != 1 {
		t.Errorf("AllocationFailures = %d, want 1", got)
	}
}

func TestAssembler_BudgetAllocator(t *testing.T) {
	budget := NewBudgetAllocator(100)
	a := NewAssembler(testTable(t, Discard), WithAllocator(budget))

	// Event frames need 258 bytes of capacity
	events := a.Feed(eventFrame(0x0e, 1))
	if kinds := errorKinds(events); len(kinds) != 1 || kinds[0] != AllocationFailure {
		t.Fatalf("errors = %v, want [AllocationFailure]", kinds)
	}

	// Small frames fit; capacity is returned once they complete
	a.Feed([]byte{typeSmall, 0x02})
	if budget.InUse() != 10 {
		t.Errorf("InUse() = %d, want 10 while assembling", budget.InUse())
	}
	a.Feed([]byte{0x00, 0xaa, 0xbb})
	if budget.InUse() != 0 {
		t.Errorf("InUse() = %d, want 0 after completion", budget.InUse())
	}
}

func TestAssembler_ResetAndClose(t *testing.T) {
	a := NewAssembler(testTable(t, Discard))
	a.Feed(aclFrame(0x0001, 10)[:7])

	if dropped := a.Reset(); dropped != 7 {
		t.Errorf("Reset() = %d, want 7", dropped)
	}
	if a.State().Active() {
		t.Error("state active after Reset")
	}

	a.Close()
	if !a.Closed() {
		t.Error("Closed() = false after Close")
	}

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrClosed) {
			t.Errorf("recover() = %v, want ErrClosed", r)
		}
	}()
	a.Feed([]byte{typeEvent})
}

func TestFeed_ThreadsState(t *testing.T) {
	rec := &recorder{}
	table := testTable(t, rec)
	stats := NewStatistics()
	frame := eventFrame(0x0e, 9, 8, 7)

	var st State
	var all []Event
	for _, b := range frame {
		var events []Event
		st, events = Feed(table, st, []byte{b}, WithStatistics(stats))
		all = append(all, events...)
	}

	if frames := completed(all); len(frames) != 1 || !bytes.Equal(frames[0], frame) {
		t.Fatalf("completed = %x, want %x", frames, frame)
	}
	if st.Active() {
		t.Error("returned state active after completion")
	}
	if stats.GetBytesFed() != uint64(len(frame)) {
		t.Errorf("BytesFed = %d, want %d", stats.GetBytesFed(), len(frame))
	}
	if stats.GetFramesCompleted() != 1 {
		t.Errorf("FramesCompleted = %d, want 1", stats.GetFramesCompleted())
	}
}

func TestFeed_SnapshotReuse(t *testing.T) {
	table := testTable(t, Discard)

	snap, events := Feed(table, State{}, []byte{typeEvent, 0x0e})
	if len(events) != 0 || snap.Buffered() != 2 {
		t.Fatalf("Buffered() = %d, events = %v, want 2 and none", snap.Buffered(), events)
	}

	_, events = Feed(table, snap, []byte{0x02, 0xaa, 0xbb})
	frames := completed(events)
	if len(frames) != 1 {
		t.Fatalf("completed %d frames, want 1", len(frames))
	}
	first := frames[0]
	want := []byte{typeEvent, 0x0e, 0x02, 0xaa, 0xbb}

	// Resume from the same snapshot along a different path
	_, events = Feed(table, snap, []byte{0x01, 0xcc})
	if again := completed(events); len(again) != 1 || !bytes.Equal(again[0], []byte{typeEvent, 0x0e, 0x01, 0xcc}) {
		t.Errorf("second completion = %x, want 040e01cc", again)
	}
	if !bytes.Equal(first, want) {
		t.Errorf("first frame = %x after reuse, want %x", first, want)
	}
	if snap.Buffered() != 2 {
		t.Errorf("snapshot Buffered() = %d after reuse, want 2", snap.Buffered())
	}
}

func TestAssembler_SharedTable(t *testing.T) {
	table := testTable(t, Discard)
	a := NewAssembler(table)
	b := NewAssembler(table)
	frame := aclFrame(0x0001, 4)

	a.Feed(frame[:3])
	frames := completed(b.Feed(frame))
	if len(frames) != 1 {
		t.Fatalf("second assembler completed %d frames, want 1", len(frames))
	}
	if a.State().Buffered() != 3 {
		t.Errorf("first assembler Buffered() = %d, want 3", a.State().Buffered())
	}
}
