package relay

import (
	"strings"
	"testing"
	"time"
)

func controlState() *pendingState {
	return newPendingState(map[string]bool{"Finalize": true, "KeepAlive": true})
}

func collect(s *pendingState, n int) []queuedFrame {
	out := make([]queuedFrame, 0, n)
	for i := 0; i < n; i++ {
		f, ok := s.next()
		if !ok {
			break
		}
		out = append(out, f)
	}
	return out
}

func TestPendingControlJumpsAheadOfData(t *testing.T) {
	s := controlState()

	frames := []queuedFrame{
		{data: []byte{1, 2, 3}},
		{data: []byte(`{"type":"other"}`), text: true},
		{data: []byte(`{"type":"Finalize"}`), text: true},
	}
	for _, f := range frames {
		if err := s.enqueue(f); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	got := collect(s, 3)
	if len(got) != 3 {
		t.Fatalf("got %d frames, want 3", len(got))
	}
	if string(got[0].data) != `{"type":"Finalize"}` {
		t.Errorf("first frame = %q, want the control frame", got[0].data)
	}
	// Data frames keep their relative order behind control frames.
	if len(got[1].data) != 3 || string(got[2].data) != `{"type":"other"}` {
		t.Errorf("data order broken: %q then %q", got[1].data, got[2].data)
	}
}

func TestPendingNextBlocksUntilEnqueue(t *testing.T) {
	s := controlState()

	ready := make(chan queuedFrame, 1)
	go func() {
		f, ok := s.next()
		if ok {
			ready <- f
		}
	}()

	select {
	case <-ready:
		t.Fatal("next returned before any frame was queued")
	case <-time.After(20 * time.Millisecond):
	}

	if err := s.enqueue(queuedFrame{data: []byte("audio")}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case f := <-ready:
		if string(f.data) != "audio" {
			t.Errorf("frame = %q", f.data)
		}
	case <-time.After(time.Second):
		t.Fatal("next did not wake after enqueue")
	}
}

func TestPendingBackpressureLimit(t *testing.T) {
	s := controlState()

	chunk := make([]byte, 1<<20)
	for i := 0; i < 5; i++ {
		if err := s.enqueue(queuedFrame{data: chunk}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if err := s.enqueue(queuedFrame{data: []byte{0}}); err != errBackpressure {
		t.Fatalf("enqueue past the cap = %v, want errBackpressure", err)
	}

	// Draining a frame releases its budget.
	if _, ok := s.next(); !ok {
		t.Fatal("next on a non-empty queue")
	}
	if err := s.enqueue(queuedFrame{data: []byte{0}}); err != nil {
		t.Errorf("enqueue after drain: %v", err)
	}
}

func TestPendingCloseDrainsRemainderThenStops(t *testing.T) {
	s := controlState()
	if err := s.enqueue(queuedFrame{data: []byte("tail")}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	s.close()

	if f, ok := s.next(); !ok || string(f.data) != "tail" {
		t.Fatalf("buffered frame after close = (%q, %v)", f.data, ok)
	}
	if _, ok := s.next(); ok {
		t.Error("next on a closed empty queue returned a frame")
	}
	if err := s.enqueue(queuedFrame{data: []byte("late")}); err != errQueueClosed {
		t.Errorf("enqueue after close = %v, want errQueueClosed", err)
	}
	if s.bytes != 0 {
		t.Errorf("bytes = %d after full drain, want 0", s.bytes)
	}
}

func TestPendingCloseWakesBlockedReader(t *testing.T) {
	s := controlState()

	done := make(chan bool, 1)
	go func() {
		_, ok := s.next()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	s.close()

	select {
	case ok := <-done:
		if ok {
			t.Error("next returned a frame from an empty closed queue")
		}
	case <-time.After(time.Second):
		t.Fatal("close did not wake blocked next")
	}
}

func TestPendingNonJSONNeverControl(t *testing.T) {
	s := controlState()
	if s.isControl([]byte("Finalize")) {
		t.Error("bare text must not classify as control")
	}
	if s.isControl([]byte(`{"type":"Unknown"}`)) {
		t.Error("undeclared type must not classify as control")
	}
	if !s.isControl([]byte(`{"type":"KeepAlive"}`)) {
		t.Error("declared type must classify as control")
	}

	s.enqueue(queuedFrame{data: []byte("Finalize"), text: true})
	s.enqueue(queuedFrame{data: []byte(`{"type":"Finalize"}`), text: true})
	got := collect(s, 2)
	if !strings.HasPrefix(string(got[0].data), "{") {
		t.Errorf("first frame = %q, want the JSON control frame first", got[0].data)
	}
}
