package relay

import (
	"encoding/json"
	"errors"
	"sync"
)

// maxPendingBytes caps buffered frames per connection. A client or upstream
// that cannot drain this much is stuck; closing beats unbounded memory.
const maxPendingBytes = 5 << 20

var (
	errBackpressure = errors.New("pending frame buffer overflow")
	errQueueClosed  = errors.New("pending frame buffer closed")
)

type queuedFrame struct {
	data []byte
	text bool
}

// pendingState buffers frames between the client reader and the upstream
// writer, keeping control frames ahead of data frames so a Finalize never
// queues behind audio. enqueue and next run on different goroutines.
type pendingState struct {
	mu     sync.Mutex
	cond   *sync.Cond
	closed bool

	controlTypes map[string]bool
	control      []queuedFrame
	data         []queuedFrame
	bytes        int
}

func newPendingState(controlTypes map[string]bool) *pendingState {
	s := &pendingState{controlTypes: controlTypes}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *pendingState) enqueue(f queuedFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errQueueClosed
	}
	if s.bytes+len(f.data) > maxPendingBytes {
		return errBackpressure
	}
	s.bytes += len(f.data)

	if f.text && s.isControl(f.data) {
		s.control = append(s.control, f)
	} else {
		s.data = append(s.data, f)
	}
	s.cond.Signal()
	return nil
}

// next blocks until a frame is available or the queue is closed and empty.
// Buffered frames still drain after close.
func (s *pendingState) next() (queuedFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.control) == 0 && len(s.data) == 0 && !s.closed {
		s.cond.Wait()
	}

	var f queuedFrame
	switch {
	case len(s.control) > 0:
		f, s.control = s.control[0], s.control[1:]
	case len(s.data) > 0:
		f, s.data = s.data[0], s.data[1:]
	default:
		return queuedFrame{}, false
	}
	s.bytes -= len(f.data)
	return f, true
}

func (s *pendingState) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *pendingState) isControl(data []byte) bool {
	if len(s.controlTypes) == 0 {
		return false
	}
	var frame struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return false
	}
	return s.controlTypes[frame.Type]
}
