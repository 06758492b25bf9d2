package gsmnet

import (
	"fmt"
	"time"
)

// SocketState is the connection state of one multiplexed socket.
type SocketState int

const (
	// SocketIdle is the state of a socket that never connected
	SocketIdle SocketState = iota
	// SocketConnecting is the state while the dialect opens the connection
	SocketConnecting
	// SocketConnected is the state of an open connection
	SocketConnected
	// SocketClosing is the state while the dialect closes the connection
	SocketClosing
	// SocketClosed is the state after a local or remote close
	SocketClosed
)

// String returns a human-readable string representation of the socket state.
func (s SocketState) String() string {
	switch s {
	case SocketIdle:
		return "Idle"
	case SocketConnecting:
		return "Connecting"
	case SocketConnected:
		return "Connected"
	case SocketClosing:
		return "Closing"
	case SocketClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Socket is the engine side record of one logical connection. Dialects
// reach it through Engine.Socket while holding the engine lock; none of
// its methods lock on their own.
type Socket struct {
	mux       int
	state     SocketState
	available int
	gotData   bool
	rx        *RingBuffer[byte]
	lastPoll  time.Time
	timeout   time.Duration
	tls       bool
	notify    func(s *Socket, prev, next SocketState)
}

func newSocket(mux, bufSize int, timeout time.Duration, tls bool) *Socket {
	return &Socket{
		mux:     mux,
		rx:      NewRingBuffer[byte](bufSize),
		timeout: timeout,
		tls:     tls,
	}
}

// Mux returns the slot number.
func (s *Socket) Mux() int {
	return s.mux
}

// State returns the connection state.
func (s *Socket) State() SocketState {
	return s.state
}

// TLS reports whether the socket was opened as a secure client.
func (s *Socket) TLS() bool {
	return s.tls
}

// Estimate returns the number of bytes the modem reported as waiting in
// its own buffer for this socket.
func (s *Socket) Estimate() int {
	return s.available
}

// SetEstimate records the modem side byte count. Negative values count as 0.
func (s *Socket) SetEstimate(n int) {
	if n < 0 {
		n = 0
	}
	s.available = n
}

// MarkData flags the socket so the engine queries the exact byte count
// once the current wait finishes.
func (s *Socket) MarkData() {
	s.gotData = true
}

// Disconnected marks the connection as closed by the peer. Bytes already
// buffered stay readable.
func (s *Socket) Disconnected() {
	s.setState(SocketClosed)
}

// Buffer returns the local receive buffer.
func (s *Socket) Buffer() *RingBuffer[byte] {
	return s.rx
}

// Timeout returns the per socket read timeout.
func (s *Socket) Timeout() time.Duration {
	return s.timeout
}

func (s *Socket) setState(st SocketState) {
	prev := s.state
	if prev == st {
		return
	}
	s.state = st
	if s.notify != nil {
		s.notify(s, prev, st)
	}
}

func (s *Socket) reset() {
	s.rx.Clear()
	s.available = 0
	s.gotData = false
}

func (s *Socket) live() bool {
	return s.state == SocketConnecting || s.state == SocketConnected || s.state == SocketClosing
}

// SocketTable maps mux numbers to sockets. A slot holds at most one socket
// and a socket sits in at most one slot.
type SocketTable struct {
	slots []*Socket
}

func newSocketTable(n int) *SocketTable {
	return &SocketTable{slots: make([]*Socket, n)}
}

// Len returns the number of slots.
func (t *SocketTable) Len() int {
	return len(t.slots)
}

// Get returns the socket attached to mux, nil when the slot is empty or out of range.
func (t *SocketTable) Get(mux int) *Socket {
	if mux < 0 || mux >= len(t.slots) {
		return nil
	}
	return t.slots[mux]
}

func (t *SocketTable) attached(s *Socket) bool {
	return t.Get(s.mux) == s
}

// claim makes mux usable by s. A stale closed occupant is evicted, a live
// one is an error.
func (t *SocketTable) claim(s *Socket, mux int) error {
	if mux < 0 || mux >= len(t.slots) {
		return fmt.Errorf("%w: %d not in 0..%d", ErrMuxRange, mux, len(t.slots)-1)
	}
	if cur := t.slots[mux]; cur != nil && cur != s && cur.live() {
		return fmt.Errorf("%w: %d", ErrMuxInUse, mux)
	}
	return nil
}

func (t *SocketTable) attach(s *Socket, mux int) error {
	if err := t.claim(s, mux); err != nil {
		return err
	}
	t.detach(s)
	t.slots[mux] = s
	s.mux = mux
	return nil
}

func (t *SocketTable) detach(s *Socket) {
	if t.attached(s) {
		t.slots[s.mux] = nil
	}
}

// move re-homes s under a modem assigned mux. Whatever sat there before is
// evicted since the modem just reported the slot as its own.
func (t *SocketTable) move(s *Socket, mux int) error {
	if mux < 0 || mux >= len(t.slots) {
		return fmt.Errorf("%w: %d not in 0..%d", ErrMuxRange, mux, len(t.slots)-1)
	}
	t.detach(s)
	if cur := t.slots[mux]; cur != nil && cur != s {
		cur.setState(SocketClosed)
	}
	t.slots[mux] = s
	s.mux = mux
	return nil
}

// freeSlot returns the lowest mux that is empty or holds a stale socket, -1 if none.
func (t *SocketTable) freeSlot() int {
	stale := -1
	for i, s := range t.slots {
		if s == nil {
			return i
		}
		if stale < 0 && !s.live() {
			stale = i
		}
	}
	return stale
}

func (t *SocketTable) each(fn func(s *Socket)) {
	for _, s := range t.slots {
		if s != nil {
			fn(s)
		}
	}
}

func (t *SocketTable) open() int {
	n := 0
	t.each(func(s *Socket) {
		if s.live() {
			n++
		}
	})
	return n
}
