package gsmnet

import (
	"fmt"
	"io"
	"time"
)

// AnyMux lets Connect pick the lowest free slot.
const AnyMux = -1

// Client is a stream socket over one modem connection. It implements
// io.ReadWriteCloser. All methods take the engine lock.
type Client struct {
	e    *Engine
	s    *Socket
	want int
}

// NewClient returns an unconnected client bound to mux, or to any free
// slot when mux is AnyMux.
func (e *Engine) NewClient(mux int) *Client {
	return e.newClient(mux, false)
}

// NewSecureClient is NewClient for TLS connections.
func (e *Engine) NewSecureClient(mux int) *Client {
	return e.newClient(mux, true)
}

func (e *Engine) newClient(mux int, tls bool) *Client {
	s := newSocket(mux, e.prof.BufferSize, e.prof.SocketTimeout, tls)
	s.notify = e.onTransition
	return &Client{e: e, s: s, want: mux}
}

// Connect opens a connection to host:port. A connected client is closed
// first.
func (c *Client) Connect(host string, port int, timeout time.Duration) error {
	e := c.e
	e.Lock()
	defer e.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if c.s.live() {
		c.close()
	}
	c.s.reset()

	mux := c.want
	if mux == AnyMux {
		if mux = e.sockets.freeSlot(); mux < 0 {
			return ErrNoFreeSlot
		}
	}
	if err := e.sockets.attach(c.s, mux); err != nil {
		return err
	}
	c.s.setState(SocketConnecting)

	var assigned int
	var ok bool
	e.exchange(func() {
		assigned, ok = e.d.Connect(e, host, port, mux, c.s.tls, timeout)
	})
	if !ok {
		e.sockets.detach(c.s)
		c.s.setState(SocketClosed)
		return fmt.Errorf("%w: %s:%d", ErrConnectFailed, host, port)
	}
	if assigned != c.s.mux {
		if err := e.sockets.move(c.s, assigned); err != nil {
			e.sockets.detach(c.s)
			c.s.setState(SocketClosed)
			return fmt.Errorf("%w: modem assigned %w", ErrConnectFailed, err)
		}
		e.logger.Debug("modem assigned mux", "requested", mux, "assigned", assigned)
	}
	c.s.lastPoll = time.Now()
	c.s.setState(SocketConnected)
	return nil
}

// Write sends p in chunks of at most the profile MaxChunk bytes.
func (c *Client) Write(p []byte) (int, error) {
	e := c.e
	e.Lock()
	defer e.Unlock()
	e.maintain()
	total := 0
	for len(p) > 0 {
		if c.s.state != SocketConnected || !e.sockets.attached(c.s) {
			return total, ErrNotConnected
		}
		chunk := min(len(p), e.prof.MaxChunk)
		var n int
		e.exchange(func() { n = e.d.Send(e, p[:chunk], c.s.mux) })
		total += n
		if n < chunk {
			return total, fmt.Errorf("%w: %d of %d bytes", ErrSendFailed, n, chunk)
		}
		p = p[chunk:]
	}
	return total, nil
}

// missedPoll flags a connected socket with nothing buffered once per poll
// interval, covering modems that skip some data notifications.
func (c *Client) missedPoll() {
	s := c.s
	if c.e.prof.NoModemBuffer || s.state != SocketConnected || !c.e.sockets.attached(s) {
		return
	}
	if time.Since(s.lastPoll) >= c.e.prof.PollInterval {
		s.gotData = true
		s.lastPoll = time.Now()
	}
}

func (c *Client) available() int {
	if c.s.rx.Size() == 0 {
		c.missedPoll()
		c.e.maintain()
	}
	return c.s.rx.Size() + c.s.available
}

// Available returns the bytes readable without waiting for the network:
// those buffered locally plus those the modem reported.
func (c *Client) Available() int {
	c.e.Lock()
	defer c.e.Unlock()
	return c.available()
}

// pull moves modem side bytes into the local buffer, capped by its free space.
func (c *Client) pull() int {
	e, s := c.e, c.s
	want := s.available
	if free := s.rx.Free(); want > free {
		e.metrics.Overflows++
		e.logger.Warn("modem holds more than the socket buffer", "mux", s.mux, "available", s.available, "free", free)
		want = free
	}
	if want == 0 {
		return 0
	}
	var got int
	e.exchange(func() { got = e.d.Read(e, want, s.mux) })
	if got == 0 {
		s.available = 0
	}
	if s.available == 0 {
		e.reconcile(s)
	}
	return got
}

// Read blocks until at least one byte is available, the socket timeout
// expires (ErrTimeout) or the peer closed with nothing left (io.EOF). Once
// a byte is read it keeps reading while more is immediately available.
func (c *Client) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	e, s := c.e, c.s
	e.Lock()
	defer e.Unlock()
	start := time.Now()
	n := 0
	for n < len(p) {
		n += s.rx.GetSlice(p[n:], false)
		if n == len(p) {
			break
		}
		if s.available == 0 {
			c.missedPoll()
			e.maintain()
		}
		if s.available > 0 && e.sockets.attached(s) {
			c.pull()
			continue
		}
		if s.rx.Size() > 0 {
			continue
		}
		if n > 0 {
			break
		}
		if s.state != SocketConnected {
			return 0, io.EOF
		}
		if time.Since(start) >= s.timeout {
			return 0, ErrTimeout
		}
		e.Unlock()
		e.yield()
		e.Lock()
	}
	return n, nil
}

// Close drains modem side data when the dialect requires it, closes the
// connection and frees the slot. Closing a closed client does nothing.
func (c *Client) Close() error {
	c.e.Lock()
	defer c.e.Unlock()
	return c.close()
}

func (c *Client) close() error {
	e, s := c.e, c.s
	if !e.sockets.attached(s) {
		s.reset()
		if s.state != SocketIdle {
			s.setState(SocketClosed)
		}
		return nil
	}
	var err error
	if s.state == SocketConnected || s.state == SocketConnecting {
		s.setState(SocketClosing)
		if e.prof.DrainBeforeClose {
			c.dump(e.prof.CloseTimeout)
		}
		if cl, ok := e.d.(Closer); ok {
			var done bool
			e.exchange(func() { done = cl.Close(e, s.mux, e.prof.CloseTimeout) })
			if !done {
				err = fmt.Errorf("%w: mux %d", ErrCloseFailed, s.mux)
			}
		}
	}
	s.reset()
	e.sockets.detach(s)
	s.setState(SocketClosed)
	return err
}

// dump discards modem side data until none is left or timeout expires.
func (c *Client) dump(timeout time.Duration) {
	e, s := c.e, c.s
	start := time.Now()
	for s.available > 0 && time.Since(start) < timeout {
		s.rx.Clear()
		want := min(s.available, s.rx.Free())
		var got int
		e.exchange(func() { got = e.d.Read(e, want, s.mux) })
		if got == 0 {
			break
		}
	}
	s.rx.Clear()
	e.maintain()
}

// Connected reports whether data is left to read or the connection is open.
func (c *Client) Connected() bool {
	c.e.Lock()
	defer c.e.Unlock()
	if c.available() > 0 {
		return true
	}
	return c.s.state == SocketConnected
}

// State returns the socket state.
func (c *Client) State() SocketState {
	c.e.Lock()
	defer c.e.Unlock()
	return c.s.state
}

// Mux returns the slot the client is bound to, AnyMux before the first
// connect of an AnyMux client.
func (c *Client) Mux() int {
	c.e.Lock()
	defer c.e.Unlock()
	return c.s.mux
}

// SetTimeout changes the read timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.e.Lock()
	defer c.e.Unlock()
	c.s.timeout = d
}
