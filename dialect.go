package gsmnet

import "time"

//go:generate go tool mockgen -source=dialect.go -destination=mock_dialect_test.go -package=gsmnet

// Dialect is the vendor specific half of the engine. Each operation runs
// with the engine lock held and talks to the modem through the engine
// primitives (SendAT, WaitResponse, WriteRaw and the stream readers).
type Dialect interface {
	// Profile returns the built-in configuration of the dialect.
	Profile() Profile
	// Connect opens a connection on mux. The modem may pick another slot,
	// reported through assigned.
	Connect(e *Engine, host string, port, mux int, tls bool, timeout time.Duration) (assigned int, ok bool)
	// Send writes p on mux and returns how many bytes the modem accepted.
	Send(e *Engine, p []byte, mux int) int
	// Read moves up to max bytes from the modem buffer into the socket
	// buffer, updates the socket estimate and returns the bytes moved.
	Read(e *Engine, max, mux int) int
	// Available asks the modem how many bytes wait on mux.
	Available(e *Engine, mux int) int
	// Connected asks the modem whether mux is still open.
	Connected(e *Engine, mux int) bool
	// HandleURC inspects the tail of the bytes scanned so far and reports
	// whether it recognized and consumed a notification.
	HandleURC(e *Engine, text []byte) bool
}

// Closer is implemented by dialects that need a command to close a socket.
type Closer interface {
	Close(e *Engine, mux int, timeout time.Duration) bool
}

// Initializer is implemented by dialects with a setup sequence.
type Initializer interface {
	Init(e *Engine) error
}
