// Package gsmnet turns the AT command channel of a cellular modem into
// multiplexed stream sockets.
//
// One Engine owns the serial channel. It writes command lines, matches
// replies while dispatching unsolicited result codes (URCs) that arrive
// interleaved with them, and keeps a table of sockets, each with its own
// receive buffer and an estimate of the bytes still held by the modem. The
// vendor specific command grammar lives behind the Dialect interface; the
// dialect subpackages provide SIM800, BG96 and ESP8266 implementations.
//
// Example usage:
//
//	port, err := gsmnet.SerialDialer{PortName: "/dev/ttyUSB0"}.Dial(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	e, err := gsmnet.New(&gsmnet.Config{Transport: port, Dialect: sim800.New()})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer e.Close()
//	c := e.NewClient(gsmnet.AnyMux)
//	if err := c.Connect("example.com", 80, 75*time.Second); err != nil {
//		log.Fatal(err)
//	}
package gsmnet

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrConfigRequired is returned when a required configuration parameter is missing
	ErrConfigRequired = errors.New("config required")
	// ErrInvalidProfile is returned when a dialect profile has out of range values
	ErrInvalidProfile = errors.New("invalid profile")
	// ErrMuxRange is returned when a mux number is outside the dialect slots
	ErrMuxRange = errors.New("mux out of range")
	// ErrMuxInUse is returned when a live socket already holds the mux
	ErrMuxInUse = errors.New("mux in use")
	// ErrNoFreeSlot is returned when every slot holds a live socket
	ErrNoFreeSlot = errors.New("no free socket slot")
	// ErrTimeout is returned when a read gets no data within the socket timeout
	ErrTimeout = errors.New("timeout")
	// ErrConnectFailed is returned when the modem refuses or fails to open a connection
	ErrConnectFailed = errors.New("connect failed")
	// ErrNotConnected is returned when writing to a socket that is not connected
	ErrNotConnected = errors.New("not connected")
	// ErrSendFailed is returned when the modem accepts fewer bytes than sent
	ErrSendFailed = errors.New("send failed")
	// ErrCloseFailed is returned when the modem does not confirm a close
	ErrCloseFailed = errors.New("close failed")
	// ErrCommandFailed is returned when a command is not answered with OK
	ErrCommandFailed = errors.New("command failed")
	// ErrArgType is returned when a command argument has no printable form
	ErrArgType = errors.New("unsupported command argument")
	// ErrTooManyPatterns is the panic value of a wait given more than MaxPatterns patterns
	ErrTooManyPatterns = errors.New("too many terminal patterns")
	// ErrEngineClosed is returned by operations on a closed engine
	ErrEngineClosed = errors.New("engine closed")
)

// StateTransitionType defines a callback function that is called whenever a
// socket changes state. It runs with the engine lock held.
type StateTransitionType func(e *Engine, s *Socket, prev SocketState, next SocketState)

// Config contains the parameters for creating an engine. Transport and
// Dialect are required, other fields have reasonable defaults.
type Config struct {
	// Transport is the byte channel to the modem (required)
	Transport Transport
	// Dialect is the modem command grammar (required)
	Dialect Dialect
	// Profile replaces the dialect built-in profile when set
	Profile *Profile
	// Yield is called on every wait loop iteration (default: sleep 1ms)
	Yield func()
	// Logger receives protocol diagnostics (default: discarded)
	Logger *slog.Logger
	// StateTransition is an optional callback for socket state changes
	StateTransition StateTransitionType
}

// Metrics contains runtime statistics of an engine. Counters are cumulative
// since the engine was created.
type Metrics struct {
	// TxBytes is the total number of bytes written to the transport
	TxBytes int
	// RxBytes is the total number of bytes read from the transport
	RxBytes int
	// Commands is the number of command lines sent
	Commands int
	// URCs is the number of notifications dispatched
	URCs int
	// Timeouts is the number of waits that ended without a match
	Timeouts int
	// Desyncs is the number of connections found closed by a status query
	Desyncs int
	// Overflows is the number of times modem data exceeded a socket buffer
	Overflows int
	// MalformedURCs is the number of notifications with unparsable fields
	MalformedURCs int
	// Unhandled is the number of waits left with unrecognized output
	Unhandled int
	// OpenSockets is the number of sockets not yet closed
	OpenSockets int
	// LastCommandTime is the timestamp of the last command line
	LastCommandTime time.Time
	// LastRxTime is the timestamp of the last byte read
	LastRxTime time.Time
}

// Engine drives one modem. It embeds a mutex: the primitives meant for
// dialects require the lock to be held and panic otherwise, the Sync
// variants and the Client methods take it themselves.
type Engine struct {
	sync.Mutex
	t               Transport
	d               Dialect
	prof            Profile
	yield           func()
	logger          *slog.Logger
	stateTransition StateTransitionType
	sockets         *SocketTable
	metrics         *Metrics
	depth           int
	polling         bool
	closed          bool
}

func defaultYield() {
	time.Sleep(time.Millisecond)
}

// New creates an engine with the specified configuration.
//
// Returns ErrConfigRequired if config is nil or required fields are missing
// and ErrInvalidProfile if the resulting profile does not validate.
func New(config *Config) (*Engine, error) {
	if config == nil || config.Transport == nil || config.Dialect == nil {
		return nil, ErrConfigRequired
	}
	prof := config.Dialect.Profile()
	if config.Profile != nil {
		prof = *config.Profile
	}
	if err := prof.Normalize(); err != nil {
		return nil, err
	}
	e := &Engine{
		t:               config.Transport,
		d:               config.Dialect,
		prof:            prof,
		yield:           config.Yield,
		logger:          config.Logger,
		stateTransition: config.StateTransition,
		sockets:         newSocketTable(prof.MuxCount),
		metrics:         &Metrics{},
	}
	if e.yield == nil {
		e.yield = defaultYield
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if prof.Name != "" {
		e.logger = e.logger.With("dialect", prof.Name)
	}
	return e, nil
}

func (e *Engine) checkLock() {
	if e.TryLock() {
		panic("Engine lock not held")
	}
}

func (e *Engine) onTransition(s *Socket, prev, next SocketState) {
	e.logger.Debug("socket state", "mux", s.mux, "from", prev.String(), "to", next.String())
	if e.stateTransition != nil {
		e.stateTransition(e, s, prev, next)
	}
}

// Init runs the dialect setup sequence, if the dialect has one.
func (e *Engine) Init() error {
	e.Lock()
	defer e.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	in, ok := e.d.(Initializer)
	if !ok {
		return nil
	}
	var err error
	e.exchange(func() { err = in.Init(e) })
	if err != nil {
		return fmt.Errorf("init %s: %w", e.prof.Name, err)
	}
	return nil
}

// TestAT sends bare "AT" probes until the modem answers OK or timeout expires.
func (e *Engine) TestAT(timeout time.Duration) bool {
	e.Lock()
	defer e.Unlock()
	start := time.Now()
	for time.Since(start) < timeout {
		if err := e.sendAT(); err != nil {
			return false
		}
		if e.scan(200*time.Millisecond, e.prof.Terminals).Index == 1 {
			return true
		}
		e.Unlock()
		time.Sleep(100 * time.Millisecond)
		e.Lock()
	}
	return false
}

// Socket returns the socket attached to mux, nil if the slot is empty.
// The engine lock must be held before calling this method.
func (e *Engine) Socket(mux int) *Socket {
	e.checkLock()
	return e.sockets.Get(mux)
}

// Profile returns the effective profile.
func (e *Engine) Profile() Profile {
	return e.prof
}

// Logger returns the engine logger, tagged with the dialect name.
func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

// Metrics returns a copy of the current engine metrics.
// The engine lock must be held before calling this method.
// Use MetricsSync for automatic lock management.
func (e *Engine) Metrics() *Metrics {
	e.checkLock()
	copy := *e.metrics
	copy.OpenSockets = e.sockets.open()
	return &copy
}

// MetricsSync returns a copy of the current engine metrics with automatic lock management.
func (e *Engine) MetricsSync() *Metrics {
	e.Lock()
	defer e.Unlock()
	return e.Metrics()
}

// Close marks every socket closed and closes the transport when it is an
// io.Closer. No close commands are sent to the modem.
func (e *Engine) Close() error {
	e.Lock()
	defer e.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.sockets.each(func(s *Socket) {
		s.setState(SocketClosed)
		e.sockets.detach(s)
	})
	if c, ok := e.t.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
