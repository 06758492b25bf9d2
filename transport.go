package gsmnet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Transport is the byte level channel to the modem. Next never blocks: it
// returns false when no byte is buffered. Write and Flush may block.
type Transport interface {
	Available() int
	Next() (byte, bool)
	Write(p []byte) (int, error)
	Flush() error
}

// StreamTransport adapts a blocking byte stream (a serial port, a pipe, a
// TCP connection to a modem emulator) to the Transport interface. A
// goroutine pumps the stream into an internal buffer until the stream
// fails or the transport is closed.
type StreamTransport struct {
	rw  io.ReadWriter
	mu  sync.Mutex
	buf []byte
	err error
}

// NewStreamTransport starts pumping rw and returns the transport.
func NewStreamTransport(rw io.ReadWriter) *StreamTransport {
	t := &StreamTransport{rw: rw}
	go t.pump()
	return t
}

func (t *StreamTransport) pump() {
	chunk := make([]byte, 256)
	for {
		n, err := t.rw.Read(chunk)
		t.mu.Lock()
		if n > 0 {
			t.buf = append(t.buf, chunk[:n]...)
		}
		if err != nil {
			t.err = err
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
	}
}

// Available returns the number of received bytes not yet consumed.
func (t *StreamTransport) Available() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buf)
}

// Next consumes one received byte.
func (t *StreamTransport) Next() (byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.buf) == 0 {
		return 0, false
	}
	b := t.buf[0]
	t.buf = t.buf[1:]
	if len(t.buf) == 0 {
		t.buf = nil
	}
	return b, true
}

// Write sends p to the stream.
func (t *StreamTransport) Write(p []byte) (int, error) {
	return t.rw.Write(p)
}

// Flush waits until written bytes left the host when the stream supports
// it (serial ports do), otherwise it is a no-op.
func (t *StreamTransport) Flush() error {
	if d, ok := t.rw.(interface{ Drain() error }); ok {
		return d.Drain()
	}
	return nil
}

// Err returns the error that stopped the pump, nil while it is running.
func (t *StreamTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close closes the underlying stream when it is an io.Closer.
func (t *StreamTransport) Close() error {
	if c, ok := t.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// SerialDialer opens a modem attached to a serial port.
type SerialDialer struct {
	// PortName is the device path, e.g. /dev/ttyUSB0 or COM3 (required)
	PortName string
	// BaudRate is used when Mode is nil (default: 115200)
	BaudRate int
	// Mode overrides the whole line configuration
	Mode *serial.Mode
	// ReadTimeout is the port read timeout (default: 100ms)
	ReadTimeout time.Duration
}

// Dial opens the port and returns a transport pumping it.
func (d SerialDialer) Dial(ctx context.Context) (*StreamTransport, error) {
	if ctx == nil {
		return nil, errors.New("gsm: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("gsm: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud == 0 {
			baud = 115200
		}
		mode = &serial.Mode{
			BaudRate: baud,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		}
	}
	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("gsm: open serial port %q: %w", d.PortName, err)
	}
	timeout := d.ReadTimeout
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("gsm: set read timeout on %q: %w", d.PortName, err)
	}
	if err := ctx.Err(); err != nil {
		port.Close()
		return nil, err
	}
	return NewStreamTransport(port), nil
}
