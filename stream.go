package gsmnet

import (
	"bytes"
	"strconv"
	"time"
)

// Field readers used by dialects to parse reply and notification fields
// byte by byte. They all require the engine lock.

func (e *Engine) readByte(timeout time.Duration) (byte, bool) {
	start := time.Now()
	for {
		if e.t.Available() > 0 {
			if b, ok := e.t.Next(); ok {
				e.metrics.RxBytes++
				e.metrics.LastRxTime = time.Now()
				return b, true
			}
		}
		if time.Since(start) >= timeout {
			return 0, false
		}
		e.yield()
	}
}

// ReadByteTimeout returns the next transport byte, waiting up to timeout.
func (e *Engine) ReadByteTimeout(timeout time.Duration) (byte, bool) {
	e.checkLock()
	return e.readByte(timeout)
}

func (e *Engine) readUntil(c byte, timeout time.Duration) ([]byte, bool) {
	var out []byte
	deadline := time.Now().Add(timeout)
	for {
		b, ok := e.readByte(time.Until(deadline))
		if !ok {
			return out, false
		}
		if b == c {
			return out, true
		}
		out = append(out, b)
	}
}

// SkipUntil discards bytes up to and including c. It reports false when c
// did not arrive within the stream timeout.
func (e *Engine) SkipUntil(c byte) bool {
	e.checkLock()
	_, ok := e.readUntil(c, e.prof.StreamTimeout)
	return ok
}

// ReadUntil returns the bytes before c and consumes c. ok is false when c
// did not arrive within the stream timeout; the partial text is returned.
func (e *Engine) ReadUntil(c byte) (string, bool) {
	e.checkLock()
	out, ok := e.readUntil(c, e.prof.StreamTimeout)
	return string(out), ok
}

// ReadIntBefore reads a decimal field terminated by c. ok is false when the
// terminator is missing or the field is not a number.
func (e *Engine) ReadIntBefore(c byte) (int, bool) {
	e.checkLock()
	out, ok := e.readUntil(c, e.prof.StreamTimeout)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(string(bytes.Trim(out, " \r\n\"")))
	if err != nil {
		return 0, false
	}
	return n, true
}

// ReportMalformed records a notification whose fields failed to parse.
func (e *Engine) ReportMalformed(tag string) {
	e.checkLock()
	e.metrics.MalformedURCs++
	e.logger.Warn("malformed notification", "tag", tag)
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// MoveToBuffer moves n payload bytes from the transport into the socket
// buffer, decoding hex pairs when the profile asks for it. Each byte waits
// at most the socket timeout. Bytes that do not fit are consumed, counted
// and logged. It returns the bytes stored.
func (e *Engine) MoveToBuffer(s *Socket, n int) int {
	e.checkLock()
	moved, dropped := 0, 0
	for i := 0; i < n; i++ {
		b, ok := e.readByte(s.timeout)
		if !ok {
			break
		}
		if e.prof.HexData {
			lo, ok := e.readByte(s.timeout)
			if !ok {
				break
			}
			hi, ok1 := unhex(b)
			low, ok2 := unhex(lo)
			if !ok1 || !ok2 {
				e.metrics.MalformedURCs++
				continue
			}
			b = hi<<4 | low
		}
		if !s.rx.Put(b) {
			dropped++
			continue
		}
		moved++
	}
	if dropped > 0 {
		e.metrics.Overflows++
		e.logger.Warn("socket buffer overflow", "mux", s.mux, "dropped", dropped)
	}
	if moved+dropped < n {
		e.logger.Warn("payload cut short", "mux", s.mux, "want", n, "got", moved+dropped)
	}
	return moved
}

// ClearInput discards everything currently buffered on the transport.
func (e *Engine) ClearInput() {
	e.checkLock()
	for e.t.Available() > 0 {
		if _, ok := e.t.Next(); !ok {
			return
		}
		e.metrics.RxBytes++
	}
}
