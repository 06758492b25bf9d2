package gsmnet

import (
	"bytes"
	"strings"
	"time"
)

// MaxPatterns is the largest number of terminal patterns one wait accepts.
const MaxPatterns = 5

// Response is the outcome of a wait. Index is the 1-based position of the
// pattern that matched, 0 on timeout. Text holds everything scanned except
// recognized notifications.
type Response struct {
	Index int
	Text  string
}

// Matched reports whether a pattern ended the wait.
func (r Response) Matched() bool {
	return r.Index > 0
}

func isFinal(pattern string) bool {
	return strings.HasSuffix(pattern, ReplyOK) || strings.HasSuffix(pattern, ReplyError)
}

// hasErrorCode reports whether pattern is an extended error prefix whose
// code follows on the same line.
func hasErrorCode(pattern string) bool {
	return strings.HasSuffix(pattern, ReplyCMEError) || strings.HasSuffix(pattern, ReplyCMSError)
}

// scan consumes transport bytes until the tail of the accumulated text
// equals one of patterns, checked in order, or until timeout. Tails that
// the dialect recognizes as notifications are dispatched and dropped.
func (e *Engine) scan(timeout time.Duration, patterns []string) Response {
	if len(patterns) > MaxPatterns {
		panic(ErrTooManyPatterns)
	}
	var buf []byte
	start := time.Now()
	for time.Since(start) < timeout {
		e.yield()
		for e.t.Available() > 0 {
			b, ok := e.t.Next()
			if !ok {
				break
			}
			e.metrics.RxBytes++
			e.metrics.LastRxTime = time.Now()
			if b == 0 {
				continue
			}
			buf = append(buf, b)
			for i, p := range patterns {
				if bytes.HasSuffix(buf, []byte(p)) {
					if hasErrorCode(p) {
						rest, ok := e.readUntil('\n', e.prof.StreamTimeout)
						buf = append(buf, rest...)
						if ok {
							buf = append(buf, '\n')
						}
					}
					if e.depth == 0 && isFinal(p) {
						e.pollFlagged()
					}
					return Response{Index: i + 1, Text: string(buf)}
				}
			}
			if e.d.HandleURC(e, buf) {
				e.metrics.URCs++
				e.logger.Debug("urc", "text", string(bytes.TrimSpace(buf)))
				buf = buf[:0]
			}
		}
	}
	if len(patterns) > 0 {
		e.metrics.Timeouts++
	}
	if rest := bytes.TrimSpace(buf); len(rest) > 0 {
		e.metrics.Unhandled++
		e.logger.Warn("unhandled modem output", "text", string(rest))
	}
	if e.depth == 0 {
		e.pollFlagged()
	}
	return Response{}
}

// WaitResponse reads modem output until one of patterns ends it or timeout
// expires. Without patterns the profile terminals are used. A timeout is
// reported as Index 0, never as an error.
// The engine lock must be held before calling this method.
// Use WaitResponseSync for automatic lock management.
func (e *Engine) WaitResponse(timeout time.Duration, patterns ...string) Response {
	e.checkLock()
	if len(patterns) == 0 {
		patterns = e.prof.Terminals
	}
	return e.scan(timeout, patterns)
}

// WaitResponseSync is WaitResponse with automatic lock management.
func (e *Engine) WaitResponseSync(timeout time.Duration, patterns ...string) Response {
	e.Lock()
	defer e.Unlock()
	if len(patterns) == 0 {
		patterns = e.prof.Terminals
	}
	return e.scan(timeout, patterns)
}

// WaitOK waits with the profile terminals and reports whether the first one
// (normally OK) matched.
// The engine lock must be held before calling this method.
func (e *Engine) WaitOK(timeout time.Duration) bool {
	e.checkLock()
	return e.scan(timeout, e.prof.Terminals).Index == 1
}

// pollFlagged queries the exact byte count of every socket a notification
// flagged. Dialect calls made here run nested so their own waits do not
// poll again.
func (e *Engine) pollFlagged() {
	if e.prof.NoModemBuffer || e.polling {
		return
	}
	e.polling = true
	defer func() { e.polling = false }()
	for {
		var s *Socket
		e.sockets.each(func(c *Socket) {
			if s == nil && c.gotData {
				s = c
			}
		})
		if s == nil {
			return
		}
		s.gotData = false
		e.poll(s)
	}
}

func (e *Engine) poll(s *Socket) {
	e.depth++
	n := e.d.Available(e, s.mux)
	e.depth--
	s.SetEstimate(n)
	s.lastPoll = time.Now()
	if s.available == 0 {
		e.reconcile(s)
	}
}

// reconcile asks the modem whether a socket believed connected still is.
func (e *Engine) reconcile(s *Socket) {
	if s.state != SocketConnected {
		return
	}
	e.depth++
	ok := e.d.Connected(e, s.mux)
	e.depth--
	if !ok && s.state == SocketConnected {
		e.metrics.Desyncs++
		e.logger.Warn("connection lost without notification", "mux", s.mux)
		s.setState(SocketClosed)
	}
}

// drain runs pending notifications through the matcher.
func (e *Engine) drain() {
	for e.t.Available() > 0 {
		e.scan(15*time.Millisecond, nil)
	}
}

func (e *Engine) maintain() {
	e.pollFlagged()
	e.drain()
}

// Maintain serves pending data notifications and flushes unsolicited
// output waiting on the transport.
// The engine lock must be held before calling this method.
// Use MaintainSync for automatic lock management.
func (e *Engine) Maintain() {
	e.checkLock()
	e.maintain()
}

// MaintainSync is Maintain with automatic lock management.
func (e *Engine) MaintainSync() {
	e.Lock()
	defer e.Unlock()
	e.maintain()
}

// exchange runs a dialect operation. Data notifications seen during it are
// served once the outermost exchange returns.
func (e *Engine) exchange(fn func()) {
	e.depth++
	fn()
	e.depth--
	if e.depth == 0 {
		e.pollFlagged()
	}
}
