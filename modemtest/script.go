// Package modemtest provides a scripted fake modem for tests of code that
// talks to a modem through a byte level transport.
package modemtest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

type step struct {
	want  string
	reply string
}

// Script is a fake modem transport. Each expectation pairs the exact bytes
// the host must write next with the reply the modem sends once it saw them.
// Bytes fed with Feed are delivered right away, as unsolicited output.
//
// Script implements Available, Next, Write and Flush, which is the shape
// of a gsmnet transport. It is safe for concurrent use.
type Script struct {
	mu      sync.Mutex
	steps   []step
	out     []byte
	pending []byte
	written strings.Builder
	errs    []error
}

// New returns an empty script.
func New() *Script {
	return &Script{}
}

// Expect appends an expectation and returns the script for chaining.
func (s *Script) Expect(write, reply string) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step{want: write, reply: reply})
	return s
}

// Feed queues modem output that does not answer any write.
func (s *Script) Feed(data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, data...)
}

// Available returns the bytes of modem output not yet read.
func (s *Script) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.out)
}

// Next returns the next byte of modem output.
func (s *Script) Next() (byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.out) == 0 {
		return 0, false
	}
	b := s.out[0]
	s.out = s.out[1:]
	return b, true
}

// Write matches p against the expectations. A mismatch is recorded and the
// offending bytes are dropped.
func (s *Script) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written.Write(p)
	s.pending = append(s.pending, p...)
	for len(s.pending) > 0 {
		if len(s.steps) == 0 {
			s.errs = append(s.errs, fmt.Errorf("unexpected write %q", s.pending))
			s.pending = nil
			break
		}
		want := s.steps[0].want
		if len(s.pending) < len(want) {
			if !strings.HasPrefix(want, string(s.pending)) {
				s.errs = append(s.errs, fmt.Errorf("write %q, want %q", s.pending, want))
				s.pending = nil
			}
			break
		}
		if string(s.pending[:len(want)]) != want {
			s.errs = append(s.errs, fmt.Errorf("write %q, want %q", s.pending, want))
			s.pending = nil
			break
		}
		s.pending = s.pending[len(want):]
		s.out = append(s.out, s.steps[0].reply...)
		s.steps = s.steps[1:]
	}
	return len(p), nil
}

// Flush does nothing.
func (s *Script) Flush() error {
	return nil
}

// Written returns everything the host wrote so far.
func (s *Script) Written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

// Remaining returns the number of expectations not yet met.
func (s *Script) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

// Err returns the recorded mismatches, nil if there were none.
func (s *Script) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.errs...)
}

// Verify fails t for every mismatch and every expectation left unmet.
func (s *Script) Verify(t testing.TB) {
	t.Helper()
	if err := s.Err(); err != nil {
		t.Errorf("script mismatch: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.steps {
		t.Errorf("expected write %q never happened", st.want)
	}
}
