//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

const hangupPoll = 200 * time.Millisecond

// UnixPty is a POSIX compliant Unix pseudo-terminal.
type UnixPty struct {
	master, slave *os.File
	name          string
	closed        bool
}

// Close releases both ends.
func (p *UnixPty) Close() error {
	if p.closed {
		return nil
	}
	defer func() {
		p.closed = true
	}()
	return errors.Join(p.master.Close(), p.Detach())
}

// Name returns the device path programs open.
func (p *UnixPty) Name() string {
	return p.name
}

func (p *UnixPty) Read(b []byte) (n int, err error) {
	return p.master.Read(b)
}

func (p *UnixPty) Write(b []byte) (n int, err error) {
	return p.master.Write(b)
}

// Master returns the controlling end.
func (p *UnixPty) Master() *os.File {
	return p.master
}

// Fd returns the master file descriptor.
func (p *UnixPty) Fd() uintptr {
	return p.master.Fd()
}

// Detach closes our own handle on the slave end, so the master reports a
// hangup whenever no other program has the device open.
func (p *UnixPty) Detach() error {
	if p.slave == nil {
		return nil
	}
	err := p.slave.Close()
	p.slave = nil
	return err
}

// IsSlaveClosed checks if the slave end has no readers/writers.
func (p *UnixPty) IsSlaveClosed() (bool, error) {
	fds := []unix.PollFd{{
		Fd:     int32(p.master.Fd()),
		Events: unix.POLLOUT,
	}}

	_, err := unix.Poll(fds, 0) // No wait
	if err != nil {
		return false, err
	}

	// POLLHUP indicates that the slave has no processes with it open
	return (fds[0].Revents & unix.POLLHUP) != 0, nil
}

// Attached detaches the slave and polls until a program opens it.
func (p *UnixPty) Attached(ctx context.Context) error {
	if err := p.Detach(); err != nil {
		return err
	}
	return p.pollUntil(ctx, false)
}

// HungUp closes the returned channel once the slave end has no users.
func (p *UnixPty) HungUp(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		if p.pollUntil(ctx, true) == nil {
			close(ch)
		}
	}()
	return ch
}

func (p *UnixPty) pollUntil(ctx context.Context, closed bool) error {
	ticker := time.NewTicker(hangupPoll)
	defer ticker.Stop()
	for {
		c, err := p.IsSlaveClosed()
		if err != nil {
			return err
		}
		if c == closed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// NewPty creates a new UnixPty.
func NewPty() (*UnixPty, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, err
	}

	return &UnixPty{
		master: master,
		slave:  slave,
		name:   slave.Name(),
	}, nil
}

func openTerminal() (terminal, error) {
	p, err := NewPty()
	if err != nil {
		return nil, err
	}
	return p, nil
}
