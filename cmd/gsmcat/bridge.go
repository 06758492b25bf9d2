package main

import (
	"context"
	"errors"
	"io"
	"os"
	"sync/atomic"

	"github.com/jaracil/gsmnet"
)

// terminal is a pseudo terminal other programs open by name.
type terminal interface {
	io.ReadWriteCloser
	Name() string
	// Attached blocks until a program opens the terminal.
	Attached(ctx context.Context) error
	// HungUp returns a channel closed once that program closes it again.
	HungUp(ctx context.Context) <-chan struct{}
}

type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

type stats struct {
	sent, received atomic.Int64
}

func (s *stats) Sent() int64     { return s.sent.Load() }
func (s *stats) Received() int64 { return s.received.Load() }

type countingWriter struct {
	w io.Writer
	n *atomic.Int64
}

func (c countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n.Add(int64(n))
	return n, err
}

// bridge copies between the client and local until the connection ends, a
// copy fails or ctx is done. The end of local input does not stop the
// bridge, data from the network keeps flowing until the remote closes.
func bridge(ctx context.Context, c *gsmnet.Client, local io.ReadWriter, st *stats) error {
	errc := make(chan error, 2)

	go func() {
		if _, err := io.Copy(countingWriter{c, &st.sent}, local); err != nil {
			errc <- err
		}
	}()

	go func() {
		buf := make([]byte, 512)
		for ctx.Err() == nil {
			n, err := c.Read(buf)
			if n > 0 {
				if _, werr := (countingWriter{local, &st.received}).Write(buf[:n]); werr != nil {
					errc <- werr
					return
				}
			}
			switch {
			case errors.Is(err, gsmnet.ErrTimeout):
			case errors.Is(err, io.EOF):
				errc <- nil
				return
			case err != nil:
				errc <- err
				return
			}
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return nil
	}
}
