//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package main

import (
	"context"

	"github.com/aymanbagabas/go-pty"
)

// conPty has no way to tell when the other side opens or closes it, the
// bridge runs until the connection ends.
type conPty struct {
	pty.Pty
}

func (conPty) Attached(ctx context.Context) error {
	return ctx.Err()
}

func (conPty) HungUp(ctx context.Context) <-chan struct{} {
	return nil
}

func openTerminal() (terminal, error) {
	p, err := pty.New()
	if err != nil {
		return nil, err
	}
	return conPty{p}, nil
}
