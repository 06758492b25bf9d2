package main

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jaracil/gsmnet"
	"github.com/jaracil/gsmnet/modemsim"
)

const dialTimeout = 30 * time.Second

// netDial opens the simulator links as real network connections.
func netDial(m *modemsim.Modem, network, addr string) (io.ReadWriteCloser, error) {
	d := &net.Dialer{Timeout: dialTimeout}
	if network == "tls" {
		return tls.DialWithDialer(d, "tcp", addr, nil)
	}
	return d.Dial(network, addr)
}

// replyHook answers the commands in replies with a fixed result code,
// e.g. "+CSQ" -> "error". Other commands run normally.
func replyHook(replies map[string]string) (modemsim.CommandHookType, error) {
	if len(replies) == 0 {
		return nil, nil
	}
	codes := make(map[string]modemsim.RetCode, len(replies))
	for cmd, code := range replies {
		rc := modemsim.CmdReturnFromString(code)
		if rc == modemsim.RetCodeUnknown || rc == modemsim.RetCodeSkip {
			return nil, fmt.Errorf("unknown result code %q for %s", code, cmd)
		}
		codes[strings.ToUpper(cmd)] = rc
	}
	return func(_ *modemsim.Modem, cmd string, _, _ bool, _ string) modemsim.RetCode {
		if rc, ok := codes[cmd]; ok {
			return rc
		}
		return modemsim.RetCodeSkip
	}, nil
}

// simulate starts a simulated SIM800 and returns the host end of its serial
// line.
func simulate(logger *slog.Logger, replies map[string]string) (*gsmnet.StreamTransport, *modemsim.Modem, error) {
	hook, err := replyHook(replies)
	if err != nil {
		return nil, nil, err
	}
	host, tty := net.Pipe()
	m, err := modemsim.New(&modemsim.Config{
		Id:          "gsmcat",
		TTY:         tty,
		Dial:        netDial,
		CommandHook: hook,
		LinkTransition: func(m *modemsim.Modem, mux int, prev, next modemsim.LinkStatus) {
			logger.Debug("simulator link", "mux", mux, "from", prev, "to", next)
		},
	})
	if err != nil {
		host.Close()
		tty.Close()
		return nil, nil, err
	}
	return gsmnet.NewStreamTransport(host), m, nil
}
