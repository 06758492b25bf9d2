// Package sim800 implements the gsmnet dialect of SIMCom SIM800 and SIM900
// modules in multi-connection mode.
//
// Received data stays in the modem until it is fetched with AT+CIPRXGET,
// either raw or hex encoded when the profile sets HexData. Sends use quick
// send mode, so the modem confirms each payload with "DATA ACCEPT:".
package sim800

import (
	"bytes"
	"strconv"
	"time"

	"github.com/jaracil/gsmnet"
)

// MuxCount is the number of connections a SIM800 keeps open at once.
const MuxCount = 5

// Dialect speaks the SIM800 TCP/IP command set.
type Dialect struct{}

// New returns a SIM800 dialect.
func New() *Dialect {
	return &Dialect{}
}

// Profile returns the SIM800 defaults.
func (d *Dialect) Profile() gsmnet.Profile {
	return gsmnet.Profile{
		Name:             "sim800",
		MuxCount:         MuxCount,
		BufferSize:       64,
		CloseTimeout:     15 * time.Second,
		DrainBeforeClose: true,
	}
}

// Init enables multi-connection, quick send and manual receive modes.
func (d *Dialect) Init(e *gsmnet.Engine) error {
	cmds := [][]any{
		{"E0"},
		{"+CIPMUX=", 1},
		{"+CIPQSEND=", 1},
		{"+CIPRXGET=", 1},
	}
	for _, cmd := range cmds {
		if err := e.Command(cmd...); err != nil {
			return err
		}
	}
	return nil
}

// Connect opens a TCP connection, over SSL when tls is set.
func (d *Dialect) Connect(e *gsmnet.Engine, host string, port, mux int, tls bool, timeout time.Duration) (int, bool) {
	if err := e.Command("+CIPSSL=", tls); err != nil {
		return mux, false
	}
	if err := e.SendAT("+CIPSTART=", mux, ",\"TCP\",\"", host, "\",", port); err != nil {
		return mux, false
	}
	r := e.WaitResponse(timeout,
		"CONNECT OK\r\n",
		"CONNECT FAIL\r\n",
		"ALREADY CONNECT\r\n",
		"ERROR\r\n",
		"CLOSE OK\r\n")
	return mux, r.Index == 1
}

// Send writes p after the send prompt and returns the length the modem
// accepted.
func (d *Dialect) Send(e *gsmnet.Engine, p []byte, mux int) int {
	timeout := e.Profile().CommandTimeout
	if err := e.SendAT("+CIPSEND=", mux, ",", len(p)); err != nil {
		return 0
	}
	if e.WaitResponse(timeout, ">").Index != 1 {
		return 0
	}
	if _, err := e.WriteRaw(p); err != nil {
		return 0
	}
	if e.WaitResponse(timeout, "\r\nDATA ACCEPT:").Index != 1 {
		return 0
	}
	e.SkipUntil(',')
	n, ok := e.ReadIntBefore('\n')
	if !ok {
		e.ReportMalformed("DATA ACCEPT")
		return 0
	}
	return n
}

// Read fetches up to max bytes with AT+CIPRXGET=2, or mode 3 for hex data.
func (d *Dialect) Read(e *gsmnet.Engine, max, mux int) int {
	prof := e.Profile()
	mode := 2
	if prof.HexData {
		mode = 3
	}
	if err := e.SendAT("+CIPRXGET=", mode, ",", mux, ",", max); err != nil {
		return 0
	}
	if e.WaitResponse(prof.CommandTimeout, "+CIPRXGET:").Index != 1 {
		return 0
	}
	e.SkipUntil(',') // mode
	e.SkipUntil(',') // mux
	n, ok1 := e.ReadIntBefore(',')
	rest, ok2 := e.ReadIntBefore('\n')
	if !ok1 || !ok2 {
		e.ReportMalformed("+CIPRXGET")
		e.WaitOK(prof.CommandTimeout)
		return 0
	}
	s := e.Socket(mux)
	moved := 0
	if s != nil {
		moved = e.MoveToBuffer(s, n)
	}
	e.WaitOK(prof.CommandTimeout)
	if s != nil {
		s.SetEstimate(rest)
	}
	return moved
}

// Available asks how many bytes the modem holds for mux.
func (d *Dialect) Available(e *gsmnet.Engine, mux int) int {
	timeout := e.Profile().CommandTimeout
	if err := e.SendAT("+CIPRXGET=", 4, ",", mux); err != nil {
		return 0
	}
	// A mode 1 line here is a data notification that raced the reply.
	for range 3 {
		if e.WaitResponse(timeout, "+CIPRXGET:").Index != 1 {
			return 0
		}
		mode, ok := e.ReadIntBefore(',')
		if !ok {
			e.ReportMalformed("+CIPRXGET")
			return 0
		}
		if mode == 1 {
			markData(e)
			continue
		}
		e.SkipUntil(',') // mux
		n, ok := e.ReadIntBefore('\n')
		if !ok {
			e.ReportMalformed("+CIPRXGET")
			n = 0
		}
		e.WaitOK(timeout)
		return n
	}
	return 0
}

// Connected asks AT+CIPSTATUS for the state of mux.
func (d *Dialect) Connected(e *gsmnet.Engine, mux int) bool {
	timeout := e.Profile().CommandTimeout
	if err := e.SendAT("+CIPSTATUS=", mux); err != nil {
		return false
	}
	r := e.WaitResponse(timeout,
		",\"CONNECTED\"",
		",\"CLOSED\"",
		",\"CLOSING\"",
		",\"REMOTE CLOSING\"",
		",\"INITIAL\"")
	e.WaitOK(timeout)
	return r.Index == 1
}

// Close issues a quick close.
func (d *Dialect) Close(e *gsmnet.Engine, mux int, timeout time.Duration) bool {
	if err := e.SendAT("+CIPCLOSE=", mux, ",", 1); err != nil {
		return false
	}
	return e.WaitResponse(timeout, "CLOSE OK\r\n", "ERROR\r\n").Index == 1
}

var (
	urcRxGet   = []byte("\r\n+CIPRXGET:")
	urcReceive = []byte("\r\n+RECEIVE:")
	urcClosed  = []byte("CLOSED\r\n")
	urcNetwork = [][]byte{[]byte("*PSNWID:"), []byte("*PSUTTZ:"), []byte("DST:")}
)

func markData(e *gsmnet.Engine) {
	mux, ok := e.ReadIntBefore('\n')
	if !ok {
		e.ReportMalformed("+CIPRXGET")
		return
	}
	if s := e.Socket(mux); s != nil {
		s.MarkData()
	}
}

// HandleURC serves data, close and network time notifications.
func (d *Dialect) HandleURC(e *gsmnet.Engine, text []byte) bool {
	switch {
	case bytes.HasSuffix(text, urcRxGet):
		mode, ok := e.ReadIntBefore(',')
		switch {
		case !ok:
			e.ReportMalformed("+CIPRXGET")
		case mode == 1:
			markData(e)
		default:
			e.SkipUntil('\n')
		}
		return true
	case bytes.HasSuffix(text, urcReceive):
		mux, ok1 := e.ReadIntBefore(',')
		n, ok2 := e.ReadIntBefore('\n')
		if !ok1 || !ok2 {
			e.ReportMalformed("+RECEIVE")
			return true
		}
		if s := e.Socket(mux); s != nil {
			s.SetEstimate(n)
			s.MarkData()
		}
		return true
	case bytes.HasSuffix(text, urcClosed):
		line := text[:len(text)-len(urcClosed)]
		if nl := bytes.LastIndex(line, []byte("\r\n")); nl >= 0 {
			line = line[nl+2:]
		}
		comma := bytes.IndexByte(line, ',')
		if comma < 0 {
			e.ReportMalformed("CLOSED")
			return true
		}
		mux, err := strconv.Atoi(string(bytes.TrimSpace(line[:comma])))
		if err != nil {
			e.ReportMalformed("CLOSED")
			return true
		}
		if s := e.Socket(mux); s != nil {
			s.Disconnected()
		}
		return true
	}
	for _, tag := range urcNetwork {
		if bytes.HasSuffix(text, tag) {
			e.SkipUntil('\n')
			return true
		}
	}
	return false
}
