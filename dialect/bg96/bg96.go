// Package bg96 implements the gsmnet dialect of Quectel BG96 LTE-M/NB-IoT
// modules, using the TCP/IP stack in buffer access mode.
package bg96

import (
	"bytes"
	"strconv"
	"time"

	"github.com/jaracil/gsmnet"
)

// MuxCount is the number of connect IDs of a BG96.
const MuxCount = 12

// Dialect speaks the BG96 AT+QI command set. Context is the PDP context the
// sockets use.
type Dialect struct {
	Context int
}

// New returns a BG96 dialect bound to PDP context 1.
func New() *Dialect {
	return &Dialect{Context: 1}
}

// Profile returns the BG96 defaults.
func (d *Dialect) Profile() gsmnet.Profile {
	return gsmnet.Profile{
		Name:             "bg96",
		MuxCount:         MuxCount,
		BufferSize:       64,
		CloseTimeout:     15 * time.Second,
		DrainBeforeClose: true,
	}
}

// Init turns echo off and enables verbose error codes.
func (d *Dialect) Init(e *gsmnet.Engine) error {
	if err := e.Command("E0"); err != nil {
		return err
	}
	return e.Command("+CMEE=", 2)
}

// Connect opens a TCP socket in buffer access mode. The stack has no TLS on
// this path, secure clients are refused.
func (d *Dialect) Connect(e *gsmnet.Engine, host string, port, mux int, tls bool, timeout time.Duration) (int, bool) {
	if tls {
		e.Logger().Warn("bg96 sockets do not support tls", "mux", mux)
		return mux, false
	}
	if err := e.SendAT("+QIOPEN=", d.Context, ",", mux, ",\"TCP\",\"", host, "\",", port, ",0,0"); err != nil {
		return mux, false
	}
	if !e.WaitOK(e.Profile().CommandTimeout) {
		return mux, false
	}
	if e.WaitResponse(timeout, "\r\n+QIOPEN:").Index != 1 {
		return mux, false
	}
	id, ok1 := e.ReadIntBefore(',')
	code, ok2 := e.ReadIntBefore('\n')
	if !ok1 || !ok2 {
		e.ReportMalformed("+QIOPEN")
		return mux, false
	}
	return mux, id == mux && code == 0
}

// Send writes p after the prompt and waits for SEND OK.
func (d *Dialect) Send(e *gsmnet.Engine, p []byte, mux int) int {
	timeout := e.Profile().CommandTimeout
	if err := e.SendAT("+QISEND=", mux, ",", len(p)); err != nil {
		return 0
	}
	if e.WaitResponse(timeout, ">").Index != 1 {
		return 0
	}
	if _, err := e.WriteRaw(p); err != nil {
		return 0
	}
	if e.WaitResponse(timeout, "\r\nSEND OK", "\r\nSEND FAIL", "\r\nERROR").Index != 1 {
		return 0
	}
	return len(p)
}

// Read fetches up to max bytes with AT+QIRD and refreshes the estimate.
func (d *Dialect) Read(e *gsmnet.Engine, max, mux int) int {
	timeout := e.Profile().CommandTimeout
	if err := e.SendAT("+QIRD=", mux, ",", max); err != nil {
		return 0
	}
	if e.WaitResponse(timeout, "+QIRD:").Index != 1 {
		return 0
	}
	n, ok := e.ReadIntBefore('\n')
	if !ok {
		e.ReportMalformed("+QIRD")
		e.WaitOK(timeout)
		return 0
	}
	s := e.Socket(mux)
	moved := 0
	if s != nil {
		moved = e.MoveToBuffer(s, n)
	}
	e.WaitOK(timeout)
	if s != nil {
		s.SetEstimate(d.Available(e, mux))
	}
	return moved
}

// Available reads the unread counter of AT+QIRD=<mux>,0.
func (d *Dialect) Available(e *gsmnet.Engine, mux int) int {
	timeout := e.Profile().CommandTimeout
	if err := e.SendAT("+QIRD=", mux, ",", 0); err != nil {
		return 0
	}
	if e.WaitResponse(timeout, "+QIRD:").Index != 1 {
		return 0
	}
	e.SkipUntil(',') // total received
	e.SkipUntil(',') // already read
	n, ok := e.ReadIntBefore('\n')
	if !ok {
		e.ReportMalformed("+QIRD")
		n = 0
	}
	e.WaitOK(timeout)
	return n
}

const stateConnected = 2

// Connected reads the socket state field of AT+QISTATE.
func (d *Dialect) Connected(e *gsmnet.Engine, mux int) bool {
	timeout := e.Profile().CommandTimeout
	if err := e.SendAT("+QISTATE=", 1, ",", mux); err != nil {
		return false
	}
	// +QISTATE: 0,"TCP","151.139.237.11",80,5087,4,1,0,0,"uart1"
	if e.WaitResponse(timeout, "+QISTATE:").Index != 1 {
		return false
	}
	for range 5 {
		e.SkipUntil(',')
	}
	st, ok := e.ReadIntBefore(',')
	e.WaitOK(timeout)
	return ok && st == stateConnected
}

// Close issues AT+QICLOSE.
func (d *Dialect) Close(e *gsmnet.Engine, mux int, timeout time.Duration) bool {
	if err := e.SendAT("+QICLOSE=", mux); err != nil {
		return false
	}
	return e.WaitResponse(timeout).Index == 1
}

var urcTag = []byte("\r\n+QIURC:")

// HandleURC serves +QIURC "recv" and "closed" notifications. Other kinds
// such as "pdpdeact" are consumed and ignored.
func (d *Dialect) HandleURC(e *gsmnet.Engine, text []byte) bool {
	if !bytes.HasSuffix(text, urcTag) {
		return false
	}
	e.SkipUntil('"')
	kind, ok1 := e.ReadUntil('"')
	rest, ok2 := e.ReadUntil('\n')
	if !ok1 || !ok2 {
		e.ReportMalformed("+QIURC")
		return true
	}
	if kind != "recv" && kind != "closed" {
		return true
	}
	mux, err := strconv.Atoi(string(bytes.Trim([]byte(rest), ", \r")))
	if err != nil {
		e.ReportMalformed("+QIURC")
		return true
	}
	s := e.Socket(mux)
	if s == nil {
		return true
	}
	if kind == "recv" {
		s.MarkData()
	} else {
		s.Disconnected()
	}
	return true
}
