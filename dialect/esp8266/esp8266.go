// Package esp8266 implements the gsmnet dialect of Espressif ESP8266 and
// ESP32 modules running the AT firmware.
//
// The firmware keeps no receive buffer: payloads arrive unsolicited in
// "+IPD,<mux>,<len>:" notifications and go straight into the socket buffer.
package esp8266

import (
	"bytes"
	"strconv"
	"time"

	"github.com/jaracil/gsmnet"
)

// MuxCount is the number of links of the AT firmware.
const MuxCount = 5

// KeepAlive is the TCP keep alive, in seconds, passed to AT+CIPSTART.
const KeepAlive = 120

// Dialect speaks the Espressif AT command set.
type Dialect struct{}

// New returns an ESP8266 dialect.
func New() *Dialect {
	return &Dialect{}
}

// Profile returns the ESP8266 defaults. The socket buffer is large enough
// for one full notification.
func (d *Dialect) Profile() gsmnet.Profile {
	return gsmnet.Profile{
		Name:          "esp8266",
		MuxCount:      MuxCount,
		BufferSize:    2048,
		CloseTimeout:  5 * time.Second,
		NoModemBuffer: true,
	}
}

// Init enables station mode and multiple connections.
func (d *Dialect) Init(e *gsmnet.Engine) error {
	for _, cmd := range [][]any{{"E0"}, {"+CWMODE=", 1}, {"+CIPMUX=", 1}} {
		if err := e.Command(cmd...); err != nil {
			return err
		}
	}
	return nil
}

// Connect opens a TCP or SSL link.
func (d *Dialect) Connect(e *gsmnet.Engine, host string, port, mux int, tls bool, timeout time.Duration) (int, bool) {
	kind := "TCP"
	if tls {
		kind = "SSL"
		if err := e.Command("+CIPSSLSIZE=", 4096); err != nil {
			e.Logger().Debug("ssl buffer size not set", "err", err)
		}
	}
	if err := e.SendAT("+CIPSTART=", mux, ",\"", kind, "\",\"", host, "\",", port, ",", KeepAlive); err != nil {
		return mux, false
	}
	r := e.WaitResponse(timeout, gsmnet.ReplyOK, gsmnet.ReplyError, "ALREADY CONNECT")
	if r.Index == 3 {
		e.WaitResponse(timeout)
	}
	return mux, r.Index == 1
}

// Send writes p after the prompt and waits for SEND OK.
func (d *Dialect) Send(e *gsmnet.Engine, p []byte, mux int) int {
	if err := e.SendAT("+CIPSEND=", mux, ",", len(p)); err != nil {
		return 0
	}
	if e.WaitResponse(e.Profile().CommandTimeout, ">").Index != 1 {
		return 0
	}
	if _, err := e.WriteRaw(p); err != nil {
		return 0
	}
	if e.WaitResponse(10*time.Second, "\r\nSEND OK\r\n", "\r\nSEND FAIL\r\n").Index != 1 {
		return 0
	}
	return len(p)
}

// Read does nothing, data is pushed by the modem.
func (d *Dialect) Read(e *gsmnet.Engine, max, mux int) int {
	return 0
}

// Available always reports 0, the modem holds no data.
func (d *Dialect) Available(e *gsmnet.Engine, mux int) int {
	return 0
}

const statusConnected = 3

// Connected lists every link with AT+CIPSTATUS. Links missing from the
// listing are marked closed as well, not only mux.
func (d *Dialect) Connected(e *gsmnet.Engine, mux int) bool {
	timeout := e.Profile().CommandTimeout
	if err := e.SendAT("+CIPSTATUS"); err != nil {
		return false
	}
	if e.WaitResponse(3*time.Second, "STATUS:").Index != 1 {
		return false
	}
	status, ok := e.ReadIntBefore('\n')
	if !ok {
		e.ReportMalformed("STATUS")
		return false
	}
	verified := make([]bool, MuxCount)
	if status == statusConnected {
		for e.WaitResponse(timeout, "+CIPSTATUS:", gsmnet.ReplyOK, gsmnet.ReplyError).Index == 1 {
			n, ok := e.ReadIntBefore(',')
			e.SkipUntil('\n')
			if ok && n >= 0 && n < MuxCount {
				verified[n] = true
			}
		}
	} else {
		e.WaitOK(timeout)
	}
	for i := range MuxCount {
		if s := e.Socket(i); s != nil && !verified[i] && s.State() == gsmnet.SocketConnected && i != mux {
			s.Disconnected()
		}
	}
	return mux >= 0 && mux < MuxCount && verified[mux]
}

// Close issues AT+CIPCLOSE.
func (d *Dialect) Close(e *gsmnet.Engine, mux int, timeout time.Duration) bool {
	if err := e.SendAT("+CIPCLOSE=", mux); err != nil {
		return false
	}
	return e.WaitResponse(timeout).Index == 1
}

var (
	urcData       = []byte("+IPD,")
	urcClosed     = []byte(",CLOSED\r\n")
	urcWifiLost   = []byte("WIFI DISCONNECT\r\n")
	urcWifiStatus = [][]byte{[]byte("WIFI CONNECTED\r\n"), []byte("WIFI GOT IP\r\n")}
)

// HandleURC moves pushed payloads into the socket buffers and serves link
// and Wi-Fi state notifications.
func (d *Dialect) HandleURC(e *gsmnet.Engine, text []byte) bool {
	switch {
	case bytes.HasSuffix(text, urcData):
		mux, ok1 := e.ReadIntBefore(',')
		n, ok2 := e.ReadIntBefore(':')
		if !ok1 || !ok2 {
			e.ReportMalformed("+IPD")
			return true
		}
		if s := e.Socket(mux); s != nil {
			e.MoveToBuffer(s, n)
			return true
		}
		e.Logger().Warn("payload for an unknown link", "mux", mux, "len", n)
		for range n {
			if _, ok := e.ReadByteTimeout(e.Profile().SocketTimeout); !ok {
				break
			}
		}
		return true
	case bytes.HasSuffix(text, urcClosed):
		line := text[:len(text)-len(urcClosed)]
		if nl := bytes.LastIndex(line, []byte("\r\n")); nl >= 0 {
			line = line[nl+2:]
		}
		mux, err := strconv.Atoi(string(bytes.TrimSpace(line)))
		if err != nil {
			e.ReportMalformed("CLOSED")
			return true
		}
		if s := e.Socket(mux); s != nil {
			s.Disconnected()
		}
		return true
	case bytes.HasSuffix(text, urcWifiLost):
		for i := range MuxCount {
			if s := e.Socket(i); s != nil && s.State() == gsmnet.SocketConnected {
				s.Disconnected()
			}
		}
		return true
	}
	for _, tag := range urcWifiStatus {
		if bytes.HasSuffix(text, tag) {
			return true
		}
	}
	return false
}
