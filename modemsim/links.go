package modemsim

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

const maxPayload = 1460

type link struct {
	status LinkStatus
	conn   io.ReadWriteCloser
	rx     []byte
	host   string
	port   string
	proto  string
	ctx    context.Context
	cancel context.CancelFunc
}

type pendingSend struct {
	mux int
	l   *link
	n   int
	buf []byte
}

func (m *Modem) setLinkStatus(mux int, status LinkStatus) {
	l := m.links[mux]
	prevStatus := l.status
	if prevStatus == status {
		return
	}
	l.status = status
	switch status {
	case LinkConnected:
		m.metrics.NumConns++
		m.metrics.LastConnTime = time.Now()
		go m.onlineTask(mux, l)
	case LinkClosed:
		l.cancel()
		if l.conn != nil {
			l.conn.Close()
		}
		if m.send != nil && m.send.l == l {
			m.send = nil
		}
	}
	if m.linkTransition != nil {
		m.linkTransition(m, mux, prevStatus, status)
	}
}

func parseMux(s string) (int, bool) {
	mux, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || mux < 0 || mux >= MuxCount {
		return 0, false
	}
	return mux, true
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), "\"")
}

func (m *Modem) cipStart(val string) RetCode {
	args := strings.Split(val, ",")
	if len(args) != 4 {
		return RetCodeError
	}
	mux, ok := parseMux(args[0])
	if !ok {
		return RetCodeError
	}
	proto := strings.ToUpper(unquote(args[1]))
	if proto != "TCP" && proto != "UDP" {
		return RetCodeError
	}
	if l := m.links[mux]; l != nil && (l.status == LinkConnected || l.status == LinkConnecting) {
		m.ttyWriteStr(fmt.Sprintf("\r\n%d, ALREADY CONNECT\r\n", mux))
		return RetCodeSilent
	}
	l := &link{
		status: LinkInitial,
		host:   unquote(args[2]),
		port:   unquote(args[3]),
		proto:  proto,
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	m.links[mux] = l
	m.setLinkStatus(mux, LinkConnecting)
	network := strings.ToLower(proto)
	if m.ssl {
		network = "tls"
	}
	go m.processDialing(mux, l, network, net.JoinHostPort(l.host, l.port))
	return RetCodeOk
}

func (m *Modem) processDialing(mux int, l *link, network, addr string) {
	var conn io.ReadWriteCloser
	err := errors.New("no dialer")
	if m.dial != nil {
		conn, err = m.dial(m, network, addr)
	}
	m.Lock()
	defer m.Unlock()
	if l.ctx.Err() != nil || m.closed {
		if err == nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		m.setLinkStatus(mux, LinkClosed)
		m.ttyWriteStr(fmt.Sprintf("\r\n%d, CONNECT FAIL\r\n", mux))
		return
	}
	l.conn = conn
	m.ttyWriteStr(fmt.Sprintf("\r\n%d, CONNECT OK\r\n", mux))
	m.setLinkStatus(mux, LinkConnected)
}

func (m *Modem) onlineTask(mux int, l *link) {
	buff := make([]byte, 256)
	m.Lock()
	for l.ctx.Err() == nil {
		m.Unlock()
		n, err := l.conn.Read(buff)
		m.Lock()
		if l.ctx.Err() != nil {
			break
		}
		if n > 0 {
			m.metrics.ConnRxBytes += n
			wasEmpty := len(l.rx) == 0
			l.rx = append(l.rx, buff[:n]...)
			if !m.muteData {
				if m.manualRx {
					if wasEmpty {
						m.ttyWriteStr(fmt.Sprintf("\r\n+CIPRXGET: 1,%d\r\n", mux))
					}
				} else {
					m.ttyWriteStr(fmt.Sprintf("\r\n+RECEIVE:%d,%d\r\n", mux, n))
				}
			}
		}
		if err != nil {
			m.setLinkStatus(mux, LinkClosed)
			m.ttyWriteStr(fmt.Sprintf("\r\n%d, CLOSED\r\n", mux))
			break
		}
	}
	m.Unlock()
}

func (m *Modem) cipSend(val string) RetCode {
	args := strings.Split(val, ",")
	if len(args) != 2 {
		return RetCodeError
	}
	mux, ok := parseMux(args[0])
	if !ok {
		return RetCodeError
	}
	n, err := strconv.Atoi(strings.TrimSpace(args[1]))
	if err != nil || n < 1 || n > maxPayload {
		return RetCodeError
	}
	l := m.links[mux]
	if l == nil || l.status != LinkConnected {
		return RetCodeError
	}
	m.send = &pendingSend{mux: mux, l: l, n: n}
	m.ttyWriteStr("\r\n> ")
	return RetCodeSilent
}

func (m *Modem) sendByte(b byte) {
	ps := m.send
	ps.buf = append(ps.buf, b)
	if len(ps.buf) < ps.n {
		return
	}
	m.send = nil
	if ps.l.status != LinkConnected {
		m.ttyWriteStr(fmt.Sprintf("\r\n%d, SEND FAIL\r\n", ps.mux))
		return
	}
	if _, err := ps.l.conn.Write(ps.buf); err != nil {
		m.ttyWriteStr(fmt.Sprintf("\r\n%d, SEND FAIL\r\n", ps.mux))
		m.setLinkStatus(ps.mux, LinkClosed)
		return
	}
	m.metrics.ConnTxBytes += ps.n
	if m.quickSend {
		m.ttyWriteStr(fmt.Sprintf("\r\nDATA ACCEPT:%d,%d\r\n", ps.mux, ps.n))
	} else {
		m.ttyWriteStr(fmt.Sprintf("\r\n%d, SEND OK\r\n", ps.mux))
	}
}

func (m *Modem) cipRxGet(query bool, val string) RetCode {
	if query {
		m.ttyWriteStr(fmt.Sprintf("\r\n+CIPRXGET: %d\r\n", btoi(m.manualRx)))
		return RetCodeOk
	}
	args := strings.Split(val, ",")
	mode, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil {
		return RetCodeError
	}
	switch mode {
	case 0, 1:
		if len(args) != 1 {
			return RetCodeError
		}
		m.manualRx = mode == 1
		return RetCodeOk
	case 2, 3, 4:
	default:
		return RetCodeError
	}
	if len(args) < 2 {
		return RetCodeError
	}
	mux, ok := parseMux(args[1])
	if !ok || m.links[mux] == nil {
		return RetCodeError
	}
	l := m.links[mux]
	if mode == 4 {
		m.ttyWriteStr(fmt.Sprintf("\r\n+CIPRXGET: 4,%d,%d\r\n", mux, len(l.rx)))
		return RetCodeOk
	}
	if len(args) != 3 {
		return RetCodeError
	}
	want, err := strconv.Atoi(strings.TrimSpace(args[2]))
	if err != nil || want < 1 {
		return RetCodeError
	}
	limit := maxPayload
	if mode == 3 {
		limit = maxPayload / 2
	}
	n := min(want, len(l.rx), limit)
	chunk := l.rx[:n]
	l.rx = l.rx[n:]
	m.ttyWriteStr(fmt.Sprintf("\r\n+CIPRXGET: %d,%d,%d,%d\r\n", mode, mux, n, len(l.rx)))
	if mode == 3 {
		m.ttyWriteStr(hex.EncodeToString(chunk))
	} else {
		m.ttyWrite(chunk)
	}
	return RetCodeOk
}

func (m *Modem) statusLine(mux int) string {
	l := m.links[mux]
	if l == nil {
		return fmt.Sprintf("%d,,\"\",\"\",\"\",\"INITIAL\"", mux)
	}
	return fmt.Sprintf("%d,0,\"%s\",\"%s\",\"%s\",\"%s\"", mux, l.proto, l.host, l.port, l.status)
}

func (m *Modem) cipStatus(assign bool, val string) RetCode {
	if assign {
		mux, ok := parseMux(val)
		if !ok {
			return RetCodeError
		}
		m.ttyWriteStr("\r\n+CIPSTATUS: " + m.statusLine(mux) + "\r\n")
		return RetCodeOk
	}
	m.ttyWriteStr("\r\nOK\r\n\r\nSTATE: IP PROCESSING\r\n")
	for mux := range m.links {
		m.ttyWriteStr("C: " + m.statusLine(mux) + "\r\n")
	}
	return RetCodeSilent
}

func (m *Modem) cipClose(val string) RetCode {
	args := strings.Split(val, ",")
	mux, ok := parseMux(args[0])
	if !ok {
		return RetCodeError
	}
	l := m.links[mux]
	if l == nil || (l.status != LinkConnected && l.status != LinkConnecting) {
		return RetCodeError
	}
	m.setLinkStatus(mux, LinkClosed)
	m.ttyWriteStr(fmt.Sprintf("\r\n%d, CLOSE OK\r\n", mux))
	return RetCodeSilent
}

func (m *Modem) shutAll() {
	for mux, l := range m.links {
		if l != nil && l.status != LinkClosed {
			m.setLinkStatus(mux, LinkClosed)
		}
	}
}

func (m *Modem) linkStatus(mux int) (LinkStatus, error) {
	if mux < 0 || mux >= MuxCount {
		return LinkInitial, ErrInvalidLink
	}
	if l := m.links[mux]; l != nil {
		return l.status, nil
	}
	return LinkInitial, nil
}

// LinkStatus returns the state of a connection slot.
// The modem lock must be held before calling this method.
// Use LinkStatusSync for automatic lock management.
func (m *Modem) LinkStatus(mux int) (LinkStatus, error) {
	m.checkLock()
	return m.linkStatus(mux)
}

// LinkStatusSync returns the state of a connection slot with automatic lock management.
// This is a convenience method that acquires and releases the modem lock.
func (m *Modem) LinkStatusSync(mux int) (LinkStatus, error) {
	m.Lock()
	defer m.Unlock()
	return m.linkStatus(mux)
}

func (m *Modem) drop(mux int) error {
	if mux < 0 || mux >= MuxCount {
		return ErrInvalidLink
	}
	l := m.links[mux]
	if l == nil || l.status == LinkClosed {
		return nil
	}
	m.setLinkStatus(mux, LinkClosed)
	return nil
}

// Drop closes a connection without telling the host, the way a modem that
// loses a notification does.
// The modem lock must be held before calling this method.
// Use DropSync for automatic lock management.
func (m *Modem) Drop(mux int) error {
	m.checkLock()
	return m.drop(mux)
}

// DropSync closes a connection silently with automatic lock management.
// This is a convenience method that acquires and releases the modem lock.
func (m *Modem) DropSync(mux int) error {
	m.Lock()
	defer m.Unlock()
	return m.drop(mux)
}
