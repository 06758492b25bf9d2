// Package modemsim provides a virtual SIMCom style cellular modem. It reads
// AT commands byte by byte from a TTY, answers them like a SIM800 in
// multi-connection mode and backs every connection slot with a real stream
// obtained from a dial hook.
//
// The simulator serves integration tests and the gsmcat --simulate mode.
//
// Example usage:
//
//	host, tty := net.Pipe()
//	m, err := modemsim.New(&modemsim.Config{
//		TTY:  tty,
//		Dial: func(m *modemsim.Modem, network, addr string) (io.ReadWriteCloser, error) {
//			return net.Dial(network, addr)
//		},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer m.CloseSync()
//	transport := gsmnet.NewStreamTransport(host)
package modemsim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// ErrConfigRequired is returned when a required configuration parameter is missing
	ErrConfigRequired = errors.New("config required")
	// ErrInvalidLink is returned when a link number is outside the modem slots
	ErrInvalidLink = errors.New("invalid link")
)

// MuxCount is the number of connection slots of the simulated modem.
const MuxCount = 5

// RetCode represents the final result of an AT command line.
type RetCode int

const (
	// RetCodeOk indicates successful command execution
	RetCodeOk RetCode = iota
	// RetCodeError indicates command execution failed
	RetCodeError
	// RetCodeSilent indicates the command already wrote its own reply
	RetCodeSilent
	// RetCodeSkip indicates the command should be processed by the default handler
	RetCodeSkip
	// RetCodeUnknown indicates an unrecognized return code
	RetCodeUnknown
)

// CmdReturnFromString converts a string representation of a modem response
// to its corresponding RetCode. It performs case-insensitive matching.
func CmdReturnFromString(s string) RetCode {
	switch strings.ToUpper(s) {
	case "OK":
		return RetCodeOk
	case "ERROR":
		return RetCodeError
	case "SILENT":
		return RetCodeSilent
	case "SKIP":
		return RetCodeSkip
	default:
		return RetCodeUnknown
	}
}

// LinkStatus is the state of one connection slot as the modem reports it.
type LinkStatus int

const (
	// LinkInitial is the state of a slot that never connected
	LinkInitial LinkStatus = iota
	// LinkConnecting is the state while the dial hook runs
	LinkConnecting
	// LinkConnected is the state of an open connection
	LinkConnected
	// LinkClosed is the state after a local or remote close
	LinkClosed
)

// String returns the status as printed by AT+CIPSTATUS.
func (ls LinkStatus) String() string {
	switch ls {
	case LinkInitial:
		return "INITIAL"
	case LinkConnecting:
		return "CONNECTING"
	case LinkConnected:
		return "CONNECTED"
	case LinkClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Modem is a virtual SIMCom modem bridging a TTY with dialed streams.
//
// The modem is thread-safe and uses a mutex to protect internal state.
// Most operations require the caller to hold the modem lock, with Sync variants
// available for convenience that acquire and release the lock automatically.
type Modem struct {
	sync.Mutex
	id             string
	tty            io.ReadWriteCloser
	closed         bool
	links          [MuxCount]*link
	dial           DialType
	commandHook    CommandHookType
	lineHook       LineHookType
	linkTransition LinkTransitionType
	echo           bool
	manualRx       bool
	quickSend      bool
	ssl            bool
	muteData       bool
	send           *pendingSend
	metrics        *Metrics
}

// DialType defines a callback function that opens the stream behind a
// connection slot. network is "tcp" or "tls".
type DialType func(m *Modem, network string, addr string) (io.ReadWriteCloser, error)

// CommandHookType defines a callback function for handling custom AT commands.
// It receives the modem instance, the command name (e.g. "+CSQ"), flags
// indicating if it's an assignment or query and the assigned value. It should
// return a RetCode indicating how the command should be processed.
type CommandHookType func(m *Modem, cmd string, cmdAssign bool, cmdQuery bool, cmdAssignVal string) RetCode

// LineHookType defines a callback function for handling complete command lines.
// It should return a RetCode indicating how the line should be processed.
type LineHookType func(m *Modem, line string) RetCode

// LinkTransitionType defines a callback function that is called whenever a
// connection slot changes state.
type LinkTransitionType func(m *Modem, mux int, prevStatus LinkStatus, newStatus LinkStatus)

// Config contains the configuration parameters for creating a new modem instance.
// The TTY field is required, while other fields have reasonable defaults.
type Config struct {
	// Id is a unique identifier for the modem instance
	Id string
	// TTY is the host facing serial line (required)
	TTY io.ReadWriteCloser
	// Dial opens connections; without it every AT+CIPSTART fails
	Dial DialType
	// CommandHook is an optional callback for handling custom AT commands
	CommandHook CommandHookType
	// LineHook is an optional callback for handling complete command lines
	LineHook LineHookType
	// LinkTransition is an optional callback for slot status changes
	LinkTransition LinkTransitionType
	// MuteDataNotify suppresses data arrival notifications, like firmware that loses them
	MuteDataNotify bool
}

// Metrics contains runtime statistics and performance information for a modem instance.
// All byte counters are cumulative totals since the modem was created.
type Metrics struct {
	// TtyTxBytes is the total number of bytes transmitted to the TTY
	TtyTxBytes int
	// TtyRxBytes is the total number of bytes received from the TTY
	TtyRxBytes int
	// ConnTxBytes is the total number of bytes written to connections
	ConnTxBytes int
	// ConnRxBytes is the total number of bytes received from connections
	ConnRxBytes int
	// NumConns is the total number of connections established
	NumConns int
	// OpenLinks is the number of slots currently connected
	OpenLinks int
	// LastTtyTxTime is the timestamp of the last TTY transmission
	LastTtyTxTime time.Time
	// LastTtyRxTime is the timestamp of the last TTY reception
	LastTtyRxTime time.Time
	// LastAtCmdTime is the timestamp of the last AT command processed
	LastAtCmdTime time.Time
	// LastConnTime is the timestamp of the last connection establishment
	LastConnTime time.Time
}

func checkValidCmdChar(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

func checkValidNumChar(b byte) bool {
	return (b >= '0' && b <= '9')
}

func (m *Modem) checkLock() {
	if m.TryLock() {
		panic("Modem lock not held")
	}
}

func (m *Modem) ttyWrite(b []byte) {
	if m.closed {
		return
	}
	m.metrics.LastTtyTxTime = time.Now()
	n, err := m.tty.Write(b)
	if err != nil || n == 0 {
		m.close()
		return
	}
	m.metrics.TtyTxBytes += n
}

func (m *Modem) ttyWriteStr(s string) {
	m.ttyWrite([]byte(s))
}

// TtyWriteStr writes a string to the TTY device.
// The modem lock must be held before calling this method.
// Use TtyWriteStrSync for automatic lock management.
func (m *Modem) TtyWriteStr(s string) {
	m.checkLock()
	m.ttyWriteStr(s)
}

// TtyWriteStrSync writes a string to the TTY device with automatic lock management.
// This is a convenience method that acquires and releases the modem lock.
func (m *Modem) TtyWriteStrSync(s string) {
	m.Lock()
	defer m.Unlock()
	m.ttyWriteStr(s)
}

// Id returns the unique identifier of the modem instance.
func (m *Modem) Id() string {
	return m.id
}

func (m *Modem) printRetCode(ret RetCode) {
	switch ret {
	case RetCodeOk:
		m.ttyWriteStr("\r\nOK\r\n")
	case RetCodeError:
		m.ttyWriteStr("\r\nERROR\r\n")
	}
}

func (m *Modem) close() {
	if m.closed {
		return
	}
	m.closed = true
	m.tty.Close()
	for mux, l := range m.links {
		if l != nil && l.status != LinkClosed {
			m.setLinkStatus(mux, LinkClosed)
		}
	}
}

// Close terminates the modem, the TTY and every connection.
// The modem lock must be held before calling this method.
// Use CloseSync for automatic lock management.
func (m *Modem) Close() {
	m.checkLock()
	m.close()
}

// CloseSync terminates the modem with automatic lock management.
// This is a convenience method that acquires and releases the modem lock.
func (m *Modem) CloseSync() {
	m.Lock()
	defer m.Unlock()
	m.close()
}

// Closed reports whether the modem was closed.
// The modem lock must be held before calling this method.
func (m *Modem) Closed() bool {
	m.checkLock()
	return m.closed
}

func (m *Modem) processCommand(cmd string, cmdNum string, cmdAssign bool, cmdQuery bool, cmdAssignVal string) RetCode {
	if m.commandHook != nil {
		r := m.commandHook(m, cmd, cmdAssign, cmdQuery, cmdAssignVal)
		if r != RetCodeSkip {
			return r
		}
	}
	switch cmd {
	case "E":
		n, _ := strconv.Atoi(cmdNum)
		switch n {
		case 0:
			m.echo = false
		case 1:
			m.echo = true
		default:
			return RetCodeError
		}
	case "&F", "Z":
		m.echo = true
		m.manualRx = false
		m.quickSend = false
	case "I", "+GMM":
		m.ttyWriteStr("\r\nSIMCOM_SIM800_VIRTUAL\r\n")
	case "+CIPMUX", "+CIPHEAD":
	case "+CIPSHUT":
		m.shutAll()
		m.ttyWriteStr("\r\nSHUT OK\r\n")
		return RetCodeSilent
	case "+CIPQSEND":
		return m.flagCommand(&m.quickSend, cmdQuery, cmdAssignVal)
	case "+CIPSSL":
		return m.flagCommand(&m.ssl, cmdQuery, cmdAssignVal)
	case "+CIPRXGET":
		return m.cipRxGet(cmdQuery, cmdAssignVal)
	case "+CIPSTART":
		return m.cipStart(cmdAssignVal)
	case "+CIPSEND":
		return m.cipSend(cmdAssignVal)
	case "+CIPSTATUS":
		return m.cipStatus(cmdAssign, cmdAssignVal)
	case "+CIPCLOSE":
		return m.cipClose(cmdAssignVal)
	default:
		if strings.HasPrefix(cmd, "+") {
			return RetCodeError
		}
	}
	return RetCodeOk
}

func (m *Modem) flagCommand(flag *bool, query bool, val string) RetCode {
	if query {
		m.ttyWriteStr(fmt.Sprintf("\r\n%d\r\n", btoi(*flag)))
		return RetCodeOk
	}
	switch strings.TrimSpace(val) {
	case "0":
		*flag = false
	case "1":
		*flag = true
	default:
		return RetCodeError
	}
	return RetCodeOk
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (m *Modem) processAtCommand(cmd string) RetCode {
	m.metrics.LastAtCmdTime = time.Now()
	if m.lineHook != nil {
		r := m.lineHook(m, cmd)
		if r != RetCodeSkip {
			return r
		}
	}
	cmdBuf := bytes.NewBufferString(cmd)
	cmdRet := RetCodeOk
	e := false
	for cmdBuf.Len() > 0 && !e {
		cmdChar := ""
		cmdNum := ""
		cmdLong := false
		cmdAssign := false
		cmdQuery := false
		cmdAssignVal := ""

		for cmdBuf.Len() > 0 && !e {
			b, err := cmdBuf.ReadByte()
			if err != nil {
				e = true
				break
			}

			if b == '?' && !cmdAssign {
				if cmdChar != "" {
					cmdQuery = true
					break
				}
				e = true
				break
			}

			if cmdAssign {
				if !cmdLong && !checkValidNumChar(b) { // short command only accepts numbers
					cmdBuf.UnreadByte()
					break
				}
				cmdAssignVal += string(b)
				continue
			}

			if b == '+' {
				if cmdChar == "" {
					cmdLong = true
					cmdChar += string(b)
					continue
				}
				e = true
				break
			}

			if b == '=' {
				if cmdChar != "" {
					cmdAssign = true
					continue
				}
				e = true
				break
			}

			if cmdLong {
				if checkValidCmdChar(b) {
					cmdChar += string(b)
					continue
				}
				e = true
				break
			}

			if cmdChar == "" || cmdChar == "&" {
				if b == '&' && cmdChar == "" && cmdBuf.Len() > 0 {
					cmdChar += string(b)
					continue
				}
				if checkValidCmdChar(b) {
					cmdChar += string(b)
				} else {
					e = true
					break
				}
			} else {
				if checkValidNumChar(b) {
					cmdNum += string(b)
				} else {
					cmdBuf.UnreadByte()
					break
				}
			}
		}
		if !e {
			cmdRet = m.processCommand(strings.ToUpper(cmdChar), cmdNum, cmdAssign, cmdQuery, cmdAssignVal)
			if cmdRet == RetCodeError {
				break
			}
		}
		if cmdLong {
			break // long commands don't support chaining
		}
	}

	if e {
		cmdRet = RetCodeError
	}
	return cmdRet
}

// ProcessAtCommand processes an AT command line (without the AT prefix) and
// returns the result code.
// The modem lock must be held before calling this method.
// Use ProcessAtCommandSync for automatic lock management.
func (m *Modem) ProcessAtCommand(cmd string) RetCode {
	m.checkLock()
	return m.processAtCommand(cmd)
}

// ProcessAtCommandSync processes an AT command line with automatic lock management.
// This is a convenience method that acquires and releases the modem lock.
func (m *Modem) ProcessAtCommandSync(cmd string) RetCode {
	m.Lock()
	defer m.Unlock()
	return m.processAtCommand(cmd)
}

// Metrics returns a copy of the current modem metrics and statistics.
// The modem lock must be held before calling this method.
// Use MetricsSync for automatic lock management.
func (m *Modem) Metrics() *Metrics {
	m.checkLock()
	copy := *m.metrics
	copy.OpenLinks = 0
	for _, l := range m.links {
		if l != nil && l.status == LinkConnected {
			copy.OpenLinks++
		}
	}
	return &copy
}

// MetricsSync returns a copy of the current modem metrics and statistics with automatic lock management.
// This is a convenience method that acquires and releases the modem lock.
func (m *Modem) MetricsSync() *Metrics {
	m.Lock()
	defer m.Unlock()
	return m.Metrics()
}

func (m *Modem) ttyReadTask() {
	aFlag := false
	atFlag := false
	lastCR := false
	buffer := *bytes.NewBuffer(nil)
	byteBuff := make([]byte, 1)

	m.Lock()
	for !m.closed {
		m.Unlock()
		n, err := m.tty.Read(byteBuff)
		m.Lock()
		if m.closed {
			break
		}

		if err != nil || n == 0 {
			m.close()
			break
		}
		m.metrics.LastTtyRxTime = time.Now()
		m.metrics.TtyRxBytes += n

		if lastCR && byteBuff[0] == '\n' {
			lastCR = false
			continue
		}
		lastCR = false

		if m.send != nil { // payload after the send prompt
			m.sendByte(byteBuff[0])
			continue
		}

		if !atFlag {
			if m.echo {
				m.ttyWrite(byteBuff)
			}
			if bytes.ToUpper(byteBuff)[0] == 'A' {
				aFlag = true
				continue
			}
			if aFlag && bytes.ToUpper(byteBuff)[0] == 'T' {
				atFlag = true
				aFlag = false
				continue
			}
			aFlag = false
		} else {
			if byteBuff[0] == 0x7f {
				if buffer.Len() > 0 {
					buffer.Truncate(buffer.Len() - 1)
				}
				continue
			}
			if m.echo {
				m.ttyWrite(byteBuff)
			}
			if byteBuff[0] == '\r' {
				atFlag = false
				lastCR = true
				r := m.processAtCommand(buffer.String())
				m.printRetCode(r)
				buffer.Reset()
				continue
			}
			if buffer.Len() < 256 && strconv.IsPrint(rune(byteBuff[0])) {
				buffer.Write(byteBuff)
			}
		}
	}
	m.Unlock()
}

// New creates a new modem instance with the specified configuration.
// The config parameter must not be nil and must contain at least the TTY field.
// The modem begins processing TTY input immediately.
//
// Returns ErrConfigRequired if config is nil or required fields are missing.
func New(config *Config) (*Modem, error) {
	if config == nil {
		return nil, ErrConfigRequired
	}

	if config.TTY == nil {
		return nil, ErrConfigRequired
	}

	m := &Modem{
		id:             config.Id,
		tty:            config.TTY,
		dial:           config.Dial,
		commandHook:    config.CommandHook,
		lineHook:       config.LineHook,
		linkTransition: config.LinkTransition,
		muteData:       config.MuteDataNotify,
		echo:           true,
		metrics:        &Metrics{},
	}

	go m.ttyReadTask()
	return m, nil
}
