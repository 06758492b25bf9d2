package modemsim

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockReadWriteCloser implements io.ReadWriteCloser for testing
type MockReadWriteCloser struct {
	writes   []byte
	closed   bool
	readChan chan byte
	done     chan struct{}
	mu       sync.Mutex
}

func NewMockReadWriteCloser() *MockReadWriteCloser {
	return &MockReadWriteCloser{
		readChan: make(chan byte, 1000),
		done:     make(chan struct{}),
	}
}

func (m *MockReadWriteCloser) Read(p []byte) (int, error) {
	select {
	case b := <-m.readChan:
		p[0] = b
		return 1, nil
	case <-m.done:
		return 0, io.EOF
	}
}

func (m *MockReadWriteCloser) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, io.ErrClosedPipe
	}
	m.writes = append(m.writes, p...)
	return len(p), nil
}

func (m *MockReadWriteCloser) WriteInput(data string) {
	for i := 0; i < len(data); i++ {
		m.readChan <- data[i]
	}
}

func (m *MockReadWriteCloser) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func (m *MockReadWriteCloser) GetWrittenString() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return string(m.writes)
}

func (m *MockReadWriteCloser) ClearWrites() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writes = nil
}

func waitWritten(t *testing.T, tty *MockReadWriteCloser, want string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !strings.Contains(tty.GetWrittenString(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("tty output %q does not contain %q", tty.GetWrittenString(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitStatus(t *testing.T, m *Modem, mux int, want LinkStatus) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		st, err := m.LinkStatusSync(mux)
		if err != nil {
			t.Fatalf("LinkStatusSync(%d) error: %v", mux, err)
		}
		if st == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("link %d status = %s, want %s", mux, st, want)
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestModem(t *testing.T, config *Config) (*Modem, *MockReadWriteCloser) {
	t.Helper()
	tty := NewMockReadWriteCloser()
	config.TTY = tty
	m, err := New(config)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(m.CloseSync)
	return m, tty
}

// pipeDialer hands the modem one end of a pipe per dial and keeps the other
// end for the test.
type pipeDialer struct {
	mu    sync.Mutex
	peers []net.Conn
	addrs []string
}

func (p *pipeDialer) dial(m *Modem, network, addr string) (io.ReadWriteCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	local, remote := net.Pipe()
	p.peers = append(p.peers, remote)
	p.addrs = append(p.addrs, network+"://"+addr)
	return local, nil
}

func (p *pipeDialer) peer(t *testing.T, i int) net.Conn {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.peers) {
		t.Fatalf("dial %d never happened", i)
	}
	return p.peers[i]
}

func connectLink(t *testing.T, m *Modem, tty *MockReadWriteCloser, mux string) {
	t.Helper()
	tty.WriteInput("AT+CIPSTART=" + mux + ",\"TCP\",\"example.com\",80\r\n")
	waitWritten(t, tty, mux+", CONNECT OK\r\n")
}

func TestLinkStatus_String(t *testing.T) {
	tests := []struct {
		status   LinkStatus
		expected string
	}{
		{LinkInitial, "INITIAL"},
		{LinkConnecting, "CONNECTING"},
		{LinkConnected, "CONNECTED"},
		{LinkClosed, "CLOSED"},
		{LinkStatus(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.expected {
			t.Errorf("LinkStatus(%d).String() = %v, want %v", tt.status, got, tt.expected)
		}
	}
}

func TestCmdReturnFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected RetCode
	}{
		{"OK", RetCodeOk},
		{"error", RetCodeError},
		{"Silent", RetCodeSilent},
		{"SKIP", RetCodeSkip},
		{"CONNECT", RetCodeUnknown},
	}
	for _, tt := range tests {
		if got := CmdReturnFromString(tt.input); got != tt.expected {
			t.Errorf("CmdReturnFromString(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestNew(t *testing.T) {
	t.Run("Nil config", func(t *testing.T) {
		m, err := New(nil)
		if err != ErrConfigRequired || m != nil {
			t.Errorf("New(nil) = %v, %v, want nil, %v", m, err, ErrConfigRequired)
		}
	})

	t.Run("Missing TTY", func(t *testing.T) {
		m, err := New(&Config{Id: "x"})
		if err != ErrConfigRequired || m != nil {
			t.Errorf("New() = %v, %v, want nil, %v", m, err, ErrConfigRequired)
		}
	})

	t.Run("Valid config", func(t *testing.T) {
		m, _ := newTestModem(t, &Config{Id: "sim"})
		if m.Id() != "sim" {
			t.Errorf("Id() = %q, want %q", m.Id(), "sim")
		}
		if st, err := m.LinkStatusSync(0); err != nil || st != LinkInitial {
			t.Errorf("LinkStatusSync(0) = %v, %v", st, err)
		}
		if _, err := m.LinkStatusSync(MuxCount); !errors.Is(err, ErrInvalidLink) {
			t.Errorf("LinkStatusSync(%d) error = %v, want ErrInvalidLink", MuxCount, err)
		}
	})
}

func TestModem_ProcessAtCommand_Basic(t *testing.T) {
	m, _ := newTestModem(t, &Config{})

	tests := []struct {
		command  string
		expected RetCode
	}{
		{"", RetCodeOk},
		{"E0", RetCodeOk},
		{"E1", RetCodeOk},
		{"E2", RetCodeError},
		{"&F", RetCodeOk},
		{"Z", RetCodeOk},
		{"E0&F", RetCodeOk},
		{"+CIPMUX=1", RetCodeOk},
		{"+CIPQSEND=1", RetCodeOk},
		{"+CIPQSEND=2", RetCodeError},
		{"+CIPRXGET=1", RetCodeOk},
		{"+CIPRXGET=9", RetCodeError},
		{"+CIPSTART=9,\"TCP\",\"example.com\",80", RetCodeError},
		{"+CIPSTART=0,\"XYZ\",\"example.com\",80", RetCodeError},
		{"+CIPSEND=0,5", RetCodeError},
		{"+CIPCLOSE=0,1", RetCodeError},
		{"+CIPSTATUS=7", RetCodeError},
		{"+CSQ", RetCodeError},
		{"?", RetCodeError},
		{"+CIP+MUX", RetCodeError},
	}

	for _, test := range tests {
		result := m.ProcessAtCommandSync(test.command)
		if result != test.expected {
			t.Errorf("ProcessAtCommand(%q) = %v, want %v", test.command, result, test.expected)
		}
	}
}

func TestModem_ATCommandFlow(t *testing.T) {
	_, tty := newTestModem(t, &Config{})

	tty.WriteInput("ATI\r\n")
	waitWritten(t, tty, "SIMCOM_SIM800_VIRTUAL\r\n\r\nOK\r\n")

	tty.ClearWrites()
	tty.WriteInput("AT+CIPQSEND?\r\n")
	waitWritten(t, tty, "\r\n0\r\n\r\nOK\r\n")

	tty.ClearWrites()
	tty.WriteInput("AT+NOPE\r\n")
	waitWritten(t, tty, "\r\nERROR\r\n")
}

func TestModem_EchoFlow(t *testing.T) {
	_, tty := newTestModem(t, &Config{})

	tty.WriteInput("ATE0\r\n")
	waitWritten(t, tty, "ATE0\r\r\nOK\r\n")

	tty.ClearWrites()
	tty.WriteInput("AT\r\n")
	waitWritten(t, tty, "\r\nOK\r\n")
	if got := tty.GetWrittenString(); got != "\r\nOK\r\n" {
		t.Errorf("echo off output = %q", got)
	}
}

func TestModem_Backspace(t *testing.T) {
	_, tty := newTestModem(t, &Config{})
	tty.WriteInput("ATE0\r\n")
	waitWritten(t, tty, "OK\r\n")

	tty.ClearWrites()
	tty.WriteInput("ATI\x7fE0\r\n")
	waitWritten(t, tty, "\r\nOK\r\n")
	if strings.Contains(tty.GetWrittenString(), "SIMCOM") {
		t.Error("backspace did not remove the I command")
	}
}

func TestModem_CommandHook(t *testing.T) {
	var gotCmd, gotVal string
	var gotAssign bool
	hook := func(m *Modem, cmd string, assign, query bool, val string) RetCode {
		if cmd != "+CSQ" {
			return RetCodeSkip
		}
		gotCmd, gotAssign, gotVal = cmd, assign, val
		m.TtyWriteStr("\r\n+CSQ: 20,0\r\n")
		return RetCodeOk
	}
	_, tty := newTestModem(t, &Config{CommandHook: hook})

	tty.WriteInput("AT+CSQ=1\r\n")
	waitWritten(t, tty, "+CSQ: 20,0\r\n\r\nOK\r\n")
	if gotCmd != "+CSQ" || !gotAssign || gotVal != "1" {
		t.Errorf("hook got %q assign=%v val=%q", gotCmd, gotAssign, gotVal)
	}

	tty.ClearWrites()
	tty.WriteInput("ATI\r\n")
	waitWritten(t, tty, "SIMCOM_SIM800_VIRTUAL")
}

func TestModem_LineHook(t *testing.T) {
	tests := []struct {
		name           string
		command        string
		expectedLine   string
		expectedResult string
	}{
		{
			name:           "LineHook intercepts E8 and returns OK",
			command:        "ATE8\r",
			expectedLine:   "E8",
			expectedResult: "OK",
		},
		{
			name:           "LineHook skips E9 and produces ERROR for invalid command",
			command:        "ATE9\r",
			expectedLine:   "E9",
			expectedResult: "ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mu sync.Mutex
			var capturedLine string

			lineHook := func(m *Modem, line string) RetCode {
				mu.Lock()
				capturedLine = line
				mu.Unlock()
				if line == "E8" {
					return RetCodeOk
				}
				return RetCodeSkip
			}

			_, tty := newTestModem(t, &Config{LineHook: lineHook})
			tty.WriteInput(tt.command)
			waitWritten(t, tty, tt.expectedResult)

			mu.Lock()
			defer mu.Unlock()
			if capturedLine != tt.expectedLine {
				t.Errorf("Expected capturedLine = %q, got %q", tt.expectedLine, capturedLine)
			}
		})
	}
}

func TestModem_TTYWriteFailure(t *testing.T) {
	m, tty := newTestModem(t, &Config{})

	tty.Close()
	m.TtyWriteStrSync("Test write")

	m.Lock()
	closed := m.Closed()
	m.Unlock()
	if !closed {
		t.Error("Expected modem to be closed after TTY write failure")
	}
}

func TestLink_ConnectAndSend(t *testing.T) {
	pd := &pipeDialer{}
	var mu sync.Mutex
	var transitions []string
	m, tty := newTestModem(t, &Config{
		Dial: pd.dial,
		LinkTransition: func(m *Modem, mux int, prev, next LinkStatus) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, prev.String()+">"+next.String())
		},
	})
	tty.WriteInput("ATE0\r\nAT+CIPQSEND=1\r\n")
	waitWritten(t, tty, "OK\r\n\r\nOK\r\n")

	connectLink(t, m, tty, "0")
	waitStatus(t, m, 0, LinkConnected)
	if pd.addrs[0] != "tcp://example.com:80" {
		t.Errorf("dialed %q", pd.addrs[0])
	}

	peer := pd.peer(t, 0)
	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := peer.Read(buf)
		got <- string(buf[:n])
	}()

	tty.ClearWrites()
	tty.WriteInput("AT+CIPSEND=0,5\r\n")
	waitWritten(t, tty, "\r\n> ")
	tty.WriteInput("hello")
	if s := <-got; s != "hello" {
		t.Errorf("peer got %q, want %q", s, "hello")
	}
	waitWritten(t, tty, "\r\nDATA ACCEPT:0,5\r\n")

	tty.ClearWrites()
	tty.WriteInput("AT+CIPSTART=0,\"TCP\",\"example.com\",80\r\n")
	waitWritten(t, tty, "0, ALREADY CONNECT\r\n")

	mu.Lock()
	defer mu.Unlock()
	want := []string{"INITIAL>CONNECTING", "CONNECTING>CONNECTED"}
	if strings.Join(transitions, " ") != strings.Join(want, " ") {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestLink_SendOK(t *testing.T) {
	pd := &pipeDialer{}
	m, tty := newTestModem(t, &Config{Dial: pd.dial})
	connectLink(t, m, tty, "1")
	waitStatus(t, m, 1, LinkConnected)

	peer := pd.peer(t, 0)
	go io.Copy(io.Discard, peer)

	tty.ClearWrites()
	tty.WriteInput("AT+CIPSEND=1,2\r\n")
	waitWritten(t, tty, "> ")
	tty.WriteInput("hi")
	waitWritten(t, tty, "\r\n1, SEND OK\r\n")
}

func TestLink_ConnectFail(t *testing.T) {
	fail := func(m *Modem, network, addr string) (io.ReadWriteCloser, error) {
		return nil, errors.New("refused")
	}
	m, tty := newTestModem(t, &Config{Dial: fail})
	tty.WriteInput("AT+CIPSTART=2,\"TCP\",\"example.com\",80\r\n")
	waitWritten(t, tty, "\r\nOK\r\n")
	waitWritten(t, tty, "2, CONNECT FAIL\r\n")
	waitStatus(t, m, 2, LinkClosed)
}

func TestLink_PushNotification(t *testing.T) {
	pd := &pipeDialer{}
	m, tty := newTestModem(t, &Config{Dial: pd.dial})
	connectLink(t, m, tty, "0")
	waitStatus(t, m, 0, LinkConnected)

	pd.peer(t, 0).Write([]byte("abc"))
	waitWritten(t, tty, "\r\n+RECEIVE:0,3\r\n")
}

func TestLink_ManualReceive(t *testing.T) {
	pd := &pipeDialer{}
	m, tty := newTestModem(t, &Config{Dial: pd.dial})
	tty.WriteInput("ATE0\r\nAT+CIPRXGET=1\r\n")
	waitWritten(t, tty, "OK\r\n\r\nOK\r\n")
	connectLink(t, m, tty, "0")
	waitStatus(t, m, 0, LinkConnected)

	pd.peer(t, 0).Write([]byte("hello"))
	waitWritten(t, tty, "\r\n+CIPRXGET: 1,0\r\n")

	tty.ClearWrites()
	tty.WriteInput("AT+CIPRXGET=4,0\r\n")
	waitWritten(t, tty, "\r\n+CIPRXGET: 4,0,5\r\n\r\nOK\r\n")

	tty.ClearWrites()
	tty.WriteInput("AT+CIPRXGET=2,0,3\r\n")
	waitWritten(t, tty, "\r\n+CIPRXGET: 2,0,3,2\r\nhel\r\nOK\r\n")

	tty.ClearWrites()
	tty.WriteInput("AT+CIPRXGET=3,0,10\r\n")
	waitWritten(t, tty, "\r\n+CIPRXGET: 3,0,2,0\r\n6c6f\r\nOK\r\n")

	tty.ClearWrites()
	tty.WriteInput("AT+CIPRXGET?\r\n")
	waitWritten(t, tty, "\r\n+CIPRXGET: 1\r\n\r\nOK\r\n")
}

func TestLink_MuteDataNotify(t *testing.T) {
	pd := &pipeDialer{}
	m, tty := newTestModem(t, &Config{Dial: pd.dial, MuteDataNotify: true})
	connectLink(t, m, tty, "0")
	waitStatus(t, m, 0, LinkConnected)

	tty.ClearWrites()
	pd.peer(t, 0).Write([]byte("abc"))
	deadline := time.Now().Add(time.Second)
	for m.MetricsSync().ConnRxBytes < 3 {
		if time.Now().After(deadline) {
			t.Fatal("modem never buffered the peer data")
		}
		time.Sleep(time.Millisecond)
	}
	tty.WriteInput("AT+CIPRXGET=4,0\r\n")
	waitWritten(t, tty, "\r\n+CIPRXGET: 4,0,3\r\n")
	if strings.Contains(tty.GetWrittenString(), "+RECEIVE") {
		t.Errorf("muted modem notified data: %q", tty.GetWrittenString())
	}
}

func TestLink_RemoteClose(t *testing.T) {
	pd := &pipeDialer{}
	m, tty := newTestModem(t, &Config{Dial: pd.dial})
	connectLink(t, m, tty, "3")
	waitStatus(t, m, 3, LinkConnected)

	pd.peer(t, 0).Close()
	waitWritten(t, tty, "\r\n3, CLOSED\r\n")
	waitStatus(t, m, 3, LinkClosed)

	tty.ClearWrites()
	tty.WriteInput("AT+CIPSTATUS=3\r\n")
	waitWritten(t, tty, "+CIPSTATUS: 3,0,\"TCP\",\"example.com\",\"80\",\"CLOSED\"\r\n\r\nOK\r\n")
}

func TestLink_CloseAndStatus(t *testing.T) {
	pd := &pipeDialer{}
	m, tty := newTestModem(t, &Config{Dial: pd.dial})
	connectLink(t, m, tty, "0")
	waitStatus(t, m, 0, LinkConnected)

	tty.ClearWrites()
	tty.WriteInput("AT+CIPSTATUS=0\r\n")
	waitWritten(t, tty, "+CIPSTATUS: 0,0,\"TCP\",\"example.com\",\"80\",\"CONNECTED\"\r\n\r\nOK\r\n")

	tty.ClearWrites()
	tty.WriteInput("AT+CIPSTATUS=1\r\n")
	waitWritten(t, tty, "+CIPSTATUS: 1,,\"\",\"\",\"\",\"INITIAL\"\r\n\r\nOK\r\n")

	tty.ClearWrites()
	tty.WriteInput("AT+CIPCLOSE=0,1\r\n")
	waitWritten(t, tty, "\r\n0, CLOSE OK\r\n")
	waitStatus(t, m, 0, LinkClosed)

	if _, err := pd.peer(t, 0).Read(make([]byte, 1)); err == nil {
		t.Error("peer still open after AT+CIPCLOSE")
	}
}

func TestLink_Shut(t *testing.T) {
	pd := &pipeDialer{}
	m, tty := newTestModem(t, &Config{Dial: pd.dial})
	connectLink(t, m, tty, "0")
	connectLink(t, m, tty, "1")

	tty.ClearWrites()
	tty.WriteInput("AT+CIPSHUT\r\n")
	waitWritten(t, tty, "\r\nSHUT OK\r\n")
	waitStatus(t, m, 0, LinkClosed)
	waitStatus(t, m, 1, LinkClosed)
}

func TestLink_Drop(t *testing.T) {
	pd := &pipeDialer{}
	m, tty := newTestModem(t, &Config{Dial: pd.dial})
	connectLink(t, m, tty, "0")
	waitStatus(t, m, 0, LinkConnected)

	tty.ClearWrites()
	if err := m.DropSync(0); err != nil {
		t.Fatalf("DropSync() error: %v", err)
	}
	waitStatus(t, m, 0, LinkClosed)
	time.Sleep(20 * time.Millisecond)
	if out := tty.GetWrittenString(); out != "" {
		t.Errorf("silent drop wrote %q", out)
	}
	if err := m.DropSync(9); !errors.Is(err, ErrInvalidLink) {
		t.Errorf("DropSync(9) = %v, want ErrInvalidLink", err)
	}
}

func TestModem_Metrics(t *testing.T) {
	pd := &pipeDialer{}
	m, tty := newTestModem(t, &Config{Dial: pd.dial})
	connectLink(t, m, tty, "0")
	waitStatus(t, m, 0, LinkConnected)

	metrics := m.MetricsSync()
	if metrics.NumConns != 1 || metrics.OpenLinks != 1 {
		t.Errorf("NumConns = %d, OpenLinks = %d, want 1, 1", metrics.NumConns, metrics.OpenLinks)
	}
	if metrics.TtyRxBytes == 0 || metrics.TtyTxBytes == 0 {
		t.Errorf("tty counters not updated: %+v", metrics)
	}
	if metrics.LastConnTime.IsZero() || metrics.LastAtCmdTime.IsZero() {
		t.Error("timestamps not updated")
	}

	m.CloseSync()
	if metrics := m.MetricsSync(); metrics.OpenLinks != 0 {
		t.Errorf("OpenLinks = %d after close, want 0", metrics.OpenLinks)
	}
}
