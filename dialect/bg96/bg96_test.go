package bg96

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/jaracil/gsmnet"
	"github.com/jaracil/gsmnet/modemtest"
)

const qiopen = "AT+QIOPEN=1,0,\"TCP\",\"example.com\",80,0,0\r\n"

func newEngine(t *testing.T, s *modemtest.Script) *gsmnet.Engine {
	t.Helper()
	e, err := gsmnet.New(&gsmnet.Config{Transport: s, Dialect: New(), Yield: runtime.Gosched})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return e
}

func connect(t *testing.T, e *gsmnet.Engine) *gsmnet.Client {
	t.Helper()
	c := e.NewClient(0)
	if err := c.Connect("example.com", 80, time.Second); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	return c
}

func opened() *modemtest.Script {
	return modemtest.New().Expect(qiopen, "\r\nOK\r\n\r\n+QIOPEN: 0,0\r\n")
}

func TestInit(t *testing.T) {
	s := modemtest.New().
		Expect("ATE0\r\n", "\r\nOK\r\n").
		Expect("AT+CMEE=2\r\n", "\r\nOK\r\n")
	e := newEngine(t, s)
	if err := e.Init(); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	s.Verify(t)
}

func TestConnect(t *testing.T) {
	s := opened()
	e := newEngine(t, s)
	c := connect(t, e)
	if c.State() != gsmnet.SocketConnected {
		t.Errorf("State() = %s, want Connected", c.State())
	}
	s.Verify(t)
}

func TestConnect_Fail(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"error code", "\r\nOK\r\n\r\n+QIOPEN: 0,566\r\n"},
		{"other connect id", "\r\nOK\r\n\r\n+QIOPEN: 3,0\r\n"},
		{"refused", "\r\nERROR\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := modemtest.New().Expect(qiopen, tt.reply)
			e := newEngine(t, s)
			err := e.NewClient(0).Connect("example.com", 80, 100*time.Millisecond)
			if !errors.Is(err, gsmnet.ErrConnectFailed) {
				t.Errorf("Connect() = %v, want ErrConnectFailed", err)
			}
		})
	}
}

func TestConnect_TLSRefused(t *testing.T) {
	s := modemtest.New()
	e := newEngine(t, s)
	err := e.NewSecureClient(0).Connect("example.com", 443, time.Second)
	if !errors.Is(err, gsmnet.ErrConnectFailed) {
		t.Errorf("Connect() = %v, want ErrConnectFailed", err)
	}
	if w := s.Written(); w != "" {
		t.Errorf("secure connect wrote %q", w)
	}
}

func TestWrite(t *testing.T) {
	s := opened().
		Expect("AT+QISEND=0,5\r\n", "\r\n> ").
		Expect("hello", "\r\nSEND OK\r\n")
	e := newEngine(t, s)
	c := connect(t, e)
	if n, err := c.Write([]byte("hello")); err != nil || n != 5 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	s.Verify(t)
}

func TestWrite_SendFail(t *testing.T) {
	s := opened().
		Expect("AT+QISEND=0,5\r\n", "\r\n> ").
		Expect("hello", "\r\nSEND FAIL\r\n")
	e := newEngine(t, s)
	c := connect(t, e)
	if _, err := c.Write([]byte("hello")); !errors.Is(err, gsmnet.ErrSendFailed) {
		t.Errorf("Write() error = %v, want ErrSendFailed", err)
	}
}

func TestRead_AfterNotification(t *testing.T) {
	s := opened().
		Expect("AT+QIRD=0,0\r\n", "\r\n+QIRD: 5,0,5\r\n\r\nOK\r\n").
		Expect("AT+QIRD=0,5\r\n", "\r\n+QIRD: 5\r\nhello\r\n\r\nOK\r\n").
		Expect("AT+QIRD=0,0\r\n", "\r\n+QIRD: 5,5,0\r\n\r\nOK\r\n").
		Expect("AT+QISTATE=1,0\r\n", "\r\n+QISTATE: 0,\"TCP\",\"example.com\",80,5087,2,1,0,0,\"uart1\"\r\n\r\nOK\r\n")
	e := newEngine(t, s)
	c := connect(t, e)

	s.Feed("\r\n+QIURC: \"recv\",0\r\n")
	buf := make([]byte, 8)
	n, err := c.Read(buf)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("Read() = %q, want %q", buf[:n], "hello")
	}
	if c.State() != gsmnet.SocketConnected {
		t.Errorf("State() = %s, want Connected", c.State())
	}
	s.Verify(t)
}

func TestConnected(t *testing.T) {
	tests := []struct {
		state    string
		expected bool
	}{
		{"2", true},
		{"1", false},
		{"4", false},
	}
	for _, tt := range tests {
		t.Run("state "+tt.state, func(t *testing.T) {
			s := modemtest.New().
				Expect("AT+QISTATE=1,4\r\n", "\r\n+QISTATE: 4,\"TCP\",\"example.com\",80,5087,"+tt.state+",1,4,0,\"uart1\"\r\n\r\nOK\r\n")
			e := newEngine(t, s)
			e.Lock()
			defer e.Unlock()
			if got := New().Connected(e, 4); got != tt.expected {
				t.Errorf("Connected() = %v, want %v", got, tt.expected)
			}
			s.Verify(t)
		})
	}
}

func TestRemoteClose(t *testing.T) {
	s := opened()
	e := newEngine(t, s)
	c := connect(t, e)

	s.Feed("\r\n+QIURC: \"closed\",0\r\n")
	if c.Connected() {
		t.Error("Connected() = true after the closed notification")
	}
	if c.State() != gsmnet.SocketClosed {
		t.Errorf("State() = %s, want Closed", c.State())
	}
}

func TestHandleURC_Other(t *testing.T) {
	s := opened()
	e := newEngine(t, s)
	connect(t, e)
	d := New()

	e.Lock()
	defer e.Unlock()
	s.Feed(" \"pdpdeact\",1\r\n")
	if !d.HandleURC(e, []byte("\r\n+QIURC:")) {
		t.Fatal("HandleURC(pdpdeact) = false")
	}
	if s.Available() != 0 {
		t.Errorf("notification left %d bytes", s.Available())
	}
	if st := e.Socket(0).State(); st != gsmnet.SocketConnected {
		t.Errorf("State() = %s, want Connected", st)
	}

	s.Feed(" \"recv\",x\r\n")
	d.HandleURC(e, []byte("\r\n+QIURC:"))
	if m := e.Metrics(); m.MalformedURCs != 1 {
		t.Errorf("MalformedURCs = %d, want 1", m.MalformedURCs)
	}

	if d.HandleURC(e, []byte("\r\n+QIOPEN:")) {
		t.Error("HandleURC(+QIOPEN) = true")
	}
}

func TestClose(t *testing.T) {
	s := opened().
		Expect("AT+QICLOSE=0\r\n", "\r\nOK\r\n")
	e := newEngine(t, s)
	c := connect(t, e)
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	s.Verify(t)
}
