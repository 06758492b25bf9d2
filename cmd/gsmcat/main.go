// Command gsmcat opens one TCP connection through a cellular or Wi-Fi modem
// and bridges it to stdin/stdout or to a pseudo terminal.
//
//	gsmcat -p /dev/ttyUSB0 -d sim800 example.com 80
//	gsmcat --simulate --pty example.com 80
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jaracil/gsmnet"
	"github.com/jaracil/gsmnet/dialect/bg96"
	"github.com/jaracil/gsmnet/dialect/esp8266"
	"github.com/jaracil/gsmnet/dialect/sim800"
	"github.com/jaracil/gsmnet/modemsim"
	"github.com/jessevdk/go-flags"
	"go.bug.st/serial"
)

type options struct {
	Port     string            `short:"p" long:"port" description:"Serial port of the modem"`
	Baud     int               `short:"b" long:"baud" default:"115200" description:"Serial baud rate"`
	Dialect  string            `short:"d" long:"dialect" default:"sim800" choice:"sim800" choice:"bg96" choice:"esp8266" description:"Modem command set"`
	Profile  string            `long:"profile" description:"YAML file overlaid on the dialect profile"`
	Mux      int               `short:"m" long:"mux" default:"-1" description:"Connection slot, -1 picks a free one"`
	TLS      bool              `long:"tls" description:"Open a secure connection"`
	Timeout  time.Duration     `short:"t" long:"timeout" default:"75s" description:"Connect timeout"`
	ReadWait time.Duration     `long:"read-wait" default:"500ms" description:"Socket read timeout"`
	Pty      bool              `long:"pty" description:"Bridge to a pseudo terminal instead of stdin/stdout"`
	Simulate bool              `long:"simulate" description:"Use the built-in SIM800 simulator instead of a serial port"`
	SimReply map[string]string `long:"sim-reply" value-name:"CMD:CODE" description:"Simulator result code (ok, error, silent) for a command, e.g. +CSQ:error"`
	List     bool              `short:"l" long:"list" description:"List serial ports and exit"`
	Verbose  []bool            `short:"v" long:"verbose" description:"Log more, repeat for protocol traces"`
	Args     struct {
		Host string `positional-arg-name:"host"`
		Port int    `positional-arg-name:"port"`
	} `positional-args:"yes"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Usage = "[OPTIONS] host port"
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, &opts); err != nil {
		fmt.Fprintf(os.Stderr, "gsmcat: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func logLevel(verbose int) slog.Level {
	switch {
	case verbose >= 2:
		return slog.LevelDebug
	case verbose == 1:
		return slog.LevelInfo
	}
	return slog.LevelWarn
}

func pickDialect(name string) (gsmnet.Dialect, error) {
	switch name {
	case "sim800":
		return sim800.New(), nil
	case "bg96":
		return bg96.New(), nil
	case "esp8266":
		return esp8266.New(), nil
	}
	return nil, fmt.Errorf("unknown dialect %q", name)
}

func listPorts() error {
	ports, err := serial.GetPortsList()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}

func run(ctx context.Context, opts *options) error {
	if opts.List {
		return listPorts()
	}
	if opts.Args.Host == "" || opts.Args.Port == 0 {
		return errors.New("host and port are required")
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(len(opts.Verbose))}))

	d, err := pickDialect(opts.Dialect)
	if err != nil {
		return err
	}
	prof := d.Profile()
	if opts.Profile != "" {
		if prof, err = gsmnet.LoadProfileFile(opts.Profile, prof); err != nil {
			return err
		}
	}

	var tr *gsmnet.StreamTransport
	switch {
	case opts.Simulate:
		if opts.Dialect != "sim800" {
			return errors.New("the simulator speaks the sim800 dialect only")
		}
		var sim *modemsim.Modem
		if tr, sim, err = simulate(logger, opts.SimReply); err != nil {
			return err
		}
		defer sim.CloseSync()
	case opts.Port != "":
		if tr, err = (gsmnet.SerialDialer{PortName: opts.Port, BaudRate: opts.Baud}).Dial(ctx); err != nil {
			return err
		}
	default:
		return errors.New("a serial port or --simulate is required")
	}

	e, err := gsmnet.New(&gsmnet.Config{
		Transport: tr,
		Dialect:   d,
		Profile:   &prof,
		Logger:    logger,
		StateTransition: func(_ *gsmnet.Engine, s *gsmnet.Socket, prev, next gsmnet.SocketState) {
			logger.Info("socket state", "mux", s.Mux(), "tls", s.TLS(), "from", prev, "to", next)
		},
	})
	if err != nil {
		tr.Close()
		return err
	}
	defer e.Close()

	if !e.TestAT(5 * time.Second) {
		return errors.New("modem does not answer AT")
	}
	if err := e.Init(); err != nil {
		return fmt.Errorf("init: %w", err)
	}

	c := e.NewClient(opts.Mux)
	if opts.TLS {
		c = e.NewSecureClient(opts.Mux)
	}
	if err := c.Connect(opts.Args.Host, opts.Args.Port, opts.Timeout); err != nil {
		return err
	}
	defer c.Close()
	c.SetTimeout(opts.ReadWait)
	logger.Info("connected", "host", opts.Args.Host, "port", opts.Args.Port, "mux", c.Mux())

	var st stats
	if opts.Pty {
		err = bridgeTerminal(ctx, c, &st, logger)
	} else {
		err = bridge(ctx, c, stdio{}, &st)
	}

	m := e.MetricsSync()
	fmt.Fprintf(os.Stderr, "sent %s, received %s, modem traffic %s out %s in\n",
		humanize.Bytes(uint64(st.Sent())), humanize.Bytes(uint64(st.Received())),
		humanize.Bytes(uint64(m.TxBytes)), humanize.Bytes(uint64(m.RxBytes)))
	return err
}

// bridgeTerminal opens a pseudo terminal, waits for a program to attach to
// it and bridges until that program hangs up.
func bridgeTerminal(ctx context.Context, c *gsmnet.Client, st *stats, logger *slog.Logger) error {
	p, err := openTerminal()
	if err != nil {
		return err
	}
	defer p.Close()
	fmt.Fprintf(os.Stderr, "tty path: %s\n", p.Name())
	if err := p.Attached(ctx); err != nil {
		return err
	}
	logger.Info("terminal attached", "tty", p.Name())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.HungUp(ctx):
			logger.Info("terminal hung up", "tty", p.Name())
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := bridge(ctx, c, p, st); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
