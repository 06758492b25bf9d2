package gsmnet

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Final result codes shared by every dialect. Replies always end in CRLF,
// even when the dialect terminates commands with a bare CR.
const (
	ReplyOK    = "OK\r\n"
	ReplyError = "ERROR\r\n"

	// ReplyCMEError and ReplyCMSError are followed by a numeric or verbose
	// cause up to the end of the line.
	ReplyCMEError = "+CME ERROR:"
	ReplyCMSError = "+CMS ERROR:"
)

// Profile is the configuration surface of a dialect. Every dialect ships a
// built-in profile and users may overlay parts of it from a YAML document.
type Profile struct {
	// Name identifies the dialect in logs
	Name string `yaml:"name"`
	// MuxCount is the number of connection slots the modem offers (1..12)
	MuxCount int `yaml:"mux_count"`
	// LineTerminator ends every command line (default: "\r\n")
	LineTerminator string `yaml:"line_terminator"`
	// BufferSize is the capacity of each socket receive buffer (default: 64)
	BufferSize int `yaml:"buffer_size"`
	// Terminals are the patterns awaited when WaitResponse gets none (at most 5)
	Terminals []string `yaml:"terminals"`
	// CommandTimeout bounds simple command replies (default: 1s)
	CommandTimeout time.Duration `yaml:"command_timeout"`
	// StreamTimeout bounds reads of URC fields (default: 1s)
	StreamTimeout time.Duration `yaml:"stream_timeout"`
	// SocketTimeout is the initial read timeout of new sockets (default: 1s)
	SocketTimeout time.Duration `yaml:"socket_timeout"`
	// CloseTimeout bounds the drain and close of a socket (default: 15s)
	CloseTimeout time.Duration `yaml:"close_timeout"`
	// PollInterval is the missed notification poll period (default and minimum: 500ms)
	PollInterval time.Duration `yaml:"poll_interval"`
	// MaxChunk is the largest payload handed to one send command (default: 1460)
	MaxChunk int `yaml:"max_chunk"`
	// DrainBeforeClose reads out modem side data before closing a socket
	DrainBeforeClose bool `yaml:"drain_before_close"`
	// HexData makes received payload bytes arrive as two hex digits each
	HexData bool `yaml:"hex_data"`
	// NoModemBuffer marks dialects that push payload inline with the notification
	NoModemBuffer bool `yaml:"no_modem_buffer"`
}

const (
	defaultBufferSize     = 64
	defaultCommandTimeout = time.Second
	defaultStreamTimeout  = time.Second
	defaultSocketTimeout  = time.Second
	defaultCloseTimeout   = 15 * time.Second
	minPollInterval       = 500 * time.Millisecond
	defaultMaxChunk       = 1460
	maxMuxCount           = 12
)

// DefaultTerminals returns the standard final result patterns.
func DefaultTerminals() []string {
	return []string{ReplyOK, ReplyError, ReplyCMEError, ReplyCMSError}
}

func (p *Profile) applyDefaults() {
	if p.LineTerminator == "" {
		p.LineTerminator = "\r\n"
	}
	if p.BufferSize == 0 {
		p.BufferSize = defaultBufferSize
	}
	if len(p.Terminals) == 0 {
		p.Terminals = DefaultTerminals()
	}
	if p.CommandTimeout == 0 {
		p.CommandTimeout = defaultCommandTimeout
	}
	if p.StreamTimeout == 0 {
		p.StreamTimeout = defaultStreamTimeout
	}
	if p.SocketTimeout == 0 {
		p.SocketTimeout = defaultSocketTimeout
	}
	if p.CloseTimeout == 0 {
		p.CloseTimeout = defaultCloseTimeout
	}
	if p.PollInterval == 0 {
		p.PollInterval = minPollInterval
	}
	if p.MaxChunk == 0 {
		p.MaxChunk = defaultMaxChunk
	}
}

func (p *Profile) validate() error {
	switch {
	case p.MuxCount < 1 || p.MuxCount > maxMuxCount:
		return fmt.Errorf("%w: mux_count %d out of 1..%d", ErrInvalidProfile, p.MuxCount, maxMuxCount)
	case p.BufferSize < 2:
		return fmt.Errorf("%w: buffer_size %d", ErrInvalidProfile, p.BufferSize)
	case len(p.Terminals) > MaxPatterns:
		return fmt.Errorf("%w: %d terminals, at most %d", ErrInvalidProfile, len(p.Terminals), MaxPatterns)
	case p.PollInterval < minPollInterval:
		return fmt.Errorf("%w: poll_interval %s below %s", ErrInvalidProfile, p.PollInterval, minPollInterval)
	case p.MaxChunk < 1:
		return fmt.Errorf("%w: max_chunk %d", ErrInvalidProfile, p.MaxChunk)
	case p.CommandTimeout < 0 || p.StreamTimeout < 0 || p.SocketTimeout < 0 || p.CloseTimeout < 0:
		return fmt.Errorf("%w: negative timeout", ErrInvalidProfile)
	}
	for _, t := range p.Terminals {
		if t == "" {
			return fmt.Errorf("%w: empty terminal pattern", ErrInvalidProfile)
		}
	}
	return nil
}

// Normalize fills unset fields with their defaults and validates the result.
func (p *Profile) Normalize() error {
	p.applyDefaults()
	return p.validate()
}

// LoadProfile decodes a YAML document on top of base and returns the
// normalized result. Fields missing from the document keep their base value.
func LoadProfile(r io.Reader, base Profile) (Profile, error) {
	p := base
	p.Terminals = append([]string(nil), base.Terminals...)
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && err != io.EOF {
		return Profile{}, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if err := p.Normalize(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// LoadProfileFile is LoadProfile reading from the named file.
func LoadProfileFile(path string, base Profile) (Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return Profile{}, fmt.Errorf("open profile: %w", err)
	}
	defer f.Close()
	return LoadProfile(f, base)
}
