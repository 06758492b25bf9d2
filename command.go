package gsmnet

import (
	"fmt"
	"strconv"
	"time"
)

type fragmentKind uint8

const (
	fragmentText fragmentKind = iota
	fragmentInt
	fragmentChar
)

// Fragment is one printable piece of an AT command line: a text run, an
// integer printed in decimal or a single character.
type Fragment struct {
	kind fragmentKind
	text string
	num  int64
	char byte
}

// Text returns a fragment that prints s verbatim.
func Text(s string) Fragment {
	return Fragment{kind: fragmentText, text: s}
}

// Int returns a fragment that prints n in decimal.
func Int(n int64) Fragment {
	return Fragment{kind: fragmentInt, num: n}
}

// Char returns a fragment that prints the single byte c.
func Char(c byte) Fragment {
	return Fragment{kind: fragmentChar, char: c}
}

func (f Fragment) appendTo(b []byte) []byte {
	switch f.kind {
	case fragmentInt:
		return strconv.AppendInt(b, f.num, 10)
	case fragmentChar:
		return append(b, f.char)
	default:
		return append(b, f.text...)
	}
}

// String returns the fragment as it appears on the wire.
func (f Fragment) String() string {
	return string(f.appendTo(nil))
}

// ToFragment converts a command argument. Strings and byte slices become
// text, byte and rune values become characters, the other integer kinds
// become decimal numbers, booleans print as 1 or 0 and fmt.Stringer values
// print their String(). Anything else yields ErrArgType.
//
// rune is int32, so an int32 argument prints as a character. Pass numbers
// as int or int64.
func ToFragment(arg any) (Fragment, error) {
	switch a := arg.(type) {
	case Fragment:
		return a, nil
	case string:
		return Text(a), nil
	case []byte:
		return Text(string(a)), nil
	case byte:
		return Char(a), nil
	case rune:
		if a >= 0 && a < 0x80 {
			return Char(byte(a)), nil
		}
		return Text(string(a)), nil
	case bool:
		if a {
			return Int(1), nil
		}
		return Int(0), nil
	case int:
		return Int(int64(a)), nil
	case int8:
		return Int(int64(a)), nil
	case int16:
		return Int(int64(a)), nil
	case int64:
		return Int(a), nil
	case uint:
		return Text(strconv.FormatUint(uint64(a), 10)), nil
	case uint16:
		return Int(int64(a)), nil
	case uint32:
		return Int(int64(a)), nil
	case uint64:
		return Text(strconv.FormatUint(a, 10)), nil
	case fmt.Stringer:
		return Text(a.String()), nil
	default:
		return Fragment{}, fmt.Errorf("%w: %T", ErrArgType, arg)
	}
}

// BuildCommand concatenates the "AT" prefix, the arguments and the line
// terminator into one command line.
func BuildCommand(terminator string, args ...any) ([]byte, error) {
	line := make([]byte, 0, 32)
	line = append(line, 'A', 'T')
	for _, arg := range args {
		f, err := ToFragment(arg)
		if err != nil {
			return nil, err
		}
		line = f.appendTo(line)
	}
	return append(line, terminator...), nil
}

func (e *Engine) write(p []byte) (int, error) {
	n, err := e.t.Write(p)
	e.metrics.TxBytes += n
	if err != nil {
		return n, err
	}
	return n, e.t.Flush()
}

func (e *Engine) sendAT(args ...any) error {
	line, err := BuildCommand(e.prof.LineTerminator, args...)
	if err != nil {
		return err
	}
	e.metrics.Commands++
	e.metrics.LastCommandTime = time.Now()
	e.logger.Debug("command", "line", string(line[:len(line)-len(e.prof.LineTerminator)]))
	if _, err := e.write(line); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}

// SendAT formats an AT command from args, writes it followed by the dialect
// line terminator and flushes the transport. It does not read the reply.
// The engine lock must be held before calling this method.
// Use SendATSync for automatic lock management.
func (e *Engine) SendAT(args ...any) error {
	e.checkLock()
	return e.sendAT(args...)
}

// SendATSync is SendAT with automatic lock management.
func (e *Engine) SendATSync(args ...any) error {
	e.Lock()
	defer e.Unlock()
	return e.sendAT(args...)
}

// WriteRaw writes a payload to the transport without any formatting and
// flushes it. Dialects use it after a send prompt.
// The engine lock must be held before calling this method.
func (e *Engine) WriteRaw(p []byte) (int, error) {
	e.checkLock()
	return e.write(p)
}

// Command sends an AT command and waits for OK within the profile command
// timeout. Any other outcome wraps ErrCommandFailed.
// The engine lock must be held before calling this method.
func (e *Engine) Command(args ...any) error {
	e.checkLock()
	if err := e.sendAT(args...); err != nil {
		return err
	}
	if r := e.scan(e.prof.CommandTimeout, e.prof.Terminals); r.Index != 1 {
		line, _ := BuildCommand("", args...)
		return fmt.Errorf("%w: %s", ErrCommandFailed, line)
	}
	return nil
}
