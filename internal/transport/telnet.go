package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Telnet commands and options, RFC 854/855/857/858/1091.
const (
	cmdSE   byte = 240
	cmdSB   byte = 250
	cmdWILL byte = 251
	cmdWONT byte = 252
	cmdDO   byte = 253
	cmdDONT byte = 254
	cmdIAC  byte = 255

	optEcho  byte = 1
	optSGA   byte = 3
	optTType byte = 24

	ttypeIS   byte = 0
	ttypeSEND byte = 1
)

// TelnetMode selects how the client negotiates.
type TelnetMode int

const (
	// TelnetStandard refuses every option the device offers or asks for.
	TelnetStandard TelnetMode = iota
	// TelnetNVT announces a VT100 terminal, lets the device echo and
	// suppress go-ahead, and speaks 7-bit NVT ASCII.
	TelnetNVT
)

type TelnetConfig struct {
	Addr     string
	Timeout  time.Duration
	Mode     TelnetMode
	Terminal string
}

// DialTelnet connects and returns a stream with the telnet protocol already
// stripped from it.
func DialTelnet(ctx context.Context, c TelnetConfig) (io.ReadWriteCloser, error) {
	d := net.Dialer{Timeout: c.Timeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("telnet dial %s: %w", c.Addr, err)
	}
	return NewTelnetConn(conn, c.Mode, c.Terminal), nil
}

// TelnetConn answers option negotiation inline while it reads.
type TelnetConn struct {
	conn     net.Conn
	r        *bufio.Reader
	mode     TelnetMode
	terminal string

	wmu    sync.Mutex
	lastCR bool
}

func NewTelnetConn(conn net.Conn, mode TelnetMode, terminal string) *TelnetConn {
	if terminal == "" {
		terminal = "VT100"
	}
	return &TelnetConn{conn: conn, r: bufio.NewReader(conn), mode: mode, terminal: terminal}
}

func (t *TelnetConn) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		// hand over what is buffered without blocking again
		if n > 0 && t.r.Buffered() == 0 {
			break
		}
		b, err := t.r.ReadByte()
		if err != nil {
			return n, err
		}
		if b == cmdIAC {
			data, ok, err := t.command()
			if err != nil {
				return n, err
			}
			if !ok {
				continue
			}
			b = data
		}
		if b, ok := t.filter(b); ok {
			p[n] = b
			n++
		}
	}
	return n, nil
}

// filter applies NVT input rules: 7-bit data, CR NUL read as CR.
func (t *TelnetConn) filter(b byte) (byte, bool) {
	if t.mode != TelnetNVT {
		return b, true
	}
	b &= 0x7f
	if b == 0 && t.lastCR {
		t.lastCR = false
		return 0, false
	}
	t.lastCR = b == '\r'
	return b, true
}

// command handles the bytes following an IAC. It reports a data byte when the
// IAC was an escaped 255.
func (t *TelnetConn) command() (byte, bool, error) {
	cmd, err := t.r.ReadByte()
	if err != nil {
		return 0, false, err
	}
	switch cmd {
	case cmdIAC:
		return cmdIAC, true, nil
	case cmdWILL, cmdWONT, cmdDO, cmdDONT:
		opt, err := t.r.ReadByte()
		if err != nil {
			return 0, false, err
		}
		return 0, false, t.negotiate(cmd, opt)
	case cmdSB:
		return 0, false, t.subnegotiation()
	default:
		// NOP, GA, AYT and friends carry no payload
		return 0, false, nil
	}
}

func (t *TelnetConn) negotiate(cmd, opt byte) error {
	var reply byte
	switch cmd {
	case cmdWILL:
		reply = cmdDONT
		if t.mode == TelnetNVT && (opt == optEcho || opt == optSGA) {
			reply = cmdDO
		}
	case cmdDO:
		reply = cmdWONT
		if t.mode == TelnetNVT && opt == optTType {
			reply = cmdWILL
		}
	default:
		// WONT and DONT are acknowledgements and need no answer
		return nil
	}
	return t.writeRaw([]byte{cmdIAC, reply, opt})
}

func (t *TelnetConn) subnegotiation() error {
	var body []byte
	for {
		b, err := t.r.ReadByte()
		if err != nil {
			return err
		}
		if b == cmdIAC {
			next, err := t.r.ReadByte()
			if err != nil {
				return err
			}
			if next == cmdSE {
				break
			}
			b = next
		}
		body = append(body, b)
	}
	if t.mode == TelnetNVT && len(body) >= 2 && body[0] == optTType && body[1] == ttypeSEND {
		reply := []byte{cmdIAC, cmdSB, optTType, ttypeIS}
		reply = append(reply, t.terminal...)
		reply = append(reply, cmdIAC, cmdSE)
		return t.writeRaw(reply)
	}
	return nil
}

func (t *TelnetConn) writeRaw(b []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	_, err := t.conn.Write(b)
	return err
}

// Write escapes IAC bytes. In NVT mode a lone CR goes out as CR NUL and a
// lone LF as CR LF.
func (t *TelnetConn) Write(p []byte) (int, error) {
	out := make([]byte, 0, len(p)+8)
	for i, b := range p {
		switch {
		case b == cmdIAC:
			out = append(out, cmdIAC, cmdIAC)
		case t.mode == TelnetNVT && b == '\r' && (i+1 == len(p) || p[i+1] != '\n'):
			out = append(out, '\r', 0)
		case t.mode == TelnetNVT && b == '\n' && (i == 0 || p[i-1] != '\r'):
			out = append(out, '\r', '\n')
		default:
			out = append(out, b)
		}
	}
	if err := t.writeRaw(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *TelnetConn) Close() error { return t.conn.Close() }
