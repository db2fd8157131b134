// Package expect drives an interactive device CLI over any byte stream:
// wait for a pattern, send a payload, capture what the device printed.
package expect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"time"

	"github.com/andrej220/devbackup/pkg/models"
)

const readChunk = 4096

// ErrTimeout is returned when the expected pattern did not show up in time.
var ErrTimeout = errors.New("expect timeout")

// Expecter matches device output against patterns. One goroutine drains the
// stream; Expect and Send must be called from a single goroutine.
type Expecter struct {
	rw      io.ReadWriteCloser
	chunks  chan []byte
	readErr chan error
	done    chan struct{}

	pending []byte
	last    string
	timeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func NewExpecter(rw io.ReadWriteCloser, timeout time.Duration) *Expecter {
	e := &Expecter{
		rw:      rw,
		chunks:  make(chan []byte, 64),
		readErr: make(chan error, 1),
		done:    make(chan struct{}),
		timeout: timeout,
	}
	go e.read()
	return e
}

func (e *Expecter) read() {
	buf := make([]byte, readChunk)
	for {
		n, err := e.rw.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case e.chunks <- chunk:
			case <-e.done:
				return
			}
		}
		if err != nil {
			e.readErr <- err
			return
		}
	}
}

func (e *Expecter) Timeout() time.Duration     { return e.timeout }
func (e *Expecter) SetTimeout(d time.Duration) { e.timeout = d }

// Buffer returns the text consumed by the last successful Expect.
func (e *Expecter) Buffer() string { return e.last }

// Clear drops the last capture and everything received but not yet matched.
func (e *Expecter) Clear() {
	e.last = ""
	e.pending = e.pending[:0]
	for {
		select {
		case <-e.chunks:
		default:
			return
		}
	}
}

func (e *Expecter) Send(payload string) error {
	if _, err := io.WriteString(e.rw, payload); err != nil {
		return fmt.Errorf("%w: send: %v", models.ErrProtocol, err)
	}
	return nil
}

// Expect waits until pattern matches the unread output. The consumed text,
// up to and including the match, becomes Buffer().
func (e *Expecter) Expect(ctx context.Context, pattern *regexp.Regexp) (string, error) {
	timer := time.NewTimer(e.timeout)
	defer timer.Stop()
	for {
		if loc := pattern.FindIndex(e.pending); loc != nil {
			e.last = string(e.pending[:loc[1]])
			e.pending = append(e.pending[:0], e.pending[loc[1]:]...)
			return e.last, nil
		}
		select {
		case chunk := <-e.chunks:
			e.pending = append(e.pending, chunk...)
		case err := <-e.readErr:
			// keep what is still queued before giving up
			e.drainQueued()
			if loc := pattern.FindIndex(e.pending); loc != nil {
				e.last = string(e.pending[:loc[1]])
				e.pending = e.pending[loc[1]:]
				return e.last, nil
			}
			e.readErr <- err
			return string(e.pending), fmt.Errorf("%w: connection closed while waiting for %q: %v", models.ErrProtocol, pattern.String(), err)
		case <-timer.C:
			return string(e.pending), fmt.Errorf("%w: %w: %q not received within %s", models.ErrProtocol, ErrTimeout, pattern.String(), e.timeout)
		case <-ctx.Done():
			return string(e.pending), ctx.Err()
		}
	}
}

func (e *Expecter) drainQueued() {
	for {
		select {
		case chunk := <-e.chunks:
			e.pending = append(e.pending, chunk...)
		default:
			return
		}
	}
}

func (e *Expecter) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)
		e.closeErr = e.rw.Close()
	})
	return e.closeErr
}

// Pattern compiles expr as a regular expression and falls back to a literal
// match when expr is not a valid expression.
func Pattern(expr string) *regexp.Regexp {
	if re, err := regexp.Compile(expr); err == nil {
		return re
	}
	return regexp.MustCompile(regexp.QuoteMeta(expr))
}

// Literal compiles s so that every regex-special character matches itself.
func Literal(s string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(s))
}
