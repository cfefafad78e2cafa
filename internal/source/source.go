// Package source reads raw integer scale readings from a line-oriented
// stream: a serial port, a TCP bridge, a recorded file or stdin.
package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("source closed")

// Source yields one raw sample per call.
type Source interface {
	// Next blocks until the next well-formed sample, the end of the stream
	// (io.EOF), or an error. Cancellation is checked between lines.
	Next(ctx context.Context) (float64, error)
	Close() error
	Name() string
}

// Option customises a Reader.
type Option func(*Reader)

// WithLogger sets the logger used for malformed-line warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reader) { r.logger = logger }
}

// WithMalformedHook is called once per skipped line.
func WithMalformedHook(fn func(line string)) Option {
	return func(r *Reader) { r.onMalformed = fn }
}

// WithWarnLimit throttles malformed-line warnings to every interval with
// the given burst.
func WithWarnLimit(interval time.Duration, burst int) Option {
	return func(r *Reader) { r.warn = rate.NewLimiter(rate.Every(interval), burst) }
}

// Reader parses newline-separated integers. Lines that do not parse are
// skipped; the device emits partial lines on connect and after glitches.
type Reader struct {
	name        string
	src         io.Reader
	scanner     *bufio.Scanner
	closer      io.Closer
	logger      *zap.Logger
	warn        *rate.Limiter
	onMalformed func(string)

	mu        sync.Mutex // guards scanner
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	malformed atomic.Uint64
	samples   atomic.Uint64
}

// NewReader wraps r. When r is also an io.Closer, Close closes it.
func NewReader(name string, r io.Reader, opts ...Option) *Reader {
	rd := &Reader{
		name:    name,
		src:     r,
		scanner: bufio.NewScanner(r),
		logger:  zap.NewNop(),
		warn:    rate.NewLimiter(rate.Every(10*time.Second), 3),
	}
	if c, ok := r.(io.Closer); ok {
		rd.closer = c
	}
	for _, opt := range opts {
		opt(rd)
	}
	return rd
}

// Name identifies the source in logs, e.g. "serial:/dev/ttyUSB0".
func (r *Reader) Name() string {
	return r.name
}

// Next returns the next sample. A read error is returned once; the
// following call resumes reading the stream, dropping any partial line.
func (r *Reader) Next(ctx context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if r.closed.Load() {
			return 0, ErrClosed
		}
		if !r.scanner.Scan() {
			if r.closed.Load() {
				return 0, ErrClosed
			}
			if err := r.scanner.Err(); err != nil {
				// Scanner errors are sticky.
				r.scanner = bufio.NewScanner(r.src)
				return 0, fmt.Errorf("read %s: %w", r.name, err)
			}
			return 0, io.EOF
		}

		line := strings.TrimSpace(r.scanner.Text())
		v, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			r.skip(line)
			continue
		}
		r.samples.Add(1)
		return float64(v), nil
	}
}

func (r *Reader) skip(line string) {
	n := r.malformed.Add(1)
	if r.onMalformed != nil {
		r.onMalformed(line)
	}
	if r.warn.Allow() {
		r.logger.Warn("skipping malformed line",
			zap.String("source", r.name),
			zap.String("line", truncate(line, 32)),
			zap.Uint64("malformed_total", n),
		)
	}
}

// Malformed returns the number of lines skipped so far.
func (r *Reader) Malformed() uint64 {
	return r.malformed.Load()
}

// Samples returns the number of samples returned so far.
func (r *Reader) Samples() uint64 {
	return r.samples.Load()
}

// Close releases the underlying stream. A Next blocked in a read returns
// once the stream is closed.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		if r.closer != nil {
			r.closeErr = r.closer.Close()
		}
	})
	return r.closeErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
