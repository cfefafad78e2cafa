package source

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"go.bug.st/serial"
)

// Kinds accepted by Open.
const (
	KindSerial = "serial"
	KindTCP    = "tcp"
	KindFile   = "file"
	KindStdin  = "stdin"
)

// Defaults of the scale's serial interface.
const (
	DefaultBaudRate    = 9600
	DefaultReadTimeout = 200 * time.Millisecond
)

// Config selects and parameterises a source.
type Config struct {
	Kind        string        `mapstructure:"kind"`
	Address     string        `mapstructure:"address"` // port name, host:port or file path
	BaudRate    int           `mapstructure:"baud_rate"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// DefaultConfig reads from stdin.
func DefaultConfig() Config {
	return Config{
		Kind:        KindStdin,
		BaudRate:    DefaultBaudRate,
		ReadTimeout: DefaultReadTimeout,
		DialTimeout: 5 * time.Second,
	}
}

// Open builds the source described by cfg.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Reader, error) {
	switch cfg.Kind {
	case KindSerial:
		return OpenSerial(cfg.Address, cfg.BaudRate, cfg.ReadTimeout, opts...)
	case KindTCP:
		return DialTCP(ctx, cfg.Address, cfg.DialTimeout, opts...)
	case KindFile:
		return OpenFile(cfg.Address, opts...)
	case KindStdin, "":
		return Stdin(opts...), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q (want serial, tcp, file or stdin)", cfg.Kind)
	}
}

// OpenSerial opens a serial port at 8N1.
func OpenSerial(port string, baud int, readTimeout time.Duration, opts ...Option) (*Reader, error) {
	if port == "" {
		return nil, fmt.Errorf("serial source: port is required")
	}
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", port, err)
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", port, err)
	}
	return NewReader("serial:"+port, newPollingReader(p), opts...), nil
}

// DialTCP connects to a serial-over-TCP bridge such as ser2net.
func DialTCP(ctx context.Context, addr string, timeout time.Duration, opts ...Option) (*Reader, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewReader("tcp:"+addr, conn, opts...), nil
}

// OpenFile replays a recorded capture.
func OpenFile(path string, opts ...Option) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	return NewReader("file:"+path, f, opts...), nil
}

// Stdin reads from standard input. Close does not close stdin.
func Stdin(opts ...Option) *Reader {
	return NewReader("stdin", struct{ io.Reader }{os.Stdin}, opts...)
}

// pollingReader turns a port with a read timeout into a blocking reader.
// A timed-out read returns (0, nil); bufio.Scanner gives up after a
// hundred of those, so they are retried here until data arrives or the
// port is closed.
type pollingReader struct {
	port   io.ReadCloser
	closed chan struct{}
}

func newPollingReader(p io.ReadCloser) *pollingReader {
	return &pollingReader{port: p, closed: make(chan struct{})}
}

func (r *pollingReader) Read(b []byte) (int, error) {
	for {
		select {
		case <-r.closed:
			return 0, ErrClosed
		default:
		}
		n, err := r.port.Read(b)
		if n > 0 || err != nil {
			return n, err
		}
	}
}

func (r *pollingReader) Close() error {
	close(r.closed)
	return r.port.Close()
}
