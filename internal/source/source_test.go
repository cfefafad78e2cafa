package source

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func drain(t *testing.T, r *Reader) []float64 {
	t.Helper()
	var out []float64
	for {
		v, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, v)
	}
}

func TestReader_ParsesIntegers(t *testing.T) {
	input := "8123\n 8124 \r\n-12\n\n+7\n"
	r := NewReader("test", strings.NewReader(input))

	assert.Equal(t, []float64{8123, 8124, -12, 7}, drain(t, r))
	assert.Equal(t, uint64(4), r.Samples())
}

func TestReader_SkipsMalformed(t *testing.T) {
	var skipped []string
	input := "812\n3.5\nERR\n8124\n81x\n"
	r := NewReader("test", strings.NewReader(input),
		WithLogger(zaptest.NewLogger(t)),
		WithMalformedHook(func(line string) { skipped = append(skipped, line) }),
	)

	assert.Equal(t, []float64{812, 8124}, drain(t, r))
	assert.Equal(t, []string{"3.5", "ERR", "81x"}, skipped)
	assert.Equal(t, uint64(3), r.Malformed())
}

func TestReader_ContextCanceled(t *testing.T) {
	r := NewReader("test", strings.NewReader("1\n2\n"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReader_Close(t *testing.T) {
	pr, pw := io.Pipe()
	r := NewReader("pipe", pr)

	errc := make(chan error, 1)
	go func() {
		_, err := r.Next(context.Background())
		errc <- err
	}()

	require.NoError(t, r.Close())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}
	_ = pw.Close()

	_, err := r.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, r.Close(), "second Close")
}

// glitchReader fails the first read, then serves data.
type glitchReader struct {
	failed bool
	data   io.Reader
}

func (g *glitchReader) Read(b []byte) (int, error) {
	if !g.failed {
		g.failed = true
		return 0, errors.New("transient glitch")
	}
	return g.data.Read(b)
}

func TestReader_RecoversAfterReadError(t *testing.T) {
	r := NewReader("flaky", &glitchReader{data: strings.NewReader("123\n456\n")})

	_, err := r.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transient glitch")

	assert.Equal(t, []float64{123, 456}, drain(t, r))
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.txt")
	require.NoError(t, os.WriteFile(path, []byte("100\n101\ngarbage\n102\n"), 0o600))

	r, err := Open(context.Background(), Config{Kind: KindFile, Address: path})
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, "file:"+path, r.Name())
	assert.Equal(t, []float64{100, 101, 102}, drain(t, r))
}

func TestOpen_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("5000\n5001\n"))
	}()

	r, err := Open(context.Background(), Config{Kind: KindTCP, Address: ln.Addr().String(), DialTimeout: time.Second})
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []float64{5000, 5001}, drain(t, r))
	wg.Wait()
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "unknown kind", cfg: Config{Kind: "carrier-pigeon"}},
		{name: "serial without port", cfg: Config{Kind: KindSerial}},
		{name: "missing file", cfg: Config{Kind: KindFile, Address: filepath.Join(os.TempDir(), "tally-does-not-exist")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestOpen_StdinDefault(t *testing.T) {
	r, err := Open(context.Background(), Config{})
	require.NoError(t, err)
	assert.Equal(t, "stdin", r.Name())
	assert.Nil(t, r.closer)
}

// timeoutPort mimics a serial port with a read timeout: empty reads
// between chunks of data.
type timeoutPort struct {
	chunks []string
	empty  int
	closed bool
}

func (p *timeoutPort) Read(b []byte) (int, error) {
	if p.empty > 0 {
		p.empty--
		return 0, nil
	}
	if len(p.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.chunks[0])
	p.chunks = p.chunks[1:]
	p.empty = 150
	return n, nil
}

func (p *timeoutPort) Close() error {
	p.closed = true
	return nil
}

func TestPollingReader_RetriesTimeouts(t *testing.T) {
	port := &timeoutPort{chunks: []string{"81", "23\n8124\n"}, empty: 150}
	r := NewReader("serial:fake", newPollingReader(port))

	assert.Equal(t, []float64{8123, 8124}, drain(t, r))
	require.NoError(t, r.Close())
	assert.True(t, port.closed)
}
