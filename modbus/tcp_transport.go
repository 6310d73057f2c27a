package modbus

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// defaultTCPAddr is the default listening address for the Modbus/TCP server.
const defaultTCPAddr = "0.0.0.0:502"

// defaultTimeout is the default per-request read/write deadline used by
// tcpChannel when none is configured.
const defaultTimeout = 75 * time.Second

// tcpChannel is the production I/O runtime adapter: a Channel backed by a
// net.Conn, read and written through a buffered reader/writer with a
// configurable deadline applied to every ReadExact/WriteAll.
type tcpChannel struct {
	conn    net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	timeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func newTCPChannel(conn net.Conn, timeout time.Duration) *tcpChannel {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &tcpChannel{
		conn:    conn,
		r:       bufio.NewReaderSize(conn, 320),
		w:       bufio.NewWriterSize(conn, 320),
		timeout: timeout,
	}
}

// ReadExact implements Channel.
func (c *tcpChannel) ReadExact(n int) ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("modbus: short read: %w", err)
	}
	return buf, nil
}

// WriteAll implements Channel.
func (c *tcpChannel) WriteAll(b []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	if _, err := c.w.Write(b); err != nil {
		return fmt.Errorf("modbus: write: %w", err)
	}
	return c.w.Flush()
}

// Close implements Channel. It is idempotent.
func (c *tcpChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// tcpListenerOptions configures ListenTCP.
type tcpListenerOptions struct {
	addr    string
	timeout time.Duration
}

// TCPOption configures a call to ListenTCP.
type TCPOption func(*tcpListenerOptions)

// WithListenAddress sets the local TCP address to listen on (default
// "0.0.0.0:502").
func WithListenAddress(addr string) TCPOption {
	return func(o *tcpListenerOptions) {
		o.addr = addr
	}
}

// WithTCPTimeout sets the per-connection read/write deadline applied to
// every frame exchange (default 75s).
func WithTCPTimeout(timeout time.Duration) TCPOption {
	return func(o *tcpListenerOptions) {
		o.timeout = timeout
	}
}

// tcpListener is the Listener implementation over net.TCPListener.
type tcpListener struct {
	underlying net.Listener
	timeout    time.Duration

	activeConns sync.WaitGroup
	closeOnce   sync.Once
	closed      chan struct{}
}

// ListenTCP binds a Modbus/TCP listener. It does not start accepting
// connections until AcceptLoop is called.
func ListenTCP(opts ...TCPOption) (Listener, error) {
	o := &tcpListenerOptions{addr: defaultTCPAddr, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(o)
	}
	ln, err := net.Listen("tcp", o.addr)
	if err != nil {
		return nil, fmt.Errorf("modbus: listen on %s: %w", o.addr, err)
	}
	return &tcpListener{
		underlying: ln,
		timeout:    o.timeout,
		closed:     make(chan struct{}),
	}, nil
}

// AcceptLoop implements Listener.
func (l *tcpListener) AcceptLoop(handler func(Channel)) error {
	for {
		conn, err := l.underlying.Accept()
		if err != nil {
			select {
			case <-l.closed:
				return nil
			default:
				return fmt.Errorf("modbus: accept: %w", err)
			}
		}
		l.activeConns.Add(1)
		go func() {
			defer l.activeConns.Done()
			handler(newTCPChannel(conn, l.timeout))
		}()
	}
}

// Close implements Listener. It stops AcceptLoop from accepting new
// connections and waits until the handlers of already-accepted connections
// have returned; it does not close those connections itself.
func (l *tcpListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.underlying.Close()
	})
	l.activeConns.Wait()
	return err
}
