package ntrip

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"time"
)

// Conn is the caster connection as seen by the worker. Available reports how
// many bytes can be read without blocking; a Read of at most that many bytes
// must not block.
type Conn interface {
	Available() (int, error)
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Dialer opens a Conn to addr (host:port).
type Dialer func(ctx context.Context, addr string) (Conn, error)

// availableProbe is how long Available waits on an empty socket to find out
// whether new bytes have arrived.
const availableProbe = time.Millisecond

// TCPDialer returns a Dialer for plain TCP casters.
func TCPDialer(timeout time.Duration, writeTimeout time.Duration) Dialer {
	return func(ctx context.Context, addr string) (Conn, error) {
		d := &net.Dialer{Timeout: timeout}
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return newTCPConn(c, writeTimeout), nil
	}
}

type tcpConn struct {
	conn         net.Conn
	br           *bufio.Reader
	writeTimeout time.Duration
}

func newTCPConn(c net.Conn, writeTimeout time.Duration) *tcpConn {
	return &tcpConn{conn: c, br: bufio.NewReaderSize(c, 4096), writeTimeout: writeTimeout}
}

func (c *tcpConn) Available() (int, error) {
	if n := c.br.Buffered(); n > 0 {
		return n, nil
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(availableProbe))
	_, err := c.br.Peek(1)
	_ = c.conn.SetReadDeadline(time.Time{})
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, nil
		}
		return 0, err
	}
	return c.br.Buffered(), nil
}

func (c *tcpConn) Read(p []byte) (int, error) {
	return c.br.Read(p)
}

func (c *tcpConn) Write(p []byte) (int, error) {
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.Write(p)
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}
