package ntrip

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
)

// fakeConn replays scripted inbound chunks. An empty chunk means "nothing
// available" for exactly one Available call.
type fakeConn struct {
	mu       sync.Mutex
	inbound  [][]byte
	writes   []string
	reads    int
	avails   int
	closed   bool
	eof      bool
	writeErr error
}

func newFakeConn(chunks ...[]byte) *fakeConn {
	return &fakeConn{inbound: chunks}
}

func (c *fakeConn) push(chunks ...[]byte) {
	c.mu.Lock()
	c.inbound = append(c.inbound, chunks...)
	c.mu.Unlock()
}

func (c *fakeConn) setEOF() {
	c.mu.Lock()
	c.eof = true
	c.mu.Unlock()
}

func (c *fakeConn) Available() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.avails++
	if c.closed {
		return 0, net.ErrClosed
	}
	if len(c.inbound) == 0 {
		if c.eof {
			return 0, io.EOF
		}
		return 0, nil
	}
	if len(c.inbound[0]) == 0 {
		c.inbound = c.inbound[1:]
		return 0, nil
	}
	return len(c.inbound[0]), nil
}

func (c *fakeConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.closed {
		return 0, net.ErrClosed
	}
	if len(c.inbound) == 0 {
		return 0, nil
	}
	n := copy(p, c.inbound[0])
	c.inbound[0] = c.inbound[0][n:]
	if len(c.inbound[0]) == 0 {
		c.inbound = c.inbound[1:]
	}
	return n, nil
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes = append(c.writes, string(p))
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) counts() (reads, writes, avails int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads, len(c.writes), c.avails
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer hands out conns in order and counts dials.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	dials int
	addrs []string
}

func (d *fakeDialer) dial(ctx context.Context, addr string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.addrs = append(d.addrs, addr)
	if d.err != nil {
		return nil, d.err
	}
	if len(d.conns) == 0 {
		return nil, errors.New("no more fake conns")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// chunkRecorder collects sink calls.
type chunkRecorder struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (r *chunkRecorder) sink(b []byte) {
	r.mu.Lock()
	r.chunks = append(r.chunks, append([]byte(nil), b...))
	r.mu.Unlock()
}

func (r *chunkRecorder) lengths() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.chunks))
	for _, c := range r.chunks {
		out = append(out, len(c))
	}
	return out
}

func (r *chunkRecorder) joined() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []byte
	for _, c := range r.chunks {
		out = append(out, c...)
	}
	return out
}
