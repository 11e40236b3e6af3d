// Package udp republishes correction bytes to local UDP listeners so other
// rovers or logging tools on the LAN can share one caster session.
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

type udpConn interface {
	Write([]byte) (int, error)
	Close() error
}

type (
	resolveFunc func(network, address string) (*net.UDPAddr, error)
	dialFunc    func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)
)

type Fanout struct {
	mu    sync.Mutex
	dests []string
	conns []udpConn

	datagrams atomic.Uint64
	sendErrs  atomic.Uint64
}

// NewFanout dials every destination up front. An empty list yields a Fanout
// whose Send is a no-op.
func NewFanout(dests []string) (*Fanout, error) {
	return newFanout(dests, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		// DialUDP selects a suitable local address automatically.
		return net.DialUDP(network, laddr, raddr)
	})
}

func newFanout(dests []string, resolve resolveFunc, dial dialFunc) (*Fanout, error) {
	f := &Fanout{}
	for _, dest := range dests {
		addr, err := resolve("udp", dest)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("resolve dest %q: %w", dest, err)
		}
		conn, err := dial("udp", nil, addr)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("dial udp %q: %w", dest, err)
		}
		f.dests = append(f.dests, dest)
		f.conns = append(f.conns, conn)
	}
	return f, nil
}

// Send writes payload as one datagram to each destination. A failing
// destination does not stop delivery to the others; all errors are joined.
func (f *Fanout) Send(payload []byte) error {
	if f == nil || len(payload) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for i, conn := range f.conns {
		if _, err := conn.Write(payload); err != nil {
			f.sendErrs.Add(1)
			errs = append(errs, fmt.Errorf("udp send %s: %w", f.dests[i], err))
			continue
		}
		f.datagrams.Add(1)
	}
	return errors.Join(errs...)
}

func (f *Fanout) Dests() []string {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dests...)
}

// Stats returns datagrams sent and send errors.
func (f *Fanout) Stats() (datagrams, errs uint64) {
	if f == nil {
		return 0, 0
	}
	return f.datagrams.Load(), f.sendErrs.Load()
}

func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for _, conn := range f.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	f.conns = nil
	f.dests = nil
	return errors.Join(errs...)
}
