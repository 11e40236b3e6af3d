package ntrip

import (
	"context"
	"fmt"
	"log"
	"time"
)

// worker is one connection's streaming goroutine. gen ties it to the client
// state it may write: once Stop or a newer worker bumps the client's
// generation, everything this worker reports is dropped.
type worker struct {
	c       *Client
	conn    Conn
	gen     uint64
	session string
	buf     []byte
}

func (w *worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	if !w.awaitReply(ctx) {
		return
	}
	w.stream(ctx)
}

// awaitReply polls for the caster's first reply and classifies it. It returns
// true once streaming may begin.
func (w *worker) awaitReply(ctx context.Context) bool {
	w.setState(StateHandshaking)
	for {
		if ctx.Err() != nil {
			w.stopped()
			return false
		}

		n, err := w.conn.Available()
		if err == nil && n > 0 {
			if n > len(w.buf) {
				n = len(w.buf)
			}
			n, err = w.conn.Read(w.buf[:n])
		}
		if err != nil {
			w.ioFailure(ctx, fmt.Errorf("failed to get response: %w", err))
			return false
		}
		if n == 0 {
			if !sleepCtx(ctx, w.c.cfg.PollDelay) {
				w.stopped()
				return false
			}
			continue
		}
		if ctx.Err() != nil {
			w.stopped()
			return false
		}

		reply := ClassifyReply(w.buf[:n])
		switch reply {
		case ReplyOK:
			w.setState(StateStreaming)
			log.Printf("ntrip streaming addr=%s mount=%s session=%s", w.c.addr, w.c.cfg.Mount, w.session)
			if rest := replyBody(w.buf[:n]); len(rest) > 0 && !w.relay(ctx, rest) {
				w.stopped()
				return false
			}
			return true
		case ReplyUnauthorized:
			w.fail(StatusUnauthorized, ErrUnauthorized)
		case ReplySourceTable:
			w.fail(StatusRejected, ErrInvalidMount)
		case ReplyUnexpected:
			w.fail(StatusRejected, ErrUnexpectedReply)
		}
		return false
	}
}

// stream interleaves position reports with draining the correction stream
// until cancelled or the transport fails.
func (w *worker) stream(ctx context.Context) {
	c := w.c
	countdown := 0
	for {
		if ctx.Err() != nil {
			w.stopped()
			return
		}

		if countdown <= 0 {
			if err := c.sendPosition(w.conn, c.latestPosition()); err != nil {
				w.ioFailure(ctx, fmt.Errorf("response loop failed: %w", err))
				return
			}
			countdown = c.cfg.ReportTicks
		}
		countdown--

		for ctx.Err() == nil {
			n, err := w.conn.Available()
			if err == nil && n == 0 {
				break
			}
			if err == nil {
				if n > len(w.buf) {
					n = len(w.buf)
				}
				n, err = w.conn.Read(w.buf[:n])
			}
			if err != nil {
				w.ioFailure(ctx, fmt.Errorf("response loop failed: %w", err))
				return
			}
			if n > 0 && !w.relay(ctx, w.buf[:n]) {
				w.stopped()
				return
			}
		}

		if !sleepCtx(ctx, c.cfg.PollDelay) {
			w.stopped()
			return
		}
	}
}

// relay hands chunk to the sink and only then counts it. It reports false
// when the worker was stopped before or during delivery; a chunk delivered
// by a stopped worker is not counted.
func (w *worker) relay(ctx context.Context, chunk []byte) bool {
	if ctx.Err() != nil || !w.current() {
		return false
	}
	w.c.cfg.Sink(chunk)

	c := w.c
	now := time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil || w.gen != c.gen {
		return false
	}
	c.bytesRelayed.Add(uint64(len(chunk)))
	c.lastData = now
	return true
}

// ioFailure records a transport error unless the worker is being stopped, in
// which case the error is the result of Stop closing the connection.
func (w *worker) ioFailure(ctx context.Context, err error) {
	if ctx.Err() != nil {
		w.stopped()
		return
	}
	w.fail(StatusIOError, err)
}

func (w *worker) fail(status Status, err error) {
	c := w.c
	c.mu.Lock()
	first := false
	if w.gen == c.gen {
		first = c.failLocked(w.conn, status, err)
	}
	c.mu.Unlock()

	_ = w.conn.Close()
	if first {
		log.Printf("ntrip error addr=%s mount=%s session=%s status=%d: %v", c.addr, c.cfg.Mount, w.session, status, err)
	}
}

// stopped only logs; Stop has already recorded the state.
func (w *worker) stopped() {
	log.Printf("ntrip worker stopped addr=%s mount=%s session=%s", w.c.addr, w.c.cfg.Mount, w.session)
}

func (w *worker) setState(state string) {
	c := w.c
	c.mu.Lock()
	if w.gen == c.gen && c.status == StatusOK {
		c.state = state
	}
	c.mu.Unlock()
}

func (w *worker) current() bool {
	c := w.c
	c.mu.Lock()
	defer c.mu.Unlock()
	return w.gen == c.gen
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
