// Package ntrip implements an NTRIP v1 correction client. A Client connects
// lazily on the first position update, authenticates against one mount point
// and then relays the caster's correction stream to a sink while periodically
// reporting the rover position back on the same socket.
package ntrip

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"rtkbridge/internal/nmea"
)

type Config struct {
	Host     string
	Port     int
	Mount    string
	Username string
	Password string

	// UserAgent defaults to DefaultUserAgent.
	UserAgent string

	// Sink receives every correction chunk, in order, on the worker
	// goroutine. The slice is only valid for the duration of the call.
	Sink func(chunk []byte)

	// PollDelay is the sleep between polls when nothing is available.
	PollDelay time.Duration
	// ReportTicks is the number of loop iterations between position reports.
	ReportTicks int
	// ChunkSize bounds a single read.
	ChunkSize int
	// StopTimeout bounds how long Stop waits for the worker.
	StopTimeout time.Duration

	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// Dial overrides the transport. Defaults to TCPDialer.
	Dial Dialer
}

// Client is the session supervisor. All methods are safe for concurrent use.
type Client struct {
	cfg  Config
	addr string

	// setupMu serializes connection setup done by UpdatePosition against
	// Stop and Reset.
	setupMu sync.Mutex

	mu          sync.Mutex
	conn        Conn
	status      Status
	lastErr     error
	latest      string
	state       string
	sessionID   string
	connectedAt time.Time
	lastData    time.Time
	cancel      context.CancelFunc
	done        chan struct{}
	// gen is bumped by startWorker and Stop. A worker only writes client
	// state while its generation is current.
	gen uint64

	bytesRelayed  atomic.Uint64
	positionsSent atomic.Uint64
}

func New(cfg Config) (*Client, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.Mount = strings.TrimPrefix(strings.TrimSpace(cfg.Mount), "/")
	if cfg.Host == "" {
		return nil, fmt.Errorf("ntrip host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("ntrip port %d out of range", cfg.Port)
	}
	if cfg.Mount == "" {
		return nil, fmt.Errorf("ntrip mount point is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("ntrip sink is nil")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.PollDelay <= 0 {
		cfg.PollDelay = 500 * time.Millisecond
	}
	if cfg.ReportTicks <= 0 {
		cfg.ReportTicks = 30
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1024
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 1 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Dial == nil {
		cfg.Dial = TCPDialer(cfg.DialTimeout, cfg.WriteTimeout)
	}

	return &Client{
		cfg:   cfg,
		addr:  net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		state: StateIdle,
	}, nil
}

// UpdatePosition records sentence as the latest rover position.
//
// The first call on a healthy client connects, sends the request and the
// sentence, and starts the worker; setup errors are returned here. Later
// calls only replace the cached sentence, which the worker sends on its next
// report tick. Once Status is non-zero the call does no I/O and returns an
// error wrapping ErrSessionDead.
func (c *Client) UpdatePosition(ctx context.Context, sentence string) error {
	if c == nil {
		return fmt.Errorf("ntrip client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.setupMu.Lock()
	defer c.setupMu.Unlock()

	c.mu.Lock()
	c.latest = sentence
	status := c.status
	lastErr := c.lastErr
	conn := c.conn
	c.mu.Unlock()

	if status != StatusOK {
		return fmt.Errorf("%w: %v", ErrSessionDead, lastErr)
	}
	if conn != nil {
		return nil
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	if err := c.sendPosition(conn, sentence); err != nil {
		err = fmt.Errorf("failed to send position: %w", err)
		c.fail(conn, StatusIOError, err)
		return err
	}
	c.startWorker(conn)
	return nil
}

// UpdatePositionLLA synthesizes a GGA sentence and forwards it to
// UpdatePosition. Latitude, longitude and altitude are taken from the caller
// rather than being a fixed placeholder; passing nmea.DefaultSyntheticLat,
// DefaultSyntheticLon and DefaultSyntheticAlt reproduces the fixed
// placeholder payload. Quality, satellites and the remaining fields are
// always placeholders, so the sentence never describes a real fix.
func (c *Client) UpdatePositionLLA(ctx context.Context, latDeg, lonDeg, altM float64) error {
	return c.UpdatePosition(ctx, nmea.SyntheticGGA(time.Now(), latDeg, lonDeg, altM))
}

// connect opens the caster connection and writes the request.
func (c *Client) connect(ctx context.Context) (Conn, error) {
	sessionID := uuid.NewString()
	c.mu.Lock()
	c.state = StateConnecting
	c.sessionID = sessionID
	c.mu.Unlock()

	log.Printf("ntrip connecting addr=%s mount=%s session=%s", c.addr, c.cfg.Mount, sessionID)

	conn, err := c.cfg.Dial(ctx, c.addr)
	if err != nil {
		err = fmt.Errorf("failed to set up request: %w", err)
		c.fail(nil, StatusSetupFailed, err)
		return nil, err
	}

	req := buildRequest(c.cfg.Mount, c.cfg.UserAgent, c.cfg.Username, c.cfg.Password)
	if _, err := conn.Write(req); err != nil {
		_ = conn.Close()
		err = fmt.Errorf("failed to set up request: %w", err)
		c.fail(nil, StatusSetupFailed, err)
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.connectedAt = time.Now().UTC()
	c.mu.Unlock()
	return conn, nil
}

func (c *Client) startWorker(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		select {
		case <-c.done:
		default:
			// Worker alive.
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.gen++
	c.cancel = cancel
	c.done = done
	w := &worker{
		c:       c,
		conn:    conn,
		gen:     c.gen,
		session: c.sessionID,
		buf:     make([]byte, c.cfg.ChunkSize),
	}
	go w.run(ctx, done)
}

// Stop cancels the worker and closes the connection. It waits at most
// StopTimeout for the worker to exit; after that the connection is closed
// underneath it and the goroutine is abandoned, which may drop an in-flight
// write. Stop is idempotent.
func (c *Client) Stop() {
	if c == nil {
		return
	}
	c.setupMu.Lock()
	defer c.setupMu.Unlock()
	c.stop()
}

func (c *Client) stop() {
	c.mu.Lock()
	c.gen++
	cancel := c.cancel
	done := c.done
	conn := c.conn
	c.cancel = nil
	c.done = nil
	c.conn = nil
	if c.status == StatusOK && c.state != StateIdle {
		c.state = StateStopped
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		t := time.NewTimer(c.cfg.StopTimeout)
		select {
		case <-done:
		case <-t.C:
			log.Printf("ntrip worker did not stop within %s; abandoning it", c.cfg.StopTimeout)
		}
		t.Stop()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// Reset stops the client and clears a terminal status so the next
// UpdatePosition reconnects.
func (c *Client) Reset() {
	if c == nil {
		return
	}
	c.setupMu.Lock()
	defer c.setupMu.Unlock()
	c.stop()
	c.mu.Lock()
	c.status = StatusOK
	c.lastErr = nil
	c.state = StateIdle
	c.mu.Unlock()
	log.Printf("ntrip client reset addr=%s mount=%s", c.addr, c.cfg.Mount)
}

func (c *Client) Status() Status {
	if c == nil {
		return StatusOK
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastError describes why Status is non-zero. Empty while healthy.
func (c *Client) LastError() string {
	if err := c.Err(); err != nil {
		return err.Error()
	}
	return ""
}

// Err returns the terminal error, or nil while healthy.
func (c *Client) Err() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Client) BytesRelayed() uint64 {
	if c == nil {
		return 0
	}
	return c.bytesRelayed.Load()
}

func (c *Client) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	out := Snapshot{
		SessionID:      c.sessionID,
		Addr:           c.addr,
		Mount:          c.cfg.Mount,
		State:          c.state,
		Status:         c.status,
		StatusText:     c.status.String(),
		LatestPosition: c.latest,
	}
	if c.lastErr != nil {
		out.LastError = c.lastErr.Error()
	}
	if !c.connectedAt.IsZero() {
		out.ConnectedUTC = c.connectedAt.Format(time.RFC3339Nano)
	}
	if !c.lastData.IsZero() {
		out.LastDataUTC = c.lastData.Format(time.RFC3339Nano)
	}
	c.mu.Unlock()

	out.BytesRelayed = c.bytesRelayed.Load()
	out.PositionsSent = c.positionsSent.Load()
	return out
}

// fail records a terminal status. The first failure wins. conn, when not nil,
// is closed and detached from the client.
func (c *Client) fail(conn Conn, status Status, err error) {
	c.mu.Lock()
	first := c.failLocked(conn, status, err)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if first {
		log.Printf("ntrip error addr=%s mount=%s status=%d: %v", c.addr, c.cfg.Mount, status, err)
	}
}

// failLocked records a terminal status and reports whether it was the first.
// c.mu must be held.
func (c *Client) failLocked(conn Conn, status Status, err error) bool {
	first := c.status == StatusOK
	if first {
		c.status = status
		c.lastErr = err
		c.state = StateTerminated
	}
	if conn != nil && c.conn == conn {
		c.conn = nil
	}
	return first
}

func (c *Client) latestPosition() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

func (c *Client) sendPosition(conn Conn, sentence string) error {
	if sentence == "" {
		return nil
	}
	if _, err := conn.Write([]byte(sentence + "\r\n")); err != nil {
		return err
	}
	c.positionsSent.Add(1)
	return nil
}

// workerRunning reports whether a worker goroutine is alive.
func (c *Client) workerRunning() bool {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}
