// Package receiver is the command channel to a GNSS receiver. It sends the
// configuration commands that make the receiver emit GGA and accept RTCM3 on
// the same port, reads NMEA lines back, and writes correction bytes to it.
package receiver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// CommandTerminator ends every command sent to the receiver.
const CommandTerminator = "\n\r"

// DefaultInitCommands put a Topcon/Javad receiver into the mode the relay
// needs: command input on the NTRIP port, GGA at 20 Hz on the current
// terminal, and RTCM3 accepted as input on the current terminal.
var DefaultInitCommands = []string{
	"set,/par/dev/ntrip/a/imode,cmd",
	"print,/par/dev/ntrip/a/imode",
	"list,/dev",
	"em,/cur/term,/msg/nmea/GGA:.05",
	"set,/par/cur/term/imode,rtcm3",
}

var openSerialFn = openSerial

type Config struct {
	// Source is "serial" (default) or "tcp".
	Source string

	// Device and Baud apply to Source=="serial".
	Device string
	Baud   int

	// Addr is host:port for Source=="tcp", e.g. a serial-to-TCP bridge.
	Addr        string
	DialTimeout time.Duration

	// ModeReset is written verbatim before the init commands. Empty by default.
	ModeReset    string
	InitCommands []string

	// MaxLineBytes bounds a single NMEA line. Defaults to 4 KiB.
	MaxLineBytes int
}

type Snapshot struct {
	Source       string `json:"source"`
	Device       string `json:"device,omitempty"`
	Baud         int    `json:"baud,omitempty"`
	Addr         string `json:"addr,omitempty"`
	State        string `json:"state"`
	LastError    string `json:"last_error,omitempty"`
	Lines        uint64 `json:"lines"`
	BytesWritten uint64 `json:"bytes_written"`
	LastLineUTC  string `json:"last_line_utc,omitempty"`
}

type Device struct {
	cfg Config

	mu       sync.RWMutex
	state    string
	lastErr  string
	lastLine time.Time

	// wmu serializes writes so command text and correction chunks never
	// interleave.
	wmu sync.Mutex
	rw  io.ReadWriteCloser

	closed       atomic.Bool
	lines        atomic.Uint64
	bytesWritten atomic.Uint64
}

func New(cfg Config) (*Device, error) {
	cfg.Source = strings.ToLower(strings.TrimSpace(cfg.Source))
	if cfg.Source == "" {
		cfg.Source = "serial"
	}
	switch cfg.Source {
	case "serial":
		if strings.TrimSpace(cfg.Device) == "" {
			return nil, fmt.Errorf("receiver device is required")
		}
		if cfg.Baud == 0 {
			cfg.Baud = 115200
		}
	case "tcp":
		if strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("receiver addr is required")
		}
	default:
		return nil, fmt.Errorf("receiver source %q not supported", cfg.Source)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.InitCommands == nil {
		cfg.InitCommands = DefaultInitCommands
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 4096
	}
	return &Device{cfg: cfg, state: "closed"}, nil
}

// Open connects to the receiver and sends the mode reset and init commands.
func (d *Device) Open(ctx context.Context) error {
	if d == nil {
		return fmt.Errorf("receiver is nil")
	}
	d.setState("opening", "")

	var rw io.ReadWriteCloser
	switch d.cfg.Source {
	case "tcp":
		dialer := &net.Dialer{Timeout: d.cfg.DialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", d.cfg.Addr)
		if err != nil {
			d.setState("error", fmt.Sprintf("receiver dial failed addr=%s: %v", d.cfg.Addr, err))
			return err
		}
		rw = conn
		log.Printf("receiver connected addr=%s", d.cfg.Addr)
	default:
		f, err := openSerialFn(d.cfg.Device, d.cfg.Baud)
		if err != nil {
			d.setState("error", fmt.Sprintf("receiver open failed device=%s baud=%d: %v", d.cfg.Device, d.cfg.Baud, err))
			return err
		}
		rw = f
		log.Printf("receiver opened device=%s baud=%d", d.cfg.Device, d.cfg.Baud)
	}

	d.wmu.Lock()
	d.rw = rw
	d.wmu.Unlock()
	d.closed.Store(false)

	if err := d.sendCommands(); err != nil {
		_ = d.Close()
		d.setState("error", fmt.Sprintf("receiver init failed: %v", err))
		return err
	}
	d.setState("open", "")
	return nil
}

func (d *Device) sendCommands() error {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	if d.cfg.ModeReset != "" {
		if _, err := io.WriteString(d.rw, d.cfg.ModeReset); err != nil {
			return fmt.Errorf("mode reset: %w", err)
		}
	}
	for _, cmd := range d.cfg.InitCommands {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		if _, err := io.WriteString(d.rw, cmd+CommandTerminator); err != nil {
			return fmt.Errorf("command %q: %w", cmd, err)
		}
	}
	return nil
}

// Run reads lines from the receiver until ctx is cancelled or the device
// fails. onLine gets every non-empty, trimmed line and should return quickly.
// Cancellation closes the device and is not reported as an error.
func (d *Device) Run(ctx context.Context, onLine func(line string)) error {
	if d == nil {
		return fmt.Errorf("receiver is nil")
	}
	if onLine == nil {
		return fmt.Errorf("receiver onLine is nil")
	}
	d.wmu.Lock()
	rw := d.rw
	d.wmu.Unlock()
	if rw == nil {
		return fmt.Errorf("receiver is not open")
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// Unblock the pending read.
			_ = d.Close()
		case <-stop:
		}
	}()

	scanner := bufio.NewScanner(rw)
	scanner.Buffer(make([]byte, 0, 256), d.cfg.MaxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		d.lines.Add(1)
		d.mu.Lock()
		d.lastLine = time.Now().UTC()
		d.mu.Unlock()
		onLine(line)
	}

	if ctx.Err() != nil || d.closed.Load() {
		d.setState("closed", "")
		return nil
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	d.setState("error", fmt.Sprintf("receiver read stopped: %v", err))
	return fmt.Errorf("receiver read stopped: %w", err)
}

// Write pushes correction bytes to the receiver.
func (d *Device) Write(p []byte) (int, error) {
	if d == nil {
		return 0, fmt.Errorf("receiver is nil")
	}
	d.wmu.Lock()
	defer d.wmu.Unlock()
	if d.rw == nil {
		return 0, fmt.Errorf("receiver is not open")
	}
	n, err := d.rw.Write(p)
	if n > 0 {
		d.bytesWritten.Add(uint64(n))
	}
	if err != nil {
		d.setState("error", fmt.Sprintf("receiver write failed: %v", err))
	}
	return n, err
}

// Close closes the device. Safe to call more than once.
func (d *Device) Close() error {
	if d == nil {
		return nil
	}
	if d.closed.Swap(true) {
		return nil
	}
	d.wmu.Lock()
	rw := d.rw
	d.wmu.Unlock()
	d.setState("closed", "")
	if rw == nil {
		return nil
	}
	return rw.Close()
}

func (d *Device) Snapshot() Snapshot {
	if d == nil {
		return Snapshot{}
	}
	d.mu.RLock()
	out := Snapshot{
		Source:    d.cfg.Source,
		State:     d.state,
		LastError: d.lastErr,
	}
	lastLine := d.lastLine
	d.mu.RUnlock()

	if d.cfg.Source == "tcp" {
		out.Addr = d.cfg.Addr
	} else {
		out.Device = d.cfg.Device
		out.Baud = d.cfg.Baud
	}
	out.Lines = d.lines.Load()
	out.BytesWritten = d.bytesWritten.Load()
	if !lastLine.IsZero() {
		out.LastLineUTC = lastLine.Format(time.RFC3339Nano)
	}
	return out
}

func (d *Device) setState(state string, lastErr string) {
	d.mu.Lock()
	d.state = state
	if lastErr != "" {
		d.lastErr = lastErr
	} else if state == "open" {
		d.lastErr = ""
	}
	d.mu.Unlock()
}
