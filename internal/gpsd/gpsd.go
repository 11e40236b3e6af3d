// Package gpsd reads rover fixes from a local gpsd daemon. It is an
// alternative position source for setups where the receiver is shared with
// other tools through gpsd.
package gpsd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"rtkbridge/internal/nmea"
)

const DefaultAddr = "127.0.0.1:2947"

// watchCommand enables JSON reports in SI units.
const watchCommand = "?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"

type Config struct {
	Addr        string
	DialTimeout time.Duration
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

type Snapshot struct {
	Addr       string   `json:"addr"`
	Connected  bool     `json:"connected"`
	Valid      bool     `json:"valid"`
	FixMode    int      `json:"fix_mode"`
	LatDeg     float64  `json:"lat_deg"`
	LonDeg     float64  `json:"lon_deg"`
	AltM       *float64 `json:"alt_m,omitempty"`
	Satellites *int     `json:"satellites,omitempty"`
	HDOP       *float64 `json:"hdop,omitempty"`
	LastFixUTC string   `json:"last_fix_utc,omitempty"`
	LastError  string   `json:"last_error,omitempty"`
}

type Source struct {
	cfg Config

	mu   sync.Mutex
	st   state
	conn bool
	err  string
}

func New(cfg Config) *Source {
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 250 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 10 * time.Second
	}
	return &Source{cfg: cfg}
}

// Run connects to gpsd and calls onFix for every TPV report that carries a
// 2D or 3D fix. Lost connections are retried with exponential backoff until
// ctx is cancelled. Cancellation is not an error.
func (s *Source) Run(ctx context.Context, onFix func(at time.Time, fix nmea.Fix)) error {
	if s == nil {
		return fmt.Errorf("gpsd source is nil")
	}
	if onFix == nil {
		return fmt.Errorf("gpsd onFix is nil")
	}
	log.Printf("gpsd position source addr=%s", s.cfg.Addr)

	backoff := s.cfg.MinBackoff
	for ctx.Err() == nil {
		d := &net.Dialer{Timeout: s.cfg.DialTimeout}
		conn, err := d.DialContext(ctx, "tcp", s.cfg.Addr)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.setError(fmt.Sprintf("gpsd dial failed addr=%s: %v", s.cfg.Addr, err))
			if !sleepCtx(ctx, backoff) {
				break
			}
			if backoff *= 2; backoff > s.cfg.MaxBackoff {
				backoff = s.cfg.MaxBackoff
			}
			continue
		}
		backoff = s.cfg.MinBackoff

		err = s.session(ctx, conn, onFix)
		if ctx.Err() != nil {
			break
		}
		s.setError(fmt.Sprintf("gpsd read stopped: %v", err))
		if !sleepCtx(ctx, backoff) {
			break
		}
	}
	return nil
}

func (s *Source) session(ctx context.Context, conn net.Conn, onFix func(time.Time, nmea.Fix)) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()
	defer conn.Close()

	if _, err := io.WriteString(conn, watchCommand); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	s.mu.Lock()
	s.conn = true
	s.err = ""
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = false
		s.mu.Unlock()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		now := time.Now().UTC()
		s.mu.Lock()
		fixed, err := s.st.applyLine(now, line)
		var fix nmea.Fix
		at := s.st.lastFix
		if err != nil {
			s.err = err.Error()
		} else if fixed {
			fix = s.st.fix()
		}
		s.mu.Unlock()
		if fixed {
			onFix(at, fix)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (s *Source) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.st.snapshot()
	out.Addr = s.cfg.Addr
	out.Connected = s.conn
	out.LastError = s.err
	return out
}

func (s *Source) setError(msg string) {
	s.mu.Lock()
	if msg != s.err {
		log.Printf("%s", msg)
	}
	s.err = msg
	s.mu.Unlock()
}

type tpvReport struct {
	Mode   *int     `json:"mode"`
	Time   string   `json:"time"`
	Lat    *float64 `json:"lat"`
	Lon    *float64 `json:"lon"`
	Alt    *float64 `json:"alt"`
	AltMSL *float64 `json:"altMSL"`
	Status *int     `json:"status"`
}

type skyReport struct {
	HDOP       *float64 `json:"hdop"`
	USat       *int     `json:"uSat"`
	Satellites []struct {
		Used bool `json:"used"`
	} `json:"satellites"`
}

// state accumulates TPV and SKY reports into the latest fix.
type state struct {
	mode    int
	latDeg  float64
	lonDeg  float64
	posOK   bool
	altM    *float64
	status  int
	sats    *int
	hdop    *float64
	lastFix time.Time
}

// applyLine folds one gpsd JSON report into the state and reports whether it
// produced a new usable fix.
func (st *state) applyLine(nowUTC time.Time, line string) (bool, error) {
	var base struct {
		Class string `json:"class"`
	}
	if err := json.Unmarshal([]byte(line), &base); err != nil {
		return false, fmt.Errorf("gpsd json parse failed: %v", err)
	}

	switch strings.ToUpper(strings.TrimSpace(base.Class)) {
	case "TPV":
		var tpv tpvReport
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			return false, fmt.Errorf("gpsd tpv parse failed: %v", err)
		}
		return st.applyTPV(nowUTC, tpv), nil
	case "SKY":
		var sky skyReport
		if err := json.Unmarshal([]byte(line), &sky); err != nil {
			return false, fmt.Errorf("gpsd sky parse failed: %v", err)
		}
		st.applySKY(sky)
		return false, nil
	default:
		// VERSION, DEVICES, WATCH and friends.
		return false, nil
	}
}

func (st *state) applyTPV(nowUTC time.Time, tpv tpvReport) bool {
	if tpv.Mode != nil {
		st.mode = *tpv.Mode
	}
	if tpv.Status != nil {
		st.status = *tpv.Status
	} else {
		st.status = 0
	}
	if tpv.Lat != nil && tpv.Lon != nil {
		st.latDeg = *tpv.Lat
		st.lonDeg = *tpv.Lon
		st.posOK = true
	}
	alt := tpv.AltMSL
	if alt == nil {
		alt = tpv.Alt
	}
	if alt != nil {
		v := *alt
		st.altM = &v
	}
	if st.mode < 2 || !st.posOK {
		return false
	}
	st.lastFix = nowUTC
	if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(tpv.Time)); err == nil {
		st.lastFix = t.UTC()
	}
	return true
}

func (st *state) applySKY(sky skyReport) {
	if sky.HDOP != nil {
		v := *sky.HDOP
		st.hdop = &v
	}
	switch {
	case sky.USat != nil:
		v := *sky.USat
		st.sats = &v
	case len(sky.Satellites) > 0:
		used := 0
		for _, sat := range sky.Satellites {
			if sat.Used {
				used++
			}
		}
		st.sats = &used
	}
}

// quality maps gpsd's TPV status onto the GGA fix quality indicator.
func (st *state) quality() int {
	switch st.status {
	case 2:
		return 2 // DGPS
	case 3:
		return 4 // RTK fixed
	case 4:
		return 5 // RTK float
	case 6:
		return 6 // dead reckoning
	default:
		return 1
	}
}

func (st *state) fix() nmea.Fix {
	return nmea.Fix{
		UTCTime:    st.lastFix.Format("150405.00"),
		LatDeg:     st.latDeg,
		LonDeg:     st.lonDeg,
		AltM:       st.altM,
		Quality:    st.quality(),
		Satellites: st.sats,
		HDOP:       st.hdop,
	}
}

func (st *state) snapshot() Snapshot {
	out := Snapshot{
		Valid:      st.mode >= 2 && st.posOK,
		FixMode:    st.mode,
		LatDeg:     st.latDeg,
		LonDeg:     st.lonDeg,
		AltM:       st.altM,
		Satellites: st.sats,
		HDOP:       st.hdop,
	}
	if !st.lastFix.IsZero() {
		out.LastFixUTC = st.lastFix.Format(time.RFC3339Nano)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
