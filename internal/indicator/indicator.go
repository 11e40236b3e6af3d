// Package indicator drives a status LED from the relay state: solid while
// corrections stream, blinking once the session has failed, dark otherwise.
package indicator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

type line interface {
	SetValue(v int) error
	Close() error
}

var openLineFn = openLine

type Mode int

const (
	Off Mode = iota
	On
	Blink
)

func (m Mode) String() string {
	switch m {
	case On:
		return "on"
	case Blink:
		return "blink"
	default:
		return "off"
	}
}

type Config struct {
	Enable bool
	// Pin is BCM GPIO numbering.
	Pin int
	// Interval is the poll period and the blink half-period.
	Interval time.Duration
}

type Snapshot struct {
	Enabled   bool   `json:"enabled"`
	Pin       int    `json:"pin,omitempty"`
	Mode      string `json:"mode"`
	Lit       bool   `json:"lit"`
	LastError string `json:"last_error,omitempty"`
}

type Indicator struct {
	cfg  Config
	mode func() Mode

	mu   sync.RWMutex
	snap Snapshot
}

// New returns an indicator that asks mode for the desired state on every
// tick.
func New(cfg Config, mode func() Mode) *Indicator {
	if cfg.Pin == 0 {
		cfg.Pin = 17
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	return &Indicator{
		cfg:  cfg,
		mode: mode,
		snap: Snapshot{Enabled: cfg.Enable, Pin: cfg.Pin, Mode: Off.String()},
	}
}

// Run drives the LED until ctx is cancelled. The LED is switched off on exit.
func (ind *Indicator) Run(ctx context.Context) error {
	if ind == nil || !ind.cfg.Enable {
		return nil
	}
	if ind.mode == nil {
		return fmt.Errorf("indicator: mode func is nil")
	}
	l, err := openLineFn(ind.cfg.Pin)
	if err != nil {
		ind.setError(err)
		return err
	}
	defer func() {
		_ = l.SetValue(0)
		_ = l.Close()
	}()
	log.Printf("indicator started pin=%d interval=%s", ind.cfg.Pin, ind.cfg.Interval)

	t := time.NewTicker(ind.cfg.Interval)
	defer t.Stop()

	lit := false
	for {
		m := ind.mode()
		want := false
		switch m {
		case On:
			want = true
		case Blink:
			want = !lit
		}
		if err := l.SetValue(boolToValue(want)); err != nil {
			ind.setError(err)
		} else {
			lit = want
			ind.mu.Lock()
			ind.snap.Mode = m.String()
			ind.snap.Lit = lit
			ind.snap.LastError = ""
			ind.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (ind *Indicator) Snapshot() Snapshot {
	if ind == nil {
		return Snapshot{}
	}
	ind.mu.RLock()
	defer ind.mu.RUnlock()
	return ind.snap
}

func (ind *Indicator) setError(err error) {
	ind.mu.Lock()
	ind.snap.LastError = err.Error()
	ind.mu.Unlock()
}

func boolToValue(b bool) int {
	if b {
		return 1
	}
	return 0
}
