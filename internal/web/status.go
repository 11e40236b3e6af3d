package web

import (
	"sync/atomic"
	"time"

	"rtkbridge/internal/gpsd"
	"rtkbridge/internal/indicator"
	"rtkbridge/internal/nmea"
	"rtkbridge/internal/ntrip"
	"rtkbridge/internal/receiver"
)

// Sources are read on every status request. Any of them may be nil.
type Sources struct {
	NTRIP     func() ntrip.Snapshot
	Receiver  func() receiver.Snapshot
	Indicator func() indicator.Snapshot
	GPSD      func() gpsd.Snapshot
	// Fanout returns the UDP destinations, datagrams sent and send errors.
	Fanout func() (dests []string, datagrams, errs uint64)
}

type Status struct {
	startUnixNano int64
	src           Sources
	mode          atomic.Value // string
	fix           atomic.Value // fixRecord
}

type fixRecord struct {
	fix nmea.Fix
	at  time.Time
}

func NewStatus(src Sources) *Status {
	s := &Status{src: src}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.mode.Store("")
	s.fix.Store(fixRecord{})
	return s
}

// SetMode records where positions come from: receiver, gpsd or synthetic.
func (s *Status) SetMode(mode string) {
	if mode != "" {
		s.mode.Store(mode)
	}
}

// SetFix records the most recent decoded rover fix.
func (s *Status) SetFix(nowUTC time.Time, fix nmea.Fix) {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	s.fix.Store(fixRecord{fix: fix, at: nowUTC.UTC()})
}

type FanoutSnapshot struct {
	Dests     []string `json:"dests"`
	Datagrams uint64   `json:"datagrams_total"`
	Errors    uint64   `json:"errors_total"`
}

type StatusSnapshot struct {
	Service   string              `json:"service"`
	NowUTC    string              `json:"now_utc"`
	UptimeSec int64               `json:"uptime_sec"`
	Mode      string              `json:"mode"`
	NTRIP     *ntrip.Snapshot     `json:"ntrip,omitempty"`
	Receiver  *receiver.Snapshot  `json:"receiver,omitempty"`
	GPSD      *gpsd.Snapshot      `json:"gpsd,omitempty"`
	Fix       *nmea.Fix           `json:"fix,omitempty"`
	FixUTC    string              `json:"fix_utc,omitempty"`
	Fanout    *FanoutSnapshot     `json:"fanout,omitempty"`
	Indicator *indicator.Snapshot `json:"indicator,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:   "rtkbridge",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Mode:      s.mode.Load().(string),
	}
	if s.src.NTRIP != nil {
		v := s.src.NTRIP()
		snap.NTRIP = &v
	}
	if s.src.Receiver != nil {
		v := s.src.Receiver()
		snap.Receiver = &v
	}
	if s.src.GPSD != nil {
		v := s.src.GPSD()
		snap.GPSD = &v
	}
	if s.src.Indicator != nil {
		v := s.src.Indicator()
		snap.Indicator = &v
	}
	if s.src.Fanout != nil {
		dests, sent, errs := s.src.Fanout()
		snap.Fanout = &FanoutSnapshot{Dests: dests, Datagrams: sent, Errors: errs}
	}
	if rec := s.fix.Load().(fixRecord); !rec.at.IsZero() {
		fix := rec.fix
		snap.Fix = &fix
		snap.FixUTC = rec.at.Format(time.RFC3339Nano)
	}
	return snap
}
