package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rtkbridge/internal/config"
	"rtkbridge/internal/gpsd"
	"rtkbridge/internal/indicator"
	"rtkbridge/internal/metrics"
	"rtkbridge/internal/nmea"
	"rtkbridge/internal/ntrip"
	"rtkbridge/internal/receiver"
	"rtkbridge/internal/udp"
	"rtkbridge/internal/web"
)

// runtime owns every long-lived component of a relay process.
type runtime struct {
	cfg    config.Config
	logs   *web.LogBuffer
	status *web.Status
	// mode names the position source: receiver, gpsd or synthetic.
	mode string

	client    *ntrip.Client
	rx        *receiver.Device // nil when receiver.source is none
	gpsd      *gpsd.Source     // nil unless gpsd.enable
	fanout    *udp.Fanout
	indicator *indicator.Indicator
	metrics   http.Handler

	// sinkFailing and lastUpdateErr keep repeated per-chunk and per-line
	// errors from flooding the log.
	sinkFailing   atomic.Bool
	updateMu      sync.Mutex
	lastUpdateErr string
}

func newRuntime(cfg config.Config, logs *web.LogBuffer) (*runtime, error) {
	rt := &runtime{cfg: cfg, logs: logs}

	if cfg.Receiver.Source != "none" {
		rx, err := receiver.New(receiver.Config{
			Source:       cfg.Receiver.Source,
			Device:       cfg.Receiver.Device,
			Baud:         cfg.Receiver.Baud,
			Addr:         cfg.Receiver.Addr,
			DialTimeout:  cfg.Receiver.DialTimeout,
			InitCommands: cfg.Receiver.InitCommands,
			ModeReset:    cfg.Receiver.ModeReset,
		})
		if err != nil {
			return nil, err
		}
		rt.rx = rx
	}

	switch {
	case cfg.GPSD.Enable:
		rt.mode = "gpsd"
		rt.gpsd = gpsd.New(gpsd.Config{Addr: cfg.GPSD.Addr})
	case cfg.Synthetic.Enable:
		rt.mode = "synthetic"
	default:
		rt.mode = "receiver"
	}

	fanout, err := udp.NewFanout(cfg.Fanout.UDPDests)
	if err != nil {
		return nil, fmt.Errorf("udp fanout init failed: %w", err)
	}
	rt.fanout = fanout

	client, err := ntrip.New(ntrip.Config{
		Host:         cfg.NTRIP.Host,
		Port:         cfg.NTRIP.Port,
		Mount:        cfg.NTRIP.Mount,
		Username:     cfg.NTRIP.Username,
		Password:     cfg.NTRIP.Password,
		UserAgent:    cfg.NTRIP.UserAgent,
		Sink:         rt.deliver,
		PollDelay:    cfg.NTRIP.PollDelay,
		ReportTicks:  cfg.NTRIP.ReportTicks,
		ChunkSize:    cfg.NTRIP.ChunkSize,
		StopTimeout:  cfg.NTRIP.StopTimeout,
		DialTimeout:  cfg.NTRIP.DialTimeout,
		WriteTimeout: cfg.NTRIP.WriteTimeout,
	})
	if err != nil {
		_ = fanout.Close()
		return nil, err
	}
	rt.client = client

	rt.indicator = indicator.New(indicator.Config{
		Enable:   cfg.Indicator.Enable,
		Pin:      cfg.Indicator.GPIOPin,
		Interval: cfg.Indicator.Interval,
	}, rt.indicatorMode)

	rt.status = web.NewStatus(web.Sources{
		NTRIP:     client.Snapshot,
		Receiver:  rt.receiverSnapshot,
		Indicator: rt.indicator.Snapshot,
		GPSD:      rt.gpsdSnapshot,
		Fanout: func() ([]string, uint64, uint64) {
			sent, errs := fanout.Stats()
			return fanout.Dests(), sent, errs
		},
	})
	rt.status.SetMode(rt.mode)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(metrics.Sources{
			NTRIP:    client.Snapshot,
			Receiver: rt.receiverSnapshot,
			Fanout:   fanout.Stats,
		}),
	)
	rt.metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return rt, nil
}

// Run blocks until ctx is cancelled or a component fails, then shuts
// everything down. Cancellation is not an error.
func (rt *runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Printf("rtkbridge starting version=%s caster=%s:%d mount=%s receiver=%s positions=%s",
		version, rt.cfg.NTRIP.Host, rt.cfg.NTRIP.Port, rt.cfg.NTRIP.Mount, rt.cfg.Receiver.Source, rt.mode)

	if rt.rx != nil {
		if err := rt.rx.Open(ctx); err != nil {
			_ = rt.fanout.Close()
			return fmt.Errorf("receiver open failed: %w", err)
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	if rt.rx != nil {
		spawn("receiver", func(ctx context.Context) error {
			return rt.rx.Run(ctx, func(line string) { rt.handleLine(ctx, line) })
		})
	}
	switch rt.mode {
	case "synthetic":
		spawn("synthetic", rt.runSynthetic)
	case "gpsd":
		spawn("gpsd", func(ctx context.Context) error {
			return rt.gpsd.Run(ctx, func(at time.Time, fix nmea.Fix) {
				if ctx.Err() != nil {
					return
				}
				rt.status.SetFix(at, fix)
				rt.noteUpdate(rt.client.UpdatePosition(ctx, nmea.FormatGGA(at, fix)))
			})
		})
	}
	if rt.cfg.Web.Enabled() {
		spawn("web", func(ctx context.Context) error {
			return web.Serve(ctx, rt.cfg.Web.Listen, web.Options{
				Status:  rt.status,
				Logs:    rt.logs,
				Control: rt.client,
				Metrics: rt.metrics,
				Version: version,
			})
		})
	}
	if rt.cfg.Indicator.Enable {
		spawn("indicator", func(ctx context.Context) error {
			if err := rt.indicator.Run(ctx); err != nil {
				// The LED is cosmetic; keep relaying without it.
				log.Printf("indicator disabled: %v", err)
			}
			return nil
		})
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		log.Printf("rtkbridge stopping after failure: %v", runErr)
	}
	cancel()

	// Producers exit first so nothing reconnects after Stop.
	wg.Wait()
	rt.client.Stop()
	if rt.rx != nil {
		_ = rt.rx.Close()
	}
	_ = rt.fanout.Close()

	snap := rt.client.Snapshot()
	log.Printf("rtkbridge stopped bytes_relayed=%d positions_sent=%d status=%d", snap.BytesRelayed, snap.PositionsSent, snap.Status)
	return runErr
}

// handleLine forwards sentences with the configured prefix to the caster.
// With another position source configured the receiver only feeds the status
// page.
func (rt *runtime) handleLine(ctx context.Context, line string) {
	if ctx.Err() != nil || !nmea.HasPrefix(line, rt.cfg.Receiver.SentencePrefix) {
		return
	}
	if rt.mode != "receiver" {
		return
	}
	if fix, err := nmea.ParseGGA(line); err == nil {
		rt.status.SetFix(time.Now().UTC(), fix)
	}
	rt.noteUpdate(rt.client.UpdatePosition(ctx, line))
}

func (rt *runtime) runSynthetic(ctx context.Context) error {
	s := rt.cfg.Synthetic
	log.Printf("synthetic positions enabled lat=%.6f lon=%.6f alt=%.1f interval=%s", *s.LatDeg, *s.LonDeg, *s.AltM, s.Interval)

	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		if ctx.Err() != nil {
			return nil
		}
		rt.noteUpdate(rt.client.UpdatePositionLLA(ctx, *s.LatDeg, *s.LonDeg, *s.AltM))
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// noteUpdate logs UpdatePosition failures when the message changes.
func (rt *runtime) noteUpdate(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	rt.updateMu.Lock()
	changed := msg != rt.lastUpdateErr
	rt.lastUpdateErr = msg
	rt.updateMu.Unlock()
	if !changed || err == nil {
		return
	}
	if errors.Is(err, ntrip.ErrSessionDead) {
		log.Printf("ntrip session is down; POST /api/ntrip/reset to reconnect: %v", err)
		return
	}
	log.Printf("ntrip position update failed: %v", err)
}

// deliver is the correction sink: receiver first, then the UDP fanout.
func (rt *runtime) deliver(chunk []byte) {
	var err error
	if rt.rx != nil {
		_, err = rt.rx.Write(chunk)
	}
	if ferr := rt.fanout.Send(chunk); ferr != nil {
		err = errors.Join(err, ferr)
	}
	if err != nil {
		if !rt.sinkFailing.Swap(true) {
			log.Printf("correction delivery failed: %v", err)
		}
		return
	}
	if rt.sinkFailing.Swap(false) {
		log.Printf("correction delivery recovered")
	}
}

func (rt *runtime) receiverSnapshot() receiver.Snapshot {
	if rt.rx == nil {
		return receiver.Snapshot{Source: "none", State: "disabled"}
	}
	return rt.rx.Snapshot()
}

func (rt *runtime) gpsdSnapshot() gpsd.Snapshot {
	if rt.gpsd == nil {
		return gpsd.Snapshot{}
	}
	return rt.gpsd.Snapshot()
}

func (rt *runtime) indicatorMode() indicator.Mode {
	snap := rt.client.Snapshot()
	switch {
	case snap.Status != ntrip.StatusOK:
		return indicator.Blink
	case snap.State == ntrip.StateStreaming:
		return indicator.On
	default:
		return indicator.Off
	}
}
