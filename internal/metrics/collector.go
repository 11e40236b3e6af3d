// Package metrics exposes relay and receiver counters to Prometheus. Values
// are read from component snapshots at scrape time.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"rtkbridge/internal/ntrip"
	"rtkbridge/internal/receiver"
)

const namespace = "rtkbridge"

type Sources struct {
	NTRIP    func() ntrip.Snapshot
	Receiver func() receiver.Snapshot
	// Fanout returns datagrams sent and send errors.
	Fanout func() (uint64, uint64)
}

type Collector struct {
	src Sources

	bytesRelayed  *prometheus.Desc
	positionsSent *prometheus.Desc
	status        *prometheus.Desc
	streaming     *prometheus.Desc

	rxBytesWritten *prometheus.Desc
	rxLines        *prometheus.Desc

	fanoutDatagrams *prometheus.Desc
	fanoutErrors    *prometheus.Desc
}

func NewCollector(src Sources) *Collector {
	return &Collector{
		src: src,
		bytesRelayed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ntrip", "bytes_relayed_total"),
			"Correction bytes delivered to the sink since the session connected.",
			[]string{"mount"}, nil),
		positionsSent: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ntrip", "positions_sent_total"),
			"Position sentences written to the caster.",
			[]string{"mount"}, nil),
		status: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ntrip", "status"),
			"Session status code: 0 ok, -1 io error, -2 setup failed, -3 unauthorized, -4 rejected.",
			[]string{"mount"}, nil),
		streaming: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ntrip", "streaming"),
			"1 while the session is streaming corrections.",
			[]string{"mount"}, nil),
		rxBytesWritten: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "receiver", "bytes_written_total"),
			"Correction bytes written to the receiver.",
			nil, nil),
		rxLines: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "receiver", "lines_total"),
			"NMEA lines read from the receiver.",
			nil, nil),
		fanoutDatagrams: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "fanout", "datagrams_total"),
			"Correction datagrams republished over UDP.",
			nil, nil),
		fanoutErrors: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "fanout", "errors_total"),
			"UDP republish failures.",
			nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytesRelayed
	ch <- c.positionsSent
	ch <- c.status
	ch <- c.streaming
	ch <- c.rxBytesWritten
	ch <- c.rxLines
	ch <- c.fanoutDatagrams
	ch <- c.fanoutErrors
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.src.NTRIP != nil {
		s := c.src.NTRIP()
		ch <- prometheus.MustNewConstMetric(c.bytesRelayed, prometheus.CounterValue, float64(s.BytesRelayed), s.Mount)
		ch <- prometheus.MustNewConstMetric(c.positionsSent, prometheus.CounterValue, float64(s.PositionsSent), s.Mount)
		ch <- prometheus.MustNewConstMetric(c.status, prometheus.GaugeValue, float64(s.Status), s.Mount)
		streaming := 0.0
		if s.State == ntrip.StateStreaming {
			streaming = 1
		}
		ch <- prometheus.MustNewConstMetric(c.streaming, prometheus.GaugeValue, streaming, s.Mount)
	}
	if c.src.Receiver != nil {
		s := c.src.Receiver()
		ch <- prometheus.MustNewConstMetric(c.rxBytesWritten, prometheus.CounterValue, float64(s.BytesWritten))
		ch <- prometheus.MustNewConstMetric(c.rxLines, prometheus.CounterValue, float64(s.Lines))
	}
	if c.src.Fanout != nil {
		sent, errs := c.src.Fanout()
		ch <- prometheus.MustNewConstMetric(c.fanoutDatagrams, prometheus.CounterValue, float64(sent))
		ch <- prometheus.MustNewConstMetric(c.fanoutErrors, prometheus.CounterValue, float64(errs))
	}
}
