package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"rtkbridge/internal/gpsd"
	"rtkbridge/internal/nmea"
	"rtkbridge/internal/ntrip"
	"rtkbridge/internal/receiver"
)

type fakeController struct{ resets atomic.Int32 }

func (c *fakeController) Reset() { c.resets.Add(1) }

func testStatus() *Status {
	st := NewStatus(Sources{
		NTRIP: func() ntrip.Snapshot {
			return ntrip.Snapshot{
				Addr:         "caster.example:2101",
				Mount:        "RTCM3",
				State:        ntrip.StateStreaming,
				Status:       ntrip.StatusOK,
				StatusText:   "ok",
				BytesRelayed: 1234,
			}
		},
		Receiver: func() receiver.Snapshot {
			return receiver.Snapshot{Source: "serial", Device: "/dev/rfcomm0", State: "open", Lines: 7}
		},
		Fanout: func() ([]string, uint64, uint64) {
			return []string{"127.0.0.1:9000"}, 3, 0
		},
	})
	st.SetMode("receiver")
	return st
}

func TestAPIStatus(t *testing.T) {
	st := testStatus()
	st.SetFix(time.Time{}, nmea.Fix{LatDeg: 48.1173, LonDeg: 11.5167, Quality: 4})

	ts := httptest.NewServer(Handler(Options{Status: st}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}

	var snap StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if snap.Service != "rtkbridge" || snap.Mode != "receiver" {
		t.Fatalf("service=%q mode=%q", snap.Service, snap.Mode)
	}
	if snap.NTRIP == nil || snap.NTRIP.Mount != "RTCM3" || snap.NTRIP.BytesRelayed != 1234 {
		t.Fatalf("ntrip=%+v", snap.NTRIP)
	}
	if snap.Receiver == nil || snap.Receiver.Lines != 7 {
		t.Fatalf("receiver=%+v", snap.Receiver)
	}
	if snap.Fanout == nil || snap.Fanout.Datagrams != 3 {
		t.Fatalf("fanout=%+v", snap.Fanout)
	}
	if snap.Fix == nil || snap.Fix.Quality != 4 || snap.FixUTC == "" {
		t.Fatalf("fix=%+v fix_utc=%q", snap.Fix, snap.FixUTC)
	}
	if snap.Indicator != nil {
		t.Fatalf("indicator=%+v want nil", snap.Indicator)
	}
	if snap.GPSD != nil {
		t.Fatalf("gpsd=%+v want nil", snap.GPSD)
	}
}

func TestStatus_GPSDSection(t *testing.T) {
	st := NewStatus(Sources{
		GPSD: func() gpsd.Snapshot {
			return gpsd.Snapshot{Addr: "127.0.0.1:2947", Connected: true, Valid: true, FixMode: 3}
		},
	})
	st.SetMode("gpsd")

	snap := st.Snapshot(time.Time{})
	if snap.Mode != "gpsd" {
		t.Fatalf("mode=%q", snap.Mode)
	}
	if snap.GPSD == nil || !snap.GPSD.Connected || snap.GPSD.FixMode != 3 {
		t.Fatalf("gpsd=%+v", snap.GPSD)
	}
	if snap.NTRIP != nil || snap.Receiver != nil {
		t.Fatalf("unexpected sections ntrip=%+v receiver=%+v", snap.NTRIP, snap.Receiver)
	}
}

func TestAPIStatus_MethodNotAllowed(t *testing.T) {
	ts := httptest.NewServer(Handler(Options{}))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/status", "application/json", nil)
	if err != nil {
		t.Fatalf("post status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != http.MethodGet {
		t.Fatalf("allow=%q", allow)
	}
}

func TestAPIReset(t *testing.T) {
	ctl := &fakeController{}
	ts := httptest.NewServer(Handler(Options{Status: testStatus(), Control: ctl}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/ntrip/reset")
	if err != nil {
		t.Fatalf("get reset: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET status code=%d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/ntrip/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("post reset: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST status code=%d", resp.StatusCode)
	}
	if got := ctl.resets.Load(); got != 1 {
		t.Fatalf("resets=%d want 1", got)
	}
}

func TestAPIReset_NoController(t *testing.T) {
	ts := httptest.NewServer(Handler(Options{}))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/ntrip/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("post reset: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
}

func TestRootPage(t *testing.T) {
	ts := httptest.NewServer(Handler(Options{Status: testStatus()}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "mount=RTCM3") {
		t.Fatalf("body missing mount: %s", body)
	}

	resp2, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("get unknown: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path status code=%d", resp2.StatusCode)
	}
}

func TestMetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("rtkbridge_up 1\n"))
	})
	ts := httptest.NewServer(Handler(Options{Metrics: metrics}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "rtkbridge_up 1\n" {
		t.Fatalf("body=%q", body)
	}
}

func TestAbout_UsesVersion(t *testing.T) {
	ts := httptest.NewServer(Handler(Options{Version: "v1.2.3"}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/about")
	if err != nil {
		t.Fatalf("get about: %v", err)
	}
	defer resp.Body.Close()
	var about AboutResponse
	if err := json.NewDecoder(resp.Body).Decode(&about); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if about.Service != "rtkbridge" || about.Version != "v1.2.3" {
		t.Fatalf("about=%+v", about)
	}
}

func TestStatusStream_PushesSnapshots(t *testing.T) {
	ts := httptest.NewServer(Handler(Options{Status: testStatus(), PushInterval: 10 * time.Millisecond}))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 2; i++ {
		var snap StatusSnapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read snapshot %d: %v", i, err)
		}
		if snap.NTRIP == nil || snap.NTRIP.State != ntrip.StateStreaming {
			t.Fatalf("snapshot %d ntrip=%+v", i, snap.NTRIP)
		}
	}
}
