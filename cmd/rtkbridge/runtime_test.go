package main

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtkbridge/internal/config"
	"rtkbridge/internal/ntrip"
	"rtkbridge/internal/web"
)

var rtcmFrame = []byte{0xD3, 0x00, 0x04, 'R', 'T', 'C', 'M'}

// fakeCaster answers ICY 200 and sends one correction frame after the first
// position line.
type fakeCaster struct {
	ln net.Listener

	mu      sync.Mutex
	request []string
	lines   []string
}

func startFakeCaster(t *testing.T) *fakeCaster {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fc := &fakeCaster{ln: ln}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			if line == "" {
				break
			}
			fc.mu.Lock()
			fc.request = append(fc.request, line)
			fc.mu.Unlock()
		}
		if _, err := io.WriteString(conn, "ICY 200 OK\r\n"); err != nil {
			return
		}
		sent := false
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			fc.mu.Lock()
			fc.lines = append(fc.lines, strings.TrimRight(line, "\r\n"))
			fc.mu.Unlock()
			if !sent {
				sent = true
				if _, err := conn.Write(rtcmFrame); err != nil {
					return
				}
			}
		}
	}()
	return fc
}

func (fc *fakeCaster) port(t *testing.T) int {
	t.Helper()
	_, port, err := net.SplitHostPort(fc.ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return p
}

func (fc *fakeCaster) snapshot() (request, lines []string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]string(nil), fc.request...), append([]string(nil), fc.lines...)
}

// fakeRover emits NMEA lines and collects whatever the relay writes back.
type fakeRover struct {
	ln net.Listener

	mu  sync.Mutex
	got []byte
}

func startFakeRover(t *testing.T, lines ...string) *fakeRover {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fr := &fakeRover{ln: ln}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		go func() {
			for _, l := range lines {
				if _, err := io.WriteString(conn, l+"\r\n"); err != nil {
					return
				}
			}
		}()
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				fr.mu.Lock()
				fr.got = append(fr.got, buf[:n]...)
				fr.mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()
	return fr
}

func (fr *fakeRover) received() []byte {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return append([]byte(nil), fr.got...)
}

func testConfig(t *testing.T, caster *fakeCaster) config.Config {
	t.Helper()
	disabled := false
	cfg := config.Config{
		NTRIP: config.NTRIPConfig{
			Host:      "127.0.0.1",
			Port:      caster.port(t),
			Mount:     "RTCM3",
			Username:  "rover",
			Password:  "secret",
			PollDelay: 5 * time.Millisecond,
		},
		Web: config.WebConfig{Enable: &disabled},
	}
	return cfg
}

func runRuntime(t *testing.T, rt *runtime) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitStopped(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("runtime did not stop")
	}
}

func TestRuntime_RelaysBetweenReceiverAndCaster(t *testing.T) {
	const gga = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	caster := startFakeCaster(t)
	rover := startFakeRover(t, "$GPRMC,ignored*00", gga)

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	cfg := testConfig(t, caster)
	cfg.Receiver = config.ReceiverConfig{Source: "tcp", Addr: rover.ln.Addr().String(), InitCommands: []string{"list,/dev"}}
	cfg.Fanout.UDPDests = []string{pc.LocalAddr().String()}
	require.NoError(t, config.DefaultAndValidate(&cfg))

	rt, err := newRuntime(cfg, web.NewLogBuffer(100))
	require.NoError(t, err)
	cancel, done := runRuntime(t, rt)

	want := "list,/dev\n\r" + string(rtcmFrame)
	require.Eventually(t, func() bool { return string(rover.received()) == want }, 3*time.Second, 5*time.Millisecond)

	_ = pc.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 64)
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, rtcmFrame, buf[:n])

	request, lines := caster.snapshot()
	require.NotEmpty(t, request)
	assert.Equal(t, "GET /RTCM3 HTTP/1.0", request[0])
	require.NotEmpty(t, lines)
	assert.Equal(t, gga, lines[0])

	snap := rt.status.Snapshot(time.Time{})
	require.NotNil(t, snap.Fix)
	assert.Equal(t, 1, snap.Fix.Quality)
	assert.Equal(t, ntrip.StateStreaming, snap.NTRIP.State)
	assert.Equal(t, "receiver", snap.Mode)
	assert.Equal(t, uint64(len(rtcmFrame)), snap.NTRIP.BytesRelayed)

	cancel()
	waitStopped(t, done)
	assert.Equal(t, ntrip.StateStopped, rt.client.Snapshot().State)
}

func TestRuntime_ReceiverOpenFailure(t *testing.T) {
	caster := startFakeCaster(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := testConfig(t, caster)
	cfg.Receiver = config.ReceiverConfig{Source: "tcp", Addr: addr, DialTimeout: time.Second}
	require.NoError(t, config.DefaultAndValidate(&cfg))

	rt, err := newRuntime(cfg, web.NewLogBuffer(100))
	require.NoError(t, err)
	err = rt.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "receiver open failed")
}

func TestIndicatorMode(t *testing.T) {
	caster := startFakeCaster(t)
	cfg := testConfig(t, caster)
	cfg.Receiver.Source = "none"
	cfg.GPSD.Enable = true
	require.NoError(t, config.DefaultAndValidate(&cfg))

	rt, err := newRuntime(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "off", rt.indicatorMode().String())
}

func TestRuntime_GPSDPositions(t *testing.T) {
	caster := startFakeCaster(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		if _, err := br.ReadString('\n'); err != nil {
			return
		}
		_, _ = io.WriteString(conn, `{"class":"TPV","mode":3,"status":4,"lat":-33.5,"lon":-70.25,"altMSL":512.5}`+"\n")
		_, _ = io.ReadAll(br)
	}()

	cfg := testConfig(t, caster)
	cfg.Receiver.Source = "none"
	cfg.GPSD = config.GPSDConfig{Enable: true, Addr: ln.Addr().String()}
	require.NoError(t, config.DefaultAndValidate(&cfg))

	rt, err := newRuntime(cfg, web.NewLogBuffer(100))
	require.NoError(t, err)
	cancel, done := runRuntime(t, rt)

	require.Eventually(t, func() bool {
		_, lines := caster.snapshot()
		return len(lines) > 0
	}, 3*time.Second, 5*time.Millisecond)
	_, lines := caster.snapshot()
	assert.Contains(t, lines[0], ",3330.0000,S,07015.0000,W,5,,,512.5,M,,M,,*")

	snap := rt.status.Snapshot(time.Time{})
	assert.Equal(t, "gpsd", snap.Mode)
	require.NotNil(t, snap.GPSD)
	assert.True(t, snap.GPSD.Valid)
	require.NotNil(t, snap.Fix)
	assert.Equal(t, 5, snap.Fix.Quality)

	cancel()
	waitStopped(t, done)
}
