// Package web serves the relay's local status API: JSON snapshots, recent
// logs, a live websocket feed, Prometheus metrics and a session reset action.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Controller exposes operator actions on the NTRIP session.
type Controller interface {
	// Reset stops the session and clears a terminal status so the next
	// position update reconnects.
	Reset()
}

type Options struct {
	Status  *Status
	Logs    *LogBuffer
	Control Controller
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
	Version string
	// PushInterval is the websocket snapshot period. Defaults to 1s.
	PushInterval time.Duration
}

func Handler(opts Options) http.Handler {
	status := opts.Status
	if status == nil {
		status = NewStatus(Sources{})
	}
	push := opts.PushInterval
	if push <= 0 {
		push = time.Second
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, status.Snapshot(time.Now().UTC()))
	})

	mux.HandleFunc("/api/ntrip/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if opts.Control == nil {
			http.Error(w, "ntrip unavailable", http.StatusNotFound)
			return
		}
		log.Printf("web: ntrip reset requested remote=%s", r.RemoteAddr)
		opts.Control.Reset()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{\"ok\":true}\n"))
	})

	mux.Handle("/api/ws", statusStream(status, push))

	if opts.Logs != nil {
		mux.Handle("/api/logs", opts.Logs.Handler())
	}
	mux.Handle("/api/about", AboutHandler(opts.Version))
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		renderIndex(w, status.Snapshot(time.Now().UTC()))
	})

	return mux
}

func renderIndex(w http.ResponseWriter, snap StatusSnapshot) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>rtkbridge</title></head><body>")
	_, _ = fmt.Fprintf(w, "<h1>rtkbridge</h1>")
	_, _ = fmt.Fprintf(w, "<p>JSON: <a href=\"/api/status\">/api/status</a> &middot; <a href=\"/api/logs?format=text\">logs</a> &middot; <a href=\"/metrics\">metrics</a></p>")
	if n := snap.NTRIP; n != nil {
		_, _ = fmt.Fprintf(w, "<pre>caster=%s\nmount=%s\nstate=%s\nstatus=%d (%s)\nbytes_relayed=%d\npositions_sent=%d\nlast_error=%s</pre>",
			html.EscapeString(n.Addr), html.EscapeString(n.Mount), n.State, n.Status, n.StatusText,
			n.BytesRelayed, n.PositionsSent, html.EscapeString(n.LastError),
		)
	}
	_, _ = fmt.Fprintf(w, "</body></html>")
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// statusStream pushes a StatusSnapshot as a JSON text frame immediately and
// then every interval until the client goes away.
func statusStream(status *Status, interval time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("web: ws upgrade error: %v", err)
			return
		}
		defer conn.Close()

		// Drain client frames so close and ping control messages are handled.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(status.Snapshot(time.Now().UTC())); err != nil {
				return
			}
			select {
			case <-gone:
				return
			case <-r.Context().Done():
				return
			case <-t.C:
			}
		}
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func Serve(ctx context.Context, listenAddr string, opts Options) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(opts),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
		// Hijacked websocket streams are not tracked by Shutdown; tie them
		// to ctx instead.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("web listening addr=%s", listenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
