package display

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/message"
	"github.com/Elon-Abulafia/PipeRT/metric"
)

const boundary = "frame"

const indexPage = `<!doctype html>
<html><head><title>%s</title></head>
<body><img src="/video" alt="live stream"></body></html>
`

// server exposes the displayed frames over HTTP
type server struct {
	name     string
	addr     string
	hub      *hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
	viewers  *prometheus.GaugeVec
	tls      *tls.Config

	mu    sync.Mutex
	bound string
	ready chan struct{}
}

func newServer(name, addr string, h *hub, logger *slog.Logger) *server {
	return &server{
		name:   name,
		addr:   addr,
		hub:    h,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ready: make(chan struct{}),
	}
}

// registerMetrics adds the viewer gauge to registry
func (s *server) registerMetrics(registry *metric.MetricsRegistry) error {
	s.viewers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pipert",
		Subsystem: "display",
		Name:      "viewers",
		Help:      "Connected display viewers by stream",
	}, []string{"component", "stream"})
	return registry.RegisterGaugeVec(s.name, "display_viewers", s.viewers)
}

func (s *server) viewerDelta(stream string, d float64) {
	if s.viewers != nil {
		s.viewers.WithLabelValues(s.name, stream).Add(d)
	}
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /video", s.handleVideo)
	mux.HandleFunc("GET /frame", s.handleFrame)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

func (s *server) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != "" {
		return s.bound
	}
	return s.addr
}

// serve runs until ctx is done. Streaming handlers end when the hub closes,
// which the component teardown does before workers are joined.
func (s *server) serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.WrapFatal(err, "display", "serve", "listen on "+s.addr)
	}
	if s.tls != nil {
		ln = tls.NewListener(ln, s.tls)
	}
	s.mu.Lock()
	s.bound = ln.Addr().String()
	s.mu.Unlock()
	close(s.ready)

	srv := &http.Server{
		Handler:     s.handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	s.logger.Info("Display listening", "addr", ln.Addr().String())

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "display", "serve", "serve")
		}
		return nil
	case <-ctx.Done():
	}

	s.hub.close()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "display", "serve", "shutdown")
	}
	return nil
}

func (s *server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, indexPage, s.name)
}

// handleFrame returns the newest frame as a single image
func (s *server) handleFrame(w http.ResponseWriter, _ *http.Request) {
	ch, ok := s.hub.subscribe()
	if !ok {
		http.Error(w, "display stopped", http.StatusServiceUnavailable)
		return
	}
	defer s.hub.unsubscribe(ch)

	var frame *message.Message
	select {
	case frame = <-ch:
	default:
	}
	if frame == nil {
		http.Error(w, "no frame yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(frame.Payload())
}

// handleVideo streams frames as multipart/x-mixed-replace JPEG parts
func (s *server) handleVideo(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch, ok := s.hub.subscribe()
	if !ok {
		http.Error(w, "display stopped", http.StatusServiceUnavailable)
		return
	}
	defer s.hub.unsubscribe(ch)

	s.viewerDelta("video", 1)
	defer s.viewerDelta("video", -1)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, open := <-ch:
			if !open {
				return
			}
			if err := writePart(w, frame.Payload()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writePart(w http.ResponseWriter, jpeg []byte) error {
	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(jpeg))
	if _, err := w.Write([]byte(header)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// handleWS pushes a JSON summary of every displayed frame
func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch, ok := s.hub.subscribe()
	if !ok {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "display stopped"))
		return
	}
	defer s.hub.unsubscribe(ch)

	s.viewerDelta("ws", 1)
	defer s.viewerDelta("ws", -1)

	// the read loop only detects the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case frame, open := <-ch:
			if !open {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "display stopped"),
					time.Now().Add(time.Second))
				return
			}
			data, err := json.Marshal(frame.Summarize())
			if err != nil {
				s.logger.Error("Failed to encode frame summary", "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
