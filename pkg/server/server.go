// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package server exposes a live acquisition over HTTP: session metadata and
// statistics as JSON, offsets from the store, and a WebSocket stream of
// CBOR-encoded cycles.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Thermoquad/bitastat/pkg/bitalino"
	"github.com/Thermoquad/bitastat/pkg/log"
	"github.com/Thermoquad/bitastat/pkg/store"
)

const (
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
	subscribeBuffer = 64

	// DefaultDriftWindow is used by /api/v1/drift until SetDriftWindow is called
	DefaultDriftWindow = 3 * time.Minute
)

// Stats is the JSON view of bitalino.Statistics
type Stats struct {
	Uptime         float64 `json:"uptime_seconds"`
	Cycles         uint64  `json:"cycles"`
	EmptyCycles    uint64  `json:"empty_cycles"`
	TotalSamples   uint64  `json:"total_samples"`
	ValidSamples   uint64  `json:"valid_samples"`
	ChecksumErrors uint64  `json:"checksum_errors"`
	MissedSamples  uint64  `json:"missed_samples"`
	Saturations    uint64  `json:"saturations"`
	SampleRate     float64 `json:"sample_rate"`
	OffsetMicros   *int64  `json:"offset_us,omitempty"`
	DriftMicros    *int64  `json:"drift_us,omitempty"`
	Subscribers    int     `json:"subscribers"`
}

// Offset is the JSON view of an offset record
type Offset struct {
	TimeDevice time.Time `json:"time_device"`
	TimeOffset int64     `json:"time_offset"`
}

type Server struct {
	*mux.Router
	header      bitalino.SessionHeader
	offsets     *store.Store
	broadcaster *Broadcaster
	upgrader    websocket.Upgrader
	driftWindow time.Duration

	mu    sync.Mutex
	stats *bitalino.Statistics
}

// New creates a server for one session. offsets may be nil.
func New(header bitalino.SessionHeader, offsets *store.Store) (*Server, error) {
	msg, err := bitalino.EncodeHeader(header)
	if err != nil {
		return nil, err
	}
	s := &Server{
		header:      header,
		offsets:     offsets,
		broadcaster: NewBroadcaster(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		driftWindow: DefaultDriftWindow,
		stats:       bitalino.NewStatistics(),
	}
	s.broadcaster.SetHeader(msg)
	s.configureRouter()
	return s, nil
}

// SetDriftWindow sets the averaging window used when a drift request has no
// window parameter. Non-positive values are ignored.
func (s *Server) SetDriftWindow(window time.Duration) {
	if window > 0 {
		s.driftWindow = window
	}
}

func (s *Server) configureRouter() {
	s.Router = mux.NewRouter()
	api := s.Router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/session", s.handleSession()).Methods(http.MethodGet)
	api.HandleFunc("/labels", s.handleLabels()).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats()).Methods(http.MethodGet)
	api.HandleFunc("/offsets", s.handleOffsets()).Methods(http.MethodGet)
	api.HandleFunc("/drift", s.handleDrift()).Methods(http.MethodGet)
	s.Router.HandleFunc("/ws", s.handleStream())
}

// Handler wraps the router with request logging
func (s *Server) Handler() http.Handler {
	return handlers.LoggingHandler(logWriter{}, s.Router)
}

// Publish updates statistics and streams the cycle to WebSocket clients
func (s *Server) Publish(c *bitalino.Cycle) {
	s.mu.Lock()
	s.stats.Update(c)
	s.mu.Unlock()

	if c.Empty() && c.Offset == nil {
		return
	}
	msg, err := bitalino.EncodeCycle(c)
	if err != nil {
		log.Error("Failed to encode cycle: %v", err)
		return
	}
	if dropped := s.broadcaster.Publish(msg); dropped > 0 {
		log.Debug("Cycle dropped by %d slow stream clients", dropped)
	}
}

// Run serves on addr until ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	log.Info("Starting API server: address: %s", addr)
	httpServer := &http.Server{
		Handler: s.Handler(),
		Addr:    addr,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.broadcaster.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Statistics returns a snapshot of the current statistics
func (s *Server) Statistics() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.CalculateRates()
	st := Stats{
		Uptime:         time.Since(s.stats.StartTime).Seconds(),
		Cycles:         s.stats.Cycles,
		EmptyCycles:    s.stats.EmptyCycles,
		TotalSamples:   s.stats.TotalSamples,
		ValidSamples:   s.stats.ValidSamples,
		ChecksumErrors: s.stats.ChecksumErrors,
		MissedSamples:  s.stats.MissedSamples,
		Saturations:    s.stats.Saturations,
		SampleRate:     s.stats.SampleRate,
		Subscribers:    s.broadcaster.Subscribers(),
	}
	if s.stats.HasOffset {
		offset := s.stats.LastOffset.Microseconds()
		drift := s.stats.Drift().Microseconds()
		st.OffsetMicros, st.DriftMicros = &offset, &drift
	}
	return st
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warning("Failed to write response: %v", err)
	}
}

func (s *Server) handleSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"rate":     s.header.Rate,
			"channels": s.header.Channels,
			"start":    time.UnixMicro(s.header.Start).UTC(),
			"version":  s.header.Version,
		})
	}
}

func (s *Server) handleLabels() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string][]string{
			"labels":        s.header.Labels,
			"offset_labels": bitalino.OffsetLabels(),
		})
	}
}

func (s *Server) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.Statistics())
	}
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

func (s *Server) handleOffsets() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.offsets == nil {
			http.Error(w, "offset store not configured", http.StatusNotFound)
			return
		}
		from, err := parseTimeParam(r, "from")
		if err != nil {
			http.Error(w, "from must be RFC3339", http.StatusBadRequest)
			return
		}
		to, err := parseTimeParam(r, "to")
		if err != nil {
			http.Error(w, "to must be RFC3339", http.StatusBadRequest)
			return
		}

		log.Debug("Handling offsets request: from: %v to: %v", from, to)
		records, err := s.offsets.Offsets(from, to)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out := make([]Offset, len(records))
		for i, o := range records {
			out[i] = Offset{TimeDevice: o.TimeDevice.UTC(), TimeOffset: o.OffsetMicros()}
		}
		writeJSON(w, out)
	}
}

func (s *Server) handleDrift() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.offsets == nil {
			http.Error(w, "offset store not configured", http.StatusNotFound)
			return
		}
		window := s.driftWindow
		if v := r.URL.Query().Get("window"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				http.Error(w, "window must be a positive duration", http.StatusBadRequest)
				return
			}
			window = d
		}

		summary, err := s.offsets.Drift(window)
		if errors.Is(err, store.ErrNoOffsets) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{
			"records":        summary.Records,
			"duration":       summary.Duration().Seconds(),
			"start_offset":   summary.StartOffset,
			"stop_offset":    summary.StopOffset,
			"drift_us":       summary.DriftMicros(),
			"window_seconds": window.Seconds(),
		})
	}
}

func (s *Server) handleStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warning("WebSocket upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		id, ch := s.broadcaster.Subscribe(subscribeBuffer)
		defer s.broadcaster.Unsubscribe(id)
		log.Info("Stream client connected: %s", r.RemoteAddr)

		// Reader goroutine detects the client going away
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
					log.Debug("Stream client %s write failed: %v", r.RemoteAddr, err)
					return
				}
			case <-done:
				log.Info("Stream client disconnected: %s", r.RemoteAddr)
				return
			}
		}
	}
}

// logWriter routes request logs through the debug level
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	if log.Enabled(log.DebugLevel) {
		log.Debug("%s", trimNewline(p))
	}
	return len(p), nil
}

func trimNewline(p []byte) string {
	for len(p) > 0 && (p[len(p)-1] == '\n' || p[len(p)-1] == '\r') {
		p = p[:len(p)-1]
	}
	return string(p)
}
