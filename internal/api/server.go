// Package api serves the synchroniser status, fine time-shift control,
// recorded packets and prometheus metrics over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/imusync/internal/db"
	"github.com/banshee-data/imusync/internal/imu"
	"github.com/banshee-data/imusync/internal/ingest"
	"github.com/banshee-data/imusync/internal/monitoring"
	"github.com/banshee-data/imusync/internal/provider"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const defaultPacketLimit = 100

// Provider is the part of the data provider the API drives.
type Provider interface {
	Stats() provider.Stats
	SetFineTimeShift(imu.Timestamp)
	FineTimeShift() imu.Timestamp
}

// LineStats reports ingest counters.
type LineStats interface {
	Stats() ingest.RouterStats
}

// Commander sends raw commands to the device.
type Commander interface {
	SendCommand(string) error
}

// PacketStore reads recorded packets and drops.
type PacketStore interface {
	RecentPackets(sessionID string, limit int) ([]db.PacketRecord, error)
	DropCounts(sessionID string) (map[string]int, error)
}

type Server struct {
	provider  Provider
	lines     LineStats
	commander Commander
	store     PacketStore
	sessionID string
}

// Options carries the optional collaborators of a Server.
type Options struct {
	Lines     LineStats
	Commander Commander
	Store     PacketStore
	SessionID string
}

func NewServer(p Provider, opts Options) *Server {
	return &Server{
		provider:  p,
		lines:     opts.Lines,
		commander: opts.Commander,
		store:     opts.Store,
		sessionID: opts.SessionID,
	}
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	SessionID string              `json:"session_id,omitempty"`
	Provider  provider.Stats      `json:"provider"`
	Ingest    *ingest.RouterStats `json:"ingest,omitempty"`
}

// TimeShift is the body of /api/time_shift.
type TimeShift struct {
	FineTimeShiftNanos *int64 `json:"fine_time_shift_nanos"`
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/time_shift", s.handleTimeShift)
	mux.HandleFunc("/api/packets", s.listPackets)
	mux.HandleFunc("/api/drops", s.showDrops)
	mux.HandleFunc("/command", s.sendCommandHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(monitoring.Registry, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp := StatusResponse{SessionID: s.sessionID, Provider: s.provider.Stats()}
	if s.lines != nil {
		st := s.lines.Stats()
		resp.Ingest = &st
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write status")
	}
}

func (s *Server) handleTimeShift(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
	case http.MethodPut, http.MethodPost:
		var body TimeShift
		dec := json.NewDecoder(io.LimitReader(r.Body, 1<<10))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid body: %v", err))
			return
		}
		if body.FineTimeShiftNanos == nil {
			s.writeJSONError(w, http.StatusBadRequest, "Missing fine_time_shift_nanos")
			return
		}
		s.provider.SetFineTimeShift(*body.FineTimeShiftNanos)
		monitoring.Logf("api: fine time shift set to %dns", *body.FineTimeShiftNanos)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	shift := s.provider.FineTimeShift()
	json.NewEncoder(w).Encode(TimeShift{FineTimeShiftNanos: &shift})
}

func (s *Server) listPackets(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Packet recording disabled")
		return
	}

	limit := defaultPacketLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	packets, err := s.store.RecentPackets(s.sessionID, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve packets: %v", err))
		return
	}
	if packets == nil {
		packets = []db.PacketRecord{}
	}
	if err := json.NewEncoder(w).Encode(packets); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write packets")
	}
}

func (s *Server) showDrops(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Packet recording disabled")
		return
	}

	counts, err := s.store.DropCounts(s.sessionID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve drops: %v", err))
		return
	}
	json.NewEncoder(w).Encode(counts)
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.commander == nil {
		http.Error(w, "No device attached", http.StatusServiceUnavailable)
		return
	}

	command := r.FormValue("command")
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}
	if err := s.commander.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}
