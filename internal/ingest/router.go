package ingest

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/banshee-data/imusync/internal/imu"
	"github.com/banshee-data/imusync/internal/monitoring"
	"github.com/banshee-data/imusync/internal/provider"
)

// Sink receives parsed samples and frames.
type Sink interface {
	FillIMU(imu.Sample) error
	FillFrame(provider.Frame) bool
}

// RouterStats counts routed lines.
type RouterStats struct {
	IMU           uint64  `json:"imu"`
	Frames        uint64  `json:"frames"`
	Status        uint64  `json:"status"`
	ParseErrors   uint64  `json:"parse_errors"`
	StaleFrames   uint64  `json:"stale_frames"`
	RejectedIMU   uint64  `json:"rejected_imu"`
	LastStatusClk float64 `json:"last_status_clock"`
}

// Router dispatches device lines to a Sink. Frames that are not strictly
// newer than the last routed frame are dropped here, since the synchronizer
// treats out-of-order frames as fatal.
type Router struct {
	sink Sink

	lastFrame *imu.Timestamp

	imu, frames, status, parseErrors, staleFrames, rejectedIMU atomic.Uint64
	lastClock                                                  atomic.Value
}

// NewRouter creates a Router feeding sink.
func NewRouter(sink Sink) *Router {
	return &Router{sink: sink}
}

// HandleLine parses and routes a single line. Not safe for concurrent use.
func (r *Router) HandleLine(line string) error {
	rec, err := ParseLine(line)
	if err != nil {
		r.parseErrors.Add(1)
		return err
	}

	switch rec.Kind {
	case KindIMU:
		if err := r.sink.FillIMU(rec.Sample); err != nil {
			r.rejectedIMU.Add(1)
			return err
		}
		r.imu.Add(1)
	case KindFrame:
		if r.lastFrame != nil && rec.Frame.Timestamp <= *r.lastFrame {
			r.staleFrames.Add(1)
			monitoring.Logf("ingest: dropping frame %d at %d, not newer than %d", rec.Frame.ID, rec.Frame.Timestamp, *r.lastFrame)
			return nil
		}
		ts := rec.Frame.Timestamp
		r.lastFrame = &ts
		if !r.sink.FillFrame(rec.Frame) {
			monitoring.Debugf(1, "ingest: frame queue closed, dropping frame %d", rec.Frame.ID)
			return nil
		}
		r.frames.Add(1)
	case KindStatus:
		r.status.Add(1)
		r.lastClock.Store(rec.Status.Clock)
		monitoring.Logf("ingest: device status %+v", rec.Status)
	}
	return nil
}

// Run routes lines until ctx is cancelled or lines is closed. Bad lines are
// logged and skipped.
func (r *Router) Run(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := r.HandleLine(line); err != nil {
				if errors.Is(err, imu.ErrBufferShutdown) {
					return nil
				}
				monitoring.Logf("ingest: error handling line %q: %v", line, err)
			}
		}
	}
}

// Stats returns the routing counters.
func (r *Router) Stats() RouterStats {
	st := RouterStats{
		IMU:         r.imu.Load(),
		Frames:      r.frames.Load(),
		Status:      r.status.Load(),
		ParseErrors: r.parseErrors.Load(),
		StaleFrames: r.staleFrames.Load(),
		RejectedIMU: r.rejectedIMU.Load(),
	}
	if v, ok := r.lastClock.Load().(float64); ok {
		st.LastStatusClk = v
	}
	return st
}
