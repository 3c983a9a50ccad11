package timesync

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/imusync/internal/imu"
	"github.com/banshee-data/imusync/internal/monitoring"
)

var (
	// ErrFrameOutOfOrder is the panic value (wrapped) raised when a frame is
	// not strictly newer than the previous one. It signals an upstream bug.
	ErrFrameOutOfOrder = errors.New("frame timestamps out of order")
	// ErrInvariant is the panic value (wrapped) raised on impossible states.
	ErrInvariant = errors.New("timesync invariant violated")
)

// Store is the IMU sample store queried by the Synchronizer.
type Store interface {
	// Newest returns the most recent sample, if any.
	Newest() (imu.Sample, bool)
	// QueryInterpolatedRange returns the samples covering [start, end]. It
	// may block and must return QueueShutdown once Shutdown is called.
	QueryInterpolatedRange(start, end imu.Timestamp) (imu.Window, imu.QueryResult)
	// Shutdown releases blocked and future queries.
	Shutdown()
}

// Stage is the enclosing pipeline stage: its shutdown flag cancels the
// retry loop and Shutdown stops it.
type Stage interface {
	IsShutdown() bool
	Shutdown()
}

// Status is the per-frame outcome of Synchronize.
type Status int

const (
	// StatusDelivered means a window was produced.
	StatusDelivered Status = iota
	// StatusFirstFrame means the frame only seeded the previous-frame cursor.
	StatusFirstFrame
	// StatusNoIMUData means the coarse offset could not be computed because
	// the store was empty.
	StatusNoIMUData
	// StatusNeverAvailable means the window precedes the IMU stream.
	StatusNeverAvailable
	// StatusTooFewSamples means the stream passed the window without
	// leaving enough samples in it.
	StatusTooFewSamples
	// StatusShutdown means the store or the stage shut down.
	StatusShutdown

	numStatuses
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusFirstFrame:
		return "first_frame"
	case StatusNoIMUData:
		return "no_imu_data"
	case StatusNeverAvailable:
		return "never_available"
	case StatusTooFewSamples:
		return "too_few_samples"
	case StatusShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Stats is a point-in-time view of a Synchronizer.
type Stats struct {
	Frames       map[string]uint64 `json:"frames"`
	WaitSessions uint64            `json:"wait_sessions"`
	// LastFrame is nil before the first frame.
	LastFrame           *imu.Timestamp `json:"last_frame_timestamp_ns"`
	CoarseOffset        imu.Timestamp  `json:"coarse_offset_ns"`
	CoarseOffsetPending bool           `json:"coarse_offset_pending"`
	FineTimeShift       imu.Timestamp  `json:"fine_time_shift_ns"`
}

// Synchronizer extracts, for every frame, the IMU samples recorded since
// the previous frame.
type Synchronizer struct {
	store   Store
	stage   Stage
	aligner *Aligner

	// lastFrame is nil until the first frame has been seen. Only the worker
	// goroutine writes it.
	lastFrame atomic.Pointer[imu.Timestamp]

	frames       [numStatuses]atomic.Uint64
	waitSessions atomic.Uint64
}

// NewSynchronizer wires a Synchronizer to its store, stage and aligner.
func NewSynchronizer(store Store, stage Stage, aligner *Aligner) *Synchronizer {
	return &Synchronizer{
		store:   store,
		stage:   stage,
		aligner: aligner,
	}
}

// Aligner returns the clock aligner used by the synchronizer.
func (s *Synchronizer) Aligner() *Aligner {
	return s.aligner
}

// LastFrameTimestamp returns the previous-frame cursor.
func (s *Synchronizer) LastFrameTimestamp() (imu.Timestamp, bool) {
	if last := s.lastFrame.Load(); last != nil {
		return *last, true
	}
	return 0, false
}

// Synchronize returns the IMU samples between the previous frame and frame,
// in frame-clock time. A window is returned only with StatusDelivered.
//
// Frame timestamps must be strictly increasing; a violation panics with an
// error wrapping ErrFrameOutOfOrder.
func (s *Synchronizer) Synchronize(frame imu.Timestamp) (imu.Window, Status) {
	w, status := s.synchronize(frame)
	s.frames[status].Add(1)
	monitoring.FramesTotal.WithLabelValues(status.String()).Inc()
	return w, status
}

func (s *Synchronizer) synchronize(frame imu.Timestamp) (imu.Window, Status) {
	last := s.lastFrame.Load()
	if last != nil && frame <= *last {
		panic(fmt.Errorf("%w: last frame timestamp %d, current timestamp %d", ErrFrameOutOfOrder, *last, frame))
	}

	if last == nil {
		monitoring.Debugf(1, "timesync: skipping first frame %d, no previous frame to bound the IMU window", frame)
		s.setLastFrame(frame)
		return nil, StatusFirstFrame
	}

	if s.aligner.CoarseOffsetPending() {
		newest, ok := s.store.Newest()
		if !ok {
			monitoring.Logf("timesync: no IMU measurements available yet, dropping frame %d", frame)
			return nil, StatusNoIMUData
		}
		s.aligner.MaybeComputeCoarseOffset(newest.Timestamp, frame)
	}

	start, end := s.aligner.WindowFor(*last, frame)

	var (
		w   imu.Window
		res = imu.DataNeverAvailable
	)
	waitLogged := false
	for !s.stage.IsShutdown() {
		if w, res = s.store.QueryInterpolatedRange(start, end); res == imu.DataAvailable {
			break
		}
		monitoring.Debugf(2, "timesync: no IMU data for [%d, %d]: %s", start, end, res)

		switch res {
		case imu.DataNotYetAvailable:
			if !waitLogged {
				monitoring.Logf("timesync: waiting for IMU data up to %d", end)
				s.waitSessions.Add(1)
				monitoring.WaitSessionsTotal.Inc()
				waitLogged = true
			}
			continue
		case imu.QueueShutdown:
			monitoring.Logf("timesync: IMU buffer was shut down, shutting down stage")
			s.stage.Shutdown()
			return nil, StatusShutdown
		case imu.DataNeverAvailable:
			monitoring.Logf("timesync: asking for data before start of IMU stream, from %d to %d", start, end)
			// Later frames must not be compared against a cursor now behind the stream.
			s.setLastFrame(frame)
			return nil, StatusNeverAvailable
		case imu.TooFewSamples:
			monitoring.Logf("timesync: no IMU samples in [%d, %d] and the stream already passed it", start, end)
			return nil, StatusTooFewSamples
		case imu.DataAvailable:
			panic(fmt.Errorf("%w: data available inside the retry loop", ErrInvariant))
		default:
			panic(fmt.Errorf("%w: unknown query result %s", ErrInvariant, res))
		}
	}
	if res != imu.DataAvailable {
		// Stage shut down while waiting.
		return nil, StatusShutdown
	}

	s.setLastFrame(frame)
	out := s.aligner.Rebase(w)
	monitoring.WindowSamples.Observe(float64(len(out)))
	monitoring.Debugf(1, "timesync: frame %d -> %d IMU samples [%d, %d]", frame, len(out), out.Start(), out.End())
	return out, StatusDelivered
}

// Shutdown releases any blocked store query and then stops the stage. It is
// idempotent and may be called from any goroutine.
func (s *Synchronizer) Shutdown() {
	s.store.Shutdown()
	s.stage.Shutdown()
}

// Stats returns a snapshot of counters and alignment state.
func (s *Synchronizer) Stats() Stats {
	st := Stats{
		Frames:              make(map[string]uint64, numStatuses),
		WaitSessions:        s.waitSessions.Load(),
		CoarseOffset:        s.aligner.CoarseOffset(),
		CoarseOffsetPending: s.aligner.CoarseOffsetPending(),
		FineTimeShift:       s.aligner.FineTimeShift(),
	}
	for i := Status(0); i < numStatuses; i++ {
		st.Frames[i.String()] = s.frames[i].Load()
	}
	if last, ok := s.LastFrameTimestamp(); ok {
		st.LastFrame = &last
	}
	return st
}

func (s *Synchronizer) setLastFrame(ts imu.Timestamp) {
	s.lastFrame.Store(&ts)
}
