package timesync

import (
	"sync/atomic"

	"github.com/banshee-data/imusync/internal/imu"
	"github.com/banshee-data/imusync/internal/monitoring"
)

// Aligner maintains the IMU clock correction and computes the IMU query
// window for each frame.
//
// The coarse offset is delta = imu.timestamp - frame.timestamp, so querying
// at frame.timestamp + delta lands on the IMU clock. It is deliberately crude
// and should not replace a proper temporal calibration downstream.
type Aligner struct {
	imuRateHz float64

	// coarseOffset is nil until the coarse offset has been computed.
	coarseOffset atomic.Pointer[imu.Timestamp]
	fineShift    atomic.Int64
}

// NewAligner creates an Aligner for an IMU sampling at imuRateHz. With
// coarseCorrection disabled the coarse offset is fixed at zero and never
// estimated.
func NewAligner(imuRateHz float64, coarseCorrection bool) *Aligner {
	a := &Aligner{imuRateHz: imuRateHz}
	if !coarseCorrection {
		var zero imu.Timestamp
		a.coarseOffset.Store(&zero)
	}
	return a
}

// CoarseOffsetPending reports whether the coarse offset still has to be
// computed.
func (a *Aligner) CoarseOffsetPending() bool {
	return a.coarseOffset.Load() == nil
}

// CoarseOffset returns the coarse offset, or 0 while it is pending.
func (a *Aligner) CoarseOffset() imu.Timestamp {
	if off := a.coarseOffset.Load(); off != nil {
		return *off
	}
	return 0
}

// MaybeComputeCoarseOffset sets the coarse offset from the newest IMU
// timestamp and the current frame timestamp the first time it is called.
// Later calls leave the offset untouched and return it.
func (a *Aligner) MaybeComputeCoarseOffset(newestIMU, frame imu.Timestamp) imu.Timestamp {
	if off := a.coarseOffset.Load(); off != nil {
		return *off
	}
	offset := AdjustForSamplingPeriod(newestIMU-frame, a.imuRateHz)
	if !a.coarseOffset.CompareAndSwap(nil, &offset) {
		return *a.coarseOffset.Load()
	}
	monitoring.CoarseOffsetNanos.Set(float64(offset))
	monitoring.Logf("timesync: computed initial coarse time alignment of %d ns (raw %d ns)", offset, newestIMU-frame)
	return offset
}

// SetFineTimeShift sets the fine IMU time shift. Safe for concurrent use.
func (a *Aligner) SetFineTimeShift(shift imu.Timestamp) {
	a.fineShift.Store(shift)
	monitoring.FineTimeShiftNanos.Set(float64(shift))
}

// FineTimeShift returns the current fine IMU time shift.
func (a *Aligner) FineTimeShift() imu.Timestamp {
	return a.fineShift.Load()
}

// WindowFor returns the IMU-clock window between the previous and current
// frame. The fine shift is loaded once so both ends use the same value.
func (a *Aligner) WindowFor(lastFrame, frame imu.Timestamp) (start, end imu.Timestamp) {
	shift := a.fineShift.Load()
	offset := a.CoarseOffset()
	return lastFrame + offset + shift, frame + offset + shift
}

// Rebase converts a window from IMU clock to frame clock by removing the
// coarse offset. The fine shift is not removed.
// TODO: decide whether the fine shift should also be removed here once
// downstream consumers of the shifted stamps are audited.
func (a *Aligner) Rebase(w imu.Window) imu.Window {
	return w.Shifted(a.CoarseOffset())
}

// AdjustForSamplingPeriod collapses offsets shorter than one IMU sample
// period to zero: such a difference is explained by sampling alone.
// A non-positive rate disables the adjustment.
func AdjustForSamplingPeriod(offset imu.Timestamp, imuRateHz float64) imu.Timestamp {
	if imuRateHz <= 0 {
		return offset
	}
	period := imu.Timestamp(imu.NanosPerSecond / imuRateHz)
	abs := offset
	if abs < 0 {
		abs = -abs
	}
	if abs < period {
		return 0
	}
	return offset
}
