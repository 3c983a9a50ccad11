// Package imu holds the inertial sample model and the thread-safe sample
// buffer that frames are synchronised against.
package imu

import "fmt"

// Timestamp is a point in time in nanoseconds. Frame and IMU timestamps share
// this type even though they may come from different clocks.
type Timestamp = int64

// NanosPerSecond converts sample rates into sample periods.
const NanosPerSecond = 1e9

// Sample is a single 6-axis IMU measurement.
type Sample struct {
	Timestamp Timestamp `json:"timestamp_ns"`
	// AccGyr holds linear acceleration (m/s^2, x/y/z) followed by angular
	// rate (rad/s, x/y/z).
	AccGyr [6]float64 `json:"acc_gyr"`
}

// Acc returns the linear acceleration part of the sample.
func (s Sample) Acc() [3]float64 {
	return [3]float64{s.AccGyr[0], s.AccGyr[1], s.AccGyr[2]}
}

// Gyr returns the angular rate part of the sample.
func (s Sample) Gyr() [3]float64 {
	return [3]float64{s.AccGyr[3], s.AccGyr[4], s.AccGyr[5]}
}

func (s Sample) String() string {
	return fmt.Sprintf("imu@%d acc=%v gyr=%v", s.Timestamp, s.Acc(), s.Gyr())
}

// Window is a run of samples ordered by ascending timestamp.
type Window []Sample

// Start returns the timestamp of the first sample, or 0 for an empty window.
func (w Window) Start() Timestamp {
	if len(w) == 0 {
		return 0
	}
	return w[0].Timestamp
}

// End returns the timestamp of the last sample, or 0 for an empty window.
func (w Window) End() Timestamp {
	if len(w) == 0 {
		return 0
	}
	return w[len(w)-1].Timestamp
}

// Timestamps returns the sample timestamps in order.
func (w Window) Timestamps() []Timestamp {
	ts := make([]Timestamp, len(w))
	for i, s := range w {
		ts[i] = s.Timestamp
	}
	return ts
}

// Shifted returns a copy of the window with delta subtracted from every
// timestamp. The receiver is not modified.
func (w Window) Shifted(delta Timestamp) Window {
	out := make(Window, len(w))
	for i, s := range w {
		s.Timestamp -= delta
		out[i] = s
	}
	return out
}

// QueryResult describes the outcome of a range query against a Buffer.
type QueryResult int

const (
	// DataAvailable means the requested window is fully covered.
	DataAvailable QueryResult = iota
	// DataNotYetAvailable means the stream has not reached the window end yet.
	DataNotYetAvailable
	// DataNeverAvailable means the window lies before the oldest retained sample.
	DataNeverAvailable
	// TooFewSamples means the stream has passed the window but it holds too
	// few samples to interpolate.
	TooFewSamples
	// QueueShutdown means the buffer was shut down.
	QueueShutdown
)

func (r QueryResult) String() string {
	switch r {
	case DataAvailable:
		return "data_available"
	case DataNotYetAvailable:
		return "data_not_yet_available"
	case DataNeverAvailable:
		return "data_never_available"
	case TooFewSamples:
		return "too_few_samples"
	case QueueShutdown:
		return "queue_shutdown"
	default:
		return fmt.Sprintf("query_result(%d)", int(r))
	}
}
