// Package provider hosts the data-provider stage of the VIO front-end: it
// buffers IMU samples, queues camera frames and emits one Packet per frame
// holding the IMU samples recorded since the previous frame.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/imusync/internal/imu"
	"github.com/banshee-data/imusync/internal/monitoring"
	"github.com/banshee-data/imusync/internal/stage"
	"github.com/banshee-data/imusync/internal/timesync"
)

// Frame identifies a camera frame. The image payload is handled elsewhere.
type Frame struct {
	ID        uint64        `json:"id"`
	Timestamp imu.Timestamp `json:"timestamp_ns"`
}

// Packet pairs a frame with the IMU samples since the previous frame, in
// frame-clock time.
type Packet struct {
	Frame Frame      `json:"frame"`
	IMU   imu.Window `json:"imu"`
}

// DropObserver is told about every frame that did not produce a Packet.
type DropObserver interface {
	FrameDropped(f Frame, status timesync.Status)
}

// DropObserverFunc adapts a function to DropObserver.
type DropObserverFunc func(f Frame, status timesync.Status)

// FrameDropped calls fn.
func (fn DropObserverFunc) FrameDropped(f Frame, status timesync.Status) {
	fn(f, status)
}

// Config configures a Module.
type Config struct {
	Name                      string
	IMURateHz                 float64
	CoarseTimestampCorrection bool
	InitialTimeShift          imu.Timestamp
	BufferCapacity            int
	FrameQueueCapacity        int
	Parallel                  bool
}

// Stats describes the module state for status endpoints.
type Stats struct {
	timesync.Stats
	IMUSamples     int    `json:"imu_samples"`
	FramesQueued   int    `json:"frames_queued"`
	FrameDrops     uint64 `json:"frame_queue_drops"`
	PacketsQueued  int    `json:"packets_queued"`
	ShutDown       bool   `json:"shutdown"`
	ParallelRun    bool   `json:"parallel_run"`
	IMURejected    uint64 `json:"imu_rejected"`
	IMUBufferLimit int    `json:"imu_buffer_capacity"`
}

// Module is the data-provider stage.
type Module struct {
	buffer   *imu.Buffer
	stage    *stage.Stage[Frame, Packet]
	sync     *timesync.Synchronizer
	observer DropObserver

	imuRejected atomic.Uint64
}

// New builds a Module that pushes packets to output.
func New(cfg Config, output *stage.Queue[Packet]) *Module {
	if cfg.Name == "" {
		cfg.Name = "data provider"
	}
	m := &Module{buffer: imu.NewBuffer(cfg.BufferCapacity)}
	m.stage = stage.New(stage.Config{
		Name:          cfg.Name,
		Parallel:      cfg.Parallel,
		InputCapacity: cfg.FrameQueueCapacity,
	}, m.process, output, m.buffer.Shutdown)

	aligner := timesync.NewAligner(cfg.IMURateHz, cfg.CoarseTimestampCorrection)
	aligner.SetFineTimeShift(cfg.InitialTimeShift)
	m.sync = timesync.NewSynchronizer(m.buffer, m.stage, aligner)
	return m
}

// SetDropObserver installs o. Call before the module starts running.
func (m *Module) SetDropObserver(o DropObserver) {
	m.observer = o
}

// FillIMU adds a sample to the IMU buffer.
func (m *Module) FillIMU(s imu.Sample) error {
	if err := m.buffer.Insert(s); err != nil {
		m.imuRejected.Add(1)
		monitoring.IMUSamplesTotal.WithLabelValues("rejected").Inc()
		if errors.Is(err, imu.ErrBufferShutdown) {
			return err
		}
		return fmt.Errorf("failed to buffer imu sample: %w", err)
	}
	monitoring.IMUSamplesTotal.WithLabelValues("accepted").Inc()
	return nil
}

// FillFrame queues a frame for synchronisation. Frames must arrive in
// strictly increasing timestamp order. It returns false after shutdown.
func (m *Module) FillFrame(f Frame) bool {
	return m.stage.Input().Push(f)
}

// SetFineTimeShift retunes the fine IMU time shift. Safe for concurrent use.
func (m *Module) SetFineTimeShift(shift imu.Timestamp) {
	m.sync.Aligner().SetFineTimeShift(shift)
}

// FineTimeShift returns the current fine IMU time shift.
func (m *Module) FineTimeShift() imu.Timestamp {
	return m.sync.Aligner().FineTimeShift()
}

// Run spins the stage until shutdown or ctx cancellation. Sequential
// modules return immediately; drive them with SpinOnce instead.
func (m *Module) Run(ctx context.Context) error {
	if !m.stage.Parallel() {
		return nil
	}
	return m.stage.Spin(ctx)
}

// SpinOnce processes one queued frame on the calling goroutine.
func (m *Module) SpinOnce() bool {
	return m.stage.SpinOnce()
}

// Shutdown releases blocked IMU queries and stops the stage. Idempotent.
func (m *Module) Shutdown() {
	m.sync.Shutdown()
}

// IsShutdown reports whether the stage has stopped.
func (m *Module) IsShutdown() bool {
	return m.stage.IsShutdown()
}

// Output returns the packet queue.
func (m *Module) Output() *stage.Queue[Packet] {
	return m.stage.Output()
}

// Synchronizer exposes the frame synchronizer.
func (m *Module) Synchronizer() *timesync.Synchronizer {
	return m.sync
}

// Stats returns a snapshot of the module state.
func (m *Module) Stats() Stats {
	return Stats{
		Stats:          m.sync.Stats(),
		IMUSamples:     m.buffer.Len(),
		FramesQueued:   m.stage.Input().Len(),
		FrameDrops:     m.stage.Input().Drops(),
		PacketsQueued:  m.stage.Output().Len(),
		ShutDown:       m.stage.IsShutdown(),
		ParallelRun:    m.stage.Parallel(),
		IMURejected:    m.imuRejected.Load(),
		IMUBufferLimit: m.buffer.Capacity(),
	}
}

func (m *Module) process(f Frame) (Packet, bool) {
	w, status := m.sync.Synchronize(f.Timestamp)
	if status != timesync.StatusDelivered {
		if m.observer != nil {
			m.observer.FrameDropped(f, status)
		}
		return Packet{}, false
	}
	return Packet{Frame: f, IMU: w}, true
}
