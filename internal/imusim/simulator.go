// Package imusim emulates the IMU/camera trigger board for development
// without hardware. It writes the same line protocol as the device, with the
// IMU clock optionally offset from the trigger clock.
package imusim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/banshee-data/imusync/internal/imu"
	"github.com/banshee-data/imusync/internal/ingest"
	"github.com/banshee-data/imusync/internal/provider"
	"github.com/banshee-data/imusync/internal/timeutil"
)

const gravity = 9.81

// Config controls the simulated device.
type Config struct {
	IMURateHz    int
	CameraRateHz int
	// IMUClockOffset is added to every IMU timestamp. A non-zero value
	// emulates an IMU running on a different clock than the trigger.
	IMUClockOffset time.Duration
	// StatusEvery is the interval between JSON status lines; zero disables them.
	StatusEvery time.Duration
}

// Simulator produces device lines paced by a timeutil.Clock.
type Simulator struct {
	cfg   Config
	clock timeutil.Clock
	start time.Time

	imuPeriod  time.Duration
	camPeriod  time.Duration
	nextIMU    time.Duration
	nextCam    time.Duration
	nextStatus time.Duration
	seq        uint64
}

// New creates a Simulator whose device time starts at the clock's current time.
func New(cfg Config, clock timeutil.Clock) (*Simulator, error) {
	if cfg.IMURateHz <= 0 || cfg.CameraRateHz <= 0 {
		return nil, fmt.Errorf("invalid simulator rates imu=%d cam=%d", cfg.IMURateHz, cfg.CameraRateHz)
	}
	return &Simulator{
		cfg:       cfg,
		clock:     clock,
		start:     clock.Now(),
		imuPeriod: time.Second / time.Duration(cfg.IMURateHz),
		camPeriod: time.Second / time.Duration(cfg.CameraRateHz),
	}, nil
}

// Emit writes every line due up to now in device time order and returns the
// number of lines written. On equal timestamps the IMU line goes first, as
// the board samples before it triggers.
func (s *Simulator) Emit(w io.Writer, now time.Time) (int, error) {
	elapsed := now.Sub(s.start)
	n := 0
	for {
		var line string
		var at time.Duration
		switch {
		case s.nextIMU <= elapsed && s.nextIMU <= s.nextCam:
			at = s.nextIMU
			line = ingest.FormatIMU(s.sampleAt(at))
			s.nextIMU += s.imuPeriod
		case s.nextCam <= elapsed:
			at = s.nextCam
			s.seq++
			line = ingest.FormatFrame(provider.Frame{ID: s.seq, Timestamp: at.Nanoseconds()})
			s.nextCam += s.camPeriod
		default:
			return n, nil
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return n, err
		}
		n++

		if s.cfg.StatusEvery > 0 && s.nextStatus <= at {
			if err := s.writeStatus(w, at); err != nil {
				return n, err
			}
			n++
			s.nextStatus += s.cfg.StatusEvery
		}
	}
}

// Run emits lines on every IMU period until ctx is done or a write fails.
func (s *Simulator) Run(ctx context.Context, w io.Writer) error {
	ticker := s.clock.NewTicker(s.imuPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			if _, err := s.Emit(w, now); err != nil {
				return fmt.Errorf("failed to write simulated lines: %w", err)
			}
		}
	}
}

// sampleAt returns a slow yaw oscillation on top of gravity.
func (s *Simulator) sampleAt(t time.Duration) imu.Sample {
	sec := t.Seconds()
	phase := 2 * math.Pi * 0.5 * sec
	return imu.Sample{
		Timestamp: t.Nanoseconds() + s.cfg.IMUClockOffset.Nanoseconds(),
		AccGyr: [6]float64{
			0.2 * math.Cos(phase), 0.2 * math.Sin(phase), gravity,
			0, 0, 0.8 * math.Sin(phase),
		},
	}
}

func (s *Simulator) writeStatus(w io.Writer, at time.Duration) error {
	b, err := json.Marshal(ingest.StatusEvent{
		Clock:    at.Seconds(),
		RateHz:   float64(s.cfg.IMURateHz),
		Firmware: "imusim",
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}
