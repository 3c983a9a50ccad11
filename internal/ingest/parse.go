// Package ingest turns device lines from the serial mux into IMU samples and
// frame trigger events and feeds them to the data provider.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/imusync/internal/imu"
	"github.com/banshee-data/imusync/internal/provider"
)

// ErrUnknownRecord is returned for lines with an unrecognised tag.
var ErrUnknownRecord = errors.New("unknown record type")

// Kind tags a parsed device line.
type Kind int

const (
	KindIMU Kind = iota
	KindFrame
	KindStatus
)

// StatusEvent is a JSON status line emitted by the device firmware.
type StatusEvent struct {
	Clock    float64 `json:"clock"`
	RateHz   float64 `json:"rate_hz,omitempty"`
	Firmware string  `json:"fw,omitempty"`
}

// Record is one parsed device line. Only the field matching Kind is set.
type Record struct {
	Kind   Kind
	Sample imu.Sample
	Frame  provider.Frame
	Status StatusEvent
}

// ParseLine parses one device line:
//
//	imu,<t_ns>,<ax>,<ay>,<az>,<gx>,<gy>,<gz>
//	cam,<t_ns>,<seq>
//	{"clock":...}
func ParseLine(line string) (Record, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "{") {
		var e StatusEvent
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return Record{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
		}
		return Record{Kind: KindStatus, Status: e}, nil
	}

	segments := strings.Split(line, ",")
	switch segments[0] {
	case "imu":
		if len(segments) != 8 {
			return Record{}, fmt.Errorf("invalid imu line %q: expected 8 segments, got %d", line, len(segments))
		}
		ts, err := strconv.ParseInt(segments[1], 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("failed to parse imu timestamp: %w", err)
		}
		s := imu.Sample{Timestamp: ts}
		for i := range s.AccGyr {
			v, err := strconv.ParseFloat(segments[i+2], 64)
			if err != nil {
				return Record{}, fmt.Errorf("failed to parse imu axis %d: %w", i, err)
			}
			s.AccGyr[i] = v
		}
		return Record{Kind: KindIMU, Sample: s}, nil

	case "cam":
		if len(segments) != 3 {
			return Record{}, fmt.Errorf("invalid cam line %q: expected 3 segments, got %d", line, len(segments))
		}
		ts, err := strconv.ParseInt(segments[1], 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("failed to parse frame timestamp: %w", err)
		}
		seq, err := strconv.ParseUint(segments[2], 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("failed to parse frame sequence: %w", err)
		}
		return Record{Kind: KindFrame, Frame: provider.Frame{ID: seq, Timestamp: ts}}, nil

	default:
		return Record{}, fmt.Errorf("%w: %q", ErrUnknownRecord, segments[0])
	}
}

// FormatIMU renders a sample in the device line format.
func FormatIMU(s imu.Sample) string {
	var b strings.Builder
	b.WriteString("imu,")
	b.WriteString(strconv.FormatInt(s.Timestamp, 10))
	for _, v := range s.AccGyr {
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	return b.String()
}

// FormatFrame renders a frame trigger in the device line format.
func FormatFrame(f provider.Frame) string {
	return fmt.Sprintf("cam,%d,%d", f.Timestamp, f.ID)
}
