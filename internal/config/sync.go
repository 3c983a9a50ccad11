package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/imusync/internal/imu"
	"github.com/banshee-data/imusync/internal/serialmux"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/imusync.defaults.json"

// SyncConfig is the root configuration of the synchronisation front-end.
// Every field is optional; the Get* methods supply defaults for nil fields
// so partial files are safe.
type SyncConfig struct {
	IMURateHz                   *float64      `json:"imu_rate_hz,omitempty"`
	CameraRateHz                *int          `json:"camera_rate_hz,omitempty"`
	DoCoarseTimestampCorrection *bool         `json:"do_coarse_timestamp_correction,omitempty"`
	InitialTimeShiftNanos       *int64        `json:"initial_time_shift_nanos,omitempty"`
	IMUBufferCapacity           *int          `json:"imu_buffer_capacity,omitempty"`
	FrameQueueCapacity          *int          `json:"frame_queue_capacity,omitempty"`
	ParallelRun                 *bool         `json:"parallel_run,omitempty"`
	Serial                      *SerialConfig `json:"serial,omitempty"`
}

// SerialConfig holds the serial line settings. The port path comes from the
// command line.
type SerialConfig struct {
	BaudRate *int    `json:"baud_rate,omitempty"`
	DataBits *int    `json:"data_bits,omitempty"`
	StopBits *int    `json:"stop_bits,omitempty"`
	Parity   *string `json:"parity,omitempty"`
}

// LoadSyncConfig loads a SyncConfig from a JSON file.
func LoadSyncConfig(path string) (*SyncConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &SyncConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory or
// one of its parents. Panics if the file cannot be loaded; intended for tests.
func MustLoadDefaultConfig() *SyncConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/<pkg>/
		"../../../" + DefaultConfigPath, // from cmd/tools/<tool>/
	}
	for _, path := range candidates {
		if cfg, err := LoadSyncConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *SyncConfig) Validate() error {
	if c.IMURateHz != nil && *c.IMURateHz <= 0 {
		return fmt.Errorf("imu_rate_hz must be positive, got %f", *c.IMURateHz)
	}
	if c.CameraRateHz != nil && *c.CameraRateHz <= 0 {
		return fmt.Errorf("camera_rate_hz must be positive, got %d", *c.CameraRateHz)
	}
	if c.IMUBufferCapacity != nil && *c.IMUBufferCapacity < 2 {
		return fmt.Errorf("imu_buffer_capacity must be at least 2, got %d", *c.IMUBufferCapacity)
	}
	if c.FrameQueueCapacity != nil && *c.FrameQueueCapacity < 0 {
		return fmt.Errorf("frame_queue_capacity must be non-negative, got %d", *c.FrameQueueCapacity)
	}
	if c.Serial != nil && c.Serial.Parity != nil {
		switch strings.ToUpper(*c.Serial.Parity) {
		case "N", "E", "O", "NONE", "EVEN", "ODD":
		default:
			return fmt.Errorf("unsupported parity %q", *c.Serial.Parity)
		}
	}
	return nil
}

// GetIMURateHz returns the nominal IMU rate or the default.
func (c *SyncConfig) GetIMURateHz() float64 {
	if c.IMURateHz == nil {
		return 200
	}
	return *c.IMURateHz
}

// GetCameraRateHz returns the camera trigger rate or the default.
func (c *SyncConfig) GetCameraRateHz() int {
	if c.CameraRateHz == nil {
		return 20
	}
	return *c.CameraRateHz
}

func (c *SyncConfig) GetDoCoarseTimestampCorrection() bool {
	if c.DoCoarseTimestampCorrection == nil {
		return false
	}
	return *c.DoCoarseTimestampCorrection
}

func (c *SyncConfig) GetInitialTimeShift() imu.Timestamp {
	if c.InitialTimeShiftNanos == nil {
		return 0
	}
	return *c.InitialTimeShiftNanos
}

func (c *SyncConfig) GetIMUBufferCapacity() int {
	if c.IMUBufferCapacity == nil {
		return imu.DefaultBufferCapacity
	}
	return *c.IMUBufferCapacity
}

// GetFrameQueueCapacity returns the frame queue bound; 0 means unbounded.
func (c *SyncConfig) GetFrameQueueCapacity() int {
	if c.FrameQueueCapacity == nil {
		return 0
	}
	return *c.FrameQueueCapacity
}

func (c *SyncConfig) GetParallelRun() bool {
	if c.ParallelRun == nil {
		return true
	}
	return *c.ParallelRun
}

// PortOptions builds serial port options for path from the serial section.
// Unset values are left zero for serialmux.PortOptions.Normalize to fill.
func (c *SyncConfig) PortOptions(path string) serialmux.PortOptions {
	opts := serialmux.PortOptions{Path: path}
	if c.Serial == nil {
		return opts
	}
	if c.Serial.BaudRate != nil {
		opts.BaudRate = *c.Serial.BaudRate
	}
	if c.Serial.DataBits != nil {
		opts.DataBits = *c.Serial.DataBits
	}
	if c.Serial.StopBits != nil {
		opts.StopBits = *c.Serial.StopBits
	}
	if c.Serial.Parity != nil {
		opts.Parity = *c.Serial.Parity
	}
	return opts
}
