package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// NewRealSerialMux opens the serial port described by opts and wraps it in a
// SerialMux.
func NewRealSerialMux(opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(opts.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", opts.Path, err)
	}
	return NewSerialMux[serial.Port](port), nil
}
