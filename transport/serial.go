package transport

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultReadTimeout bounds a single blocking port read so Run can observe
// cancellation.
const DefaultReadTimeout = 100 * time.Millisecond

// OpenSerial opens a serial device at baud, 8N1.
func OpenSerial(name string, baud int, readTimeout time.Duration) (Port, error) {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, &Error{Op: "open " + name, Err: describe(err)}
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, &Error{Op: "configure " + name, Err: describe(err)}
	}
	return port, nil
}

// ListPorts returns the serial ports the OS reports.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, &Error{Op: "list ports", Err: describe(err)}
	}
	return ports, nil
}

// IsDisconnect reports whether err means the device went away.
func IsDisconnect(err error) bool {
	code, ok := portErrorCode(err)
	if !ok {
		return false
	}
	switch code {
	case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
		return true
	default:
		return false
	}
}

func portErrorCode(err error) (serial.PortErrorCode, bool) {
	var pe *serial.PortError
	if errors.As(err, &pe) {
		return pe.Code(), true
	}
	var pv serial.PortError
	if errors.As(err, &pv) {
		return pv.Code(), true
	}
	return 0, false
}

// describe adds a human reason to serial library errors.
func describe(err error) error {
	code, ok := portErrorCode(err)
	if !ok {
		return err
	}
	var reason string
	switch code {
	case serial.PortBusy:
		reason = "port busy"
	case serial.PortNotFound:
		reason = "port not found"
	case serial.PermissionDenied:
		reason = "permission denied"
	case serial.InvalidSpeed:
		reason = "unsupported baud rate"
	case serial.InvalidSerialPort:
		reason = "not a serial port"
	default:
		return err
	}
	return fmt.Errorf("%s: %w", reason, err)
}
