package relay

import (
	"fmt"
	"io"
	"os"

	"go.bug.st/serial"
)

// OpenSource opens the capture input: the serial device portName at baudRate,
// or stdin when portName is empty or "-".
func OpenSource(portName string, baudRate int) (io.ReadCloser, error) {
	if portName == "" || portName == "-" {
		return io.NopCloser(os.Stdin), nil
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return port, nil
}

// ListPorts returns the serial devices present on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}
