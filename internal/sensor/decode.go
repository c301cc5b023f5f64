// Package sensor decodes the raw payloads carried by tag sightings: two's
// complement integers, magnetometer heading, accelerometer magnitude and the
// RSSI path-loss distance model.
package sensor

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"beacon-locator/internal/config"
)

// accelScale converts a raw accelerometer count into g (±4 g over int8).
const accelScale = 256.0 / 8.0

// Path-loss model fitted for the reference floor: d = exp((a*rssi + b) / c).
const (
	pathLossA = -50.0
	pathLossB = -3599.0
	pathLossC = 271.0
)

// magnetPayloadLen is three little-endian int16 axes.
const magnetPayloadLen = 6

// DecodeError reports a payload that cannot be turned into a derived value.
type DecodeError struct {
	Field  string // "magnet", "accel" or "hex"
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Field, e.Reason)
}

// YMidpoint selects the value the y axis is centred on.
type YMidpoint string

const (
	// YMidpointX centres y on the x calibration midpoint. The deployed
	// rendering client was tuned against headings computed this way.
	YMidpointX YMidpoint = "x"
	// YMidpointY centres y on its own calibration midpoint.
	YMidpointY YMidpoint = "y"
)

// Calibration holds the magnetometer hard-iron bounds.
type Calibration struct {
	XMax, XMin float64
	YMax, YMin float64
	YMidpoint  YMidpoint // empty means YMidpointX
}

// DefaultCalibration is the calibration of the reference tags.
var DefaultCalibration = Calibration{XMax: 160, XMin: -470, YMax: 590, YMin: 0, YMidpoint: YMidpointX}

// CalibrationFromConfig converts the configured bounds.
func CalibrationFromConfig(c config.CalibrationConfig) Calibration {
	return Calibration{
		XMax:      c.XMax,
		XMin:      c.XMin,
		YMax:      c.YMax,
		YMin:      c.YMin,
		YMidpoint: YMidpoint(c.YMidpoint),
	}
}

// DecodeSigned interprets the low bits of value as a two's complement number.
// bits must be between 1 and 63.
func DecodeSigned(value uint64, bits uint) int64 {
	if bits == 0 || bits > 63 {
		panic(fmt.Sprintf("sensor: unsupported bit width %d", bits))
	}
	shift := 64 - bits
	return int64(value<<shift) >> shift
}

// Axes holds the three decoded magnetometer axes.
type Axes struct {
	X, Y, Z int64
}

// DecodeAxes decodes a 6 byte magnetometer payload.
func DecodeAxes(magnet []byte) (Axes, error) {
	if len(magnet) != magnetPayloadLen {
		return Axes{}, &DecodeError{
			Field:  "magnet",
			Reason: fmt.Sprintf("payload is %d bytes, want %d", len(magnet), magnetPayloadLen),
		}
	}
	le16 := func(i int) int64 {
		return DecodeSigned(uint64(magnet[i])|uint64(magnet[i+1])<<8, 16)
	}
	return Axes{X: le16(0), Y: le16(2), Z: le16(4)}, nil
}

// DecodeHeading returns the compass heading in degrees, in [0, 360).
func DecodeHeading(magnet []byte, cal Calibration) (float64, error) {
	axes, err := DecodeAxes(magnet)
	if err != nil {
		return 0, err
	}
	return cal.Heading(axes), nil
}

// Heading normalises x and y around the calibration midpoints and converts
// the resulting vector into degrees. The z axis does not contribute.
//
// With YMidpointX the y term is (-y - xMid) / (YMax - YMin), where xMid is
// the x calibration midpoint.
func (c Calibration) Heading(a Axes) float64 {
	xMid := (c.XMax + c.XMin) / 2
	xNorm := (float64(a.X) - xMid) / (c.XMax - c.XMin)

	var yNorm float64
	switch c.YMidpoint {
	case YMidpointY:
		yNorm = -(float64(a.Y) - (c.YMax+c.YMin)/2) / (c.YMax - c.YMin)
	default:
		yNorm = (-float64(a.Y) - xMid) / (c.YMax - c.YMin)
	}

	heading := math.Atan2(yNorm, xNorm)
	if heading < 0 {
		heading += 2 * math.Pi
	}
	deg := heading * 180 / math.Pi
	// fold -0 and the rounding edge at 2π back into [0, 360)
	if deg >= 360 || deg == 0 {
		deg = 0
	}
	return deg
}

// DecodeMotionMagnitude returns the Euclidean norm, in g, of every int8 sample
// in the payload. Any number of axes is accepted.
func DecodeMotionMagnitude(accel []byte) (float64, error) {
	if len(accel) == 0 {
		return 0, &DecodeError{Field: "accel", Reason: "empty payload"}
	}
	var sum float64
	for _, b := range accel {
		g := float64(DecodeSigned(uint64(b), 8)) / accelScale
		sum += g * g
	}
	return math.Sqrt(sum), nil
}

// RSSIToDistance converts an RSSI in dBm to metres. The model is not clamped;
// RSSI outside the fitted range yields implausible distances.
func RSSIToDistance(rssi float64) float64 {
	return math.Exp((pathLossA*rssi + pathLossB) / pathLossC)
}

// ParseHex converts capture text such as "0x39 0x01 0x43" or "390143" into bytes.
func ParseHex(s string) ([]byte, error) {
	clean := strings.NewReplacer("0x", "", "0X", "").Replace(s)
	clean = strings.Join(strings.Fields(clean), "")
	if clean == "" {
		return nil, &DecodeError{Field: "hex", Reason: "empty payload"}
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, &DecodeError{Field: "hex", Reason: err.Error()}
	}
	return b, nil
}
