// Package batch turns one delivered batch of sightings into per-tag summaries.
//
// A batch arrives as a JSON array of wire sightings. Each sighting is validated
// into a RawReading (ValidationError drops it), its sensor payloads are decoded
// (a DecodeError only removes the derived value) and the readings are grouped
// by tag and by base.
package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"beacon-locator/internal/bases"
	"beacon-locator/internal/sensor"
)

// Sighting is one element of the wire batch as published by the base relays'
// aggregator: {"bdaddr":..,"time":..,"baseId":..,"rssi":..,"magnet":..,"accel":..}.
// Numeric fields may be JSON numbers or numeric strings.
type Sighting struct {
	TagID  json.RawMessage `json:"bdaddr"`
	Time   json.RawMessage `json:"time"`
	BaseID json.RawMessage `json:"baseId"`
	RSSI   json.RawMessage `json:"rssi"`
	Magnet json.RawMessage `json:"magnet,omitempty"`
	Accel  json.RawMessage `json:"accel,omitempty"`

	err error // element was not a JSON object
}

// ParseBatch splits a batch payload into sightings. Only a payload that is not
// a JSON array fails; malformed elements surface later from Validate.
func ParseBatch(payload []byte) ([]Sighting, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(payload, &elems); err != nil {
		return nil, fmt.Errorf("batch is not a JSON array: %w", err)
	}
	out := make([]Sighting, len(elems))
	for i, raw := range elems {
		if err := json.Unmarshal(raw, &out[i]); err != nil {
			out[i] = Sighting{err: err}
		}
	}
	return out, nil
}

// RawReading is a validated sighting with its payloads as bytes.
type RawReading struct {
	TagID  string
	Time   float64
	BaseID int
	RSSI   float64
	Magnet []byte // 3 x int16 little-endian
	Accel  []byte // int8 samples

	// payload text that did not parse as hex; reported when decoding
	magnetErr error
	accelErr  error
}

// ValidationError reports a sighting that cannot be used at all.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid sighting: " + e.Reason
	}
	return fmt.Sprintf("invalid sighting %s: %s", e.Field, e.Reason)
}

// Validate converts a wire sighting into a RawReading. It has no side effects.
func Validate(s Sighting, reg *bases.Registry) (RawReading, error) {
	if s.err != nil {
		return RawReading{}, &ValidationError{Reason: "not a JSON object"}
	}

	var r RawReading
	tag, err := stringField(s.TagID)
	if err != nil {
		return RawReading{}, &ValidationError{Field: "bdaddr", Reason: err.Error()}
	}
	if tag == "" {
		return RawReading{}, &ValidationError{Field: "bdaddr", Reason: "empty"}
	}
	r.TagID = tag

	if r.Time, err = numberField(s.Time); err != nil {
		return RawReading{}, &ValidationError{Field: "time", Reason: err.Error()}
	}
	if r.RSSI, err = numberField(s.RSSI); err != nil {
		return RawReading{}, &ValidationError{Field: "rssi", Reason: err.Error()}
	}

	base, err := numberField(s.BaseID)
	if err != nil {
		return RawReading{}, &ValidationError{Field: "baseId", Reason: err.Error()}
	}
	if base != math.Trunc(base) || math.Abs(base) > math.MaxInt32 {
		return RawReading{}, &ValidationError{Field: "baseId", Reason: fmt.Sprintf("%v is not an integer", base)}
	}
	r.BaseID = int(base)
	if !reg.Contains(r.BaseID) {
		return RawReading{}, &ValidationError{Field: "baseId", Reason: fmt.Sprintf("unknown base %d", r.BaseID)}
	}

	r.Magnet, r.magnetErr = payloadField(s.Magnet)
	r.Accel, r.accelErr = payloadField(s.Accel)
	return r, nil
}

func isMissing(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func stringField(raw json.RawMessage) (string, error) {
	if isMissing(raw) {
		return "", fmt.Errorf("missing")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("not a string")
	}
	return s, nil
}

// numberField accepts 42, -71.5 and "42"; the result must be finite.
func numberField(raw json.RawMessage) (float64, error) {
	if isMissing(raw) {
		return 0, fmt.Errorf("missing")
	}
	var v float64
	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return 0, fmt.Errorf("not a string")
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not numeric", s)
		}
		v = f
	} else if err := json.Unmarshal(trimmed, &v); err != nil {
		return 0, fmt.Errorf("not numeric")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not finite")
	}
	return v, nil
}

// payloadField parses optional hex text. A missing payload is not an error
// here; the decoder reports it.
func payloadField(raw json.RawMessage) ([]byte, error) {
	if isMissing(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, &sensor.DecodeError{Field: "hex", Reason: "payload is not a string"}
	}
	return sensor.ParseHex(s)
}
