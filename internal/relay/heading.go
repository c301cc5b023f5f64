package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"beacon-locator/internal/logging"
	"beacon-locator/internal/sensor"
)

// monitorMarker identifies the magnetometer report in the capture dump.
const monitorMarker = "  A7 "

// ParseMonitorLine extracts the magnetometer axes from a capture dump line.
// ok is false for lines that are not magnetometer reports. The line is hex
// with spaces; byte 0 is the report id and bytes 1..6 the axes.
func ParseMonitorLine(line string) (axes sensor.Axes, ok bool, err error) {
	if !strings.Contains(line, monitorMarker) {
		return sensor.Axes{}, false, nil
	}
	raw, err := sensor.ParseHex(line)
	if err != nil {
		return sensor.Axes{}, true, err
	}
	if len(raw) < 7 {
		return sensor.Axes{}, true, &sensor.DecodeError{
			Field:  "magnet",
			Reason: fmt.Sprintf("report is %d bytes, want at least 7", len(raw)),
		}
	}
	axes, err = sensor.DecodeAxes(raw[1:7])
	return axes, true, err
}

// HeadingMonitor prints and publishes the heading of a single tag, for
// calibrating the magnetometer bounds.
type HeadingMonitor struct {
	pub   Publisher
	topic string
	cal   sensor.Calibration
	out   io.Writer
	log   *slog.Logger
}

// NewHeadingMonitor returns a monitor. out receives one line per report.
func NewHeadingMonitor(pub Publisher, topic string, cal sensor.Calibration, out io.Writer, log *slog.Logger) *HeadingMonitor {
	return &HeadingMonitor{
		pub:   pub,
		topic: topic,
		cal:   cal,
		out:   out,
		log:   logging.OrDiscard(log).With("component", "heading-monitor"),
	}
}

// Run handles lines from src until it ends or ctx is cancelled.
func (p *HeadingMonitor) Run(ctx context.Context, src io.Reader) error {
	lines, readErr := scanLines(ctx, src)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return fmt.Errorf("failed to read capture: %w", err)
				}
				return nil
			}
			p.handle(ctx, line)
		}
	}
}

func (p *HeadingMonitor) handle(ctx context.Context, line string) {
	axes, ok, err := ParseMonitorLine(line)
	if !ok {
		return
	}
	if err != nil {
		p.log.Debug("skipping report", "line", line, "error", err)
		return
	}

	heading := p.cal.Heading(axes)
	fmt.Fprintf(p.out, "x=%d,y=%d,z=%d,heading=%.2f\n", axes.X, axes.Y, axes.Z, heading)

	if p.pub == nil {
		return
	}
	payload := strconv.FormatFloat(heading, 'f', 2, 64)
	if err := p.pub.Publish(ctx, p.topic, []byte(payload)); err != nil {
		p.log.Warn("failed to publish heading", "error", err)
	}
}
