// Package relay runs on each base: it forwards the capture tool's output to
// the broker, one packet per sighting.
package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"beacon-locator/internal/logging"
)

// ErrWatchdog is returned when no packet was published within the watchdog
// timeout. The capture tool is assumed stuck and should be restarted.
var ErrWatchdog = errors.New("relay watchdog expired")

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Framer groups capture lines into packets. A line starting with '>' opens a
// new packet and completes the previous one.
type Framer struct {
	buf strings.Builder
}

// Feed adds one line (without its newline). It returns the completed packet
// when line starts a new one. An empty previous packet is not reported.
func (f *Framer) Feed(line string) ([]byte, bool) {
	var packet []byte
	if strings.HasPrefix(line, ">") && f.buf.Len() > 0 {
		packet = []byte(f.buf.String())
		f.buf.Reset()
	}
	f.buf.WriteString(line)
	f.buf.WriteByte('\n')
	return packet, packet != nil
}

// Pending returns the partial packet.
func (f *Framer) Pending() string { return f.buf.String() }

// Relay publishes framed packets to a single topic.
type Relay struct {
	pub      Publisher
	topic    string
	watchdog time.Duration
	log      *slog.Logger
}

// New returns a relay. A zero watchdog disables it.
func New(pub Publisher, topic string, watchdog time.Duration, log *slog.Logger) *Relay {
	return &Relay{
		pub:      pub,
		topic:    topic,
		watchdog: watchdog,
		log:      logging.OrDiscard(log).With("component", "relay"),
	}
}

// Topic is the topic packets go to.
func (r *Relay) Topic() string { return r.topic }

// Run forwards packets read from src until src ends, ctx is cancelled or the
// watchdog fires. The watchdog is armed at start and re-armed after each
// published packet. Publish failures are logged; the packet is lost.
func (r *Relay) Run(ctx context.Context, src io.Reader) error {
	lines, readErr := scanLines(ctx, src)

	var expired <-chan time.Time
	var timer *time.Timer
	if r.watchdog > 0 {
		timer = time.NewTimer(r.watchdog)
		defer timer.Stop()
		expired = timer.C
	}

	var framer Framer
	published := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-expired:
			r.log.Error("no packet within watchdog timeout", "timeout", r.watchdog, "published", published)
			return ErrWatchdog
		case line, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return fmt.Errorf("failed to read capture: %w", err)
				}
				r.log.Info("capture ended", "published", published)
				return nil
			}
			packet, done := framer.Feed(line)
			if !done {
				continue
			}
			if err := r.pub.Publish(ctx, r.topic, packet); err != nil {
				r.log.Warn("failed to publish packet", "error", err)
				continue
			}
			published++
			if timer != nil {
				timer.Reset(r.watchdog)
			}
		}
	}
}

// scanLines reads src line by line on its own goroutine. The error channel
// yields exactly one value after lines is closed.
func scanLines(ctx context.Context, src io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string, 64)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(src)
		scanner.Buffer(make([]byte, 0, 4096), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimRight(scanner.Text(), "\r"):
			case <-ctx.Done():
				errc <- nil
				return
			}
		}
		errc <- scanner.Err()
	}()
	return lines, errc
}
