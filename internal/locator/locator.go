// Package locator runs the live service: batches arrive over MQTT, each is
// turned into a fix document, and the document goes to the fix file, the
// websocket clients and optionally back to the broker.
package locator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"beacon-locator/internal/config"
	"beacon-locator/internal/emitter"
	"beacon-locator/internal/filewriter"
	"beacon-locator/internal/logging"
	"beacon-locator/internal/metrics"
	"beacon-locator/internal/motion"
	"beacon-locator/internal/processor"
	"beacon-locator/internal/transport"
	"beacon-locator/internal/web"
)

const (
	queueSize         = 64
	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second
)

// Broker is the MQTT session the locator needs.
type Broker interface {
	Subscribe(ctx context.Context, filter string, h transport.Handler) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Lost() <-chan struct{}
	Err() error
	Close() error
}

// Dialer opens a broker session.
type Dialer func(ctx context.Context) (Broker, error)

type Locator struct {
	config   *config.Config
	log      *slog.Logger
	registry prometheus.Registerer

	metrics *metrics.Collector
	proc    *processor.Processor
	writer  *filewriter.Writer
	hub     *web.Hub
	web     *web.Server
	store   *motion.Store
	dial    Dialer

	batches chan []byte

	mu     sync.RWMutex
	broker Broker

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLocator returns an uninitialised locator. reg receives the metrics; nil
// means the global Prometheus registry.
func NewLocator(cfg *config.Config, log *slog.Logger, reg prometheus.Registerer) *Locator {
	return &Locator{
		config:   cfg,
		log:      logging.OrDiscard(log),
		registry: reg,
		batches:  make(chan []byte, queueSize),
		stopChan: make(chan struct{}),
	}
}

// SetDialer replaces the MQTT dialer. Call before Run.
func (l *Locator) SetDialer(d Dialer) { l.dial = d }

// Initialize builds the pipeline and restores saved motion state.
func (l *Locator) Initialize() error {
	var err error

	l.metrics, err = metrics.New(l.registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	l.proc, err = processor.FromConfig(l.config, l.metrics, l.log.With("component", "processor"))
	if err != nil {
		return fmt.Errorf("failed to build processor: %w", err)
	}

	if l.config.Output.FixFile != "" {
		l.writer = filewriter.NewWriter(l.config.Output.FixFile)
	}

	if l.config.State.Path != "" {
		l.store, err = motion.Open(l.config.State.Path)
		if err != nil {
			return err
		}
		snap, err := l.store.Load(context.Background())
		if err != nil {
			l.store.Close()
			l.store = nil
			return fmt.Errorf("failed to restore motion state: %w", err)
		}
		l.proc.Tracker().Restore(snap)
		l.log.Info("motion state restored", "tags", len(snap), "path", l.config.State.Path)
	}

	l.hub = web.NewHub(l.metrics.SetWebClients, l.log.With("component", "web"))
	if l.config.Web.Enabled {
		l.web = web.NewServer(l.hub, l.metrics.Handler(), l.log.With("component", "web"))
	}

	if l.dial == nil {
		opts := transport.OptionsFromConfig(l.config.MQTT)
		mlog := l.log
		l.dial = func(ctx context.Context) (Broker, error) {
			c, err := transport.Dial(ctx, opts, "beacon-locator", mlog)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	return nil
}

// Run serves until ctx is cancelled or Stop is called. A lost broker
// connection is re-established with backoff.
func (l *Locator) Run(ctx context.Context) error {
	if l.proc == nil {
		return errors.New("locator not initialized")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	webErr := make(chan error, 1)
	if l.web != nil {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			webErr <- l.web.Start(ctx, l.config.Web.Listen)
		}()
	} else {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.hub.Run(ctx)
		}()
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.processLoop(ctx)
	}()

	if l.store != nil && l.config.State.SaveInterval > 0 {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.saveLoop(ctx)
		}()
	}

	err := l.connectLoop(ctx, webErr)
	cancel()
	l.wg.Wait()
	return err
}

// connectLoop keeps a broker session subscribed to the batch topic.
func (l *Locator) connectLoop(ctx context.Context, webErr <-chan error) error {
	delay := minReconnectDelay
	for {
		broker, err := l.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.log.Warn("broker unavailable", "error", err, "retry_in", delay)
		} else {
			delay = minReconnectDelay
			select {
			case <-ctx.Done():
				l.setBroker(nil)
				broker.Close()
				return nil
			case err := <-webErr:
				l.setBroker(nil)
				broker.Close()
				return err
			case <-broker.Lost():
				l.setBroker(nil)
				l.log.Warn("broker connection lost", "error", broker.Err())
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case err := <-webErr:
			return err
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (l *Locator) connect(ctx context.Context) (Broker, error) {
	broker, err := l.dial(ctx)
	if err != nil {
		return nil, err
	}
	topic := l.config.MQTT.BatchTopic
	if err := broker.Subscribe(ctx, topic, l.enqueue); err != nil {
		broker.Close()
		return nil, err
	}
	l.setBroker(broker)
	l.log.Info("waiting for batches", "topic", topic)
	return broker, nil
}

// enqueue runs on the MQTT client's goroutine and must not block.
func (l *Locator) enqueue(topic string, payload []byte) {
	select {
	case l.batches <- payload:
	default:
		l.log.Warn("batch queue full, dropping batch", "topic", topic, "bytes", len(payload))
		l.metrics.BatchProcessed(false, 0)
	}
}

func (l *Locator) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-l.batches:
			l.HandleBatch(ctx, payload)
		}
	}
}

func (l *Locator) saveLoop(ctx context.Context) {
	ticker := time.NewTicker(l.config.State.SaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.SaveState(ctx); err != nil {
				l.log.Warn("failed to save motion state", "error", err)
			}
		}
	}
}

// HandleBatch processes one payload and delivers the resulting document.
// Delivery failures are logged; the document is still returned.
func (l *Locator) HandleBatch(ctx context.Context, payload []byte) emitter.Document {
	doc := l.proc.ProcessPayload(payload)

	data, err := json.Marshal(doc)
	if err != nil {
		l.log.Error("failed to encode fix document", "error", err)
		return doc
	}

	if l.writer != nil {
		err := l.writer.WriteFile(doc)
		l.metrics.DocumentPublished("file", err)
		if err != nil {
			l.log.Warn("failed to write fix file", "path", l.writer.Path(), "error", err)
		}
	}

	l.hub.Broadcast(data)

	if topic := l.config.MQTT.FixTopic; topic != "" {
		if broker := l.currentBroker(); broker != nil {
			err := broker.Publish(ctx, topic, data)
			l.metrics.DocumentPublished("mqtt", err)
			if err != nil {
				l.log.Warn("failed to publish fix document", "topic", topic, "error", err)
			}
		}
	}

	l.log.Info("batch located", "fixes", len(doc.Chairs))
	return doc
}

// SaveState writes the motion snapshot to the state database, if configured.
func (l *Locator) SaveState(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	return l.store.Save(ctx, l.proc.Tracker().Snapshot())
}

func (l *Locator) setBroker(b Broker) {
	l.mu.Lock()
	l.broker = b
	l.mu.Unlock()
}

func (l *Locator) currentBroker() Broker {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.broker
}

// Stop ends Run.
func (l *Locator) Stop() {
	l.stopOnce.Do(func() { close(l.stopChan) })
}

// Close stops the locator, saves the motion state and releases the store.
func (l *Locator) Close() error {
	l.Stop()

	var errs []error
	if l.store != nil {
		if err := l.SaveState(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("failed to save motion state: %w", err))
		}
		if err := l.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close state store: %w", err))
		}
		l.store = nil
	}
	return errors.Join(errs...)
}
