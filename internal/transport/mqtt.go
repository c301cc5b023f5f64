// Package transport connects the locator tools to the MQTT broker.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"beacon-locator/internal/config"
	"beacon-locator/internal/logging"
)

// ErrConnectionLost is reported by Err after the broker link dropped.
var ErrConnectionLost = errors.New("mqtt connection lost")

// Handler receives one message.
type Handler func(topic string, payload []byte)

// Options holds broker connection parameters.
type Options struct {
	Host           string
	Port           int
	ClientID       string // generated from prefix when empty
	Username       string
	Password       string
	KeepAlive      uint16
	ConnectTimeout time.Duration
	QoS            byte
}

// OptionsFromConfig converts the mqtt section of the configuration.
func OptionsFromConfig(c config.MQTTConfig) Options {
	return Options{
		Host:           c.Host,
		Port:           c.Port,
		ClientID:       c.ClientID,
		Username:       c.Username,
		Password:       c.Password,
		KeepAlive:      c.KeepAlive,
		ConnectTimeout: c.ConnectTimeout,
		QoS:            c.QoS,
	}
}

// ClientID returns id, or prefix plus a random suffix when id is empty.
func ClientID(id, prefix string) string {
	if id != "" {
		return id
	}
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

type subscription struct {
	filter  string
	handler Handler
}

// Client is a connected MQTT v5 session.
type Client struct {
	cli  *paho.Client
	opts Options
	log  *slog.Logger

	mu   sync.RWMutex
	subs []subscription

	lost     chan struct{}
	lostOnce sync.Once
	lostErr  error
}

// Dial connects to the broker described by opts. prefix names the tool in a
// generated client id.
func Dial(ctx context.Context, opts Options, prefix string, log *slog.Logger) (*Client, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	opts.ClientID = ClientID(opts.ClientID, prefix)

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to reach broker %s: %w", addr, err)
	}

	c := &Client{
		opts: opts,
		log:  logging.OrDiscard(log).With("component", "mqtt"),
		lost: make(chan struct{}),
	}
	c.cli = paho.NewClient(paho.ClientConfig{
		ClientID: opts.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				c.dispatch(pr.Packet.Topic, pr.Packet.Payload)
				return true, nil
			},
		},
		OnClientError: func(err error) {
			c.connectionLost(err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			c.connectionLost(fmt.Errorf("server disconnect, reason %d", d.ReasonCode))
		},
	})

	connect := &paho.Connect{
		ClientID:   opts.ClientID,
		KeepAlive:  opts.KeepAlive,
		CleanStart: true,
	}
	if opts.Username != "" {
		connect.Username = opts.Username
		connect.UsernameFlag = true
	}
	if opts.Password != "" {
		connect.Password = []byte(opts.Password)
		connect.PasswordFlag = true
	}

	ack, err := c.cli.Connect(ctx, connect)
	if err != nil {
		conn.Close()
		if ack != nil {
			return nil, fmt.Errorf("broker refused connection (reason %d): %w", ack.ReasonCode, err)
		}
		return nil, fmt.Errorf("failed to connect to broker %s: %w", addr, err)
	}

	c.log.Info("connected", "broker", addr, "client_id", opts.ClientID)
	return c, nil
}

// ID returns the client identifier in use.
func (c *Client) ID() string { return c.opts.ClientID }

// Subscribe registers h for messages matching filter and subscribes to it.
func (c *Client) Subscribe(ctx context.Context, filter string, h Handler) error {
	c.mu.Lock()
	c.subs = append(c.subs, subscription{filter: filter, handler: h})
	c.mu.Unlock()

	if _, err := c.cli.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: c.opts.QoS}},
	}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", filter, err)
	}
	c.log.Info("subscribed", "topic", filter)
	return nil
}

// Publish sends payload to topic.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if _, err := c.cli.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     c.opts.QoS,
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Lost is closed when the connection drops.
func (c *Client) Lost() <-chan struct{} { return c.lost }

// Err returns why the connection dropped, or nil while it is up.
func (c *Client) Err() error {
	select {
	case <-c.lost:
		return c.lostErr
	default:
		return nil
	}
}

// Close disconnects cleanly.
func (c *Client) Close() error {
	c.lostOnce.Do(func() {
		c.lostErr = net.ErrClosed
		close(c.lost)
	})
	return c.cli.Disconnect(&paho.Disconnect{ReasonCode: 0})
}

func (c *Client) connectionLost(err error) {
	c.lostOnce.Do(func() {
		c.lostErr = fmt.Errorf("%w: %v", ErrConnectionLost, err)
		c.log.Warn("connection lost", "error", err)
		close(c.lost)
	})
}

func (c *Client) dispatch(topic string, payload []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.subs {
		if MatchTopic(s.filter, topic) {
			s.handler(topic, payload)
		}
	}
}

// MatchTopic reports whether topic matches filter, honouring the + and #
// wildcards.
func MatchTopic(filter, topic string) bool {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, f := range fl {
		if f == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
