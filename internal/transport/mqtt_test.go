package transport

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon-locator/internal/config"
)

// startBroker runs an in-process broker on a free local port.
func startBroker(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	server := mochi.New(nil)
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		Address: net.JoinHostPort("localhost", strconv.Itoa(port)),
	})))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { server.Close() })
	return port
}

func testOptions(port int) Options {
	opts := OptionsFromConfig(config.DefaultConfig().MQTT)
	opts.Host = "localhost"
	opts.Port = port
	opts.ConnectTimeout = 5 * time.Second
	return opts
}

func TestPublishSubscribe(t *testing.T) {
	port := startBroker(t)
	ctx := context.Background()

	sub, err := Dial(ctx, testOptions(port), "test-sub", nil)
	require.NoError(t, err)
	defer sub.Close()

	got := make(chan string, 4)
	require.NoError(t, sub.Subscribe(ctx, "/beacons/base/+", func(topic string, payload []byte) {
		got <- topic + " " + string(payload)
	}))

	pub, err := Dial(ctx, testOptions(port), "test-pub", nil)
	require.NoError(t, err)
	defer pub.Close()
	assert.NotEqual(t, sub.ID(), pub.ID())

	require.NoError(t, pub.Publish(ctx, "/beacons/fromdb", []byte("ignored")))
	require.NoError(t, pub.Publish(ctx, "/beacons/base/2", []byte("> packet")))

	select {
	case msg := <-got:
		assert.Equal(t, "/beacons/base/2 > packet", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
	assert.NoError(t, sub.Err())
}

func TestCloseMarksClientLost(t *testing.T) {
	port := startBroker(t)
	c, err := Dial(context.Background(), testOptions(port), "test", nil)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	select {
	case <-c.Lost():
	default:
		t.Fatal("Lost not closed after Close")
	}
	assert.Error(t, c.Err())
}

func TestDialUnreachableBroker(t *testing.T) {
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	opts := testOptions(port)
	opts.ConnectTimeout = time.Second
	_, err = Dial(context.Background(), opts, "test", nil)
	assert.Error(t, err)
}

func TestClientID(t *testing.T) {
	assert.Equal(t, "fixed", ClientID("fixed", "locator"))

	a, b := ClientID("", "locator"), ClientID("", "locator")
	assert.Regexp(t, `^locator-[0-9a-f]{12}$`, a)
	assert.NotEqual(t, a, b)
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"/beacons/fromdb", "/beacons/fromdb", true},
		{"/beacons/fromdb", "/beacons/fromdb/x", false},
		{"/beacons/base/+", "/beacons/base/3", true},
		{"/beacons/base/+", "/beacons/base", false},
		{"/beacons/#", "/beacons/base/3", true},
		{"/beacons/#", "/beacons", true},
		{"/beacons/+/3", "/beacons/base/4", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchTopic(tt.filter, tt.topic), "%s vs %s", tt.filter, tt.topic)
	}
}
