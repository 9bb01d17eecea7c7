package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidting0918/vegaexchange/pkg/eventbus"
)

func newTestClient() *Client {
	return &Client{
		subscriptions: make(map[string]bool),
		notify:        make(chan struct{}, 1),
		closed:        make(chan struct{}),
		log:           zap.NewNop(),
	}
}

func TestDeliverQueuesFrameAndNotifies(t *testing.T) {
	c := newTestClient()
	c.Deliver(eventbus.Event{Channel: "user", Data: map[string]string{"balance": "100"}})

	frames := c.drain()
	require.Len(t, frames, 1)

	var frame WSServerFrame
	require.NoError(t, json.Unmarshal(frames[0].payload, &frame))
	require.Equal(t, "user", frame.Channel)
}

func TestDeliverOverflowDropsOldestSameChannelFrame(t *testing.T) {
	c := newTestClient()

	for i := 0; i < outboxCapacity; i++ {
		c.Deliver(eventbus.Event{Channel: "pool:BTC/USDT-USDT:SPOT", Data: i})
	}
	// queue is now full of pool frames; one more pool frame should evict
	// the oldest pool frame rather than growing past capacity.
	c.Deliver(eventbus.Event{Channel: "pool:BTC/USDT-USDT:SPOT", Data: "newest"})

	c.qmu.Lock()
	size := len(c.queue)
	first := c.queue[0]
	last := c.queue[len(c.queue)-1]
	c.qmu.Unlock()

	require.Equal(t, outboxCapacity, size, "queue must stay bounded at capacity")
	require.Equal(t, uint64(1), c.Overflow())

	var firstFrame, lastFrame WSServerFrame
	require.NoError(t, json.Unmarshal(first.payload, &firstFrame))
	require.NoError(t, json.Unmarshal(last.payload, &lastFrame))
	require.NotEqual(t, float64(0), firstFrame.Data, "the oldest pool frame (index 0) should have been evicted")
	require.Equal(t, "newest", lastFrame.Data)
}

func TestDeliverOverflowFallsBackToOldestOverallWhenNoSameChannelVictim(t *testing.T) {
	c := newTestClient()

	// fill the queue with "user" channel frames, then overflow with a
	// "trade" channel frame: no same-channel victim exists, so index 0
	// (the oldest "user" frame) is dropped instead.
	for i := 0; i < outboxCapacity; i++ {
		c.Deliver(eventbus.Event{Channel: "user", Data: i})
	}
	c.Deliver(eventbus.Event{Channel: "trade", Data: "firehose"})

	c.qmu.Lock()
	size := len(c.queue)
	first := c.queue[0]
	c.qmu.Unlock()

	require.Equal(t, outboxCapacity, size)
	var firstFrame WSServerFrame
	require.NoError(t, json.Unmarshal(first.payload, &firstFrame))
	require.Equal(t, float64(1), firstFrame.Data, "frame 0 for \"user\" was evicted, frame 1 is now oldest")
}

func TestSubscribeUserChannelRequiresAuth(t *testing.T) {
	c := newTestClient()
	err := c.subscribe("user")
	require.Error(t, err)

	c.hub = &Hub{bus: eventbus.New()}
	c.userID = "100001"
	require.NoError(t, c.subscribe("user"))
}

func TestSubscribeIsIdempotent(t *testing.T) {
	c := newTestClient()
	bus := eventbus.New()
	c.hub = &Hub{bus: bus}
	c.userID = "100001"

	require.NoError(t, c.subscribe("user"))
	require.NoError(t, c.subscribe("user"))
	require.Equal(t, 1, bus.SubscriberCount("user"))
}
