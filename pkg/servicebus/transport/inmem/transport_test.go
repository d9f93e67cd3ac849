package inmem

import (
	"context"
	"github.com/abecu-hub/go-bus/pkg/servicebus"
	"github.com/abecu-hub/go-bus/pkg/servicebus/mutation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestTransportSendAndReceive(t *testing.T) {
	ctx := context.Background()
	network := CreateNetwork()
	sender := Create(network, "")
	receiver := Create(network, "OrderService")
	assert.True(t, network.HasQueue("orderservice"))

	msg := servicebus.NewMessage(nil, []byte(`{"OrderId":"1"}`), mutation.Type("StartOrder"))
	require.NoError(t, sender.Send(ctx, receiver.Address(), msg))

	msg.Headers["changed"] = "after send"
	received, err := receiver.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, received)
	assert.Equal(t, "StartOrder", received.Headers[servicebus.HeaderType])
	assert.Equal(t, msg.MessageId(), received.MessageId())
	assert.NotContains(t, received.Headers, "changed")

	received, err = receiver.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, received)
}

func TestSendOnlyTransportCannotReceive(t *testing.T) {
	transport := Create(CreateNetwork(), "")
	_, err := transport.Receive(context.Background())
	assert.ErrorIs(t, err, ErrSendOnly)
	assert.ErrorIs(t, transport.ReturnToQueue(servicebus.NewMessage(nil, nil)), ErrSendOnly)
}

func TestTransportAgeCountsFromSend(t *testing.T) {
	c := &clock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	network := CreateNetwork(WithClock(c.Now))
	transport := Create(network, "q")

	msg := servicebus.NewMessage(nil, nil, mutation.TimeToBeReceived(time.Second))
	require.NoError(t, transport.Send(context.Background(), "q", msg))
	c.Advance(500 * time.Millisecond)
	received, err := transport.Receive(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, received)

	require.NoError(t, transport.Send(context.Background(), "q", msg))
	c.Advance(2 * time.Second)
	received, err = transport.Receive(context.Background())
	require.NoError(t, err)
	assert.Nil(t, received)
}

func TestReturnToQueue(t *testing.T) {
	ctx := context.Background()
	transport := Create(CreateNetwork(), "q")
	require.NoError(t, transport.Send(ctx, "q", servicebus.NewMessage(nil, []byte("x"))))

	received, err := transport.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, transport.ReturnToQueue(received))

	again, err := transport.Receive(ctx)
	require.NoError(t, err)
	assert.Same(t, received, again)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	transport := Create(CreateNetwork(), "q")

	assert.ErrorIs(t, transport.Send(ctx, "q", servicebus.NewMessage(nil, nil)), context.Canceled)
	_, err := transport.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNextWaitsForMessage(t *testing.T) {
	network := CreateNetwork()
	transport := Create(network, "q")

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = network.Deliver("q", servicebus.NewMessage(nil, []byte("late")), false)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := servicebus.Next(ctx, transport, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte("late"), msg.Body)
}

func TestNextStopsWhenCancelled(t *testing.T) {
	transport := Create(CreateNetwork(), "q")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := servicebus.Next(ctx, transport, time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
