package rabbitmq

import (
	"context"
	"github.com/abecu-hub/go-bus/pkg/servicebus"
	"github.com/abecu-hub/go-bus/pkg/servicebus/mutation"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"testing"
	"time"
)

func TestCreatePublishingMapsProperties(t *testing.T) {
	created := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	msg := servicebus.NewMessage(map[string]string{"tenant": "acme"}, []byte("x"),
		mutation.MessageID("m-1"),
		mutation.CorrelationID("c-1"),
		mutation.Type("OrderPlaced"),
		mutation.TimeToBeReceived(90*time.Second),
	)
	msg.CreatedAt = created

	publishing, err := createPublishing(msg, true)
	require.NoError(t, err)
	assert.Equal(t, "m-1", publishing.MessageId)
	assert.Equal(t, "c-1", publishing.CorrelationId)
	assert.Equal(t, "OrderPlaced", publishing.Type)
	assert.Equal(t, "90000", publishing.Expiration)
	assert.Equal(t, amqp.Persistent, publishing.DeliveryMode)
	assert.Equal(t, created, publishing.Timestamp)
	assert.Equal(t, "acme", publishing.Headers["tenant"])
	assert.Equal(t, []byte("x"), publishing.Body)
}

func TestCreatePublishingWithoutTimeToBeReceived(t *testing.T) {
	publishing, err := createPublishing(servicebus.NewMessage(nil, nil), false)
	require.NoError(t, err)
	assert.Empty(t, publishing.Expiration)
	assert.Zero(t, publishing.DeliveryMode)
}

func TestCreatePublishingRejectsInvalidTimeToBeReceived(t *testing.T) {
	msg := servicebus.NewMessage(map[string]string{servicebus.HeaderTimeToBeReceived: "soon"}, nil)
	_, err := createPublishing(msg, true)
	assert.ErrorIs(t, err, servicebus.ErrInvalidTimeToBeReceived)
}

func TestCreateMessageFromDelivery(t *testing.T) {
	created := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	msg := createMessage(&amqp.Delivery{
		Headers:       amqp.Table{"tenant": "acme", "attempt": int32(2)},
		MessageId:     "m-1",
		CorrelationId: "c-1",
		Type:          "OrderPlaced",
		Timestamp:     created,
		Body:          []byte("x"),
	})

	assert.Equal(t, "m-1", msg.MessageId())
	assert.Equal(t, "c-1", msg.Headers[servicebus.HeaderCorrelationId])
	assert.Equal(t, "OrderPlaced", msg.Headers[servicebus.HeaderType])
	assert.Equal(t, "acme", msg.Headers["tenant"])
	assert.Equal(t, "2", msg.Headers["attempt"])
	assert.Equal(t, created, msg.CreatedAt)
}

func TestCreateMessageStampsMissingTimestamp(t *testing.T) {
	msg := createMessage(&amqp.Delivery{})
	assert.False(t, msg.CreatedAt.IsZero())
	assert.Equal(t, "<no message ID>", msg.MessageId())
}

func TestOptions(t *testing.T) {
	rmq := Create("amqp://localhost", "orders", UsePriorityQueue(5), Durable(false))
	assert.Equal(t, "orders", rmq.Address())
	assert.False(t, rmq.InputQueue.Durable)
	assert.Equal(t, uint8(5), rmq.InputQueue.Args["x-max-priority"])
}

func TestSendOnlyTransportCannotReceive(t *testing.T) {
	_, err := Create("amqp://localhost", "").Receive(context.Background())
	assert.Error(t, err)
}

func TestBrokerRoundTrip(t *testing.T) {
	url := os.Getenv("GOBUS_AMQP_URL")
	if url == "" {
		t.Skip("GOBUS_AMQP_URL not set")
	}
	ctx := context.Background()
	queue := "gobus-test-" + servicebus.NewMessage(nil, nil).MessageId()
	rmq := Create(url, queue, Durable(false))
	defer rmq.Close()

	msg := servicebus.NewMessage(nil, []byte("hello"), mutation.Type("Greeting"))
	require.NoError(t, rmq.Send(ctx, queue, msg))

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	received, err := servicebus.Next(waitCtx, rmq, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, msg.MessageId(), received.MessageId())
	assert.Equal(t, []byte("hello"), received.Body)
	assert.Equal(t, "Greeting", received.Headers[servicebus.HeaderType])

	ch, err := rmq.currentChannel()
	require.NoError(t, err)
	_, err = ch.QueueDelete(queue, false, false, false)
	assert.NoError(t, err)
}
