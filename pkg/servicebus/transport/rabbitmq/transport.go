package rabbitmq

import (
	"context"
	"fmt"
	"github.com/abecu-hub/go-bus/pkg/servicebus"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
	"strconv"
	"sync"
	"time"
)

type Transport struct {
	Url        string
	InputQueue Queue
	mu         sync.Mutex
	connection *amqp.Connection
	channel    *amqp.Channel
	logger     *zap.Logger
}

type Queue struct {
	Name    string
	Durable bool
	Args    amqp.Table
}

/*
Create a new RabbitMQ Transport receiving from the given input queue. Leave the input queue empty
for a transport that only sends. The connection is opened lazily by the first operation.
*/
func Create(url string, inputQueue string, options ...func(*Transport)) *Transport {
	rmq := &Transport{
		Url: url,
		InputQueue: Queue{
			Name:    inputQueue,
			Durable: true,
		},
		logger: zap.NewNop(),
	}

	for _, option := range options {
		option(rmq)
	}

	return rmq
}

var _ servicebus.Transport = (*Transport)(nil)

func (rmq *Transport) connect() error {
	conn, err := amqp.Dial(rmq.Url)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	if rmq.InputQueue.Name != "" {
		_, err = ch.QueueDeclare(rmq.InputQueue.Name, rmq.InputQueue.Durable, false, false, false, rmq.InputQueue.Args)
		if err != nil {
			_ = conn.Close()
			return err
		}
	}

	rmq.connection = conn
	rmq.channel = ch
	rmq.logger.Debug("connected to RabbitMQ", zap.String("queue", rmq.InputQueue.Name))
	return nil
}

// currentChannel returns an open channel, reconnecting if the connection has been lost.
func (rmq *Transport) currentChannel() (*amqp.Channel, error) {
	rmq.mu.Lock()
	defer rmq.mu.Unlock()

	if rmq.connection != nil && !rmq.connection.IsClosed() {
		return rmq.channel, nil
	}
	if rmq.connection != nil {
		rmq.logger.Warn("RabbitMQ connection lost, reconnecting")
	}
	if err := rmq.connect(); err != nil {
		return nil, fmt.Errorf("error connecting to RabbitMQ transport: %w", err)
	}
	return rmq.channel, nil
}

func (rmq *Transport) Address() string {
	return rmq.InputQueue.Name
}

func (rmq *Transport) CreateQueue(address string) error {
	ch, err := rmq.currentChannel()
	if err != nil {
		return err
	}
	_, err = ch.QueueDeclare(address, rmq.InputQueue.Durable, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("error declaring queue %s: %w", address, err)
	}
	return nil
}

func (rmq *Transport) Send(ctx context.Context, destination string, msg *servicebus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	publishing, err := createPublishing(msg, rmq.InputQueue.Durable)
	if err != nil {
		return err
	}

	ch, err := rmq.currentChannel()
	if err != nil {
		return err
	}
	err = ch.Publish("", destination, false, false, *publishing)
	if err != nil {
		return err
	}
	return nil
}

func (rmq *Transport) Receive(ctx context.Context) (*servicebus.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if rmq.InputQueue.Name == "" {
		return nil, fmt.Errorf("transport has no input queue")
	}

	ch, err := rmq.currentChannel()
	if err != nil {
		return nil, err
	}
	d, ok, err := ch.Get(rmq.InputQueue.Name, true)
	if err != nil {
		return nil, fmt.Errorf("error consuming messages from RabbitMQ transport: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return createMessage(&d), nil
}

func (rmq *Transport) Close() error {
	rmq.mu.Lock()
	defer rmq.mu.Unlock()

	if rmq.connection == nil {
		return nil
	}
	err := rmq.connection.Close()
	rmq.connection = nil
	rmq.channel = nil
	if err == amqp.ErrClosed {
		return nil
	}
	return err
}

func (rmq *Transport) GetConnection() *amqp.Connection {
	rmq.mu.Lock()
	defer rmq.mu.Unlock()
	return rmq.connection
}

/*
createPublishing maps the message onto AMQP properties. TimeToBeReceived becomes the per-message
expiration so that the broker discards the message once it is too old.
*/
func createPublishing(msg *servicebus.Message, durable bool) (*amqp.Publishing, error) {
	headers := make(amqp.Table, len(msg.Headers))
	for k, v := range msg.Headers {
		headers[k] = v
	}

	publishing := &amqp.Publishing{
		Headers:       headers,
		Body:          msg.Body,
		MessageId:     msg.Headers[servicebus.HeaderMessageId],
		CorrelationId: msg.Headers[servicebus.HeaderCorrelationId],
		Type:          msg.Headers[servicebus.HeaderType],
		Timestamp:     msg.CreatedAt,
	}
	if durable {
		publishing.DeliveryMode = amqp.Persistent
	}

	if raw, ok := msg.Headers[servicebus.HeaderTimeToBeReceived]; ok {
		ttl, err := servicebus.ParseTimeToBeReceived(raw)
		if err != nil {
			return nil, err
		}
		if ttl < 0 {
			ttl = 0
		}
		publishing.Expiration = strconv.FormatInt(ttl.Milliseconds(), 10)
	}
	return publishing, nil
}

func createMessage(d *amqp.Delivery) *servicebus.Message {
	msg := &servicebus.Message{
		Headers:   make(map[string]string, len(d.Headers)+3),
		Body:      d.Body,
		CreatedAt: d.Timestamp,
	}
	for k, v := range d.Headers {
		msg.Headers[k] = fmt.Sprint(v)
	}
	if d.MessageId != "" {
		msg.Headers[servicebus.HeaderMessageId] = d.MessageId
	}
	if d.CorrelationId != "" {
		msg.Headers[servicebus.HeaderCorrelationId] = d.CorrelationId
	}
	if d.Type != "" {
		msg.Headers[servicebus.HeaderType] = d.Type
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return msg
}
