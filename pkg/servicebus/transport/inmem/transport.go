package inmem

import (
	"context"
	"errors"
	"github.com/abecu-hub/go-bus/pkg/servicebus"
)

var ErrSendOnly = errors.New("transport has no input queue")

// Transport moves messages through a Network. A transport without input queue can only send.
type Transport struct {
	network    *Network
	inputQueue string
}

func Create(network *Network, inputQueue string) *Transport {
	if inputQueue != "" {
		network.CreateQueue(inputQueue)
	}
	return &Transport{
		network:    network,
		inputQueue: inputQueue,
	}
}

var _ servicebus.Transport = (*Transport)(nil)

func (t *Transport) Address() string {
	return t.inputQueue
}

func (t *Transport) Network() *Network {
	return t.network
}

func (t *Transport) CreateQueue(address string) error {
	if address == "" {
		return ErrInvalidArgument
	}
	t.network.CreateQueue(address)
	return nil
}

// Send a copy of msg so that the sender can not change it while it is queued. Its age counts from now.
func (t *Transport) Send(ctx context.Context, destination string, msg *servicebus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg == nil {
		return ErrInvalidArgument
	}
	clone := msg.Clone()
	clone.CreatedAt = t.network.now()
	return t.network.Deliver(destination, clone, false)
}

func (t *Transport) Receive(ctx context.Context) (*servicebus.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.inputQueue == "" {
		return nil, ErrSendOnly
	}
	return t.network.GetNextOrNull(t.inputQueue)
}

// ReturnToQueue puts a received message back as if its receive had been rolled back.
func (t *Transport) ReturnToQueue(msg *servicebus.Message) error {
	if t.inputQueue == "" {
		return ErrSendOnly
	}
	return t.network.Deliver(t.inputQueue, msg, true)
}
