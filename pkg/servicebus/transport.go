package servicebus

import (
	"context"
	"time"
)

/*
Transport moves raw messages between logical queues. Implementations must stay decoratable:
callers may wrap Send to enforce policies such as maximum payload sizes.
*/
type Transport interface {
	//Address of the input queue this transport receives from.
	Address() string
	CreateQueue(address string) error
	Send(ctx context.Context, destination string, msg *Message) error
	//Receive returns the next message of the input queue or nil if none is available.
	Receive(ctx context.Context) (*Message, error)
}

/*
Next polls the transport until a message arrives or ctx is done. Transports return nil from
Receive when nothing is available, so waiting is up to the caller.
*/
func Next(ctx context.Context, transport Transport, pollInterval time.Duration) (*Message, error) {
	for {
		msg, err := transport.Receive(ctx)
		if err != nil || msg != nil {
			return msg, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
