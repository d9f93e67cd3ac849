package mutation

import (
	"github.com/abecu-hub/go-bus/pkg/servicebus"
	"time"
)

func Header(key string, value string) servicebus.Mutation {
	return func(msg *servicebus.Message) {
		msg.Headers[key] = value
	}
}

func MessageID(id string) servicebus.Mutation {
	return Header(servicebus.HeaderMessageId, id)
}

func CorrelationID(id string) servicebus.Mutation {
	return Header(servicebus.HeaderCorrelationId, id)
}

func Type(messageType string) servicebus.Mutation {
	return Header(servicebus.HeaderType, messageType)
}

// Discard the message if it has not been received within the given duration.
func TimeToBeReceived(d time.Duration) servicebus.Mutation {
	return Header(servicebus.HeaderTimeToBeReceived, servicebus.FormatTimeToBeReceived(d))
}

// Mark the message for deferred delivery to the given recipient.
func DeferUntil(due time.Time, recipient string) servicebus.Mutation {
	return func(msg *servicebus.Message) {
		msg.Headers[servicebus.HeaderDeferredUntil] = due.UTC().Format(time.RFC3339Nano)
		if recipient != "" {
			msg.Headers[servicebus.HeaderDeferredRecipient] = recipient
		}
	}
}
