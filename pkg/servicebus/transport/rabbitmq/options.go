package rabbitmq

import "go.uber.org/zap"

func UsePriorityQueue(maxPriority uint8) func(*Transport) {
	return func(rmq *Transport) {
		if rmq.InputQueue.Args == nil {
			rmq.InputQueue.Args = make(map[string]interface{})
		}
		rmq.InputQueue.Args["x-max-priority"] = maxPriority
	}
}

// Declare queues as durable and publish persistent messages. Enabled by default.
func Durable(durable bool) func(*Transport) {
	return func(rmq *Transport) {
		rmq.InputQueue.Durable = durable
	}
}

func WithLogger(logger *zap.Logger) func(*Transport) {
	return func(rmq *Transport) {
		rmq.logger = logger
	}
}
