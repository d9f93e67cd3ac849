package inmem

import (
	"errors"
	"fmt"
	"github.com/abecu-hub/go-bus/pkg/servicebus"
	"github.com/abecu-hub/go-bus/pkg/servicebus/metrics"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"sync"
	"sync/atomic"
	"time"
)

var ErrInvalidArgument = errors.New("invalid argument")

var networkIDCounter int64

type queue struct {
	mu       sync.Mutex
	messages []*servicebus.Message
}

func (q *queue) enqueue(msg *servicebus.Message) {
	q.mu.Lock()
	q.messages = append(q.messages, msg)
	q.mu.Unlock()
}

func (q *queue) dequeue() *servicebus.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return nil
	}
	msg := q.messages[0]
	q.messages[0] = nil
	q.messages = q.messages[1:]
	return msg
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

/*
Network is a namespace of named in-memory FIFO queues that simulates a message broker.
Queue addresses are case-insensitive and queues are created on first use. Queues are unbounded,
producers have to pace themselves if memory must stay bounded.
*/
type Network struct {
	id      string
	mu      sync.RWMutex
	queues  map[string]*queue
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Collector
}

// Diagnostic output of the network. Logging never affects delivery.
func WithLogger(logger *zap.Logger) func(*Network) {
	return func(network *Network) {
		network.logger = logger
	}
}

func WithClock(now func() time.Time) func(*Network) {
	return func(network *Network) {
		network.now = now
	}
}

func WithMetrics(collector *metrics.Collector) func(*Network) {
	return func(network *Network) {
		network.metrics = collector
	}
}

func CreateNetwork(options ...func(*Network)) *Network {
	network := &Network{
		id:     fmt.Sprintf("In-mem network %d", atomic.AddInt64(&networkIDCounter, 1)),
		queues: make(map[string]*queue),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, option := range options {
		option(network)
	}
	network.logger = network.logger.With(zap.String("network", network.id))
	network.logger.Debug("created in-mem network")
	return network
}

func (network *Network) ID() string {
	return network.id
}

// Reset deletes all queues and their messages.
func (network *Network) Reset() {
	network.mu.Lock()
	network.queues = make(map[string]*queue)
	network.mu.Unlock()
	network.logger.Info("reset in-mem network")
}

/*
Deliver appends msg to the queue of destinationAddress. Quiet deliveries are not logged, which
lets a transport put a message back as if a queue transaction had been rolled back.
*/
func (network *Network) Deliver(destinationAddress string, msg *servicebus.Message, quiet bool) error {
	if destinationAddress == "" {
		return fmt.Errorf("%w: destination address is empty", ErrInvalidArgument)
	}
	if msg == nil {
		return fmt.Errorf("%w: message is nil", ErrInvalidArgument)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = network.now()
	}

	network.getOrCreate(destinationAddress).enqueue(msg)
	network.metrics.MessageDelivered(network.key(destinationAddress))
	if !quiet {
		network.logger.Debug("delivered message",
			zap.String("messageId", msg.MessageId()),
			zap.String("destination", destinationAddress))
	}
	return nil
}

/*
GetNextOrNull takes the next message from the queue. It returns nil if the queue is empty or if
the message taken has outlived its TimeToBeReceived; the expired message is discarded.
*/
func (network *Network) GetNextOrNull(inputQueueName string) (*servicebus.Message, error) {
	if inputQueueName == "" {
		return nil, fmt.Errorf("%w: input queue name is empty", ErrInvalidArgument)
	}

	msg := network.getOrCreate(inputQueueName).dequeue()
	if msg == nil {
		return nil, nil
	}

	if msg.Expired(network.now()) {
		network.metrics.MessageExpired(network.key(inputQueueName))
		network.logger.Info("discarded expired message",
			zap.String("messageId", msg.MessageId()),
			zap.String("queue", inputQueueName),
			zap.String("timeToBeReceived", msg.Headers[servicebus.HeaderTimeToBeReceived]))
		return nil, nil
	}

	network.metrics.MessageReceived(network.key(inputQueueName))
	network.logger.Debug("received message",
		zap.String("messageId", msg.MessageId()),
		zap.String("queue", inputQueueName))
	return msg, nil
}

func (network *Network) HasQueue(address string) bool {
	network.mu.RLock()
	defer network.mu.RUnlock()
	_, ok := network.queues[network.key(address)]
	return ok
}

// CreateQueue creates the queue if it does not exist yet.
func (network *Network) CreateQueue(address string) {
	network.getOrCreate(address)
}

// Count returns the number of messages waiting in the queue, including expired ones.
func (network *Network) Count(address string) int {
	network.mu.RLock()
	q, ok := network.queues[network.key(address)]
	network.mu.RUnlock()
	if !ok {
		return 0
	}
	return q.len()
}

func (network *Network) getOrCreate(address string) *queue {
	key := network.key(address)

	network.mu.RLock()
	q, ok := network.queues[key]
	network.mu.RUnlock()
	if ok {
		return q
	}

	network.mu.Lock()
	defer network.mu.Unlock()
	if q, ok = network.queues[key]; ok {
		return q
	}
	q = &queue{}
	network.queues[key] = q
	return q
}

/*
key lowercases the address so that lookups are case-insensitive. Lowercasing maps characters one to
one, unlike full case folding, which would make "straße" and "STRASSE" the same queue.
A Caser is not safe for concurrent use, so every call gets its own.
*/
func (network *Network) key(address string) string {
	return cases.Lower(language.Und).String(address)
}
