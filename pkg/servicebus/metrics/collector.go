package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"time"
)

const namespace = "gobus"

/*
Collector holds the prometheus instruments of the saga store, the timeout manager and the
in-memory network. A nil *Collector is valid and records nothing.
*/
type Collector struct {
	sagaOperations    *prometheus.CounterVec
	sagaConflicts     *prometheus.CounterVec
	timeoutsDeferred  prometheus.Counter
	timeoutsDue       prometheus.Counter
	timeoutsCompleted prometheus.Counter
	lockWait          prometheus.Histogram
	messagesDelivered *prometheus.CounterVec
	messagesReceived  *prometheus.CounterVec
	messagesExpired   *prometheus.CounterVec
}

// Create a collector and register its instruments on the given registerer.
func New(registerer prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		sagaOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "operations_total",
			Help:      "Saga store operations by operation name.",
		}, []string{"operation"}),
		sagaConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "conflicts_total",
			Help:      "Saga store operations rejected with a concurrency conflict.",
		}, []string{"operation"}),
		timeoutsDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timeout",
			Name:      "deferred_total",
			Help:      "Messages deferred for later delivery.",
		}),
		timeoutsDue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timeout",
			Name:      "due_total",
			Help:      "Deferred messages returned as due.",
		}),
		timeoutsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timeout",
			Name:      "completed_total",
			Help:      "Due messages removed after hand-off.",
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "timeout",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the timeout lock file.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		messagesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inmem",
			Name:      "delivered_total",
			Help:      "Messages delivered to in-memory queues.",
		}, []string{"queue"}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inmem",
			Name:      "received_total",
			Help:      "Messages taken from in-memory queues.",
		}, []string{"queue"}),
		messagesExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inmem",
			Name:      "expired_total",
			Help:      "Messages discarded because their TimeToBeReceived elapsed.",
		}, []string{"queue"}),
	}

	for _, collector := range []prometheus.Collector{
		c.sagaOperations, c.sagaConflicts,
		c.timeoutsDeferred, c.timeoutsDue, c.timeoutsCompleted, c.lockWait,
		c.messagesDelivered, c.messagesReceived, c.messagesExpired,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) SagaOperation(operation string) {
	if c == nil {
		return
	}
	c.sagaOperations.WithLabelValues(operation).Inc()
}

func (c *Collector) SagaConflict(operation string) {
	if c == nil {
		return
	}
	c.sagaConflicts.WithLabelValues(operation).Inc()
}

func (c *Collector) TimeoutDeferred() {
	if c == nil {
		return
	}
	c.timeoutsDeferred.Inc()
}

func (c *Collector) TimeoutDue() {
	if c == nil {
		return
	}
	c.timeoutsDue.Inc()
}

func (c *Collector) TimeoutCompleted() {
	if c == nil {
		return
	}
	c.timeoutsCompleted.Inc()
}

func (c *Collector) LockWait(d time.Duration) {
	if c == nil {
		return
	}
	c.lockWait.Observe(d.Seconds())
}

func (c *Collector) MessageDelivered(queue string) {
	if c == nil {
		return
	}
	c.messagesDelivered.WithLabelValues(queue).Inc()
}

func (c *Collector) MessageReceived(queue string) {
	if c == nil {
		return
	}
	c.messagesReceived.WithLabelValues(queue).Inc()
}

func (c *Collector) MessageExpired(queue string) {
	if c == nil {
		return
	}
	c.messagesExpired.WithLabelValues(queue).Inc()
}
