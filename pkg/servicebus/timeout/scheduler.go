package timeout

import (
	"context"
	"errors"
	"github.com/abecu-hub/go-bus/pkg/servicebus"
	"go.uber.org/zap"
	"time"
)

const defaultInterval = time.Second

/*
Scheduler periodically pulls due messages from a Manager and sends them to their recipient.
A message is completed only after the transport accepted it; messages that could not be sent
stay in the manager and are picked up again by the next poll.
*/
type Scheduler struct {
	manager          Manager
	transport        servicebus.Transport
	interval         time.Duration
	defaultRecipient string
	maxRetries       int
	retryPolicy      servicebus.RetryPolicy
	logger           *zap.Logger
}

func PollInterval(d time.Duration) func(*Scheduler) {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// Send due messages without a DeferredRecipient header to the given address.
func DefaultRecipient(address string) func(*Scheduler) {
	return func(s *Scheduler) {
		s.defaultRecipient = address
	}
}

func RetrySend(maxRetries int, policy servicebus.RetryPolicy) func(*Scheduler) {
	return func(s *Scheduler) {
		s.maxRetries = maxRetries
		s.retryPolicy = policy
	}
}

func SchedulerLogger(logger *zap.Logger) func(*Scheduler) {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func CreateScheduler(manager Manager, transport servicebus.Transport, options ...func(*Scheduler)) *Scheduler {
	s := &Scheduler{
		manager:   manager,
		transport: transport,
		interval:  defaultInterval,
		logger:    zap.NewNop(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

/*
Defer stores msg in the manager until dueTime. The recipient is recorded in the message headers
so the scheduler knows where to send it once it is due.
*/
func (s *Scheduler) Defer(ctx context.Context, dueTime time.Time, recipient string, msg *servicebus.Message) error {
	headers := make(map[string]string, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[servicebus.HeaderDeferredUntil] = dueTime.UTC().Format(time.RFC3339Nano)
	if recipient != "" {
		headers[servicebus.HeaderDeferredRecipient] = recipient
	}
	return s.manager.Defer(ctx, dueTime, headers, msg.Body)
}

// RunOnce sends all messages due now and returns how many were handed off.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	due, err := s.manager.GetDueMessages(ctx)
	if err != nil {
		return 0, err
	}
	defer due.Release()

	delivered := 0
	for m, err := range due.All() {
		if err != nil {
			return delivered, err
		}
		if err = ctx.Err(); err != nil {
			return delivered, err
		}

		recipient := m.Headers[servicebus.HeaderDeferredRecipient]
		if recipient == "" {
			recipient = s.defaultRecipient
		}
		if recipient == "" {
			s.logger.Warn("due message has no recipient", zap.String("messageId", m.Headers[servicebus.HeaderMessageId]))
			continue
		}

		msg := servicebus.NewMessage(m.Headers, m.Body)
		delete(msg.Headers, servicebus.HeaderDeferredUntil)
		delete(msg.Headers, servicebus.HeaderDeferredRecipient)

		err = servicebus.Retry(s.maxRetries, s.retryPolicy, func() error {
			return s.transport.Send(ctx, recipient, msg)
		})
		if err != nil {
			s.logger.Error("could not send due message",
				zap.String("messageId", msg.MessageId()),
				zap.String("recipient", recipient),
				zap.Error(err))
			continue
		}

		if err = m.Complete(); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

// Run polls until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		delivered, err := s.RunOnce(ctx)
		switch {
		case err != nil && errors.Is(err, ctx.Err()):
			return nil
		case err != nil:
			s.logger.Error("could not process due messages", zap.Error(err))
		case delivered > 0:
			s.logger.Info("sent due messages", zap.Int("count", delivered))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
