package timeout_test

import (
	"context"
	"errors"
	"github.com/abecu-hub/go-bus/pkg/servicebus"
	"github.com/abecu-hub/go-bus/pkg/servicebus/retrypolicy"
	"github.com/abecu-hub/go-bus/pkg/servicebus/timeout"
	"github.com/abecu-hub/go-bus/pkg/servicebus/timeout/filesystem"
	"github.com/abecu-hub/go-bus/pkg/servicebus/transport/inmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// flakyTransport fails the first sends before handing them to the wrapped transport.
type flakyTransport struct {
	servicebus.Transport
	failures int
	attempts int
}

func (t *flakyTransport) Send(ctx context.Context, destination string, msg *servicebus.Message) error {
	t.attempts++
	if t.attempts <= t.failures {
		return errors.New("broker unavailable")
	}
	return t.Transport.Send(ctx, destination, msg)
}

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*filesystem.Manager, *clock, *inmem.Network) {
	t.Helper()
	c := &clock{now: now}
	manager, err := filesystem.CreateManager(t.TempDir(), filesystem.WithClock(c.Now), filesystem.WithRetryDelay(time.Millisecond))
	require.NoError(t, err)
	return manager, c, inmem.CreateNetwork()
}

func TestSchedulerSendsDueMessages(t *testing.T) {
	ctx := context.Background()
	manager, c, network := setup(t)
	scheduler := timeout.CreateScheduler(manager, inmem.Create(network, ""))

	msg := servicebus.NewMessage(map[string]string{servicebus.HeaderType: "PaymentTimedOut"}, []byte("1"))
	require.NoError(t, scheduler.Defer(ctx, now.Add(time.Minute), "OrderService", msg))

	delivered, err := scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, delivered)
	assert.False(t, network.HasQueue("OrderService"))

	c.Set(now.Add(time.Minute))
	delivered, err = scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	received, err := network.GetNextOrNull("orderservice")
	require.NoError(t, err)
	require.NotNil(t, received)
	assert.Equal(t, msg.MessageId(), received.MessageId())
	assert.Equal(t, "PaymentTimedOut", received.Headers[servicebus.HeaderType])
	assert.NotContains(t, received.Headers, servicebus.HeaderDeferredRecipient)
	assert.NotContains(t, received.Headers, servicebus.HeaderDeferredUntil)

	delivered, err = scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, delivered, "completed messages are not sent twice")
}

func TestSchedulerUsesDefaultRecipient(t *testing.T) {
	ctx := context.Background()
	manager, _, network := setup(t)
	scheduler := timeout.CreateScheduler(manager, inmem.Create(network, ""), timeout.DefaultRecipient("timeouts"))

	require.NoError(t, manager.Defer(ctx, now, map[string]string{}, []byte("x")))
	delivered, err := scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, network.Count("timeouts"))
}

func TestSchedulerKeepsMessagesWithoutRecipient(t *testing.T) {
	ctx := context.Background()
	manager, _, network := setup(t)
	scheduler := timeout.CreateScheduler(manager, inmem.Create(network, ""))

	require.NoError(t, manager.Defer(ctx, now, map[string]string{}, []byte("x")))
	delivered, err := scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, delivered)

	due, err := manager.GetDueMessages(ctx)
	require.NoError(t, err)
	defer due.Release()
	count := 0
	for range due.All() {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestSchedulerRetriesSend(t *testing.T) {
	ctx := context.Background()
	manager, _, network := setup(t)
	transport := &flakyTransport{Transport: inmem.Create(network, ""), failures: 2}
	scheduler := timeout.CreateScheduler(manager, transport, timeout.RetrySend(2, retrypolicy.Immediate()))

	require.NoError(t, scheduler.Defer(ctx, now, "q", servicebus.NewMessage(nil, []byte("x"))))
	delivered, err := scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 3, transport.attempts)
}

func TestSchedulerLeavesUnsentMessagesForNextPoll(t *testing.T) {
	ctx := context.Background()
	manager, _, network := setup(t)
	transport := &flakyTransport{Transport: inmem.Create(network, ""), failures: 1}
	scheduler := timeout.CreateScheduler(manager, transport)

	require.NoError(t, scheduler.Defer(ctx, now, "q", servicebus.NewMessage(nil, []byte("x"))))
	delivered, err := scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, delivered)
	assert.Zero(t, network.Count("q"))

	delivered, err = scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, network.Count("q"))
}

func TestSchedulerReleasesLockAfterEachPoll(t *testing.T) {
	ctx := context.Background()
	manager, _, network := setup(t)
	scheduler := timeout.CreateScheduler(manager, inmem.Create(network, ""))

	for i := 0; i < 3; i++ {
		_, err := scheduler.RunOnce(ctx)
		require.NoError(t, err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.NoError(t, manager.Defer(lockCtx, now, nil, nil))
}

func TestSchedulerRunStopsWithContext(t *testing.T) {
	manager, _, network := setup(t)
	scheduler := timeout.CreateScheduler(manager, inmem.Create(network, ""), timeout.PollInterval(5*time.Millisecond))
	require.NoError(t, scheduler.Defer(context.Background(), now, "q", servicebus.NewMessage(nil, []byte("x"))))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scheduler.Run(ctx) }()

	require.Eventually(t, func() bool { return network.Count("q") == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
