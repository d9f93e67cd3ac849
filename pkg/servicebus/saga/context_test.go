package saga_test

import (
	"context"
	"github.com/abecu-hub/go-bus/pkg/servicebus/saga"
	"github.com/abecu-hub/go-bus/pkg/servicebus/saga/filesystem"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestContextLifecycle(t *testing.T) {
	ctx := context.Background()
	store, err := filesystem.CreateStore(t.TempDir())
	require.NoError(t, err)
	orderID := saga.CorrelationProperty{Name: "OrderId", Value: "A-1"}

	s, err := saga.Load(ctx, store, "OrderSaga", orderID)
	require.NoError(t, err)
	assert.True(t, s.IsNew())
	s.State()["Paid"] = true
	require.NoError(t, s.Save(ctx))
	assert.False(t, s.IsNew())
	assert.Equal(t, 0, s.Instance.Revision)

	s, err = saga.Load(ctx, store, "OrderSaga", orderID)
	require.NoError(t, err)
	assert.False(t, s.IsNew())
	assert.Equal(t, true, s.State()["Paid"])
	require.NoError(t, s.Save(ctx))
	assert.Equal(t, 1, s.Instance.Revision)

	require.NoError(t, s.Complete(ctx))
	assert.True(t, s.IsCompleted())
	assert.Error(t, s.Save(ctx))

	found, err := store.Find(ctx, "OrderSaga", "OrderId", "A-1")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestContextConflictingUnitsOfWork(t *testing.T) {
	ctx := context.Background()
	store, err := filesystem.CreateStore(t.TempDir())
	require.NoError(t, err)
	orderID := saga.CorrelationProperty{Name: "OrderId", Value: "A-2"}

	s, err := saga.Load(ctx, store, "OrderSaga", orderID)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx))

	first, err := saga.Load(ctx, store, "OrderSaga", orderID)
	require.NoError(t, err)
	second, err := saga.Load(ctx, store, "OrderSaga", orderID)
	require.NoError(t, err)

	require.NoError(t, first.Save(ctx))
	assert.ErrorIs(t, second.Save(ctx), saga.ErrConcurrency)
}

func TestCompleteOfUnsavedSagaIsNoop(t *testing.T) {
	ctx := context.Background()
	store, err := filesystem.CreateStore(t.TempDir())
	require.NoError(t, err)

	s, err := saga.Load(ctx, store, "OrderSaga", saga.CorrelationProperty{Name: "OrderId", Value: "x"})
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx))
	require.NoError(t, s.Complete(ctx))
}

func TestContextLoadByIDStartsSagaUnderThatID(t *testing.T) {
	ctx := context.Background()
	store, err := filesystem.CreateStore(t.TempDir())
	require.NoError(t, err)
	id := uuid.New()
	byID := saga.CorrelationProperty{Name: saga.IDPropertyName, Value: id.String()}

	s, err := saga.Load(ctx, store, "OrderSaga", byID, saga.CorrelationProperty{Name: "OrderId", Value: "A-2"})
	require.NoError(t, err)
	assert.True(t, s.IsNew())
	assert.Equal(t, id, s.Instance.ID)
	assert.Equal(t, []saga.CorrelationProperty{{Name: "OrderId", Value: "A-2"}}, s.Correlations)
	require.NoError(t, s.Save(ctx))

	again, err := saga.Load(ctx, store, "OrderSaga", byID)
	require.NoError(t, err)
	assert.False(t, again.IsNew())
	assert.Equal(t, id, again.Instance.ID)
	assert.Empty(t, again.Correlations)

	byOrder, err := saga.Load(ctx, store, "OrderSaga", saga.CorrelationProperty{Name: "OrderId", Value: "A-2"})
	require.NoError(t, err)
	assert.False(t, byOrder.IsNew())
	assert.Equal(t, id, byOrder.Instance.ID)
}

func TestContextLoadByInvalidID(t *testing.T) {
	store, err := filesystem.CreateStore(t.TempDir())
	require.NoError(t, err)

	_, err = saga.Load(context.Background(), store, "OrderSaga", saga.CorrelationProperty{Name: saga.IDPropertyName, Value: "not-a-uuid"})
	assert.ErrorIs(t, err, saga.ErrInvalidState)
}
