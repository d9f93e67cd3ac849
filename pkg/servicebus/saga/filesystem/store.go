package filesystem

import (
	"context"
	"fmt"
	"github.com/abecu-hub/go-bus/pkg/servicebus/metrics"
	"github.com/abecu-hub/go-bus/pkg/servicebus/saga"
	"go.uber.org/zap"
	"sync"
)

/*
Store keeps sagas as flat files below a base path. The files offer no atomic multi-file updates,
so every mutation holds one exclusive lock over the whole store and Find holds it shared.
*/
type Store struct {
	mu      sync.RWMutex
	index   *Index
	logger  *zap.Logger
	metrics *metrics.Collector
}

func WithLogger(logger *zap.Logger) func(*Store) {
	return func(store *Store) {
		store.logger = logger
	}
}

func WithMetrics(collector *metrics.Collector) func(*Store) {
	return func(store *Store) {
		store.metrics = collector
	}
}

// Create a saga store that keeps its files below basePath.
func CreateStore(basePath string, options ...func(*Store)) (*Store, error) {
	index, err := NewIndex(basePath)
	if err != nil {
		return nil, err
	}
	store := &Store{
		index:  index,
		logger: zap.NewNop(),
	}
	for _, option := range options {
		option(store)
	}
	return store, nil
}

var _ saga.Store = (*Store)(nil)

func (store *Store) Find(ctx context.Context, sagaType string, propertyName string, propertyValue interface{}) (*saga.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	store.mu.RLock()
	defer store.mu.RUnlock()

	store.metrics.SagaOperation("find")
	if propertyName == saga.IDPropertyName {
		id, err := saga.ParseID(propertyValue)
		if err != nil {
			return nil, err
		}
		instance, err := store.index.Find(id)
		if err != nil || instance == nil {
			return nil, err
		}
		if sagaType != "" && instance.Type != sagaType {
			return nil, nil
		}
		return instance, nil
	}
	return store.index.FindByCorrelation(sagaType, propertyName, propertyValue)
}

func (store *Store) Insert(ctx context.Context, instance *saga.Instance, correlations []saga.CorrelationProperty) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := saga.ValidateInsert(instance); err != nil {
		return err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	store.metrics.SagaOperation("insert")
	exists, err := store.index.Contains(instance.ID)
	if err != nil {
		return err
	}
	if exists {
		store.metrics.SagaConflict("insert")
		return fmt.Errorf("%w: saga data with id %s already exists", saga.ErrConcurrency, instance.ID)
	}

	if err = store.index.Insert(instance, correlations); err != nil {
		return err
	}
	store.logger.Debug("inserted saga",
		zap.String("id", instance.ID.String()),
		zap.String("type", instance.Type),
		zap.Int("correlations", len(correlations)))
	return nil
}

func (store *Store) Update(ctx context.Context, instance *saga.Instance, correlations []saga.CorrelationProperty) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := saga.ValidateID(instance); err != nil {
		return err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	store.metrics.SagaOperation("update")
	existing, err := store.index.Find(instance.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		store.metrics.SagaConflict("update")
		return fmt.Errorf("%w: saga data with id %s does not exist", saga.ErrConcurrency, instance.ID)
	}
	if existing.Revision != instance.Revision {
		store.metrics.SagaConflict("update")
		return fmt.Errorf("%w: attempted to update saga data with id %s with revision %d, but the existing data was updated to revision %d",
			saga.ErrConcurrency, instance.ID, instance.Revision, existing.Revision)
	}

	next := *instance
	next.Revision++
	if err = store.index.Insert(&next, correlations); err != nil {
		return err
	}
	instance.Revision = next.Revision
	store.logger.Debug("updated saga",
		zap.String("id", instance.ID.String()),
		zap.String("type", instance.Type),
		zap.Int("revision", instance.Revision))
	return nil
}

func (store *Store) Delete(ctx context.Context, instance *saga.Instance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := saga.ValidateID(instance); err != nil {
		return err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	store.metrics.SagaOperation("delete")
	exists, err := store.index.Contains(instance.ID)
	if err != nil {
		return err
	}
	if !exists {
		store.metrics.SagaConflict("delete")
		return fmt.Errorf("%w: saga data with id %s no longer exists and cannot be deleted", saga.ErrConcurrency, instance.ID)
	}

	if err = store.index.Remove(instance.ID); err != nil {
		return err
	}
	store.logger.Debug("deleted saga", zap.String("id", instance.ID.String()))
	return nil
}
