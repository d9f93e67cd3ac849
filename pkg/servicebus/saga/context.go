package saga

import (
	"context"
	"errors"
	"github.com/google/uuid"
)

/*
Context is a unit of work on a single saga: it is loaded by a correlation property, mutated
through State and persisted with Save or removed with Complete. Conflicting writers surface as
ErrConcurrency on Save, in which case the whole unit of work has to be loaded and run again.
*/
type Context struct {
	Instance     *Instance
	Correlations []CorrelationProperty
	store        Store
	isNew        bool
	isCompleted  bool
}

/*
Load the saga of the given type correlated by the given property or start a new one if none exists.
Loading by IDPropertyName starts the new saga under the requested id; the id itself is never
registered as a correlation.
*/
func Load(ctx context.Context, store Store, sagaType string, correlation CorrelationProperty, more ...CorrelationProperty) (*Context, error) {
	var id uuid.UUID
	if correlation.Name == IDPropertyName {
		parsed, err := ParseID(correlation.Value)
		if err != nil {
			return nil, err
		}
		id = parsed
	}

	instance, err := store.Find(ctx, sagaType, correlation.Name, correlation.Value)
	if err != nil {
		return nil, err
	}

	sagaContext := &Context{
		Instance: instance,
		store:    store,
	}
	for _, c := range append([]CorrelationProperty{correlation}, more...) {
		if c.Name == IDPropertyName {
			continue
		}
		sagaContext.Correlations = append(sagaContext.Correlations, c)
	}
	if instance == nil {
		if id == uuid.Nil {
			id = uuid.New()
		}
		sagaContext.Instance = &Instance{
			ID:    id,
			Type:  sagaType,
			State: make(map[string]interface{}),
		}
		sagaContext.isNew = true
	}
	if sagaContext.Instance.State == nil {
		sagaContext.Instance.State = make(map[string]interface{})
	}
	return sagaContext, nil
}

// IsNew reports whether the saga has not been persisted yet.
func (ctx *Context) IsNew() bool {
	return ctx.isNew
}

func (ctx *Context) IsCompleted() bool {
	return ctx.isCompleted
}

func (ctx *Context) State() map[string]interface{} {
	return ctx.Instance.State
}

// Save state to the saga
func (ctx *Context) Save(c context.Context) error {
	if ctx.isCompleted {
		return errors.New("saga has already been completed")
	}
	if ctx.isNew {
		err := ctx.store.Insert(c, ctx.Instance, ctx.Correlations)
		if err != nil {
			return err
		}
		ctx.isNew = false
		return nil
	}
	return ctx.store.Update(c, ctx.Instance, ctx.Correlations)
}

// Complete the saga and remove it from the store
func (ctx *Context) Complete(c context.Context) error {
	if ctx.isCompleted {
		return nil
	}
	if !ctx.isNew {
		err := ctx.store.Delete(c, ctx.Instance)
		if err != nil {
			return err
		}
	}
	ctx.isCompleted = true
	return nil
}
