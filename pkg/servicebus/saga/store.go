package saga

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
)

// Finding by this property name looks the saga up by its identifier.
const IDPropertyName = "Id"

var (
	//ErrConcurrency is returned when the persisted saga does not match the expected existence or revision.
	ErrConcurrency = errors.New("saga concurrency conflict")
	//ErrInvalidState is returned for sagas that can never be stored as given.
	ErrInvalidState = errors.New("invalid saga state")
)

/*
Instance is the persisted state of a saga. Revision is 0 until the first update and is
incremented by the store on every successful update.
*/
type Instance struct {
	ID       uuid.UUID
	Revision int
	Type     string
	State    map[string]interface{}
}

// CorrelationProperty is a business key under which a saga can be found later on.
type CorrelationProperty struct {
	Name  string
	Value interface{}
}

func (p CorrelationProperty) String() string {
	return fmt.Sprintf("%s=%s", p.Name, FormatValue(p.Value))
}

/*
Store persists saga instances with optimistic concurrency.
Find returns nil and no error if no instance matches.
*/
type Store interface {
	Find(ctx context.Context, sagaType string, propertyName string, propertyValue interface{}) (*Instance, error)
	Insert(ctx context.Context, instance *Instance, correlations []CorrelationProperty) error
	Update(ctx context.Context, instance *Instance, correlations []CorrelationProperty) error
	Delete(ctx context.Context, instance *Instance) error
}

// FormatValue returns the canonical string form a correlation value is indexed by.
func FormatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// ParseID converts the value of an identifier lookup into a uuid.
func ParseID(value interface{}) (uuid.UUID, error) {
	switch v := value.(type) {
	case uuid.UUID:
		return v, nil
	case *uuid.UUID:
		if v == nil {
			return uuid.Nil, fmt.Errorf("%w: nil saga id", ErrInvalidState)
		}
		return *v, nil
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: saga id %q: %v", ErrInvalidState, v, err)
		}
		return id, nil
	default:
		return uuid.Nil, fmt.Errorf("%w: unsupported saga id type %T", ErrInvalidState, value)
	}
}

// ValidateInsert checks the preconditions every store applies before inserting.
func ValidateInsert(instance *Instance) error {
	if instance == nil {
		return fmt.Errorf("%w: saga instance is nil", ErrInvalidState)
	}
	if instance.ID == uuid.Nil {
		return fmt.Errorf("%w: saga data must be provided with an id", ErrInvalidState)
	}
	if instance.Revision != 0 {
		return fmt.Errorf("%w: attempted to insert saga %s with revision %d, but revision must be 0 on first insert",
			ErrInvalidState, instance.ID, instance.Revision)
	}
	return nil
}

// ValidateID checks that the instance carries an identifier.
func ValidateID(instance *Instance) error {
	if instance == nil {
		return fmt.Errorf("%w: saga instance is nil", ErrInvalidState)
	}
	if instance.ID == uuid.Nil {
		return fmt.Errorf("%w: saga data must be provided with an id", ErrInvalidState)
	}
	return nil
}
