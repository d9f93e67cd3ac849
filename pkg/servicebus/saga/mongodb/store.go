package mongodb

import (
	"context"
	"errors"
	"fmt"
	"github.com/abecu-hub/go-bus/pkg/servicebus/saga"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"time"
)

type Saga struct {
	ID           string                 `bson:"_id"`
	Type         string                 `bson:"type"`
	Revision     int                    `bson:"revision"`
	State        map[string]interface{} `bson:"state"`
	Correlations []Correlation          `bson:"correlations"`
	CreatedAt    time.Time              `bson:"createdAt"`
}

type Correlation struct {
	Name  string `bson:"name"`
	Value string `bson:"value"`
}

type Index struct {
	Name             string `bson:"name"`
	ExpiresInSeconds *int32 `bson:"expireAfterSeconds,omitempty"`
}

/*
MongoStore keeps one document per saga. Documents are updated with a filter on their revision,
so conflicting writers are detected per saga without a process wide lock.
*/
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.Logger
}

func (store *MongoStore) ensureCorrelationIndex() error {
	index := mongo.IndexModel{
		Keys: bson.D{
			{Key: "type", Value: 1},
			{Key: "correlations.name", Value: 1},
			{Key: "correlations.value", Value: 1},
		},
		Options: options.Index().SetName("Type_Correlations_Compound"),
	}

	_, err := store.collection.Indexes().CreateOne(context.Background(), index)
	if err != nil {
		return err
	}
	return nil
}

func CreateMongoStore(client *mongo.Client, database string, collection string, options ...func(mongoStore *MongoStore) error) (*MongoStore, error) {
	store := &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
		logger:     zap.NewNop(),
	}
	err := store.ensureCorrelationIndex()
	if err != nil {
		return nil, err
	}
	for _, option := range options {
		err = option(store)
		if err != nil {
			return nil, err
		}
	}
	return store, nil
}

func WithLogger(logger *zap.Logger) func(*MongoStore) error {
	return func(store *MongoStore) error {
		store.logger = logger
		return nil
	}
}

// Remove sagas the given number of seconds after their creation.
func ExpireInSeconds(seconds int32) func(*MongoStore) error {
	return func(store *MongoStore) error {
		cur, err := store.collection.Indexes().List(context.Background())
		if err != nil {
			return err
		}
		var results []Index
		err = cur.All(context.Background(), &results)
		if err != nil {
			return err
		}

		indexName := "ExpireSaga"
		for _, r := range results {
			if r.Name == indexName && r.ExpiresInSeconds != nil && *r.ExpiresInSeconds == seconds {
				return nil
			}
		}

		//Drop in case index exists with different TTL
		_, _ = store.collection.Indexes().DropOne(context.Background(), indexName)

		index := mongo.IndexModel{
			Keys: bson.D{{Key: "createdAt", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(seconds).
				SetName(indexName),
		}

		_, err = store.collection.Indexes().CreateOne(context.Background(), index)
		if err != nil {
			return err
		}
		return nil
	}
}

var _ saga.Store = (*MongoStore)(nil)

func (store *MongoStore) Find(ctx context.Context, sagaType string, propertyName string, propertyValue interface{}) (*saga.Instance, error) {
	filter, err := findFilter(sagaType, propertyName, propertyValue)
	if err != nil {
		return nil, err
	}

	s := new(Saga)
	err = store.collection.FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})).Decode(s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.instance()
}

// Insert a new saga. A saga with the same id already being present is a concurrency conflict.
func (store *MongoStore) Insert(ctx context.Context, instance *saga.Instance, correlations []saga.CorrelationProperty) error {
	if err := saga.ValidateInsert(instance); err != nil {
		return err
	}

	_, err := store.collection.InsertOne(ctx, documentFor(instance, correlations, time.Now().UTC()))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: saga data with id %s already exists", saga.ErrConcurrency, instance.ID)
	}
	if err != nil {
		return err
	}
	store.logger.Debug("inserted saga", zap.String("id", instance.ID.String()), zap.String("type", instance.Type))
	return nil
}

func (store *MongoStore) Update(ctx context.Context, instance *saga.Instance, correlations []saga.CorrelationProperty) error {
	if err := saga.ValidateID(instance); err != nil {
		return err
	}

	doc := documentFor(instance, correlations, time.Time{})
	result, err := store.collection.UpdateOne(ctx,
		bson.M{"_id": doc.ID, "revision": instance.Revision},
		bson.M{"$set": bson.M{
			"revision":     instance.Revision + 1,
			"type":         doc.Type,
			"state":        doc.State,
			"correlations": doc.Correlations,
		}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: saga data with id %s does not exist in revision %d", saga.ErrConcurrency, instance.ID, instance.Revision)
	}
	instance.Revision++
	store.logger.Debug("updated saga", zap.String("id", instance.ID.String()), zap.Int("revision", instance.Revision))
	return nil
}

func (store *MongoStore) Delete(ctx context.Context, instance *saga.Instance) error {
	if err := saga.ValidateID(instance); err != nil {
		return err
	}

	result, err := store.collection.DeleteOne(ctx, bson.M{"_id": instance.ID.String()})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: saga data with id %s no longer exists and cannot be deleted", saga.ErrConcurrency, instance.ID)
	}
	return nil
}

func findFilter(sagaType string, propertyName string, propertyValue interface{}) (bson.M, error) {
	if propertyName == saga.IDPropertyName {
		id, err := saga.ParseID(propertyValue)
		if err != nil {
			return nil, err
		}
		filter := bson.M{"_id": id.String()}
		if sagaType != "" {
			filter["type"] = sagaType
		}
		return filter, nil
	}
	return bson.M{
		"type": sagaType,
		"correlations": bson.M{"$elemMatch": bson.M{
			"name":  propertyName,
			"value": saga.FormatValue(propertyValue),
		}},
	}, nil
}

func documentFor(instance *saga.Instance, correlations []saga.CorrelationProperty, createdAt time.Time) *Saga {
	doc := &Saga{
		ID:           instance.ID.String(),
		Type:         instance.Type,
		Revision:     instance.Revision,
		State:        instance.State,
		Correlations: make([]Correlation, 0, len(correlations)),
		CreatedAt:    createdAt,
	}
	for _, c := range correlations {
		doc.Correlations = append(doc.Correlations, Correlation{Name: c.Name, Value: saga.FormatValue(c.Value)})
	}
	return doc
}

func (s *Saga) instance() (*saga.Instance, error) {
	id, err := uuid.Parse(s.ID)
	if err != nil {
		return nil, err
	}
	return &saga.Instance{
		ID:       id,
		Revision: s.Revision,
		Type:     s.Type,
		State:    s.State,
	}, nil
}
