// Package mongodb stores mongorito collections in MongoDB.
//
// Criteria are already in the MongoDB query language and are passed through
// unchanged. Registered for the mongodb:// and mongodb+srv:// URL schemes;
// the database comes from the URL path and defaults to "test".
package mongodb

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/waigo/mongorito/core"
)

// DefaultDatabase is used when the URL names no database.
const DefaultDatabase = "test"

func init() {
	core.RegisterDriver("mongodb", Open)
	core.RegisterDriver("mongodb+srv", Open)
}

//region MongoDriver

type MongoDriver struct {
	client   *mongo.Client
	database *mongo.Database

	mu            sync.Mutex
	collectionMap map[string]*Collection
}

var _ core.Driver = (*MongoDriver)(nil)

// Open connects to the deployment named by a mongodb:// URL.
func Open(ctx context.Context, uri string) (core.Driver, error) {
	return NewMongoDriver(ctx, uri, DatabaseName(uri))
}

func NewMongoDriver(ctx context.Context, uri string, database string) (*MongoDriver, error) {
	opts := mopt.Client().ApplyURI(uri)
	opts.SetConnectTimeout(10 * time.Second).SetServerSelectionTimeout(10 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb: %w", err)
	}
	return &MongoDriver{
		client:        client,
		database:      client.Database(database),
		collectionMap: make(map[string]*Collection),
	}, nil
}

func (driver *MongoDriver) Ping(ctx context.Context) error {
	return wrapError(driver.client.Ping(ctx, nil))
}

func (driver *MongoDriver) Close(ctx context.Context) error {
	return wrapError(driver.client.Disconnect(ctx))
}

func (driver *MongoDriver) Collection(name string) core.Collection {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	if c, ok := driver.collectionMap[name]; ok {
		return c
	}
	c := &Collection{name: name, coll: driver.database.Collection(name)}
	driver.collectionMap[name] = c
	return c
}

//endregion

//region Collection

type Collection struct {
	name string
	coll *mongo.Collection
}

var _ core.Collection = (*Collection)(nil)

func (collection *Collection) Name() string { return collection.name }

// ID turns 24-digit hex strings into ObjectIDs. Other values are used as
// they are, since MongoDB accepts any non-array _id.
func (collection *Collection) ID(value any) (any, error) {
	return ObjectID(value)
}

func (collection *Collection) Insert(ctx context.Context, attrs core.Attributes) (core.Attributes, error) {
	doc := attrs.Clone()
	if doc == nil {
		doc = core.Attributes{}
	}
	if raw, ok := doc[core.IDField]; ok && raw != nil {
		id, err := ObjectID(raw)
		if err != nil {
			return nil, err
		}
		doc[core.IDField] = id
	} else {
		doc[core.IDField] = primitive.NewObjectID()
	}
	if _, err := collection.coll.InsertOne(ctx, bson.M(doc)); err != nil {
		return nil, wrapError(err)
	}
	return doc, nil
}

func (collection *Collection) UpdateByID(ctx context.Context, id any, attrs core.Attributes) (core.Result, error) {
	key, err := ObjectID(id)
	if err != nil {
		return core.Result{}, err
	}
	replacement := bson.M{}
	for k, v := range attrs {
		if k != core.IDField {
			replacement[k] = v
		}
	}
	res, err := collection.coll.ReplaceOne(ctx, bson.M{core.IDField: key}, replacement)
	if err != nil {
		return core.Result{}, wrapError(err)
	}
	return core.Result{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

func (collection *Collection) Remove(ctx context.Context, filter core.Criteria) (core.Result, error) {
	res, err := collection.coll.DeleteMany(ctx, Filter(filter))
	if err != nil {
		return core.Result{}, wrapError(err)
	}
	return core.Result{Deleted: res.DeletedCount}, nil
}

func (collection *Collection) Find(ctx context.Context, criteria core.Criteria, modifiers core.Modifiers) ([]core.Attributes, error) {
	cursor, err := collection.coll.Find(ctx, Filter(criteria), FindOptions(modifiers))
	if err != nil {
		return nil, wrapError(err)
	}
	defer cursor.Close(ctx)

	var resultList []core.Attributes
	for cursor.Next(ctx) {
		var bsonMap bson.M
		if err := cursor.Decode(&bsonMap); err != nil {
			return nil, wrapError(err)
		}
		resultList = append(resultList, Normalize(bsonMap).(core.Attributes))
	}
	return resultList, wrapError(cursor.Err())
}

func (collection *Collection) Count(ctx context.Context, criteria core.Criteria) (int64, error) {
	n, err := collection.coll.CountDocuments(ctx, Filter(criteria))
	return n, wrapError(err)
}

func (collection *Collection) Index(ctx context.Context, keys []core.SortField, options core.IndexOptions) (string, error) {
	if len(keys) == 0 {
		return "", fmt.Errorf("%w: index needs at least one key", core.ErrInvalidArgument)
	}
	name := options.Name
	if name == "" {
		name = core.IndexName(keys)
	}
	model := mongo.IndexModel{
		Keys:    SortDocument(keys),
		Options: mopt.Index().SetName(name).SetUnique(options.Unique),
	}
	created, err := collection.coll.Indexes().CreateOne(ctx, model)
	if err != nil {
		return "", wrapError(err)
	}
	return created, nil
}

// indexSpec is one entry of listIndexes.
type indexSpec struct {
	Name   string `bson:"name"`
	Key    bson.D `bson:"key"`
	Unique bool   `bson:"unique"`
}

func (collection *Collection) Indexes(ctx context.Context) ([]core.IndexInfo, error) {
	cursor, err := collection.coll.Indexes().List(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	defer cursor.Close(ctx)

	var infoList []core.IndexInfo
	for cursor.Next(ctx) {
		var spec indexSpec
		if err := cursor.Decode(&spec); err != nil {
			return nil, wrapError(err)
		}
		infoList = append(infoList, spec.info())
	}
	return infoList, wrapError(cursor.Err())
}

func (spec indexSpec) info() core.IndexInfo {
	info := core.IndexInfo{Name: spec.Name, Unique: spec.Unique || spec.Name == "_id_"}
	for _, e := range spec.Key {
		info.Keys = append(info.Keys, core.SortField{Field: e.Key, Direction: direction(e.Value)})
	}
	return info
}

//endregion

//region Helpers

// DatabaseName extracts the database from a connection string.
//
// Example:
//
//	DatabaseName("mongodb://a:27017,b:27017/blog?replicaSet=rs") // "blog"
//	DatabaseName("mongodb://localhost")                          // "test"
func DatabaseName(uri string) string {
	_, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return DefaultDatabase
	}
	rest, _, _ = strings.Cut(rest, "?")
	_, path, ok := strings.Cut(rest, "/")
	if !ok || path == "" {
		return DefaultDatabase
	}
	return path
}

// ObjectID normalizes an identifier, parsing hex strings as ObjectIDs.
func ObjectID(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil id", core.ErrInvalidArgument)
	case string:
		if v == "" {
			return nil, fmt.Errorf("%w: empty id", core.ErrInvalidArgument)
		}
		if oid, err := primitive.ObjectIDFromHex(v); err == nil {
			return oid, nil
		}
		return v, nil
	}
	return value, nil
}

// Filter converts criteria to a filter document. A nil filter matches
// everything.
func Filter(criteria core.Criteria) bson.M {
	if criteria == nil {
		return bson.M{}
	}
	return bson.M(criteria)
}

// FindOptions maps modifiers onto find options.
func FindOptions(modifiers core.Modifiers) *mopt.FindOptions {
	findOpts := mopt.Find()
	if len(modifiers.Sort) > 0 {
		findOpts.SetSort(SortDocument(modifiers.Sort))
	}
	if modifiers.Limit != nil && *modifiers.Limit > 0 {
		findOpts.SetLimit(*modifiers.Limit)
	}
	if modifiers.Skip != nil && *modifiers.Skip > 0 {
		findOpts.SetSkip(*modifiers.Skip)
	}
	return findOpts
}

// SortDocument renders sort or index keys in order.
func SortDocument(fields []core.SortField) bson.D {
	sortDoc := bson.D{}
	for _, f := range fields {
		dir := 1
		if f.Direction == core.Desc {
			dir = -1
		}
		sortDoc = append(sortDoc, bson.E{Key: f.Field, Value: dir})
	}
	return sortDoc
}

// Normalize converts decoded BSON into attribute values: documents become
// Attributes, arrays []any, datetimes time.Time and 32-bit integers int64.
// ObjectIDs are kept.
func Normalize(v any) any {
	switch t := v.(type) {
	case primitive.M:
		out := make(core.Attributes, len(t))
		for k, item := range t {
			out[k] = Normalize(item)
		}
		return out
	case map[string]any:
		return Normalize(primitive.M(t))
	case primitive.D:
		out := make(core.Attributes, len(t))
		for _, e := range t {
			out[e.Key] = Normalize(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Normalize(item)
		}
		return out
	case []any:
		return Normalize(primitive.A(t))
	case primitive.DateTime:
		return t.Time()
	case int32:
		return int64(t)
	default:
		return v
	}
}

// direction reads an index key value, which servers report as int32,
// int64 or double.
func direction(v any) core.Direction {
	switch n := v.(type) {
	case int32:
		if n < 0 {
			return core.Desc
		}
	case int64:
		if n < 0 {
			return core.Desc
		}
	case float64:
		if n < 0 {
			return core.Desc
		}
	}
	return core.Asc
}

// wrapError maps duplicate key failures to core.ErrDuplicateKey and
// prefixes everything else with the driver name.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", core.ErrDuplicateKey, err)
	}
	return fmt.Errorf("mongodb: %w", err)
}

//endregion
