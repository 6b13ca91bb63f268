// Package postgres stores mongorito collections in PostgreSQL.
//
// Each collection is a table of (id TEXT, doc JSONB) created on first use.
// Criteria are translated to JSONB path predicates, so the query language
// is the same as with the other drivers. Registered for the postgres:// and
// postgresql:// URL schemes.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waigo/mongorito/core"
	"github.com/waigo/mongorito/driver/internal/sqldoc"
)

// uniqueViolation is the SQLSTATE of a unique constraint failure.
const uniqueViolation = "23505"

func init() {
	core.RegisterDriver("postgres", Open)
	core.RegisterDriver("postgresql", Open)
}

//region PostgresDriver

type PostgresDriver struct {
	pool *pgxpool.Pool

	mu            sync.Mutex
	collectionMap map[string]*Collection
}

var _ core.Driver = (*PostgresDriver)(nil)

// Open connects to the database named by a postgres:// URL.
func Open(ctx context.Context, url string) (core.Driver, error) {
	return NewPostgresDriver(ctx, url)
}

func NewPostgresDriver(ctx context.Context, connString string) (*PostgresDriver, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return &PostgresDriver{pool: pool, collectionMap: make(map[string]*Collection)}, nil
}

func (driver *PostgresDriver) exec(ctx context.Context, sqlQuery string, args ...any) (pgconn.CommandTag, error) {
	tag, err := driver.pool.Exec(ctx, sqlQuery, args...)
	return tag, wrapError(err)
}

func (driver *PostgresDriver) query(ctx context.Context, sqlQuery string, args ...any) (pgx.Rows, error) {
	rows, err := driver.pool.Query(ctx, sqlQuery, args...)
	return rows, wrapError(err)
}

func (driver *PostgresDriver) queryRow(ctx context.Context, sqlQuery string, args ...any) pgx.Row {
	return driver.pool.QueryRow(ctx, sqlQuery, args...)
}

func (driver *PostgresDriver) Ping(ctx context.Context) error {
	return wrapError(driver.pool.Ping(ctx))
}

func (driver *PostgresDriver) Close(ctx context.Context) error {
	driver.pool.Close()
	return nil
}

// Collection returns the named collection. Its table is created by the
// first call that touches it.
func (driver *PostgresDriver) Collection(name string) core.Collection {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	if c, ok := driver.collectionMap[name]; ok {
		return c
	}
	c := &Collection{driver: driver, name: name, builder: sqldoc.NewBuilder(sqldoc.Postgres, name)}
	driver.collectionMap[name] = c
	return c
}

//endregion

//region Collection

type Collection struct {
	driver  *PostgresDriver
	name    string
	builder *sqldoc.Builder

	mu    sync.Mutex
	ready bool
}

var _ core.Collection = (*Collection)(nil)

func (collection *Collection) Name() string { return collection.name }

// ensure creates the collection table once.
func (collection *Collection) ensure(ctx context.Context) error {
	collection.mu.Lock()
	defer collection.mu.Unlock()
	if collection.ready {
		return nil
	}
	if _, err := collection.driver.exec(ctx, collection.builder.CreateTable()); err != nil {
		return err
	}
	collection.ready = true
	return nil
}

func (collection *Collection) ID(value any) (any, error) {
	return sqldoc.ID(value)
}

func (collection *Collection) Insert(ctx context.Context, attrs core.Attributes) (core.Attributes, error) {
	if err := collection.ensure(ctx); err != nil {
		return nil, err
	}
	doc := attrs.Clone()
	if doc == nil {
		doc = core.Attributes{}
	}
	id := uuid.NewString()
	if raw, ok := doc[core.IDField]; ok && raw != nil {
		var err error
		if id, err = sqldoc.ID(raw); err != nil {
			return nil, err
		}
	}
	doc[core.IDField] = id

	sqlQuery, args, err := collection.builder.Insert(id, doc)
	if err != nil {
		return nil, err
	}
	if _, err := collection.driver.exec(ctx, sqlQuery, args...); err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdateByID replaces the stored document. PostgreSQL reports rows touched
// rather than rows changed, so Modified equals Matched.
func (collection *Collection) UpdateByID(ctx context.Context, id any, attrs core.Attributes) (core.Result, error) {
	key, err := sqldoc.ID(id)
	if err != nil {
		return core.Result{}, err
	}
	if err := collection.ensure(ctx); err != nil {
		return core.Result{}, err
	}
	sqlQuery, args, err := collection.builder.Replace(key, attrs)
	if err != nil {
		return core.Result{}, err
	}
	tag, err := collection.driver.exec(ctx, sqlQuery, args...)
	if err != nil {
		return core.Result{}, err
	}
	return core.Result{Matched: tag.RowsAffected(), Modified: tag.RowsAffected()}, nil
}

func (collection *Collection) Remove(ctx context.Context, filter core.Criteria) (core.Result, error) {
	if err := collection.ensure(ctx); err != nil {
		return core.Result{}, err
	}
	sqlQuery, args, err := collection.builder.Delete(filter)
	if err != nil {
		return core.Result{}, err
	}
	tag, err := collection.driver.exec(ctx, sqlQuery, args...)
	if err != nil {
		return core.Result{}, err
	}
	return core.Result{Deleted: tag.RowsAffected()}, nil
}

func (collection *Collection) Find(ctx context.Context, criteria core.Criteria, modifiers core.Modifiers) ([]core.Attributes, error) {
	if err := collection.ensure(ctx); err != nil {
		return nil, err
	}
	sqlQuery, args, err := collection.builder.Select(criteria, modifiers)
	if err != nil {
		return nil, err
	}

	rowList, err := collection.driver.query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rowList.Close()

	var resultList []core.Attributes
	for rowList.Next() {
		var (
			id   string
			data []byte
		)
		if err := rowList.Scan(&id, &data); err != nil {
			return nil, wrapError(err)
		}
		doc, err := sqldoc.Decode(id, data)
		if err != nil {
			return nil, err
		}
		resultList = append(resultList, doc)
	}
	return resultList, wrapError(rowList.Err())
}

func (collection *Collection) Count(ctx context.Context, criteria core.Criteria) (int64, error) {
	if err := collection.ensure(ctx); err != nil {
		return 0, err
	}
	sqlQuery, args, err := collection.builder.Count(criteria)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := collection.driver.queryRow(ctx, sqlQuery, args...).Scan(&count); err != nil {
		return 0, wrapError(err)
	}
	return count, nil
}

func (collection *Collection) Index(ctx context.Context, keys []core.SortField, options core.IndexOptions) (string, error) {
	if err := collection.ensure(ctx); err != nil {
		return "", err
	}
	name := options.Name
	if name == "" {
		name = core.IndexName(keys)
	}
	sqlQuery, err := collection.builder.CreateIndex(name, keys, options.Unique)
	if err != nil {
		return "", err
	}
	if _, err := collection.driver.exec(ctx, sqlQuery); err != nil {
		return "", err
	}
	return name, nil
}

func (collection *Collection) Indexes(ctx context.Context) ([]core.IndexInfo, error) {
	if err := collection.ensure(ctx); err != nil {
		return nil, err
	}
	sqlQuery, args, err := collection.builder.Indexes()
	if err != nil {
		return nil, err
	}
	rowList, err := collection.driver.query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rowList.Close()

	var infoList []core.IndexInfo
	for rowList.Next() {
		var name, definition string
		if err := rowList.Scan(&name, &definition); err != nil {
			return nil, wrapError(err)
		}
		if info, ok := collection.builder.IndexInfo(name, definition); ok {
			infoList = append(infoList, info)
		}
	}
	return infoList, wrapError(rowList.Err())
}

//endregion

// wrapError maps unique violations to core.ErrDuplicateKey and prefixes
// everything else with the driver name.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", core.ErrDuplicateKey, pgErr.ConstraintName)
	}
	return fmt.Errorf("postgres: %w", err)
}
