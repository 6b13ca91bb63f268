// Package sqlite stores mongorito collections in an SQLite database file
// through the pure Go modernc.org/sqlite driver.
//
// Each collection is a table of (id TEXT, doc TEXT) holding JSON documents
// queried with the json1 functions. Registered for the sqlite:// scheme:
//
//	sqlite:///var/lib/app/data.db
//	sqlite://:memory:
//
// Regular expressions are not supported.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/waigo/mongorito/core"
	"github.com/waigo/mongorito/driver/internal/sqldoc"
)

// constraintFailed is the primary result code of SQLITE_CONSTRAINT and its
// extended codes.
const constraintFailed = 19

func init() {
	core.RegisterDriver("sqlite", Open)
}

//region SQLiteDriver

type SQLiteDriver struct {
	db *sql.DB

	mu            sync.Mutex
	collectionMap map[string]*Collection
}

var _ core.Driver = (*SQLiteDriver)(nil)

// Open opens the database file named by a sqlite:// URL.
func Open(ctx context.Context, url string) (core.Driver, error) {
	path, ok := strings.CutPrefix(url, "sqlite://")
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownScheme, url)
	}
	return NewSQLiteDriver(ctx, path)
}

// NewSQLiteDriver opens the database at path, creating the file if needed.
func NewSQLiteDriver(ctx context.Context, path string) (*SQLiteDriver, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite url needs a path", core.ErrInvalidArgument)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	pragmaList := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmaList {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			// another connection already switched the file to WAL
			if strings.Contains(pragma, "journal_mode") && strings.Contains(err.Error(), "database is locked") {
				continue
			}
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	// a single connection serializes writers and keeps :memory: databases
	// alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &SQLiteDriver{db: db, collectionMap: make(map[string]*Collection)}, nil
}

func (driver *SQLiteDriver) Ping(ctx context.Context) error {
	return wrapError(driver.db.PingContext(ctx))
}

func (driver *SQLiteDriver) Close(context.Context) error {
	return wrapError(driver.db.Close())
}

// Collection returns the named collection. Its table is created by the
// first call that touches it.
func (driver *SQLiteDriver) Collection(name string) core.Collection {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	if c, ok := driver.collectionMap[name]; ok {
		return c
	}
	c := &Collection{driver: driver, name: name, builder: sqldoc.NewBuilder(sqldoc.SQLite, name)}
	driver.collectionMap[name] = c
	return c
}

//endregion

//region Collection

type Collection struct {
	driver  *SQLiteDriver
	name    string
	builder *sqldoc.Builder

	mu    sync.Mutex
	ready bool
}

var _ core.Collection = (*Collection)(nil)

func (collection *Collection) Name() string { return collection.name }

func (collection *Collection) ensure(ctx context.Context) error {
	collection.mu.Lock()
	defer collection.mu.Unlock()
	if collection.ready {
		return nil
	}
	if _, err := collection.driver.db.ExecContext(ctx, collection.builder.CreateTable()); err != nil {
		return wrapError(err)
	}
	collection.ready = true
	return nil
}

func (collection *Collection) exec(ctx context.Context, sqlQuery string, args ...any) (int64, error) {
	if err := collection.ensure(ctx); err != nil {
		return 0, err
	}
	res, err := collection.driver.db.ExecContext(ctx, sqlQuery, args...)
	if err != nil {
		return 0, wrapError(err)
	}
	n, err := res.RowsAffected()
	return n, wrapError(err)
}

func (collection *Collection) ID(value any) (any, error) {
	return sqldoc.ID(value)
}

func (collection *Collection) Insert(ctx context.Context, attrs core.Attributes) (core.Attributes, error) {
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
	if _, err := collection.exec(ctx, sqlQuery, args...); err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdateByID replaces the stored document. SQLite reports rows touched
// rather than rows changed, so Modified equals Matched.
func (collection *Collection) UpdateByID(ctx context.Context, id any, attrs core.Attributes) (core.Result, error) {
	key, err := sqldoc.ID(id)
	if err != nil {
		return core.Result{}, err
	}
	sqlQuery, args, err := collection.builder.Replace(key, attrs)
	if err != nil {
		return core.Result{}, err
	}
	n, err := collection.exec(ctx, sqlQuery, args...)
	if err != nil {
		return core.Result{}, err
	}
	return core.Result{Matched: n, Modified: n}, nil
}

func (collection *Collection) Remove(ctx context.Context, filter core.Criteria) (core.Result, error) {
	sqlQuery, args, err := collection.builder.Delete(filter)
	if err != nil {
		return core.Result{}, err
	}
	n, err := collection.exec(ctx, sqlQuery, args...)
	if err != nil {
		return core.Result{}, err
	}
	return core.Result{Deleted: n}, nil
}

func (collection *Collection) Find(ctx context.Context, criteria core.Criteria, modifiers core.Modifiers) ([]core.Attributes, error) {
	if err := collection.ensure(ctx); err != nil {
		return nil, err
	}
	sqlQuery, args, err := collection.builder.Select(criteria, modifiers)
	if err != nil {
		return nil, err
	}

	rowList, err := collection.driver.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, wrapError(err)
	}
	defer rowList.Close()

	var resultList []core.Attributes
	for rowList.Next() {
		var id, data string
		if err := rowList.Scan(&id, &data); err != nil {
			return nil, wrapError(err)
		}
		doc, err := sqldoc.Decode(id, []byte(data))
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
	if err := collection.driver.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&count); err != nil {
		return 0, wrapError(err)
	}
	return count, nil
}

func (collection *Collection) Index(ctx context.Context, keys []core.SortField, options core.IndexOptions) (string, error) {
	name := options.Name
	if name == "" {
		name = core.IndexName(keys)
	}
	sqlQuery, err := collection.builder.CreateIndex(name, keys, options.Unique)
	if err != nil {
		return "", err
	}
	if _, err := collection.exec(ctx, sqlQuery); err != nil {
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
	rowList, err := collection.driver.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, wrapError(err)
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

// wrapError maps unique constraint failures to core.ErrDuplicateKey and
// prefixes everything else with the driver name.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) && coded.Code()&0xff == constraintFailed &&
		strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", core.ErrDuplicateKey, err)
	}
	return fmt.Errorf("sqlite: %w", err)
}
