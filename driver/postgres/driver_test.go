package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waigo/mongorito/core"
)

// openTestDriver connects to MONGORITO_TEST_POSTGRES_URL and skips the test
// when it is unset.
func openTestDriver(t *testing.T) *PostgresDriver {
	t.Helper()
	url := os.Getenv("MONGORITO_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("MONGORITO_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	driver, err := NewPostgresDriver(ctx, url)
	require.NoError(t, err)
	require.NoError(t, driver.Ping(ctx))
	t.Cleanup(func() { _ = driver.Close(ctx) })
	return driver
}

// testCollection returns a fresh collection dropped when the test ends.
func testCollection(t *testing.T, driver *PostgresDriver) core.Collection {
	t.Helper()
	name := "test_" + uuid.NewString()[:8]
	c := driver.Collection(name)
	t.Cleanup(func() {
		_, _ = driver.pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+c.(*Collection).builder.Table())
	})
	return c
}

func TestWrapError(t *testing.T) {
	err := wrapError(&pgconn.PgError{Code: uniqueViolation, ConstraintName: "posts_pkey"})
	assert.ErrorIs(t, err, core.ErrDuplicateKey)

	err = wrapError(errors.New("boom"))
	assert.EqualError(t, err, "postgres: boom")

	assert.NoError(t, wrapError(nil))
}

func TestOpen_IsLazy(t *testing.T) {
	ctx := context.Background()
	driver, err := Open(ctx, "postgres://127.0.0.1:1/blog?connect_timeout=1")
	require.NoError(t, err)
	defer driver.Close(ctx)

	c := driver.Collection("posts")
	assert.Same(t, c, driver.Collection("posts"))
	assert.Equal(t, "posts", c.Name())

	_, err = Open(ctx, "postgres://127.0.0.1:1/blog?pool_max_conns=nope")
	assert.Error(t, err)
}

func TestCollection_Integration(t *testing.T) {
	ctx := context.Background()
	driver := openTestDriver(t)
	c := testCollection(t, driver)

	for _, doc := range []core.Attributes{
		{"_id": "p1", "title": "Go", "views": 10, "tags": []any{"go", "db"}},
		{"_id": "p2", "title": "Rust", "views": 3},
		{"_id": "p3", "title": "zig", "views": 7},
	} {
		_, err := c.Insert(ctx, doc)
		require.NoError(t, err)
	}
	_, err := c.Insert(ctx, core.Attributes{"_id": "p1"})
	assert.ErrorIs(t, err, core.ErrDuplicateKey)

	docs, err := c.Find(ctx, core.Criteria{"tags": "db"}, core.Modifiers{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(10), docs[0]["views"])

	docs, err = c.Find(ctx, core.Criteria{"title": core.Criteria{core.OpRegex: "^z", core.OpOptions: "i"}}, core.Modifiers{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "p3", docs[0][core.IDField])

	n, err := c.Count(ctx, core.Criteria{"views": core.Criteria{core.OpGte: 7}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	res, err := c.UpdateByID(ctx, "p2", core.Attributes{"title": "Rust 2"})
	require.NoError(t, err)
	assert.Equal(t, core.Result{Matched: 1, Modified: 1}, res)

	name, err := c.Index(ctx, []core.SortField{{Field: "title", Direction: core.Asc}}, core.IndexOptions{Unique: true})
	require.NoError(t, err)
	assert.Equal(t, "title_1", name)
	infoList, err := c.Indexes(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(infoList))
	for _, info := range infoList {
		names = append(names, info.Name)
	}
	assert.ElementsMatch(t, []string{"_id_", "title_1"}, names)

	res, err = c.Remove(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, core.Result{Deleted: 3}, res)
}
