package core

import (
	"context"
	"regexp"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(n int64) *int64 { return &n }

func TestQuery_BuildsCriteria(t *testing.T) {
	posts := NewModel(NewSchema("posts"))

	tests := []struct {
		name  string
		build func() *Query
		want  Criteria
	}{
		{
			name:  "equality",
			build: func() *Query { return posts.Where("status", "published") },
			want:  Criteria{"status": "published"},
		},
		{
			name:  "operators on the selected field",
			build: func() *Query { return posts.Where("views").Gt(10).Lte(100) },
			want:  Criteria{"views": Criteria{OpGt: 10, OpLte: 100}},
		},
		{
			name:  "operators with explicit field",
			build: func() *Query { return posts.Gte("views", 1).Lt("score", 5).Ne("status", "draft") },
			want: Criteria{
				"views":  Criteria{OpGte: 1},
				"score":  Criteria{OpLt: 5},
				"status": Criteria{OpNe: "draft"},
			},
		},
		{
			name:  "operator after equality keeps the equality",
			build: func() *Query { return posts.Where("views", 3).Ne(4) },
			want:  Criteria{"views": Criteria{OpEq: 3, OpNe: 4}},
		},
		{
			name:  "later operator on the same field overrides",
			build: func() *Query { return posts.Where("views").Gt(1).Gt(2) },
			want:  Criteria{"views": Criteria{OpGt: 2}},
		},
		{
			name:  "in and nin normalize to sequences",
			build: func() *Query { return posts.In("tags", []string{"go", "db"}).Nin("status", "spam") },
			want: Criteria{
				"tags":   Criteria{OpIn: []any{"go", "db"}},
				"status": Criteria{OpNin: []any{"spam"}},
			},
		},
		{
			name:  "exists shapes",
			build: func() *Query { return posts.Exists("author").Where("deleted_at").Exists(false) },
			want: Criteria{
				"author":     Criteria{OpExists: true},
				"deleted_at": Criteria{OpExists: false},
			},
		},
		{
			name:  "regex match",
			build: func() *Query { return posts.Where("title", regexp.MustCompile(`^Go`)) },
			want:  Criteria{"title": Criteria{OpRegex: "^Go"}},
		},
		{
			name: "logical operators append sets",
			build: func() *Query {
				return posts.Or(Criteria{"pinned": true}).Or(Criteria{"views": Criteria{OpGt: 9}}).Nor(Criteria{"spam": true})
			},
			want: Criteria{
				OpOr:  []Criteria{{"pinned": true}, {"views": Criteria{OpGt: 9}}},
				OpNor: []Criteria{{"spam": true}},
			},
		},
		{
			name:  "and",
			build: func() *Query { return posts.And(Criteria{"a": 1}, Criteria{"b": 2}) },
			want:  Criteria{OpAnd: []Criteria{{"a": 1}, {"b": 2}}},
		},
		{
			name: "mapping merges field by field",
			build: func() *Query {
				return posts.Where("views").Gt(1).Where(Criteria{"views": Criteria{OpLt: 9}, "status": "published"})
			},
			want: Criteria{
				"views":  Criteria{OpGt: 1, OpLt: 9},
				"status": "published",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.build()
			require.NoError(t, q.Err())
			if diff := cmp.Diff(tt.want, q.Criteria()); diff != "" {
				t.Errorf("criteria mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestQuery_WhereOrderIndependent(t *testing.T) {
	posts := NewModel(NewSchema("posts"))

	ab := posts.Where(Criteria{"a": 1}).Where(Criteria{"b": 2}).Criteria()
	ba := posts.Where(Criteria{"b": 2}).Where(Criteria{"a": 1}).Criteria()

	assert.Equal(t, Criteria{"a": 1, "b": 2}, ab)
	if diff := cmp.Diff(ab, ba); diff != "" {
		t.Errorf("criteria depend on call order (-ab +ba):\n%s", diff)
	}
}

func TestQuery_Modifiers(t *testing.T) {
	users := NewModel(NewSchema("users"))
	posts := NewModel(NewSchema("posts", Populate("author", users)))

	q := posts.Limit(10).Skip(20).Sort("created_at", Desc).Sort("title").Sort("created_at", Asc).Populate("author")
	require.NoError(t, q.Err())

	mods := q.Modifiers()
	assert.Equal(t, int64Ptr(10), mods.Limit)
	assert.Equal(t, int64Ptr(20), mods.Skip)
	assert.Equal(t, []SortField{{Field: "created_at", Direction: Asc}, {Field: "title", Direction: Asc}}, mods.Sort)
	assert.Same(t, users, mods.Populate["author"])
}

func TestQuery_ArgumentErrorsAreDeferred(t *testing.T) {
	conn, drv := testConnection(t)
	posts := NewModel(NewSchema("posts"), WithConnection(conn))

	tests := []struct {
		name  string
		build func() *Query
	}{
		{name: "operator without selected field", build: func() *Query { return posts.Gt(3) }},
		{name: "non-string field", build: func() *Query { return posts.Lt(1, 2) }},
		{name: "too many arguments", build: func() *Query { return posts.In("a", 1, 2) }},
		{name: "where with two values", build: func() *Query { return posts.Where("a", 1, 2) }},
		{name: "where with bad type", build: func() *Query { return posts.Where(42) }},
		{name: "bad sort direction", build: func() *Query { return posts.Sort("a", Direction(2)) }},
		{name: "exists with bad type", build: func() *Query { return posts.Exists(3) }},
		{name: "exists without field", build: func() *Query { return posts.Exists() }},
		{name: "populate without model", build: func() *Query { return posts.Populate("author") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.build()
			assert.ErrorIs(t, q.Err(), ErrInvalidArgument)

			_, err := q.Find(context.Background())
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
	assert.Empty(t, drv.coll("posts").calls, "no storage call for a malformed query")
}

func TestQuery_SingleUse(t *testing.T) {
	conn, _ := testConnection(t)
	posts := NewModel(NewSchema("posts"), WithConnection(conn))
	ctx := context.Background()

	q := posts.Where("status", "published")
	_, err := q.Find(ctx)
	require.NoError(t, err)

	_, err = q.Find(ctx)
	assert.ErrorIs(t, err, ErrQueryExecuted)
	_, err = q.Count(ctx)
	assert.ErrorIs(t, err, ErrQueryExecuted)
}

func seedPosts(t *testing.T, posts *Model) {
	t.Helper()
	ctx := context.Background()
	for _, attrs := range []Attributes{
		{"title": "one", "status": "published"},
		{"title": "two", "status": "draft"},
		{"title": "three", "status": "published"},
	} {
		require.NoError(t, posts.New(attrs).Save(ctx))
	}
}

func TestQuery_Find(t *testing.T) {
	conn, drv := testConnection(t)
	posts := NewModel(NewSchema("posts"), WithConnection(conn))
	seedPosts(t, posts)

	docs, err := posts.Where("status", "published").Sort("title").Limit(5).Find(context.Background())
	require.NoError(t, err)

	titles := make([]any, len(docs))
	for i, d := range docs {
		titles[i] = d.Get("title")
		assert.Empty(t, d.Changed(), "hydration is not a change")
		assert.Same(t, posts, d.Model())
	}
	assert.Equal(t, []any{"one", "three"}, titles)

	finds := drv.coll("posts").Calls(OperationFind)
	require.Len(t, finds, 1, "one storage call per terminal")
	assert.Equal(t, Criteria{"status": "published"}, finds[0].criteria)
	assert.Equal(t, int64Ptr(5), finds[0].modifiers.Limit)
	assert.Equal(t, []SortField{{Field: "title", Direction: Asc}}, finds[0].modifiers.Sort)
}

func TestQuery_FindMergesTerminalCriteria(t *testing.T) {
	conn, drv := testConnection(t)
	posts := NewModel(NewSchema("posts"), WithConnection(conn))
	seedPosts(t, posts)

	docs, err := posts.Where("status", "published").Find(context.Background(), Criteria{"title": "three"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "three", docs[0].Get("title"))

	finds := drv.coll("posts").Calls(OperationFind)
	require.Len(t, finds, 1)
	assert.Equal(t, Criteria{"status": "published", "title": "three"}, finds[0].criteria)
}

func TestQuery_FindRunsConfigure(t *testing.T) {
	conn, _ := testConnection(t)
	var configured int
	posts := NewModel(NewSchema("posts", Configure(func(*Document) { configured++ })), WithConnection(conn))
	seedPosts(t, posts)
	configured = 0

	docs, err := posts.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 3)
	assert.Equal(t, 3, configured)
}

func TestQuery_FindOne(t *testing.T) {
	conn, drv := testConnection(t)
	posts := NewModel(NewSchema("posts"), WithConnection(conn))
	ctx := context.Background()

	doc, err := posts.FindOne(ctx, Criteria{"title": "none"})
	require.NoError(t, err, "an empty result is not an error")
	assert.Nil(t, doc)

	seedPosts(t, posts)
	doc, err = posts.Where("status", "draft").FindOne(ctx)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "two", doc.Get("title"))

	finds := drv.coll("posts").Calls(OperationFind)
	assert.Equal(t, int64Ptr(1), finds[len(finds)-1].modifiers.Limit)
}

func TestQuery_FindByID(t *testing.T) {
	conn, drv := testConnection(t)
	posts := NewModel(NewSchema("posts"), WithConnection(conn))
	seedPosts(t, posts)

	doc, err := posts.FindByID(context.Background(), "posts-2")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "two", doc.Get("title"))

	finds := drv.coll("posts").Calls(OperationFind)
	assert.Equal(t, Criteria{IDField: "posts-2"}, finds[len(finds)-1].criteria)

	_, err = posts.FindByID(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestQuery_CountIgnoresModifiers(t *testing.T) {
	conn, drv := testConnection(t)
	users := NewModel(NewSchema("users"), WithConnection(conn))
	posts := NewModel(NewSchema("posts"), WithConnection(conn))
	seedPosts(t, posts)

	n, err := posts.Where("status", "published").Sort("title").Limit(1).Populate("author", users).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, drv.coll("posts").Calls(OperationCount), 1)
	assert.Empty(t, drv.coll("users").calls)
}

func TestQuery_Remove(t *testing.T) {
	conn, drv := testConnection(t)
	posts := NewModel(NewSchema("posts"), WithConnection(conn))
	seedPosts(t, posts)

	var hookRan bool
	posts.Schema().configure = append(posts.Schema().configure, func(d *Document) {
		d.Before(ActionRemove, func(context.Context, *Document) error {
			hookRan = true
			return nil
		})
	})

	res, err := posts.Where("status", "published").Remove(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Deleted: 2}, res)
	assert.False(t, hookRan, "query removal skips document hooks")

	n, err := posts.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, drv.coll("posts").Calls(OperationRemove), 1)
}

func TestQuery_Populate(t *testing.T) {
	conn, drv := testConnection(t)
	ctx := context.Background()
	users := NewModel(NewSchema("users"), WithConnection(conn))
	posts := NewModel(NewSchema("posts",
		Populate("author", users),
		Populate("editors", users),
	), WithConnection(conn))

	ann := users.New(Attributes{"name": "ann"})
	bob := users.New(Attributes{"name": "bob"})
	require.NoError(t, ann.Save(ctx))
	require.NoError(t, bob.Save(ctx))

	post := posts.New(Attributes{
		"title":   "hello",
		"author":  ann,
		"editors": []*Document{ann, bob},
	})
	require.NoError(t, post.Save(ctx))
	orphan := posts.New(Attributes{"title": "orphan", "author": "users-404", "editors": []any{"users-2", "users-404"}})
	require.NoError(t, orphan.Save(ctx))

	docs, err := posts.Populate("author").Populate("editors").Sort("title").Find(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	author, ok := docs[0].Get("author").(*Document)
	require.True(t, ok, "author is hydrated")
	assert.Equal(t, "ann", author.Get("name"))
	assert.Same(t, users, author.Model())

	editors, ok := docs[0].Get("editors").([]*Document)
	require.True(t, ok)
	require.Len(t, editors, 2)
	assert.Equal(t, "ann", editors[0].Get("name"))
	assert.Equal(t, "bob", editors[1].Get("name"))

	assert.Nil(t, docs[1].Get("author"), "a missing single reference hydrates to nil")
	orphanEditors := docs[1].Get("editors").([]*Document)
	require.Len(t, orphanEditors, 1, "missing sequence elements are omitted")
	assert.Equal(t, "bob", orphanEditors[0].Get("name"))

	userFinds := drv.coll("users").Calls(OperationFind)
	assert.Len(t, userFinds, 2, "one batched find per populated field")
}

func TestQuery_ErrOmitsConnectionFailure(t *testing.T) {
	previous := Default()
	SetDefault(nil)
	t.Cleanup(func() { SetDefault(previous) })

	q := NewModel(NewSchema("posts")).Where("status", "published")
	require.NoError(t, q.Err())

	_, err := q.Count(context.Background())
	assert.ErrorIs(t, err, ErrNoConnection)
}

func TestQuery_LogicalOperands(t *testing.T) {
	posts := NewModel(NewSchema("posts"))

	q := posts.Where(Criteria{OpAnd: []Attributes{{"title": "a"}}}).Or(Criteria{"b": 1})
	require.NoError(t, q.Err())
	want := Criteria{
		OpAnd: []Criteria{{"title": "a"}},
		OpOr:  []Criteria{{"b": 1}},
	}
	if diff := cmp.Diff(want, q.Criteria()); diff != "" {
		t.Errorf("criteria mismatch (-want +got):\n%s", diff)
	}
}

func TestQuery_MalformedLogicalOperands(t *testing.T) {
	conn, drv := testConnection(t)
	posts := NewModel(NewSchema("posts"), WithConnection(conn))
	seedPosts(t, posts)
	ctx := context.Background()

	tests := []struct {
		name  string
		build func() *Query
	}{
		{name: "or with a single mapping", build: func() *Query { return posts.Where(Criteria{OpOr: Criteria{"title": "one"}}) }},
		{name: "and with a scalar", build: func() *Query { return posts.Where(Criteria{OpAnd: "x"}) }},
		{name: "empty and list", build: func() *Query { return posts.Where(map[string]any{OpAnd: []any{}}) }},
		{name: "or without sets", build: func() *Query { return posts.Or() }},
		{name: "and without sets", build: func() *Query { return posts.And() }},
		{name: "nor with a nil set", build: func() *Query { return posts.Nor(nil) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.build()
			assert.ErrorIs(t, q.Err(), ErrInvalidArgument)
			_, err := q.Remove(ctx)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	_, err := posts.Query().Remove(ctx, Criteria{OpOr: Criteria{"title": "one"}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Empty(t, drv.coll("posts").Calls(OperationRemove), "no storage call for a malformed filter")
	n, err := posts.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
