package docgo_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docgo"
	"github.com/hupe1980/docgo/document"
)

func articleDoc(id int32, title string, embedding []float32) *document.Document {
	return document.NewDocument().
		Set(document.IDField, document.Int32(id)).
		Set("title", document.String(title)).
		Set("embedding", document.Vector(embedding))
}

// seedArticles creates three documents spanning easy cosine geometry:
// east is the query direction, northeast is halfway, north is orthogonal.
func seedArticles(t *testing.T) *docgo.DB {
	t.Helper()
	ctx := context.Background()

	db, err := docgo.Open(testPath(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Insert(ctx, "articles",
		articleDoc(1, "east", []float32{1, 0}),
		articleDoc(2, "north", []float32{0, 1}),
		articleDoc(3, "northeast", []float32{1, 1}),
	)
	require.NoError(t, err)

	return db
}

func resultIDs(t *testing.T, results []docgo.ScoredDocument) []int32 {
	t.Helper()
	ids := make([]int32, 0, len(results))
	for _, r := range results {
		v, ok := r.Document.ID()
		require.True(t, ok)
		id, ok := v.AsInt32()
		require.True(t, ok)
		ids = append(ids, id)
	}
	return ids
}

func TestNearest(t *testing.T) {
	ctx := context.Background()
	db := seedArticles(t)
	query := document.Vector([]float32{1, 0})

	// 1. Top two by cosine distance.
	results, err := db.Nearest(ctx, "articles", "embedding", query, 2)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 3}, resultIDs(t, results))
	assert.InDelta(t, 0, results[0].Distance, 1e-9)
	assert.InDelta(t, 1-1/math.Sqrt2, results[1].Distance, 1e-9)

	// 2. k beyond the corpus returns everything, farthest last.
	results, err = db.Nearest(ctx, "articles", "embedding", query, 10)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 3, 2}, resultIDs(t, results))
	assert.InDelta(t, 1, results[2].Distance, 1e-9)
}

func TestNearestInvalidK(t *testing.T) {
	ctx := context.Background()
	db := seedArticles(t)
	query := document.Vector([]float32{1, 0})

	_, err := db.Nearest(ctx, "articles", "embedding", query, 0)
	require.ErrorIs(t, err, docgo.ErrInvalidK)

	_, err = db.Nearest(ctx, "articles", "embedding", query, -5)
	require.ErrorIs(t, err, docgo.ErrInvalidK)
}

func TestNearestUnknownCollection(t *testing.T) {
	ctx := context.Background()
	db := seedArticles(t)

	_, err := db.Nearest(ctx, "ghosts", "embedding", document.Vector([]float32{1, 0}), 3)
	require.ErrorIs(t, err, docgo.ErrNotFound)
}

func TestWithin(t *testing.T) {
	ctx := context.Background()
	db := seedArticles(t)
	query := document.Vector([]float32{1, 0})

	// 1. Half a unit of cosine distance catches east and northeast.
	results, err := db.Within(ctx, "articles", "embedding", query, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 3}, resultIDs(t, results))

	// 2. The bound is inclusive; zero keeps only the exact direction.
	results, err = db.Within(ctx, "articles", "embedding", query, 0)
	require.NoError(t, err)
	assert.Equal(t, []int32{1}, resultIDs(t, results))

	// 3. A negative bound matches nothing.
	results, err = db.Within(ctx, "articles", "embedding", query, -0.1)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchTieBreak(t *testing.T) {
	ctx := context.Background()

	db, err := docgo.Open(testPath(t))
	require.NoError(t, err)
	defer db.Close()

	// Insert out of id order; equal distances must come back sorted by _id.
	_, err = db.Insert(ctx, "ties",
		articleDoc(2, "b", []float32{1, 1}),
		articleDoc(1, "a", []float32{1, 1}),
		articleDoc(3, "c", []float32{2, 2}),
	)
	require.NoError(t, err)

	results, err := db.Nearest(ctx, "ties", "embedding", document.Vector([]float32{1, 1}), 3)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 3}, resultIDs(t, results))
	for _, r := range results {
		assert.InDelta(t, 0, r.Distance, 1e-9)
	}
}

func TestSearchBuilder(t *testing.T) {
	ctx := context.Background()
	db := seedArticles(t)
	query := document.Vector([]float32{1, 0})

	// 1. KNN with a distance cap.
	results, err := db.Search("articles", "embedding", query).
		KNN(3).
		MaxDistance(0.5).
		Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 3}, resultIDs(t, results))

	// 2. Filter runs before scoring.
	results, err = db.Search("articles", "embedding", query).
		KNN(2).
		Filter(func(d *document.Document) bool {
			v, _ := d.Get("title")
			s, _ := v.AsString()
			return s != "east"
		}).
		Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int32{3, 2}, resultIDs(t, results))

	// 3. First, Count, Exists.
	first, err := db.Search("articles", "embedding", query).First(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int32{1}, resultIDs(t, []docgo.ScoredDocument{first}))

	_, err = db.Search("articles", "embedding", query).
		Filter(func(*document.Document) bool { return false }).
		First(ctx)
	require.ErrorIs(t, err, docgo.ErrNotFound)

	count, err := db.Search("articles", "embedding", query).MaxDistance(0.5).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	exists, err := db.Search("articles", "embedding", query).MaxDistance(2).Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	// 4. MustExecute with the default k.
	assert.Len(t, db.Search("articles", "embedding", query).MustExecute(ctx), 3)
}

func TestSearchStream(t *testing.T) {
	ctx := context.Background()
	db := seedArticles(t)
	query := document.Vector([]float32{1, 0})

	var ids []int32
	for r, err := range db.Search("articles", "embedding", query).KNN(3).Stream(ctx) {
		require.NoError(t, err)
		ids = append(ids, resultIDs(t, []docgo.ScoredDocument{r})...)
		if len(ids) == 2 {
			break // early termination
		}
	}
	assert.Equal(t, []int32{1, 3}, ids)

	for _, err := range db.Search("ghosts", "embedding", query).Stream(ctx) {
		require.ErrorIs(t, err, docgo.ErrNotFound)
	}
}

func TestSearchSkipsIncomparable(t *testing.T) {
	ctx := context.Background()

	db, err := docgo.Open(testPath(t))
	require.NoError(t, err)
	defer db.Close()

	noField := document.NewDocument().
		Set(document.IDField, document.Int32(4)).
		Set("title", document.String("missing"))
	notAVector := document.NewDocument().
		Set(document.IDField, document.Int32(5)).
		Set("embedding", document.String("oops"))
	numericArray := document.NewDocument().
		Set(document.IDField, document.Int32(8)).
		Set("embedding", document.Array(document.Int32(1), document.Int32(0)))

	_, err = db.Insert(ctx, "mixed",
		articleDoc(1, "good", []float32{1, 0}),
		noField,
		notAVector,
		articleDoc(6, "wrong length", []float32{1, 0, 0}),
		articleDoc(7, "zero", []float32{0, 0}),
		numericArray,
	)
	require.NoError(t, err)

	results, err := db.Nearest(ctx, "mixed", "embedding", document.Vector([]float32{1, 0}), 10)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 8}, resultIDs(t, results))
}

func TestSearchZeroQuery(t *testing.T) {
	ctx := context.Background()
	db := seedArticles(t)

	// A zero vector has no direction; nothing is comparable to it.
	results, err := db.Nearest(ctx, "articles", "embedding", document.Vector([]float32{0, 0}), 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}
