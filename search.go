// This file implements a fluent vector search API over document collections.

package docgo

import (
	"context"
	"iter"
	"sort"
	"time"

	"github.com/hupe1980/docgo/distance"
	"github.com/hupe1980/docgo/document"
)

// ScoredDocument pairs a document with its cosine distance to the query
// vector. Distance 0 means identical direction, 2 means opposite.
type ScoredDocument struct {
	Distance float64
	Document *document.Document
}

// Nearest returns the k documents whose vector in field is closest to query
// by cosine distance, nearest first. Equal distances are ordered by _id.
// Documents without the field, or whose value has no defined distance to the
// query, are not returned.
func (db *DB) Nearest(ctx context.Context, collection, field string, query document.Value, k int) ([]ScoredDocument, error) {
	return db.Search(collection, field, query).KNN(k).Execute(ctx)
}

// Within returns all documents whose vector in field lies within maxDistance
// of query by cosine distance, nearest first.
func (db *DB) Within(ctx context.Context, collection, field string, query document.Value, maxDistance float64) ([]ScoredDocument, error) {
	return db.Search(collection, field, query).MaxDistance(maxDistance).Execute(ctx)
}

// Search creates a new fluent search builder for the given query vector.
//
// Example:
//
//	results, err := db.Search("articles", "embedding", query).
//	    KNN(10).
//	    Filter(func(d *document.Document) bool {
//	        v, _ := d.Get("published")
//	        b, _ := v.AsBool()
//	        return b
//	    }).
//	    Execute(ctx)
func (db *DB) Search(collection, field string, query document.Value) *SearchBuilder {
	return &SearchBuilder{
		db:         db,
		collection: collection,
		field:      field,
		query:      query,
		k:          10, // Default k
	}
}

// SearchBuilder is a fluent builder for constructing vector search queries.
type SearchBuilder struct {
	db         *DB
	collection string
	field      string
	query      document.Value

	k       int
	kSet    bool
	maxDist float64
	bounded bool

	filter func(d *document.Document) bool
}

// KNN sets the number of nearest neighbors to return.
func (sb *SearchBuilder) KNN(k int) *SearchBuilder {
	sb.k = k
	sb.kSet = true
	return sb
}

// MaxDistance keeps only results within the given cosine distance of the
// query. Without an explicit KNN, all matching documents are returned.
func (sb *SearchBuilder) MaxDistance(d float64) *SearchBuilder {
	sb.maxDist = d
	sb.bounded = true
	return sb
}

// Filter sets a filter function for search results.
// Only documents for which fn returns true are considered.
func (sb *SearchBuilder) Filter(fn func(d *document.Document) bool) *SearchBuilder {
	sb.filter = fn
	return sb
}

// Execute runs the search and returns the results, nearest first.
func (sb *SearchBuilder) Execute(ctx context.Context) ([]ScoredDocument, error) {
	start := time.Now()
	results, err := sb.execute(ctx)
	duration := time.Since(start)

	sb.db.metrics.RecordSearch(sb.k, duration, err)
	sb.db.logger.LogSearch(ctx, sb.collection, sb.k, len(results), err)

	return results, translateError(err)
}

// MustExecute runs the search, panicking on error.
// Use this only in tests or when you're certain the query is valid.
func (sb *SearchBuilder) MustExecute(ctx context.Context) []ScoredDocument {
	results, err := sb.Execute(ctx)
	if err != nil {
		panic(err)
	}
	return results
}

// Stream returns an iterator over search results, nearest first.
// The iterator supports early termination by breaking from the loop.
//
// Example:
//
//	for result, err := range db.Search("articles", "embedding", query).KNN(100).Stream(ctx) {
//	    if err != nil { break }
//	    if result.Distance > 0.5 { break }
//	    process(result)
//	}
func (sb *SearchBuilder) Stream(ctx context.Context) iter.Seq2[ScoredDocument, error] {
	return func(yield func(ScoredDocument, error) bool) {
		results, err := sb.Execute(ctx)
		if err != nil {
			yield(ScoredDocument{}, err)
			return
		}
		for _, r := range results {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// First returns only the nearest result, or ErrNotFound if none matched.
func (sb *SearchBuilder) First(ctx context.Context) (ScoredDocument, error) {
	sb.k = 1
	sb.kSet = true
	results, err := sb.Execute(ctx)
	if err != nil {
		return ScoredDocument{}, err
	}
	if len(results) == 0 {
		return ScoredDocument{}, ErrNotFound
	}
	return results[0], nil
}

// Count returns the number of results the search would return.
func (sb *SearchBuilder) Count(ctx context.Context) (int, error) {
	results, err := sb.Execute(ctx)
	if err != nil {
		return 0, err
	}
	return len(results), nil
}

// Exists reports whether the search has at least one result.
func (sb *SearchBuilder) Exists(ctx context.Context) (bool, error) {
	count, err := sb.Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (sb *SearchBuilder) execute(ctx context.Context) ([]ScoredDocument, error) {
	if sb.kSet && sb.k <= 0 {
		return nil, ErrInvalidK
	}

	eng, err := sb.db.engine()
	if err != nil {
		return nil, err
	}
	collation := eng.Collation()

	var scored []ScoredDocument
	err = eng.Scan(ctx, sb.collection, func(d *document.Document) error {
		if sb.filter != nil && !sb.filter(d) {
			return nil
		}
		v, ok := d.Get(sb.field)
		if !ok {
			return nil
		}
		dist, ok := distance.CosineDistance(sb.query, v).Float64()
		if !ok {
			// Sentinel result: the field holds no vector comparable to
			// the query, so the document never matches.
			return nil
		}
		if sb.bounded && dist > sb.maxDist {
			return nil
		}
		scored = append(scored, ScoredDocument{Distance: dist, Document: d})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Distance != scored[j].Distance {
			return scored[i].Distance < scored[j].Distance
		}
		idI, _ := scored[i].Document.ID()
		idJ, _ := scored[j].Document.ID()
		return document.Compare(idI, idJ, collation) < 0
	})

	if limit := sb.limit(); limit >= 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// limit returns the result cap, or -1 for unbounded range queries.
func (sb *SearchBuilder) limit() int {
	if sb.bounded && !sb.kSet {
		return -1
	}
	return sb.k
}
