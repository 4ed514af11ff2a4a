// Package docgo provides an embedded document database stored in a single file.
//
// Docgo stores schemaless documents in named collections inside one datafile,
// with write-ahead logging for durability and a recovery pipeline that can
// rebuild a damaged file from whatever remains readable.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, _ := docgo.Open("data.db")
//	defer db.Close()
//
//	doc := document.NewDocument().
//	    Set("name", document.String("alice")).
//	    Set("age", document.Int32(30))
//	ids, _ := db.Insert(ctx, "people", doc)
//
//	found, _ := db.Get(ctx, "people", ids[0])
//
// # Vector Search
//
// Documents may carry vector fields, searched by cosine distance:
//
//	db.Insert(ctx, "articles", document.NewDocument().
//	    Set("title", document.String("intro")).
//	    Set("embedding", document.Vector([]float32{0.1, 0.9, 0.3})))
//
//	query := document.Vector([]float32{0.1, 0.8, 0.2})
//	nearest, _ := db.Nearest(ctx, "articles", "embedding", query, 10)
//	within, _ := db.Within(ctx, "articles", "embedding", query, 0.25)
//
//	// Or with the fluent builder:
//	results, _ := db.Search("articles", "embedding", query).
//	    KNN(10).
//	    MaxDistance(0.25).
//	    Execute(ctx)
//
// # Durability Model
//
// Committed writes land in a write-ahead log next to the datafile and are
// folded in by checkpoints:
//
//	db.Insert(ctx, "people", doc)  // durable after this (WAL fsync)
//	db.Checkpoint()                // folds WAL pages into the datafile
//
// # Recovery
//
// A damaged datafile is rebuilt in place, keeping the previous file as a
// backup. Open does this automatically when the file is flagged invalid or
// no longer parses; it can also be run explicitly:
//
//	res, _ := docgo.Rebuild(ctx, "data.db", docgo.WithArchive(store))
//	fmt.Println(res.Documents, "documents recovered,", len(res.Faults), "faults")
//
// # Key Features
//
//   - Single-file storage with page cache and zstd-compressed WAL
//   - Schemaless documents with ordered fields and a rich value system
//   - Collation-aware string comparison (case/diacritic insensitivity)
//   - Cosine-distance vector search with fluent query builder
//   - Crash recovery and in-place rebuild of damaged datafiles
//   - Legacy datafile upgrade on open
//   - Backup archival to S3, MinIO or in-memory blob stores
package docgo
