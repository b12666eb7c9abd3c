// Package goggles is an embedded vector similarity engine for mapping
// stable external ids to fixed-dimension embeddings and answering cosine
// top-k queries over them.
//
// The engine starts with an exact flat index and escalates automatically
// as the collection grows: an inverted-file (IVF) index past the first
// threshold, and IVF with product quantization past the second. Deletes
// are tombstones; space is reclaimed by rebuilds. State is persisted as a
// compressed binary blob plus a JSON metadata sidecar, with named backups
// and optional mirroring to S3-compatible object storage.
//
//	engine, err := goggles.Open("data", "photos", 512,
//		goggles.WithLogLevel(slog.LevelInfo),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	engine.AddVector(42, embedding)
//	results := engine.Search(query, 10)
package goggles
