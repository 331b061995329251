// Package retriever implements nearest-neighbour retrieval over an indexed
// repository.
//
//	r := retriever.New(store, emb, retriever.Config{}, logger)
//	results, err := r.Retrieve(ctx, repo.ID, "where are flags parsed?", 5)
//	for _, res := range results {
//	    fmt.Printf("%s:%d-%d (%.3f)\n", res.FilePath, res.StartLine, res.EndLine, res.Distance)
//	}
//
// The query is embedded with the same provider used for indexing and only
// chunks of matching dimension are considered. An optional LRU cache keeps
// recent result sets for CacheTTL; Invalidate clears a repository's entries.
package retriever
