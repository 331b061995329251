// Package rag is the surface the MCP server, HTTP API and CLI talk to.
//
//	engine := rag.New(store, emb, provider, rag.Config{Indexer: indexer.DefaultConfig()}, logger)
//	repo, _ := engine.RegisterRepository(ctx, "acme/api", "/src/acme/api")
//	summary := engine.Index(ctx, repo.ID, repo.RootPath)
//
//	answer, err := engine.Query(ctx, repo.ID, "Where is the config loaded?")
//	if err != nil {
//	    return err
//	}
//	err = generator.StreamTo(os.Stdout, answer, nil)
//
// Index never fails as a whole; inspect the returned summary. Query errors
// wrap the underlying retrieval or provider error.
package rag
