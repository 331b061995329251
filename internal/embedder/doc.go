// Package embedder turns text into fixed-dimension vectors.
//
// Providers are selected by tag through New: openai, jina, ollama, gemini and
// local. Every provider is built on the same batch core, which validates the
// request, serves cache hits, calls the provider API with exponential backoff
// and checks that exactly one vector of the configured dimension came back for
// each input text.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "openai", CacheSize: 10000})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: []string{chunkA.Content, chunkB.Content},
//	})
//	// resp.Embeddings[i] belongs to Texts[i]
//
// A batch either fully succeeds or returns an error wrapping ErrProviderFailed;
// callers never receive a partial batch.
//
// # Caching
//
// Cache entries are keyed by provider, model and the SHA-256 of the text.
// MemoryCache is an in-process LRU; RedisCache shares vectors across
// processes. Only texts that miss the cache are sent to the provider.
//
// # Retries
//
// Network errors, 429 and 5xx responses are retried with backoff. Other 4xx
// responses surface immediately as *StatusError.
//
// # Local Provider
//
// The local provider hashes words into signed buckets. It needs no network
// and keeps texts with shared vocabulary close, which is enough for offline
// use and for tests.
package embedder
