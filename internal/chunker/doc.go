// Package chunker splits file content into overlapping, line-addressed chunks
// sized for embedding.
//
// # Basic Usage
//
//	c := chunker.NewWithConfig(chunker.Config{ChunkSize: 2000, Overlap: 200})
//	for _, chunk := range c.Chunk("internal/auth/token.go", content) {
//	    fmt.Printf("chunk %d: lines %d-%d (%s)\n",
//	        chunk.Index, chunk.StartLine, chunk.EndLine, chunk.ContentHash[:8])
//	}
//
// # Chunking Strategy
//
// Lines are accumulated into a buffer, each counted as its length plus one for
// the newline. When the next line would push the buffer past ChunkSize the
// buffer is emitted and a new one is seeded with the longest run of trailing
// whole lines that fits within Overlap. Consequences:
//   - a chunk never splits a line, so one oversized line is a chunk by itself
//   - the seeded lines of chunk i+1 are a suffix of chunk i
//   - StartLine/EndLine always refer to the original file
//
// Output is a pure function of (content, ChunkSize, Overlap), including each
// chunk's SHA-256 ContentHash, which the indexer uses to skip unchanged chunks.
package chunker
