package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dshills/reporag/internal/storage"
	"github.com/dshills/reporag/pkg/types"
)

func printSummary(w io.Writer, name string, s *types.Summary) {
	fmt.Fprintf(w, "Indexed %s in %s\n", name, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Files:  %d discovered, %d chunked, %d skipped\n", s.FilesDiscovered, s.FilesChunked, s.FilesSkipped)
	fmt.Fprintf(w, "  Chunks: %d total, %d unchanged, %d committed, %d failed\n",
		s.ChunksTotal, s.ChunksUnchanged, s.ChunksCommitted(), s.ChunksFailed())

	failed := s.FailedBatches()
	if len(failed) > 0 {
		fmt.Fprintf(w, "  Failed batches:\n")
		for _, b := range failed {
			fmt.Fprintf(w, "    #%d (%d chunks): %v\n", b.Index, b.Count, b.Err)
		}
	}
	for _, msg := range s.ErrorMessages {
		fmt.Fprintf(w, "  ! %s\n", msg)
	}
}

func printResults(w io.Writer, results []types.ScoredChunk, verbose bool) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results.")
		return
	}
	for i, r := range results {
		fmt.Fprintf(w, "[%d] %s:%d-%d  similarity=%.4f\n", i+1, r.FilePath, r.StartLine, r.EndLine, r.Similarity())
		if verbose {
			for _, line := range strings.Split(strings.TrimRight(r.Content, "\n"), "\n") {
				fmt.Fprintf(w, "    %s\n", line)
			}
			fmt.Fprintln(w)
		}
	}
}

func printRepositories(w io.Writer, repos []*storage.Repository) {
	if len(repos) == 0 {
		fmt.Fprintln(w, "No repositories registered.")
		return
	}
	for _, r := range repos {
		indexed := "never"
		if !r.LastIndexedAt.IsZero() {
			indexed = r.LastIndexedAt.Local().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%-30s %s  (last indexed: %s)\n", r.Name, r.ID, indexed)
	}
}

func printStatus(w io.Writer, st *storage.RepositoryStatus) {
	r := st.Repository
	fmt.Fprintf(w, "Repository: %s\n", r.Name)
	fmt.Fprintf(w, "ID:         %s\n", r.ID)
	fmt.Fprintf(w, "Root:       %s\n", r.RootPath)
	fmt.Fprintf(w, "Files:      %d\n", st.FilesCount)
	fmt.Fprintf(w, "Chunks:     %d\n", st.ChunksCount)
	if len(st.Dimensions) > 0 {
		dims := make([]string, len(st.Dimensions))
		for i, d := range st.Dimensions {
			dims[i] = fmt.Sprint(d)
		}
		fmt.Fprintf(w, "Dimensions: %s\n", strings.Join(dims, ", "))
	}
	fmt.Fprintf(w, "Size:       %.2f MB\n", st.IndexSizeMB)
	if !st.LastIndexedAt.IsZero() {
		fmt.Fprintf(w, "Indexed:    %s\n", st.LastIndexedAt.Local().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Vector ext: %v\n", st.Health.VectorExtension)
}
