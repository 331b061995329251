package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/dshills/reporag/pkg/types"
)

const (
	// DefaultChunkSize is the target maximum character (rune) count per chunk
	DefaultChunkSize = 2000

	// DefaultOverlap is the maximum rune count carried into the next chunk
	DefaultOverlap = 200
)

// Config controls chunk sizing
type Config struct {
	ChunkSize int // Runes per chunk, newline included (default: 2000)
	Overlap   int // Runes of trailing whole lines repeated in the next chunk (default: 200)
}

// Chunker splits file content into overlapping, line-addressed chunks.
// It is stateless and safe for concurrent use.
type Chunker struct {
	chunkSize int
	overlap   int
}

// New creates a Chunker with the default size and overlap
func New() *Chunker {
	return NewWithConfig(Config{ChunkSize: DefaultChunkSize, Overlap: DefaultOverlap})
}

// NewWithConfig creates a Chunker from cfg. A non-positive ChunkSize becomes
// DefaultChunkSize; zero overlap is kept and a negative one is clamped to zero.
func NewWithConfig(cfg Config) *Chunker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	return &Chunker{
		chunkSize: cfg.ChunkSize,
		overlap:   cfg.Overlap,
	}
}

// ChunkSize returns the configured chunk size
func (c *Chunker) ChunkSize() int {
	return c.chunkSize
}

// Overlap returns the configured overlap
func (c *Chunker) Overlap() int {
	return c.overlap
}

// Chunk splits content into chunks. Boundaries fall only between lines, so a
// single line longer than the chunk size becomes a chunk of its own.
// Empty content yields no chunks.
func (c *Chunker) Chunk(filePath, content string) []types.Chunk {
	lines := SplitLines(content)
	if len(lines) == 0 {
		return nil
	}

	language := DetectLanguage(filePath)
	chunks := make([]types.Chunk, 0, estimateChunks(len(content), c.chunkSize, c.overlap))

	var buf []string
	size := 0
	startLine := 1

	for i, line := range lines {
		lineLen := lineLength(line)

		if size+lineLen > c.chunkSize && len(buf) > 0 {
			chunks = append(chunks, c.newChunk(filePath, language, len(chunks), startLine, buf))

			buf, size = overlapSuffix(buf, c.overlap)
			// Line i+1 (1-based) is about to be appended after the seeded lines
			startLine = i + 1 - len(buf)
		}

		buf = append(buf, line)
		size += lineLen
	}

	if len(buf) > 0 {
		chunks = append(chunks, c.newChunk(filePath, language, len(chunks), startLine, buf))
	}

	return chunks
}

func (c *Chunker) newChunk(filePath, language string, index, startLine int, lines []string) types.Chunk {
	chunk := types.Chunk{
		Content:   strings.Join(lines, "\n"),
		FilePath:  filePath,
		Index:     index,
		StartLine: startLine,
		EndLine:   startLine + len(lines) - 1,
		Language:  language,
	}
	chunk.ComputeContentHash()
	return chunk
}

// lineLength counts the runes of line plus its newline
func lineLength(line string) int {
	return utf8.RuneCountInString(line) + 1
}

// overlapSuffix returns the longest run of trailing whole lines whose combined
// length (newlines included) fits within overlap, as a fresh slice.
func overlapSuffix(lines []string, overlap int) ([]string, int) {
	size := 0
	start := len(lines)
	for j := len(lines) - 1; j >= 0; j-- {
		lineLen := lineLength(lines[j])
		if size+lineLen > overlap {
			break
		}
		size += lineLen
		start = j
	}

	seed := make([]string, len(lines)-start)
	copy(seed, lines[start:])
	return seed, size
}

// SplitLines splits content on \n, \r\n and \r. A trailing line terminator
// does not produce an extra empty line.
func SplitLines(content string) []string {
	if content == "" {
		return nil
	}

	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	content = strings.TrimSuffix(content, "\n")

	return strings.Split(content, "\n")
}

// estimateChunks approximates ceil(n / (size - overlap)) for slice preallocation
func estimateChunks(n, size, overlap int) int {
	step := size - overlap
	if step <= 0 {
		step = size
	}
	return n/step + 1
}
