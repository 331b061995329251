package chunker

import (
	"path"
	"strings"

	"github.com/dshills/reporag/pkg/types"
)

var languages = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".rs":   "rust",
	".go":   "go",
	".md":   "markdown",
	".java": "java",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".hpp":  "cpp",
}

// DefaultExtensions is the indexing allow-list used when none is configured
var DefaultExtensions = []string{".py", ".js", ".ts", ".tsx", ".md", ".go", ".rs"}

// DetectLanguage maps a file path to a language tag by extension.
// Unknown extensions map to types.LanguageText.
func DetectLanguage(filePath string) string {
	ext := strings.ToLower(path.Ext(filePath))
	if lang, ok := languages[ext]; ok {
		return lang
	}
	return types.LanguageText
}

// ExtensionFilter reports whether a path's extension is in an allow-list
type ExtensionFilter struct {
	allowed map[string]struct{}
}

// NewExtensionFilter builds a filter; entries may be given with or without the leading dot.
// An empty list falls back to DefaultExtensions.
func NewExtensionFilter(extensions []string) *ExtensionFilter {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	f := &ExtensionFilter{allowed: make(map[string]struct{}, len(extensions))}
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		f.allowed[ext] = struct{}{}
	}
	return f
}

// Allowed reports whether filePath should be indexed
func (f *ExtensionFilter) Allowed(filePath string) bool {
	_, ok := f.allowed[strings.ToLower(path.Ext(filePath))]
	return ok
}
