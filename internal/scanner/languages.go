package scanner

import (
	"path/filepath"
	"strings"
)

// ContentType classifies what a discovered file holds. The indexing pipeline
// routes code and config through the code parsers and markdown through the
// markdown parser.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeConfig   ContentType = "config"
	ContentTypeText     ContentType = "text"
)

var extLanguages = map[string]string{
	".go": "go",

	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".cjs": "javascript",
	".ts":  "typescript",
	".tsx": "tsx",

	".py":  "python",
	".pyi": "python",

	".java": "java",
	".kt":   "kotlin",
	".kts":  "kotlin",

	".rb":   "ruby",
	".rake": "ruby",

	".rs": "rust",

	".c":   "c",
	".h":   "c",
	".cpp": "cpp",
	".cc":  "cpp",
	".cxx": "cpp",
	".hpp": "cpp",

	".cs":    "csharp",
	".swift": "swift",
	".php":   "php",
	".scala": "scala",
	".ex":    "elixir",
	".exs":   "elixir",
	".erl":   "erlang",
	".hs":    "haskell",
	".lua":   "lua",
	".r":     "r",

	".sh":   "shell",
	".bash": "shell",
	".zsh":  "shell",

	".sql": "sql",

	".html": "html",
	".htm":  "html",
	".css":  "css",
	".scss": "scss",
	".less": "less",
	".vue":  "vue",

	".graphql": "graphql",
	".gql":     "graphql",
	".proto":   "protobuf",

	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".xml":   "xml",
	".ini":   "ini",

	".md":       "markdown",
	".mdx":      "markdown",
	".markdown": "markdown",
	".rst":      "rst",
	".txt":      "text",
}

var nameLanguages = map[string]string{
	"Dockerfile":  "dockerfile",
	"Makefile":    "makefile",
	"makefile":    "makefile",
	"GNUmakefile": "makefile",
}

var configLanguages = map[string]bool{
	"json": true, "yaml": true, "toml": true, "xml": true,
	"ini": true, "dockerfile": true, "makefile": true,
}

// DetectLanguage maps a path to a language name, or "" when unknown.
func DetectLanguage(path string) string {
	base := filepath.Base(path)
	if lang, ok := nameLanguages[base]; ok {
		return lang
	}
	ext := strings.ToLower(filepath.Ext(base))
	if lang, ok := extLanguages[ext]; ok {
		return lang
	}
	return ""
}

// ContentTypeFor maps a language to its content type.
func ContentTypeFor(language string) ContentType {
	switch {
	case language == "markdown" || language == "rst":
		return ContentTypeMarkdown
	case configLanguages[language]:
		return ContentTypeConfig
	case language == "text" || language == "":
		return ContentTypeText
	default:
		return ContentTypeCode
	}
}
