package ast

import (
	"path/filepath"
	"strings"
)

// Language constants used throughout the AST package
const (
	LangGo         = "go"
	LangPython     = "python"
	LangTypeScript = "typescript"
	LangJavaScript = "javascript"
	LangJava       = "java"
	LangRust       = "rust"
	LangMarkdown   = "markdown"
	LangText       = "text"
	LangUnknown    = "unknown"
)

// SupportedLanguages lists the languages with a tree-sitter grammar.
var SupportedLanguages = []string{
	LangGo,
	LangPython,
	LangTypeScript,
	LangJavaScript,
	LangJava,
	LangRust,
}

var languageExtensions = map[string]string{
	".go":   LangGo,
	".ts":   LangTypeScript,
	".tsx":  LangTypeScript,
	".js":   LangJavaScript,
	".jsx":  LangJavaScript,
	".mjs":  LangJavaScript,
	".py":   LangPython,
	".rs":   LangRust,
	".java": LangJava,
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".rb":   "ruby",
	".php":  "php",
	".kt":   "kotlin",
	".cs":   "csharp",
	".sh":   "bash",
	".sql":  "sql",
	".yaml": "yaml",
	".yml":  "yaml",
	".toml": "toml",
	".json": "json",
	".html": "html",
	".css":  "css",
	".md":   LangMarkdown,
	".mdx":  LangMarkdown,
	".rst":  LangText,
	".txt":  LangText,
}

// DetectLanguage detects the language of a file from its extension.
func DetectLanguage(path string) string {
	if lang, ok := languageExtensions[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}

	switch base := strings.ToLower(filepath.Base(path)); {
	case base == "readme", base == "license", base == "changelog":
		return LangText
	case base == "dockerfile", strings.HasPrefix(base, "dockerfile."):
		return "dockerfile"
	case base == "makefile":
		return "makefile"
	}
	return LangUnknown
}
