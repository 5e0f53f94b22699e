package orchestrator

import "strings"

// languageByExt is a compact extension -> language table covering the
// common cases; unmapped extensions fall back to the bare extension name so
// the FTS language filter still has something stable to match on.
var languageByExt = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".java": "java",
	".rb":   "ruby",
	".rs":   "rust",
	".c":    "c",
	".h":    "c",
	".cc":   "cpp",
	".cpp":  "cpp",
	".hpp":  "cpp",
	".cs":   "csharp",
	".php":  "php",
	".sh":   "shell",
	".bash": "shell",
	".md":   "markdown",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".sql":  "sql",
	".html": "html",
	".css":  "css",
	".kt":   "kotlin",
	".swift": "swift",
}

// DetectLanguage returns a best-effort language name for relPath.
func DetectLanguage(relPath string) string {
	ext := ""
	if i := strings.LastIndexByte(relPath, '.'); i >= 0 {
		ext = strings.ToLower(relPath[i:])
	}
	if lang, ok := languageByExt[ext]; ok {
		return lang
	}
	return strings.TrimPrefix(ext, ".")
}
