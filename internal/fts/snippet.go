package fts

import "strings"

// Snippet extracts up to snippetLines lines before and after the matching
// line from content (the chunk's full stored text, starting at
// chunkStartLine). snippetLines == 0 suppresses the snippet (§4.6).
func Snippet(content string, chunkStartLine, matchLine, snippetLines int) string {
	if snippetLines <= 0 {
		return ""
	}

	lines := strings.Split(content, "\n")
	relative := matchLine - chunkStartLine
	if relative < 0 || relative >= len(lines) {
		return ""
	}

	start := relative - snippetLines
	if start < 0 {
		start = 0
	}
	end := relative + snippetLines + 1
	if end > len(lines) {
		end = len(lines)
	}

	return strings.Join(lines[start:end], "\n")
}
