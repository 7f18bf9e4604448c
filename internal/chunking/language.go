package chunking

import "path/filepath"

// DetectLanguage maps a file extension to a language tag. Unknown
// extensions return "unknown".
func DetectLanguage(file string) string {
	switch filepath.Ext(file) {
	case ".ts", ".tsx", ".mts":
		return "typescript"
	case ".js", ".jsx", ".mjs":
		return "javascript"
	case ".py":
		return "python"
	case ".rb":
		return "ruby"
	case ".go":
		return "go"
	case ".rs":
		return "rust"
	case ".java":
		return "java"
	case ".c", ".h":
		return "c"
	case ".cpp", ".hpp", ".cc":
		return "cpp"
	case ".json":
		return "json"
	case ".md", ".markdown":
		return "markdown"
	case ".css", ".scss", ".less":
		return "css"
	case ".html", ".htm":
		return "html"
	default:
		return "unknown"
	}
}
