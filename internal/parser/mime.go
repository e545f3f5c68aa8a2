package parser

import (
	"mime"
	"regexp"
	"strings"
)

// Common web types pinned here so content-type inference does not depend on
// the host's mime database. Anything else falls through to the stdlib table.
var mimeByExtension = map[string]string{
	"js":    "text/javascript",
	"mjs":   "text/javascript",
	"css":   "text/css",
	"html":  "text/html",
	"htm":   "text/html",
	"json":  "application/json",
	"xml":   "application/xml",
	"txt":   "text/plain",
	"png":   "image/png",
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"gif":   "image/gif",
	"webp":  "image/webp",
	"svg":   "image/svg+xml",
	"ico":   "image/x-icon",
	"woff":  "font/woff",
	"woff2": "font/woff2",
	"ttf":   "font/ttf",
	"otf":   "font/otf",
	"mp4":   "video/mp4",
	"webm":  "video/webm",
	"mp3":   "audio/mpeg",
	"ogg":   "audio/ogg",
	"wasm":  "application/wasm",
	"pdf":   "application/pdf",
	"zip":   "application/zip",
	"gz":    "application/gzip",
}

var urlExtensionRe = regexp.MustCompile(`\.([a-zA-Z0-9]+)`)

// mimeFromURL infers a MIME type from the last dot-delimited extension in a
// URL. Best effort: returns "" when nothing can be inferred.
func mimeFromURL(rawURL string) string {
	matches := urlExtensionRe.FindAllStringSubmatch(rawURL, -1)
	if len(matches) == 0 {
		return ""
	}
	ext := strings.ToLower(matches[len(matches)-1][1])

	if mt, ok := mimeByExtension[ext]; ok {
		return mt
	}
	mt := mime.TypeByExtension("." + ext)
	if mt == "" {
		return ""
	}
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}
