package parser

import (
	"encoding/base64"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// TransformFunc normalizes one raw captured field value. Transforms are total:
// malformed input falls back to a sentinel ("-" for text-like results, "0" for
// numeric results) instead of returning an error, so one bad field never
// aborts parsing of an otherwise valid line.
type TransformFunc func(string) string

const (
	maxUserAgentLen = 500
	maxURLLen       = 2000
)

var domainFallbackRe = regexp.MustCompile(`^(?:https?://)?([^/]+)`)

// TimestampToMs converts a float seconds timestamp to integer milliseconds.
// "1758882992.020" becomes "1758882992020".
func TimestampToMs(value string) string {
	ts, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return "0"
	}
	return strconv.FormatInt(int64(math.Round(ts*1000)), 10)
}

// DotToUnderscore replaces every "." with "_". The "-" sentinel passes through.
func DotToUnderscore(value string) string {
	if value == "" || value == "-" {
		return "-"
	}
	return strings.ReplaceAll(value, ".", "_")
}

// UnderscoreToDot is the inverse of DotToUnderscore. Empty input and the "-"
// sentinel map to the zero address.
func UnderscoreToDot(value string) string {
	if value == "" || value == "-" {
		return "0.0.0.0"
	}
	return strings.ReplaceAll(value, "_", ".")
}

// ToInt parses an integer; invalid input becomes "0".
func ToInt(value string) string {
	n, err := strconv.Atoi(value)
	if err != nil {
		return "0"
	}
	return strconv.Itoa(n)
}

// NormalizeStatus parses an HTTP status code in [0, 999]; anything else
// becomes "0".
func NormalizeStatus(value string) string {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 || n > 999 {
		return "0"
	}
	return strconv.Itoa(n)
}

// ExtractDomain returns the hostname of a URL, prefixing "http://" when the
// value has no scheme. Falls back to the substring before the first "/".
func ExtractDomain(value string) string {
	if value == "" || value == "-" {
		return "-"
	}

	raw := value
	if !strings.HasPrefix(raw, "http") {
		raw = "http://" + raw
	}
	if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}

	if m := domainFallbackRe.FindStringSubmatch(value); m != nil && m[1] != "" {
		return m[1]
	}
	return "-"
}

// NormalizeUserAgent truncates oversized user agent strings.
func NormalizeUserAgent(value string) string {
	if value == "" || value == "-" {
		return "-"
	}
	if len(value) > maxUserAgentLen {
		return value[:maxUserAgentLen] + "..."
	}
	return value
}

// NormalizeURL rewrites trailing well-known ports to a scheme prefix
// ("host:443" becomes "https://host") and truncates oversized URLs.
func NormalizeURL(value string) string {
	if value == "" || value == "-" {
		return "-"
	}
	if len(value) > maxURLLen {
		return value[:maxURLLen] + "..."
	}
	if strings.HasSuffix(value, ":443") {
		return "https://" + strings.TrimSuffix(value, ":443")
	}
	if strings.HasSuffix(value, ":80") {
		return "http://" + strings.TrimSuffix(value, ":80")
	}
	return value
}

// Base64Decode decodes a base64 value, returning the input unchanged when it
// does not decode.
func Base64Decode(value string) string {
	if value == "" || value == "-" {
		return "-"
	}
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return value
	}
	return string(decoded)
}
