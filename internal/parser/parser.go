// Package parser implements the Squid logformat engine: a static token table,
// a compiled-format cache, and the per-line field extractor that turns raw
// access log lines into flat records ready for indexing.
package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is one parsed log line, mapping canonical field names to transformed
// values. NUMERIC fields always carry a parseable number ("0" when the line
// held the "-" sentinel); TEXT and TAG fields keep "-" as-is.
type Record map[string]string

// MalformedLineError reports a line whose field count does not match its
// format after combined-token expansion. It is recoverable per line: callers
// skip the line and continue the batch.
type MalformedLineError struct {
	Format   string
	Expected int
	Actual   int
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed log line: expected %d fields, got %d", e.Expected, e.Actual)
}

// Parse parses a single access log line using the default Squid format.
func Parse(line string) (Record, error) {
	return ParseFormat(line, DefaultFormat)
}

// ParseFormat parses a single access log line using the given logformat
// definition. The compiled format is cached across calls.
func ParseFormat(line, format string) (Record, error) {
	cf, err := Compile(format)
	if err != nil {
		return nil, err
	}

	raw := strings.Fields(line)
	values := make([]string, 0, len(cf.Fields))
	for pos, v := range raw {
		if cf.Combined[pos] {
			values = append(values, strings.Split(v, "/")...)
		} else {
			values = append(values, v)
		}
	}

	if len(values) != len(cf.Fields) {
		return nil, &MalformedLineError{Format: format, Expected: len(cf.Fields), Actual: len(values)}
	}

	rec := make(Record, len(cf.Fields)+1)
	for i, f := range cf.Fields {
		v := values[i]
		if f.Transform != nil {
			v = f.Transform(v)
		}
		if f.Type == Numeric && !isNumeric(v) {
			v = "0"
		}
		rec[f.Name] = v
	}

	if u, ok := rec["url"]; ok && u != "-" {
		rec["domain"] = ExtractDomain(u)
	}
	if ct, ok := rec["contentType"]; ok && ct == "-" {
		if mt := mimeFromURL(rec["url"]); mt != "" {
			rec["contentType"] = mt
		}
	}

	return rec, nil
}

func isNumeric(v string) bool {
	_, err := strconv.ParseFloat(v, 64)
	return err == nil
}
