package parser

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// DefaultFormat is the standard Squid access log layout.
const DefaultFormat = "%ts.%03tu %6tr %>a %Ss/%03>Hs %<st %rm %ru %[un %Sh/%<a %mt"

// Field is one resolved position of a compiled format.
type Field struct {
	Name      string
	Type      FieldType
	Transform TransformFunc
}

// CompiledFormat is the result of compiling a logformat definition string.
// Fields holds one entry per value a conforming line yields after combined
// positions are expanded; Combined marks the whitespace positions that carry
// two slash-joined tokens in the raw line.
type CompiledFormat struct {
	Format   string
	Fields   []Field
	Combined map[int]bool

	fieldTypes map[string]FieldType
}

// UnknownTokenError reports a directive the token table does not know.
// Composite is set when the directive appeared inside a slash-joined token,
// which indicates a malformed composite rather than an unknown directive.
type UnknownTokenError struct {
	Token     string
	Composite string
}

func (e *UnknownTokenError) Error() string {
	if e.Composite != "" {
		return fmt.Sprintf("malformed composite token %q: unknown part %q", e.Composite, e.Token)
	}
	return fmt.Sprintf("unknown logformat token %q", e.Token)
}

// modifierRe strips Squid's optional encoding prefix (quote, bracket, hash,
// slash, apostrophe) and width/alignment digits from a directive. These affect
// only output rendering, never field identity.
var modifierRe = regexp.MustCompile(`%["\[/#']?(?:-?\d+)?`)

func normalizeFormat(format string) string {
	return modifierRe.ReplaceAllString(format, "%")
}

// formatCache memoizes compiled formats by their raw (pre-normalization)
// definition string for the process lifetime. Entries are write-once-per-key;
// a racing duplicate compile produces an identical value, so LoadOrStore
// keeps the winner without locking around the compile itself.
var formatCache sync.Map

// Compile parses a logformat definition string into a CompiledFormat.
// Results are cached by the exact format string, so repeated calls are O(1)
// after the first.
func Compile(format string) (*CompiledFormat, error) {
	if cached, ok := formatCache.Load(format); ok {
		return cached.(*CompiledFormat), nil
	}

	cf, err := compile(format)
	if err != nil {
		return nil, err
	}
	actual, _ := formatCache.LoadOrStore(format, cf)
	return actual.(*CompiledFormat), nil
}

func compile(format string) (*CompiledFormat, error) {
	cf := &CompiledFormat{
		Format:   format,
		Combined: make(map[int]bool),
	}

	for pos, part := range strings.Split(normalizeFormat(format), " ") {
		if strings.Contains(part, "/") {
			cf.Combined[pos] = true
			for _, sub := range strings.Split(part, "/") {
				tok, ok := lookupToken(sub)
				if !ok {
					return nil, &UnknownTokenError{Token: sub, Composite: part}
				}
				cf.Fields = append(cf.Fields, Field{Name: tok.Field, Type: tok.Type, Transform: tok.Transform})
			}
			continue
		}

		tok, ok := lookupToken(part)
		if !ok {
			return nil, &UnknownTokenError{Token: part}
		}
		cf.Fields = append(cf.Fields, Field{Name: tok.Field, Type: tok.Type, Transform: tok.Transform})
	}

	cf.fieldTypes = make(map[string]FieldType, len(cf.Fields))
	for _, f := range cf.Fields {
		cf.fieldTypes[f.Name] = f.Type
	}
	return cf, nil
}

// FieldTypeOf returns the declared storage type for a field the format
// produces.
func (cf *CompiledFormat) FieldTypeOf(name string) (FieldType, bool) {
	t, ok := cf.fieldTypes[name]
	return t, ok
}
