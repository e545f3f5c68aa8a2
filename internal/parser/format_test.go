package parser

import (
	"errors"
	"testing"
)

func TestCompileDefaultFormat(t *testing.T) {
	cf, err := Compile(DefaultFormat)
	if err != nil {
		t.Fatalf("Compile(DefaultFormat) error: %v", err)
	}

	wantFields := []string{
		"timestamp", "duration", "clientIP", "resultType", "resultStatus",
		"bytes", "method", "url", "user", "hierarchyType", "hierarchyHost",
		"contentType",
	}
	if len(cf.Fields) != len(wantFields) {
		t.Fatalf("got %d fields, want %d", len(cf.Fields), len(wantFields))
	}
	for i, name := range wantFields {
		if cf.Fields[i].Name != name {
			t.Errorf("field %d = %q, want %q", i, cf.Fields[i].Name, name)
		}
	}

	// %Ss/%03>Hs and %Sh/%<a occupy whitespace positions 3 and 8.
	for _, pos := range []int{3, 8} {
		if !cf.Combined[pos] {
			t.Errorf("position %d not marked combined", pos)
		}
	}
	if len(cf.Combined) != 2 {
		t.Errorf("got %d combined positions, want 2", len(cf.Combined))
	}
}

func TestCompileFieldTypes(t *testing.T) {
	cf, err := Compile(DefaultFormat)
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}

	tests := []struct {
		field string
		want  FieldType
	}{
		{"timestamp", Numeric},
		{"bytes", Numeric},
		{"resultStatus", Numeric},
		{"clientIP", Tag},
		{"resultType", Tag},
		{"url", Text},
		{"user", Text},
	}
	for _, tt := range tests {
		got, ok := cf.FieldTypeOf(tt.field)
		if !ok {
			t.Errorf("FieldTypeOf(%q) not found", tt.field)
			continue
		}
		if got != tt.want {
			t.Errorf("FieldTypeOf(%q) = %v, want %v", tt.field, got, tt.want)
		}
	}
}

func TestCompileUnknownToken(t *testing.T) {
	_, err := Compile("%ts %bogus")
	if err == nil {
		t.Fatal("expected error for unknown token")
	}

	var unknownErr *UnknownTokenError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("error type = %T, want *UnknownTokenError", err)
	}
	if unknownErr.Token != "%bogus" {
		t.Errorf("Token = %q, want %%bogus", unknownErr.Token)
	}
	if unknownErr.Composite != "" {
		t.Errorf("Composite = %q, want empty for plain unknown token", unknownErr.Composite)
	}
}

func TestCompileMalformedComposite(t *testing.T) {
	_, err := Compile("%ts %Ss/%nope")
	if err == nil {
		t.Fatal("expected error for malformed composite")
	}

	var unknownErr *UnknownTokenError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("error type = %T, want *UnknownTokenError", err)
	}
	if unknownErr.Composite == "" {
		t.Error("Composite not set for composite failure")
	}
	if unknownErr.Token != "%nope" {
		t.Errorf("Token = %q, want %%nope", unknownErr.Token)
	}
}

func TestCompileStripsModifiers(t *testing.T) {
	// Width and encoding modifiers must not affect field identity.
	cf, err := Compile("%6tr %[un %010>Hs")
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	want := []string{"duration", "user", "resultStatus"}
	for i, name := range want {
		if cf.Fields[i].Name != name {
			t.Errorf("field %d = %q, want %q", i, cf.Fields[i].Name, name)
		}
	}
}

func TestCompileCached(t *testing.T) {
	first, err := Compile(DefaultFormat)
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	second, err := Compile(DefaultFormat)
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	if first != second {
		t.Error("second Compile returned a different object; cache miss")
	}
}

func TestIndexSchema(t *testing.T) {
	decls, err := IndexSchema("")
	if err != nil {
		t.Fatalf("IndexSchema error: %v", err)
	}

	byName := make(map[string]FieldDecl, len(decls))
	for _, d := range decls {
		byName[d.Name] = d
	}

	if d, ok := byName["domain"]; !ok || d.Type != Text || !d.Sortable {
		t.Errorf("domain decl = %+v, want sortable TEXT", d)
	}
	if d := byName["timestamp"]; d.Type != Numeric || !d.Sortable {
		t.Errorf("timestamp decl = %+v, want sortable NUMERIC", d)
	}
	if d := byName["user"]; d.Sortable {
		t.Errorf("user decl = %+v, want not sortable", d)
	}
	if d := byName["contentType"]; d.Sortable {
		t.Errorf("contentType decl = %+v, want not sortable", d)
	}
}
