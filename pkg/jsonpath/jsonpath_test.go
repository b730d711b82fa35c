package jsonpath

import (
	"errors"
	"testing"
)

const doc = `{
	"name": "John Doe",
	"age": 30,
	"address": {"city": "Anytown"},
	"phones": [{"type": "home", "number": "555-1234"}, {"type": "work"}],
	"active": true,
	"metadata": null,
	"odd key": {"x": 1}
}`

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"simple property", "$.name", "John Doe", false},
		{"number", "$.age", "30", false},
		{"boolean", "$.active", "true", false},
		{"nested", "$.address.city", "Anytown", false},
		{"array index", "$.phones[0].number", "555-1234", false},
		{"second element", "$.phones[1].type", "work", false},
		{"null value", "$.metadata", "null", false},
		{"bracket quoted key", "$['odd key'].x", "1", false},
		{"bare gjson path", "address.city", "Anytown", false},
		{"missing", "$.nope", "", true},
		{"missing index", "$.phones[5].type", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract([]byte(doc), tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Extract(%q) expected error, got %q", tt.path, got.Value)
				}
				if !errors.Is(err, ErrNotFound) {
					t.Errorf("Extract(%q) error = %v, want ErrNotFound", tt.path, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Extract(%q) unexpected error: %v", tt.path, err)
			}
			if got.Value != tt.want {
				t.Errorf("Extract(%q) = %q, want %q", tt.path, got.Value, tt.want)
			}
		})
	}
}

func TestExtract_InvalidInput(t *testing.T) {
	if _, err := Extract(nil, "$.a"); err == nil {
		t.Error("expected error for empty document")
	}
	if _, err := Extract([]byte(`{"a":1}`), ""); err == nil {
		t.Error("expected error for empty path")
	}
	if _, err := Extract([]byte(`{"a":`), "$.a"); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestExtract_Native(t *testing.T) {
	got, err := Extract([]byte(doc), "$.age")
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := got.Native.(float64); !ok || n != 30 {
		t.Errorf("Native = %#v, want float64(30)", got.Native)
	}
}

func TestExists(t *testing.T) {
	if !Exists([]byte(doc), "$.address") {
		t.Error("expected $.address to exist")
	}
	if Exists([]byte(doc), "$.address.zip") {
		t.Error("expected $.address.zip not to exist")
	}
	if Exists(nil, "$.a") {
		t.Error("expected false for empty document")
	}
}

func TestToGjson(t *testing.T) {
	tests := map[string]string{
		"$":                 "@this",
		"$.users[0].name":   "users.0.name",
		"$[2]":              "2",
		`$["a"].b`:          "a.b",
		"$.a.b":             "a.b",
		"items[1][0]":       "items.1.0",
	}
	for in, want := range tests {
		if got := ToGjson(in); got != want {
			t.Errorf("ToGjson(%q) = %q, want %q", in, got, want)
		}
	}
}
