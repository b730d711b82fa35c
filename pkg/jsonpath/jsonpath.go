// Package jsonpath extracts values from JSON documents with a subset of
// JSONPath syntax ($.a.b[0].c), translated to gjson paths.
package jsonpath

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNotFound is returned when the path does not resolve to a value.
var ErrNotFound = errors.New("path not found")

// Result is a value extracted from a document.
type Result struct {
	// Raw is the raw JSON text of the value.
	Raw string
	// Value is the value rendered as a string (strings are unquoted).
	Value string
	// Native is the decoded Go value (string, float64, bool, nil, map, slice).
	Native interface{}
}

// Extract extracts a value from a JSON document using a JSONPath expression.
func Extract(doc []byte, path string) (Result, error) {
	if len(doc) == 0 {
		return Result{}, fmt.Errorf("empty JSON document")
	}
	if path == "" {
		return Result{}, fmt.Errorf("empty JSONPath expression")
	}
	if !gjson.ValidBytes(doc) {
		return Result{}, fmt.Errorf("invalid JSON document")
	}

	res := gjson.GetBytes(doc, ToGjson(path))
	if !res.Exists() {
		return Result{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	out := Result{Raw: res.Raw, Native: res.Value()}
	if res.Type == gjson.Null {
		out.Value = "null"
	} else {
		out.Value = res.String()
	}
	return out, nil
}

// Exists reports whether the path resolves in the document.
func Exists(doc []byte, path string) bool {
	if len(doc) == 0 || path == "" {
		return false
	}
	return gjson.GetBytes(doc, ToGjson(path)).Exists()
}

// ToGjson converts a JSONPath expression to a gjson path.
//
//	$                 -> @this
//	$.users[0].name   -> users.0.name
//	$['a b'].c        -> a b.c
//	id                -> id (already a gjson path)
func ToGjson(path string) string {
	path = strings.TrimSpace(path)
	if path == "$" || path == "" {
		return "@this"
	}

	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	var sb strings.Builder
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c != '[' {
			sb.WriteByte(c)
			continue
		}

		end := strings.IndexByte(path[i:], ']')
		if end < 0 {
			sb.WriteString(path[i:])
			break
		}
		inner := strings.Trim(path[i+1:i+end], `'"`)
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(inner)
		i += end
	}
	return sb.String()
}
