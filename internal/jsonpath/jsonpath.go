// Package jsonpath resolves dotted paths such as "data[0].properties.type"
// against raw JSON without decoding the whole document.
//
// Segments are object keys separated by dots. An index is written either as
// a bracket suffix ("features[0]") or as a numeric segment ("features.0").
// The empty path selects the whole document.
package jsonpath

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

// ErrNotFound is returned when a path does not resolve.
var ErrNotFound = errors.New("path not found")

// Split converts a path into jsonparser keys.
func Split(path string) ([]string, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "$" {
		return nil, nil
	}
	path = strings.TrimPrefix(path, "$.")

	var keys []string
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, fmt.Errorf("path %q: empty segment", path)
		}
		name := seg
		var idx []string
		if i := strings.IndexByte(seg, '['); i >= 0 {
			name = seg[:i]
			rest := seg[i:]
			for rest != "" {
				if rest[0] != '[' {
					return nil, fmt.Errorf("path %q: malformed index in %q", path, seg)
				}
				end := strings.IndexByte(rest, ']')
				if end < 0 {
					return nil, fmt.Errorf("path %q: unterminated index in %q", path, seg)
				}
				n, err := strconv.Atoi(rest[1:end])
				if err != nil || n < 0 {
					return nil, fmt.Errorf("path %q: invalid index %q", path, rest[1:end])
				}
				idx = append(idx, "["+strconv.Itoa(n)+"]")
				rest = rest[end+1:]
			}
		}
		if name != "" {
			if n, err := strconv.Atoi(name); err == nil && n >= 0 {
				keys = append(keys, "["+strconv.Itoa(n)+"]")
			} else {
				keys = append(keys, name)
			}
		}
		keys = append(keys, idx...)
	}
	return keys, nil
}

// Lookup returns the raw value at path and its type. String values are
// returned unquoted but still escaped, as jsonparser does.
func Lookup(doc []byte, path string) ([]byte, jsonparser.ValueType, error) {
	keys, err := Split(path)
	if err != nil {
		return nil, jsonparser.NotExist, err
	}
	v, typ, _, err := jsonparser.Get(doc, keys...)
	if errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, jsonparser.NotExist, fmt.Errorf("%s: %w", displayPath(path), ErrNotFound)
	}
	if err != nil {
		return nil, jsonparser.NotExist, fmt.Errorf("%s: %w", displayPath(path), err)
	}
	return v, typ, nil
}

// Get decodes the value at path. Numbers decode as float64, objects as
// map[string]any and arrays as []any, like encoding/json.
func Get(doc []byte, path string) (any, error) {
	v, typ, err := Lookup(doc, path)
	if err != nil {
		return nil, err
	}
	return decode(v, typ)
}

// String returns the value at path rendered as a string. Strings are
// unescaped; numbers and booleans use their JSON text.
func String(doc []byte, path string) (string, error) {
	v, typ, err := Lookup(doc, path)
	if err != nil {
		return "", err
	}
	switch typ {
	case jsonparser.String:
		return jsonparser.ParseString(v)
	case jsonparser.Null:
		return "", nil
	default:
		return string(v), nil
	}
}

// Elements returns the raw elements of the array at path.
func Elements(doc []byte, path string) ([][]byte, error) {
	v, typ, err := Lookup(doc, path)
	if err != nil {
		return nil, err
	}
	if typ != jsonparser.Array {
		return nil, fmt.Errorf("%s: expected array, got %s", displayPath(path), typ)
	}
	var out [][]byte
	var inner error
	_, err = jsonparser.ArrayEach(v, func(value []byte, dataType jsonparser.ValueType, _ int, err error) {
		if err != nil {
			inner = err
			return
		}
		if dataType == jsonparser.String {
			// keep strings quoted so elements stay valid JSON documents
			quoted := make([]byte, 0, len(value)+2)
			quoted = append(quoted, '"')
			quoted = append(quoted, value...)
			value = append(quoted, '"')
		}
		out = append(out, value)
	})
	if err == nil {
		err = inner
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", displayPath(path), err)
	}
	return out, nil
}

// Len returns the length of the array at path.
func Len(doc []byte, path string) (int, error) {
	els, err := Elements(doc, path)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

// Normalize maps Go values onto the shapes Get produces, so that expected
// values written as ints or typed maps compare equal to decoded JSON.
func Normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decode(v []byte, typ jsonparser.ValueType) (any, error) {
	switch typ {
	case jsonparser.String:
		return jsonparser.ParseString(v)
	case jsonparser.Number:
		return jsonparser.ParseFloat(v)
	case jsonparser.Boolean:
		return jsonparser.ParseBoolean(v)
	case jsonparser.Null:
		return nil, nil
	default:
		var out any
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func displayPath(path string) string {
	if path == "" {
		return "$"
	}
	return path
}
