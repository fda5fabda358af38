package jsonpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const features = `{
  "data": [
    {"id": "f-1", "properties": {"type": "BASIN", "name": "Permian \"Delaware\""}},
    {"id": "f-2", "properties": {"type": "FIELD"}, "score": 60}
  ],
  "meta": {"count": 2, "tags": ["a", "b\\c"]}
}`

func TestSplit(t *testing.T) {
	tests := []struct {
		path    string
		want    []string
		wantErr bool
	}{
		{path: "", want: nil},
		{path: "$", want: nil},
		{path: "data", want: []string{"data"}},
		{path: "data[0].id", want: []string{"data", "[0]", "id"}},
		{path: "data.1.score", want: []string{"data", "[1]", "score"}},
		{path: "$.meta.tags[1]", want: []string{"meta", "tags", "[1]"}},
		{path: "grid[0][2]", want: []string{"grid", "[0]", "[2]"}},
		{path: "data..id", wantErr: true},
		{path: "data[x]", wantErr: true},
		{path: "data[0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := Split(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGet(t *testing.T) {
	doc := []byte(features)

	v, err := Get(doc, "data[0].properties.type")
	require.NoError(t, err)
	assert.Equal(t, "BASIN", v)

	v, err = Get(doc, "data.1.score")
	require.NoError(t, err)
	assert.Equal(t, float64(60), v)

	v, err = Get(doc, "data[0].properties.name")
	require.NoError(t, err)
	assert.Equal(t, `Permian "Delaware"`, v)

	v, err = Get(doc, "meta")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": float64(2), "tags": []any{"a", `b\c`}}, v)

	_, err = Get(doc, "data[5].id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestString(t *testing.T) {
	doc := []byte(features)
	s, err := String(doc, "data[1].id")
	require.NoError(t, err)
	assert.Equal(t, "f-2", s)

	s, err = String(doc, "meta.count")
	require.NoError(t, err)
	assert.Equal(t, "2", s)
}

func TestElementsAndLen(t *testing.T) {
	doc := []byte(features)

	n, err := Len(doc, "data")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	els, err := Elements(doc, "meta.tags")
	require.NoError(t, err)
	require.Len(t, els, 2)
	v, err := Get(els[1], "")
	require.NoError(t, err)
	assert.Equal(t, `b\c`, v)

	_, err = Len(doc, "meta")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected array")

	top, err := Len([]byte(`[1,2,3]`), "")
	require.NoError(t, err)
	assert.Equal(t, 3, top)
}

func TestNormalize(t *testing.T) {
	v, err := Normalize(60)
	require.NoError(t, err)
	assert.Equal(t, float64(60), v)

	v, err = Normalize(map[string]int{"version": 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"version": float64(2)}, v)

	v, err = Normalize("x")
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}
