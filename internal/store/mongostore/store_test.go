package mongostore

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/tumblehead/pipedb/internal/jsonv"
	"github.com/tumblehead/pipedb/internal/store"
	"github.com/tumblehead/pipedb/internal/uri"
)

func TestBSONConversion(t *testing.T) {
	tests := []string{
		`null`,
		`true`,
		`42`,
		`2.5`,
		`"sh010"`,
		`[1, "a", null, [true]]`,
		`{"z": 1, "a": {"nested": [1.5, {"k": "v"}]}, "m": null}`,
	}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			want := jsonv.MustParse(raw)
			data, err := bson.Marshal(bson.D{{Key: "v", Value: toBSON(want)}})
			require.NoError(t, err)
			got, err := fromRaw(bson.Raw(data).Lookup("v"))
			require.NoError(t, err)
			assert.True(t, got.Equal(want), "got %s", got)
			assert.Equal(t, want.String(), got.String())
		})
	}

	t.Run("int32", func(t *testing.T) {
		data, err := bson.Marshal(bson.D{{Key: "v", Value: int32(7)}})
		require.NoError(t, err)
		got, err := fromRaw(bson.Raw(data).Lookup("v"))
		require.NoError(t, err)
		i, ok := got.AsInt()
		assert.True(t, ok)
		assert.Equal(t, int64(7), i)
	})

	t.Run("missing", func(t *testing.T) {
		got, err := fromRaw(bson.RawValue{})
		require.NoError(t, err)
		assert.True(t, got.IsNull())
	})
}

func TestFilters(t *testing.T) {
	t.Run("pattern", func(t *testing.T) {
		f := patternFilter(uri.MustParse("entity:/shots"))
		pattern := f[0].Value.(bson.D)[0].Value.(string)
		re := regexp.MustCompile(pattern)
		assert.True(t, re.MatchString("entity:/shots"))
		assert.False(t, re.MatchString("entity:/shots/010"))
		assert.False(t, re.MatchString("entity:/shotsx"))
	})

	t.Run("query", func(t *testing.T) {
		f := queryFilter(uri.MustParse("entity:/shots/*/*"), store.Params{
			"seq": jsonv.String("010"),
			"fps": jsonv.Int(24),
		})
		require.Len(t, f, 3)
		assert.Equal(t, "uri", f[0].Key)
		assert.Equal(t, bson.E{Key: "datum.fps", Value: int64(24)}, f[1])
		assert.Equal(t, bson.E{Key: "datum.seq", Value: "010"}, f[2])
	})

	t.Run("query keeps structured params client side", func(t *testing.T) {
		f := queryFilter(uri.MustParse("entity:/*"), store.Params{
			"render": jsonv.MustParse(`{"engine": "karma"}`),
			"tags":   jsonv.MustParse(`["hero"]`),
			"a.b":    jsonv.Int(1),
			"$where": jsonv.String("x"),
			"lod":    jsonv.Null(),
		})
		require.Len(t, f, 2)
		assert.Equal(t, bson.E{Key: "datum.lod", Value: nil}, f[1])
	})

	t.Run("closure", func(t *testing.T) {
		f := closureFilter(uri.MustParse("entity:/shots/010"))
		in := f[0].Value.(bson.D)[0].Value.(bson.A)
		assert.Equal(t, bson.A{"entity:/", "entity:/shots", "entity:/shots/010"}, in)
	})
}

func TestMergeClosure(t *testing.T) {
	u := uri.MustParse("entity:/shots/010/020")
	entry := func(raw, datum string) store.Entry {
		return store.Entry{URI: uri.MustParse(raw), Datum: jsonv.MustParse(datum)}
	}

	t.Run("merged", func(t *testing.T) {
		got, ok := mergeClosure(u, []store.Entry{
			entry("entity:/shots", `{"fps": 24, "render": {"engine": "karma", "samples": 64}}`),
			entry("entity:/shots/010/020", `{"render": {"samples": 128}, "name": "sh020"}`),
			entry("entity:/shots/010", `{"fps": 25}`),
		})
		require.True(t, ok)
		want := jsonv.MustParse(`{"fps": 25, "render": {"engine": "karma", "samples": 128}, "name": "sh020"}`)
		assert.True(t, got.Equal(want), got.String())
	})

	t.Run("self missing", func(t *testing.T) {
		_, ok := mergeClosure(u, []store.Entry{entry("entity:/shots", `{"fps": 24}`)})
		assert.False(t, ok)
	})

	t.Run("inputs untouched", func(t *testing.T) {
		parent := entry("entity:/shots/010", `{"a": {"b": 1}}`)
		_, ok := mergeClosure(u, []store.Entry{parent, entry(u.String(), `{"a": {"c": 2}}`)})
		require.True(t, ok)
		assert.Equal(t, `{"a":{"b":1}}`, parent.Datum.String())
	})
}

func TestFieldPath(t *testing.T) {
	p := jsonv.Root.Field("render").Field("layers")
	got, err := fieldPath(p, "2")
	require.NoError(t, err)
	assert.Equal(t, "datum.render.layers.2", got)

	got, err = fieldPath(jsonv.Root)
	require.NoError(t, err)
	assert.Equal(t, "datum", got)

	got, err = fieldPath(jsonv.Root.Field("aovs").At(1))
	require.NoError(t, err)
	assert.Equal(t, "datum.aovs.1", got)

	for _, bad := range []string{"a.b", "$set", ""} {
		_, err := fieldPath(jsonv.Root, bad)
		assert.ErrorIs(t, err, jsonv.ErrPath, bad)
	}
}

func TestUpdateOperators(t *testing.T) {
	got := pushAt("datum.layers", -1, jsonv.String("beauty"))
	want := bson.D{{Key: "$push", Value: bson.D{{Key: "datum.layers", Value: bson.D{
		{Key: "$each", Value: bson.A{"beauty"}},
		{Key: "$position", Value: -1},
	}}}}}
	assert.Equal(t, want, got)
	assert.Equal(t, bson.D{{Key: "$unset", Value: bson.D{{Key: "datum.a", Value: ""}}}}, op("$unset", "datum.a", ""))
}
