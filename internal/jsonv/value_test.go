package jsonv

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("scalars", func(t *testing.T) {
		tests := []struct {
			in   string
			kind Kind
		}{
			{"null", KindNull},
			{"true", KindBool},
			{"24", KindInt},
			{"-3", KindInt},
			{"23.976", KindFloat},
			{"1e3", KindFloat},
			{`"plate"`, KindString},
			{"[]", KindArray},
			{"{}", KindObject},
		}
		for _, tt := range tests {
			t.Run(tt.in, func(t *testing.T) {
				v, err := Parse([]byte(tt.in))
				require.NoError(t, err)
				assert.Equal(t, tt.kind, v.Kind())
			})
		}
	})

	t.Run("preserves key order", func(t *testing.T) {
		v := MustParse(`{"zeta": 1, "alpha": {"b": 2, "a": 3}, "mid": [1, "x", null]}`)
		assert.Equal(t, []string{"zeta", "alpha", "mid"}, v.Keys())
		alpha, ok := v.Get("alpha")
		require.True(t, ok)
		assert.Equal(t, []string{"b", "a"}, alpha.Keys())
		assert.Equal(t, `{"zeta":1,"alpha":{"b":2,"a":3},"mid":[1,"x",null]}`, v.String())
	})

	t.Run("escapes", func(t *testing.T) {
		v := MustParse(`{"k\"ey": "line\nbreak é"}`)
		got, ok := v.Get(`k"ey`)
		require.True(t, ok)
		s, _ := got.AsString()
		assert.Equal(t, "line\nbreak é", s)
		back, err := Parse([]byte(v.String()))
		require.NoError(t, err)
		assert.True(t, v.Equal(back))
	})

	t.Run("malformed", func(t *testing.T) {
		for _, in := range []string{"", "{", `{"a":}`, "[1,]", "nul", `{"a":1} trailing`} {
			t.Run(in, func(t *testing.T) {
				_, err := Parse([]byte(in))
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformed))
			})
		}
	})

	t.Run("json interop", func(t *testing.T) {
		type wrapper struct {
			Datum Value `json:"datum"`
		}
		var w wrapper
		require.NoError(t, json.Unmarshal([]byte(`{"datum": {"fps": 24}}`), &w))
		fps, ok := w.Datum.Get("fps")
		require.True(t, ok)
		i, _ := fps.AsInt()
		assert.Equal(t, int64(24), i)
		out, err := json.Marshal(w)
		require.NoError(t, err)
		assert.JSONEq(t, `{"datum": {"fps": 24}}`, string(out))
	})
}

func TestEqual(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{`{"a":1,"b":2}`, `{"b":2,"a":1}`, true},
		{`24`, `24.0`, true},
		{`[1,2]`, `[2,1]`, false},
		{`{"a":null}`, `{}`, false},
		{`"1"`, `1`, false},
		{`null`, `null`, true},
	}
	for _, tt := range tests {
		t.Run(tt.a+" vs "+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, MustParse(tt.a).Equal(MustParse(tt.b)))
		})
	}
}

func TestClone(t *testing.T) {
	orig := MustParse(`{"render": {"layers": ["beauty"]}}`)
	c := orig.Clone()
	render, _ := c.Get("render")
	render.Set("engine", String("karma"))
	layers, _ := render.Get("layers")
	_, err := layers.SetAt(0, String("diffuse"))
	require.NoError(t, err)
	assert.Equal(t, `{"render":{"layers":["beauty"]}}`, orig.String())
}

func TestMerge(t *testing.T) {
	base := MustParse(`{"fps": 24, "render": {"engine": "karma", "samples": 64}, "tags": ["a"]}`)
	over := MustParse(`{"render": {"samples": 128}, "tags": ["b"], "frame_start": 1001}`)
	got := Merge(base, over)
	assert.True(t, got.Equal(MustParse(`{
		"fps": 24,
		"render": {"engine": "karma", "samples": 128},
		"tags": ["b"],
		"frame_start": 1001
	}`)), got.String())
	assert.Equal(t, `{"fps":24,"render":{"engine":"karma","samples":64},"tags":["a"]}`, base.String())
	assert.True(t, Merge(base, Int(3)).Equal(Int(3)))
}

func TestMatches(t *testing.T) {
	v := MustParse(`{"kind": "shot", "fps": 24}`)
	assert.True(t, v.Matches(nil))
	assert.True(t, v.Matches(map[string]Value{"kind": String("shot")}))
	assert.True(t, v.Matches(map[string]Value{"kind": String("shot"), "fps": Float(24)}))
	assert.False(t, v.Matches(map[string]Value{"kind": String("asset")}))
	assert.False(t, v.Matches(map[string]Value{"missing": Null()}))
	assert.False(t, Int(1).Matches(map[string]Value{"kind": String("shot")}))
}

func TestProject(t *testing.T) {
	v := MustParse(`{"a": 1, "b": 2, "c": 3}`)
	assert.Equal(t, `{"c":3,"a":1}`, v.Project("c", "a", "zz").String())
	assert.Equal(t, v.String(), v.Project().String())
}

func TestAny(t *testing.T) {
	v, err := FromAny(map[string]any{"b": []any{1.0, "x", nil}, "a": true, "f": 1.5})
	require.NoError(t, err)
	assert.Equal(t, `{"a":true,"b":[1,"x",null],"f":1.5}`, v.String())
	back, err := FromAny(v.ToAny())
	require.NoError(t, err)
	assert.True(t, v.Equal(back))

	_, err = FromAny(struct{}{})
	assert.Error(t, err)
}

func TestPath(t *testing.T) {
	doc := MustParse(`{"render": {"layers": [{"name": "beauty"}, {"name": "diffuse"}]}}`)

	t.Run("parse", func(t *testing.T) {
		p, err := ParsePath("render.layers.1.name")
		require.NoError(t, err)
		assert.Equal(t, Root.Field("render").Field("layers").At(1).Field("name"), p)
		assert.Equal(t, "render.layers.1.name", p.String())
		_, err = ParsePath("render..layers")
		assert.ErrorIs(t, err, ErrPath)
	})

	t.Run("lookup", func(t *testing.T) {
		got, err := doc.Lookup(Root.Field("render").Field("layers").At(1).Field("name"))
		require.NoError(t, err)
		assert.True(t, got.Equal(String("diffuse")))
		_, err = doc.Lookup(Root.Field("render").Field("layers").At(5))
		assert.ErrorIs(t, err, ErrPath)
	})

	t.Run("update", func(t *testing.T) {
		work := doc.Clone()
		out, err := work.Update(Root.Field("render").Field("layers"), func(layers Value) (Value, error) {
			return layers.InsertAt(0, MustParse(`{"name": "albedo"}`))
		})
		require.NoError(t, err)
		names := []string{}
		layers, _ := out.Lookup(Root.Field("render").Field("layers"))
		for _, l := range layers.Items() {
			n, _ := l.Get("name")
			s, _ := n.AsString()
			names = append(names, s)
		}
		assert.Equal(t, []string{"albedo", "beauty", "diffuse"}, names)
		assert.Equal(t, 2, func() int { l, _ := doc.Lookup(Root.Field("render").Field("layers")); return l.Len() }())
	})

	t.Run("update errors", func(t *testing.T) {
		_, err := doc.Clone().Update(Root.Field("nope"), func(v Value) (Value, error) { return v, nil })
		assert.ErrorIs(t, err, ErrPath)
		_, err = String("x").InsertAt(0, Null())
		assert.ErrorIs(t, err, ErrPath)
		_, err = Array().SetAt(0, Null())
		assert.ErrorIs(t, err, ErrPath)
	})
}
