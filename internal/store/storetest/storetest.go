// Package storetest holds the conformance suite every store.Store backend
// must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tumblehead/pipedb/internal/jsonv"
	"github.com/tumblehead/pipedb/internal/store"
	"github.com/tumblehead/pipedb/internal/uri"
)

// Options tunes the suite for a backend.
type Options struct {
	// Eventual is set for backends whose reads lag behind their writes.
	// Reads are then polled until they match or Timeout expires.
	Eventual bool
	Timeout  time.Duration
}

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

type suite struct {
	opts Options
}

// Run executes the conformance suite. Each subtest gets its own store.
func Run(t *testing.T, open Factory, opts Options) {
	t.Helper()
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	s := suite{opts: opts}

	t.Run("round trip", func(t *testing.T) {
		st, ctx := open(t), t.Context()
		u := uri.MustParse("entity:/assets/chr/hero")
		datum := jsonv.MustParse(`{"name": "hero", "tags": ["chr", "main"], "lod": {"high": true}}`)
		require.NoError(t, st.Insert(ctx, u, datum))
		s.expectDatum(t, st, u, datum)
	})

	t.Run("update replaces", func(t *testing.T) {
		st, ctx := open(t), t.Context()
		u := uri.MustParse("entity:/assets/chr/hero")
		require.NoError(t, st.Insert(ctx, u, jsonv.MustParse(`{"v": 1, "old": true}`)))
		require.NoError(t, st.Update(ctx, u, jsonv.MustParse(`{"v": 2}`)))
		s.expectDatum(t, st, u, jsonv.MustParse(`{"v": 2}`))
	})

	t.Run("uniqueness", func(t *testing.T) {
		st, ctx := open(t), t.Context()
		u := uri.MustParse("entity:/shots/010/010")
		missing := uri.MustParse("entity:/shots/010/999")
		require.NoError(t, st.Insert(ctx, u, jsonv.MustParse(`{"fps": 24}`)))
		s.expectDatum(t, st, u, jsonv.MustParse(`{"fps": 24}`))

		assert.ErrorIs(t, st.Insert(ctx, u, jsonv.MustParse(`{}`)), store.ErrAlreadyExists)
		assert.ErrorIs(t, st.Update(ctx, missing, jsonv.MustParse(`{}`)), store.ErrNotFound)
		_, err := st.Delete(ctx, missing)
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, st.Rename(ctx, missing, uri.MustParse("entity:/shots/010/998")), store.ErrNotFound)
		assert.ErrorIs(t, st.Transact(ctx, missing, func(store.Transaction) error { return nil }), store.ErrNotFound)
	})

	t.Run("invalid uri", func(t *testing.T) {
		st, ctx := open(t), t.Context()
		wild := uri.MustParse("entity:/shots/*/010")
		root := uri.MustParse("entity:/")
		for _, u := range []uri.URI{wild, root} {
			assert.ErrorIs(t, st.Insert(ctx, u, jsonv.Null()), store.ErrInvalidURI, u.String())
			assert.ErrorIs(t, st.Update(ctx, u, jsonv.Null()), store.ErrInvalidURI, u.String())
			_, err := st.Delete(ctx, u)
			assert.ErrorIs(t, err, store.ErrInvalidURI, u.String())
			assert.ErrorIs(t, st.Rename(ctx, u, uri.MustParse("entity:/a")), store.ErrInvalidURI, u.String())
			assert.ErrorIs(t, st.Transact(ctx, u, func(store.Transaction) error { return nil }), store.ErrInvalidURI, u.String())
		}
	})

	t.Run("lookup missing", func(t *testing.T) {
		st, ctx := open(t), t.Context()
		_, ok, err := st.Lookup(ctx, uri.MustParse("entity:/shots/010/010"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("rename", func(t *testing.T) {
		st, ctx := open(t), t.Context()
		a := uri.MustParse("entity:/shots/010/010")
		b := uri.MustParse("entity:/shots/020/010")
		c := uri.MustParse("entity:/shots/030/010")
		datum := jsonv.MustParse(`{"fps": 24, "range": [1001, 1100]}`)
		require.NoError(t, st.Insert(ctx, a, datum))
		require.NoError(t, st.Insert(ctx, c, jsonv.MustParse(`{"fps": 25}`)))
		require.NoError(t, st.Rename(ctx, a, b))
		s.expectMissing(t, st, a)
		s.expectDatum(t, st, b, datum)

		assert.ErrorIs(t, st.Rename(ctx, b, c), store.ErrAlreadyExists)
		s.expectDatum(t, st, c, jsonv.MustParse(`{"fps": 25}`))
	})

	t.Run("delete", func(t *testing.T) {
		st, ctx := open(t), t.Context()
		u := uri.MustParse("entity:/shots/010/010")
		sibling := uri.MustParse("entity:/shots/010/020")
		require.NoError(t, st.Insert(ctx, u, jsonv.MustParse(`{}`)))
		require.NoError(t, st.Insert(ctx, sibling, jsonv.MustParse(`{}`)))
		removed, err := st.Delete(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, []string{u.String()}, uriStrings(removed))
		s.expectMissing(t, st, u)
		s.expectDatum(t, st, sibling, jsonv.MustParse(`{}`))
	})

	t.Run("delete section", func(t *testing.T) {
		st, ctx := open(t), t.Context()
		shot := uri.MustParse("entity:/shots/010/010")
		seq := uri.MustParse("entity:/shots/010")
		require.NoError(t, st.Insert(ctx, shot, jsonv.MustParse(`{"fps": 24}`)))
		s.expectDatum(t, st, shot, jsonv.MustParse(`{"fps": 24}`))

		// Sections that hold no document of their own cannot be deleted.
		for _, u := range []uri.URI{uri.MustParse("entity:/shots"), seq} {
			_, err := st.Delete(ctx, u)
			assert.ErrorIs(t, err, store.ErrNotFound, u.String())
		}
		s.expectDatum(t, st, shot, jsonv.MustParse(`{"fps": 24}`))

		// Deleting a section document leaves the documents below it.
		require.NoError(t, st.Insert(ctx, seq, jsonv.MustParse(`{"seq": "010"}`)))
		s.expectDatum(t, st, seq, jsonv.MustParse(`{"seq": "010"}`))
		removed, err := st.Delete(ctx, seq)
		require.NoError(t, err)
		assert.Equal(t, []string{seq.String()}, uriStrings(removed))
		s.expectMissing(t, st, seq)
		s.expectDatum(t, st, shot, jsonv.MustParse(`{"fps": 24}`))
	})

	t.Run("structured params", func(t *testing.T) {
		st, ctx := open(t), t.Context()
		a := uri.MustParse("entity:/assets/chr/a")
		b := uri.MustParse("entity:/assets/chr/b")
		require.NoError(t, st.Insert(ctx, a, jsonv.MustParse(`{"lod": null, "tags": ["hero", "main"], "render": {"engine": "karma", "samples": 64}}`)))
		require.NoError(t, st.Insert(ctx, b, jsonv.MustParse(`{"tags": "hero", "render": {"samples": 64, "engine": "karma"}}`)))
		s.expectDatum(t, st, b, jsonv.MustParse(`{"tags": "hero", "render": {"samples": 64, "engine": "karma"}}`))
		s.expectDatum(t, st, a, jsonv.MustParse(`{"lod": null, "tags": ["hero", "main"], "render": {"engine": "karma", "samples": 64}}`))

		q := uri.MustParse("entity:/assets/*/*")
		tests := []struct {
			name   string
			params store.Params
			want   []string
		}{
			{"null needs the key", store.Params{"lod": jsonv.Null()}, []string{a.String()}},
			{"scalar is not an element", store.Params{"tags": jsonv.String("hero")}, []string{b.String()}},
			{"array", store.Params{"tags": jsonv.MustParse(`["hero", "main"]`)}, []string{a.String()}},
			{"array order", store.Params{"tags": jsonv.MustParse(`["main", "hero"]`)}, nil},
			{"object in any key order", store.Params{"render": jsonv.MustParse(`{"samples": 64, "engine": "karma"}`)}, []string{a.String(), b.String()}},
			{"object subset", store.Params{"render": jsonv.MustParse(`{"engine": "karma"}`)}, nil},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := st.Query(ctx, q, tt.params)
				require.NoError(t, err)
				assert.Equal(t, tt.want, entryStrings(got))
			})
		}
	})

	t.Run("wildcard query", func(t *testing.T) {
		st, ctx := open(t), t.Context()
		var all []string
		for _, seq := range []string{"010", "020"} {
			for _, shot := range []string{"010", "020", "030"} {
				u := uri.MustParse("entity:/shots/" + seq + "/" + shot)
				all = append(all, u.String())
				datum := jsonv.Object(jsonv.M("seq", jsonv.String(seq)), jsonv.M("fps", jsonv.Int(24)))
				require.NoError(t, st.Insert(ctx, u, datum))
			}
		}
		require.NoError(t, st.Insert(ctx, uri.MustParse("entity:/assets/chr/hero"), jsonv.MustParse(`{"seq": "010"}`)))
		require.NoError(t, st.Insert(ctx, uri.MustParse("schemas:/shots/010/010"), jsonv.MustParse(`{"seq": "010"}`)))

		tests := []struct {
			name   string
			query  string
			params store.Params
			want   []string
		}{
			{"all shots", "entity:/shots/*/*", nil, all},
			{"one sequence", "entity:/shots/010/*", nil, all[:3]},
			{"wild section", "entity:/shots/*/020", nil, []string{all[1], all[4]}},
			{"named", "entity:/shots/020/030", nil, all[5:]},
			{"missing section", "entity:/shots/999/*", nil, nil},
			{"params", "entity:/shots/*/*", store.Params{"seq": jsonv.String("020")}, all[3:]},
			{"params numeric", "entity:/shots/*/*", store.Params{"seq": jsonv.String("010"), "fps": jsonv.Float(24)}, all[:3]},
			{"params no match", "entity:/shots/*/*", store.Params{"fps": jsonv.Int(25)}, nil},
			{"recursive", "entity:/*", store.Params{"seq": jsonv.String("010")}, append([]string{"entity:/assets/chr/hero"}, all[:3]...)},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				q := uri.MustParse(tt.query)
				s.eventually(t, func() bool {
					got, err := st.Query(ctx, q, tt.params)
					if err != nil {
						return false
					}
					return equalStrings(entryStrings(got), tt.want)
				}, "query %s", tt.query)
				got, err := st.Query(ctx, q, tt.params)
				require.NoError(t, err)
				assert.Equal(t, tt.want, entryStrings(got))
			})
		}
	})

	t.Run("transaction", func(t *testing.T) {
		st, ctx := open(t), t.Context()
		u := uri.MustParse("entity:/assets/chr/hero")
		orig := jsonv.MustParse(`{"name": "hero", "layers": ["beauty", "diffuse"], "render": {"engine": "karma"}, "aovs": ["a", "b", "c"]}`)
		require.NoError(t, st.Insert(ctx, u, orig))
		layers := jsonv.Root.Field("layers")
		render := jsonv.Root.Field("render")
		err := st.Transact(ctx, u, func(tx store.Transaction) error {
			if err := tx.ArrayInsert(layers, 0, jsonv.String("albedo")); err != nil {
				return err
			}
			if err := tx.ArrayReorder(layers, 1, 2); err != nil {
				return err
			}
			if err := tx.ArrayUpdate(layers, 0, jsonv.String("base")); err != nil {
				return err
			}
			if err := tx.ArrayRemove(jsonv.Root.Field("aovs"), 1); err != nil {
				return err
			}
			if err := tx.ObjectInsert(render, "samples", jsonv.Int(64)); err != nil {
				return err
			}
			if err := tx.ObjectUpdate(render, "samples", jsonv.Int(128)); err != nil {
				return err
			}
			if err := tx.ObjectRemove(render, "engine"); err != nil {
				return err
			}
			if err := tx.ObjectRemove(render, "absent"); err != nil {
				return err
			}
			return tx.ObjectRename(jsonv.Root, "name", "label")
		})
		require.NoError(t, err)
		s.expectDatum(t, st, u, jsonv.MustParse(`{
			"label": "hero",
			"layers": ["base", "diffuse", "beauty"],
			"render": {"samples": 128},
			"aovs": ["a", null, "c"]
		}`))
	})

	t.Run("transaction rollback", func(t *testing.T) {
		st, ctx := open(t), t.Context()
		u := uri.MustParse("entity:/assets/chr/hero")
		orig := jsonv.MustParse(`{"name": "hero", "layers": ["beauty"]}`)
		require.NoError(t, st.Insert(ctx, u, orig))
		s.expectDatum(t, st, u, orig)
		boom := errors.New("boom")
		err := st.Transact(ctx, u, func(tx store.Transaction) error {
			if err := tx.ObjectUpdate(jsonv.Root, "name", jsonv.String("villain")); err != nil {
				return err
			}
			if err := tx.ArrayInsert(jsonv.Root.Field("layers"), 0, jsonv.String("x")); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)
		// A later write proves the cache caught up before checking the
		// document is untouched.
		marker := uri.MustParse("entity:/assets/chr/marker")
		require.NoError(t, st.Insert(ctx, marker, jsonv.MustParse(`{}`)))
		s.expectDatum(t, st, marker, jsonv.MustParse(`{}`))
		got, ok, err := st.Lookup(ctx, u)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, got.Equal(orig), got.String())
	})

	t.Run("shot scenario", func(t *testing.T) {
		st, ctx := open(t), t.Context()
		a := uri.MustParse("entity:/shots/010/010")
		b := uri.MustParse("entity:/shots/010/020")
		fps := jsonv.MustParse(`{"fps": 24}`)
		require.NoError(t, st.Insert(ctx, a, fps))
		s.eventually(t, func() bool {
			got, err := st.Query(ctx, uri.MustParse("entity:/shots/*/*"), nil)
			return err == nil && len(got) == 1 && got[0].Datum.Equal(fps)
		}, "query after insert")
		require.NoError(t, st.Rename(ctx, a, b))
		s.expectMissing(t, st, a)
		s.expectDatum(t, st, b, fps)
		removed, err := st.Delete(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, []string{b.String()}, uriStrings(removed))
		s.expectMissing(t, st, b)
	})
}

func (s suite) eventually(t *testing.T, cond func() bool, msg string, args ...any) {
	t.Helper()
	if s.opts.Eventual {
		require.Eventually(t, cond, s.opts.Timeout, 10*time.Millisecond, append([]any{msg}, args...)...)
		return
	}
	require.True(t, cond(), append([]any{msg}, args...)...)
}

func (s suite) expectDatum(t *testing.T, st store.Store, u uri.URI, want jsonv.Value) {
	t.Helper()
	s.eventually(t, func() bool {
		got, ok, err := st.Lookup(context.Background(), u)
		return err == nil && ok && got.Equal(want)
	}, "lookup %s == %s", u, want)
}

func (s suite) expectMissing(t *testing.T, st store.Store, u uri.URI) {
	t.Helper()
	s.eventually(t, func() bool {
		_, ok, err := st.Lookup(context.Background(), u)
		return err == nil && !ok
	}, "lookup %s missing", u)
}

func uriStrings(us []uri.URI) []string {
	out := make([]string, len(us))
	for i, u := range us {
		out[i] = u.String()
	}
	return out
}

func entryStrings(entries []store.Entry) []string {
	if len(entries) == 0 {
		return nil
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.URI.String()
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
