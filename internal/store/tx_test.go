package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tumblehead/pipedb/internal/jsonv"
)

func TestWorkingCopy(t *testing.T) {
	list := jsonv.Root.Field("list")
	obj := jsonv.Root.Field("obj")

	tests := []struct {
		name string
		op   func(*WorkingCopy) error
		want string
	}{
		{"insert front", func(w *WorkingCopy) error { return w.ArrayInsert(list, 0, jsonv.Int(0)) }, `{"list":[0,1,2,3],"obj":{"a":1,"b":2}}`},
		{"insert end", func(w *WorkingCopy) error { return w.ArrayInsert(list, 3, jsonv.Int(4)) }, `{"list":[1,2,3,4],"obj":{"a":1,"b":2}}`},
		{"insert past end appends", func(w *WorkingCopy) error { return w.ArrayInsert(list, 10, jsonv.Int(4)) }, `{"list":[1,2,3,4],"obj":{"a":1,"b":2}}`},
		{"insert negative", func(w *WorkingCopy) error { return w.ArrayInsert(list, -1, jsonv.Int(9)) }, `{"list":[1,2,9,3],"obj":{"a":1,"b":2}}`},
		{"update", func(w *WorkingCopy) error { return w.ArrayUpdate(list, 1, jsonv.String("x")) }, `{"list":[1,"x",3],"obj":{"a":1,"b":2}}`},
		{"reorder", func(w *WorkingCopy) error { return w.ArrayReorder(list, 0, 2) }, `{"list":[3,2,1],"obj":{"a":1,"b":2}}`},
		{"remove leaves hole", func(w *WorkingCopy) error { return w.ArrayRemove(list, 1) }, `{"list":[1,null,3],"obj":{"a":1,"b":2}}`},
		{"remove past end", func(w *WorkingCopy) error { return w.ArrayRemove(list, 7) }, `{"list":[1,2,3],"obj":{"a":1,"b":2}}`},
		{"object insert", func(w *WorkingCopy) error { return w.ObjectInsert(obj, "c", jsonv.Bool(true)) }, `{"list":[1,2,3],"obj":{"a":1,"b":2,"c":true}}`},
		{"object update", func(w *WorkingCopy) error { return w.ObjectUpdate(obj, "a", jsonv.Int(5)) }, `{"list":[1,2,3],"obj":{"a":5,"b":2}}`},
		{"object rename", func(w *WorkingCopy) error { return w.ObjectRename(obj, "a", "z") }, `{"list":[1,2,3],"obj":{"b":2,"z":1}}`},
		{"object rename missing", func(w *WorkingCopy) error { return w.ObjectRename(obj, "q", "z") }, `{"list":[1,2,3],"obj":{"a":1,"b":2}}`},
		{"object remove", func(w *WorkingCopy) error { return w.ObjectRemove(obj, "a") }, `{"list":[1,2,3],"obj":{"b":2}}`},
		{"root object", func(w *WorkingCopy) error { return w.ObjectInsert(jsonv.Root, "top", jsonv.Null()) }, `{"list":[1,2,3],"obj":{"a":1,"b":2},"top":null}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := jsonv.MustParse(`{"list": [1, 2, 3], "obj": {"a": 1, "b": 2}}`)
			w := NewWorkingCopy(orig)
			require.NoError(t, tt.op(w))
			assert.Equal(t, tt.want, w.Value().String())
			assert.Equal(t, `{"list":[1,2,3],"obj":{"a":1,"b":2}}`, orig.String())
		})
	}

	t.Run("errors", func(t *testing.T) {
		w := NewWorkingCopy(jsonv.MustParse(`{"list": [1], "obj": {}}`))
		assert.ErrorIs(t, w.ArrayInsert(obj, 0, jsonv.Null()), jsonv.ErrPath)
		assert.ErrorIs(t, w.ArrayUpdate(list, 3, jsonv.Null()), jsonv.ErrPath)
		assert.ErrorIs(t, w.ArrayReorder(list, 0, 1), jsonv.ErrPath)
		assert.ErrorIs(t, w.ObjectInsert(list, "k", jsonv.Null()), jsonv.ErrPath)
		assert.ErrorIs(t, w.ObjectRemove(jsonv.Root.Field("nope"), "k"), jsonv.ErrPath)
		assert.Equal(t, `{"list":[1],"obj":{}}`, w.Value().String())
	})
}
