// Provides the Transaction used by backends that hold the whole document
// locally.

package store

import (
	"fmt"

	"github.com/tumblehead/pipedb/internal/jsonv"
)

// WorkingCopy is a Transaction over a private copy of a document. Backends
// read the document, run the caller against a WorkingCopy and store Value()
// when the caller succeeds.
type WorkingCopy struct {
	doc jsonv.Value
}

// NewWorkingCopy returns a WorkingCopy over a deep copy of doc.
func NewWorkingCopy(doc jsonv.Value) *WorkingCopy {
	return &WorkingCopy{doc: doc.Clone()}
}

// Value returns the modified document.
func (w *WorkingCopy) Value() jsonv.Value {
	return w.doc
}

func (w *WorkingCopy) modify(path jsonv.Path, want jsonv.Kind, fn func(jsonv.Value) (jsonv.Value, error)) error {
	doc, err := w.doc.Update(path, func(v jsonv.Value) (jsonv.Value, error) {
		if v.Kind() != want {
			return jsonv.Value{}, fmt.Errorf("%w: %q is %s, not %s", jsonv.ErrPath, path.String(), v.Kind(), want)
		}
		return fn(v)
	})
	if err != nil {
		return err
	}
	w.doc = doc
	return nil
}

// ArrayInsert inserts v before index i. Like a positional push, a negative i
// counts from the end and an i past the end appends.
func (w *WorkingCopy) ArrayInsert(path jsonv.Path, i int, v jsonv.Value) error {
	return w.modify(path, jsonv.KindArray, func(arr jsonv.Value) (jsonv.Value, error) {
		n := arr.Len()
		if i < 0 {
			i = max(n+i, 0)
		}
		return arr.InsertAt(min(i, n), v.Clone())
	})
}

func (w *WorkingCopy) ArrayUpdate(path jsonv.Path, i int, v jsonv.Value) error {
	return w.modify(path, jsonv.KindArray, func(arr jsonv.Value) (jsonv.Value, error) {
		return arr.SetAt(i, v.Clone())
	})
}

func (w *WorkingCopy) ArrayReorder(path jsonv.Path, i, j int) error {
	return w.modify(path, jsonv.KindArray, func(arr jsonv.Value) (jsonv.Value, error) {
		a, ok := arr.Index(i)
		if !ok {
			return jsonv.Value{}, fmt.Errorf("%w: index %d out of range", jsonv.ErrPath, i)
		}
		b, ok := arr.Index(j)
		if !ok {
			return jsonv.Value{}, fmt.Errorf("%w: index %d out of range", jsonv.ErrPath, j)
		}
		if _, err := arr.SetAt(i, b); err != nil {
			return jsonv.Value{}, err
		}
		return arr.SetAt(j, a)
	})
}

// ArrayRemove sets index i to null. An index past the end is ignored.
func (w *WorkingCopy) ArrayRemove(path jsonv.Path, i int) error {
	return w.modify(path, jsonv.KindArray, func(arr jsonv.Value) (jsonv.Value, error) {
		if i < 0 || i >= arr.Len() {
			return arr, nil
		}
		return arr.SetAt(i, jsonv.Null())
	})
}

func (w *WorkingCopy) ObjectInsert(path jsonv.Path, key string, v jsonv.Value) error {
	return w.setKey(path, key, v)
}

func (w *WorkingCopy) ObjectUpdate(path jsonv.Path, key string, v jsonv.Value) error {
	return w.setKey(path, key, v)
}

func (w *WorkingCopy) setKey(path jsonv.Path, key string, v jsonv.Value) error {
	return w.modify(path, jsonv.KindObject, func(obj jsonv.Value) (jsonv.Value, error) {
		obj.Set(key, v.Clone())
		return obj, nil
	})
}

func (w *WorkingCopy) ObjectRename(path jsonv.Path, from, to string) error {
	return w.modify(path, jsonv.KindObject, func(obj jsonv.Value) (jsonv.Value, error) {
		v, ok := obj.Get(from)
		if !ok || from == to {
			return obj, nil
		}
		obj.Delete(from)
		obj.Delete(to)
		obj.Set(to, v)
		return obj, nil
	})
}

func (w *WorkingCopy) ObjectRemove(path jsonv.Path, key string) error {
	return w.modify(path, jsonv.KindObject, func(obj jsonv.Value) (jsonv.Value, error) {
		obj.Delete(key)
		return obj, nil
	})
}
