// Provides the Transaction bound to a MongoDB session.

package mongostore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/tumblehead/pipedb/internal/jsonv"
	"github.com/tumblehead/pipedb/internal/store"
	"github.com/tumblehead/pipedb/internal/uri"
)

// transaction translates each operation into one update operator run inside
// the session held by ctx. Paths are validated against the document as seen
// by the session, so errors match the working-copy Transaction.
type transaction struct {
	ctx  context.Context
	coll *mongo.Collection
	uri  uri.URI
}

// fieldPath returns the dotted field name of path below the datum, followed by
// extra elements.
func fieldPath(path jsonv.Path, extra ...string) (string, error) {
	parts := make([]string, 0, len(path)+len(extra)+1)
	parts = append(parts, "datum")
	for _, e := range path {
		if e.IsIndex {
			parts = append(parts, strconv.Itoa(e.Index))
			continue
		}
		parts = append(parts, e.Key)
	}
	parts = append(parts, extra...)
	for _, p := range parts[1:] {
		if p == "" || strings.Contains(p, ".") || strings.HasPrefix(p, "$") {
			return "", fmt.Errorf("%w: key %q cannot be addressed in mongodb", jsonv.ErrPath, p)
		}
	}
	return strings.Join(parts, "."), nil
}

// container reads the document and returns the value at path, which must be
// of kind want.
func (t *transaction) container(path jsonv.Path, want jsonv.Kind) (jsonv.Value, error) {
	var doc document
	if err := t.coll.FindOne(t.ctx, byURI(t.uri)).Decode(&doc); err != nil {
		return jsonv.Value{}, store.IOError("read "+t.uri.String(), err)
	}
	datum, err := fromRaw(doc.Datum)
	if err != nil {
		return jsonv.Value{}, err
	}
	v, err := datum.Lookup(path)
	if err != nil {
		return jsonv.Value{}, err
	}
	if v.Kind() != want {
		return jsonv.Value{}, fmt.Errorf("%w: %q is %s, not %s", jsonv.ErrPath, path.String(), v.Kind(), want)
	}
	return v, nil
}

func (t *transaction) apply(update bson.D) error {
	res, err := t.coll.UpdateOne(t.ctx, byURI(t.uri), update)
	if err != nil {
		return store.IOError("update "+t.uri.String(), err)
	}
	if res.MatchedCount == 0 {
		return store.NotFound(t.uri)
	}
	return nil
}

func op(name, field string, v any) bson.D {
	return bson.D{{Key: name, Value: bson.D{{Key: field, Value: v}}}}
}

func pushAt(field string, i int, v jsonv.Value) bson.D {
	return op("$push", field, bson.D{
		{Key: "$each", Value: bson.A{toBSON(v)}},
		{Key: "$position", Value: i},
	})
}

func outOfRange(i int) error {
	return fmt.Errorf("%w: index %d out of range", jsonv.ErrPath, i)
}

// ArrayInsert inserts v before index i. A negative i counts from the end and
// an i past the end appends.
func (t *transaction) ArrayInsert(path jsonv.Path, i int, v jsonv.Value) error {
	if _, err := t.container(path, jsonv.KindArray); err != nil {
		return err
	}
	field, err := fieldPath(path)
	if err != nil {
		return err
	}
	return t.apply(pushAt(field, i, v))
}

func (t *transaction) ArrayUpdate(path jsonv.Path, i int, v jsonv.Value) error {
	arr, err := t.container(path, jsonv.KindArray)
	if err != nil {
		return err
	}
	if i < 0 || i >= arr.Len() {
		return outOfRange(i)
	}
	field, err := fieldPath(path, strconv.Itoa(i))
	if err != nil {
		return err
	}
	return t.apply(op("$set", field, toBSON(v)))
}

func (t *transaction) ArrayReorder(path jsonv.Path, i, j int) error {
	arr, err := t.container(path, jsonv.KindArray)
	if err != nil {
		return err
	}
	a, ok := arr.Index(i)
	if !ok {
		return outOfRange(i)
	}
	b, ok := arr.Index(j)
	if !ok {
		return outOfRange(j)
	}
	fi, err := fieldPath(path, strconv.Itoa(i))
	if err != nil {
		return err
	}
	fj, err := fieldPath(path, strconv.Itoa(j))
	if err != nil {
		return err
	}
	if i == j {
		return nil
	}
	return t.apply(bson.D{{Key: "$set", Value: bson.D{
		{Key: fi, Value: toBSON(b)},
		{Key: fj, Value: toBSON(a)},
	}}})
}

// ArrayRemove unsets index i, which the server stores as null. An index past
// the end is ignored.
func (t *transaction) ArrayRemove(path jsonv.Path, i int) error {
	arr, err := t.container(path, jsonv.KindArray)
	if err != nil {
		return err
	}
	if i < 0 || i >= arr.Len() {
		return nil
	}
	field, err := fieldPath(path, strconv.Itoa(i))
	if err != nil {
		return err
	}
	return t.apply(op("$unset", field, ""))
}

func (t *transaction) ObjectInsert(path jsonv.Path, key string, v jsonv.Value) error {
	return t.setKey(path, key, v)
}

func (t *transaction) ObjectUpdate(path jsonv.Path, key string, v jsonv.Value) error {
	return t.setKey(path, key, v)
}

func (t *transaction) setKey(path jsonv.Path, key string, v jsonv.Value) error {
	if _, err := t.container(path, jsonv.KindObject); err != nil {
		return err
	}
	field, err := fieldPath(path, key)
	if err != nil {
		return err
	}
	return t.apply(op("$set", field, toBSON(v)))
}

func (t *transaction) ObjectRename(path jsonv.Path, from, to string) error {
	obj, err := t.container(path, jsonv.KindObject)
	if err != nil {
		return err
	}
	if !obj.Has(from) || from == to {
		return nil
	}
	src, err := fieldPath(path, from)
	if err != nil {
		return err
	}
	dst, err := fieldPath(path, to)
	if err != nil {
		return err
	}
	return t.apply(op("$rename", src, dst))
}

func (t *transaction) ObjectRemove(path jsonv.Path, key string) error {
	if _, err := t.container(path, jsonv.KindObject); err != nil {
		return err
	}
	field, err := fieldPath(path, key)
	if err != nil {
		return err
	}
	return t.apply(op("$unset", field, ""))
}
