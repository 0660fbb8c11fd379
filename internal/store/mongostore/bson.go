// Provides conversion between jsonv values and BSON.

package mongostore

import (
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/tumblehead/pipedb/internal/jsonv"
	"github.com/tumblehead/pipedb/internal/store"
)

// toBSON converts v to a value the driver marshals as-is. Objects become
// bson.D so key order survives the round trip.
func toBSON(v jsonv.Value) any {
	switch v.Kind() {
	case jsonv.KindBool:
		b, _ := v.AsBool()
		return b
	case jsonv.KindInt:
		i, _ := v.AsInt()
		return i
	case jsonv.KindFloat:
		f, _ := v.AsFloat()
		return f
	case jsonv.KindString:
		s, _ := v.AsString()
		return s
	case jsonv.KindArray:
		a := make(bson.A, 0, v.Len())
		for _, item := range v.Items() {
			a = append(a, toBSON(item))
		}
		return a
	case jsonv.KindObject:
		d := make(bson.D, 0, v.Len())
		for k, m := range v.Members() {
			d = append(d, bson.E{Key: k, Value: toBSON(m)})
		}
		return d
	default:
		return nil
	}
}

// fromRaw converts a stored BSON value back to jsonv. Types with no JSON
// counterpart are mapped to their canonical string form.
func fromRaw(rv bson.RawValue) (jsonv.Value, error) {
	switch rv.Type {
	case 0, bson.TypeNull, bson.TypeUndefined:
		return jsonv.Null(), nil
	case bson.TypeBoolean:
		return jsonv.Bool(rv.Boolean()), nil
	case bson.TypeInt32:
		return jsonv.Int(int64(rv.Int32())), nil
	case bson.TypeInt64:
		return jsonv.Int(rv.Int64()), nil
	case bson.TypeDouble:
		return jsonv.Float(rv.Double()), nil
	case bson.TypeString:
		return jsonv.String(rv.StringValue()), nil
	case bson.TypeObjectID:
		return jsonv.String(rv.ObjectID().Hex()), nil
	case bson.TypeDateTime:
		return jsonv.String(time.UnixMilli(rv.DateTime()).UTC().Format(time.RFC3339Nano)), nil
	case bson.TypeDecimal128:
		f, err := strconv.ParseFloat(rv.Decimal128().String(), 64)
		if err != nil {
			return jsonv.Value{}, fmt.Errorf("%w: decimal: %w", store.ErrMalformedData, err)
		}
		return jsonv.Float(f), nil
	case bson.TypeArray:
		values, err := rv.Array().Values()
		if err != nil {
			return jsonv.Value{}, fmt.Errorf("%w: %w", store.ErrMalformedData, err)
		}
		items := make([]jsonv.Value, 0, len(values))
		for _, item := range values {
			v, err := fromRaw(item)
			if err != nil {
				return jsonv.Value{}, err
			}
			items = append(items, v)
		}
		return jsonv.Array(items...), nil
	case bson.TypeEmbeddedDocument:
		elems, err := rv.Document().Elements()
		if err != nil {
			return jsonv.Value{}, fmt.Errorf("%w: %w", store.ErrMalformedData, err)
		}
		obj := jsonv.Object()
		for _, e := range elems {
			v, err := fromRaw(e.Value())
			if err != nil {
				return jsonv.Value{}, err
			}
			obj.Set(e.Key(), v)
		}
		return obj, nil
	default:
		return jsonv.Value{}, fmt.Errorf("%w: unsupported bson type %s", store.ErrMalformedData, rv.Type)
	}
}
