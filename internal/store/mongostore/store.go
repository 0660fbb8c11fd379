// Package mongostore implements store.Store on MongoDB.
//
// Each purpose maps to one collection of {_id, uri, datum} documents with a
// unique index on uri. Lookup resolves a document together with its ancestors
// and merges them, so a section document provides defaults for everything
// below it. Transact requires a deployment that supports multi-document
// transactions (a replica set or a sharded cluster).
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tumblehead/pipedb/internal/jsonv"
	"github.com/tumblehead/pipedb/internal/store"
	"github.com/tumblehead/pipedb/internal/uri"
)

// DefaultTimeout bounds Connect when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// Options configures a MongoStore.
type Options struct {
	Logger *slog.Logger
	// Timeout bounds the initial connection and ping.
	Timeout time.Duration
}

// MongoStore is a store.Store backed by one MongoDB database.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	log    *slog.Logger
	owned  bool

	mu      sync.Mutex
	indexed map[string]bool
}

var _ store.Backend = (*MongoStore)(nil)

type document struct {
	URI   string        `bson:"uri"`
	Datum bson.RawValue `bson:"datum"`
}

// Connect dials dsn and returns a store over database. Close disconnects the
// client.
func Connect(ctx context.Context, dsn, database string, opts *Options) (*MongoStore, error) {
	if opts == nil {
		opts = &Options{}
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(dsn))
	if err != nil {
		return nil, store.IOError("connect to mongodb", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, store.IOError("ping mongodb", err)
	}
	s := New(client, database, opts)
	s.owned = true
	return s, nil
}

// New returns a store over database using an existing client. Close leaves
// the client connected.
func New(client *mongo.Client, database string, opts *Options) *MongoStore {
	if opts == nil {
		opts = &Options{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &MongoStore{
		client:  client,
		db:      client.Database(database),
		log:     log.With("db", database),
		indexed: map[string]bool{},
	}
}

// Close disconnects the client when the store owns it.
func (s *MongoStore) Close() error {
	if !s.owned {
		return nil
	}
	if err := s.client.Disconnect(context.Background()); err != nil {
		return store.IOError("disconnect from mongodb", err)
	}
	return nil
}

// collection returns the collection holding purpose, creating its unique uri
// index on first use by this process. Index creation is idempotent on the
// server.
func (s *MongoStore) collection(ctx context.Context, purpose string) (*mongo.Collection, error) {
	coll := s.db.Collection(purpose)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexed[purpose] {
		return coll, nil
	}
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "uri", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, store.IOError("create uri index on "+purpose, err)
	}
	s.indexed[purpose] = true
	return coll, nil
}

func byURI(u uri.URI) bson.D {
	return bson.D{{Key: "uri", Value: u.String()}}
}

// patternFilter matches the uris addressed by u: exactly u when it is
// concrete, or everything its wildcards cover.
func patternFilter(u uri.URI) bson.D {
	return bson.D{{Key: "uri", Value: bson.D{{Key: "$regex", Value: u.Pattern()}}}}
}

// queryFilter matches the documents addressed by u and narrows them on the
// params the server compares the same way jsonv does. Query still checks
// every result with Matches: a null filter also selects missing keys, a
// scalar also selects arrays holding it, embedded documents compare in key
// order and dotted keys read as nested paths.
func queryFilter(u uri.URI, params store.Params) bson.D {
	f := patternFilter(u)
	for _, k := range sortedKeys(params) {
		v := params[k]
		if !serverComparable(k, v) {
			continue
		}
		f = append(f, bson.E{Key: "datum." + k, Value: toBSON(v)})
	}
	return f
}

func serverComparable(key string, v jsonv.Value) bool {
	if key == "" || strings.Contains(key, ".") || strings.HasPrefix(key, "$") {
		return false
	}
	switch v.Kind() {
	case jsonv.KindArray, jsonv.KindObject:
		return false
	}
	return true
}

func sortedKeys(params store.Params) []string {
	return slices.Sorted(maps.Keys(params))
}

// closureFilter matches u and each of its ancestors.
func closureFilter(u uri.URI) bson.D {
	chain := u.Ancestors()
	in := make(bson.A, len(chain))
	for i, a := range chain {
		in[i] = a.String()
	}
	return bson.D{{Key: "uri", Value: bson.D{{Key: "$in", Value: in}}}}
}

func (s *MongoStore) Insert(ctx context.Context, u uri.URI, datum jsonv.Value) error {
	if err := store.RequireConcrete(u); err != nil {
		return err
	}
	coll, err := s.collection(ctx, u.Purpose())
	if err != nil {
		return err
	}
	return insertOne(ctx, coll, u, toBSON(datum))
}

func insertOne(ctx context.Context, coll *mongo.Collection, u uri.URI, datum any) error {
	_, err := coll.InsertOne(ctx, bson.D{
		{Key: "uri", Value: u.String()},
		{Key: "datum", Value: datum},
	})
	if mongo.IsDuplicateKeyError(err) {
		return store.AlreadyExists(u)
	}
	if err != nil {
		return store.IOError("insert "+u.String(), err)
	}
	return nil
}

func (s *MongoStore) Update(ctx context.Context, u uri.URI, datum jsonv.Value) error {
	if err := store.RequireConcrete(u); err != nil {
		return err
	}
	coll, err := s.collection(ctx, u.Purpose())
	if err != nil {
		return err
	}
	res, err := coll.UpdateOne(ctx, byURI(u), bson.D{{Key: "$set", Value: bson.D{{Key: "datum", Value: toBSON(datum)}}}})
	if err != nil {
		return store.IOError("update "+u.String(), err)
	}
	if res.MatchedCount == 0 {
		return store.NotFound(u)
	}
	return nil
}

// Rename copies src to dst and then removes src. It is not atomic: when the
// removal fails both documents exist and the error wraps
// store.ErrPartialRename.
func (s *MongoStore) Rename(ctx context.Context, src, dst uri.URI) error {
	if err := store.RequireConcrete(src); err != nil {
		return err
	}
	if err := store.RequireConcrete(dst); err != nil {
		return err
	}
	from, err := s.collection(ctx, src.Purpose())
	if err != nil {
		return err
	}
	to, err := s.collection(ctx, dst.Purpose())
	if err != nil {
		return err
	}
	var doc document
	err = from.FindOne(ctx, byURI(src)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.NotFound(src)
	}
	if err != nil {
		return store.IOError("read "+src.String(), err)
	}
	n, err := to.CountDocuments(ctx, byURI(dst))
	if err != nil {
		return store.IOError("read "+dst.String(), err)
	}
	if n > 0 {
		return store.AlreadyExists(dst)
	}
	if err := insertOne(ctx, to, dst, doc.Datum); err != nil {
		return err
	}
	if _, err := from.DeleteOne(ctx, byURI(src)); err != nil {
		s.log.ErrorContext(ctx, "Rename left source behind", "src", src, "dst", dst, "err", err)
		return fmt.Errorf("%w: %s -> %s: %w", store.ErrPartialRename, src, dst, err)
	}
	return nil
}

// Delete removes the document at u. Documents below u are kept, as in the
// other backends.
func (s *MongoStore) Delete(ctx context.Context, u uri.URI) ([]uri.URI, error) {
	if err := store.RequireConcrete(u); err != nil {
		return nil, err
	}
	coll, err := s.collection(ctx, u.Purpose())
	if err != nil {
		return nil, err
	}
	filter := patternFilter(u)
	docs, err := s.find(ctx, coll, filter)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.NotFound(u)
	}
	res, err := coll.DeleteMany(ctx, filter)
	if err != nil {
		return nil, store.IOError("delete "+u.String(), err)
	}
	if res.DeletedCount == 0 {
		return nil, store.NotFound(u)
	}
	removed := make([]uri.URI, 0, len(docs))
	for _, d := range docs {
		removed = append(removed, d.URI)
	}
	return removed, nil
}

// Lookup returns the datum at u merged over the data of its ancestors. It
// reports false when u itself holds no document.
func (s *MongoStore) Lookup(ctx context.Context, u uri.URI) (jsonv.Value, bool, error) {
	if u.IsZero() || u.IsWild() {
		return jsonv.Value{}, false, store.RequireConcrete(u)
	}
	coll, err := s.collection(ctx, u.Purpose())
	if err != nil {
		return jsonv.Value{}, false, err
	}
	docs, err := s.find(ctx, coll, closureFilter(u))
	if err != nil {
		return jsonv.Value{}, false, err
	}
	v, ok := mergeClosure(u, docs)
	return v, ok, nil
}

// LookupFields returns the merged datum at u restricted to fields.
func (s *MongoStore) LookupFields(ctx context.Context, u uri.URI, fields ...string) (jsonv.Value, bool, error) {
	v, ok, err := s.Lookup(ctx, u)
	if err != nil || !ok {
		return v, ok, err
	}
	return v.Project(fields...), true, nil
}

// mergeClosure folds the data found along u's ancestry from the root down.
func mergeClosure(u uri.URI, docs []store.Entry) (jsonv.Value, bool) {
	byKey := make(map[string]jsonv.Value, len(docs))
	for _, d := range docs {
		byKey[d.URI.String()] = d.Datum
	}
	if _, ok := byKey[u.String()]; !ok {
		return jsonv.Value{}, false
	}
	var (
		out   jsonv.Value
		found bool
	)
	for _, a := range u.Ancestors() {
		d, ok := byKey[a.String()]
		if !ok {
			continue
		}
		if !found {
			out, found = d.Clone(), true
			continue
		}
		out = jsonv.Merge(out, d)
	}
	return out, true
}

func (s *MongoStore) Query(ctx context.Context, u uri.URI, params store.Params) ([]store.Entry, error) {
	if u.IsZero() {
		return nil, store.RequireConcrete(u)
	}
	coll, err := s.collection(ctx, u.Purpose())
	if err != nil {
		return nil, err
	}
	docs, err := s.find(ctx, coll, queryFilter(u, params))
	if err != nil {
		return nil, err
	}
	out := docs[:0]
	for _, d := range docs {
		if d.Datum.Matches(params) {
			out = append(out, d)
		}
	}
	return out, nil
}

// find returns the documents matching filter ordered by uri.
func (s *MongoStore) find(ctx context.Context, coll *mongo.Collection, filter bson.D) ([]store.Entry, error) {
	cur, err := coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "uri", Value: 1}}))
	if err != nil {
		return nil, store.IOError("query "+coll.Name(), err)
	}
	defer func() { _ = cur.Close(context.WithoutCancel(ctx)) }()
	var out []store.Entry
	for cur.Next(ctx) {
		var d document
		if err := cur.Decode(&d); err != nil {
			return nil, store.IOError("decode "+coll.Name(), err)
		}
		u, err := uri.Parse(d.URI)
		if err != nil {
			s.log.WarnContext(ctx, "Skipping document with invalid uri", "collection", coll.Name(), "uri", d.URI, "err", err)
			continue
		}
		datum, err := fromRaw(d.Datum)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.URI, err)
		}
		out = append(out, store.Entry{URI: u, Datum: datum})
	}
	if err := cur.Err(); err != nil {
		return nil, store.IOError("query "+coll.Name(), err)
	}
	// The server sorts by byte order already; this keeps the order identical
	// to the other backends regardless of collation.
	store.SortEntries(out)
	return out, nil
}

// Transact runs fn inside a multi-document transaction on a new session. The
// transaction is committed when fn returns nil and aborted otherwise,
// including when fn panics.
func (s *MongoStore) Transact(ctx context.Context, u uri.URI, fn func(store.Transaction) error) (err error) {
	if err := store.RequireConcrete(u); err != nil {
		return err
	}
	coll, err := s.collection(ctx, u.Purpose())
	if err != nil {
		return err
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return store.IOError("start session", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))
	if err := sess.StartTransaction(); err != nil {
		return store.IOError("start transaction", err)
	}
	sc := mongo.NewSessionContext(ctx, sess)
	committed := false
	defer func() {
		if committed {
			return
		}
		r := recover()
		if abortErr := sess.AbortTransaction(context.WithoutCancel(ctx)); abortErr != nil {
			s.log.WarnContext(ctx, "Failed to abort transaction", "uri", u, "err", abortErr)
		}
		s.log.WarnContext(ctx, "Transaction aborted", "uri", u, "err", err, "panic", r)
		if r != nil {
			panic(r)
		}
	}()

	n, err := coll.CountDocuments(sc, byURI(u))
	if err != nil {
		return store.IOError("read "+u.String(), err)
	}
	if n == 0 {
		return store.NotFound(u)
	}
	if err := fn(&transaction{ctx: sc, coll: coll, uri: u}); err != nil {
		return err
	}
	if err := sess.CommitTransaction(sc); err != nil {
		return store.IOError("commit transaction on "+u.String(), err)
	}
	committed = true
	return nil
}
