package database

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/mnohosten/laura-engine/pkg/aggregation"
	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/mnohosten/laura-engine/pkg/index"
)

// CommandKind names a command accepted by Execute.
type CommandKind string

const (
	CommandInsertOne   CommandKind = "insertOne"
	CommandInsertMany  CommandKind = "insertMany"
	CommandFind        CommandKind = "find"
	CommandUpdateOne   CommandKind = "updateOne"
	CommandUpdateMany  CommandKind = "updateMany"
	CommandDeleteOne   CommandKind = "deleteOne"
	CommandDeleteMany  CommandKind = "deleteMany"
	CommandAggregate   CommandKind = "aggregate"
	CommandCreateIndex CommandKind = "createIndex"
	CommandDrop        CommandKind = "drop"
	CommandDistinct    CommandKind = "distinct"
	CommandCount       CommandKind = "count"
)

var commandKinds = []CommandKind{
	CommandInsertOne, CommandInsertMany, CommandFind,
	CommandUpdateOne, CommandUpdateMany, CommandDeleteOne, CommandDeleteMany,
	CommandAggregate, CommandCreateIndex, CommandDrop, CommandDistinct, CommandCount,
}

// CommandKinds returns every command kind.
func CommandKinds() []CommandKind {
	return slices.Clone(commandKinds)
}

// ParseCommandKind validates a command name.
func ParseCommandKind(s string) (CommandKind, error) {
	k := CommandKind(s)
	if !slices.Contains(commandKinds, k) {
		return "", fmt.Errorf("%w: unknown command %q", document.ErrValidation, s)
	}
	return k, nil
}

// ResultKind tells which field of a Result is set.
type ResultKind int

const (
	ResultAck ResultKind = iota
	ResultCount
	ResultCursor
)

// Result is the outcome of Execute: a cursor for find and aggregate, a count
// for count, an acknowledgement for everything else.
type Result struct {
	Kind   ResultKind
	Cursor *Cursor
	Count  int
	Ack    Ack
}

// Ack acknowledges a write, index build, drop or distinct.
type Ack struct {
	InsertedIDs   []document.Value
	MatchedCount  int
	ModifiedCount int
	DeletedCount  int
	UpsertedID    document.Value
	IndexName     string
	Dropped       bool
	Values        []document.Value // distinct
}

// Document renders the acknowledgement with only the fields that apply to
// kind.
func (a Ack) Document(kind CommandKind) *document.Document {
	doc := document.D("acknowledged", true)
	switch kind {
	case CommandInsertOne:
		if len(a.InsertedIDs) > 0 {
			doc.Set("insertedId", a.InsertedIDs[0])
		}
	case CommandInsertMany:
		doc.Set("insertedIds", document.Array(a.InsertedIDs...))
	case CommandUpdateOne, CommandUpdateMany:
		doc.Set("matchedCount", a.MatchedCount)
		doc.Set("modifiedCount", a.ModifiedCount)
		if !a.UpsertedID.IsMissing() {
			doc.Set("upsertedId", a.UpsertedID)
		}
	case CommandDeleteOne, CommandDeleteMany:
		doc.Set("deletedCount", a.DeletedCount)
	case CommandCreateIndex:
		doc.Set("indexName", a.IndexName)
	case CommandDrop:
		doc.Set("dropped", a.Dropped)
	case CommandDistinct:
		doc.Set("values", document.Array(a.Values...))
	}
	return doc
}

// Execute runs one command against a collection. spec carries the
// command's arguments:
//
//	insertOne   {document}
//	insertMany  {documents}
//	find        {filter, projection, sort, skip, limit, batchSize}
//	updateOne   {filter, update, upsert}   (updateMany alike)
//	deleteOne   {filter}                   (deleteMany alike)
//	aggregate   {pipeline}
//	createIndex {keys, name, unique}
//	drop        {}
//	distinct    {key, filter}
//	count       {filter}
//
// Unknown arguments are rejected with document.ErrValidation.
func (db *Database) Execute(ctx context.Context, collection string, kind CommandKind, spec *document.Document) (*Result, error) {
	if db.closed.Load() {
		return nil, ErrDatabaseClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if spec == nil {
		spec = document.NewDocument()
	}
	args := commandArgs{kind: kind, spec: spec}
	c := db.Collection(collection)

	switch kind {
	case CommandInsertOne:
		if err := args.allow("document"); err != nil {
			return nil, err
		}
		doc, err := args.document("document", true)
		if err != nil {
			return nil, err
		}
		id, err := c.InsertOne(doc)
		if err != nil {
			return nil, err
		}
		return ack(Ack{InsertedIDs: []document.Value{id}}), nil

	case CommandInsertMany:
		if err := args.allow("documents"); err != nil {
			return nil, err
		}
		docs, err := args.documents("documents")
		if err != nil {
			return nil, err
		}
		ids, err := c.InsertMany(docs)
		if err != nil {
			return nil, err
		}
		return ack(Ack{InsertedIDs: ids}), nil

	case CommandFind:
		if err := args.allow("filter", "projection", "sort", "skip", "limit", "batchSize"); err != nil {
			return nil, err
		}
		opts := &FindOptions{}
		filter, err := args.document("filter", false)
		if err == nil {
			opts.Projection, err = args.document("projection", false)
		}
		if err == nil {
			opts.Sort, err = args.document("sort", false)
		}
		if err == nil {
			opts.Skip, err = args.count("skip")
		}
		if err == nil {
			opts.Limit, err = args.count("limit")
		}
		if err == nil {
			opts.BatchSize, err = args.count("batchSize")
		}
		if err != nil {
			return nil, err
		}
		cur, err := c.Find(filter, opts)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: ResultCursor, Cursor: cur}, nil

	case CommandUpdateOne, CommandUpdateMany:
		if err := args.allow("filter", "update", "upsert"); err != nil {
			return nil, err
		}
		filter, err := args.document("filter", false)
		if err != nil {
			return nil, err
		}
		upd, err := args.document("update", true)
		if err != nil {
			return nil, err
		}
		upsert, err := args.boolean("upsert")
		if err != nil {
			return nil, err
		}
		opts := &UpdateOptions{Upsert: upsert}
		var res *UpdateResult
		if kind == CommandUpdateOne {
			res, err = c.UpdateOne(filter, upd, opts)
		} else {
			res, err = c.UpdateMany(filter, upd, opts)
		}
		if err != nil {
			return nil, err
		}
		return ack(Ack{MatchedCount: res.MatchedCount, ModifiedCount: res.ModifiedCount, UpsertedID: res.UpsertedID}), nil

	case CommandDeleteOne, CommandDeleteMany:
		if err := args.allow("filter"); err != nil {
			return nil, err
		}
		filter, err := args.document("filter", false)
		if err != nil {
			return nil, err
		}
		var n int
		if kind == CommandDeleteOne {
			n, err = c.DeleteOne(filter)
		} else {
			n, err = c.DeleteMany(filter)
		}
		if err != nil {
			return nil, err
		}
		return ack(Ack{DeletedCount: n}), nil

	case CommandAggregate:
		if err := args.allow("pipeline"); err != nil {
			return nil, err
		}
		v, _ := spec.Get("pipeline")
		if v.IsMissing() {
			v = document.Array()
		}
		stages, err := aggregation.ParseStages(v)
		if err != nil {
			return nil, err
		}
		cur, err := c.Aggregate(ctx, stages)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: ResultCursor, Cursor: cur}, nil

	case CommandCreateIndex:
		if err := args.allow("keys", "name", "unique"); err != nil {
			return nil, err
		}
		keys, err := args.document("keys", true)
		if err != nil {
			return nil, err
		}
		opts := &index.Options{}
		if opts.Name, err = args.text("name"); err != nil {
			return nil, err
		}
		if opts.Unique, err = args.boolean("unique"); err != nil {
			return nil, err
		}
		name, err := c.CreateIndex(keys, opts)
		if err != nil {
			return nil, err
		}
		return ack(Ack{IndexName: name}), nil

	case CommandDrop:
		if err := args.allow(); err != nil {
			return nil, err
		}
		existed := c.Exists()
		c.Drop()
		return ack(Ack{Dropped: existed}), nil

	case CommandDistinct:
		if err := args.allow("key", "filter"); err != nil {
			return nil, err
		}
		key, err := args.text("key")
		if err != nil {
			return nil, err
		}
		filter, err := args.document("filter", false)
		if err != nil {
			return nil, err
		}
		values, err := c.Distinct(key, filter)
		if err != nil {
			return nil, err
		}
		return ack(Ack{Values: values}), nil

	case CommandCount:
		if err := args.allow("filter"); err != nil {
			return nil, err
		}
		filter, err := args.document("filter", false)
		if err != nil {
			return nil, err
		}
		n, err := c.Count(filter)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: ResultCount, Count: n}, nil
	}
	return nil, fmt.Errorf("%w: unknown command %q", document.ErrValidation, kind)
}

func ack(a Ack) *Result {
	return &Result{Kind: ResultAck, Ack: a}
}

// commandArgs reads the typed arguments of a command spec.
type commandArgs struct {
	kind CommandKind
	spec *document.Document
}

func (a commandArgs) allow(keys ...string) error {
	for _, k := range a.spec.Keys() {
		if !slices.Contains(keys, k) {
			return fmt.Errorf("%w: %s does not take argument %q", document.ErrValidation, a.kind, k)
		}
	}
	return nil
}

// document returns a document argument; absent or null gives nil unless
// required.
func (a commandArgs) document(key string, required bool) (*document.Document, error) {
	v, _ := a.spec.Get(key)
	if v.IsNull() {
		if required {
			return nil, fmt.Errorf("%w: %s requires %q", document.ErrValidation, a.kind, key)
		}
		return nil, nil
	}
	doc, ok := v.AsDocument()
	if !ok {
		return nil, fmt.Errorf("%w: %s argument %q must be a document, got %s", document.ErrValidation, a.kind, key, v.Type)
	}
	return doc, nil
}

func (a commandArgs) documents(key string) ([]*document.Document, error) {
	v, _ := a.spec.Get(key)
	items, ok := v.AsArray()
	if !ok {
		return nil, fmt.Errorf("%w: %s requires %q as an array of documents", document.ErrValidation, a.kind, key)
	}
	docs := make([]*document.Document, len(items))
	for i, item := range items {
		doc, ok := item.AsDocument()
		if !ok {
			return nil, fmt.Errorf("%w: %s element %d of %q is not a document", document.ErrValidation, a.kind, i, key)
		}
		docs[i] = doc
	}
	return docs, nil
}

// count returns a non-negative integer argument, zero when absent.
func (a commandArgs) count(key string) (int, error) {
	v, _ := a.spec.Get(key)
	if v.IsNull() {
		return 0, nil
	}
	f, ok := v.AsNumber()
	if !ok || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s argument %q must be a non-negative integer", document.ErrValidation, a.kind, key)
	}
	return int(f), nil
}

func (a commandArgs) boolean(key string) (bool, error) {
	v, _ := a.spec.Get(key)
	if v.IsNull() {
		return false, nil
	}
	b, ok := v.AsBool()
	if !ok {
		return false, fmt.Errorf("%w: %s argument %q must be a boolean", document.ErrValidation, a.kind, key)
	}
	return b, nil
}

func (a commandArgs) text(key string) (string, error) {
	v, _ := a.spec.Get(key)
	if v.IsNull() {
		return "", nil
	}
	s, ok := v.AsString()
	if !ok {
		return "", fmt.Errorf("%w: %s argument %q must be a string", document.ErrValidation, a.kind, key)
	}
	return s, nil
}
