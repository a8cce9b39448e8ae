package database

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mnohosten/laura-engine/pkg/aggregation"
	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/mnohosten/laura-engine/pkg/index"
)

func execute(t *testing.T, db *Database, coll string, kind CommandKind, spec *document.Document) *Result {
	t.Helper()
	res, err := db.Execute(context.Background(), coll, kind, spec)
	if err != nil {
		t.Fatalf("%s %v failed: %v", kind, spec, err)
	}
	return res
}

func drain(t *testing.T, res *Result) []map[string]interface{} {
	t.Helper()
	if res.Kind != ResultCursor {
		t.Fatalf("Expected a cursor result, got kind %d", res.Kind)
	}
	docs, err := res.Cursor.All()
	if err != nil {
		t.Fatalf("cursor failed: %v", err)
	}
	return toMaps(docs)
}

func TestExecuteCommands(t *testing.T) {
	db := newTestDB(t)

	res := execute(t, db, "inventory", CommandInsertOne, document.D("document", document.D("_id", 1, "item", "pen", "qty", 10)))
	if diff := cmp.Diff([]document.Value{document.Int(1)}, res.Ack.InsertedIDs, cmp.Comparer(document.Equal)); diff != "" {
		t.Errorf("insertOne ids (-want +got):\n%s", diff)
	}

	res = execute(t, db, "inventory", CommandInsertMany, document.D("documents", document.A(
		document.D("_id", 2, "item", "ink", "qty", 0, "tags", document.A("blue")),
		document.D("_id", 3, "item", "pad", "qty", 25, "tags", document.A("blue", "paper")),
	)))
	if len(res.Ack.InsertedIDs) != 2 {
		t.Errorf("insertMany ids = %v", res.Ack.InsertedIDs)
	}

	res = execute(t, db, "inventory", CommandCreateIndex, document.D("keys", document.D("item", 1), "unique", true))
	if res.Ack.IndexName != "item_1" {
		t.Errorf("createIndex name = %q", res.Ack.IndexName)
	}

	got := drain(t, execute(t, db, "inventory", CommandFind, document.D(
		"filter", document.D("qty", document.D("$gt", 5)),
		"projection", document.D("item", 1),
		"sort", document.D("qty", -1),
	)))
	want := []map[string]interface{}{
		{"_id": 3.0, "item": "pad"},
		{"_id": 1.0, "item": "pen"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("find (-want +got):\n%s", diff)
	}

	res = execute(t, db, "inventory", CommandUpdateMany, document.D(
		"filter", document.D("tags", "blue"),
		"update", document.D("$push", document.D("tags", "sale")),
	))
	if res.Ack.MatchedCount != 2 || res.Ack.ModifiedCount != 2 {
		t.Errorf("updateMany ack = %+v", res.Ack)
	}

	res = execute(t, db, "inventory", CommandUpdateOne, document.D(
		"filter", document.D("item", "cap"),
		"update", document.D("$set", document.D("qty", 1)),
		"upsert", true,
	))
	if res.Ack.UpsertedID.IsMissing() {
		t.Errorf("updateOne upsert ack = %+v", res.Ack)
	}

	res = execute(t, db, "inventory", CommandCount, document.D("filter", document.D("tags", "sale")))
	if res.Kind != ResultCount || res.Count != 2 {
		t.Errorf("count = %+v", res)
	}

	res = execute(t, db, "inventory", CommandDistinct, document.D("key", "tags"))
	if diff := cmp.Diff([]interface{}{"blue", "paper", "sale"}, document.Array(res.Ack.Values...).Interface()); diff != "" {
		t.Errorf("distinct (-want +got):\n%s", diff)
	}

	got = drain(t, execute(t, db, "inventory", CommandAggregate, document.D("pipeline", document.A(
		document.D("$group", document.D("_id", nil, "total", document.D("$sum", "$qty"))),
	))))
	if diff := cmp.Diff([]map[string]interface{}{{"_id": nil, "total": 36.0}}, got); diff != "" {
		t.Errorf("aggregate (-want +got):\n%s", diff)
	}

	res = execute(t, db, "inventory", CommandDeleteOne, document.D("filter", document.D("qty", 0)))
	if res.Ack.DeletedCount != 1 {
		t.Errorf("deleteOne ack = %+v", res.Ack)
	}
	res = execute(t, db, "inventory", CommandDeleteMany, document.D("filter", document.D()))
	if res.Ack.DeletedCount != 3 {
		t.Errorf("deleteMany ack = %+v", res.Ack)
	}

	res = execute(t, db, "inventory", CommandDrop, nil)
	if !res.Ack.Dropped {
		t.Errorf("drop ack = %+v", res.Ack)
	}
	res = execute(t, db, "inventory", CommandDrop, nil)
	if res.Ack.Dropped {
		t.Errorf("second drop should report nothing dropped")
	}
}

func TestExecuteErrors(t *testing.T) {
	db := newTestDB(t)
	execute(t, db, "c", CommandInsertOne, document.D("document", document.D("_id", 1)))

	tests := []struct {
		name string
		coll string
		kind CommandKind
		spec *document.Document
		want error
	}{
		{"bad collection", "a$b", CommandFind, nil, document.ErrValidation},
		{"unknown command", "c", CommandKind("explode"), nil, document.ErrValidation},
		{"unknown argument", "c", CommandFind, document.D("filtre", document.D()), document.ErrValidation},
		{"missing document", "c", CommandInsertOne, nil, document.ErrValidation},
		{"filter not a document", "c", CommandCount, document.D("filter", 1), document.ErrValidation},
		{"negative limit", "c", CommandFind, document.D("limit", -1), document.ErrValidation},
		{"bad operator", "c", CommandFind, document.D("filter", document.D("a", document.D("$bogus", 1))), document.ErrValidation},
		{"duplicate key", "c", CommandInsertOne, document.D("document", document.D("_id", 1)), index.ErrDuplicateKey},
		{"type mismatch", "c", CommandUpdateOne, document.D("filter", document.D("_id", 1), "update", document.D("$set", document.D("_id.x", 1))), document.ErrTypeMismatch},
		{"near without index", "c", CommandFind, document.D("filter", document.D("loc", document.D("$near", document.A(0, 0)))), index.ErrIndexRequired},
		{"pipeline not array", "c", CommandAggregate, document.D("pipeline", "nope"), document.ErrValidation},
		{"upsert not bool", "c", CommandUpdateOne, document.D("update", document.D("$set", document.D("a", 1)), "upsert", "yes"), document.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.Execute(context.Background(), tt.coll, tt.kind, tt.spec)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestExecuteStageError(t *testing.T) {
	db := newTestDB(t)
	execute(t, db, "c", CommandInsertOne, document.D("document", document.D("v", "text")))

	_, err := db.Execute(context.Background(), "c", CommandAggregate, document.D("pipeline", document.A(
		document.D("$match", document.D()),
		document.D("$project", document.D("x", document.D("$multiply", document.A("$v", 2)))),
	)))
	var se *aggregation.StageError
	if !errors.As(err, &se) || se.Index != 1 || se.Stage != "$project" {
		t.Fatalf("Expected StageError at $project, got %v", err)
	}
	if !errors.Is(err, document.ErrTypeMismatch) {
		t.Errorf("Expected ErrTypeMismatch cause, got %v", err)
	}
}

func TestExecuteClosedDatabase(t *testing.T) {
	db, err := Open(nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := db.Execute(context.Background(), "c", CommandCount, nil); !errors.Is(err, ErrDatabaseClosed) {
		t.Errorf("Expected ErrDatabaseClosed, got %v", err)
	}
	if err := db.Close(); !errors.Is(err, ErrDatabaseClosed) {
		t.Errorf("second Close: expected ErrDatabaseClosed, got %v", err)
	}
}

func TestParseCommandKind(t *testing.T) {
	for _, k := range CommandKinds() {
		got, err := ParseCommandKind(string(k))
		if err != nil || got != k {
			t.Errorf("ParseCommandKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseCommandKind("insert"); !errors.Is(err, document.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
	if n := len(CommandKinds()); n != 12 {
		t.Errorf("Expected 12 command kinds, got %d", n)
	}
}

func TestAckDocument(t *testing.T) {
	a := Ack{MatchedCount: 2, ModifiedCount: 1, DeletedCount: 9}
	got := a.Document(CommandUpdateMany).ToMap()
	want := map[string]interface{}{"acknowledged": true, "matchedCount": 2.0, "modifiedCount": 1.0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ack document (-want +got):\n%s", diff)
	}
}

func TestCollectionLifecycle(t *testing.T) {
	db := newTestDB(t)

	if _, err := db.CreateCollection("users"); err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}
	if _, err := db.CreateCollection("users"); !errors.Is(err, ErrCollectionExists) {
		t.Errorf("Expected ErrCollectionExists, got %v", err)
	}
	execute(t, db, "orders", CommandInsertOne, document.D("document", document.D("x", 1)))
	execute(t, db, "ghost", CommandFind, nil)

	if diff := cmp.Diff([]string{"orders", "users"}, db.ListCollections()); diff != "" {
		t.Errorf("ListCollections (-want +got):\n%s", diff)
	}
	if err := db.DropCollection("ghost"); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("Expected ErrCollectionNotFound, got %v", err)
	}
	if err := db.DropCollection("users"); err != nil {
		t.Errorf("DropCollection failed: %v", err)
	}
	if diff := cmp.Diff([]string{"orders"}, db.ListCollections()); diff != "" {
		t.Errorf("ListCollections after drop (-want +got):\n%s", diff)
	}
}
