package update

import (
	"errors"
	"testing"
	"time"

	"github.com/mnohosten/laura-engine/pkg/document"
)

func field(t *testing.T, doc *document.Document, path string) string {
	t.Helper()
	v, ok := doc.Lookup(path)
	if !ok {
		t.Fatalf("Field %q missing in %s", path, doc)
	}
	return v.String()
}

func TestArrayPushOperator(t *testing.T) {
	u := mustCompile(t, document.D("$push", document.D("tags", "db", "fresh", 1)))
	next := mustApply(t, u, document.D("tags", document.A("go")))

	if got := field(t, next, "tags"); got != `["go", "db"]` {
		t.Errorf("tags = %s", got)
	}
	if got := field(t, next, "fresh"); got != `[1]` {
		t.Errorf("fresh = %s", got)
	}

	if _, _, err := u.Apply(document.D("tags", "go"), false); !errors.Is(err, document.ErrTypeMismatch) {
		t.Errorf("Expected ErrTypeMismatch pushing to a string, got %v", err)
	}
}

func TestPushWithEach(t *testing.T) {
	tests := []struct {
		name string
		mods *document.Document
		want string
	}{
		{"each", document.D("$each", document.A(4, 5)), `[1, 2, 3, 4, 5]`},
		{"position", document.D("$each", document.A(0), "$position", 0), `[0, 1, 2, 3]`},
		{"negative position", document.D("$each", document.A(9), "$position", -1), `[1, 2, 9, 3]`},
		{"slice", document.D("$each", document.A(4, 5), "$slice", 3), `[1, 2, 3]`},
		{"negative slice", document.D("$each", document.A(4, 5), "$slice", -2), `[4, 5]`},
		{"sort", document.D("$each", document.A(0, 9), "$sort", -1), `[9, 3, 2, 1, 0]`},
		{"sort then slice", document.D("$each", document.A(0), "$sort", 1, "$slice", 2), `[0, 1]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := mustCompile(t, document.D("$push", document.D("nums", tt.mods)))
			next := mustApply(t, u, document.D("nums", document.A(1, 2, 3)))
			if got := field(t, next, "nums"); got != tt.want {
				t.Errorf("nums = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPushSortByField(t *testing.T) {
	u := mustCompile(t, document.D("$push", document.D("scores", document.D(
		"$each", document.A(document.D("s", 5)),
		"$sort", document.D("s", -1),
	))))
	next := mustApply(t, u, document.D("scores", document.A(document.D("s", 3), document.D("s", 9))))

	if got := field(t, next, "scores"); got != `[{"s": 9}, {"s": 5}, {"s": 3}]` {
		t.Errorf("scores = %s", got)
	}
}

func TestArrayAddToSetOperator(t *testing.T) {
	u := mustCompile(t, document.D("$addToSet", document.D(
		"tags", document.D("$each", document.A("go", "rust", "rust")),
		"meta", document.D("k", 1),
	)))
	next := mustApply(t, u, document.D(
		"tags", document.A("go", "db"),
		"meta", document.A(document.D("k", 1)),
	))

	if got := field(t, next, "tags"); got != `["go", "db", "rust"]` {
		t.Errorf("tags = %s", got)
	}
	if got := field(t, next, "meta"); got != `[{"k": 1}]` {
		t.Errorf("meta = %s", got)
	}
}

func TestArrayPullOperator(t *testing.T) {
	tests := []struct {
		name string
		cond interface{}
		doc  *document.Document
		want string
	}{
		{"literal", "b", document.D("v", document.A("a", "b", "c", "b")), `["a", "c"]`},
		{"condition", document.D("$gte", 6), document.D("v", document.A(3, 6, 9, 1)), `[3, 1]`},
		{"in", document.D("$in", document.A("a", "c")), document.D("v", document.A("a", "b", "c")), `["b"]`},
		{
			"document query",
			document.D("item", "B", "score", document.D("$gt", 7)),
			document.D("v", document.A(
				document.D("item", "A", "score", 9),
				document.D("item", "B", "score", 8),
				document.D("item", "B", "score", 2),
			)),
			`[{"item": "A", "score": 9}, {"item": "B", "score": 2}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := mustCompile(t, document.D("$pull", document.D("v", tt.cond)))
			next := mustApply(t, u, tt.doc)
			if got := field(t, next, "v"); got != tt.want {
				t.Errorf("v = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPullAllOperator(t *testing.T) {
	u := mustCompile(t, document.D("$pullAll", document.D("scores", document.A(0, 5))))
	next := mustApply(t, u, document.D("scores", document.A(0, 2, 5, 5, 1, 0)))
	if got := field(t, next, "scores"); got != `[2, 1]` {
		t.Errorf("scores = %s", got)
	}

	_, changed, err := u.Apply(document.D("other", 1), false)
	if err != nil || len(changed) != 0 {
		t.Errorf("Pulling from a missing field should be a no-op, got %v %v", changed, err)
	}
}

func TestArrayPopOperator(t *testing.T) {
	first := mustCompile(t, document.D("$pop", document.D("v", -1)))
	last := mustCompile(t, document.D("$pop", document.D("v", 1)))
	doc := document.D("v", document.A(1, 2, 3))

	if got := field(t, mustApply(t, first, doc), "v"); got != `[2, 3]` {
		t.Errorf("$pop -1 = %s", got)
	}
	if got := field(t, mustApply(t, last, doc), "v"); got != `[1, 2]` {
		t.Errorf("$pop 1 = %s", got)
	}

	_, changed, err := last.Apply(document.D("v", document.A()), false)
	if err != nil || len(changed) != 0 {
		t.Errorf("Popping an empty array should be a no-op, got %v %v", changed, err)
	}
}

func TestRenameOperator(t *testing.T) {
	u := mustCompile(t, document.D("$rename", document.D("nick", "alias.name")))

	next, changed, err := u.Apply(document.D("_id", 1, "nick", "Al"), false)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if next.String() != `{"_id": 1, "alias": {"name": "Al"}}` {
		t.Errorf("Unexpected result %s", next)
	}
	if len(changed) != 2 {
		t.Errorf("Expected source and target to change, got %v", changed)
	}

	_, changed, err = u.Apply(document.D("_id", 1), false)
	if err != nil || len(changed) != 0 {
		t.Errorf("Renaming a missing field should be a no-op, got %v %v", changed, err)
	}
}

func TestCurrentDateOperator(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	now = func() time.Time { return fixed }
	defer func() { now = time.Now }()

	u := mustCompile(t, document.D("$currentDate", document.D(
		"modified", true,
		"stamp", document.D("$type", "timestamp"),
	)))
	next := mustApply(t, u, document.NewDocument())

	if v, _ := next.Get("modified"); !document.Equal(v, document.Date(fixed)) {
		t.Errorf("modified = %v", v)
	}
	if v, _ := next.Get("stamp"); !document.Equal(v, document.Int(int(fixed.Unix()))) {
		t.Errorf("stamp = %v", v)
	}
}
