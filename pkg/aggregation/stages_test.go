package aggregation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/panjf2000/ants/v2"
)

func orders() []*document.Document {
	return []*document.Document{
		document.D("_id", 1, "cust", "ann", "status", "A", "amount", 50, "items", document.A("pen", "ink")),
		document.D("_id", 2, "cust", "bob", "status", "B", "amount", 20, "items", document.A("pad")),
		document.D("_id", 3, "cust", "ann", "status", "A", "amount", 30, "items", document.A("pen")),
		document.D("_id", 4, "cust", "cy", "status", "A", "amount", 10),
	}
}

func TestProjection(t *testing.T) {
	doc := document.D(
		"_id", 7,
		"name", "Alice",
		"age", 30,
		"address", document.D("city", "Oslo", "zip", "0150"),
		"kids", document.A(document.D("name", "Bo", "age", 3), document.D("name", "Cy", "age", 5)),
	)

	tests := []struct {
		name string
		spec *document.Document
		want map[string]interface{}
	}{
		{
			name: "inclusion keeps _id",
			spec: document.D("name", 1),
			want: map[string]interface{}{"_id": 7.0, "name": "Alice"},
		},
		{
			name: "inclusion without _id",
			spec: document.D("name", 1, "_id", 0),
			want: map[string]interface{}{"name": "Alice"},
		},
		{
			name: "exclusion",
			spec: document.D("address", 0, "kids", 0),
			want: map[string]interface{}{"_id": 7.0, "name": "Alice", "age": 30.0},
		},
		{
			name: "nested inclusion by path",
			spec: document.D("address.city", 1, "_id", false),
			want: map[string]interface{}{"address": map[string]interface{}{"city": "Oslo"}},
		},
		{
			name: "nested inclusion by document",
			spec: document.D("address", document.D("zip", 1), "_id", 0),
			want: map[string]interface{}{"address": map[string]interface{}{"zip": "0150"}},
		},
		{
			name: "inclusion inside array of documents",
			spec: document.D("kids.name", 1, "_id", 0),
			want: map[string]interface{}{"kids": []interface{}{
				map[string]interface{}{"name": "Bo"},
				map[string]interface{}{"name": "Cy"},
			}},
		},
		{
			name: "exclusion inside array of documents",
			spec: document.D("kids.age", 0, "address", 0, "name", 0, "age", 0),
			want: map[string]interface{}{"_id": 7.0, "kids": []interface{}{
				map[string]interface{}{"name": "Bo"},
				map[string]interface{}{"name": "Cy"},
			}},
		},
		{
			name: "computed and renamed fields",
			spec: document.D("_id", 0, "who", "$name", "nextAge", document.D("$add", document.A("$age", 1))),
			want: map[string]interface{}{"who": "Alice", "nextAge": 31.0},
		},
		{
			name: "only _id",
			spec: document.D("_id", 1),
			want: map[string]interface{}{"_id": 7.0},
		},
		{
			name: "literal expression",
			spec: document.D("_id", 0, "kind", document.D("$literal", 1)),
			want: map[string]interface{}{"kind": 1.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseProjection(tt.spec)
			if err != nil {
				t.Fatalf("ParseProjection failed: %v", err)
			}
			got, err := p.Apply(doc)
			if err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got.ToMap()); diff != "" {
				t.Errorf("projection mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if !doc.Has("address") || doc.Len() != 5 {
		t.Errorf("Apply modified its input: %v", doc)
	}
}

func TestProjectionInclusionOrder(t *testing.T) {
	p, err := ParseProjection(document.D("b", 1, "total", document.D("$add", document.A(1, 2)), "a", 1))
	if err != nil {
		t.Fatalf("ParseProjection failed: %v", err)
	}
	got, err := p.Apply(document.D("_id", 1, "a", 1, "b", 2, "c", 3))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if diff := cmp.Diff([]string{"_id", "a", "b", "total"}, got.Keys()); diff != "" {
		t.Errorf("key order mismatch (-want +got):\n%s", diff)
	}
}

func TestProjectionErrors(t *testing.T) {
	tests := []struct {
		name string
		spec *document.Document
	}{
		{"mixed inclusion and exclusion", document.D("a", 1, "b", 0)},
		{"path collision", document.D("a", 1, "a.b", 1)},
		{"dollar field", document.D("$a", 1)},
		{"empty nested", document.D("a", document.D())},
		{"empty segment", document.D("a..b", 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseProjection(tt.spec); !errors.Is(err, document.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestAddFieldsSeesInputDocument(t *testing.T) {
	out := runPipeline(t, &SliceSource{Docs: []*document.Document{document.D("a", 1)}}, nil,
		document.D("$set", document.D(
			"a", 10,
			"b", "$a",
			"nested.c", document.D("$multiply", document.A("$a", 3)),
		)),
	)
	want := []map[string]interface{}{{
		"a": 10.0, "b": 1.0, "nested": map[string]interface{}{"c": 3.0},
	}}
	if diff := cmp.Diff(want, toMaps(out)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestAddFieldsDoesNotMutateSource(t *testing.T) {
	src := &SliceSource{Docs: []*document.Document{document.D("a", 1)}}
	runPipeline(t, src, nil, document.D("$addFields", document.D("a", 2, "b", 3)))
	if diff := cmp.Diff(map[string]interface{}{"a": 1.0}, src.Docs[0].ToMap()); diff != "" {
		t.Errorf("source document changed (-want +got):\n%s", diff)
	}
}

func TestUnsetAndReplaceRoot(t *testing.T) {
	src := &SliceSource{Docs: []*document.Document{
		document.D("_id", 1, "meta", document.D("owner", "ann", "tmp", true), "tmp", 1),
	}}

	out := runPipeline(t, src, nil, document.D("$unset", document.A("tmp", "meta.tmp")))
	want := []map[string]interface{}{{"_id": 1.0, "meta": map[string]interface{}{"owner": "ann"}}}
	if diff := cmp.Diff(want, toMaps(out)); diff != "" {
		t.Errorf("$unset mismatch (-want +got):\n%s", diff)
	}

	out = runPipeline(t, src, nil, document.D("$replaceRoot", document.D("newRoot", "$meta")))
	want = []map[string]interface{}{{"owner": "ann", "tmp": true}}
	if diff := cmp.Diff(want, toMaps(out)); diff != "" {
		t.Errorf("$replaceRoot mismatch (-want +got):\n%s", diff)
	}

	out = runPipeline(t, src, nil, document.D("$replaceWith", document.D("id", "$_id")))
	want = []map[string]interface{}{{"id": 1.0}}
	if diff := cmp.Diff(want, toMaps(out)); diff != "" {
		t.Errorf("$replaceWith mismatch (-want +got):\n%s", diff)
	}
}

func TestSortSkipLimitCount(t *testing.T) {
	src := &SliceSource{Docs: orders()}

	out := runPipeline(t, src, nil,
		document.D("$sort", document.D("amount", -1)),
		document.D("$skip", 1),
		document.D("$limit", 2),
		document.D("$project", document.D("amount", 1)),
	)
	want := []map[string]interface{}{
		{"_id": 3.0, "amount": 30.0},
		{"_id": 2.0, "amount": 20.0},
	}
	if diff := cmp.Diff(want, toMaps(out)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	out = runPipeline(t, src, nil,
		document.D("$match", document.D("status", "A")),
		document.D("$count", "orders"),
	)
	if diff := cmp.Diff([]map[string]interface{}{{"orders": 3.0}}, toMaps(out)); diff != "" {
		t.Errorf("$count mismatch (-want +got):\n%s", diff)
	}

	out = runPipeline(t, src, nil,
		document.D("$match", document.D("status", "Z")),
		document.D("$count", "orders"),
	)
	if len(out) != 0 {
		t.Errorf("$count over nothing should output nothing, got %v", out)
	}

	out = runPipeline(t, src, nil, document.D("$skip", 10))
	if len(out) != 0 {
		t.Errorf("$skip past the end should output nothing, got %v", out)
	}
}

func TestStageArgumentErrors(t *testing.T) {
	tests := []struct {
		name  string
		stage *document.Document
	}{
		{"limit zero", document.D("$limit", 0)},
		{"limit fraction", document.D("$limit", 1.5)},
		{"skip negative", document.D("$skip", -1)},
		{"count with dollar", document.D("$count", "$n")},
		{"count with dot", document.D("$count", "a.b")},
		{"sort direction", document.D("$sort", document.D("a", 2))},
		{"unwind without dollar", document.D("$unwind", "items")},
		{"unwind unknown option", document.D("$unwind", document.D("path", "$items", "x", 1))},
		{"group without _id", document.D("$group", document.D("n", document.D("$sum", 1)))},
		{"group unknown accumulator", document.D("$group", document.D("_id", nil, "n", document.D("$median", 1)))},
		{"group two accumulators", document.D("$group", document.D("_id", nil, "n", document.D("$sum", 1, "$avg", 1)))},
		{"bucket one boundary", document.D("$bucket", document.D("groupBy", "$a", "boundaries", document.A(1)))},
		{"bucket unsorted", document.D("$bucket", document.D("groupBy", "$a", "boundaries", document.A(5, 1)))},
		{"bucket mixed types", document.D("$bucket", document.D("groupBy", "$a", "boundaries", document.A(1, "z")))},
		{"bucket default inside", document.D("$bucket", document.D("groupBy", "$a", "boundaries", document.A(0, 10), "default", 5))},
		{"bucketAuto zero", document.D("$bucketAuto", document.D("groupBy", "$a", "buckets", 0))},
		{"bucketAuto granularity", document.D("$bucketAuto", document.D("groupBy", "$a", "buckets", 2, "granularity", "R5"))},
		{"lookup without from", document.D("$lookup", document.D("localField", "a", "foreignField", "b", "as", "c"))},
		{"lookup let", document.D("$lookup", document.D("from", "x", "let", document.D(), "pipeline", document.A(), "as", "c"))},
		{"sample without size", document.D("$sample", document.D())},
		{"facet empty", document.D("$facet", document.D())},
		{"facet bad name", document.D("$facet", document.D("$x", document.A()))},
		{"facet in facet", document.D("$facet", document.D("x", document.A(document.D("$facet", document.D("y", document.A())))))},
		{"geoNear without distanceField", document.D("$geoNear", document.D("near", document.A(0, 0)))},
		{"geoNear bad point", document.D("$geoNear", document.D("near", point(0, 200), "distanceField", "d"))},
		{"match with near", document.D("$match", document.D("loc", document.D("$near", document.A(0, 0))))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPipeline([]*document.Document{tt.stage}, nil)
			if !errors.Is(err, document.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestUnwindOptions(t *testing.T) {
	src := &SliceSource{Docs: []*document.Document{
		document.D("_id", 1, "v", document.A("x", "y")),
		document.D("_id", 2, "v", document.A()),
		document.D("_id", 3, "v", nil),
		document.D("_id", 4),
		document.D("_id", 5, "v", "scalar"),
	}}

	out := runPipeline(t, src, nil, document.D("$unwind", "$v"))
	want := []map[string]interface{}{
		{"_id": 1.0, "v": "x"},
		{"_id": 1.0, "v": "y"},
		{"_id": 5.0, "v": "scalar"},
	}
	if diff := cmp.Diff(want, toMaps(out)); diff != "" {
		t.Errorf("plain $unwind mismatch (-want +got):\n%s", diff)
	}

	out = runPipeline(t, src, nil, document.D("$unwind", document.D(
		"path", "$v",
		"includeArrayIndex", "i",
		"preserveNullAndEmptyArrays", true,
	)))
	want = []map[string]interface{}{
		{"_id": 1.0, "v": "x", "i": 0.0},
		{"_id": 1.0, "v": "y", "i": 1.0},
		{"_id": 2.0, "i": nil},
		{"_id": 3.0, "v": nil, "i": nil},
		{"_id": 4.0, "i": nil},
		{"_id": 5.0, "v": "scalar", "i": nil},
	}
	if diff := cmp.Diff(want, toMaps(out)); diff != "" {
		t.Errorf("preserving $unwind mismatch (-want +got):\n%s", diff)
	}
}

func TestUnwindNestedPath(t *testing.T) {
	src := &SliceSource{Docs: []*document.Document{
		document.D("_id", 1, "order", document.D("lines", document.A(document.D("sku", "a"), document.D("sku", "b")))),
	}}
	out := runPipeline(t, src, nil,
		document.D("$unwind", "$order.lines"),
		document.D("$project", document.D("_id", 0, "sku", "$order.lines.sku")),
	)
	want := []map[string]interface{}{{"sku": "a"}, {"sku": "b"}}
	if diff := cmp.Diff(want, toMaps(out)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupAccumulators(t *testing.T) {
	src := &SliceSource{Docs: orders()}
	out := runPipeline(t, src, nil,
		document.D("$group", document.D(
			"_id", "$cust",
			"total", document.D("$sum", "$amount"),
			"avg", document.D("$avg", "$amount"),
			"count", document.D("$count", document.D()),
			"statuses", document.D("$addToSet", "$status"),
			"amounts", document.D("$push", "$amount"),
			"lo", document.D("$min", "$amount"),
			"hi", document.D("$max", "$amount"),
			"first", document.D("$first", "$_id"),
			"last", document.D("$last", "$_id"),
		)),
	)
	want := []map[string]interface{}{
		{
			"_id": "ann", "total": 80.0, "avg": 40.0, "count": 2.0,
			"statuses": []interface{}{"A"}, "amounts": []interface{}{50.0, 30.0},
			"lo": 30.0, "hi": 50.0, "first": 1.0, "last": 3.0,
		},
		{
			"_id": "bob", "total": 20.0, "avg": 20.0, "count": 1.0,
			"statuses": []interface{}{"B"}, "amounts": []interface{}{20.0},
			"lo": 20.0, "hi": 20.0, "first": 2.0, "last": 2.0,
		},
		{
			"_id": "cy", "total": 10.0, "avg": 10.0, "count": 1.0,
			"statuses": []interface{}{"A"}, "amounts": []interface{}{10.0},
			"lo": 10.0, "hi": 10.0, "first": 4.0, "last": 4.0,
		},
	}
	if diff := cmp.Diff(want, toMaps(out)); diff != "" {
		t.Errorf("group mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupCompoundAndNullKeys(t *testing.T) {
	src := &SliceSource{Docs: []*document.Document{
		document.D("a", 1, "b", "x"),
		document.D("a", 1, "b", "x"),
		document.D("a", 2),
		document.D("b", "y"),
		document.D("a", nil),
	}}

	out := runPipeline(t, src, nil,
		document.D("$group", document.D("_id", "$a", "n", document.D("$sum", 1))),
	)
	want := []map[string]interface{}{
		{"_id": 1.0, "n": 2.0},
		{"_id": 2.0, "n": 1.0},
		{"_id": nil, "n": 2.0},
	}
	if diff := cmp.Diff(want, toMaps(out)); diff != "" {
		t.Errorf("null grouping mismatch (-want +got):\n%s", diff)
	}

	out = runPipeline(t, src, nil,
		document.D("$group", document.D("_id", document.D("a", "$a", "b", "$b"), "n", document.D("$sum", 1))),
		document.D("$limit", 1),
	)
	want = []map[string]interface{}{{"_id": map[string]interface{}{"a": 1.0, "b": "x"}, "n": 2.0}}
	if diff := cmp.Diff(want, toMaps(out)); diff != "" {
		t.Errorf("compound grouping mismatch (-want +got):\n%s", diff)
	}

	out = runPipeline(t, src, nil,
		document.D("$group", document.D("_id", nil, "n", document.D("$sum", 1))),
	)
	if diff := cmp.Diff([]map[string]interface{}{{"_id": nil, "n": 5.0}}, toMaps(out)); diff != "" {
		t.Errorf("single group mismatch (-want +got):\n%s", diff)
	}
}

func TestBucketDefault(t *testing.T) {
	src := &SliceSource{Docs: []*document.Document{
		document.D("p", 5), document.D("p", 25), document.D("p", "n/a"), document.D("q", 1), document.D("p", 15),
	}}
	out := runPipeline(t, src, nil, document.D("$bucket", document.D(
		"groupBy", "$p",
		"boundaries", document.A(0, 10, 20),
		"default", "other",
	)))
	want := []map[string]interface{}{
		{"_id": 0.0, "count": 1.0},
		{"_id": 10.0, "count": 1.0},
		{"_id": "other", "count": 3.0},
	}
	if diff := cmp.Diff(want, toMaps(out)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestFacetRunsSubPipelines(t *testing.T) {
	pool, err := ants.NewPool(2)
	if err != nil {
		t.Fatalf("ants.NewPool failed: %v", err)
	}
	defer pool.Release()

	src := &SliceSource{Docs: orders()}
	for _, opts := range []*Options{nil, {Pool: pool}} {
		out := runPipeline(t, src, opts,
			document.D("$facet", document.D(
				"byStatus", document.A(
					document.D("$group", document.D("_id", "$status", "n", document.D("$sum", 1))),
					document.D("$sort", document.D("_id", 1)),
				),
				"big", document.A(
					document.D("$match", document.D("amount", document.D("$gte", 30))),
					document.D("$project", document.D("_id", 1)),
				),
				"total", document.A(document.D("$count", "n")),
			)),
		)
		want := []map[string]interface{}{{
			"byStatus": []interface{}{
				map[string]interface{}{"_id": "A", "n": 3.0},
				map[string]interface{}{"_id": "B", "n": 1.0},
			},
			"big": []interface{}{
				map[string]interface{}{"_id": 1.0},
				map[string]interface{}{"_id": 3.0},
			},
			"total": []interface{}{map[string]interface{}{"n": 4.0}},
		}}
		if diff := cmp.Diff(want, toMaps(out)); diff != "" {
			t.Errorf("facet mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestFacetReportsFirstFailure(t *testing.T) {
	p, err := NewPipeline([]*document.Document{
		document.D("$limit", 10),
		document.D("$facet", document.D(
			"ok", document.A(document.D("$count", "n")),
			"bad", document.A(
				document.D("$skip", 0),
				document.D("$set", document.D("x", document.D("$multiply", document.A("$cust", 2)))),
			),
		)),
	}, nil)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	_, err = p.Execute(context.Background(), &SliceSource{Docs: orders()})

	var se *StageError
	if !errors.As(err, &se) || se.Index != 1 || se.Stage != "$facet" {
		t.Fatalf("expected a $facet StageError at index 1, got %v", err)
	}
	if !errors.Is(err, document.ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch in chain, got %v", err)
	}
	var inner *StageError
	if !errors.As(se.Err, &inner) || inner.Index != 1 || inner.Stage != "$set" {
		t.Errorf("expected inner $set StageError at index 1, got %v", se.Err)
	}
}

func TestFacetRejectsGeoNear(t *testing.T) {
	_, err := NewPipeline([]*document.Document{
		document.D("$facet", document.D("x", document.A(
			document.D("$geoNear", document.D("near", document.A(0, 0), "distanceField", "d")),
		))),
	}, nil)
	if !errors.Is(err, ErrGeoNearPosition) {
		t.Fatalf("expected ErrGeoNearPosition, got %v", err)
	}
}

func TestLookupArraysAndPipeline(t *testing.T) {
	src := &SliceSource{
		Docs: []*document.Document{
			document.D("_id", 1, "tags", document.A("red", "blue")),
			document.D("_id", 2),
		},
		Collections: map[string][]*document.Document{
			"colors": {
				document.D("_id", "c1", "name", "blue", "hex", "00f"),
				document.D("_id", "c2", "name", "red", "hex", "f00"),
				document.D("_id", "c3", "hex", "000"),
			},
		},
	}
	out := runPipeline(t, src, nil,
		document.D("$lookup", document.D(
			"from", "colors",
			"localField", "tags",
			"foreignField", "name",
			"as", "matched",
			"pipeline", document.A(document.D("$project", document.D("hex", 0))),
		)),
	)
	want := []map[string]interface{}{
		{"_id": 1.0, "tags": []interface{}{"red", "blue"}, "matched": []interface{}{
			map[string]interface{}{"_id": "c1", "name": "blue"},
			map[string]interface{}{"_id": "c2", "name": "red"},
		}},
		{"_id": 2.0, "matched": []interface{}{
			map[string]interface{}{"_id": "c3"},
		}},
	}
	if diff := cmp.Diff(want, toMaps(out)); diff != "" {
		t.Errorf("lookup mismatch (-want +got):\n%s", diff)
	}
}

func TestLookupUncorrelatedPipeline(t *testing.T) {
	src := &SliceSource{
		Docs: []*document.Document{document.D("_id", 1), document.D("_id", 2)},
		Collections: map[string][]*document.Document{
			"stock": {document.D("sku", "a", "qty", 0), document.D("sku", "b", "qty", 5)},
		},
	}
	out := runPipeline(t, src, nil, document.D("$lookup", document.D(
		"from", "stock",
		"pipeline", document.A(document.D("$match", document.D("qty", document.D("$gt", 0)))),
		"as", "available",
	)))
	for _, doc := range out {
		v, _ := doc.Get("available")
		items, _ := v.AsArray()
		if len(items) != 1 {
			t.Errorf("expected one available item, got %v", v)
		}
	}
}

func TestSample(t *testing.T) {
	var docs []*document.Document
	for i := 0; i < 20; i++ {
		docs = append(docs, document.D("_id", i))
	}
	src := &SliceSource{Docs: docs}

	ids := func(out []*document.Document) []float64 {
		var got []float64
		for _, d := range out {
			v, _ := d.Get("_id")
			n, _ := v.AsNumber()
			got = append(got, n)
		}
		return got
	}

	first := runPipeline(t, src, &Options{Seed: 42}, document.D("$sample", document.D("size", 5)))
	second := runPipeline(t, src, &Options{Seed: 42}, document.D("$sample", document.D("size", 5)))
	if len(first) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(first))
	}
	if diff := cmp.Diff(ids(first), ids(second)); diff != "" {
		t.Errorf("same seed gave different samples (-first +second):\n%s", diff)
	}
	seen := make(map[float64]bool)
	for _, id := range ids(first) {
		if seen[id] {
			t.Errorf("sample repeated document %v", id)
		}
		seen[id] = true
	}

	all := runPipeline(t, src, nil, document.D("$sample", document.D("size", 50)))
	if len(all) != 20 {
		t.Errorf("oversized sample returned %d documents, want 20", len(all))
	}
	for i, d := range docs {
		if v, _ := d.Get("_id"); !document.Equal(v, document.Int(i)) {
			t.Fatalf("sample reordered its input")
		}
	}
}
