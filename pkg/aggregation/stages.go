package aggregation

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/mnohosten/laura-engine/pkg/query"
)

// MatchStage filters documents
type MatchStage struct {
	filter *query.Filter
}

func newMatchStage(spec document.Value) (*MatchStage, error) {
	doc, ok := spec.AsDocument()
	if !ok {
		return nil, fmt.Errorf("%w: $match requires a filter document", document.ErrValidation)
	}
	f, err := query.CompileMatch(doc)
	if err != nil {
		return nil, err
	}
	return &MatchStage{filter: f}, nil
}

func (s *MatchStage) Execute(rc *RunContext, docs []*document.Document) ([]*document.Document, error) {
	return query.FilterDocuments(rc.Options.Pool, docs, s.filter, query.DefaultParallelConfig()), nil
}

func (s *MatchStage) Type() string { return "$match" }

// ProjectStage reshapes documents
type ProjectStage struct {
	projection *Projection
}

func newProjectStage(spec document.Value) (*ProjectStage, error) {
	doc, ok := spec.AsDocument()
	if !ok || doc.Len() == 0 {
		return nil, fmt.Errorf("%w: $project requires a non-empty document", document.ErrValidation)
	}
	p, err := ParseProjection(doc)
	if err != nil {
		return nil, err
	}
	return &ProjectStage{projection: p}, nil
}

func (s *ProjectStage) Execute(_ *RunContext, docs []*document.Document) ([]*document.Document, error) {
	out := make([]*document.Document, 0, len(docs))
	for _, doc := range docs {
		projected, err := s.projection.Apply(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, projected)
	}
	return out, nil
}

func (s *ProjectStage) Type() string { return "$project" }

// AddFieldsStage adds computed fields, keeping everything else. $set is an
// alias.
type AddFieldsStage struct {
	name   string
	fields []string
	exprs  []Expr
}

func newAddFieldsStage(name string, spec document.Value) (*AddFieldsStage, error) {
	doc, ok := spec.AsDocument()
	if !ok {
		return nil, fmt.Errorf("%w: %s requires a document", document.ErrValidation, name)
	}
	s := &AddFieldsStage{name: name}
	for _, field := range doc.Keys() {
		if strings.HasPrefix(field, "$") {
			return nil, fmt.Errorf("%w: %s field %q cannot start with '$'", document.ErrValidation, name, field)
		}
		if err := document.ValidatePath(field); err != nil {
			return nil, err
		}
		v, _ := doc.Get(field)
		expr, err := CompileExpression(v)
		if err != nil {
			return nil, fmt.Errorf("%s field %q: %w", name, field, err)
		}
		s.fields = append(s.fields, field)
		s.exprs = append(s.exprs, expr)
	}
	return s, nil
}

// Execute evaluates every expression against the input document before
// writing any of them, so fields cannot see each other's new values.
func (s *AddFieldsStage) Execute(_ *RunContext, docs []*document.Document) ([]*document.Document, error) {
	out := make([]*document.Document, 0, len(docs))
	values := make([]document.Value, len(s.exprs))
	for _, doc := range docs {
		env := NewEnv(doc)
		for i, expr := range s.exprs {
			v, err := expr.Eval(env)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		next := doc.Clone()
		for i, field := range s.fields {
			if err := next.SetPath(field, values[i]); err != nil {
				return nil, err
			}
		}
		out = append(out, next)
	}
	return out, nil
}

func (s *AddFieldsStage) Type() string { return s.name }

// UnsetStage removes fields. It is an exclusion projection.
type UnsetStage struct {
	projection *Projection
}

func newUnsetStage(spec document.Value) (*UnsetStage, error) {
	var paths []string
	switch spec.Type {
	case document.TypeString:
		s, _ := spec.AsString()
		paths = []string{s}
	case document.TypeArray:
		items, _ := spec.AsArray()
		for _, item := range items {
			s, ok := item.AsString()
			if !ok {
				return nil, fmt.Errorf("%w: $unset fields must be strings", document.ErrValidation)
			}
			paths = append(paths, s)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: $unset requires a field name or a non-empty array of names", document.ErrValidation)
	}

	spec2 := document.NewDocument()
	for _, p := range paths {
		spec2.Set(p, 0)
	}
	proj, err := ParseProjection(spec2)
	if err != nil {
		return nil, err
	}
	return &UnsetStage{projection: proj}, nil
}

func (s *UnsetStage) Execute(_ *RunContext, docs []*document.Document) ([]*document.Document, error) {
	out := make([]*document.Document, len(docs))
	for i, doc := range docs {
		next, err := s.projection.Apply(doc)
		if err != nil {
			return nil, err
		}
		out[i] = next
	}
	return out, nil
}

func (s *UnsetStage) Type() string { return "$unset" }

// ReplaceRootStage promotes an embedded document to the top level.
type ReplaceRootStage struct {
	name    string
	newRoot Expr
}

func newReplaceRootStage(name string, spec document.Value) (*ReplaceRootStage, error) {
	root := spec
	if name == "$replaceRoot" {
		doc, ok := spec.AsDocument()
		if !ok || doc.Len() != 1 || !doc.Has("newRoot") {
			return nil, fmt.Errorf("%w: $replaceRoot requires {newRoot: <expression>}", document.ErrValidation)
		}
		root, _ = doc.Get("newRoot")
	}
	expr, err := CompileExpression(root)
	if err != nil {
		return nil, err
	}
	return &ReplaceRootStage{name: name, newRoot: expr}, nil
}

func (s *ReplaceRootStage) Execute(_ *RunContext, docs []*document.Document) ([]*document.Document, error) {
	out := make([]*document.Document, 0, len(docs))
	for _, doc := range docs {
		v, err := s.newRoot.Eval(NewEnv(doc))
		if err != nil {
			return nil, err
		}
		root, ok := v.AsDocument()
		if !ok {
			return nil, fmt.Errorf("%w: %s expression must evaluate to a document, got %s", document.ErrTypeMismatch, s.name, v.Type)
		}
		out = append(out, root.Clone())
	}
	return out, nil
}

func (s *ReplaceRootStage) Type() string { return s.name }

// SortStage sorts documents
type SortStage struct {
	spec query.SortSpec
}

func newSortStage(spec document.Value) (*SortStage, error) {
	doc, ok := spec.AsDocument()
	if !ok || doc.Len() == 0 {
		return nil, fmt.Errorf("%w: $sort requires a non-empty document", document.ErrValidation)
	}
	s, err := query.ParseSort(doc)
	if err != nil {
		return nil, err
	}
	return &SortStage{spec: s}, nil
}

func (s *SortStage) Execute(_ *RunContext, docs []*document.Document) ([]*document.Document, error) {
	sorted := make([]*document.Document, len(docs))
	copy(sorted, docs)
	s.spec.Sort(sorted)
	return sorted, nil
}

func (s *SortStage) Type() string { return "$sort" }

// LimitStage limits the number of documents
type LimitStage struct {
	limit int
}

func newLimitStage(spec document.Value) (*LimitStage, error) {
	n, err := countArg("$limit", spec)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: $limit must be positive", document.ErrValidation)
	}
	return &LimitStage{limit: n}, nil
}

func (s *LimitStage) Execute(_ *RunContext, docs []*document.Document) ([]*document.Document, error) {
	if len(docs) <= s.limit {
		return docs, nil
	}
	return docs[:s.limit], nil
}

func (s *LimitStage) Type() string { return "$limit" }

// SkipStage skips a number of documents
type SkipStage struct {
	skip int
}

func newSkipStage(spec document.Value) (*SkipStage, error) {
	n, err := countArg("$skip", spec)
	if err != nil {
		return nil, err
	}
	return &SkipStage{skip: n}, nil
}

func (s *SkipStage) Execute(_ *RunContext, docs []*document.Document) ([]*document.Document, error) {
	if s.skip >= len(docs) {
		return []*document.Document{}, nil
	}
	return docs[s.skip:], nil
}

func (s *SkipStage) Type() string { return "$skip" }

// countArg reads a non-negative integer stage argument.
func countArg(stage string, v document.Value) (int, error) {
	n, ok := v.AsNumber()
	if !ok || n < 0 || n != math.Trunc(n) || n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s requires a non-negative integer, got %v", document.ErrValidation, stage, v)
	}
	return int(n), nil
}

// CountStage outputs {<field>: n}. Nothing is output for an empty input.
type CountStage struct {
	field string
}

func newCountStage(spec document.Value) (*CountStage, error) {
	field, ok := spec.AsString()
	if !ok || field == "" {
		return nil, fmt.Errorf("%w: $count requires a non-empty field name", document.ErrValidation)
	}
	if strings.HasPrefix(field, "$") || strings.Contains(field, ".") {
		return nil, fmt.Errorf("%w: $count field %q cannot start with '$' or contain '.'", document.ErrValidation, field)
	}
	return &CountStage{field: field}, nil
}

func (s *CountStage) Execute(_ *RunContext, docs []*document.Document) ([]*document.Document, error) {
	if len(docs) == 0 {
		return []*document.Document{}, nil
	}
	return []*document.Document{document.D(s.field, len(docs))}, nil
}

func (s *CountStage) Type() string { return "$count" }

// UnwindStage deconstructs an array field
type UnwindStage struct {
	path              string
	indexField        string
	preserveNullEmpty bool
}

func newUnwindStage(spec document.Value) (*UnwindStage, error) {
	s := &UnwindStage{}
	var path string
	switch spec.Type {
	case document.TypeString:
		path, _ = spec.AsString()
	case document.TypeDocument:
		doc, _ := spec.AsDocument()
		for _, key := range doc.Keys() {
			v, _ := doc.Get(key)
			switch key {
			case "path":
				path, _ = v.AsString()
			case "includeArrayIndex":
				name, ok := v.AsString()
				if !ok || name == "" || strings.HasPrefix(name, "$") {
					return nil, fmt.Errorf("%w: includeArrayIndex must be a field name", document.ErrValidation)
				}
				s.indexField = name
			case "preserveNullAndEmptyArrays":
				b, ok := v.AsBool()
				if !ok {
					return nil, fmt.Errorf("%w: preserveNullAndEmptyArrays must be a boolean", document.ErrValidation)
				}
				s.preserveNullEmpty = b
			default:
				return nil, fmt.Errorf("%w: unknown $unwind option %q", document.ErrValidation, key)
			}
		}
	default:
		return nil, fmt.Errorf("%w: $unwind requires a path or a document", document.ErrValidation)
	}

	if !strings.HasPrefix(path, "$") || len(path) < 2 {
		return nil, fmt.Errorf("%w: $unwind path must be a '$'-prefixed field path", document.ErrValidation)
	}
	s.path = path[1:]
	if err := document.ValidatePath(s.path); err != nil {
		return nil, err
	}
	return s, nil
}

// Execute emits one document per array element. A non-array value acts as
// a single element; a missing, null or empty array drops the document
// unless preserveNullAndEmptyArrays is set.
func (s *UnwindStage) Execute(_ *RunContext, docs []*document.Document) ([]*document.Document, error) {
	var out []*document.Document
	for _, doc := range docs {
		v, _ := doc.Lookup(s.path)
		items, isArray := v.AsArray()

		switch {
		case isArray && len(items) > 0:
			for i, item := range items {
				next, err := s.emit(doc, item, document.Int(i))
				if err != nil {
					return nil, err
				}
				out = append(out, next)
			}
		case isArray || v.IsNull():
			if !s.preserveNullEmpty {
				continue
			}
			next := doc
			if isArray {
				next = document.Without(doc, s.path)
			}
			next, err := s.emit(next, document.Missing(), document.Null())
			if err != nil {
				return nil, err
			}
			out = append(out, next)
		default:
			next, err := s.emit(doc, v, document.Null())
			if err != nil {
				return nil, err
			}
			out = append(out, next)
		}
	}
	return out, nil
}

func (s *UnwindStage) emit(doc *document.Document, elem, idx document.Value) (*document.Document, error) {
	next := doc.Clone()
	if !elem.IsMissing() {
		if err := next.SetPath(s.path, elem); err != nil {
			return nil, err
		}
	}
	if s.indexField != "" {
		if err := next.SetPath(s.indexField, idx); err != nil {
			return nil, err
		}
	}
	return next, nil
}

func (s *UnwindStage) Type() string { return "$unwind" }

// SampleStage picks a uniform random subset without replacement.
type SampleStage struct {
	size int

	mu  sync.Mutex
	rng *rand.Rand
}

func newSampleStage(spec document.Value, index int, opts *Options) (*SampleStage, error) {
	doc, ok := spec.AsDocument()
	if !ok || doc.Len() != 1 || !doc.Has("size") {
		return nil, fmt.Errorf("%w: $sample requires {size: <n>}", document.ErrValidation)
	}
	sizeVal, _ := doc.Get("size")
	size, err := countArg("$sample size", sizeVal)
	if err != nil {
		return nil, err
	}

	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &SampleStage{
		size: size,
		rng:  rand.New(rand.NewPCG(seed, uint64(index))),
	}, nil
}

// Execute runs a partial Fisher-Yates shuffle over a copy of docs.
func (s *SampleStage) Execute(_ *RunContext, docs []*document.Document) ([]*document.Document, error) {
	pool := make([]*document.Document, len(docs))
	copy(pool, docs)
	n := min(s.size, len(pool))

	s.mu.Lock()
	for i := 0; i < n; i++ {
		j := i + s.rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	s.mu.Unlock()
	return pool[:n], nil
}

func (s *SampleStage) Type() string { return "$sample" }
