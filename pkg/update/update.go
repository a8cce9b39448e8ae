// Package update compiles update-operator documents and applies them to
// documents.
package update

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mnohosten/laura-engine/pkg/document"
)

// Operator is an update operator name.
type Operator string

const (
	OpSet         Operator = "$set"
	OpUnset       Operator = "$unset"
	OpInc         Operator = "$inc"
	OpIncr        Operator = "$incr" // alias of $inc
	OpMul         Operator = "$mul"
	OpMin         Operator = "$min"
	OpMax         Operator = "$max"
	OpRename      Operator = "$rename"
	OpCurrentDate Operator = "$currentDate"
	OpSetOnInsert Operator = "$setOnInsert"
	OpBit         Operator = "$bit"

	OpPush     Operator = "$push"
	OpAddToSet Operator = "$addToSet"
	OpPull     Operator = "$pull"
	OpPullAll  Operator = "$pullAll"
	OpPop      Operator = "$pop"
)

// now is replaced in tests.
var now = time.Now

// fieldOp is one operator applied to one path.
type fieldOp struct {
	op    Operator
	path  string
	value document.Value

	to   string    // $rename target
	push *pushSpec // $push / $addToSet
	pull *puller   // $pull
}

// Update is a compiled update document. It is safe for concurrent use.
type Update struct {
	ops   []fieldOp
	paths []string
}

// Compile validates an update document such as
//
//	{$set: {status: "A"}, $inc: {visits: 1}}
//
// Documents without operators, unknown operators, invalid arguments and two
// operators touching the same path (or a path and its prefix) fail with
// document.ErrValidation.
func Compile(doc *document.Document) (*Update, error) {
	if doc == nil || doc.Len() == 0 {
		return nil, fmt.Errorf("%w: update document must not be empty", document.ErrValidation)
	}

	u := &Update{}
	for _, key := range doc.Keys() {
		if !strings.HasPrefix(key, "$") {
			return nil, fmt.Errorf("%w: update document requires operators, found field %q", document.ErrValidation, key)
		}
		op := Operator(key)
		if !op.known() {
			return nil, fmt.Errorf("%w: unknown update operator %s", document.ErrValidation, key)
		}

		arg, _ := doc.Get(key)
		fields, ok := arg.AsDocument()
		if !ok {
			return nil, fmt.Errorf("%w: %s needs a document", document.ErrValidation, op)
		}
		for _, path := range fields.Keys() {
			if err := document.ValidatePath(path); err != nil {
				return nil, err
			}
			v, _ := fields.Get(path)
			fop, err := compileOp(op, path, v)
			if err != nil {
				return nil, fmt.Errorf("%s %q: %w", op, path, err)
			}
			u.ops = append(u.ops, fop)
			u.paths = append(u.paths, path)
			if fop.to != "" {
				u.paths = append(u.paths, fop.to)
			}
		}
	}

	if err := checkConflicts(u.paths); err != nil {
		return nil, err
	}
	return u, nil
}

func (op Operator) known() bool {
	switch op {
	case OpSet, OpUnset, OpInc, OpIncr, OpMul, OpMin, OpMax, OpRename,
		OpCurrentDate, OpSetOnInsert, OpBit,
		OpPush, OpAddToSet, OpPull, OpPullAll, OpPop:
		return true
	}
	return false
}

func compileOp(op Operator, path string, v document.Value) (fieldOp, error) {
	fop := fieldOp{op: op, path: path, value: v}

	switch op {
	case OpInc, OpIncr, OpMul:
		if !v.IsNumber() {
			return fop, fmt.Errorf("%w: %s needs a number, got %s", document.ErrValidation, op, v.Type)
		}
	case OpRename:
		to, ok := v.AsString()
		if !ok {
			return fop, fmt.Errorf("%w: $rename target must be a string", document.ErrValidation)
		}
		if err := document.ValidatePath(to); err != nil {
			return fop, err
		}
		if to == path {
			return fop, fmt.Errorf("%w: $rename source and target are the same", document.ErrValidation)
		}
		fop.to = to
	case OpCurrentDate:
		if err := checkCurrentDate(v); err != nil {
			return fop, err
		}
	case OpBit:
		if err := checkBit(v); err != nil {
			return fop, err
		}
	case OpPush, OpAddToSet:
		spec, err := compilePush(op, v)
		if err != nil {
			return fop, err
		}
		fop.push = spec
	case OpPull:
		p, err := compilePull(v)
		if err != nil {
			return fop, err
		}
		fop.pull = p
	case OpPullAll:
		if _, ok := v.AsArray(); !ok {
			return fop, fmt.Errorf("%w: $pullAll needs an array", document.ErrValidation)
		}
	case OpPop:
		n, ok := v.AsNumber()
		if !ok || (n != 1 && n != -1) {
			return fop, fmt.Errorf("%w: $pop needs 1 or -1", document.ErrValidation)
		}
	}
	return fop, nil
}

// checkConflicts rejects updates where one path equals or prefixes another.
func checkConflicts(paths []string) error {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur == prev || strings.HasPrefix(cur, prev+".") {
			return fmt.Errorf("%w: updating the path %q would create a conflict at %q", document.ErrValidation, cur, prev)
		}
	}
	return nil
}

// Paths returns every path the update may modify.
func (u *Update) Paths() []string {
	return append([]string(nil), u.paths...)
}

// Apply runs the update against a copy of doc and returns the new version
// together with the paths whose values changed. doc itself is never
// modified; on error no operator takes effect. $setOnInsert only applies
// when inserting is true.
func (u *Update) Apply(doc *document.Document, inserting bool) (*document.Document, []string, error) {
	next := doc.Clone()
	var changed []string

	for _, fop := range u.ops {
		if fop.op == OpSetOnInsert && !inserting {
			continue
		}
		did, err := fop.apply(next)
		if err != nil {
			return nil, nil, fmt.Errorf("%s %q: %w", fop.op, fop.path, err)
		}
		if did {
			changed = append(changed, fop.path)
			if fop.to != "" {
				changed = append(changed, fop.to)
			}
		}
	}

	if !inserting {
		before, _ := doc.Get("_id")
		after, _ := next.Get("_id")
		if !document.Equal(before, after) || before.IsMissing() != after.IsMissing() {
			return nil, nil, fmt.Errorf("%w: the _id field is immutable", document.ErrValidation)
		}
	}
	return next, changed, nil
}

// Touches reports whether the update may modify path or anything below or
// above it.
func (u *Update) Touches(path string) bool {
	for _, p := range u.paths {
		if p == path || strings.HasPrefix(p, path+".") || strings.HasPrefix(path, p+".") {
			return true
		}
	}
	return false
}
