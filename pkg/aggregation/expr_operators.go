package aggregation

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/mnohosten/laura-engine/pkg/document"
)

type compileFunc func(arg document.Value, sc *scope) (Expr, error)

var expressionOps map[string]compileFunc

func init() {
	expressionOps = map[string]compileFunc{
		// Comparison
		"$eq":  compare("$eq", func(c int) bool { return c == 0 }),
		"$ne":  compare("$ne", func(c int) bool { return c != 0 }),
		"$gt":  compare("$gt", func(c int) bool { return c > 0 }),
		"$gte": compare("$gte", func(c int) bool { return c >= 0 }),
		"$lt":  compare("$lt", func(c int) bool { return c < 0 }),
		"$lte": compare("$lte", func(c int) bool { return c <= 0 }),
		"$cmp": nary("$cmp", 2, 2, func(v []document.Value) (document.Value, error) {
			return document.Int(document.Compare(v[0], v[1])), nil
		}),

		// Boolean
		"$and": compileLogical(true),
		"$or":  compileLogical(false),
		"$not": nary("$not", 1, 1, func(v []document.Value) (document.Value, error) {
			return document.Bool(!v[0].Truthy()), nil
		}),

		// Arithmetic
		"$add":      nary("$add", 0, -1, addValues),
		"$subtract": nary("$subtract", 2, 2, subtractValues),
		"$multiply": nary("$multiply", 0, -1, multiplyValues),
		"$divide":   nary("$divide", 2, 2, divideValues("$divide", func(a, b float64) float64 { return a / b })),
		"$mod":      nary("$mod", 2, 2, divideValues("$mod", math.Mod)),
		"$abs":      unaryMath("$abs", math.Abs),
		"$floor":    unaryMath("$floor", math.Floor),
		"$ceil":     unaryMath("$ceil", math.Ceil),
		"$round":    nary("$round", 1, 2, roundValue),
		"$sum":      nary("$sum", 0, -1, sumValues),
		"$avg":      nary("$avg", 0, -1, avgValues),
		"$min":      nary("$min", 0, -1, extremeValue(-1)),
		"$max":      nary("$max", 0, -1, extremeValue(1)),

		// String
		"$concat":   nary("$concat", 0, -1, concatValues),
		"$substr":   nary("$substr", 3, 3, substrValue),
		"$substrCP": nary("$substrCP", 3, 3, substrValue),
		"$toUpper":  caseMapper("$toUpper", strings.ToUpper),
		"$toLower":  caseMapper("$toLower", strings.ToLower),
		"$strLenCP": nary("$strLenCP", 1, 1, func(v []document.Value) (document.Value, error) {
			s, ok := v[0].AsString()
			if !ok {
				return document.Value{}, typeMismatch("$strLenCP", "string", v[0])
			}
			return document.Int(utf8.RuneCountInString(s)), nil
		}),

		// Array
		"$size":         nary("$size", 1, 1, sizeValue),
		"$arrayElemAt":  nary("$arrayElemAt", 2, 2, arrayElemAt),
		"$first":        nary("$first", 1, 1, edgeElement("$first", true)),
		"$last":         nary("$last", 1, 1, edgeElement("$last", false)),
		"$in":           nary("$in", 2, 2, inArray),
		"$isArray":      nary("$isArray", 1, 1, func(v []document.Value) (document.Value, error) { return document.Bool(v[0].Type == document.TypeArray), nil }),
		"$concatArrays": nary("$concatArrays", 0, -1, concatArrays),
		"$map":          compileMap,
		"$filter":       compileFilter,
		"$reduce":       compileReduce,

		// Conditional
		"$cond":   compileCond,
		"$ifNull": compileIfNull,
		"$switch": compileSwitch,

		// Variables, literals, objects
		"$let":          compileLet,
		"$literal":      func(arg document.Value, _ *scope) (Expr, error) { return literalExpr{arg}, nil },
		"$mergeObjects": nary("$mergeObjects", 0, -1, mergeObjects),
	}
}

func compileOperator(name string, arg document.Value, sc *scope) (Expr, error) {
	fn, ok := expressionOps[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown expression operator %s", document.ErrValidation, name)
	}
	return fn(arg, sc)
}

func typeMismatch(op, want string, v document.Value) error {
	return fmt.Errorf("%w: %s only supports %s, not %s", document.ErrTypeMismatch, op, want, v.Type)
}

// argList treats a non-array argument as a single operand.
func argList(arg document.Value) []document.Value {
	if items, ok := arg.AsArray(); ok {
		return items
	}
	return []document.Value{arg}
}

func compileArgs(items []document.Value, sc *scope) ([]Expr, error) {
	exprs := make([]Expr, len(items))
	for i, item := range items {
		e, err := compileExpr(item, sc)
		if err != nil {
			return nil, err
		}
		exprs[i] = e
	}
	return exprs, nil
}

type opExpr struct {
	args []Expr
	fn   func([]document.Value) (document.Value, error)
}

func (e *opExpr) Eval(env *Env) (document.Value, error) {
	vals, err := evalAll(e.args, env)
	if err != nil {
		return document.Value{}, err
	}
	return e.fn(vals)
}

// nary compiles an operator taking between minArgs and maxArgs operands
// (maxArgs < 0 means unbounded) that are all evaluated before fn runs.
func nary(name string, minArgs, maxArgs int, fn func([]document.Value) (document.Value, error)) compileFunc {
	return func(arg document.Value, sc *scope) (Expr, error) {
		items := argList(arg)
		if len(items) < minArgs || (maxArgs >= 0 && len(items) > maxArgs) {
			return nil, fmt.Errorf("%w: %s takes %s, got %d", document.ErrValidation, name, arity(minArgs, maxArgs), len(items))
		}
		args, err := compileArgs(items, sc)
		if err != nil {
			return nil, err
		}
		return &opExpr{args: args, fn: fn}, nil
	}
}

func arity(minArgs, maxArgs int) string {
	switch {
	case minArgs == maxArgs:
		return fmt.Sprintf("exactly %d arguments", minArgs)
	case maxArgs < 0:
		return fmt.Sprintf("at least %d arguments", minArgs)
	default:
		return fmt.Sprintf("%d to %d arguments", minArgs, maxArgs)
	}
}

func compare(name string, pred func(int) bool) compileFunc {
	return nary(name, 2, 2, func(v []document.Value) (document.Value, error) {
		return document.Bool(pred(document.Compare(v[0], v[1]))), nil
	})
}

// logicalExpr short-circuits left to right.
type logicalExpr struct {
	and  bool
	args []Expr
}

func compileLogical(and bool) compileFunc {
	return func(arg document.Value, sc *scope) (Expr, error) {
		args, err := compileArgs(argList(arg), sc)
		if err != nil {
			return nil, err
		}
		return &logicalExpr{and: and, args: args}, nil
	}
}

func (e *logicalExpr) Eval(env *Env) (document.Value, error) {
	for _, a := range e.args {
		v, err := a.Eval(env)
		if err != nil {
			return document.Value{}, err
		}
		if v.Truthy() != e.and {
			return document.Bool(!e.and), nil
		}
	}
	return document.Bool(e.and), nil
}

// numberArg reads a numeric operand. null reports true.
func numberArg(op string, v document.Value) (float64, bool, error) {
	if v.IsNull() {
		return 0, true, nil
	}
	n, ok := v.AsNumber()
	if !ok {
		return 0, false, typeMismatch(op, "numeric types", v)
	}
	return n, false, nil
}

func addValues(vals []document.Value) (document.Value, error) {
	sum := 0.0
	var date *time.Time
	for _, v := range vals {
		if t, ok := v.AsTime(); ok {
			if date != nil {
				return document.Value{}, fmt.Errorf("%w: only one date allowed in $add", document.ErrTypeMismatch)
			}
			date = &t
			continue
		}
		n, null, err := numberArg("$add", v)
		if err != nil {
			return document.Value{}, fmt.Errorf("%w or date", err)
		}
		if null {
			return document.Null(), nil
		}
		sum += n
	}
	if date != nil {
		return document.Date(date.Add(time.Duration(sum * float64(time.Millisecond)))), nil
	}
	return document.Number(sum), nil
}

func subtractValues(vals []document.Value) (document.Value, error) {
	a, b := vals[0], vals[1]
	if a.IsNull() || b.IsNull() {
		return document.Null(), nil
	}
	if ta, ok := a.AsTime(); ok {
		if tb, ok := b.AsTime(); ok {
			return document.Number(float64(ta.Sub(tb).Milliseconds())), nil
		}
		n, _, err := numberArg("$subtract", b)
		if err != nil {
			return document.Value{}, err
		}
		return document.Date(ta.Add(-time.Duration(n * float64(time.Millisecond)))), nil
	}
	x, _, err := numberArg("$subtract", a)
	if err != nil {
		return document.Value{}, err
	}
	y, _, err := numberArg("$subtract", b)
	if err != nil {
		return document.Value{}, err
	}
	return document.Number(x - y), nil
}

func multiplyValues(vals []document.Value) (document.Value, error) {
	product := 1.0
	for _, v := range vals {
		n, null, err := numberArg("$multiply", v)
		if err != nil {
			return document.Value{}, err
		}
		if null {
			return document.Null(), nil
		}
		product *= n
	}
	return document.Number(product), nil
}

func divideValues(op string, fn func(a, b float64) float64) func([]document.Value) (document.Value, error) {
	return func(vals []document.Value) (document.Value, error) {
		a, nullA, err := numberArg(op, vals[0])
		if err != nil {
			return document.Value{}, err
		}
		b, nullB, err := numberArg(op, vals[1])
		if err != nil {
			return document.Value{}, err
		}
		if nullA || nullB {
			return document.Null(), nil
		}
		if b == 0 {
			return document.Value{}, fmt.Errorf("%w: %s by zero", document.ErrValidation, op)
		}
		return document.Number(fn(a, b)), nil
	}
}

func unaryMath(op string, fn func(float64) float64) compileFunc {
	return nary(op, 1, 1, func(v []document.Value) (document.Value, error) {
		n, null, err := numberArg(op, v[0])
		if err != nil || null {
			return document.Null(), err
		}
		return document.Number(fn(n)), nil
	})
}

func roundValue(vals []document.Value) (document.Value, error) {
	n, null, err := numberArg("$round", vals[0])
	if err != nil || null {
		return document.Null(), err
	}
	place := 0.0
	if len(vals) == 2 {
		p, ok := vals[1].AsNumber()
		if !ok || p != math.Trunc(p) || p < -20 || p > 100 {
			return document.Value{}, fmt.Errorf("%w: $round place must be an integer in [-20, 100]", document.ErrValidation)
		}
		place = p
	}
	scale := math.Pow(10, place)
	return document.Number(math.RoundToEven(n*scale) / scale), nil
}

// scalarOperands lets $sum, $avg, $min and $max take either a list of
// operands or one array.
func scalarOperands(vals []document.Value) []document.Value {
	if len(vals) == 1 {
		if items, ok := vals[0].AsArray(); ok {
			return items
		}
	}
	return vals
}

func sumValues(vals []document.Value) (document.Value, error) {
	sum := 0.0
	for _, v := range scalarOperands(vals) {
		if n, ok := v.AsNumber(); ok {
			sum += n
		}
	}
	return document.Number(sum), nil
}

func avgValues(vals []document.Value) (document.Value, error) {
	sum, count := 0.0, 0
	for _, v := range scalarOperands(vals) {
		if n, ok := v.AsNumber(); ok {
			sum += n
			count++
		}
	}
	if count == 0 {
		return document.Null(), nil
	}
	return document.Number(sum / float64(count)), nil
}

// extremeValue returns the smallest (dir < 0) or largest value, ignoring
// nulls.
func extremeValue(dir int) func([]document.Value) (document.Value, error) {
	return func(vals []document.Value) (document.Value, error) {
		best := document.Null()
		found := false
		for _, v := range scalarOperands(vals) {
			if v.IsNull() {
				continue
			}
			if !found || document.Compare(v, best)*dir > 0 {
				best, found = v, true
			}
		}
		return best, nil
	}
}

func concatValues(vals []document.Value) (document.Value, error) {
	var b strings.Builder
	for _, v := range vals {
		if v.IsNull() {
			return document.Null(), nil
		}
		s, ok := v.AsString()
		if !ok {
			return document.Value{}, typeMismatch("$concat", "strings", v)
		}
		b.WriteString(s)
	}
	return document.String(b.String()), nil
}

// substrValue counts in code points. A negative length runs to the end.
func substrValue(vals []document.Value) (document.Value, error) {
	if vals[0].IsNull() {
		return document.String(""), nil
	}
	s, ok := vals[0].AsString()
	if !ok {
		return document.Value{}, typeMismatch("$substr", "strings", vals[0])
	}
	start, ok1 := vals[1].AsNumber()
	length, ok2 := vals[2].AsNumber()
	if !ok1 || !ok2 || start < 0 || start != math.Trunc(start) || length != math.Trunc(length) {
		return document.Value{}, fmt.Errorf("%w: $substr needs a non-negative integer start and an integer length", document.ErrValidation)
	}

	// clamp before converting; large floats do not fit an int
	runes := []rune(s)
	n := float64(len(runes))
	from := int(math.Min(start, n))
	to := len(runes)
	if length >= 0 {
		to = from + int(math.Min(length, n-float64(from)))
	}
	return document.String(string(runes[from:to])), nil
}

func caseMapper(op string, fn func(string) string) compileFunc {
	return nary(op, 1, 1, func(v []document.Value) (document.Value, error) {
		if v[0].IsNull() {
			return document.String(""), nil
		}
		s, ok := v[0].AsString()
		if !ok {
			return document.Value{}, typeMismatch(op, "strings", v[0])
		}
		return document.String(fn(s)), nil
	})
}

func sizeValue(v []document.Value) (document.Value, error) {
	items, ok := v[0].AsArray()
	if !ok {
		return document.Value{}, typeMismatch("$size", "arrays", v[0])
	}
	return document.Int(len(items)), nil
}

func arrayElemAt(v []document.Value) (document.Value, error) {
	if v[0].IsNull() || v[1].IsNull() {
		return document.Null(), nil
	}
	items, ok := v[0].AsArray()
	if !ok {
		return document.Value{}, typeMismatch("$arrayElemAt", "arrays", v[0])
	}
	idx, ok := v[1].AsNumber()
	if !ok || idx != math.Trunc(idx) {
		return document.Value{}, fmt.Errorf("%w: $arrayElemAt index must be an integer", document.ErrValidation)
	}
	if math.Abs(idx) > float64(len(items)) {
		return document.Missing(), nil
	}
	i := int(idx)
	if i < 0 {
		i += len(items)
	}
	if i < 0 || i >= len(items) {
		return document.Missing(), nil
	}
	return items[i], nil
}

func edgeElement(op string, first bool) func([]document.Value) (document.Value, error) {
	return func(v []document.Value) (document.Value, error) {
		if v[0].IsNull() {
			return v[0], nil
		}
		items, ok := v[0].AsArray()
		if !ok {
			return document.Value{}, typeMismatch(op, "arrays", v[0])
		}
		if len(items) == 0 {
			return document.Missing(), nil
		}
		if first {
			return items[0], nil
		}
		return items[len(items)-1], nil
	}
}

func inArray(v []document.Value) (document.Value, error) {
	items, ok := v[1].AsArray()
	if !ok {
		return document.Value{}, typeMismatch("$in", "an array as second argument", v[1])
	}
	for _, item := range items {
		if document.Equal(item, v[0]) {
			return document.Bool(true), nil
		}
	}
	return document.Bool(false), nil
}

func concatArrays(vals []document.Value) (document.Value, error) {
	var out []document.Value
	for _, v := range vals {
		if v.IsNull() {
			return document.Null(), nil
		}
		items, ok := v.AsArray()
		if !ok {
			return document.Value{}, typeMismatch("$concatArrays", "arrays", v)
		}
		out = append(out, items...)
	}
	return document.Array(out...), nil
}

func mergeObjects(vals []document.Value) (document.Value, error) {
	out := document.NewDocument()
	for _, v := range scalarOperands(vals) {
		if v.IsNull() {
			continue
		}
		doc, ok := v.AsDocument()
		if !ok {
			return document.Value{}, typeMismatch("$mergeObjects", "documents", v)
		}
		for _, k := range doc.Keys() {
			fv, _ := doc.Get(k)
			out.Set(k, fv)
		}
	}
	return document.DocValue(out), nil
}

// operatorArgs reads the named arguments of a document-form operator.
func operatorArgs(op string, arg document.Value, required, optional []string) (map[string]document.Value, error) {
	doc, ok := arg.AsDocument()
	if !ok {
		return nil, fmt.Errorf("%w: %s needs a document argument", document.ErrValidation, op)
	}
	known := make(map[string]bool)
	for _, k := range append(append([]string{}, required...), optional...) {
		known[k] = true
	}
	args := make(map[string]document.Value)
	for _, k := range doc.Keys() {
		if !known[k] {
			return nil, fmt.Errorf("%w: unrecognized parameter to %s: %s", document.ErrValidation, op, k)
		}
		args[k], _ = doc.Get(k)
	}
	for _, k := range required {
		if _, ok := args[k]; !ok {
			return nil, fmt.Errorf("%w: missing '%s' parameter to %s", document.ErrValidation, k, op)
		}
	}
	return args, nil
}

func variableName(op string, v document.Value, def string) (string, error) {
	if v.IsMissing() {
		return def, nil
	}
	name, ok := v.AsString()
	if !ok || name == "" {
		return "", fmt.Errorf("%w: %s variable name must be a string", document.ErrValidation, op)
	}
	r, _ := utf8.DecodeRuneInString(name)
	if !unicode.IsLower(r) && r < utf8.RuneSelf {
		return "", fmt.Errorf("%w: variable name %q must start with a lowercase letter", document.ErrValidation, name)
	}
	return name, nil
}

type condExpr struct{ cond, then, otherwise Expr }

func compileCond(arg document.Value, sc *scope) (Expr, error) {
	var parts []document.Value
	if items, ok := arg.AsArray(); ok {
		if len(items) != 3 {
			return nil, fmt.Errorf("%w: $cond takes exactly 3 arguments", document.ErrValidation)
		}
		parts = items
	} else {
		args, err := operatorArgs("$cond", arg, []string{"if", "then", "else"}, nil)
		if err != nil {
			return nil, err
		}
		parts = []document.Value{args["if"], args["then"], args["else"]}
	}
	exprs, err := compileArgs(parts, sc)
	if err != nil {
		return nil, err
	}
	return &condExpr{cond: exprs[0], then: exprs[1], otherwise: exprs[2]}, nil
}

func (e *condExpr) Eval(env *Env) (document.Value, error) {
	c, err := e.cond.Eval(env)
	if err != nil {
		return document.Value{}, err
	}
	if c.Truthy() {
		return e.then.Eval(env)
	}
	return e.otherwise.Eval(env)
}

type ifNullExpr []Expr

func compileIfNull(arg document.Value, sc *scope) (Expr, error) {
	items := argList(arg)
	if len(items) < 2 {
		return nil, fmt.Errorf("%w: $ifNull needs at least 2 arguments", document.ErrValidation)
	}
	exprs, err := compileArgs(items, sc)
	if err != nil {
		return nil, err
	}
	return ifNullExpr(exprs), nil
}

func (e ifNullExpr) Eval(env *Env) (document.Value, error) {
	for i, expr := range e {
		v, err := expr.Eval(env)
		if err != nil {
			return document.Value{}, err
		}
		if !v.IsNull() || i == len(e)-1 {
			return v, nil
		}
	}
	return document.Null(), nil
}

type switchExpr struct {
	cases, thens []Expr
	otherwise    Expr
}

func compileSwitch(arg document.Value, sc *scope) (Expr, error) {
	args, err := operatorArgs("$switch", arg, []string{"branches"}, []string{"default"})
	if err != nil {
		return nil, err
	}
	branches, ok := args["branches"].AsArray()
	if !ok || len(branches) == 0 {
		return nil, fmt.Errorf("%w: $switch branches must be a nonempty array", document.ErrValidation)
	}

	e := &switchExpr{}
	for _, b := range branches {
		bargs, err := operatorArgs("$switch branch", b, []string{"case", "then"}, nil)
		if err != nil {
			return nil, err
		}
		exprs, err := compileArgs([]document.Value{bargs["case"], bargs["then"]}, sc)
		if err != nil {
			return nil, err
		}
		e.cases = append(e.cases, exprs[0])
		e.thens = append(e.thens, exprs[1])
	}
	if def, ok := args["default"]; ok {
		if e.otherwise, err = compileExpr(def, sc); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *switchExpr) Eval(env *Env) (document.Value, error) {
	for i, c := range e.cases {
		v, err := c.Eval(env)
		if err != nil {
			return document.Value{}, err
		}
		if v.Truthy() {
			return e.thens[i].Eval(env)
		}
	}
	if e.otherwise == nil {
		return document.Value{}, fmt.Errorf("%w: $switch found no matching branch and has no default", document.ErrValidation)
	}
	return e.otherwise.Eval(env)
}

type letExpr struct {
	names []string
	vals  []Expr
	in    Expr
}

func compileLet(arg document.Value, sc *scope) (Expr, error) {
	args, err := operatorArgs("$let", arg, []string{"vars", "in"}, nil)
	if err != nil {
		return nil, err
	}
	vars, ok := args["vars"].AsDocument()
	if !ok {
		return nil, fmt.Errorf("%w: $let vars must be a document", document.ErrValidation)
	}

	e := &letExpr{}
	for _, k := range vars.Keys() {
		name, err := variableName("$let", document.String(k), "")
		if err != nil {
			return nil, err
		}
		v, _ := vars.Get(k)
		expr, err := compileExpr(v, sc)
		if err != nil {
			return nil, err
		}
		e.names = append(e.names, name)
		e.vals = append(e.vals, expr)
	}
	if e.in, err = compileExpr(args["in"], sc.with(e.names...)); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *letExpr) Eval(env *Env) (document.Value, error) {
	inner := env
	for i, name := range e.names {
		v, err := e.vals[i].Eval(env)
		if err != nil {
			return document.Value{}, err
		}
		inner = inner.Bind(name, v)
	}
	return e.in.Eval(inner)
}

// mapExpr implements $map and $filter.
type mapExpr struct {
	op     string
	input  Expr
	as     string
	in     Expr
	filter bool
}

func compileMap(arg document.Value, sc *scope) (Expr, error) {
	return compileIteration("$map", "in", arg, sc)
}

func compileFilter(arg document.Value, sc *scope) (Expr, error) {
	return compileIteration("$filter", "cond", arg, sc)
}

func compileIteration(op, body string, arg document.Value, sc *scope) (Expr, error) {
	args, err := operatorArgs(op, arg, []string{"input", body}, []string{"as"})
	if err != nil {
		return nil, err
	}
	as, err := variableName(op, args["as"], "this")
	if err != nil {
		return nil, err
	}
	input, err := compileExpr(args["input"], sc)
	if err != nil {
		return nil, err
	}
	in, err := compileExpr(args[body], sc.with(as))
	if err != nil {
		return nil, err
	}
	return &mapExpr{op: op, input: input, as: as, in: in, filter: body == "cond"}, nil
}

func (e *mapExpr) Eval(env *Env) (document.Value, error) {
	input, err := e.input.Eval(env)
	if err != nil {
		return document.Value{}, err
	}
	if input.IsNull() {
		return document.Null(), nil
	}
	items, ok := input.AsArray()
	if !ok {
		return document.Value{}, typeMismatch(e.op, "arrays as input", input)
	}

	out := make([]document.Value, 0, len(items))
	for _, item := range items {
		v, err := e.in.Eval(env.Bind(e.as, item))
		if err != nil {
			return document.Value{}, err
		}
		switch {
		case e.filter:
			if v.Truthy() {
				out = append(out, item)
			}
		case v.IsMissing():
			out = append(out, document.Null())
		default:
			out = append(out, v)
		}
	}
	return document.Array(out...), nil
}

type reduceExpr struct {
	input, initial, in Expr
}

func compileReduce(arg document.Value, sc *scope) (Expr, error) {
	args, err := operatorArgs("$reduce", arg, []string{"input", "initialValue", "in"}, nil)
	if err != nil {
		return nil, err
	}
	exprs, err := compileArgs([]document.Value{args["input"], args["initialValue"]}, sc)
	if err != nil {
		return nil, err
	}
	in, err := compileExpr(args["in"], sc.with("this", "value"))
	if err != nil {
		return nil, err
	}
	return &reduceExpr{input: exprs[0], initial: exprs[1], in: in}, nil
}

func (e *reduceExpr) Eval(env *Env) (document.Value, error) {
	input, err := e.input.Eval(env)
	if err != nil {
		return document.Value{}, err
	}
	if input.IsNull() {
		return document.Null(), nil
	}
	items, ok := input.AsArray()
	if !ok {
		return document.Value{}, typeMismatch("$reduce", "arrays as input", input)
	}
	acc, err := e.initial.Eval(env)
	if err != nil {
		return document.Value{}, err
	}
	for _, item := range items {
		acc, err = e.in.Eval(env.Bind("value", acc).Bind("this", item))
		if err != nil {
			return document.Value{}, err
		}
	}
	return acc, nil
}
