package aggregation

import (
	"fmt"
	"strings"

	"github.com/mnohosten/laura-engine/pkg/document"
)

// Projection reshapes documents: an inclusion projection keeps the listed
// fields (plus _id) and adds computed ones; an exclusion projection drops
// the listed fields. Find and $project share it.
type Projection struct {
	root      *projNode
	exclusion bool
}

type projNode struct {
	children map[string]*projNode
	order    []string

	include bool
	exclude bool
	expr    Expr
}

func newProjNode() *projNode {
	return &projNode{children: make(map[string]*projNode)}
}

func (n *projNode) leaf() bool { return n.include || n.exclude || n.expr != nil }

func (n *projNode) hasComputed() bool {
	if n.expr != nil {
		return true
	}
	for _, c := range n.children {
		if c.hasComputed() {
			return true
		}
	}
	return false
}

// ParseProjection compiles a projection such as {name: 1, "address.city":
// 1, _id: 0} or {total: {$multiply: ["$qty", "$price"]}}. A nil or empty
// spec returns nil. Mixing inclusion and exclusion (other than _id) fails
// with document.ErrValidation.
func ParseProjection(spec *document.Document) (*Projection, error) {
	if spec == nil || spec.Len() == 0 {
		return nil, nil
	}

	p := &Projection{root: newProjNode()}
	var includes, excludes int
	var idMode *bool

	var walk func(prefix string, doc *document.Document) error
	walk = func(prefix string, doc *document.Document) error {
		for _, key := range doc.Keys() {
			if strings.HasPrefix(key, "$") {
				return fmt.Errorf("%w: projection field %q cannot start with '$'", document.ErrValidation, key)
			}
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			if err := document.ValidatePath(path); err != nil {
				return err
			}
			v, _ := doc.Get(key)

			node := &projNode{}
			switch {
			case v.Type == document.TypeBoolean || v.Type == document.TypeNumber:
				if v.Truthy() {
					node.include = true
				} else {
					node.exclude = true
				}
				if path == "_id" {
					keep := node.include
					idMode = &keep
				} else if node.include {
					includes++
				} else {
					excludes++
				}
			case v.Type == document.TypeDocument && !isExpressionDocument(v):
				sub, _ := v.AsDocument()
				if sub.Len() == 0 {
					return fmt.Errorf("%w: empty nested projection for %q", document.ErrValidation, path)
				}
				if err := walk(path, sub); err != nil {
					return err
				}
				continue
			default:
				expr, err := CompileExpression(v)
				if err != nil {
					return fmt.Errorf("projection field %q: %w", path, err)
				}
				node.expr = expr
				includes++
			}
			if err := p.root.insert(path, node); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk("", spec); err != nil {
		return nil, err
	}

	if includes > 0 && excludes > 0 {
		return nil, fmt.Errorf("%w: cannot mix inclusion and exclusion in a projection", document.ErrValidation)
	}
	p.exclusion = includes == 0
	if p.exclusion && idMode != nil && *idMode {
		// {_id: 1} alone keeps only _id
		p.exclusion = false
	}
	if !p.exclusion && idMode == nil {
		if err := p.root.insert("_id", &projNode{include: true}); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// isExpressionDocument reports whether a document value is an operator
// expression rather than a nested projection.
func isExpressionDocument(v document.Value) bool {
	doc, _ := v.AsDocument()
	keys := doc.Keys()
	return len(keys) > 0 && strings.HasPrefix(keys[0], "$")
}

// insert places a leaf at path. A path colliding with another (equal, or
// one a prefix of the other) is an error.
func (n *projNode) insert(path string, leaf *projNode) error {
	segs := document.SplitPath(path)
	cur := n
	for i, seg := range segs {
		child, ok := cur.children[seg]
		last := i == len(segs)-1
		switch {
		case ok && (last || child.leaf()):
			return fmt.Errorf("%w: path collision at %s", document.ErrValidation, path)
		case !ok && last:
			if leaf.children == nil {
				leaf.children = make(map[string]*projNode)
			}
			cur.children[seg] = leaf
			cur.order = append(cur.order, seg)
			return nil
		case !ok:
			child = newProjNode()
			cur.children[seg] = child
			cur.order = append(cur.order, seg)
		}
		cur = child
	}
	return nil
}

// Apply returns the projected version of doc. doc is not modified.
func (p *Projection) Apply(doc *document.Document) (*document.Document, error) {
	if p == nil {
		return doc, nil
	}
	if p.exclusion {
		out := doc.Clone()
		p.root.applyExclude(out)
		return out, nil
	}
	return p.root.applyInclude(doc, NewEnv(doc))
}

// IsExclusion reports whether the projection only removes fields.
func (p *Projection) IsExclusion() bool { return p.exclusion }

func (n *projNode) applyInclude(src *document.Document, env *Env) (*document.Document, error) {
	out := document.NewDocument()
	for _, k := range src.Keys() {
		child, ok := n.children[k]
		if !ok || child.expr != nil || child.exclude {
			continue
		}
		v, _ := src.Get(k)
		if child.include {
			out.Set(k, v)
			continue
		}
		pv, err := child.projectValue(v, env)
		if err != nil {
			return nil, err
		}
		out.Set(k, pv)
	}

	for _, k := range n.order {
		child := n.children[k]
		switch {
		case child.expr != nil:
			v, err := child.expr.Eval(env)
			if err != nil {
				return nil, err
			}
			out.Set(k, v)
		case !child.leaf() && !src.Has(k) && child.hasComputed():
			sub, err := child.applyInclude(document.NewDocument(), env)
			if err != nil {
				return nil, err
			}
			out.Set(k, document.DocValue(sub))
		}
	}
	return out, nil
}

// projectValue applies a nested inclusion to a field value. Inside arrays
// the projection applies to each embedded document; other elements are
// dropped.
func (n *projNode) projectValue(v document.Value, env *Env) (document.Value, error) {
	switch v.Type {
	case document.TypeDocument:
		doc, _ := v.AsDocument()
		sub, err := n.applyInclude(doc, env)
		if err != nil {
			return document.Value{}, err
		}
		return document.DocValue(sub), nil
	case document.TypeArray:
		items, _ := v.AsArray()
		out := make([]document.Value, 0, len(items))
		for _, item := range items {
			if item.Type != document.TypeDocument && item.Type != document.TypeArray {
				continue
			}
			pv, err := n.projectValue(item, env)
			if err != nil {
				return document.Value{}, err
			}
			out = append(out, pv)
		}
		return document.Array(out...), nil
	default:
		if n.hasComputed() {
			sub, err := n.applyInclude(document.NewDocument(), env)
			if err != nil {
				return document.Value{}, err
			}
			return document.DocValue(sub), nil
		}
		return document.Missing(), nil
	}
}

// applyExclude removes excluded paths from doc in place.
func (n *projNode) applyExclude(doc *document.Document) {
	for _, k := range n.order {
		child := n.children[k]
		if child.exclude {
			doc.Delete(k)
			continue
		}
		if child.include {
			continue
		}
		v, ok := doc.Get(k)
		if !ok {
			continue
		}
		child.excludeValue(v)
	}
}

func (n *projNode) excludeValue(v document.Value) {
	switch v.Type {
	case document.TypeDocument:
		doc, _ := v.AsDocument()
		n.applyExclude(doc)
	case document.TypeArray:
		items, _ := v.AsArray()
		for _, item := range items {
			n.excludeValue(item)
		}
	}
}
