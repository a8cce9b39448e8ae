package aggregation

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mnohosten/laura-engine/pkg/document"
)

// LookupStage performs a left outer join with another collection.
type LookupStage struct {
	from         string
	localField   string
	foreignField string
	as           string
	pipeline     *Pipeline
}

func newLookupStage(spec document.Value, opts *Options) (*LookupStage, error) {
	doc, ok := spec.AsDocument()
	if !ok {
		return nil, fmt.Errorf("%w: $lookup requires a document", document.ErrValidation)
	}

	s := &LookupStage{}
	for _, key := range doc.Keys() {
		v, _ := doc.Get(key)
		switch key {
		case "from", "localField", "foreignField", "as":
			str, ok := v.AsString()
			if !ok || str == "" {
				return nil, fmt.Errorf("%w: $lookup %s must be a non-empty string", document.ErrValidation, key)
			}
			switch key {
			case "from":
				s.from = str
			case "localField":
				s.localField = str
			case "foreignField":
				s.foreignField = str
			case "as":
				s.as = str
			}
		case "pipeline":
			defs, err := ParseStages(v)
			if err != nil {
				return nil, fmt.Errorf("$lookup pipeline: %w", err)
			}
			if s.pipeline, err = newSubPipeline(defs, opts); err != nil {
				return nil, fmt.Errorf("$lookup pipeline: %w", err)
			}
		case "let":
			return nil, fmt.Errorf("%w: $lookup let is not supported", document.ErrValidation)
		default:
			return nil, fmt.Errorf("%w: unknown $lookup option %q", document.ErrValidation, key)
		}
	}

	if s.from == "" || s.as == "" {
		return nil, fmt.Errorf("%w: $lookup requires from and as", document.ErrValidation)
	}
	if (s.localField == "") != (s.foreignField == "") {
		return nil, fmt.Errorf("%w: $lookup localField and foreignField must be given together", document.ErrValidation)
	}
	if s.localField == "" && s.pipeline == nil {
		return nil, fmt.Errorf("%w: $lookup requires localField/foreignField or a pipeline", document.ErrValidation)
	}
	for _, path := range []string{s.localField, s.foreignField, s.as} {
		if path == "" {
			continue
		}
		if strings.HasPrefix(path, "$") {
			return nil, fmt.Errorf("%w: $lookup field %q cannot start with '$'", document.ErrValidation, path)
		}
		if err := document.ValidatePath(path); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// joinKeys returns the keys a value joins on: each element of an array,
// null for a missing value, otherwise the value itself.
func joinKeys(v document.Value) []string {
	if v.IsMissing() {
		v = document.Null()
	}
	items, ok := v.AsArray()
	if !ok {
		return []string{document.KeyString(v)}
	}
	if len(items) == 0 {
		return []string{document.KeyString(document.Null())}
	}
	keys := make([]string, 0, len(items)+1)
	for _, item := range items {
		keys = append(keys, document.KeyString(item))
	}
	// an array field also matches the whole array
	return append(keys, document.KeyString(v))
}

// Execute builds a hash table over the foreign documents and probes it per
// input document. Matches keep the foreign collection's order. A missing
// local field matches foreign documents whose field is null or missing.
func (s *LookupStage) Execute(rc *RunContext, docs []*document.Document) ([]*document.Document, error) {
	foreign, err := rc.Source.Foreign(s.from)
	if err != nil {
		return nil, err
	}
	others, err := foreign.Documents(nil)
	if err != nil {
		return nil, err
	}
	if s.pipeline != nil {
		if others, err = s.pipeline.run(rc, others, 0); err != nil {
			return nil, err
		}
	}

	var table map[string][]int
	if s.foreignField != "" {
		table = make(map[string][]int)
		for i, fd := range others {
			v, _ := fd.Lookup(s.foreignField)
			seen := make(map[string]bool)
			for _, k := range joinKeys(v) {
				if !seen[k] {
					seen[k] = true
					table[k] = append(table[k], i)
				}
			}
		}
	}

	out := make([]*document.Document, 0, len(docs))
	for _, doc := range docs {
		var matches []document.Value
		if table == nil {
			for _, fd := range others {
				matches = append(matches, document.DocValue(fd))
			}
		} else {
			v, _ := doc.Lookup(s.localField)
			hit := make(map[int]bool)
			var idx []int
			for _, k := range joinKeys(v) {
				for _, i := range table[k] {
					if !hit[i] {
						hit[i] = true
						idx = append(idx, i)
					}
				}
			}
			slices.Sort(idx)
			for _, i := range idx {
				matches = append(matches, document.DocValue(others[i]))
			}
		}

		next := doc.Clone()
		if err := next.SetPath(s.as, document.Array(matches...)); err != nil {
			return nil, err
		}
		out = append(out, next)
	}
	return out, nil
}

func (s *LookupStage) Type() string { return "$lookup" }
