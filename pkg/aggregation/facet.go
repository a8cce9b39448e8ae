package aggregation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/mnohosten/laura-engine/pkg/document"
)

// FacetStage runs several sub-pipelines over the same input and outputs one
// document holding each result under its facet name.
type FacetStage struct {
	names     []string
	pipelines []*Pipeline
}

func newFacetStage(spec document.Value, opts *Options) (*FacetStage, error) {
	doc, ok := spec.AsDocument()
	if !ok || doc.Len() == 0 {
		return nil, fmt.Errorf("%w: $facet requires a non-empty document", document.ErrValidation)
	}

	s := &FacetStage{}
	for _, name := range doc.Keys() {
		if name == "" || strings.HasPrefix(name, "$") || strings.Contains(name, ".") {
			return nil, fmt.Errorf("%w: invalid facet name %q", document.ErrValidation, name)
		}
		v, _ := doc.Get(name)
		defs, err := ParseStages(v)
		if err != nil {
			return nil, fmt.Errorf("facet %q: %w", name, err)
		}
		sub, err := newSubPipeline(defs, opts)
		if err != nil {
			return nil, fmt.Errorf("facet %q: %w", name, err)
		}
		s.names = append(s.names, name)
		s.pipelines = append(s.pipelines, sub)
	}
	return s, nil
}

// newSubPipeline compiles the stages of a nested pipeline.
func newSubPipeline(defs []*document.Document, opts *Options) (*Pipeline, error) {
	p := &Pipeline{stages: make([]Stage, 0, len(defs)), opts: *opts}
	for i, def := range defs {
		stage, err := createStage(def, i, true, opts)
		if err != nil {
			return nil, err
		}
		p.stages = append(p.stages, stage)
	}
	return p, nil
}

// Execute runs the facets on the worker pool when one is configured. The
// first failure in declaration order is returned.
//
// Sub-pipelines running on the pool get no pool of their own: a worker
// waiting on tasks queued behind it would never be released.
func (s *FacetStage) Execute(rc *RunContext, docs []*document.Document) ([]*document.Document, error) {
	results := make([][]*document.Document, len(s.pipelines))
	errs := make([]error, len(s.pipelines))

	pool := rc.Options.Pool
	nested := rc
	if pool != nil {
		opts := *rc.Options
		opts.Pool = nil
		nested = &RunContext{Context: rc.Context, Source: rc.Source, Options: &opts}
	}

	var wg sync.WaitGroup
	for i, p := range s.pipelines {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[i], errs[i] = p.run(nested, docs, 0)
		}
		if pool == nil {
			task()
			continue
		}
		if err := pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	out := document.NewDocument()
	for i, name := range s.names {
		if errs[i] != nil {
			return nil, fmt.Errorf("facet %q: %w", name, errs[i])
		}
		out.Set(name, results[i])
	}
	return []*document.Document{out}, nil
}

func (s *FacetStage) Type() string { return "$facet" }
