// Package aggregation executes aggregation pipelines: ordered lists of
// stages, each transforming a stream of documents.
package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/panjf2000/ants/v2"
)

// StageObserver is told about every stage run. docsIn is -1 for a $match
// answered by the source.
type StageObserver func(stage string, docsIn, docsOut int, elapsed time.Duration)

// Options configure pipeline execution.
type Options struct {
	// Pool runs $facet sub-pipelines concurrently. Nil runs them in order.
	Pool *ants.Pool
	// Seed makes $sample deterministic. Zero seeds from the clock.
	Seed uint64
	// Observer, if set, is called after each stage.
	Observer StageObserver
}

// Pipeline represents an aggregation pipeline
type Pipeline struct {
	stages []Stage
	opts   Options
}

// Stage represents a single stage in the pipeline
type Stage interface {
	Execute(rc *RunContext, docs []*document.Document) ([]*document.Document, error)
	Type() string
}

// RunContext carries what stages need besides their input.
type RunContext struct {
	Context context.Context
	Source  Source
	Options *Options
}

// NewPipeline compiles stage documents such as
//
//	{$match: {status: "A"}}, {$group: {_id: "$cust_id", total: {$sum: "$amount"}}}
//
// Malformed stages fail with a *StageError naming the stage.
func NewPipeline(stages []*document.Document, opts *Options) (*Pipeline, error) {
	p := &Pipeline{stages: make([]Stage, 0, len(stages))}
	if opts != nil {
		p.opts = *opts
	}

	for i, def := range stages {
		stage, err := createStage(def, i, false, &p.opts)
		if err != nil {
			return nil, err
		}
		p.stages = append(p.stages, stage)
	}
	return p, nil
}

// ParseStages reads a pipeline given as an array value.
func ParseStages(v document.Value) ([]*document.Document, error) {
	items, ok := v.AsArray()
	if !ok {
		return nil, fmt.Errorf("%w: pipeline must be an array of stages", document.ErrValidation)
	}
	stages := make([]*document.Document, len(items))
	for i, item := range items {
		doc, ok := item.AsDocument()
		if !ok {
			return nil, &StageError{Index: i, Stage: "?", Err: fmt.Errorf("%w: stage must be a document", document.ErrValidation)}
		}
		stages[i] = doc
	}
	return stages, nil
}

// Stages returns the stage names in order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Type()
	}
	return names
}

// Execute runs the pipeline over src. A leading $match is handed to the
// source so it can use an index; a leading $geoNear produces the input
// itself.
func (p *Pipeline) Execute(ctx context.Context, src Source) ([]*document.Document, error) {
	rc := &RunContext{Context: ctx, Source: src, Options: &p.opts}

	start := 0
	var docs []*document.Document
	switch first := p.firstStage().(type) {
	case *GeoNearStage:
	case *MatchStage:
		began := time.Now()
		var err error
		if docs, err = src.Documents(first.filter); err != nil {
			return nil, stageError(0, first.Type(), err)
		}
		p.observe(first, -1, len(docs), time.Since(began))
		start = 1
	default:
		var err error
		if docs, err = src.Documents(nil); err != nil {
			return nil, err
		}
	}
	return p.run(rc, docs, start)
}

func (p *Pipeline) firstStage() Stage {
	if len(p.stages) == 0 {
		return nil
	}
	return p.stages[0]
}

// run folds docs through the stages from index start on.
func (p *Pipeline) run(rc *RunContext, docs []*document.Document, start int) ([]*document.Document, error) {
	for i := start; i < len(p.stages); i++ {
		stage := p.stages[i]
		if rc.Context != nil {
			if err := rc.Context.Err(); err != nil {
				return nil, stageError(i, stage.Type(), err)
			}
		}

		began := time.Now()
		in := len(docs)
		var err error
		if docs, err = stage.Execute(rc, docs); err != nil {
			return nil, stageError(i, stage.Type(), err)
		}
		p.observe(stage, in, len(docs), time.Since(began))
	}
	return docs, nil
}

func (p *Pipeline) observe(stage Stage, in, out int, elapsed time.Duration) {
	if p.opts.Observer != nil {
		p.opts.Observer(stage.Type(), in, out, elapsed)
	}
}

// createStage creates a stage from a definition. Nested pipelines ($facet,
// $lookup) reject stages that only make sense at the top level.
func createStage(def *document.Document, index int, nested bool, opts *Options) (Stage, error) {
	if def == nil || def.Len() != 1 {
		return nil, stageError(index, "?", fmt.Errorf("%w: a pipeline stage must have exactly one field", document.ErrValidation))
	}
	name := def.Keys()[0]
	spec, _ := def.Get(name)

	stage, err := newStage(name, spec, index, nested, opts)
	if err != nil {
		return nil, stageError(index, name, err)
	}
	return stage, nil
}

func newStage(name string, spec document.Value, index int, nested bool, opts *Options) (Stage, error) {
	switch name {
	case "$match":
		return newMatchStage(spec)
	case "$project":
		return newProjectStage(spec)
	case "$addFields", "$set":
		return newAddFieldsStage(name, spec)
	case "$unset":
		return newUnsetStage(spec)
	case "$replaceRoot", "$replaceWith":
		return newReplaceRootStage(name, spec)
	case "$sort":
		return newSortStage(spec)
	case "$limit":
		return newLimitStage(spec)
	case "$skip":
		return newSkipStage(spec)
	case "$count":
		return newCountStage(spec)
	case "$unwind":
		return newUnwindStage(spec)
	case "$group":
		return newGroupStage(spec)
	case "$bucket":
		return newBucketStage(spec)
	case "$bucketAuto":
		return newBucketAutoStage(spec)
	case "$sample":
		return newSampleStage(spec, index, opts)
	case "$lookup":
		return newLookupStage(spec, opts)
	case "$facet":
		if nested {
			return nil, fmt.Errorf("%w: $facet is not allowed inside a sub-pipeline", document.ErrValidation)
		}
		return newFacetStage(spec, opts)
	case "$geoNear":
		if index != 0 || nested {
			return nil, ErrGeoNearPosition
		}
		return newGeoNearStage(spec)
	default:
		return nil, fmt.Errorf("%w: unsupported stage type: %s", document.ErrValidation, name)
	}
}
