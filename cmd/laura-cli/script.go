package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/mnohosten/laura-engine/pkg/impex"
)

// step is one entry of a script file.
type step struct {
	Collection string
	Command    string
	Args       *document.Document
}

// parseScript reads a script: a JSON array (comments and trailing commas
// allowed) of {"collection": ..., "command": ..., "args": {...}} objects.
func parseScript(data []byte) ([]step, error) {
	v, err := impex.Parse(data)
	if err != nil {
		return nil, err
	}
	entries, ok := v.AsArray()
	if !ok {
		return nil, fmt.Errorf("script must be an array of steps, got %s", v.Type)
	}

	steps := make([]step, 0, len(entries))
	for i, e := range entries {
		doc, ok := e.AsDocument()
		if !ok {
			return nil, fmt.Errorf("step %d: not an object", i+1)
		}
		var st step
		for _, key := range doc.Keys() {
			val, _ := doc.Get(key)
			switch key {
			case "collection":
				st.Collection, ok = val.AsString()
			case "command":
				st.Command, ok = val.AsString()
			case "args":
				st.Args, ok = val.AsDocument()
			default:
				return nil, fmt.Errorf("step %d: unknown field %q", i+1, key)
			}
			if !ok {
				return nil, fmt.Errorf("step %d: %s has the wrong type", i+1, key)
			}
		}
		if st.Collection == "" || st.Command == "" {
			return nil, fmt.Errorf("step %d: collection and command are required", i+1)
		}
		steps = append(steps, st)
	}
	return steps, nil
}

// runScript executes the steps of a script file in order and stops at the
// first failing step. Cursor results are printed in full.
func (s *session) runScript(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	steps, err := parseScript(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	pageSize := s.pageSize
	s.pageSize = int(^uint(0) >> 1)
	defer func() { s.pageSize = pageSize }()

	for i, st := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.run(ctx, st.Collection, st.Command, st.Args); err != nil {
			return fmt.Errorf("step %d (%s.%s): %w", i+1, st.Collection, st.Command, err)
		}
	}
	return nil
}
