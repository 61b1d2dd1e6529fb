// Package decode turns a de-framed response body into the bytes and text
// the caller asked for. Each step is a Stage; a Pipeline applies them in
// order without reading anything until the caller does.
package decode

import (
	"io"
	"strings"

	"dqx0.com/go/httpc/httpx/internal/fault"
)

// Stage is one step of a response body pipeline.
type Stage interface {
	Name() string
	Apply(r io.Reader) io.Reader
}

// Pipeline is an ordered list of stages. The first stage reads the
// connection, the last one is read by the caller.
type Pipeline []Stage

// Apply chains every stage onto r.
func (p Pipeline) Apply(r io.Reader) io.Reader {
	for _, s := range p {
		r = s.Apply(r)
	}
	return r
}

func (p Pipeline) String() string {
	names := make([]string, len(p))
	for i, s := range p {
		names[i] = s.Name()
	}
	return strings.Join(names, " -> ")
}

type funcStage struct {
	name string
	kind fault.Kind
	fn   func(io.Reader) io.Reader
}

// NewStage builds a Stage from fn. Errors the stage produces that are not
// classified yet are reported as kind.
func NewStage(name string, kind fault.Kind, fn func(io.Reader) io.Reader) Stage {
	return &funcStage{name: name, kind: kind, fn: fn}
}

func (s *funcStage) Name() string { return s.name }

func (s *funcStage) Apply(r io.Reader) io.Reader {
	return fault.Classify(s.fn(r), s.kind, s.name)
}
