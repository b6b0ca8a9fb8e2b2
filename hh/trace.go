package hh

import "github.com/google/uuid"

// Trace correlates a single hint's journey from admission through
// append and eventual replay/drop across log lines. Callers on the
// write path mint one per mutation; this package mints a zero-sampled
// trace for callers that pass none so logging never has to special
// case a missing trace.
type Trace struct {
	ID      uuid.UUID
	Sampled bool
}

// NewTrace returns a sampled trace with a fresh identifier.
func NewTrace() Trace {
	return Trace{ID: uuid.New(), Sampled: true}
}

func (t Trace) String() string {
	if t.ID == uuid.Nil {
		return "trace{none}"
	}
	return t.ID.String()
}

func orDefaultTrace(t Trace) Trace {
	if t.ID == uuid.Nil {
		return Trace{ID: uuid.New(), Sampled: false}
	}
	return t
}
