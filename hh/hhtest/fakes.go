// Package hhtest provides in-memory fakes for the hh package's
// collaborator interfaces, shared across hh's test files.
package hhtest

import (
	"context"
	"sync"
	"time"

	"github.com/coredb/hintedhandoff/hh"
)

// FailureDetector is a locking, in-memory hh.FailureDetector.
type FailureDetector struct {
	mu       sync.Mutex
	alive    map[hh.EndpointID]bool
	lastSeen map[hh.EndpointID]time.Duration
	states   map[hh.EndpointID]hh.PeerState
}

func NewFailureDetector() *FailureDetector {
	return &FailureDetector{
		alive:    make(map[hh.EndpointID]bool),
		lastSeen: make(map[hh.EndpointID]time.Duration),
		states:   make(map[hh.EndpointID]hh.PeerState),
	}
}

func (f *FailureDetector) SetAlive(ep hh.EndpointID, alive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[ep] = alive
}

func (f *FailureDetector) SetState(ep hh.EndpointID, st hh.PeerState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[ep] = st
}

func (f *FailureDetector) IsAlive(ep hh.EndpointID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	alive, ok := f.alive[ep]
	if !ok {
		return true
	}
	return alive
}

func (f *FailureDetector) LastSeen(ep hh.EndpointID) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSeen[ep]
}

func (f *FailureDetector) State(ep hh.EndpointID) hh.PeerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[ep]
	if !ok {
		return hh.StateNormal
	}
	return st
}

// Topology answers NaturalEndpoints from a fixed, settable map.
type Topology struct {
	mu        sync.Mutex
	endpoints map[string][]hh.EndpointID
	err       error
}

func NewTopology() *Topology {
	return &Topology{endpoints: make(map[string][]hh.EndpointID)}
}

func (t *Topology) SetNaturalEndpoints(table string, eps []hh.EndpointID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endpoints[table] = eps
}

func (t *Topology) SetErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

func (t *Topology) NaturalEndpoints(_ context.Context, table string, _ []byte) ([]hh.EndpointID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	return t.endpoints[table], nil
}

// WritePath records every call it receives and optionally fails them.
type WritePath struct {
	mu          sync.Mutex
	DirectCalls []hh.FrozenMutation
	AnyCalls    []hh.FrozenMutation
	directErr   error
	anyErr      error
}

func NewWritePath() *WritePath { return &WritePath{} }

func (w *WritePath) SetDirectErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.directErr = err
}

func (w *WritePath) SetAnyErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.anyErr = err
}

func (w *WritePath) MutateDirectly(_ context.Context, _ hh.EndpointID, m hh.FrozenMutation) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.DirectCalls = append(w.DirectCalls, m)
	return w.directErr
}

func (w *WritePath) MutateAny(_ context.Context, m hh.FrozenMutation) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.AnyCalls = append(w.AnyCalls, m)
	return w.anyErr
}

func (w *WritePath) DirectCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.DirectCalls)
}

func (w *WritePath) AnyCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.AnyCalls)
}

// Snitch maps endpoints to a fixed datacenter, defaulting to "dc1".
type Snitch struct {
	mu sync.Mutex
	dc map[hh.EndpointID]string
}

func NewSnitch() *Snitch { return &Snitch{dc: make(map[hh.EndpointID]string)} }

func (s *Snitch) SetDatacenter(ep hh.EndpointID, dc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dc[ep] = dc
}

func (s *Snitch) Datacenter(ep hh.EndpointID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dc, ok := s.dc[ep]; ok {
		return dc
	}
	return "dc1"
}

// SchemaResolver returns a fixed mapping and grace period for every
// table unless overridden.
type SchemaResolver struct {
	mu    sync.Mutex
	grace time.Duration
	err   error
}

func NewSchemaResolver() *SchemaResolver {
	return &SchemaResolver{grace: time.Hour}
}

func (s *SchemaResolver) SetGrace(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grace = d
}

func (s *SchemaResolver) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *SchemaResolver) ColumnMapping(table string, version uint32) (hh.ColumnMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return hh.ColumnMapping{}, s.err
	}
	return hh.ColumnMapping{Table: table, Version: version}, nil
}

func (s *SchemaResolver) GraceSeconds(_ string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grace
}
