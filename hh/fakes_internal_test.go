package hh

import (
	"context"
	"sync"
	"time"
)

// Unexported collaborator fakes for internal (package hh) tests that
// need access to unexported sender/writer state alongside them. The
// exported hh/hhtest package exists for external, black-box tests of
// ShardManager's public API and cannot be imported here without an
// import cycle (hhtest imports hh).

type fakeFailureDetector struct {
	mu    sync.Mutex
	alive map[EndpointID]bool
}

func newFakeFailureDetector() *fakeFailureDetector {
	return &fakeFailureDetector{alive: make(map[EndpointID]bool)}
}

func (f *fakeFailureDetector) SetAlive(ep EndpointID, alive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[ep] = alive
}

func (f *fakeFailureDetector) IsAlive(ep EndpointID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	alive, ok := f.alive[ep]
	if !ok {
		return true
	}
	return alive
}

func (f *fakeFailureDetector) LastSeen(EndpointID) time.Duration { return 0 }
func (f *fakeFailureDetector) State(EndpointID) PeerState        { return StateNormal }

type fakeTopology struct {
	mu        sync.Mutex
	endpoints map[string][]EndpointID
	err       error
}

func newFakeTopology() *fakeTopology {
	return &fakeTopology{endpoints: make(map[string][]EndpointID)}
}

func (t *fakeTopology) SetNaturalEndpoints(table string, eps []EndpointID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endpoints[table] = eps
}

func (t *fakeTopology) SetErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

func (t *fakeTopology) NaturalEndpoints(_ context.Context, table string, _ []byte) ([]EndpointID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	return t.endpoints[table], nil
}

type fakeWritePath struct {
	mu          sync.Mutex
	directCalls []FrozenMutation
	anyCalls    []FrozenMutation
	directErr   error
}

func newFakeWritePath() *fakeWritePath { return &fakeWritePath{} }

func (w *fakeWritePath) SetDirectErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.directErr = err
}

func (w *fakeWritePath) MutateDirectly(_ context.Context, _ EndpointID, m FrozenMutation) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.directCalls = append(w.directCalls, m)
	return w.directErr
}

func (w *fakeWritePath) MutateAny(_ context.Context, m FrozenMutation) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.anyCalls = append(w.anyCalls, m)
	return nil
}

func (w *fakeWritePath) DirectCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.directCalls)
}

func (w *fakeWritePath) AnyCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.anyCalls)
}

type fakeSchemaResolver struct {
	mu    sync.Mutex
	grace time.Duration
	err   error
}

func newFakeSchemaResolver() *fakeSchemaResolver {
	return &fakeSchemaResolver{grace: time.Hour}
}

func (s *fakeSchemaResolver) SetGrace(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grace = d
}

func (s *fakeSchemaResolver) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeSchemaResolver) ColumnMapping(table string, version uint32) (ColumnMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return ColumnMapping{}, s.err
	}
	return ColumnMapping{Table: table, Version: version}, nil
}

func (s *fakeSchemaResolver) GraceSeconds(string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grace
}
