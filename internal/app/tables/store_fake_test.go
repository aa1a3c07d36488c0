package tables

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"ttsBotPremium/internal/domain"
)

var errBoom = errors.New("boom")

type upsertCall struct {
	id      domain.Identifier
	changes domain.Record
}

// memStore es un RowStore en memoria que cuenta las llamadas.
type memStore struct {
	mu       sync.Mutex
	rows     map[domain.Identifier]domain.Record
	loads    []domain.Identifier
	upserts  []upsertCall
	deletes  []domain.Identifier
	failFor  map[domain.Identifier]error
	loadGate chan struct{}
}

func newMemStore(defaults domain.Record, arity int) *memStore {
	s := &memStore{
		rows:    make(map[domain.Identifier]domain.Record),
		failFor: make(map[domain.Identifier]error),
	}
	if defaults != nil {
		s.rows[domain.ZeroID(arity)] = defaults.Clone()
	}
	return s
}

func (s *memStore) Load(ctx context.Context, id domain.Identifier) (domain.Record, bool, error) {
	if s.loadGate != nil {
		select {
		case <-s.loadGate:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads = append(s.loads, id)
	row, ok := s.rows[id]
	if !ok {
		return nil, false, nil
	}
	return row.Clone(), true, nil
}

func (s *memStore) Upsert(_ context.Context, id domain.Identifier, changes domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, upsertCall{id: id, changes: changes.Clone()})
	if err := s.failFor[id]; err != nil {
		return err
	}
	row, ok := s.rows[id]
	if !ok {
		row = domain.Record{}
		s.rows[id] = row
	}
	row.Merge(changes)
	return nil
}

func (s *memStore) Delete(_ context.Context, id domain.Identifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, id)
	delete(s.rows, id)
	return nil
}

func (s *memStore) put(id domain.Identifier, row domain.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[id] = row.Clone()
}

func (s *memStore) loadCount(id domain.Identifier) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.loads {
		if l == id {
			n++
		}
	}
	return n
}

func (s *memStore) upsertCalls() []upsertCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]upsertCall(nil), s.upserts...)
}

func (s *memStore) deleteCalls() []domain.Identifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Identifier(nil), s.deletes...)
}

// MockPublisher registra los envelopes publicados.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Send(ctx context.Context, env domain.Envelope) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}

type fakeRouter struct {
	mu    sync.Mutex
	funcs map[string]func(domain.Identifier)
}

func (r *fakeRouter) RegisterTable(table string, invalidate func(domain.Identifier)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.funcs == nil {
		r.funcs = make(map[string]func(domain.Identifier))
	}
	r.funcs[table] = invalidate
}

func (r *fakeRouter) deliver(table string, id domain.Identifier) bool {
	r.mu.Lock()
	fn, ok := r.funcs[table]
	r.mu.Unlock()
	if ok {
		fn(id)
	}
	return ok
}
