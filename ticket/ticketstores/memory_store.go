package ticketstores

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/openmodeller/omws/ticket"
)

// In-memory Store. Not durable; used by tests and single process setups.
type memoryStore struct {
	mu       sync.RWMutex
	tickets  map[ticket.ID]*memoryTicket
	requests map[ticket.JobType]map[ticket.Stage]map[ticket.ID]bool
	locks    *keyedMutex
}

type memoryTicket struct {
	request     []byte
	stage       ticket.Stage
	hasRequest  bool
	result      []byte
	hasResult   bool
	progress    int
	hasProgress bool
	done        bool
	metadata    []ticket.Entry
	log         []byte
}

func MakeInMemoryStore() ticket.Store {
	s := &memoryStore{
		tickets:  make(map[ticket.ID]*memoryTicket),
		requests: make(map[ticket.JobType]map[ticket.Stage]map[ticket.ID]bool),
		locks:    newKeyedMutex(),
	}
	return s
}

// index returns the set of ids holding a request of jobType in stage.
// Callers hold s.mu for writing.
func (s *memoryStore) index(jobType ticket.JobType, stage ticket.Stage) map[ticket.ID]bool {
	byStage, ok := s.requests[jobType]
	if !ok {
		byStage = make(map[ticket.Stage]map[ticket.ID]bool)
		s.requests[jobType] = byStage
	}
	ids, ok := byStage[stage]
	if !ok {
		ids = make(map[ticket.ID]bool)
		byStage[stage] = ids
	}
	return ids
}

func (s *memoryStore) get(id ticket.ID) (*memoryTicket, error) {
	t, ok := s.tickets[id]
	if !ok {
		return nil, errors.Wrapf(ticket.ErrNotFound, "ticket %s", id)
	}
	return t, nil
}

func (s *memoryStore) Create(jobType ticket.JobType) (ticket.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return allocate(func(id ticket.ID) error {
		if _, ok := s.tickets[id]; ok {
			return ticket.ErrExists
		}
		s.tickets[id] = &memoryTicket{
			metadata: []ticket.Entry{{Key: ticket.TypeKey, Value: jobType.String()}},
		}
		return nil
	})
}

func (s *memoryStore) Exists(id ticket.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tickets[id]
	return ok, nil
}

func (s *memoryStore) Delete(id ticket.ID, jobType ticket.JobType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ids := range s.requests[jobType] {
		delete(ids, id)
	}
	delete(s.tickets, id)
	return nil
}

func (s *memoryStore) WriteRequest(id ticket.ID, jobType ticket.JobType, stage ticket.Stage, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(id)
	if err != nil {
		return err
	}
	if t.hasRequest {
		delete(s.index(jobType, t.stage), id)
	}
	t.request = append([]byte(nil), payload...)
	t.stage = stage
	t.hasRequest = true
	s.index(jobType, stage)[id] = true
	return nil
}

func (s *memoryStore) ReadRequest(id ticket.ID, jobType ticket.JobType) ([]byte, ticket.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(id)
	if err != nil {
		return nil, 0, err
	}
	if !t.hasRequest {
		return nil, 0, errors.Wrapf(ticket.ErrNotFound, "%s request %s", jobType, id)
	}
	return append([]byte(nil), t.request...), t.stage, nil
}

func (s *memoryStore) MoveRequest(id ticket.ID, jobType ticket.JobType, from, to ticket.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok || !t.hasRequest || t.stage != from {
		return errors.Wrapf(ticket.ErrNotFound, "%s_%s.%s", jobType, from, id)
	}
	delete(s.index(jobType, from), id)
	t.stage = to
	s.index(jobType, to)[id] = true
	return nil
}

func (s *memoryStore) ListRequests(jobType ticket.JobType, stage ticket.Stage) ([]ticket.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.requests[jobType][stage]
	ids := make([]ticket.ID, 0, len(stored))
	for id := range stored {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *memoryStore) WriteResult(id ticket.ID, jobType ticket.JobType, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(id)
	if err != nil {
		return err
	}
	t.result = append([]byte(nil), payload...)
	t.hasResult = true
	return nil
}

func (s *memoryStore) ReadResult(id ticket.ID, jobType ticket.JobType) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if !t.hasResult {
		return nil, errors.Wrapf(ticket.ErrNotFound, "%s result %s", jobType, id)
	}
	return append([]byte(nil), t.result...), nil
}

func (s *memoryStore) WriteProgress(id ticket.ID, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(id)
	if err != nil {
		return err
	}
	t.progress = progress
	t.hasProgress = true
	return nil
}

func (s *memoryStore) ReadProgress(id ticket.ID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(id)
	if err != nil {
		return 0, err
	}
	if !t.hasProgress {
		return 0, errors.Wrapf(ticket.ErrNotFound, "progress %s", id)
	}
	return t.progress, nil
}

func (s *memoryStore) MarkDone(id ticket.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(id)
	if err != nil {
		return err
	}
	t.done = true
	return nil
}

func (s *memoryStore) IsDone(id ticket.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	return ok && t.done, nil
}

func (s *memoryStore) AppendMetadata(id ticket.ID, entries ...ticket.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(id)
	if err != nil {
		return err
	}
	t.metadata = append(t.metadata, entries...)
	return nil
}

func (s *memoryStore) ReadMetadata(id ticket.ID) (*ticket.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return &ticket.Metadata{Entries: append([]ticket.Entry(nil), t.metadata...)}, nil
}

func (s *memoryStore) AppendLog(id ticket.ID, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(id)
	if err != nil {
		return err
	}
	t.log = append(t.log, line...)
	return nil
}

func (s *memoryStore) ReadLog(id ticket.ID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), t.log...), nil
}

func (s *memoryStore) Lock(ctx context.Context, id ticket.ID) (ticket.Unlocker, error) {
	return s.locks.Lock(ctx, id)
}

func (s *memoryStore) Close() error {
	return nil
}
