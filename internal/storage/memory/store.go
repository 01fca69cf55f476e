package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/JakeFAU/breeder-harvester/internal/harvest"
)

var errTxDone = errors.New("transaction already finished")

type link struct {
	entityID string
	target   string
}

// Store is an in-memory harvest.Store. Writes are staged per transaction and
// applied insert-if-absent on commit.
type Store struct {
	mu              sync.RWMutex
	partitions      map[string]harvest.Partition
	entities        map[string]harvest.Entity
	categories      map[string]harvest.Category
	persons         map[string]harvest.Person
	entityPartition map[link]struct{}
	entityCategory  map[link]struct{}
	entityPerson    map[link]struct{}
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		partitions:      make(map[string]harvest.Partition),
		entities:        make(map[string]harvest.Entity),
		categories:      make(map[string]harvest.Category),
		persons:         make(map[string]harvest.Person),
		entityPartition: make(map[link]struct{}),
		entityCategory:  make(map[link]struct{}),
		entityPerson:    make(map[link]struct{}),
	}
}

// EnsureSchema is a no-op for the in-memory store.
func (s *Store) EnsureSchema(context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// Begin opens a staged transaction.
func (s *Store) Begin(context.Context) (harvest.Sink, error) {
	return &tx{store: s}, nil
}

// Counts reports the number of rows per table.
func (s *Store) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]int{
		"partitions":       len(s.partitions),
		"entities":         len(s.entities),
		"categories":       len(s.categories),
		"persons":          len(s.persons),
		"entity_partition": len(s.entityPartition),
		"entity_category":  len(s.entityCategory),
		"entity_person":    len(s.entityPerson),
	}
}

// Category returns a stored category by code.
func (s *Store) Category(code string) (harvest.Category, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[code]
	return c, ok
}

// Person returns a stored person by id.
func (s *Store) Person(id string) (harvest.Person, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.persons[id]
	return p, ok
}

// HasEntityCategory reports whether the entity-category link exists.
func (s *Store) HasEntityCategory(entityID, code string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entityCategory[link{entityID, code}]
	return ok
}

// HasEntityPerson reports whether the entity-person link exists.
func (s *Store) HasEntityPerson(entityID, personID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entityPerson[link{entityID, personID}]
	return ok
}

// HasEntityPartition reports whether the entity-partition link exists.
func (s *Store) HasEntityPartition(entityID, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entityPartition[link{entityID, key}]
	return ok
}

// EntityPartitionLinks returns every entity-partition link, sorted.
func (s *Store) EntityPartitionLinks() []harvest.Link {
	return s.sortedLinks(s.entityPartition)
}

// EntityCategoryLinks returns every entity-category link, sorted.
func (s *Store) EntityCategoryLinks() []harvest.Link {
	return s.sortedLinks(s.entityCategory)
}

// EntityPersonLinks returns every entity-person link, sorted.
func (s *Store) EntityPersonLinks() []harvest.Link {
	return s.sortedLinks(s.entityPerson)
}

func (s *Store) sortedLinks(set map[link]struct{}) []harvest.Link {
	s.mu.RLock()
	out := make([]harvest.Link, 0, len(set))
	for l := range set {
		out = append(out, harvest.Link{EntityID: l.entityID, Target: l.target})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].Target < out[j].Target
	})
	return out
}

type tx struct {
	store *Store
	ops   []func(*Store)
	done  bool
}

func (t *tx) stage(op func(*Store)) error {
	if t.done {
		return errTxDone
	}
	t.ops = append(t.ops, op)
	return nil
}

func (t *tx) UpsertPartition(_ context.Context, p harvest.Partition) error {
	return t.stage(func(s *Store) {
		if _, ok := s.partitions[p.Key]; !ok {
			s.partitions[p.Key] = p
		}
	})
}

func (t *tx) UpsertEntity(_ context.Context, e harvest.Entity) error {
	e.CategoryCodes = append([]string(nil), e.CategoryCodes...)
	return t.stage(func(s *Store) {
		if _, ok := s.entities[e.ID]; !ok {
			s.entities[e.ID] = e
		}
	})
}

func (t *tx) UpsertCategory(_ context.Context, c harvest.Category) error {
	return t.stage(func(s *Store) {
		if _, ok := s.categories[c.Code]; !ok {
			s.categories[c.Code] = c
		}
	})
}

func (t *tx) UpsertPerson(_ context.Context, p harvest.Person) error {
	p.EntityIDs = append([]string(nil), p.EntityIDs...)
	return t.stage(func(s *Store) {
		if _, ok := s.persons[p.ID]; !ok {
			s.persons[p.ID] = p
		}
	})
}

func (t *tx) LinkEntityCategory(_ context.Context, entityID, code string) error {
	return t.stage(func(s *Store) { s.entityCategory[link{entityID, code}] = struct{}{} })
}

func (t *tx) LinkEntityPartition(_ context.Context, entityID, key string) error {
	return t.stage(func(s *Store) { s.entityPartition[link{entityID, key}] = struct{}{} })
}

func (t *tx) LinkEntityPerson(_ context.Context, entityID, personID string) error {
	return t.stage(func(s *Store) { s.entityPerson[link{entityID, personID}] = struct{}{} })
}

func (t *tx) Commit(context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, op := range t.ops {
		op(t.store)
	}
	t.ops = nil
	return nil
}

func (t *tx) Rollback(context.Context) error {
	t.done = true
	t.ops = nil
	return nil
}
