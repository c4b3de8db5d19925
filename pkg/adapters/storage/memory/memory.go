package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/reactor/pkg/domain"
	"github.com/aescanero/reactor/pkg/ports"
)

// Persistence implements ports.PersistenceProvider using in-memory maps
type Persistence struct {
	mu          sync.RWMutex
	collections map[string]map[string]ports.Row
}

// NewPersistence creates a new in-memory persistence provider
func NewPersistence() *Persistence {
	return &Persistence{
		collections: make(map[string]map[string]ports.Row),
	}
}

// Fetch returns copies of the rows matching filter, ordered by id
func (p *Persistence) Fetch(ctx context.Context, collection string, filter ports.Filter) ([]ports.Row, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var rows []ports.Row
	for _, row := range p.collections[collection] {
		if filter.Matches(row) {
			rows = append(rows, copyRow(row))
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID() < rows[j].ID() })
	return rows, nil
}

// Upsert inserts or replaces rows by id
func (p *Persistence) Upsert(ctx context.Context, collection string, rows ...ports.Row) error {
	for _, row := range rows {
		if row.ID() == "" {
			return fmt.Errorf("row in %s has no id", collection)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.collections[collection]
	if !ok {
		c = make(map[string]ports.Row)
		p.collections[collection] = c
	}
	for _, row := range rows {
		c[row.ID()] = copyRow(row)
	}
	return nil
}

// Delete removes the rows matching filter
func (p *Persistence) Delete(ctx context.Context, collection string, filter ports.Filter) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, row := range p.collections[collection] {
		if filter.Matches(row) {
			delete(p.collections[collection], id)
		}
	}
	return nil
}

func copyRow(row ports.Row) ports.Row {
	out := make(ports.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// KV implements ports.StorageProvider using an in-memory map
type KV struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewKV creates a new in-memory key/value store
func NewKV() *KV {
	return &KV{items: make(map[string]string)}
}

// GetItem returns the value stored under key
func (s *KV) GetItem(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.items[key]
	return v, ok, nil
}

// SetItem stores value under key
func (s *KV) SetItem(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = value
	return nil
}

// RemoveItem deletes key
func (s *KV) RemoveItem(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

// RecordStore implements ports.RecordStore using an in-memory map
// Note: In-memory storage doesn't implement TTL
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]*domain.GenerationRecord
}

// NewRecordStore creates a new in-memory record store
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]*domain.GenerationRecord)}
}

// Save stores a copy of record
func (s *RecordStore) Save(ctx context.Context, record *domain.GenerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.ID] = record.Clone()
	return nil
}

// Load returns a copy of the record with the given id
func (s *RecordStore) Load(ctx context.Context, id string) (*domain.GenerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, ports.ErrNotFound)
	}
	return r.Clone(), nil
}

// List returns the records of changeType, or all records when it is empty,
// oldest first
func (s *RecordStore) List(ctx context.Context, changeType string) ([]*domain.GenerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.GenerationRecord
	for _, r := range s.records {
		if changeType == "" || string(r.ChangeType) == changeType {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// Delete removes the record with the given id
func (s *RecordStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	return nil
}
