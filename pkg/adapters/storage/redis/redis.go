package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/reactor/pkg/domain"
	"github.com/aescanero/reactor/pkg/ports"
)

const (
	collectionPrefix = "reactor:collection:"
	kvPrefix         = "reactor:kv:"
	generationPrefix = "reactor:generation:"
)

// Persistence implements ports.PersistenceProvider using one Redis hash per
// collection, keyed by row id
type Persistence struct {
	client *redis.Client
	logger *zap.Logger
}

// NewPersistence creates a new Redis persistence provider
func NewPersistence(client *redis.Client, logger *zap.Logger) *Persistence {
	return &Persistence{
		client: client,
		logger: logger,
	}
}

// Fetch returns the rows of collection matching filter, ordered by id
func (p *Persistence) Fetch(ctx context.Context, collection string, filter ports.Filter) ([]ports.Row, error) {
	if id, ok := filter["id"].(string); ok {
		data, err := p.client.HGet(ctx, collectionKey(collection), id).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to get row: %w", err)
		}
		row, err := decodeRow(data)
		if err != nil {
			return nil, err
		}
		if !filter.Matches(row) {
			return nil, nil
		}
		return []ports.Row{row}, nil
	}

	all, err := p.client.HGetAll(ctx, collectionKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}

	rows := make([]ports.Row, 0, len(all))
	for id, data := range all {
		row, err := decodeRow([]byte(data))
		if err != nil {
			p.logger.Warn("skipping undecodable row",
				zap.String("collection", collection),
				zap.String("id", id),
				zap.Error(err))
			continue
		}
		if filter.Matches(row) {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID() < rows[j].ID() })
	return rows, nil
}

// Upsert inserts or replaces rows by id
func (p *Persistence) Upsert(ctx context.Context, collection string, rows ...ports.Row) error {
	if len(rows) == 0 {
		return nil
	}

	values := make(map[string]interface{}, len(rows))
	for _, row := range rows {
		id := row.ID()
		if id == "" {
			return fmt.Errorf("row in %s has no id", collection)
		}
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to marshal row %s: %w", id, err)
		}
		values[id] = data
	}

	if err := p.client.HSet(ctx, collectionKey(collection), values).Err(); err != nil {
		return fmt.Errorf("failed to save rows: %w", err)
	}
	return nil
}

// Delete removes the rows matching filter
func (p *Persistence) Delete(ctx context.Context, collection string, filter ports.Filter) error {
	if len(filter) == 0 {
		if err := p.client.Del(ctx, collectionKey(collection)).Err(); err != nil {
			return fmt.Errorf("failed to delete collection: %w", err)
		}
		return nil
	}

	rows, err := p.Fetch(ctx, collection, filter)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID()
	}
	if err := p.client.HDel(ctx, collectionKey(collection), ids...).Err(); err != nil {
		return fmt.Errorf("failed to delete rows: %w", err)
	}
	return nil
}

func decodeRow(data []byte) (ports.Row, error) {
	var row ports.Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal row: %w", err)
	}
	return row, nil
}

// KV implements ports.StorageProvider using plain Redis strings
type KV struct {
	client *redis.Client
	ttl    time.Duration
}

// NewKV creates a new Redis key/value store. A zero ttl keeps items forever.
func NewKV(client *redis.Client, ttl time.Duration) *KV {
	return &KV{client: client, ttl: ttl}
}

// GetItem returns the value stored under key
func (s *KV) GetItem(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, kvPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get item: %w", err)
	}
	return v, true, nil
}

// SetItem stores value under key
func (s *KV) SetItem(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, kvPrefix+key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set item: %w", err)
	}
	return nil
}

// RemoveItem deletes key
func (s *KV) RemoveItem(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, kvPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	return nil
}

// RecordStore implements ports.RecordStore using Redis
type RecordStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewRecordStore creates a new Redis record store
func NewRecordStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RecordStore {
	return &RecordStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Save persists a generation record
func (s *RecordStore) Save(ctx context.Context, record *domain.GenerationRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := s.client.Set(ctx, generationKey(record.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}

	s.logger.Debug("generation record saved",
		zap.String("generation_id", record.ID),
		zap.String("status", string(record.Status)))
	return nil
}

// Load retrieves a generation record
func (s *RecordStore) Load(ctx context.Context, id string) (*domain.GenerationRecord, error) {
	data, err := s.client.Get(ctx, generationKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("record %s: %w", id, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	var record domain.GenerationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &record, nil
}

// List returns the stored records of changeType, or all records when it is
// empty, oldest first
func (s *RecordStore) List(ctx context.Context, changeType string) ([]*domain.GenerationRecord, error) {
	pattern := generationPrefix + "*"
	if changeType != "" {
		// Record ids start with their change type.
		pattern = generationPrefix + changeType + "_*"
	}

	var cursor uint64
	var keys []string
	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	records := make([]*domain.GenerationRecord, 0, len(keys))
	for _, key := range keys {
		record, err := s.Load(ctx, strings.TrimPrefix(key, generationPrefix))
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if changeType != "" && string(record.ChangeType) != changeType {
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].StartTime.Before(records[j].StartTime) })
	return records, nil
}

// Delete removes a generation record
func (s *RecordStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, generationKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

func collectionKey(name string) string {
	return collectionPrefix + name
}

func generationKey(id string) string {
	return generationPrefix + id
}
