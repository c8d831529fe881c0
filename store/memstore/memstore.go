// Package memstore is the in-process store.Store implementation. It backs
// tests and single-node development runs. Field values round-trip through
// JSON on write so their types match what the production store returns.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/store"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Store holds all collections in memory.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]*store.Record
	seq         uint64
	order       map[string]uint64 // record id -> insertion sequence

	now func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		collections: make(map[string]map[string]*store.Record),
		order:       make(map[string]uint64),
		now:         time.Now,
	}
}

// SetClock overrides the timestamp source. Tests use it to produce
// deterministic created/updated values.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Collection returns an accessor for the named collection, creating it on
// first use.
func (s *Store) Collection(name string) store.Collection {
	return &collection{store: s, name: name}
}

// Health always succeeds for the in-memory store.
func (s *Store) Health(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

type collection struct {
	store *Store
	name  string
}

func (c *collection) records() map[string]*store.Record {
	recs, ok := c.store.collections[c.name]
	if !ok {
		recs = make(map[string]*store.Record)
		c.store.collections[c.name] = recs
	}
	return recs
}

func (c *collection) Create(ctx context.Context, fields map[string]any) (*store.Record, error) {
	normalized, err := normalize(fields)
	if err != nil {
		return nil, err
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	id, _ := normalized["id"].(string)
	delete(normalized, "id")
	if id == "" {
		id = newRecordID()
	}

	recs := c.records()
	if _, exists := recs[id]; exists {
		return nil, &core.PlatformError{
			Op:      "store.create",
			Kind:    core.KindValidation,
			Message: fmt.Sprintf("record %s already exists in %s", id, c.name),
			Err:     core.ErrInvalidConfiguration,
		}
	}

	now := c.store.now().UTC()
	rec := &store.Record{
		ID:      id,
		Created: now,
		Updated: now,
		Fields:  normalized,
	}
	recs[id] = rec
	c.store.seq++
	c.store.order[id] = c.store.seq

	return clone(rec), nil
}

func (c *collection) Get(ctx context.Context, id string) (*store.Record, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	rec, ok := c.store.collections[c.name][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", c.name, id, core.ErrRecordNotFound)
	}
	return clone(rec), nil
}

func (c *collection) Update(ctx context.Context, id string, fields map[string]any) (*store.Record, error) {
	normalized, err := normalize(fields)
	if err != nil {
		return nil, err
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	rec, ok := c.store.collections[c.name][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", c.name, id, core.ErrRecordNotFound)
	}

	for k, v := range normalized {
		if k == "id" {
			continue
		}
		rec.Fields[k] = v
	}
	rec.Updated = c.store.now().UTC()

	return clone(rec), nil
}

func (c *collection) Delete(ctx context.Context, id string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	recs := c.store.collections[c.name]
	if _, ok := recs[id]; !ok {
		return fmt.Errorf("%s/%s: %w", c.name, id, core.ErrRecordNotFound)
	}
	delete(recs, id)
	delete(c.store.order, id)
	return nil
}

func (c *collection) List(ctx context.Context, q store.Query) ([]*store.Record, error) {
	c.store.mu.RLock()

	// Clone while still holding the lock; Update mutates the live Fields
	// maps under the write lock.
	matched := make([]*store.Record, 0)
	for _, rec := range c.store.collections[c.name] {
		if q.Filter.Match(rec) {
			matched = append(matched, clone(rec))
		}
	}
	// Stable base order: insertion sequence.
	sort.Slice(matched, func(i, j int) bool {
		return c.store.order[matched[i].ID] < c.store.order[matched[j].ID]
	})
	c.store.mu.RUnlock()

	if q.Sort != "" {
		sortRecords(matched, q.Sort)
	}

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Offset:]
		}
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (c *collection) First(ctx context.Context, q store.Query) (*store.Record, error) {
	q.Limit = 1
	q.Offset = 0
	recs, err := c.List(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s: %w", c.name, core.ErrRecordNotFound)
	}
	return recs[0], nil
}

// sortRecords applies a comma-separated sort spec ("-created,slug").
func sortRecords(recs []*store.Record, spec string) {
	fields := strings.Split(spec, ",")
	sort.SliceStable(recs, func(i, j int) bool {
		for _, f := range fields {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			desc := strings.HasPrefix(f, "-")
			name := strings.TrimPrefix(f, "-")
			cmp := store.CompareValues(recs[i].Value(name), recs[j].Value(name))
			if cmp == 0 {
				continue
			}
			if desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// normalize round-trips the fields through JSON so stored values use JSON
// types (float64 numbers, string datetimes), matching the wire store.
func normalize(fields map[string]any) (map[string]any, error) {
	prepared := make(map[string]any, len(fields))
	for k, v := range fields {
		if t, ok := v.(time.Time); ok {
			prepared[k] = store.FormatTime(t)
			continue
		}
		prepared[k] = v
	}

	data, err := json.Marshal(prepared)
	if err != nil {
		return nil, fmt.Errorf("encoding fields: %w", err)
	}
	var normalized map[string]any
	if err := json.Unmarshal(data, &normalized); err != nil {
		return nil, fmt.Errorf("decoding fields: %w", err)
	}
	if normalized == nil {
		normalized = make(map[string]any)
	}
	return normalized, nil
}

func clone(rec *store.Record) *store.Record {
	fields := make(map[string]any, len(rec.Fields))
	data, _ := json.Marshal(rec.Fields)
	_ = json.Unmarshal(data, &fields)
	return &store.Record{
		ID:      rec.ID,
		Created: rec.Created,
		Updated: rec.Updated,
		Fields:  fields,
	}
}

func newRecordID() string {
	b := make([]byte, 15)
	for i := range b {
		b[i] = idAlphabet[rand.Intn(len(idAlphabet))]
	}
	return string(b)
}
