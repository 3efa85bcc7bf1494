package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory is an in-process KV used when no database is configured and in
// tests. Semantics mirror the Postgres backing: shallow object merge,
// oldest-first truncation on capped appends.
type Memory struct {
	mux  sync.Mutex
	docs map[string]json.RawMessage
}

// NewMemory constructs an empty in-memory document store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]json.RawMessage)}
}

// Get returns a copy of the stored document, or nil when absent.
func (m *Memory) Get(ctx context.Context, key string) (json.RawMessage, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	doc, ok := m.docs[key]
	if !ok {
		return nil, nil
	}
	out := make(json.RawMessage, len(doc))
	copy(out, doc)
	return out, nil
}

// PutMerged shallow-merges a partial object over the stored document.
func (m *Memory) PutMerged(ctx context.Context, key string, partial json.RawMessage) error {
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(partial, &patch); err != nil {
		return fmt.Errorf("put merged %q: %w", key, err)
	}

	m.mux.Lock()
	defer m.mux.Unlock()

	merged := make(map[string]json.RawMessage)
	if existing, ok := m.docs[key]; ok {
		if err := json.Unmarshal(existing, &merged); err != nil {
			return fmt.Errorf("put merged %q: %w", key, err)
		}
	}
	for k, v := range patch {
		merged[k] = v
	}

	doc, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	m.docs[key] = doc
	return nil
}

// AppendCapped appends to an array document, keeping the most recent cap
// entries.
func (m *Memory) AppendCapped(ctx context.Context, key string, item json.RawMessage, cap int) error {
	m.mux.Lock()
	defer m.mux.Unlock()

	var items []json.RawMessage
	if existing, ok := m.docs[key]; ok {
		if err := json.Unmarshal(existing, &items); err != nil {
			return fmt.Errorf("append capped %q: %w", key, err)
		}
	}

	items = append(items, item)
	if cap > 0 && len(items) > cap {
		items = items[len(items)-cap:]
	}

	doc, err := json.Marshal(items)
	if err != nil {
		return err
	}
	m.docs[key] = doc
	return nil
}

// TryAdvisoryLock satisfies AdvisoryLocker with a process-local lock that is
// always granted; a single process is the assumed deployment model here.
func (m *Memory) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	return func() {}, true, nil
}

var _ KV = (*Memory)(nil)
var _ AdvisoryLocker = (*Memory)(nil)
