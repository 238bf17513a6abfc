package requestqueue

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/webstalk/corecrawl/internal/request"
)

// MemBackingStore is an in-process BackingStore backed by a map plus an
// ordered id list. It is immediately consistent (no replication lag),
// which is appropriate for the CLI example and unit tests; the queue
// logic above it tolerates lag regardless, though no test in this
// package drives it against a lagging store.
type MemBackingStore struct {
	mu sync.Mutex

	byID        map[string]*request.Request
	keyToID     map[string]string
	order       *list.List // order of ids, front = forefront-most
	modifiedAt  time.Time
	total       int64
	handled     int64
}

// NewMemBackingStore creates an empty MemBackingStore.
func NewMemBackingStore() *MemBackingStore {
	return &MemBackingStore{
		byID:    make(map[string]*request.Request),
		keyToID: make(map[string]string),
		order:   list.New(),
	}
}

func hashUniqueKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:16])
}

func (m *MemBackingStore) GetHead(_ context.Context, limit int) (HeadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]HeadItem, 0, limit)
	for el := m.order.Front(); el != nil && len(items) < limit; el = el.Next() {
		id := el.Value.(string)
		r := m.byID[id]
		if r == nil || r.IsHandled() {
			continue
		}
		items = append(items, HeadItem{ID: id, UniqueKey: r.UniqueKey})
	}

	return HeadResult{
		Items:              items,
		QueueModifiedAt:    m.modifiedAt,
		HadMultipleClients: false,
	}, nil
}

func (m *MemBackingStore) AddRequest(_ context.Context, r *request.Request, forefront bool) (AddResult, error) {
	if r.ID() != "" {
		return AddResult{}, ErrRequestAlreadyHasID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	hash := hashUniqueKey(r.UniqueKey)
	if id, ok := m.keyToID[hash]; ok {
		existing := m.byID[id]
		return AddResult{ID: id, WasAlreadyPresent: true, WasAlreadyHandled: existing.IsHandled()}, nil
	}

	id := hash
	r.SetID(id)
	m.byID[id] = r
	m.keyToID[hash] = id
	m.total++
	m.modifiedAt = time.Now()

	if forefront {
		m.order.PushFront(id)
	} else {
		m.order.PushBack(id)
	}

	return AddResult{ID: id}, nil
}

func (m *MemBackingStore) GetRequest(_ context.Context, id string) (*request.Request, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, false, nil
	}
	return r.Clone(), true, nil
}

func (m *MemBackingStore) UpdateRequest(_ context.Context, r *request.Request, forefront bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := r.ID()
	existing, ok := m.byID[id]
	if !ok {
		return ErrNotInProgress
	}

	wasHandled := existing.IsHandled()
	m.byID[id] = r
	m.modifiedAt = time.Now()

	if !wasHandled && r.IsHandled() {
		m.handled++
	}

	if forefront {
		for el := m.order.Front(); el != nil; el = el.Next() {
			if el.Value.(string) == id {
				m.order.MoveToFront(el)
				break
			}
		}
	}

	return nil
}

func (m *MemBackingStore) DeleteQueue(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID = make(map[string]*request.Request)
	m.keyToID = make(map[string]string)
	m.order = list.New()
	m.total = 0
	m.handled = 0
	return nil
}

func (m *MemBackingStore) GetQueueInfo(context.Context) (QueueInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return QueueInfo{
		HadMultipleClients:  false,
		TotalRequestCount:   m.total,
		HandledRequestCount: m.handled,
	}, nil
}
