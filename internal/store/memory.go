package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store used by tests and single-node deployments.
// Every document carries a version; transactions validate their read set
// against those versions at commit and retry on a mismatch.
type Memory struct {
	mu   sync.Mutex
	cols map[string]map[string]*memDoc
}

type memDoc struct {
	data    Doc
	version int64
}

func NewMemory() *Memory {
	return &Memory{cols: make(map[string]map[string]*memDoc)}
}

func (m *Memory) Get(_ context.Context, collection, key string) (Doc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.lookup(collection, key)
	if !ok {
		return nil, ErrNotFound
	}
	return d.data.Clone(), nil
}

func (m *Memory) Set(_ context.Context, collection, key string, doc Doc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(collection, key, doc.Clone())
	return nil
}

func (m *Memory) Update(_ context.Context, collection, key string, fields Doc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.lookup(collection, key)
	if !ok {
		return ErrNotFound
	}
	next := d.data.Clone()
	for path, v := range fields {
		next.SetPath(path, v)
	}
	m.put(collection, key, next)
	return nil
}

func (m *Memory) Increment(_ context.Context, collection, key, field string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := Doc{}
	if d, ok := m.lookup(collection, key); ok {
		next = d.data.Clone()
	}
	next.SetPath(field, next.Int(field)+delta)
	m.put(collection, key, next)
	return nil
}

func (m *Memory) Query(_ context.Context, collection string, filters ...Filter) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Snapshot
	for key, d := range m.cols[collection] {
		if matches(d.data, filters) {
			out = append(out, Snapshot{Key: key, Doc: d.data.Clone()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &memTx{store: m, reads: make(map[docRef]int64)}
		if err := fn(tx); err != nil {
			return err
		}
		ok, err := m.commit(tx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return ErrConflict
}

func (m *Memory) Batch() Batch {
	return &memBatch{store: m}
}

// lookup and put assume m.mu is held.
func (m *Memory) lookup(collection, key string) (*memDoc, bool) {
	d, ok := m.cols[collection][key]
	return d, ok
}

func (m *Memory) put(collection, key string, doc Doc) {
	col, ok := m.cols[collection]
	if !ok {
		col = make(map[string]*memDoc)
		m.cols[collection] = col
	}
	if prev, ok := col[key]; ok {
		col[key] = &memDoc{data: doc, version: prev.version + 1}
		return
	}
	col[key] = &memDoc{data: doc, version: 1}
}

func (m *Memory) version(collection, key string) int64 {
	if d, ok := m.lookup(collection, key); ok {
		return d.version
	}
	return 0
}

// commit validates the transaction's read set and, when it still holds,
// applies the staged writes as one unit. Returns false when the read set
// went stale and the caller should retry.
func (m *Memory) commit(tx *memTx) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ref, version := range tx.reads {
		if m.version(ref.collection, ref.key) != version {
			return false, nil
		}
	}

	// Stage results first so an invalid op leaves nothing half-applied.
	staged := make(map[docRef]Doc)
	current := func(ref docRef) (Doc, bool) {
		if doc, ok := staged[ref]; ok {
			return doc, true
		}
		if d, ok := m.lookup(ref.collection, ref.key); ok {
			return d.data.Clone(), true
		}
		return nil, false
	}
	for _, op := range tx.ops {
		ref := docRef{op.collection, op.key}
		switch op.kind {
		case opSet, opCreate:
			staged[ref] = op.doc.Clone()
		case opUpdate:
			doc, ok := current(ref)
			if !ok {
				return false, ErrNotFound
			}
			for path, v := range op.doc {
				doc.SetPath(path, v)
			}
			staged[ref] = doc
		case opIncrement:
			doc, ok := current(ref)
			if !ok {
				doc = Doc{}
			}
			doc.SetPath(op.field, doc.Int(op.field)+op.delta)
			staged[ref] = doc
		}
	}
	for ref, doc := range staged {
		m.put(ref.collection, ref.key, doc)
	}
	return true, nil
}

type docRef struct {
	collection string
	key        string
}

type opKind int

const (
	opSet opKind = iota
	opUpdate
	opIncrement
	opCreate
)

type memOp struct {
	kind       opKind
	collection string
	key        string
	doc        Doc
	field      string
	delta      int64
}

type memTx struct {
	store *Memory
	reads map[docRef]int64
	ops   []memOp
}

func (t *memTx) Get(collection, key string) (Doc, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.reads[docRef{collection, key}] = t.store.version(collection, key)
	d, ok := t.store.lookup(collection, key)
	if !ok {
		return nil, ErrNotFound
	}
	return d.data.Clone(), nil
}

func (t *memTx) Set(collection, key string, doc Doc) {
	t.ops = append(t.ops, memOp{kind: opSet, collection: collection, key: key, doc: doc.Clone()})
}

func (t *memTx) Update(collection, key string, fields Doc) {
	t.ops = append(t.ops, memOp{kind: opUpdate, collection: collection, key: key, doc: fields.Clone()})
}

func (t *memTx) Increment(collection, key, field string, delta int64) {
	t.ops = append(t.ops, memOp{kind: opIncrement, collection: collection, key: key, field: field, delta: delta})
}

func (t *memTx) Create(collection string, doc Doc) string {
	key := uuid.NewString()
	t.ops = append(t.ops, memOp{kind: opCreate, collection: collection, key: key, doc: doc.Clone()})
	return key
}

type memBatch struct {
	store *Memory
	ops   []memOp
}

func (b *memBatch) Set(collection, key string, doc Doc) {
	b.ops = append(b.ops, memOp{kind: opSet, collection: collection, key: key, doc: doc.Clone()})
}

func (b *memBatch) Update(collection, key string, fields Doc) {
	b.ops = append(b.ops, memOp{kind: opUpdate, collection: collection, key: key, doc: fields.Clone()})
}

func (b *memBatch) Create(collection string, doc Doc) {
	b.ops = append(b.ops, memOp{kind: opCreate, collection: collection, key: uuid.NewString(), doc: doc.Clone()})
}

func (b *memBatch) Commit(_ context.Context) error {
	tx := &memTx{store: b.store, reads: make(map[docRef]int64), ops: b.ops}
	_, err := b.store.commit(tx)
	return err
}

func matches(doc Doc, filters []Filter) bool {
	for _, f := range filters {
		v, ok := doc.Lookup(f.Field)
		if !ok || !valuesEqual(v, f.Value) {
			return false
		}
	}
	return true
}
