package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Postgres implements Store over a single JSONB documents table. Transactions
// lock their read set with SELECT ... FOR UPDATE; serialization failures,
// deadlocks and duplicate-create races are retried like optimistic conflicts.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const createDocumentsTable = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT   NOT NULL,
	key        TEXT   NOT NULL,
	doc        JSONB  NOT NULL,
	version    BIGINT NOT NULL DEFAULT 1,
	PRIMARY KEY (collection, key)
)`

// Migrate creates the documents table if it is missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createDocumentsTable); err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, collection, key string) (Doc, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE collection = $1 AND key = $2`,
		collection, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	return decodeDoc(raw)
}

func (p *Postgres) Set(ctx context.Context, collection, key string, doc Doc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO documents (collection, key, doc) VALUES ($1, $2, $3)
		ON CONFLICT (collection, key)
		DO UPDATE SET doc = EXCLUDED.doc, version = documents.version + 1`,
		collection, key, raw)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, key, err)
	}
	return nil
}

func (p *Postgres) Update(ctx context.Context, collection, key string, fields Doc) error {
	return p.RunTransaction(ctx, func(tx Tx) error {
		if _, err := tx.Get(collection, key); err != nil {
			return err
		}
		tx.Update(collection, key, fields)
		return nil
	})
}

func (p *Postgres) Increment(ctx context.Context, collection, key, field string, delta int64) error {
	return p.RunTransaction(ctx, func(tx Tx) error {
		tx.Increment(collection, key, field, delta)
		return nil
	})
}

func (p *Postgres) Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error) {
	match := map[string]any{}
	for _, f := range filters {
		match[f.Field] = f.Value
	}
	raw, err := json.Marshal(match)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT key, doc FROM documents
		WHERE collection = $1 AND doc @> $2 ORDER BY key`,
		collection, raw)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var key string
		var body []byte
		if err := rows.Scan(&key, &body); err != nil {
			return nil, err
		}
		doc, err := decodeDoc(body)
		if err != nil {
			return nil, err
		}
		out = append(out, Snapshot{Key: key, Doc: doc})
	}
	return out, rows.Err()
}

func (p *Postgres) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		retry, err := p.runOnce(ctx, fn)
		if !retry {
			return err
		}
	}
	return ErrConflict
}

func (p *Postgres) runOnce(ctx context.Context, fn func(tx Tx) error) (retry bool, err error) {
	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer sqlTx.Rollback()

	tx := &pgTx{ctx: ctx, tx: sqlTx, read: make(map[docRef]Doc)}
	if err := fn(tx); err != nil {
		if tx.err != nil {
			return retryable(tx.err), tx.err
		}
		return false, err
	}
	if tx.err != nil {
		return retryable(tx.err), tx.err
	}
	if err := tx.apply(); err != nil {
		return retryable(err), err
	}
	if err := sqlTx.Commit(); err != nil {
		return retryable(err), err
	}
	return false, nil
}

func (p *Postgres) Batch() Batch {
	return &pgBatch{store: p}
}

type pgTx struct {
	ctx  context.Context
	tx   *sql.Tx
	read map[docRef]Doc // row-locked documents, nil for absent ones
	ops  []memOp
	err  error // first infrastructure error, forces abort
}

// Get locks the row so the read stays valid through commit.
func (t *pgTx) Get(collection, key string) (Doc, error) {
	if t.err != nil {
		return nil, t.err
	}
	doc, err := t.lockRow(collection, key)
	if err != nil {
		t.err = err
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (t *pgTx) lockRow(collection, key string) (Doc, error) {
	ref := docRef{collection, key}
	if doc, ok := t.read[ref]; ok {
		return doc, nil
	}
	var raw []byte
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT doc FROM documents WHERE collection = $1 AND key = $2 FOR UPDATE`,
		collection, key).Scan(&raw)
	if err == sql.ErrNoRows {
		t.read[ref] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock %s/%s: %w", collection, key, err)
	}
	doc, err := decodeDoc(raw)
	if err != nil {
		return nil, err
	}
	t.read[ref] = doc
	return doc, nil
}

func (t *pgTx) Set(collection, key string, doc Doc) {
	t.ops = append(t.ops, memOp{kind: opSet, collection: collection, key: key, doc: doc.Clone()})
}

func (t *pgTx) Update(collection, key string, fields Doc) {
	t.ops = append(t.ops, memOp{kind: opUpdate, collection: collection, key: key, doc: fields.Clone()})
}

func (t *pgTx) Increment(collection, key, field string, delta int64) {
	t.ops = append(t.ops, memOp{kind: opIncrement, collection: collection, key: key, field: field, delta: delta})
}

func (t *pgTx) Create(collection string, doc Doc) string {
	key := uuid.NewString()
	t.ops = append(t.ops, memOp{kind: opCreate, collection: collection, key: key, doc: doc.Clone()})
	return key
}

// apply flushes staged writes inside the open SQL transaction.
func (t *pgTx) apply() error {
	staged := make(map[docRef]Doc)
	exists := make(map[docRef]bool)
	current := func(ref docRef) (Doc, bool, error) {
		if doc, ok := staged[ref]; ok {
			return doc, true, nil
		}
		doc, err := t.lockRow(ref.collection, ref.key)
		if err != nil {
			return nil, false, err
		}
		if doc == nil {
			return nil, false, nil
		}
		return doc.Clone(), true, nil
	}
	for _, op := range t.ops {
		ref := docRef{op.collection, op.key}
		switch op.kind {
		case opSet:
			staged[ref] = op.doc
		case opCreate:
			staged[ref] = op.doc
			exists[ref] = false
		case opUpdate:
			doc, ok, err := current(ref)
			if err != nil {
				return err
			}
			if !ok {
				return ErrNotFound
			}
			for path, v := range op.doc {
				doc.SetPath(path, v)
			}
			staged[ref] = doc
		case opIncrement:
			doc, ok, err := current(ref)
			if err != nil {
				return err
			}
			if !ok {
				doc = Doc{}
			}
			doc.SetPath(op.field, doc.Int(op.field)+op.delta)
			staged[ref] = doc
		}
		// A read of an absent row locks nothing under READ COMMITTED, so a
		// guard observed as missing must be flushed as a bare INSERT: the
		// concurrent writer that also saw absence then hits the unique
		// violation and retries instead of silently upserting over the
		// winner's commit.
		if doc, ok := t.read[ref]; ok && doc == nil {
			if _, known := exists[ref]; !known {
				exists[ref] = false
			}
		}
	}
	for ref, doc := range staged {
		raw, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		if known, ok := exists[ref]; ok && !known {
			// Fresh create: a concurrent insert surfaces as a unique
			// violation, which the retry loop treats as a conflict.
			if _, err := t.tx.ExecContext(t.ctx,
				`INSERT INTO documents (collection, key, doc) VALUES ($1, $2, $3)`,
				ref.collection, ref.key, raw); err != nil {
				return fmt.Errorf("create %s/%s: %w", ref.collection, ref.key, err)
			}
			continue
		}
		if _, err := t.tx.ExecContext(t.ctx, `
			INSERT INTO documents (collection, key, doc) VALUES ($1, $2, $3)
			ON CONFLICT (collection, key)
			DO UPDATE SET doc = EXCLUDED.doc, version = documents.version + 1`,
			ref.collection, ref.key, raw); err != nil {
			return fmt.Errorf("write %s/%s: %w", ref.collection, ref.key, err)
		}
	}
	return nil
}

type pgBatch struct {
	store *Postgres
	ops   []memOp
}

func (b *pgBatch) Set(collection, key string, doc Doc) {
	b.ops = append(b.ops, memOp{kind: opSet, collection: collection, key: key, doc: doc.Clone()})
}

func (b *pgBatch) Update(collection, key string, fields Doc) {
	b.ops = append(b.ops, memOp{kind: opUpdate, collection: collection, key: key, doc: fields.Clone()})
}

func (b *pgBatch) Create(collection string, doc Doc) {
	b.ops = append(b.ops, memOp{kind: opCreate, collection: collection, key: uuid.NewString(), doc: doc.Clone()})
}

func (b *pgBatch) Commit(ctx context.Context) error {
	return b.store.RunTransaction(ctx, func(tx Tx) error {
		pt := tx.(*pgTx)
		pt.ops = append(pt.ops, b.ops...)
		return nil
	})
}

// retryable reports whether a Postgres error is a transient conflict:
// serialization failure, deadlock, or the unique violation produced when two
// transactions race to create the same document.
func retryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01", "23505":
		return true
	}
	return false
}

func decodeDoc(raw []byte) (Doc, error) {
	var doc Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return doc, nil
}
