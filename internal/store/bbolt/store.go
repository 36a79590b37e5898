// Package bbolt provides a BoltDB-backed document store with secondary
// index maintenance. Each table gets one document bucket and one bucket per
// index; every mutating call runs in a single bolt transaction so readers
// never observe a partially applied mutation.
package bbolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/tidepool/internal/errors"
	"github.com/louisbranch/tidepool/internal/platform/id"
	"github.com/louisbranch/tidepool/internal/store"
	"go.etcd.io/bbolt"
)

const (
	metaBucket = "meta"
	seqKey     = "seq"
)

func docBucket(table string) []byte {
	return []byte("doc:" + table)
}

func indexBucket(table, index string) []byte {
	return []byte("idx:" + table + ":" + index)
}

// Store provides a BoltDB-backed document store.
type Store struct {
	db     *bbolt.DB
	schema *store.Schema

	// tableMu serializes mutations per table so index maintenance and
	// commit notifications stay in commit order.
	tableMu map[string]*sync.Mutex

	// stampMu guards the monotonically non-decreasing write clock.
	stampMu   sync.Mutex
	lastStamp time.Time
	clock     func() time.Time

	idGenerator func() (string, error)

	listenersMu sync.RWMutex
	listeners   []store.CommitListener
}

// Option configures store behavior.
type Option func(*Store)

// WithClock overrides the write clock, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIDGenerator overrides document id generation, primarily for tests.
func WithIDGenerator(generator func() (string, error)) Option {
	return func(s *Store) {
		if generator != nil {
			s.idGenerator = generator
		}
	}
}

// Open opens a BoltDB-backed store at the provided path and ensures buckets
// for every declared table and index.
func Open(path string, schema *store.Schema, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if schema == nil {
		return nil, fmt.Errorf("schema is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	s := &Store{
		db:          db,
		schema:      schema,
		tableMu:     make(map[string]*sync.Mutex),
		clock:       time.Now,
		idGenerator: id.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, table := range schema.TableNames() {
		s.tableMu[table] = &sync.Mutex{}
	}

	if err := s.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AddCommitListener registers a listener for committed mutations.
func (s *Store) AddCommitListener(listener store.CommitListener) {
	if s == nil || listener == nil {
		return
	}
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, listener)
	s.listenersMu.Unlock()
}

// Insert assigns a fresh id, stamps system fields from the store clock, and
// writes the document and all its index entries in one transaction.
func (s *Store) Insert(ctx context.Context, table string, fields map[string]any) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, err
	}

	normalized, err := s.schema.ValidateFields(table, fields)
	if err != nil {
		return store.Document{}, err
	}
	decl, _ := s.schema.Table(table)

	docID, err := s.idGenerator()
	if err != nil {
		return store.Document{}, fmt.Errorf("generate document id: %w", err)
	}
	stamp := s.nextStamp()

	doc := store.Document{
		Table:     table,
		ID:        docID,
		Fields:    normalized,
		CreatedAt: stamp,
		UpdatedAt: stamp,
	}

	err = s.mutate(table, func(tx *bbolt.Tx, seq uint64) ([]store.Key, error) {
		doc.Seq = seq

		payload, err := encodeDocument(doc)
		if err != nil {
			return nil, err
		}
		docs := tx.Bucket(docBucket(table))
		if docs == nil {
			return nil, fmt.Errorf("document bucket for %q is missing", table)
		}
		if err := docs.Put([]byte(doc.ID), payload); err != nil {
			return nil, fmt.Errorf("put document: %w", err)
		}

		touched := []store.Key{store.PointKey(table, doc.ID)}
		for _, idx := range decl.Indexes {
			key, err := store.EncodeIndexKey(decl, idx, doc)
			if err != nil {
				return nil, err
			}
			bucket := tx.Bucket(indexBucket(table, idx.Name))
			if bucket == nil {
				return nil, fmt.Errorf("index bucket %q for %q is missing", idx.Name, table)
			}
			if err := bucket.Put(key, []byte(doc.ID)); err != nil {
				return nil, fmt.Errorf("put index entry: %w", err)
			}
			touched = append(touched, store.Key{Table: table, Index: idx.Name, K: key})
		}
		return touched, nil
	})
	if err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

// Get fetches a document by id. A missing id returns found=false, not an error.
func (s *Store) Get(ctx context.Context, table, docID string) (store.Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, false, err
	}
	decl, ok := s.schema.Table(table)
	if !ok {
		return store.Document{}, false, apperrors.WithMetadata(apperrors.CodeSchemaUnknownTable,
			fmt.Sprintf("unknown table %q", table),
			map[string]string{"Table": table})
	}

	var doc store.Document
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(docBucket(table))
		if docs == nil {
			return fmt.Errorf("document bucket for %q is missing", table)
		}
		payload := docs.Get([]byte(docID))
		if payload == nil {
			return nil
		}
		decoded, err := decodeDocument(table, decl, payload)
		if err != nil {
			return err
		}
		doc = decoded
		found = true
		return nil
	})
	if err != nil {
		return store.Document{}, false, err
	}
	return doc, found, nil
}

// Replace swaps the field map of an existing document, restamps updatedAt,
// and rewrites index entries in one transaction. createdAt and the insert
// sequence are preserved so createdAt-ordered indexes keep their position.
func (s *Store) Replace(ctx context.Context, table, docID string, fields map[string]any) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, err
	}

	normalized, err := s.schema.ValidateFields(table, fields)
	if err != nil {
		return store.Document{}, err
	}
	decl, _ := s.schema.Table(table)

	var replaced store.Document
	err = s.mutate(table, func(tx *bbolt.Tx, seq uint64) ([]store.Key, error) {
		docs := tx.Bucket(docBucket(table))
		if docs == nil {
			return nil, fmt.Errorf("document bucket for %q is missing", table)
		}
		payload := docs.Get([]byte(docID))
		if payload == nil {
			return nil, notFound(table, docID)
		}
		existing, err := decodeDocument(table, decl, payload)
		if err != nil {
			return nil, err
		}

		replaced = existing
		replaced.Fields = normalized
		replaced.UpdatedAt = s.nextStamp()

		encoded, err := encodeDocument(replaced)
		if err != nil {
			return nil, err
		}
		if err := docs.Put([]byte(docID), encoded); err != nil {
			return nil, fmt.Errorf("put document: %w", err)
		}

		touched := []store.Key{store.PointKey(table, docID)}
		for _, idx := range decl.Indexes {
			oldKey, err := store.EncodeIndexKey(decl, idx, existing)
			if err != nil {
				return nil, err
			}
			newKey, err := store.EncodeIndexKey(decl, idx, replaced)
			if err != nil {
				return nil, err
			}
			if bytes.Equal(oldKey, newKey) {
				continue
			}
			bucket := tx.Bucket(indexBucket(table, idx.Name))
			if bucket == nil {
				return nil, fmt.Errorf("index bucket %q for %q is missing", idx.Name, table)
			}
			if err := bucket.Delete(oldKey); err != nil {
				return nil, fmt.Errorf("delete index entry: %w", err)
			}
			if err := bucket.Put(newKey, []byte(docID)); err != nil {
				return nil, fmt.Errorf("put index entry: %w", err)
			}
			touched = append(touched,
				store.Key{Table: table, Index: idx.Name, K: oldKey},
				store.Key{Table: table, Index: idx.Name, K: newKey})
		}
		return touched, nil
	})
	if err != nil {
		return store.Document{}, err
	}
	return replaced, nil
}

// Delete removes a document and all its index entries in one transaction.
// Deleting an absent id fails with NOT_FOUND; the removal is never a silent
// no-op.
func (s *Store) Delete(ctx context.Context, table, docID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	decl, ok := s.schema.Table(table)
	if !ok {
		return apperrors.WithMetadata(apperrors.CodeSchemaUnknownTable,
			fmt.Sprintf("unknown table %q", table),
			map[string]string{"Table": table})
	}

	return s.mutate(table, func(tx *bbolt.Tx, seq uint64) ([]store.Key, error) {
		docs := tx.Bucket(docBucket(table))
		if docs == nil {
			return nil, fmt.Errorf("document bucket for %q is missing", table)
		}
		payload := docs.Get([]byte(docID))
		if payload == nil {
			return nil, notFound(table, docID)
		}
		doc, err := decodeDocument(table, decl, payload)
		if err != nil {
			return nil, err
		}
		if err := docs.Delete([]byte(docID)); err != nil {
			return nil, fmt.Errorf("delete document: %w", err)
		}

		touched := []store.Key{store.PointKey(table, docID)}
		for _, idx := range decl.Indexes {
			key, err := store.EncodeIndexKey(decl, idx, doc)
			if err != nil {
				return nil, err
			}
			bucket := tx.Bucket(indexBucket(table, idx.Name))
			if bucket == nil {
				return nil, fmt.Errorf("index bucket %q for %q is missing", idx.Name, table)
			}
			if err := bucket.Delete(key); err != nil {
				return nil, fmt.Errorf("delete index entry: %w", err)
			}
			touched = append(touched, store.Key{Table: table, Index: idx.Name, K: key})
		}
		return touched, nil
	})
}

// CommitSeq reports the latest committed mutation sequence.
func (s *Store) CommitSeq(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var seq uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		seq = readSeq(tx)
		return nil
	})
	return seq, err
}

// mutate runs fn in a bolt update transaction under the per-table write lock,
// assigns the commit sequence, and announces touched keys to listeners after
// the transaction commits. Holding the table lock through notification keeps
// per-table events in commit order.
func (s *Store) mutate(table string, fn func(tx *bbolt.Tx, seq uint64) ([]store.Key, error)) error {
	mu, ok := s.tableMu[table]
	if !ok {
		return apperrors.WithMetadata(apperrors.CodeSchemaUnknownTable,
			fmt.Sprintf("unknown table %q", table),
			map[string]string{"Table": table})
	}
	mu.Lock()
	defer mu.Unlock()

	var seq uint64
	var touched []store.Key
	err := s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(metaBucket))
		if meta == nil {
			return fmt.Errorf("meta bucket is missing")
		}
		seq = readSeq(tx) + 1
		keys, err := fn(tx, seq)
		if err != nil {
			return err
		}
		touched = keys
		return meta.Put([]byte(seqKey), binary.BigEndian.AppendUint64(nil, seq))
	})
	if err != nil {
		return err
	}

	event := store.CommitEvent{Seq: seq, Table: table, Keys: touched}
	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()
	for _, listener := range listeners {
		listener.CommitApplied(event)
	}
	return nil
}

// nextStamp returns the write timestamp: wall clock, millisecond precision,
// never decreasing across calls.
func (s *Store) nextStamp() time.Time {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()
	now := s.clock().UTC().Truncate(time.Millisecond)
	if now.Before(s.lastStamp) {
		now = s.lastStamp
	}
	s.lastStamp = now
	return now
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(metaBucket)); err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		for _, table := range s.schema.TableNames() {
			if _, err := tx.CreateBucketIfNotExists(docBucket(table)); err != nil {
				return fmt.Errorf("create document bucket for %q: %w", table, err)
			}
			decl, _ := s.schema.Table(table)
			for _, idx := range decl.Indexes {
				if _, err := tx.CreateBucketIfNotExists(indexBucket(table, idx.Name)); err != nil {
					return fmt.Errorf("create index bucket %q for %q: %w", idx.Name, table, err)
				}
			}
		}
		return nil
	})
}

func readSeq(tx *bbolt.Tx) uint64 {
	meta := tx.Bucket([]byte(metaBucket))
	if meta == nil {
		return 0
	}
	raw := meta.Get([]byte(seqKey))
	if len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

func notFound(table, docID string) error {
	return apperrors.WithMetadata(apperrors.CodeNotFound,
		fmt.Sprintf("table %q: document %q not found", table, docID),
		map[string]string{"Table": table, "ID": docID})
}

// docRecord is the persisted JSON form of a document.
type docRecord struct {
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
	Seq       uint64         `json:"seq"`
}

func encodeDocument(doc store.Document) ([]byte, error) {
	payload, err := json.Marshal(docRecord{
		ID:        doc.ID,
		Fields:    doc.Fields,
		CreatedAt: doc.CreatedAt.UnixMilli(),
		UpdatedAt: doc.UpdatedAt.UnixMilli(),
		Seq:       doc.Seq,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return payload, nil
}

func decodeDocument(table string, decl store.TableSchema, payload []byte) (store.Document, error) {
	var record docRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return store.Document{}, fmt.Errorf("unmarshal document: %w", err)
	}

	// JSON turns integers into float64; restore declared field types.
	fields := make(map[string]any, len(record.Fields))
	for name, value := range record.Fields {
		if fieldType, ok := decl.Fields[name]; ok && fieldType == store.FieldTypeInt {
			if v, ok := value.(float64); ok {
				fields[name] = int64(v)
				continue
			}
		}
		fields[name] = value
	}

	return store.Document{
		Table:     table,
		ID:        record.ID,
		Fields:    fields,
		CreatedAt: time.UnixMilli(record.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(record.UpdatedAt).UTC(),
		Seq:       record.Seq,
	}, nil
}
