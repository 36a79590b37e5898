// Package store defines the document model and storage contract: tables of
// documents with generated ids, server-stamped system timestamps, and ordered
// secondary indexes. Every mutating call is a single atomic unit; committed
// mutations are announced to registered listeners in commit order so live
// query layers can invalidate precisely.
package store

import (
	"context"
	"time"
)

// System field names usable in index definitions. Their values are stamped
// by the store at write time and never client-supplied.
const (
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Document is a single stored record. Documents are immutable-by-replacement:
// a replace writes a whole new field map under the same id.
type Document struct {
	Table     string
	ID        string
	Fields    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
	// Seq is the commit sequence assigned at insert time. It breaks
	// createdAt ties so index iteration order is deterministic.
	Seq uint64
}

// Field returns a string field value, or "" when absent or not a string.
func (d Document) Field(name string) string {
	value, _ := d.Fields[name].(string)
	return value
}

// Order is the iteration direction of a scan.
type Order int

const (
	// OrderAsc iterates from the lowest index key upward.
	OrderAsc Order = iota
	// OrderDesc iterates from the highest index key downward.
	OrderDesc
)

// ScanSpec describes a range read over a secondary index.
type ScanSpec struct {
	Table string
	Index string
	// Start is the inclusive lower bound in encoded index-key space;
	// nil means unbounded.
	Start []byte
	// End is the exclusive upper bound; nil means unbounded.
	End   []byte
	Order Order
	// Limit caps the number of documents returned; 0 means no cap.
	Limit int
}

// ScanResult is the outcome of a scan: the documents in iteration order, the
// dependency range the read covered, and the commit sequence it reflects.
type ScanResult struct {
	Docs []Document
	// Deps is the index-key range whose mutations can change this result.
	// It is wider than the keys returned: a scan that filled its limit
	// still depends on keys that would displace an entry, and a scan that
	// exhausted the index depends on the whole remaining range.
	Deps KeyRange
	Seq  uint64
}

// CommitEvent announces one committed mutation: the commit sequence, the
// table, and every point and index key the mutation touched.
type CommitEvent struct {
	Seq   uint64
	Table string
	Keys  []Key
}

// CommitListener receives committed mutations in commit order per table.
// Implementations must return quickly; they run on the mutating goroutine.
type CommitListener interface {
	CommitApplied(CommitEvent)
}

// Notifier registers listeners for committed mutations.
type Notifier interface {
	AddCommitListener(CommitListener)
}

// Store is the document storage contract.
type Store interface {
	// Insert assigns a fresh id, stamps system fields, and writes the
	// document and all index entries atomically.
	Insert(ctx context.Context, table string, fields map[string]any) (Document, error)
	// Get is a point lookup; a missing id is not an error.
	Get(ctx context.Context, table, id string) (Document, bool, error)
	// Replace swaps the field map of an existing document, restamping
	// updatedAt and fixing index entries atomically.
	Replace(ctx context.Context, table, id string, fields map[string]any) (Document, error)
	// Delete removes the document and its index entries atomically.
	Delete(ctx context.Context, table, id string) error
	// Scan is an ordered range read over a secondary index.
	Scan(ctx context.Context, spec ScanSpec) (ScanResult, error)
	// CommitSeq reports the latest committed mutation sequence.
	CommitSeq(ctx context.Context) (uint64, error)
}
