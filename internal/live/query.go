// Package live turns point and range reads into subscriptions: a query is
// registered once, recomputed when a committed mutation lands inside its
// dependency range, and every subscriber of the same query shares one
// recompute. Subscribers receive coalesced snapshots, never a partial state.
package live

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/louisbranch/tidepool/internal/store"
)

// Query is a deterministic read whose result can be kept live. Two queries
// with the same Key must compute the same result, so they can share one
// registration.
type Query interface {
	// Key identifies the query for registration sharing.
	Key() string
	// Compute runs the read and reports the documents, the dependency
	// range, and the commit sequence the read reflects.
	Compute(ctx context.Context, s store.Store) (store.ScanResult, error)
}

// ScanQuery keeps an index range read live.
type ScanQuery struct {
	Spec store.ScanSpec
}

// Key implements Query.
func (q ScanQuery) Key() string {
	return fmt.Sprintf("scan:%s:%s:%s:%s:%d:%d",
		q.Spec.Table, q.Spec.Index,
		hex.EncodeToString(q.Spec.Start), hex.EncodeToString(q.Spec.End),
		q.Spec.Order, q.Spec.Limit)
}

// Compute implements Query.
func (q ScanQuery) Compute(ctx context.Context, s store.Store) (store.ScanResult, error) {
	return s.Scan(ctx, q.Spec)
}

// PointQuery keeps a single-document lookup live. A missing document is a
// valid result with zero documents, not an error, so subscribers observe
// deletion as an empty snapshot.
type PointQuery struct {
	Table string
	ID    string
}

// Key implements Query.
func (q PointQuery) Key() string {
	return fmt.Sprintf("point:%s:%s", q.Table, q.ID)
}

// Compute implements Query. The commit sequence is read before the document
// so the snapshot sequence never claims more than the read observed.
func (q PointQuery) Compute(ctx context.Context, s store.Store) (store.ScanResult, error) {
	seq, err := s.CommitSeq(ctx)
	if err != nil {
		return store.ScanResult{}, err
	}
	doc, found, err := s.Get(ctx, q.Table, q.ID)
	if err != nil {
		return store.ScanResult{}, err
	}
	result := store.ScanResult{
		Deps: store.PointRange(q.Table, q.ID),
		Seq:  seq,
	}
	if found {
		result.Docs = []store.Document{doc}
	}
	return result, nil
}
