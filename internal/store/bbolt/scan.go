package bbolt

import (
	"bytes"
	"context"
	"fmt"

	apperrors "github.com/louisbranch/tidepool/internal/errors"
	"github.com/louisbranch/tidepool/internal/store"
	"go.etcd.io/bbolt"
)

// Scan iterates the index bucket in key order, resolves index entries to
// documents, and records the dependency range of the read. The documents,
// the range, and the commit sequence come from one View transaction so the
// result is a consistent snapshot.
func (s *Store) Scan(ctx context.Context, spec store.ScanSpec) (store.ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return store.ScanResult{}, err
	}

	decl, ok := s.schema.Table(spec.Table)
	if !ok {
		return store.ScanResult{}, apperrors.WithMetadata(apperrors.CodeSchemaUnknownTable,
			fmt.Sprintf("unknown table %q", spec.Table),
			map[string]string{"Table": spec.Table})
	}
	if _, ok := decl.Index(spec.Index); !ok {
		return store.ScanResult{}, apperrors.WithMetadata(apperrors.CodeSchemaUnknownIndex,
			fmt.Sprintf("table %q: unknown index %q", spec.Table, spec.Index),
			map[string]string{"Table": spec.Table, "Index": spec.Index})
	}

	result := store.ScanResult{
		Deps: store.KeyRange{
			Table: spec.Table,
			Index: spec.Index,
			Start: spec.Start,
			End:   spec.End,
		},
	}

	err := s.db.View(func(tx *bbolt.Tx) error {
		result.Seq = readSeq(tx)

		index := tx.Bucket(indexBucket(spec.Table, spec.Index))
		if index == nil {
			return fmt.Errorf("index bucket %q for %q is missing", spec.Index, spec.Table)
		}
		docs := tx.Bucket(docBucket(spec.Table))
		if docs == nil {
			return fmt.Errorf("document bucket for %q is missing", spec.Table)
		}

		resolve := func(key, value []byte) error {
			payload := docs.Get(value)
			if payload == nil {
				return fmt.Errorf("index entry for %q points at missing document %q", spec.Index, value)
			}
			doc, err := decodeDocument(spec.Table, decl, payload)
			if err != nil {
				return err
			}
			result.Docs = append(result.Docs, doc)
			return nil
		}

		cursor := index.Cursor()
		if spec.Order == store.OrderDesc {
			for k, v := last(cursor, spec.End); k != nil; k, v = cursor.Prev() {
				if spec.Start != nil && bytes.Compare(k, spec.Start) < 0 {
					break
				}
				if err := resolve(k, v); err != nil {
					return err
				}
				if spec.Limit > 0 && len(result.Docs) == spec.Limit {
					// A smaller key can still enter the result only by
					// displacing the smallest one read, so the lower
					// dependency bound tightens to that key.
					result.Deps.Start = append([]byte{}, k...)
					break
				}
			}
		} else {
			for k, v := first(cursor, spec.Start); k != nil; k, v = cursor.Next() {
				if spec.End != nil && bytes.Compare(k, spec.End) >= 0 {
					break
				}
				if err := resolve(k, v); err != nil {
					return err
				}
				if spec.Limit > 0 && len(result.Docs) == spec.Limit {
					// Keys past the last one read cannot change a filled
					// ascending page, so the upper dependency bound
					// tightens to just above that key.
					result.Deps.End = append(append([]byte{}, k...), 0x00)
					break
				}
			}
		}
		// An unfilled limit means the scan exhausted the range; the
		// dependency range stays as wide as the request.
		return nil
	})
	if err != nil {
		return store.ScanResult{}, err
	}
	return result, nil
}

// first positions a cursor at the inclusive lower bound.
func first(cursor *bbolt.Cursor, start []byte) ([]byte, []byte) {
	if start == nil {
		return cursor.First()
	}
	return cursor.Seek(start)
}

// last positions a cursor at the greatest key below the exclusive upper
// bound.
func last(cursor *bbolt.Cursor, end []byte) ([]byte, []byte) {
	if end == nil {
		return cursor.Last()
	}
	k, _ := cursor.Seek(end)
	if k == nil {
		return cursor.Last()
	}
	return cursor.Prev()
}
