// Package index computes secondary and uniqueness index batch operations
// and checks uniqueness constraints ahead of a write.
package index

import (
	"context"

	"github.com/bridevmx/nanodb/internal/keycodec"
	"github.com/bridevmx/nanodb/internal/kv"
	"github.com/bridevmx/nanodb/internal/model"
	"github.com/bridevmx/nanodb/internal/obs/errors"
)

// Diff computes the index batch ops needed to transition id's indexed
// state from oldRecord to newRecord. Either record may be nil (create
// passes a nil old, delete passes a nil new). Only fields flagged indexed
// whose old and new normalized values differ produce ops.
func Diff(collection, id string, newRecord, oldRecord model.Record, schema *model.Schema) []kv.Op {
	var ops []kv.Op

	for _, f := range schema.IndexedFields() {
		oldVal, oldPresent := fieldValue(oldRecord, f.Name)
		newVal, newPresent := fieldValue(newRecord, f.Name)

		if oldPresent && newPresent && keycodec.NormValue(oldVal) == keycodec.NormValue(newVal) {
			continue
		}

		if oldPresent {
			norm := keycodec.NormValue(oldVal)
			ops = append(ops, kv.DelOp(kv.Indexes, keycodec.Index(collection, f.Name, norm, id)))
			if f.Unique {
				ops = append(ops, kv.DelOp(kv.Indexes, keycodec.Uniqueness(collection, f.Name, norm)))
			}
		}
		if newPresent {
			norm := keycodec.NormValue(newVal)
			ops = append(ops, kv.PutOp(kv.Indexes, keycodec.Index(collection, f.Name, norm, id), []byte(id)))
			if f.Unique {
				ops = append(ops, kv.PutOp(kv.Indexes, keycodec.Uniqueness(collection, f.Name, norm), []byte(id)))
			}
		}
	}

	return ops
}

// CheckUniqueness fails with UniquenessViolation if any unique field of
// newRecord collides with an existing record other than excludingID.
func CheckUniqueness(ctx context.Context, store kv.Store, collection string, newRecord model.Record, schema *model.Schema, excludingID string) error {
	for _, f := range schema.UniqueFields() {
		val, present := fieldValue(newRecord, f.Name)
		if !present {
			continue
		}

		norm := keycodec.NormValue(val)
		key := keycodec.Uniqueness(collection, f.Name, norm)

		raw, found, err := store.Get(ctx, kv.Indexes, key)
		if err != nil {
			return errors.Substrate("index.checkUniqueness", err)
		}
		if !found {
			continue
		}

		ownerID := string(raw)
		if ownerID != excludingID {
			return errors.Uniqueness(collection, f.Name, val)
		}
	}
	return nil
}

func fieldValue(r model.Record, name string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// ListPrefixForFilter returns the index-prefix range to scan for entries
// whose filterField equals filterValue, and whether filterField is an
// indexed field of schema. filterValue is normalized with
// keycodec.NormValue before the prefix is built.
func ListPrefixForFilter(collection string, schema *model.Schema, filterField string, filterValue any) (string, string, bool) {
	f, ok := schema.Field(filterField)
	if !ok || !f.Indexed {
		return "", "", false
	}
	norm := keycodec.NormValue(filterValue)
	prefix := keycodec.IndexPrefix(collection, filterField, norm)
	return prefix, prefix + keycodec.RangeHighSentinel, true
}

// IDFromIndexEntry extracts the record id from an index entry's stored
// value.
func IDFromIndexEntry(value []byte) string {
	return string(value)
}
