// Package keycodec defines the canonical key encoding for primary rows,
// secondary index entries, and uniqueness entries over the ordered KV
// substrate.
package keycodec

import "fmt"

// numPadWidth is the zero-padded width used to normalize number-typed
// index values so lexicographic range scans preserve numeric order.
const numPadWidth = 20

// RangeHighSentinel is appended to a prefix to build the exclusive high end
// of a prefix range scan.
const RangeHighSentinel = "\xFF"

// Record returns the primary-row key for a record.
func Record(collection, id string) string {
	return fmt.Sprintf("%s:%s", collection, id)
}

// RecordPrefix returns the prefix covering every primary row in collection.
func RecordPrefix(collection string) string {
	return collection + ":"
}

// Index returns the secondary-index key for a field/value pair.
func Index(collection, field string, normValue, id string) string {
	return fmt.Sprintf("idx:%s:%s:%s:%s", collection, field, normValue, id)
}

// IndexPrefix returns the prefix covering every index entry for a given
// field value (used by list's filter fast path).
func IndexPrefix(collection, field, normValue string) string {
	return fmt.Sprintf("idx:%s:%s:%s:", collection, field, normValue)
}

// IndexFieldPrefix returns the prefix covering every index entry for a
// field regardless of value.
func IndexFieldPrefix(collection, field string) string {
	return fmt.Sprintf("idx:%s:%s:", collection, field)
}

// Uniqueness returns the uniqueness key for a field/value pair.
func Uniqueness(collection, field, normValue string) string {
	return fmt.Sprintf("uniq:%s:%s:%s", collection, field, normValue)
}

// SchemaKey returns the meta-keyspace key holding a collection's schema.
func SchemaKey(collection string) string {
	return "schema:" + collection
}

// NormValue normalizes a field value for use in an index or uniqueness key.
// Numbers are left-padded to a fixed width so byte-order equals numeric
// order; strings pass through unchanged; other types use their default
// string form.
func NormValue(v any) string {
	switch n := v.(type) {
	case float64:
		return padNumber(n)
	case int:
		return padNumber(float64(n))
	case int64:
		return padNumber(float64(n))
	case string:
		return n
	case bool:
		if n {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// padNumber renders a float64, rounded to an integer, as a fixed-width,
// zero-padded decimal string; for non-negative values byte order equals
// numeric order. Negative numbers get a leading '-', so they sort before
// non-negative ones, but among themselves they sort by magnitude rather
// than in numeric order.
func padNumber(n float64) string {
	if n < 0 {
		// Sign-prefixed representation: not exercised by the current schema
		// set, but keeps NormValue total rather than partial.
		return fmt.Sprintf("-%0*.0f", numPadWidth-1, -n)
	}
	return fmt.Sprintf("%0*.0f", numPadWidth, n)
}
