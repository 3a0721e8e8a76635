package engine

import (
	"encoding/json"

	"github.com/bridevmx/nanodb/internal/model"
)

// encodeRecord serializes a record for the main keyspace. Panics never
// occur in practice: a model.Record is always built from JSON-decoded
// request bodies or this same codec, so every value is JSON-marshalable.
func encodeRecord(r model.Record) []byte {
	b, err := json.Marshal(r)
	if err != nil {
		// A record holding a non-JSON-marshalable value is a caller bug,
		// not a runtime condition this codec can recover from.
		panic("engine: record not marshalable: " + err.Error())
	}
	return b
}

func decodeRecord(raw []byte) (model.Record, error) {
	var r model.Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return r, nil
}
