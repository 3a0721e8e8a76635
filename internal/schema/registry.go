// Package schema implements the per-collection field registry: get/put,
// auto-materialization of auth collection schemas, and payload validation.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bridevmx/nanodb/internal/keycodec"
	"github.com/bridevmx/nanodb/internal/kv"
	"github.com/bridevmx/nanodb/internal/model"
	"github.com/bridevmx/nanodb/internal/obs/errors"
)

// Registry reads and writes collection schemas through the meta keyspace,
// caching them in memory since schemas are read-mostly.
type Registry struct {
	store kv.Store

	mu    sync.RWMutex
	cache map[string]*model.Schema
}

// New returns a Registry backed by store.
func New(store kv.Store) *Registry {
	return &Registry{store: store, cache: make(map[string]*model.Schema)}
}

// Get returns the schema for collection, auto-materializing it for the
// auth collection names on first access. Returns (nil, false, nil) if no
// schema exists and collection is not an auth collection.
func (r *Registry) Get(ctx context.Context, collection string) (*model.Schema, bool, error) {
	r.mu.RLock()
	if s, ok := r.cache[collection]; ok {
		r.mu.RUnlock()
		return s, true, nil
	}
	r.mu.RUnlock()

	raw, found, err := r.store.Get(ctx, kv.Meta, keycodec.SchemaKey(collection))
	if err != nil {
		return nil, false, errors.Substrate("schema.get", err)
	}

	if !found {
		if model.IsAuthCollection(collection) {
			s := model.AuthSchema(collection)
			if _, err := r.put(ctx, s, false); err != nil {
				return nil, false, err
			}
			return s, true, nil
		}
		return nil, false, nil
	}

	var s model.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false, errors.Internal("decode schema", err)
	}

	r.mu.Lock()
	r.cache[collection] = &s
	r.mu.Unlock()
	return &s, true, nil
}

// Put persists schema, filling in the three system fields if the caller
// omitted them.
func (r *Registry) Put(ctx context.Context, schema *model.Schema) (*model.Schema, error) {
	return r.put(ctx, schema, true)
}

func (r *Registry) put(ctx context.Context, schema *model.Schema, bypassCacheCheck bool) (*model.Schema, error) {
	full := schema.WithSystemFields()

	raw, err := json.Marshal(full)
	if err != nil {
		return nil, errors.Internal("encode schema", err)
	}

	err = r.store.Batch(ctx, []kv.Op{
		kv.PutOp(kv.Meta, keycodec.SchemaKey(full.Collection), raw),
	})
	if err != nil {
		return nil, errors.Substrate("schema.put", err)
	}

	r.mu.Lock()
	r.cache[full.Collection] = full
	r.mu.Unlock()

	return full, nil
}

// Validate enforces required-field presence and scalar type matching for
// record against schema. System fields are not type-checked here.
func Validate(schema *model.Schema, record model.Record) []model.ValidationIssue {
	var issues []model.ValidationIssue

	for _, f := range schema.Fields {
		if f.Type == model.FieldSystem {
			continue
		}

		v, present := record[f.Name]
		empty := !present || v == nil || v == ""

		if f.Required && empty {
			issues = append(issues, model.ValidationIssue{Field: f.Name, Message: "required field is missing"})
			continue
		}
		if empty {
			continue
		}

		if msg := typeMismatch(f, v); msg != "" {
			issues = append(issues, model.ValidationIssue{Field: f.Name, Message: msg})
		}
	}

	return issues
}

func typeMismatch(f model.Field, v any) string {
	switch f.Type {
	case model.FieldString:
		if _, ok := v.(string); !ok {
			return fmt.Sprintf("expected string, got %T", v)
		}
	case model.FieldNumber:
		switch v.(type) {
		case float64, int, int64:
		default:
			return fmt.Sprintf("expected number, got %T", v)
		}
	case model.FieldBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("expected boolean, got %T", v)
		}
	}
	return ""
}
