// Package model defines the record and schema shapes shared by the schema
// registry, indexer, and engine.
package model

import "fmt"

// FieldType is the declared primitive type of a schema field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldSystem  FieldType = "system"
)

// Field describes one column of a collection's schema.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
	Unique   bool      `json:"unique,omitempty"`
	Indexed  bool      `json:"indexed,omitempty"`
	Private  bool      `json:"private,omitempty"`
	Default  any       `json:"default,omitempty"`
}

// Schema is the ordered list of field descriptors for a collection. The
// three system fields (id, created, updated) are always present; Put
// fills them in when the caller omits them.
type Schema struct {
	Collection string  `json:"collection"`
	Fields     []Field `json:"fields"`
	// Rule is an optional row-level authorization predicate string,
	// e.g. "owner_id = @request.user.id", parsed once at put time by
	// the authorization glue. The engine does not interpret it.
	Rule string `json:"rule,omitempty"`
}

// SystemFields every schema carries regardless of what the caller declared.
func SystemFields() []Field {
	return []Field{
		{Name: "id", Type: FieldSystem},
		{Name: "created", Type: FieldSystem},
		{Name: "updated", Type: FieldSystem, Indexed: true},
	}
}

// Field looks up a field descriptor by name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// IndexedFields returns every field flagged indexed, system fields included.
func (s *Schema) IndexedFields() []Field {
	var out []Field
	for _, f := range s.Fields {
		if f.Indexed {
			out = append(out, f)
		}
	}
	return out
}

// UniqueFields returns every field flagged unique.
func (s *Schema) UniqueFields() []Field {
	var out []Field
	for _, f := range s.Fields {
		if f.Unique {
			out = append(out, f)
		}
	}
	return out
}

// WithSystemFields returns a copy of the schema with id/created/updated
// prepended if the caller's field list omitted them.
func (s *Schema) WithSystemFields() *Schema {
	out := &Schema{Collection: s.Collection, Rule: s.Rule}
	have := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		have[f.Name] = true
	}
	for _, f := range SystemFields() {
		if !have[f.Name] {
			out.Fields = append(out.Fields, f)
		}
	}
	out.Fields = append(out.Fields, s.Fields...)
	return out
}

// AuthSchema returns the auto-materialized schema for an authentication
// collection: email (required, indexed, unique) and password (required,
// private).
func AuthSchema(collection string) *Schema {
	return (&Schema{
		Collection: collection,
		Fields: []Field{
			{Name: "email", Type: FieldString, Required: true, Indexed: true, Unique: true},
			{Name: "password", Type: FieldString, Required: true, Private: true},
		},
	}).WithSystemFields()
}

// IsAuthCollection reports whether collection is one of the names that get
// an auto-materialized auth schema.
func IsAuthCollection(collection string) bool {
	return collection == "users" || collection == "_superusers"
}

// Record is a mapping from field name to value. It always carries id,
// created, updated, and _version once persisted.
type Record map[string]any

// ID returns the record's id field, or "" if absent/not a string.
func (r Record) ID() string {
	return r.stringField("id")
}

func (r Record) stringField(name string) string {
	v, ok := r[name]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Version returns the record's _version field as an int64, or 0 if absent.
func (r Record) Version() int64 {
	v, ok := r["_version"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Sanitize returns a copy of r with every field flagged private in schema
// removed. The raw read used internally for update/delete diffing must not
// call this.
func Sanitize(r Record, schema *Schema) Record {
	if r == nil {
		return nil
	}
	out := r.Clone()
	if schema == nil {
		return out
	}
	for _, f := range schema.Fields {
		if f.Private {
			delete(out, f.Name)
		}
	}
	return out
}

// ValidationIssue describes one field that failed schema validation.
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}
