// Package authz implements row-level authorization: a simple per-collection
// rule string evaluated against the caller's identity and the record being
// acted on.
package authz

import (
	"strings"

	"github.com/bridevmx/nanodb/internal/model"
)

// Action is the kind of access being checked.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Caller describes the authenticated identity making the request, or the
// zero value for an anonymous caller.
type Caller struct {
	UserID        string
	Authenticated bool
}

// rule is a parsed "<field> = @request.user.id" predicate. Only this one
// shape is supported; anything else is treated as "no rule" (allow).
type rule struct {
	field string
}

// Checker evaluates row-level rules parsed once per collection at
// schema-put time.
type Checker struct {
	rules map[string]*rule
}

// New returns an empty Checker; call Register for each collection.
func New() *Checker {
	return &Checker{rules: make(map[string]*rule)}
}

// Register parses a collection's rule string (from its schema's Rule
// field) and stores it for later Allow calls. An empty ruleString clears
// any rule, permitting all access.
func (c *Checker) Register(collection, ruleString string) {
	r := parseRule(ruleString)
	if r == nil {
		delete(c.rules, collection)
		return
	}
	c.rules[collection] = r
}

// parseRule recognizes the single supported predicate shape:
// "<field> = @request.user.id". Anything else parses to nil (no rule).
func parseRule(s string) *rule {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.SplitN(s, "=", 2)
	if len(parts) != 2 {
		return nil
	}
	field := strings.TrimSpace(parts[0])
	rhs := strings.TrimSpace(parts[1])
	if rhs != "@request.user.id" || field == "" {
		return nil
	}
	return &rule{field: field}
}

// Allow reports whether caller may perform action on record. When a rule is
// registered and record is nil (the HTTP layer passes nil for list
// requests), any authenticated caller is allowed; create requests pass the
// request body as record, so the rule is checked against it.
func (c *Checker) Allow(collection string, action Action, record model.Record, caller Caller) bool {
	r, ok := c.rules[collection]
	if !ok {
		return true
	}

	if !caller.Authenticated {
		return false
	}

	if record == nil {
		return true
	}

	owner, _ := record[r.field].(string)
	return owner == caller.UserID
}
