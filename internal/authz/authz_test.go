package authz

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bridevmx/nanodb/internal/model"
)

func TestChecker_AllowsEverythingWithNoRule(t *testing.T) {
	c := New()
	require.True(t, c.Allow("posts", ActionRead, model.Record{"owner_id": "u1"}, Caller{}))
}

func TestChecker_DeniesAnonymousCallerWhenRuleRegistered(t *testing.T) {
	c := New()
	c.Register("posts", "owner_id = @request.user.id")

	require.False(t, c.Allow("posts", ActionUpdate, model.Record{"owner_id": "u1"}, Caller{}))
}

func TestChecker_AllowsMatchingOwner(t *testing.T) {
	c := New()
	c.Register("posts", "owner_id = @request.user.id")

	caller := Caller{UserID: "u1", Authenticated: true}
	require.True(t, c.Allow("posts", ActionUpdate, model.Record{"owner_id": "u1"}, caller))
}

func TestChecker_DeniesNonMatchingOwner(t *testing.T) {
	c := New()
	c.Register("posts", "owner_id = @request.user.id")

	caller := Caller{UserID: "u2", Authenticated: true}
	require.False(t, c.Allow("posts", ActionUpdate, model.Record{"owner_id": "u1"}, caller))
}

func TestChecker_UnrecognizedRuleShapeIsIgnored(t *testing.T) {
	c := New()
	c.Register("posts", "some nonsense rule")

	require.True(t, c.Allow("posts", ActionRead, model.Record{"owner_id": "u1"}, Caller{}))
}

func TestChecker_RegisterEmptyStringClearsRule(t *testing.T) {
	c := New()
	c.Register("posts", "owner_id = @request.user.id")
	c.Register("posts", "")

	require.True(t, c.Allow("posts", ActionRead, model.Record{"owner_id": "u1"}, Caller{}))
}

func TestChecker_NilRecordAllowsPreExistenceCheck(t *testing.T) {
	c := New()
	c.Register("posts", "owner_id = @request.user.id")

	caller := Caller{UserID: "u1", Authenticated: true}
	require.True(t, c.Allow("posts", ActionCreate, nil, caller))
}
