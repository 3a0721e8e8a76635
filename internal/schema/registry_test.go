package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bridevmx/nanodb/internal/kv"
	"github.com/bridevmx/nanodb/internal/model"
)

func TestRegistry_PutThenGet(t *testing.T) {
	r := New(kv.NewMemoryStore())
	ctx := context.Background()

	in := &model.Schema{
		Collection: "posts",
		Fields: []model.Field{
			{Name: "title", Type: model.FieldString, Required: true},
			{Name: "owner_id", Type: model.FieldString, Indexed: true},
		},
	}
	_, err := r.Put(ctx, in)
	require.NoError(t, err)

	got, found, err := r.Get(ctx, "posts")
	require.NoError(t, err)
	require.True(t, found)

	_, ok := got.Field("id")
	require.True(t, ok, "system fields must be filled in")
	_, ok = got.Field("title")
	require.True(t, ok)
}

func TestRegistry_AutoMaterializesAuthSchema(t *testing.T) {
	r := New(kv.NewMemoryStore())
	ctx := context.Background()

	got, found, err := r.Get(ctx, "users")
	require.NoError(t, err)
	require.True(t, found)

	email, ok := got.Field("email")
	require.True(t, ok)
	require.True(t, email.Required)
	require.True(t, email.Unique)
	require.True(t, email.Indexed)

	password, ok := got.Field("password")
	require.True(t, ok)
	require.True(t, password.Private)
}

func TestRegistry_GetUnknownNonAuthCollectionReturnsNotFound(t *testing.T) {
	r := New(kv.NewMemoryStore())
	_, found, err := r.Get(context.Background(), "widgets")
	require.NoError(t, err)
	require.False(t, found)
}

func TestValidate_RequiredFieldMissing(t *testing.T) {
	s := &model.Schema{Fields: []model.Field{
		{Name: "title", Type: model.FieldString, Required: true},
	}}
	issues := Validate(s, model.Record{})
	require.Len(t, issues, 1)
	require.Equal(t, "title", issues[0].Field)
}

func TestValidate_TypeMismatch(t *testing.T) {
	s := &model.Schema{Fields: []model.Field{
		{Name: "count", Type: model.FieldNumber},
	}}
	issues := Validate(s, model.Record{"count": "not a number"})
	require.Len(t, issues, 1)
}

func TestValidate_SystemFieldsSkipped(t *testing.T) {
	s := &model.Schema{Fields: model.SystemFields()}
	issues := Validate(s, model.Record{})
	require.Empty(t, issues)
}

func TestValidate_Passes(t *testing.T) {
	s := &model.Schema{Fields: []model.Field{
		{Name: "title", Type: model.FieldString, Required: true},
		{Name: "votes", Type: model.FieldNumber},
		{Name: "active", Type: model.FieldBoolean},
	}}
	issues := Validate(s, model.Record{"title": "a", "votes": float64(3), "active": true})
	require.Empty(t, issues)
}
