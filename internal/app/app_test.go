package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bridevmx/nanodb/internal/authz"
	"github.com/bridevmx/nanodb/internal/model"
)

func TestApplication_WiresCollaboratorsAndServesHealth(t *testing.T) {
	a, err := newTestApplication(t)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	rec := httptest.NewRecorder()
	a.HTTP.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestApplication_PutSchemaRegistersAuthzRule(t *testing.T) {
	a, err := newTestApplication(t)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	ctx := context.Background()
	_, err = a.PutSchema(ctx, &model.Schema{
		Collection: "notes",
		Fields:     []model.Field{{Name: "owner_id", Type: model.FieldString, Required: true}},
		Rule:       "owner_id = @request.user.id",
	})
	require.NoError(t, err)

	rec, err := a.Engine.Create(ctx, "notes", model.Record{"owner_id": "u1"})
	require.NoError(t, err)

	require.False(t, a.Authz.Allow("notes", authz.ActionRead, rec, authz.Caller{UserID: "u1", Authenticated: false}))
	require.True(t, a.Authz.Allow("notes", authz.ActionRead, rec, authz.Caller{UserID: "u1", Authenticated: true}))
}

func newTestApplication(t *testing.T) (*Application, error) {
	t.Helper()
	return New(Config{SQLitePath: ""})
}
