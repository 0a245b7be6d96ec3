//go:build integration

package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/queryglass-ai/queryglass-engine/pkg/config"
	"github.com/queryglass-ai/queryglass-engine/pkg/services"
	"github.com/queryglass-ai/queryglass-engine/pkg/testhelpers"
)

func newIntegrationSchemaService(t *testing.T) services.SchemaService {
	t.Helper()
	testDB := testhelpers.GetTestDB(t)
	cfg := config.SchemaConfig{
		CacheTTLSeconds:     3600,
		EnableVersioning:    true,
		VersionHistoryLimit: 10,
	}
	return services.NewSchemaService(testDB.Pool, cfg, "analytics_test", zap.NewNop())
}

func TestSchemaService_BuildsSnapshotFromLiveDatabase(t *testing.T) {
	svc := newIntegrationSchemaService(t)

	schema, err := svc.GetSchema(context.Background(), false, true)
	require.NoError(t, err)

	users := schema.Table("users")
	require.NotNil(t, users, "users table missing from snapshot")
	assert.Equal(t, "id", users.PrimaryKey)
	assert.Contains(t, users.Columns, "email")
	assert.Equal(t, "text", users.ColumnTypes["email"])

	assert.Contains(t, schema.Relationships["orders.user_id"], "users.id")
}

func TestSchemaService_RendersContextFromLiveDatabase(t *testing.T) {
	svc := newIntegrationSchemaService(t)

	rendered, err := svc.GetSchemaContext(context.Background(), 0)
	require.NoError(t, err)

	assert.Contains(t, rendered, "users:")
	assert.Contains(t, rendered, "email (text)")
	assert.Contains(t, rendered, "[PK: id]")

	summary, err := svc.GetSchemaSummary(context.Background())
	require.NoError(t, err)
	assert.Contains(t, summary, `Database "analytics_test"`)
	assert.Contains(t, summary, "foreign key relationships discovered")
}
