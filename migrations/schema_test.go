//go:build integration

package migrations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryglass-ai/queryglass-engine/pkg/testhelpers"
)

// Test_003_Orders verifies the orders table carries both foreign keys and
// the user_id lookup index.
func Test_003_Orders(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	conn, err := testDB.Pool.Acquire(ctx)
	require.NoError(t, err, "Failed to acquire connection")
	defer conn.Release()

	var fkCount int
	err = conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM information_schema.table_constraints
		WHERE table_name = 'orders'
		AND constraint_type = 'FOREIGN KEY'
	`).Scan(&fkCount)
	require.NoError(t, err, "Failed to query constraint information")
	assert.Equal(t, 2, fkCount, "orders should reference users and products")

	var indexExists bool
	err = conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_indexes
			WHERE tablename = 'orders'
			AND indexname = 'idx_orders_user_id'
		)
	`).Scan(&indexExists)
	require.NoError(t, err, "Failed to query index information")
	assert.True(t, indexExists, "idx_orders_user_id index should exist")
}

// Test_004_SeedData verifies the demo rows land with consistent totals.
func Test_004_SeedData(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	conn, err := testDB.Pool.Acquire(ctx)
	require.NoError(t, err, "Failed to acquire connection")
	defer conn.Release()

	var orphans int
	err = conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM orders o
		LEFT JOIN users u ON u.id = o.user_id
		WHERE u.id IS NULL
	`).Scan(&orphans)
	require.NoError(t, err, "Failed to query seed data")
	assert.Zero(t, orphans, "every seeded order should reference a seeded user")

	// setval keeps the sequences past the explicit seed ids.
	var nextID int
	err = conn.QueryRow(ctx, "SELECT nextval('users_id_seq')").Scan(&nextID)
	require.NoError(t, err, "Failed to advance users sequence")
	assert.Greater(t, nextID, 3, "users sequence should start after the seeded rows")
}
