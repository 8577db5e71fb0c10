package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAutoMigrate_Idempotent(t *testing.T) {
	database := OpenTest(t)
	ctx := context.Background()

	require.NoError(t, database.AutoMigrate(ctx))

	var n int
	err := database.Conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_name IN
		 ('users','groups','group_members','messages','message_reads','friendships','friend_requests')`).Scan(&n)
	require.NoError(t, err)
	require.Equal(t, 7, n)
}
