package group

import (
	"context"
	"testing"

	"go-realtime-chat/internal/apperr"
	"go-realtime-chat/internal/db"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createUser(t *testing.T, database *db.Database) int64 {
	t.Helper()
	name := "g_" + uuid.NewString()[:8]
	var id int64
	err := database.Conn.QueryRowContext(context.Background(),
		`INSERT INTO users (username, email, password) VALUES ($1, $2, 'x') RETURNING id`,
		name, name+"@example.com").Scan(&id)
	require.NoError(t, err)
	return id
}

func TestRepository_Membership(t *testing.T) {
	database := db.OpenTest(t)
	repo := NewRepository(database.Conn)
	ctx := context.Background()

	admin := createUser(t, database)
	other := createUser(t, database)

	g, err := repo.Create(ctx, &Group{Name: "repo-test", AdminID: admin})
	require.NoError(t, err)

	ok, err := repo.IsMember(ctx, g.ID, admin)
	require.NoError(t, err)
	assert.True(t, ok)

	added, err := repo.AddMember(ctx, g.ID, other)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = repo.AddMember(ctx, g.ID, other)
	require.NoError(t, err)
	assert.False(t, added)

	_, err = repo.AddMember(ctx, g.ID, -1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	ids, err := repo.ListMemberIDs(ctx, g.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{admin, other}, ids)

	got, err := repo.GetByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MemberCount)

	removed, err := repo.RemoveMember(ctx, g.ID, other)
	require.NoError(t, err)
	assert.True(t, removed)

	groups, err := repo.GroupIDsForUser(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, groups)

	require.NoError(t, repo.Delete(ctx, g.ID))
	_, err = repo.GetByID(ctx, g.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
