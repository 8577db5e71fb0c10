package friend

import (
	"context"
	"testing"

	"go-realtime-chat/internal/apperr"
	"go-realtime-chat/internal/db"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderedPair(t *testing.T) {
	lo, hi := orderedPair(9, 3)
	assert.Equal(t, [2]int64{3, 9}, [2]int64{lo, hi})

	lo2, hi2 := orderedPair(3, 9)
	assert.Equal(t, [2]int64{lo, hi}, [2]int64{lo2, hi2})
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		existing *Request
		friends  bool
		want     action
		wantErr  error
	}{
		{name: "fresh", want: actionInsert},
		{name: "already friends", friends: true, wantErr: apperr.ErrConflict},
		{name: "pending", existing: &Request{Status: StatusPending}, wantErr: apperr.ErrConflict},
		{name: "accepted", existing: &Request{Status: StatusAccepted}, wantErr: apperr.ErrConflict},
		{name: "rejected reopens", existing: &Request{Status: StatusRejected}, want: actionReopen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decide(tt.existing, tt.friends)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_SendRequestValidation(t *testing.T) {
	s := NewService(nil)
	_, err := s.SendRequest(context.Background(), 1, 1)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = s.SendRequest(context.Background(), 1, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func createUser(t *testing.T, database *db.Database) int64 {
	t.Helper()
	name := "f_" + uuid.NewString()[:8]
	var id int64
	err := database.Conn.QueryRowContext(context.Background(),
		`INSERT INTO users (username, email, password) VALUES ($1, $2, 'x') RETURNING id`,
		name, name+"@example.com").Scan(&id)
	require.NoError(t, err)
	return id
}

func TestService_RequestLifecycle(t *testing.T) {
	database := db.OpenTest(t)
	s := NewService(NewRepository(database.Conn))
	ctx := context.Background()

	a := createUser(t, database)
	b := createUser(t, database)

	req, err := s.SendRequest(ctx, a, b)
	require.NoError(t, err)

	_, err = s.SendRequest(ctx, b, a)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	require.NoError(t, s.Reject(ctx, b, req.ID))

	// Re-sending after rejection reuses the row.
	again, err := s.SendRequest(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, req.ID, again.ID)
	assert.Equal(t, b, again.SenderID)

	reqs, err := s.ListRequests(ctx, a)
	require.NoError(t, err)
	require.Len(t, reqs.Incoming, 1)
	assert.Equal(t, b, reqs.Incoming[0].Counterpart.ID)

	_, err = s.Accept(ctx, b, again.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "only the receiver may accept")

	_, err = s.Accept(ctx, a, again.ID)
	require.NoError(t, err)

	var lo, hi int64
	require.NoError(t, database.Conn.QueryRowContext(ctx,
		`SELECT user_id1, user_id2 FROM friendships WHERE user_id1 = LEAST($1::bigint, $2::bigint)
		 AND user_id2 = GREATEST($1::bigint, $2::bigint)`, a, b).Scan(&lo, &hi))
	assert.Less(t, lo, hi)

	friends, err := s.ListFriends(ctx, b)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, a, friends[0].ID)

	_, err = s.SendRequest(ctx, a, b)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	require.NoError(t, s.Remove(ctx, b, a))
	assert.ErrorIs(t, s.Remove(ctx, b, a), apperr.ErrNotFound)

	_, err = s.SendRequest(ctx, a, b)
	require.NoError(t, err)
}
