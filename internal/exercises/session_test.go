package exercises

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr, func() {
		client.Close()
		mr.Close()
	}
}

func sampleSession() Session {
	p := sampleProgram()
	form := QuickForm{Mode: ModeQuickSession, Region: "cheville", Phase: "subaigue", Level: "débutant", Equipment: []string{"mur"}}
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	return Session{
		ID:             "sess-1",
		PractitionerID: kine,
		QuickForm:      &form,
		Chat:           []ChatMessage{{ID: "m1", Role: RoleUser, Content: "Générer", CreatedAt: now}},
		Program:        &p,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestMemorySessionStore_IsolatesCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore()
	s := sampleSession()
	require.NoError(t, store.Save(ctx, s))

	s.Program.Exercises[0].Title = "mutated"
	s.QuickForm.Equipment[0] = "mutated"

	got, err := store.Get(ctx, kine, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "Montées sur pointe de pied", got.Program.Exercises[0].Title)
	assert.Equal(t, []string{"mur"}, got.QuickForm.Equipment)

	_, err = store.Get(ctx, "kine-2", "sess-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisSessionStore(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRedisSessionStore(client, time.Hour)
	s := sampleSession()
	require.NoError(t, store.Save(ctx, s))

	got, err := store.Get(ctx, kine, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, s, got)
	assert.Equal(t, time.Hour, mr.TTL(sessionKey("sess-1")))

	_, err = store.Get(ctx, "kine-2", "sess-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	mr.FastForward(2 * time.Hour)
	_, err = store.Get(ctx, kine, "sess-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
