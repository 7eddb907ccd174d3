package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/lensrev/internal/store"
)

func newService(t *testing.T) *Service {
	t.Helper()
	stores, err := store.Open(t.TempDir())
	require.NoError(t, err)
	return New(stores.Sessions)
}

func TestCreateAndAppend(t *testing.T) {
	svc := newService(t)
	clock := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	sess, err := svc.Create("/repo", "  ")
	require.NoError(t, err)
	assert.Equal(t, "Untitled session", sess.Metadata.Title)

	clock = clock.Add(time.Minute)
	_, err = svc.AddMessage(sess.Metadata.ID, "user", "why is this nil?")
	require.NoError(t, err)
	updated, err := svc.AddMessage(sess.Metadata.ID, "assistant", "the map is never made")
	require.NoError(t, err)

	assert.Equal(t, 2, updated.Metadata.MessageCount)
	assert.Equal(t, clock, updated.Metadata.UpdatedAt)
	assert.True(t, updated.Metadata.CreatedAt.Before(updated.Metadata.UpdatedAt))

	got, err := svc.Get(sess.Metadata.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "the map is never made", got.Messages[1].Content)
}

func TestAddMessageErrors(t *testing.T) {
	svc := newService(t)
	sess, err := svc.Create("/repo", "chat")
	require.NoError(t, err)

	_, err = svc.AddMessage(sess.Metadata.ID, "robot", "hi")
	assert.Equal(t, store.CodeValidation, store.CodeOf(err))

	_, err = svc.AddMessage("00000000-0000-0000-0000-000000000000", "user", "hi")
	assert.True(t, store.IsNotFound(err))

	_, err = svc.AddMessage("../escape", "user", "hi")
	assert.Equal(t, store.CodeValidation, store.CodeOf(err))
}

func TestListAndDelete(t *testing.T) {
	svc := newService(t)
	clock := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	first, err := svc.Create("/repo", "first")
	require.NoError(t, err)
	clock = clock.Add(time.Hour)
	second, err := svc.Create("/repo", "second")
	require.NoError(t, err)

	list, warnings, err := svc.List()
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, list, 2)
	assert.Equal(t, second.Metadata.ID, list[0].ID)

	require.NoError(t, svc.Delete(first.Metadata.ID))
	_, err = svc.Get(first.Metadata.ID)
	assert.True(t, store.IsNotFound(err))
}
