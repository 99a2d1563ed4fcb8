package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/perchlabs/perch/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Load(filepath.Join(t.TempDir(), "servers.json"))
	require.NoError(t, err)
	return store
}

func TestNewServerDefaults(t *testing.T) {
	server := NewServer(ServerInput{Host: "10.0.0.5", Enabled: true})

	assert.NotEmpty(t, server.ID)
	assert.Equal(t, 22, server.Port)
	assert.Equal(t, "root", server.User)
	assert.NotNil(t, server.Tags)
	assert.True(t, server.Enabled)
}

func TestDisplayNameFallsBackToHost(t *testing.T) {
	assert.Equal(t, "db-primary", Server{Name: "db-primary", Host: "10.0.0.5"}.DisplayName())
	assert.Equal(t, "10.0.0.5", Server{Host: "10.0.0.5"}.DisplayName())
}

func TestPublicStripsPassword(t *testing.T) {
	server := NewServer(ServerInput{Host: "10.0.0.5", Password: "hunter2"})
	public := server.Public()

	assert.Empty(t, public.Password)
	assert.Equal(t, server.ID, public.ID)
	// The original is untouched.
	assert.Equal(t, "hunter2", server.Password)
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.json")

	store, err := Load(path)
	require.NoError(t, err)

	server := NewServer(ServerInput{Name: "web1", Host: "10.0.0.5", Tags: []string{"prod"}, Enabled: true})
	require.NoError(t, store.Add(server))

	// A fresh load sees the same roster.
	reloaded, err := Load(path)
	require.NoError(t, err)
	servers := reloaded.List()
	require.Len(t, servers, 1)
	assert.Equal(t, server.ID, servers[0].ID)
	assert.Equal(t, []string{"prod"}, servers[0].Tags)

	got, ok := reloaded.Get(server.ID)
	require.True(t, ok)
	assert.Equal(t, "web1", got.Name)
}

func TestStoreDuplicateRejected(t *testing.T) {
	store := tempStore(t)

	first := NewServer(ServerInput{Host: "10.0.0.5", User: "deploy"})
	require.NoError(t, store.Add(first))

	dup := NewServer(ServerInput{Host: "10.0.0.5", User: "deploy"})
	err := store.Add(dup)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrRegistry))

	// Different login user on the same host is fine.
	other := NewServer(ServerInput{Host: "10.0.0.5", User: "backup"})
	assert.NoError(t, store.Add(other))
}

func TestStoreSetEnabled(t *testing.T) {
	store := tempStore(t)
	server := NewServer(ServerInput{Host: "10.0.0.5", Enabled: true})
	require.NoError(t, store.Add(server))

	updated, err := store.SetEnabled(server.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.Enabled)

	got, ok := store.Get(server.ID)
	require.True(t, ok)
	assert.False(t, got.Enabled)

	_, err = store.SetEnabled("no-such-id", true)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrServer))
}

func TestStoreRemove(t *testing.T) {
	store := tempStore(t)
	server := NewServer(ServerInput{Host: "10.0.0.5"})
	require.NoError(t, store.Add(server))

	require.NoError(t, store.Remove(server.ID))
	assert.Empty(t, store.List())

	require.Error(t, store.Remove(server.ID))
}

func TestLoadMissingAndEmptyFiles(t *testing.T) {
	dir := t.TempDir()

	store, err := Load(filepath.Join(dir, "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, store.List())

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, nil, 0600))
	store, err = Load(empty)
	require.NoError(t, err)
	assert.Empty(t, store.List())
}

func TestLoadCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrRegistry))
}

func TestListReturnsCopy(t *testing.T) {
	store := tempStore(t)
	require.NoError(t, store.Add(NewServer(ServerInput{Host: "10.0.0.5", Name: "a"})))

	servers := store.List()
	servers[0].Name = "mutated"

	got, _ := store.Get(store.List()[0].ID)
	assert.Equal(t, "a", got.Name)
}
