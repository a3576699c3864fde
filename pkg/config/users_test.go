package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-fl/lattice/pkg/auth"
	"github.com/lattice-fl/lattice/pkg/config"
	"github.com/lattice-fl/lattice/pkg/security"
)

func TestApplyUserFile_RegistersUsersWithExistingHash(t *testing.T) {
	hash, err := security.HashPassword("s3cret-password")
	require.NoError(t, err)

	path := writeTempFile(t, `
users:
  - username: alice
    password_hash: `+hash+`
    role: client
  - username: bob
    password_hash: `+hash+`
    role: observer
`)

	f, err := config.LoadUserFile(path)
	require.NoError(t, err)
	require.Len(t, f.Users, 2)

	store, err := auth.NewStore([]byte("signing-key"), time.Hour, false)
	require.NoError(t, err)
	require.NoError(t, config.ApplyUserFile(store, f))

	_, role, err := store.Authenticate("alice", "s3cret-password")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleClient, role)
}

func TestApplyUserFile_RejectsUnknownRole(t *testing.T) {
	f := config.UserFile{Users: []config.UserFileEntry{
		{Username: "alice", PasswordHash: "x", Role: "admin"},
	}}
	store, err := auth.NewStore([]byte("signing-key"), time.Hour, false)
	require.NoError(t, err)
	assert.Error(t, config.ApplyUserFile(store, f))
}
