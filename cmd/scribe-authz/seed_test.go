package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/platinummonkey/scribe/pkg/authz"
	"github.com/platinummonkey/scribe/pkg/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSeed(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	path := writeSeed(t, `
users:
  - id: root
    email: root@example.com
    level: admin
  - id: alice
    email: alice@example.com
    level: user
    capabilities:
      view-analytics: true
resources:
  - id: job-1
    type: transcription
    owner_id: alice
`)

	users, resources, err := loadSeed(ctx, path, store, store)
	require.NoError(t, err)
	assert.Equal(t, 2, users)
	assert.Equal(t, 1, resources)

	root, err := store.GetUser(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, authz.LevelAdmin, root.Level)

	alice, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, alice.CustomPermissions[authz.CapViewAnalytics])

	res, err := store.GetResource(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", res.OwnerID)

	// a second load keeps the existing resource
	_, resources, err = loadSeed(ctx, path, store, store)
	require.NoError(t, err)
	assert.Equal(t, 0, resources)
}

func TestLoadSeedErrors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		body string
	}{
		{"bad level", "users:\n  - id: u1\n    level: overlord\n"},
		{"unknown capability", "users:\n  - id: u1\n    level: user\n    capabilities:\n      fly: true\n"},
		{"resource without owner", "resources:\n  - id: job-1\n"},
		{"not yaml", "users: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			_, _, err := loadSeed(ctx, writeSeed(t, tt.body), store, store)
			assert.Error(t, err)
		})
	}

	_, _, err := loadSeed(ctx, filepath.Join(t.TempDir(), "missing.yaml"), memory.New(), memory.New())
	assert.Error(t, err)
}
