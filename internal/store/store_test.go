package store

import (
	"errors"
	"path/filepath"
	"testing"

	"pkgkeeper/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "pkgkeeper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPackageLifecycle(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetPackage("demo")
	assert.True(t, errors.Is(err, ErrNotFound))

	pkg := &models.LocalPackage{Alias: "demo", Author: "alice", Version: "1.0.0", Repo: "main"}
	require.NoError(t, s.CreatePackage(pkg))
	assert.False(t, pkg.CreatedAt.IsZero())

	err = s.CreatePackage(&models.LocalPackage{Alias: "demo", Version: "2.0.0"})
	assert.True(t, errors.Is(err, ErrAliasExists))

	pkg.Version = "1.1.0"
	require.NoError(t, s.SavePackage(pkg))
	got, err := s.GetPackage("demo")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", got.Version)
	assert.Equal(t, "alice", got.Author)

	require.NoError(t, s.CreatePackage(&models.LocalPackage{Alias: "blog", Version: "0.1.0"}))
	pkgs, err := s.ListPackages()
	require.NoError(t, err)
	SortPackages(pkgs)
	require.Len(t, pkgs, 2)
	assert.Equal(t, "blog", pkgs[0].Alias)

	require.NoError(t, s.DeletePackage("demo"))
	assert.True(t, errors.Is(s.DeletePackage("demo"), ErrNotFound))
}

func TestReposAreImmutable(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.AddRepo(&models.LocalRepo{Alias: "main", Host: "https://repo.example.com/api"}))
	err := s.AddRepo(&models.LocalRepo{Alias: "main", Host: "https://other.example.com/api"})
	assert.True(t, errors.Is(err, ErrAliasExists))

	repo, err := s.GetRepo("main")
	require.NoError(t, err)
	assert.Equal(t, "https://repo.example.com/api", repo.Host)
	assert.Equal(t, "https://repo.example.com/api/package/list", repo.APIURL("/package/list"))
}

func TestAccountsAndSettings(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveAccount(&models.LocalAccount{Username: "alice", KeyFile: "/keys/alice.pem", Repo: "main"}))
	acct, err := s.GetAccount("alice")
	require.NoError(t, err)
	assert.Equal(t, "/keys/alice.pem", acct.KeyFile)

	accounts, err := s.ListAccounts()
	require.NoError(t, err)
	assert.Len(t, accounts, 1)

	_, err = s.GetSetting("default_account")
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, s.SetSetting("default_account", "alice"))
	val, err := s.GetSetting("default_account")
	require.NoError(t, err)
	assert.Equal(t, "alice", val)
}

func TestMigrationLedgerKeepsOrder(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"CreateTables", "AddColumnX", "AddIndexY"} {
		require.NoError(t, s.MarkMigrationApplied("demo", id))
	}
	require.NoError(t, s.MarkMigrationApplied("demo", "AddColumnX"))

	ids, err := s.AppliedMigrations("demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"CreateTables", "AddColumnX", "AddIndexY"}, ids)

	require.NoError(t, s.MarkMigrationRemoved("demo", "AddColumnX"))
	assert.True(t, errors.Is(s.MarkMigrationRemoved("demo", "AddColumnX"), ErrNotFound))

	ids, err = s.AppliedMigrations("demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"CreateTables", "AddIndexY"}, ids)

	require.NoError(t, s.DropMigrations("demo"))
	require.NoError(t, s.DropMigrations("demo"))
	ids, err = s.AppliedMigrations("demo")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
