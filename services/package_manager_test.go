package services

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"pkgkeeper/internal/migration"
	"pkgkeeper/internal/models"
	"pkgkeeper/internal/rollback"
	"pkgkeeper/internal/rpc"
	"pkgkeeper/internal/signing"
	"pkgkeeper/internal/store"
	"pkgkeeper/internal/testutil/fakerepo"
	"pkgkeeper/internal/vcs"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	workdir  string
	store    *store.Store
	srv      *fakerepo.Server
	registry *migration.Registry
	trace    []string
	pm       *PackageManager
	accounts *AccountManager
	identity *signing.Identity
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{workdir: t.TempDir(), srv: fakerepo.New(t)}

	s, err := store.Open(filepath.Join(t.TempDir(), "pkgkeeper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	env.store = s
	require.NoError(t, s.AddRepo(env.srv.Repo("main")))

	env.registry = migration.NewRegistry()
	step := func(id string) migration.Step {
		return migration.Step{
			ID:   id,
			Up:   func(context.Context) error { env.trace = append(env.trace, "up:"+id); return nil },
			Down: func(context.Context) error { env.trace = append(env.trace, "down:"+id); return nil },
		}
	}
	env.registry.Register("demo", step("AddColumnX"), step("AddIndexY"), step("CreateTables"))
	env.registry.Register("demo", migration.Step{
		ID: "Explode",
		Up: func(context.Context) error { return errors.New("disk full") },
	})

	keyFile := filepath.Join(t.TempDir(), "alice.pem")
	require.NoError(t, signing.GenerateKey(keyFile))
	env.identity = signing.NewIdentity("alice", keyFile)
	env.srv.RegisterIdentity(t, env.identity)

	client := rpc.NewRepositoryClient(rpc.NewChannel(nil))
	client.Channel().SetAuth(env.identity)
	env.pm = NewPackageManager(PackageManagerOptions{
		WorkDir:     env.workdir,
		Store:       s,
		Client:      client,
		Migrations:  migration.NewEngine(env.registry, s),
		DefaultRepo: "main",
	})
	env.accounts = NewAccountManager(s, client, filepath.Join(t.TempDir(), "keys"))
	return env
}

func (env *testEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(env.workdir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func (env *testEnv) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(env.workdir, rel))
	require.NoError(t, err)
	return string(data)
}

func (env *testEnv) createDemo(t *testing.T) *models.LocalPackage {
	t.Helper()
	pkg, err := env.pm.Create(CreateRequest{Alias: "demo", Author: "alice", Version: "1.0.0"})
	require.NoError(t, err)
	env.write(t, "etc/demo/config.yml", "a=1")
	return pkg
}

func TestUpgradeAndRollbackDemo(t *testing.T) {
	env := newTestEnv(t)
	env.createDemo(t)
	ctx := context.Background()

	m, err := env.pm.Upgrade(ctx, "demo", &models.UpgradeBundle{
		Version:    "1.1.0",
		Migrations: []string{"AddColumnX"},
		Files: map[string][]byte{
			"etc/demo/new.yml":    []byte("fresh: true"),
			"etc/demo/config.yml": []byte("a=2"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", m.FromVersion)
	assert.Equal(t, []string{"etc/demo/new.yml"}, m.FilesAdded)
	assert.Equal(t, []string{"AddColumnX"}, m.Migrations)

	pkg, err := env.pm.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", pkg.Version)
	assert.Equal(t, "a=2", env.read(t, "etc/demo/config.yml"))
	assert.Equal(t, "fresh: true", env.read(t, "etc/demo/new.yml"))

	results, err := env.pm.Rollback(ctx, "demo", "1.0.0")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Degraded())

	assert.NoFileExists(t, filepath.Join(env.workdir, "etc/demo/new.yml"))
	assert.Equal(t, "a=1", env.read(t, "etc/demo/config.yml"))
	assert.Equal(t, []string{"up:AddColumnX", "down:AddColumnX"}, env.trace)
	pkg, err = env.pm.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", pkg.Version)

	applied, err := env.pm.Migrations("demo")
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.NoDirExists(t, rollback.SnapshotDir(env.workdir, "demo", "1.1.0"))

	_, err = env.pm.Rollback(ctx, "demo", "1.0.0")
	assert.True(t, errors.Is(err, rollback.ErrNoSuchSnapshot), "got %v", err)
}

func TestRollbackAcrossSeveralUpgrades(t *testing.T) {
	env := newTestEnv(t)
	env.createDemo(t)
	ctx := context.Background()

	for _, step := range []struct {
		version   string
		migration string
		content   string
	}{
		{"1.1.0", "CreateTables", "a=2"},
		{"1.2.0", "AddColumnX", "a=3"},
		{"1.10.0", "AddIndexY", "a=4"},
	} {
		_, err := env.pm.Upgrade(ctx, "demo", &models.UpgradeBundle{
			Version:    step.version,
			Migrations: []string{step.migration},
			Files:      map[string][]byte{"etc/demo/config.yml": []byte(step.content)},
		})
		require.NoError(t, err)
	}

	// without target only the latest upgrade is reversed
	results, err := env.pm.Rollback(ctx, "demo", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1.10.0", results[0].Version)
	assert.Equal(t, "a=3", env.read(t, "etc/demo/config.yml"))

	env.trace = nil
	results, err = env.pm.Rollback(ctx, "demo", "1.0.0")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "1.2.0", results[0].Version)
	assert.Equal(t, "1.1.0", results[1].Version)
	assert.Equal(t, []string{"down:AddColumnX", "down:CreateTables"}, env.trace)
	assert.Equal(t, "a=1", env.read(t, "etc/demo/config.yml"))

	pkg, err := env.pm.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", pkg.Version)
}

func TestUpgradeRejections(t *testing.T) {
	env := newTestEnv(t)
	env.createDemo(t)
	ctx := context.Background()

	_, err := env.pm.Upgrade(ctx, "demo", &models.UpgradeBundle{Version: "1.0.0"})
	assert.True(t, errors.Is(err, ErrNotNewer), "got %v", err)

	_, err = env.pm.Upgrade(ctx, "demo", &models.UpgradeBundle{Version: "1.1.0", Migrations: []string{"Nope"}})
	assert.True(t, errors.Is(err, migration.ErrUnknownMigration), "got %v", err)
	assert.NoDirExists(t, filepath.Join(env.workdir, rollback.UpgradesDirName))

	_, err = env.pm.Upgrade(ctx, "blog", &models.UpgradeBundle{Version: "1.1.0"})
	assert.True(t, errors.Is(err, ErrPackageNotFound))
}

func TestFailedUpgradeLeavesIncompleteSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.createDemo(t)
	ctx := context.Background()

	_, err := env.pm.Upgrade(ctx, "demo", &models.UpgradeBundle{
		Version:    "1.1.0",
		Migrations: []string{"AddColumnX", "Explode"},
		Files:      map[string][]byte{"etc/demo/config.yml": []byte("a=2")},
	})
	var opErr *OperationError
	require.True(t, errors.As(err, &opErr), "got %v", err)
	assert.Equal(t, "apply migrations", opErr.Step)
	assert.Equal(t, "1.1.0", opErr.Version)

	pkg, err := env.pm.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", pkg.Version)

	_, err = env.pm.Rollback(ctx, "demo", "")
	assert.True(t, errors.Is(err, rollback.ErrIncompleteSnapshot), "got %v", err)

	snaps, err := env.pm.Snapshots("demo")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.False(t, snaps[0].Complete)
}

func TestRetryAfterFailedUpgradeIsRefused(t *testing.T) {
	env := newTestEnv(t)
	env.createDemo(t)
	ctx := context.Background()

	_, err := env.pm.Upgrade(ctx, "demo", &models.UpgradeBundle{
		Version:    "1.1.0",
		Migrations: []string{"AddColumnX", "Explode"},
		Files: map[string][]byte{
			"etc/demo/config.yml": []byte("a=2"),
			"etc/demo/new.yml":    []byte("n"),
		},
	})
	require.Error(t, err)

	retry := &models.UpgradeBundle{
		Version:    "1.1.0",
		Migrations: []string{"AddColumnX"},
		Files: map[string][]byte{
			"etc/demo/config.yml": []byte("a=2"),
			"etc/demo/new.yml":    []byte("n"),
		},
	}
	_, err = env.pm.Upgrade(ctx, "demo", retry)
	var opErr *OperationError
	require.True(t, errors.As(err, &opErr), "got %v", err)
	assert.True(t, errors.Is(err, rollback.ErrIncompleteSnapshot), "got %v", err)
	assert.Equal(t, "check snapshots", opErr.Step)

	// a later version is refused as well while the snapshot is unresolved
	retry.Version = "1.2.0"
	_, err = env.pm.Upgrade(ctx, "demo", retry)
	assert.True(t, errors.Is(err, rollback.ErrIncompleteSnapshot), "got %v", err)

	// the saved original is untouched and nothing was recorded as done
	saved, err := os.ReadFile(filepath.Join(rollback.SnapshotDir(env.workdir, "demo", "1.1.0"), "etc/demo/config.yml"))
	require.NoError(t, err)
	assert.Equal(t, "a=1", string(saved))
	_, err = rollback.LoadManifest(env.workdir, "demo", "1.1.0")
	assert.True(t, errors.Is(err, rollback.ErrIncompleteSnapshot), "got %v", err)
	_, err = env.pm.Rollback(ctx, "demo", "")
	assert.True(t, errors.Is(err, rollback.ErrIncompleteSnapshot), "got %v", err)

	pkg, err := env.pm.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", pkg.Version)
	assert.Equal(t, []string{"up:AddColumnX"}, env.trace)
}

func TestRegisteredMigrations(t *testing.T) {
	env := newTestEnv(t)
	env.createDemo(t)

	assert.Equal(t, []string{"AddColumnX", "AddIndexY", "CreateTables", "Explode"}, env.pm.RegisteredMigrations("demo"))
	assert.Empty(t, env.pm.RegisteredMigrations("blog"))
}

func TestCreateRejectsDuplicatesAndOrphans(t *testing.T) {
	env := newTestEnv(t)
	env.createDemo(t)

	_, err := env.pm.Create(CreateRequest{Alias: "demo", Author: "bob"})
	assert.True(t, errors.Is(err, store.ErrAliasExists), "got %v", err)

	env.write(t, "src/blog/index.php", "<?php")
	_, err = env.pm.Create(CreateRequest{Alias: "blog", Author: "bob"})
	assert.True(t, errors.Is(err, ErrOrphanedFiles), "got %v", err)
	_, err = env.pm.Get("blog")
	assert.True(t, errors.Is(err, ErrPackageNotFound))

	_, err = env.pm.Create(CreateRequest{Alias: "Bad Alias"})
	assert.True(t, errors.Is(err, ErrInvalidAlias))

	pkgs, err := env.pm.List()
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	assert.Equal(t, "main", pkgs[0].Repo)
	assert.True(t, pkgs[0].Local)
}

func TestDeleteRemovesMigrationsFilesThenRecord(t *testing.T) {
	env := newTestEnv(t)
	env.createDemo(t)
	ctx := context.Background()

	_, err := env.pm.Upgrade(ctx, "demo", &models.UpgradeBundle{
		Version:    "1.1.0",
		Migrations: []string{"CreateTables", "AddColumnX"},
	})
	require.NoError(t, err)
	env.trace = nil

	require.NoError(t, env.pm.Delete(ctx, "demo"))
	assert.Equal(t, []string{"down:AddColumnX", "down:CreateTables"}, env.trace)
	assert.NoDirExists(t, filepath.Join(env.workdir, "etc", "demo"))
	assert.NoDirExists(t, filepath.Join(env.workdir, "src", "demo"))
	assert.NoDirExists(t, rollback.PackageSnapshotsDir(env.workdir, "demo"))
	_, err = env.pm.Get("demo")
	assert.True(t, errors.Is(err, ErrPackageNotFound))

	// the alias is free again
	_, err = env.pm.Create(CreateRequest{Alias: "demo", Author: "alice"})
	assert.NoError(t, err)
}

func TestDeleteStopsWhenMigrationCannotBeRemoved(t *testing.T) {
	env := newTestEnv(t)
	env.createDemo(t)
	env.registry.Register("demo", migration.Step{
		ID:   "Sticky",
		Up:   func(context.Context) error { return nil },
		Down: func(context.Context) error { return errors.New("table locked") },
	})
	_, err := env.pm.Upgrade(context.Background(), "demo", &models.UpgradeBundle{Version: "1.1.0", Migrations: []string{"Sticky"}})
	require.NoError(t, err)

	err = env.pm.Delete(context.Background(), "demo")
	var opErr *OperationError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "remove migrations", opErr.Step)
	assert.DirExists(t, filepath.Join(env.workdir, "etc", "demo"))
	_, err = env.pm.Get("demo")
	assert.NoError(t, err)
}

func TestPublishQuotaExceededChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.createDemo(t)
	env.srv.Handle("package/publish", func(c *gin.Context) {
		fakerepo.Fail(c, http.StatusForbidden, "quota exceeded")
	})
	before, err := env.pm.Get("demo")
	require.NoError(t, err)

	err = env.pm.Publish(context.Background(), "demo")
	var remote *rpc.RemoteError
	require.True(t, errors.As(err, &remote), "got %v", err)
	assert.Equal(t, 403, remote.Status)
	assert.Equal(t, "quota exceeded", remote.Message)

	after, err := env.pm.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, "a=1", env.read(t, "etc/demo/config.yml"))
	assert.NoDirExists(t, filepath.Join(env.workdir, rollback.UpgradesDirName))
}

func TestPublishSendsPackageArchive(t *testing.T) {
	env := newTestEnv(t)
	env.createDemo(t)
	var names []string
	env.srv.Handle("package/publish", func(c *gin.Context) {
		raw, err := base64.StdEncoding.DecodeString(fakerepo.Form(c, "contents"))
		if err != nil {
			fakerepo.Fail(c, http.StatusBadRequest, err.Error())
			return
		}
		names, err = archiveNames(raw)
		if err != nil {
			fakerepo.Fail(c, http.StatusBadRequest, err.Error())
			return
		}
		fakerepo.OK(c, nil)
	})

	require.NoError(t, env.pm.Publish(context.Background(), "demo"))
	assert.Contains(t, names, "etc/demo/config.yml")
	assert.Contains(t, names, "etc/demo/package.yml")
	assert.Contains(t, names, "src/demo/README.md")

	calls := env.srv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "alice", calls[0].Username)
	assert.Equal(t, "1.0.0", calls[0].Form["version"])
}

func TestFetchUpgradeExtractsBundle(t *testing.T) {
	env := newTestEnv(t)
	env.createDemo(t)

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, BundleDescriptorName), []byte("version: 1.1.0\nmigrations: [AddColumnX]\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, BundleFilesDir, "etc", "demo"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, BundleFilesDir, "etc", "demo", "config.yml"), []byte("a=2"), 0o644))
	archive, err := PackArchive(src, []string{BundleDescriptorName, BundleFilesDir})
	require.NoError(t, err)

	env.srv.Handle(PathDownloadUpgrade, func(c *gin.Context) {
		fakerepo.OK(c, gin.H{
			"version":    "1.1.0",
			"migrations": []string{"AddColumnX"},
			"contents":   base64.StdEncoding.EncodeToString(archive),
			"current":    fakerepo.Form(c, "current"),
		})
	})

	bundle, err := env.pm.FetchUpgrade(context.Background(), "demo", "")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", bundle.Version)
	assert.Equal(t, []string{"AddColumnX"}, bundle.Migrations)
	assert.Equal(t, map[string][]byte{"etc/demo/config.yml": []byte("a=2")}, bundle.Files)
	assert.Equal(t, "1.0.0", env.srv.Calls()[0].Form["current"])

	_, err = env.pm.Upgrade(context.Background(), "demo", bundle)
	require.NoError(t, err)
	assert.Equal(t, "a=2", env.read(t, "etc/demo/config.yml"))
}

func TestLoadUpgradeDir(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadUpgradeDir(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, BundleDescriptorName), []byte("version: 2.0.0\n"), 0o644))
	bundle, err := LoadUpgradeDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", bundle.Version)
	assert.Empty(t, bundle.Files)
}

func TestProvisionStaging(t *testing.T) {
	env := newTestEnv(t)
	env.createDemo(t)
	env.srv.Handle(PathCreateStaging, func(c *gin.Context) {
		fakerepo.OK(c, gin.H{
			"host":        env.srv.URL + "/api/staging-1",
			"db_name":     "demo_staging",
			"db_user":     "demo",
			"db_password": "secret",
			"token":       "tok-" + fakerepo.Form(c, "package"),
		})
	})
	env.srv.Handle("staging-1/transfer", func(c *gin.Context) {
		if fakerepo.Form(c, "token") != "tok-demo" || fakerepo.Form(c, "contents") == "" {
			fakerepo.Fail(c, http.StatusBadRequest, "bad transfer")
			return
		}
		fakerepo.OK(c, nil)
	})

	info, err := env.pm.ProvisionStaging(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, "demo_staging", info.DbName)

	calls := env.srv.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "alice", calls[0].Username)
	assert.NotEmpty(t, calls[0].Form["request_id"])
	assert.Empty(t, calls[1].Username, "transfer must be anonymous")
	assert.Equal(t, env.identity, env.pm.Client().Channel().Identity())

	pkg, err := env.pm.Get("demo")
	require.NoError(t, err)
	assert.True(t, pkg.Staging)
}

func TestProvisionStagingTransferFailureKeepsFlag(t *testing.T) {
	env := newTestEnv(t)
	env.createDemo(t)
	env.srv.Handle(PathCreateStaging, func(c *gin.Context) {
		fakerepo.OK(c, gin.H{"host": env.srv.URL + "/api/staging-1", "token": "t"})
	})

	_, err := env.pm.ProvisionStaging(context.Background(), "demo")
	assert.True(t, rpc.IsRemoteError(err), "got %v", err)
	pkg, err := env.pm.Get("demo")
	require.NoError(t, err)
	assert.False(t, pkg.Staging)
}

func TestCommitPackageFiles(t *testing.T) {
	env := newTestEnv(t)
	env.createDemo(t)

	hash, err := env.pm.Commit("demo", "import demo", vcs.Author{Name: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	assert.Len(t, hash, 40)
	assert.FileExists(t, filepath.Join(env.workdir, VCSDirName, "demo", "etc", "demo", "config.yml"))

	_, err = env.pm.Commit("demo", "again", vcs.Author{Name: "alice"})
	assert.True(t, errors.Is(err, vcs.ErrNothingToCommit))
}

func TestUpgradeRegistersShippedMigrations(t *testing.T) {
	env := newTestEnv(t)
	env.createDemo(t)

	_, err := env.pm.Upgrade(context.Background(), "demo", &models.UpgradeBundle{
		Version:    "1.1.0",
		Migrations: []string{"SeedDefaults"},
		Files: map[string][]byte{
			migration.FilePath("demo"): []byte("migrations:\n  - id: SeedDefaults\n"),
		},
	})
	require.NoError(t, err)
	applied, err := env.pm.Migrations("demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"SeedDefaults"}, applied)

	_, err = env.pm.Rollback(context.Background(), "demo", "")
	require.NoError(t, err)
	assert.Contains(t, env.read(t, "etc/demo/migrations/migrations.yml"), "migrations: []")
}
