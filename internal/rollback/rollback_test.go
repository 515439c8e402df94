package rollback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"pkgkeeper/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRemover struct {
	calls []string
	fail  map[string]error
}

func (r *recordingRemover) RemoveMigration(_ context.Context, alias, id string) error {
	r.calls = append(r.calls, id)
	return r.fail[id]
}

type memorySaver struct {
	saved []models.LocalPackage
}

func (s *memorySaver) SavePackage(pkg *models.LocalPackage) error {
	s.saved = append(s.saved, *pkg)
	return nil
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, rel))
	require.NoError(t, err)
	return string(data)
}

func TestEmptySnapshotOnlyRestoresVersion(t *testing.T) {
	workdir := t.TempDir()
	pkg := &models.LocalPackage{Alias: "demo", Version: "1.0.0"}

	rec := NewRecorder(workdir)
	require.NoError(t, rec.Begin(pkg, "1.1.0"))
	m, err := rec.Commit()
	require.NoError(t, err)
	assert.Empty(t, m.Migrations)
	assert.Empty(t, m.FilesAdded)

	loaded, err := LoadManifest(workdir, "demo", "1.1.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", loaded.FromVersion)
	assert.Equal(t, "1.1.0", loaded.ToVersion)
	assert.NotNil(t, loaded.Migrations)

	pkg.Version = "1.1.0"
	remover := &recordingRemover{}
	saver := &memorySaver{}
	res, err := NewExecutor(workdir, remover, saver).Rollback(context.Background(), pkg, "1.1.0")
	require.NoError(t, err)

	assert.Equal(t, "1.0.0", pkg.Version)
	assert.Equal(t, "1.0.0", res.RestoredVersion)
	assert.Empty(t, remover.calls)
	assert.Empty(t, res.FilesRestored)
	assert.Empty(t, res.FilesRemoved)
	require.Len(t, saver.saved, 1)
	assert.Equal(t, "1.0.0", saver.saved[0].Version)
	assert.NoError(t, res.Warnings())
}

func TestCaptureRoundTripIsByteIdentical(t *testing.T) {
	workdir := t.TempDir()
	original := "a=1\n\x00\xffbinary tail"
	writeFile(t, workdir, "etc/demo/config.yml", original)
	pkg := &models.LocalPackage{Alias: "demo", Version: "1.0.0"}

	rec := NewRecorder(workdir)
	require.NoError(t, rec.Begin(pkg, "1.1.0"))
	require.NoError(t, rec.CaptureFile(filepath.Join(workdir, "etc/demo/config.yml"), "etc/demo/config.yml"))
	_, err := os.Stat(filepath.Join(workdir, "etc/demo/config.yml"))
	assert.True(t, os.IsNotExist(err), "captured file must leave the working copy")
	writeFile(t, workdir, "etc/demo/config.yml", "a=2\n")

	// a second capture in the same session must not overwrite the saved original
	require.NoError(t, rec.CaptureFile(filepath.Join(workdir, "etc/demo/config.yml"), "etc/demo/config.yml"))
	_, err = rec.Commit()
	require.NoError(t, err)

	_, err = NewExecutor(workdir, &recordingRemover{}, &memorySaver{}).Rollback(context.Background(), pkg, "1.1.0")
	require.NoError(t, err)
	assert.Equal(t, original, readFile(t, workdir, "etc/demo/config.yml"))

	_, err = os.Stat(SnapshotDir(workdir, "demo", "1.1.0"))
	assert.True(t, os.IsNotExist(err))
}

func TestSecondRollbackFailsWithNoSuchSnapshot(t *testing.T) {
	workdir := t.TempDir()
	pkg := &models.LocalPackage{Alias: "demo", Version: "1.0.0"}
	rec := NewRecorder(workdir)
	require.NoError(t, rec.Begin(pkg, "1.1.0"))
	_, err := rec.Commit()
	require.NoError(t, err)

	exec := NewExecutor(workdir, &recordingRemover{}, &memorySaver{})
	_, err = exec.Rollback(context.Background(), pkg, "1.1.0")
	require.NoError(t, err)

	_, err = exec.Rollback(context.Background(), pkg, "1.1.0")
	assert.True(t, errors.Is(err, ErrNoSuchSnapshot), "got %v", err)
	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StepLoad, stepErr.Step)
	assert.Equal(t, "demo", stepErr.Alias)
}

func TestMigrationsAreReversedNewestFirst(t *testing.T) {
	workdir := t.TempDir()
	pkg := &models.LocalPackage{Alias: "demo", Version: "1.0.0"}
	rec := NewRecorder(workdir)
	require.NoError(t, rec.Begin(pkg, "1.1.0"))
	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, rec.RecordMigration(id))
	}
	_, err := rec.Commit()
	require.NoError(t, err)

	remover := &recordingRemover{}
	res, err := NewExecutor(workdir, remover, &memorySaver{}).Rollback(context.Background(), pkg, "1.1.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "B", "A"}, remover.calls)
	assert.Equal(t, []string{"C", "B", "A"}, res.Reverted)
}

func TestMigrationFailureDoesNotStopFileRestore(t *testing.T) {
	workdir := t.TempDir()
	writeFile(t, workdir, "src/demo/main.php", "v1")
	pkg := &models.LocalPackage{Alias: "demo", Version: "1.0.0"}

	rec := NewRecorder(workdir)
	require.NoError(t, rec.Begin(pkg, "1.1.0"))
	require.NoError(t, rec.CaptureFile(filepath.Join(workdir, "src/demo/main.php"), "src/demo/main.php"))
	writeFile(t, workdir, "src/demo/main.php", "v2")
	require.NoError(t, rec.RecordMigration("CreateTables"))
	require.NoError(t, rec.RecordMigration("AddIndexY"))
	_, err := rec.Commit()
	require.NoError(t, err)

	remover := &recordingRemover{fail: map[string]error{"AddIndexY": errors.New("index in use")}}
	res, err := NewExecutor(workdir, remover, &memorySaver{}).Rollback(context.Background(), pkg, "1.1.0")
	require.NoError(t, err)

	assert.Equal(t, []string{"AddIndexY", "CreateTables"}, remover.calls)
	assert.True(t, res.Degraded())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "AddIndexY", res.Failures[0].ID)
	assert.Equal(t, []string{"CreateTables"}, res.Reverted)
	assert.Contains(t, res.Warnings().Error(), "index in use")
	assert.Equal(t, "v1", readFile(t, workdir, "src/demo/main.php"))
	assert.Equal(t, "1.0.0", pkg.Version)
}

func TestMissingManifestIsIncompleteSnapshot(t *testing.T) {
	workdir := t.TempDir()
	writeFile(t, workdir, "etc/demo/config.yml", "a=1")
	pkg := &models.LocalPackage{Alias: "demo", Version: "1.0.0"}

	rec := NewRecorder(workdir)
	require.NoError(t, rec.Begin(pkg, "1.1.0"))
	require.NoError(t, rec.CaptureFile(filepath.Join(workdir, "etc/demo/config.yml"), "etc/demo/config.yml"))
	rec.Abort()

	_, err := NewExecutor(workdir, &recordingRemover{}, &memorySaver{}).Rollback(context.Background(), pkg, "1.1.0")
	assert.True(t, errors.Is(err, ErrIncompleteSnapshot), "got %v", err)

	// the partial capture is left for the operator
	data, err := os.ReadFile(filepath.Join(SnapshotDir(workdir, "demo", "1.1.0"), "etc/demo/config.yml"))
	require.NoError(t, err)
	assert.Equal(t, "a=1", string(data))

	snaps, err := ListSnapshots(workdir, "demo")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.False(t, snaps[0].Complete)
	assert.Equal(t, 1, snaps[0].FilesSaved)
}

func TestBeginRefusesIncompleteSnapshot(t *testing.T) {
	workdir := t.TempDir()
	writeFile(t, workdir, "etc/demo/config.yml", "a=1")
	pkg := &models.LocalPackage{Alias: "demo", Version: "1.0.0"}

	rec := NewRecorder(workdir)
	require.NoError(t, rec.Begin(pkg, "1.1.0"))
	assert.Equal(t, SnapshotDir(workdir, "demo", "1.1.0"), rec.Dir())
	require.NoError(t, rec.CaptureFile(filepath.Join(workdir, "etc/demo/config.yml"), "etc/demo/config.yml"))
	writeFile(t, workdir, "etc/demo/config.yml", "a=2")
	rec.Abort()
	assert.Empty(t, rec.Dir())

	err := rec.Begin(pkg, "1.1.0")
	assert.True(t, errors.Is(err, ErrIncompleteSnapshot), "got %v", err)
	assert.True(t, errors.Is(rec.RecordMigration("A"), ErrNotStarted))

	// nothing of the saved original was touched
	data, err := os.ReadFile(filepath.Join(SnapshotDir(workdir, "demo", "1.1.0"), "etc/demo/config.yml"))
	require.NoError(t, err)
	assert.Equal(t, "a=1", string(data))
}

func TestBeginRefusesCommittedSnapshot(t *testing.T) {
	workdir := t.TempDir()
	pkg := &models.LocalPackage{Alias: "demo", Version: "1.0.0"}

	rec := NewRecorder(workdir)
	require.NoError(t, rec.Begin(pkg, "1.1.0"))
	require.NoError(t, rec.RecordMigration("A"))
	_, err := rec.Commit()
	require.NoError(t, err)

	err = rec.Begin(pkg, "1.1.0")
	assert.True(t, errors.Is(err, ErrSnapshotDirUnavailable), "got %v", err)
	m, err := LoadManifest(workdir, "demo", "1.1.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, m.Migrations)
}

func TestUnwritableSnapshotRoot(t *testing.T) {
	workdir := t.TempDir()
	writeFile(t, workdir, UpgradesDirName, "not a directory")

	rec := NewRecorder(workdir)
	err := rec.Begin(&models.LocalPackage{Alias: "demo", Version: "1.0.0"}, "1.1.0")
	assert.True(t, errors.Is(err, ErrSnapshotDirUnavailable), "got %v", err)
	assert.True(t, errors.Is(rec.RecordMigration("A"), ErrNotStarted))
}

func TestAddedFilesAreDeleted(t *testing.T) {
	workdir := t.TempDir()
	pkg := &models.LocalPackage{Alias: "demo", Version: "1.0.0"}

	rec := NewRecorder(workdir)
	require.NoError(t, rec.Begin(pkg, "1.1.0"))
	require.NoError(t, rec.CaptureFile(filepath.Join(workdir, "etc/demo/new.yml"), "etc/demo/new.yml"))
	require.NoError(t, rec.CaptureFile(filepath.Join(workdir, "etc/demo/gone.yml"), "etc/demo/gone.yml"))
	writeFile(t, workdir, "etc/demo/new.yml", "fresh")
	m, err := rec.Commit()
	require.NoError(t, err)
	assert.Equal(t, []string{"etc/demo/new.yml", "etc/demo/gone.yml"}, m.FilesAdded)

	res, err := NewExecutor(workdir, &recordingRemover{}, &memorySaver{}).Rollback(context.Background(), pkg, "1.1.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"etc/demo/new.yml"}, res.FilesRemoved)
	assert.NoFileExists(t, filepath.Join(workdir, "etc/demo/new.yml"))
}

func TestCaptureRejectsEscapingPaths(t *testing.T) {
	workdir := t.TempDir()
	rec := NewRecorder(workdir)
	require.NoError(t, rec.Begin(&models.LocalPackage{Alias: "demo", Version: "1.0.0"}, "1.1.0"))

	assert.Error(t, rec.CaptureFile("/etc/passwd", "../../etc/passwd"))
	assert.Error(t, rec.CaptureFile(filepath.Join(workdir, "config.json"), "config.json"))
}

func TestListSnapshotsOrdersByVersion(t *testing.T) {
	workdir := t.TempDir()
	pkg := &models.LocalPackage{Alias: "demo", Version: "1.0.0"}
	rec := NewRecorder(workdir)
	for _, v := range []string{"1.10.0", "1.2.0", "1.9.0"} {
		require.NoError(t, rec.Begin(pkg, v))
		_, err := rec.Commit()
		require.NoError(t, err)
	}

	snaps, err := ListSnapshots(workdir, "demo")
	require.NoError(t, err)
	var versions []string
	for _, s := range snaps {
		versions = append(versions, s.Version)
		assert.True(t, s.Complete)
	}
	assert.Equal(t, []string{"1.2.0", "1.9.0", "1.10.0"}, versions)

	none, err := ListSnapshots(workdir, "blog")
	require.NoError(t, err)
	assert.Empty(t, none)
}
