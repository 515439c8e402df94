package scaffold

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"pkgkeeper/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestBuiltinPackageTemplate(t *testing.T) {
	workdir := t.TempDir()
	g := NewGenerator("")

	created, err := g.Generate(DefaultTemplate, workdir, Data{Alias: "demo", Author: "alice", Version: "1.0.0"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"etc/demo/package.yml",
		"etc/demo/migrations/migrations.yml",
		"src/demo/README.md",
	}, created)

	raw, err := os.ReadFile(filepath.Join(workdir, "etc/demo/package.yml"))
	require.NoError(t, err)
	var info models.PackageInfo
	require.NoError(t, yaml.Unmarshal(raw, &info))
	assert.Equal(t, models.PackageInfo{Alias: "demo", Version: "1.0.0", Author: "alice"}, info)

	readme, err := os.ReadFile(filepath.Join(workdir, "src/demo/README.md"))
	require.NoError(t, err)
	assert.Contains(t, string(readme), "# demo")
}

func TestOrphanedScaffoldIsRejected(t *testing.T) {
	workdir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workdir, "src", "demo"), 0o755))

	_, err := NewGenerator("").Generate(DefaultTemplate, workdir, Data{Alias: "demo", Version: "1.0.0"})
	assert.True(t, errors.Is(err, ErrTargetExists), "got %v", err)
	assert.NoDirExists(t, filepath.Join(workdir, "etc", "demo"))

	// other aliases are unaffected
	_, err = NewGenerator("").Generate(DefaultTemplate, workdir, Data{Alias: "blog", Version: "0.1.0"})
	assert.NoError(t, err)
}

func TestTemplatesDirOverridesBuiltin(t *testing.T) {
	templates := t.TempDir()
	dir := filepath.Join(templates, "plugin", "plugins", "__alias__")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.ini.tmpl"), []byte("name={{.Alias}}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.png"), []byte{0x89, 'P', 'N', 'G'}, 0o644))

	workdir := t.TempDir()
	created, err := NewGenerator(templates).Generate("plugin", workdir, Data{Alias: "gallery"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"plugins/gallery/plugin.ini", "plugins/gallery/logo.png"}, created)

	ini, err := os.ReadFile(filepath.Join(workdir, "plugins/gallery/plugin.ini"))
	require.NoError(t, err)
	assert.Equal(t, "name=gallery\n", string(ini))

	// the built-in template is still reachable
	_, err = NewGenerator(templates).Generate(DefaultTemplate, workdir, Data{Alias: "gallery", Version: "1.0.0"})
	assert.NoError(t, err)
}

func TestUnknownTemplate(t *testing.T) {
	_, err := NewGenerator("").Generate("nope", t.TempDir(), Data{Alias: "demo"})
	assert.True(t, errors.Is(err, ErrTemplateNotFound))
}
