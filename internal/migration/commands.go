package migration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"pkgkeeper/internal/proc"

	"gopkg.in/yaml.v3"
)

// FileName lists the command migrations of a package.
const FileName = "migrations.yml"

// FilePath is the workdir-relative, slash separated location of a package's migration list.
func FilePath(alias string) string {
	return path.Join("etc", alias, "migrations", FileName)
}

type commandSpec struct {
	ID   string   `yaml:"id"`
	Up   []string `yaml:"up"`
	Down []string `yaml:"down"`
}

type commandFile struct {
	Migrations []commandSpec `yaml:"migrations"`
}

/**
 * Parse a migration list into steps running external commands
 * @param {[]byte} data - migrations.yml content
 * @param {string} alias - Package alias, exported to the commands as PKGKEEPER_PACKAGE
 * @param {string} workdir - Working copy root, the commands run there
 * @returns {([]Step, error)} Steps in file order
 * @description
 * - A step without up or down command is a no-op in that direction
 */
func ParseCommands(data []byte, alias, workdir string) ([]Step, error) {
	var file commandFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s of %s: %w", FileName, alias, err)
	}
	seen := make(map[string]bool)
	steps := make([]Step, 0, len(file.Migrations))
	for i, entry := range file.Migrations {
		if entry.ID == "" {
			return nil, fmt.Errorf("%s of %s: migration #%d has no id", FileName, alias, i+1)
		}
		if seen[entry.ID] {
			return nil, fmt.Errorf("%s of %s: duplicate migration %s", FileName, alias, entry.ID)
		}
		seen[entry.ID] = true
		steps = append(steps, Step{
			ID:   entry.ID,
			Up:   commandFunc(alias, entry.ID, "up", workdir, entry.Up),
			Down: commandFunc(alias, entry.ID, "down", workdir, entry.Down),
		})
	}
	return steps, nil
}

func commandFunc(alias, id, direction, workdir string, argv []string) func(context.Context) error {
	if len(argv) == 0 {
		return nil
	}
	return func(ctx context.Context) error {
		_, err := proc.Run(ctx, proc.Command{
			Title: fmt.Sprintf("%s/%s %s", alias, id, direction),
			Name:  argv[0],
			Args:  argv[1:],
			Dir:   workdir,
			Env: []string{
				"PKGKEEPER_PACKAGE=" + alias,
				"PKGKEEPER_MIGRATION=" + id,
				"PKGKEEPER_WORKDIR=" + workdir,
			},
		})
		return err
	}
}

/**
 * Register the command migrations a package keeps in its working copy
 * @param {*Registry} registry - Registry to fill
 * @param {string} workdir - Working copy root
 * @param {string} alias - Package alias
 * @returns {(int, error)} Number of registered steps; a package without migrations.yml has none
 */
func LoadCommands(registry *Registry, workdir, alias string) (int, error) {
	data, err := os.ReadFile(filepath.Join(workdir, filepath.FromSlash(FilePath(alias))))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	steps, err := ParseCommands(data, alias, workdir)
	if err != nil {
		return 0, err
	}
	registry.Register(alias, steps...)
	return len(steps), nil
}
