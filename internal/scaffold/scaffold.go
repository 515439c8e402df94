package scaffold

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"pkgkeeper/internal/logger"
	"pkgkeeper/internal/utils"

	"github.com/otiai10/copy"
)

//go:embed all:templates
var builtin embed.FS

// DefaultTemplate is the template used by `package create`.
const DefaultTemplate = "package"

const (
	aliasPlaceholder = "__alias__"
	templateSuffix   = ".tmpl"
)

var (
	ErrTemplateNotFound = errors.New("scaffold template not found")
	ErrTargetExists     = errors.New("scaffold target already exists")
)

// Data is passed to every template.
type Data struct {
	Alias       string
	Author      string
	Version     string
	Description string
}

/**
 * Materializes starter files for a new package
 * @description
 * - Templates come from templatesDir/<name> when present, otherwise the built-in set
 * - "__alias__" in paths is replaced with the package alias
 * - Files ending in .tmpl are rendered as text templates and lose the suffix
 */
type Generator struct {
	templatesDir string
}

func NewGenerator(templatesDir string) *Generator {
	return &Generator{templatesDir: templatesDir}
}

/**
 * Generate the files of a template under targetDir
 * @param {string} template - Template name
 * @param {string} targetDir - Working copy root
 * @param {Data} data - Template data
 * @returns {([]string, error)} Created paths relative to targetDir
 * @description
 * - Refuses to touch anything when a top-level package directory already exists,
 *   which is how an orphaned scaffold from an interrupted create is detected
 */
func (g *Generator) Generate(template, targetDir string, data Data) ([]string, error) {
	staging, err := os.MkdirTemp("", "pkgkeeper-scaffold-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	if err := g.stage(template, staging); err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(staging, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(staging, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := checkTargets(files, targetDir, data.Alias); err != nil {
		return nil, err
	}

	var created []string
	for _, rel := range files {
		out := strings.ReplaceAll(rel, aliasPlaceholder, data.Alias)
		content, err := os.ReadFile(filepath.Join(staging, rel))
		if err != nil {
			return created, err
		}
		if strings.HasSuffix(out, templateSuffix) {
			out = strings.TrimSuffix(out, templateSuffix)
			text, err := utils.RenderTemplate(filepath.Base(out), string(content), data)
			if err != nil {
				return created, err
			}
			content = []byte(text)
		}
		dst := filepath.Join(targetDir, out)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return created, err
		}
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return created, err
		}
		created = append(created, filepath.ToSlash(out))
	}
	logger.Infof("Scaffolded %d files for '%s' from template '%s'", len(created), data.Alias, template)
	return created, nil
}

// stage copies the template tree into dir.
func (g *Generator) stage(template, dir string) error {
	if g.templatesDir != "" {
		src := filepath.Join(g.templatesDir, template)
		if info, err := os.Stat(src); err == nil && info.IsDir() {
			return copy.Copy(src, dir)
		}
	}
	root := filepath.ToSlash(filepath.Join("templates", template))
	if _, err := fs.Stat(builtin, root); err != nil {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, template)
	}
	return fs.WalkDir(builtin, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(path, root), "/")
		if d.IsDir() {
			return os.MkdirAll(filepath.Join(dir, rel), 0o755)
		}
		data, err := builtin.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dir, filepath.FromSlash(rel)), data, 0o644)
	})
}

// checkTargets fails when a directory owned by the package, or a shared file, already exists.
func checkTargets(files []string, targetDir, alias string) error {
	seen := map[string]bool{}
	for _, rel := range files {
		owned := rel
		comps := strings.Split(filepath.ToSlash(rel), "/")
		for i, c := range comps {
			if strings.Contains(c, aliasPlaceholder) {
				owned = strings.Join(comps[:i+1], "/")
				break
			}
		}
		owned = strings.TrimSuffix(strings.ReplaceAll(owned, aliasPlaceholder, alias), templateSuffix)
		if seen[owned] {
			continue
		}
		seen[owned] = true
		if _, err := os.Stat(filepath.Join(targetDir, filepath.FromSlash(owned))); err == nil {
			return fmt.Errorf("%w: %s", ErrTargetExists, owned)
		}
	}
	return nil
}

// PackageDirs returns the directories a scaffolded package owns.
func PackageDirs(alias string) []string {
	return []string{filepath.Join("etc", alias), filepath.Join("src", alias)}
}
