package root

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pkgkeeper/internal/config"
	"pkgkeeper/internal/logger"
	"pkgkeeper/internal/migration"
	"pkgkeeper/internal/models"
	"pkgkeeper/internal/rpc"
	"pkgkeeper/internal/scaffold"
	"pkgkeeper/internal/store"
	"pkgkeeper/internal/vcs"
	"pkgkeeper/services"
)

/**
 * Collaborators of one command invocation
 * @description
 * - The store is opened here and closed by Close; nothing else holds it
 * - One channel session serves every remote call of the command
 */
type App struct {
	Config   *config.AppConfig
	Store    *store.Store
	Client   *rpc.RepositoryClient
	Packages *services.PackageManager
	Accounts *services.AccountManager
	Repos    *services.RepoManager
}

/**
 * Open the store and build the managers from the loaded configuration
 * @returns {(*App, error)} Wired application, Close it when the command ends
 * @description
 * - Registers the command migrations of every known package
 */
func OpenApp() (*App, error) {
	cfg := config.App()
	workdir, err := filepath.Abs(cfg.Paths.WorkDir)
	if err != nil {
		return nil, err
	}
	s, err := store.Open(cfg.StorePath())
	if err != nil {
		return nil, err
	}

	transport := rpc.NewHTTPTransport(&rpc.HTTPConfig{
		Timeout:            cfg.Remote.Timeout,
		InsecureSkipVerify: cfg.Remote.InsecureSkipVerify,
		UserAgent:          "pkgkeeper",
	})
	client := rpc.NewRepositoryClient(rpc.NewChannel(transport))

	registry := migration.NewRegistry()
	pkgs, err := s.ListPackages()
	if err != nil {
		s.Close()
		return nil, err
	}
	for _, pkg := range pkgs {
		n, err := migration.LoadCommands(registry, workdir, pkg.Alias)
		if err != nil {
			logger.Warnf("Migrations of '%s' not loaded: %v", pkg.Alias, err)
			continue
		}
		if n > 0 {
			logger.Debugf("Registered %d migrations of '%s'", n, pkg.Alias)
		}
	}

	retry := services.DefaultRetryPolicy()
	retry.Retries = cfg.Remote.Retries

	app := &App{
		Config: cfg,
		Store:  s,
		Client: client,
		Packages: services.NewPackageManager(services.PackageManagerOptions{
			WorkDir:     workdir,
			Store:       s,
			Client:      client,
			Migrations:  migration.NewEngine(registry, s),
			Scaffold:    scaffold.NewGenerator(cfg.Paths.TemplatesDir),
			VCS:         vcs.NewClient(),
			Retry:       retry,
			DefaultRepo: cfg.Remote.DefaultRepo,
		}),
		Accounts: services.NewAccountManager(s, client, cfg.Paths.KeysDir),
		Repos:    services.NewRepoManager(s),
	}
	return app, nil
}

func (a *App) Close() error {
	return a.Store.Close()
}

/**
 * Sign requests as the account of a package's repository
 * @param {string} alias - Package alias
 * @returns {(*models.LocalPackage, error)} The package
 * @description
 * - Without an account the channel stays anonymous and the repository decides
 */
func (a *App) AuthenticateFor(alias string) (*models.LocalPackage, error) {
	pkg, err := a.Packages.Get(alias)
	if err != nil {
		return nil, err
	}
	repo := pkg.Repo
	if repo == "" {
		repo = a.Config.Remote.DefaultRepo
	}
	if _, err := a.Accounts.Authenticate(repo); err != nil {
		if !errors.Is(err, services.ErrNoAccount) {
			return nil, err
		}
		logger.Warnf("No account for repository '%s', requests are anonymous", repo)
	}
	return pkg, nil
}

// Run opens the application, runs fn and closes it again.
func Run(fn func(app *App) error) error {
	app, err := OpenApp()
	if err != nil {
		return fmt.Errorf("open %s: %w", config.App().StorePath(), err)
	}
	defer app.Close()
	return fn(app)
}

// Stdout is where command output goes.
var Stdout = os.Stdout

// FormatTime formats a timestamp for listings.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}
