package packages

import (
	"context"
	"errors"
	"fmt"

	"pkgkeeper/cmd/root"
	"pkgkeeper/internal/models"
	"pkgkeeper/services"

	"github.com/spf13/cobra"
)

var (
	upgradeDir     string
	upgradeVersion string
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade <alias>",
	Short: "Upgrade a package from a bundle directory or its repository",
	Long: `Upgrade a package. With --dir the bundle is read from a directory holding upgrade.yml
and a files/ tree; otherwise it is downloaded from the package's repository.
Every replaced file is saved first, so the upgrade can be rolled back.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if upgradeDir != "" && upgradeVersion != "" {
			return errors.New("--dir and --version are mutually exclusive")
		}
		return root.Run(func(app *root.App) error {
			return upgradePackage(context.Background(), app, args[0])
		})
	},
}

func upgradePackage(ctx context.Context, app *root.App, alias string) error {
	var bundle *models.UpgradeBundle
	var err error
	if upgradeDir != "" {
		bundle, err = services.LoadUpgradeDir(upgradeDir)
	} else {
		if _, err := app.AuthenticateFor(alias); err != nil {
			return err
		}
		bundle, err = app.Packages.FetchUpgrade(ctx, alias, upgradeVersion)
	}
	if err != nil {
		return err
	}

	m, err := app.Packages.Upgrade(ctx, alias, bundle)
	if err != nil {
		return err
	}
	fmt.Fprintf(root.Stdout, "Upgraded '%s' %s -> %s (%d files, %d migrations)\n",
		alias, m.FromVersion, m.ToVersion, len(bundle.Files), len(m.Migrations))
	return nil
}

func init() {
	packageCmd.AddCommand(upgradeCmd)

	upgradeCmd.Flags().StringVarP(&upgradeDir, "dir", "d", "", "bundle directory with upgrade.yml and files/")
	upgradeCmd.Flags().StringVar(&upgradeVersion, "version", "", "version to download (default latest)")
}
