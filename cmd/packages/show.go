package packages

import (
	"pkgkeeper/cmd/root"
	"pkgkeeper/internal/models"
	"pkgkeeper/internal/utils"

	"github.com/spf13/cobra"
)

type packageDetail struct {
	Package    *models.LocalPackage   `yaml:"package"`
	Migrations []string               `yaml:"migrations"`
	Registered []string               `yaml:"registered"`
	Snapshots  []*models.SnapshotInfo `yaml:"snapshots"`
}

var showCmd = &cobra.Command{
	Use:   "show <alias>",
	Short: "Show a package with its applied and registered migrations and snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(func(app *root.App) error {
			pkg, err := app.Packages.Get(args[0])
			if err != nil {
				return err
			}
			applied, err := app.Packages.Migrations(pkg.Alias)
			if err != nil {
				return err
			}
			snaps, err := app.Packages.Snapshots(pkg.Alias)
			if err != nil {
				return err
			}
			return utils.PrintYaml(root.Stdout, packageDetail{
				Package:    pkg,
				Migrations: applied,
				Registered: app.Packages.RegisteredMigrations(pkg.Alias),
				Snapshots:  snaps,
			})
		})
	},
}

func init() {
	packageCmd.AddCommand(showCmd)
}
