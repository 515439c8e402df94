package packages

import (
	"context"

	"pkgkeeper/cmd/root"
	"pkgkeeper/internal/utils"

	"github.com/spf13/cobra"
)

var stagingCmd = &cobra.Command{
	Use:   "staging <alias>",
	Short: "Provision a staging environment and transfer the package to it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(func(app *root.App) error {
			pkg, err := app.AuthenticateFor(args[0])
			if err != nil {
				return err
			}
			info, err := app.Packages.ProvisionStaging(context.Background(), pkg.Alias)
			if err != nil {
				return err
			}
			// token只用于传输，不输出
			return utils.PrintYaml(root.Stdout, map[string]string{
				"host":     info.Host,
				"database": info.DbName,
				"user":     info.DbUser,
				"password": info.DbPassword,
			})
		})
	},
}

func init() {
	packageCmd.AddCommand(stagingCmd)
}
