package packages

import (
	"context"
	"fmt"

	"pkgkeeper/cmd/root"

	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish <alias>",
	Short: "Upload the package files to its repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(func(app *root.App) error {
			pkg, err := app.AuthenticateFor(args[0])
			if err != nil {
				return err
			}
			if err := app.Packages.Publish(context.Background(), pkg.Alias); err != nil {
				return err
			}
			fmt.Fprintf(root.Stdout, "Published %s@%s\n", pkg.Alias, pkg.Version)
			return nil
		})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <alias>",
	Short: "Create the package on its repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(func(app *root.App) error {
			pkg, err := app.AuthenticateFor(args[0])
			if err != nil {
				return err
			}
			if err := app.Packages.RegisterRemote(context.Background(), pkg.Alias); err != nil {
				return err
			}
			fmt.Fprintf(root.Stdout, "Registered '%s' on its repository\n", pkg.Alias)
			return nil
		})
	},
}

func init() {
	packageCmd.AddCommand(publishCmd)
	packageCmd.AddCommand(registerCmd)
}
