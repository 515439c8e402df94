package packages

import (
	"fmt"

	"pkgkeeper/cmd/root"
	"pkgkeeper/services"

	"github.com/spf13/cobra"
)

var createReq services.CreateRequest

var createCmd = &cobra.Command{
	Use:   "create <alias>",
	Short: "Create a local package from a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		createReq.Alias = args[0]
		return root.Run(func(app *root.App) error {
			pkg, err := app.Packages.Create(createReq)
			if err != nil {
				return err
			}
			fmt.Fprintf(root.Stdout, "Created package '%s' %s in %s\n", pkg.Alias, pkg.Version, app.Packages.WorkDir())
			return nil
		})
	},
}

func init() {
	packageCmd.AddCommand(createCmd)

	createCmd.Flags().StringVar(&createReq.Author, "author", "", "package author")
	createCmd.Flags().StringVar(&createReq.Version, "version", "", "initial version (default 1.0.0)")
	createCmd.Flags().StringVar(&createReq.Repo, "repo", "", "repository alias (default remote.default_repo)")
	createCmd.Flags().StringVar(&createReq.Description, "description", "", "package description")
	createCmd.Flags().StringVarP(&createReq.Template, "template", "t", "", "scaffold template name")
}
