package packages

import (
	"pkgkeeper/cmd/root"

	"github.com/spf13/cobra"
)

var packageCmd = &cobra.Command{
	Use:     "package",
	Aliases: []string{"pkg"},
	Short:   "Package operations (create/upgrade/rollback/publish etc.)",
	Long:    `Package operations (create/upgrade/rollback/publish etc.)`,
}

const packageExample = `  # create a package and upgrade it from a bundle directory
  pkgkeeper package create demo --author alice
  pkgkeeper package upgrade demo --dir ./demo-1.1.0
  pkgkeeper package rollback demo --to 1.0.0
  pkgkeeper package upgrade demo --version 1.2.0`

func init() {
	root.RootCmd.AddCommand(packageCmd)

	packageCmd.Example = packageExample
}
