package packages

import (
	"context"
	"fmt"

	"pkgkeeper/cmd/root"
	"pkgkeeper/internal/logger"

	"github.com/spf13/cobra"
)

var rollbackTo string

var rollbackCmd = &cobra.Command{
	Use:   "rollback <alias>",
	Short: "Roll a package back to an earlier version",
	Long: `Reverse upgrades newest first using their snapshots. Without --to only the
most recent upgrade is reversed. Migrations that cannot be reversed are reported
as warnings; files and version are restored regardless.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(func(app *root.App) error {
			results, err := app.Packages.Rollback(context.Background(), args[0], rollbackTo)
			for _, res := range results {
				fmt.Fprintf(root.Stdout, "Rolled back '%s' %s -> %s (%d restored, %d removed, %d migrations reversed)\n",
					res.Alias, res.Version, res.RestoredVersion, len(res.FilesRestored), len(res.FilesRemoved), len(res.Reverted))
				if warn := res.Warnings(); warn != nil {
					logger.Warnf("Rollback of %s@%s needs attention: %v", res.Alias, res.Version, warn)
				}
			}
			return err
		})
	},
}

func init() {
	packageCmd.AddCommand(rollbackCmd)

	rollbackCmd.Flags().StringVar(&rollbackTo, "to", "", "target version (default: reverse the latest upgrade only)")
}
