package packages

import (
	"context"
	"errors"
	"fmt"

	"pkgkeeper/cmd/root"

	"github.com/spf13/cobra"
)

var deleteYes bool

var deleteCmd = &cobra.Command{
	Use:   "delete <alias>",
	Short: "Remove a package, its migrations, files and snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !deleteYes {
			return errors.New("deleting removes files and reverses migrations, pass --yes to confirm")
		}
		return root.Run(func(app *root.App) error {
			if err := app.Packages.Delete(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(root.Stdout, "Deleted package '%s'\n", args[0])
			return nil
		})
	},
}

func init() {
	packageCmd.AddCommand(deleteCmd)

	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "confirm the deletion")
}
