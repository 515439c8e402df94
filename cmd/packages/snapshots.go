package packages

import (
	"fmt"

	"pkgkeeper/cmd/root"
	"pkgkeeper/internal/utils"

	"github.com/iancoleman/orderedmap"
	"github.com/spf13/cobra"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots <alias>",
	Short: "List the rollback snapshots of a package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(func(app *root.App) error {
			snaps, err := app.Packages.Snapshots(args[0])
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				fmt.Fprintln(root.Stdout, "No snapshots found")
				return nil
			}
			var dataList []*orderedmap.OrderedMap
			for _, snap := range snaps {
				row := orderedmap.New()
				row.Set("version", snap.Version)
				row.Set("complete", snap.Complete)
				row.Set("files", snap.FilesSaved)
				if snap.Manifest != nil {
					row.Set("from", snap.Manifest.FromVersion)
					row.Set("created", root.FormatTime(snap.Manifest.CreatedAt))
					row.Set("migrations", snap.Manifest.Migrations)
					row.Set("added", snap.Manifest.FilesAdded)
				} else {
					row.Set("from", nil)
					row.Set("created", nil)
					row.Set("migrations", nil)
					row.Set("added", nil)
				}
				dataList = append(dataList, row)
			}
			utils.PrintFormat(root.Stdout, dataList)
			return nil
		})
	},
}

func init() {
	packageCmd.AddCommand(snapshotsCmd)
}
