package packages

import (
	"fmt"

	"pkgkeeper/cmd/root"
	"pkgkeeper/internal/utils"

	"github.com/iancoleman/orderedmap"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local packages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(listPackages)
	},
}

/**
 *	Fields displayed in list format
 */
type Package_Columns struct {
	Alias     string `json:"alias"`
	Version   string `json:"version"`
	Repo      string `json:"repo"`
	Author    string `json:"author"`
	Local     bool   `json:"local"`
	Staging   bool   `json:"staging"`
	Snapshots int    `json:"snapshots"`
	Updated   string `json:"updated"`
}

func listPackages(app *root.App) error {
	pkgs, err := app.Packages.List()
	if err != nil {
		return err
	}
	if len(pkgs) == 0 {
		fmt.Fprintln(root.Stdout, "No packages found")
		return nil
	}
	var dataList []*orderedmap.OrderedMap
	for _, pkg := range pkgs {
		snaps, _ := app.Packages.Snapshots(pkg.Alias)
		row := Package_Columns{
			Alias:     pkg.Alias,
			Version:   pkg.Version,
			Repo:      pkg.Repo,
			Author:    pkg.Author,
			Local:     pkg.Local,
			Staging:   pkg.Staging,
			Snapshots: len(snaps),
			Updated:   root.FormatTime(pkg.UpdatedAt),
		}
		recordMap, _ := utils.StructToOrderedMap(row)
		dataList = append(dataList, recordMap)
	}
	utils.PrintFormat(root.Stdout, dataList)
	return nil
}

func init() {
	packageCmd.AddCommand(listCmd)
}
