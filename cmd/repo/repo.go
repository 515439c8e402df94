package repo

import (
	"fmt"

	"pkgkeeper/cmd/root"
	"pkgkeeper/internal/utils"

	"github.com/iancoleman/orderedmap"
	"github.com/spf13/cobra"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Package repository operations (add/list)",
	Long:  `Package repository operations (add/list)`,
}

var addCmd = &cobra.Command{
	Use:     "add <alias> <api-url>",
	Short:   "Add a package repository",
	Example: `  pkgkeeper repo add main https://packages.example.com/api/`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(func(app *root.App) error {
			repo, err := app.Repos.Add(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(root.Stdout, "Added repository '%s' (%s)\n", repo.Alias, repo.Host)
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List package repositories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(func(app *root.App) error {
			repos, err := app.Repos.List()
			if err != nil {
				return err
			}
			if len(repos) == 0 {
				fmt.Fprintln(root.Stdout, "No repositories found")
				return nil
			}
			var dataList []*orderedmap.OrderedMap
			for _, r := range repos {
				row := orderedmap.New()
				row.Set("alias", r.Alias)
				row.Set("host", r.Host)
				account := ""
				if acct, err := app.Accounts.AccountFor(r.Alias); err == nil {
					account = acct.Username
				}
				row.Set("account", account)
				row.Set("default", r.Alias == app.Config.Remote.DefaultRepo)
				dataList = append(dataList, row)
			}
			utils.PrintFormat(root.Stdout, dataList)
			return nil
		})
	},
}

func init() {
	root.RootCmd.AddCommand(repoCmd)
	repoCmd.AddCommand(addCmd)
	repoCmd.AddCommand(listCmd)
}
