package account

import (
	"context"
	"fmt"

	"pkgkeeper/cmd/root"
	"pkgkeeper/internal/models"
	"pkgkeeper/internal/utils"
	"pkgkeeper/services"

	"github.com/iancoleman/orderedmap"
	"github.com/spf13/cobra"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Repository account operations (register/import/list/use)",
	Long:  `Repository account operations (register/import/list/use)`,
}

const accountExample = `  # create an account with a new key
  pkgkeeper account register alice --email alice@example.com
  # sign requests with an existing key
  pkgkeeper account import bob ~/.ssh/id_ed25519 --repo mirror`

var (
	accountRepo  string
	accountEmail string
)

func repoOrDefault(app *root.App) string {
	if accountRepo != "" {
		return accountRepo
	}
	return app.Config.Remote.DefaultRepo
}

var registerCmd = &cobra.Command{
	Use:   "register <username>",
	Short: "Register a new account on a repository with a freshly generated key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(func(app *root.App) error {
			acct, err := app.Accounts.Register(context.Background(), services.RegisterRequest{
				Username: args[0],
				Email:    accountEmail,
				Repo:     repoOrDefault(app),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(root.Stdout, "Registered '%s' on '%s', key saved to %s\n", acct.Username, acct.Repo, acct.KeyFile)
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <username> <key-file>",
	Short: "Use an existing private key (RSA or Ed25519) for an account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(func(app *root.App) error {
			acct := &models.LocalAccount{Username: args[0], KeyFile: args[1], Email: accountEmail, Repo: repoOrDefault(app)}
			if err := app.Accounts.Import(acct); err != nil {
				return err
			}
			fmt.Fprintf(root.Stdout, "Imported '%s' for '%s'\n", acct.Username, acct.Repo)
			return nil
		})
	},
}

var useCmd = &cobra.Command{
	Use:   "use <username>",
	Short: "Sign requests to the account's repository as username",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(func(app *root.App) error {
			return app.Accounts.Use(args[0])
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List repository accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(func(app *root.App) error {
			accounts, err := app.Accounts.List()
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				fmt.Fprintln(root.Stdout, "No accounts found")
				return nil
			}
			var dataList []*orderedmap.OrderedMap
			for _, acct := range accounts {
				recordMap := orderedmap.New()
				recordMap.Set("username", acct.Username)
				recordMap.Set("email", acct.Email)
				recordMap.Set("repo", acct.Repo)
				recordMap.Set("key", acct.KeyFile)
				active := false
				if cur, err := app.Accounts.AccountFor(acct.Repo); err == nil {
					active = cur.Username == acct.Username
				}
				recordMap.Set("active", active)
				dataList = append(dataList, recordMap)
			}
			utils.PrintFormat(root.Stdout, dataList)
			return nil
		})
	},
}

func init() {
	root.RootCmd.AddCommand(accountCmd)
	accountCmd.Example = accountExample

	accountCmd.AddCommand(registerCmd)
	accountCmd.AddCommand(importCmd)
	accountCmd.AddCommand(useCmd)
	accountCmd.AddCommand(listCmd)

	accountCmd.PersistentFlags().StringVar(&accountRepo, "repo", "", "repository alias (default remote.default_repo)")
	registerCmd.Flags().StringVar(&accountEmail, "email", "", "contact e-mail")
	importCmd.Flags().StringVar(&accountEmail, "email", "", "contact e-mail")
}
