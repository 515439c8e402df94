package packages

import (
	"context"
	"errors"
	"fmt"

	"pkgkeeper/cmd/root"
	"pkgkeeper/internal/vcs"
	"pkgkeeper/services"

	"github.com/spf13/cobra"
)

var checkoutRepo string

var checkoutCmd = &cobra.Command{
	Use:   "checkout <alias>",
	Short: "Clone or update a package from its repository's source control",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return root.Run(func(app *root.App) error {
			repo := checkoutRepo
			if repo == "" {
				pkg, err := app.Packages.Get(args[0])
				switch {
				case err == nil:
					repo = pkg.Repo
				case !errors.Is(err, services.ErrPackageNotFound):
					return err
				}
			}
			if repo == "" {
				repo = app.Config.Remote.DefaultRepo
			}
			if _, err := app.Accounts.Authenticate(repo); err != nil && !errors.Is(err, services.ErrNoAccount) {
				return err
			}
			pkg, err := app.Packages.Checkout(context.Background(), args[0], repo)
			if err != nil {
				return err
			}
			fmt.Fprintf(root.Stdout, "Checked out %s@%s\n", pkg.Alias, pkg.Version)
			return nil
		})
	},
}

var (
	commitMessage string
	commitAuthor  vcs.Author
)

var commitCmd = &cobra.Command{
	Use:   "commit <alias>",
	Short: "Commit the package files into its source-control working copy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if commitMessage == "" {
			return errors.New("a commit message is required (-m)")
		}
		return root.Run(func(app *root.App) error {
			author := commitAuthor
			if author.Name == "" {
				pkg, err := app.Packages.Get(args[0])
				if err != nil {
					return err
				}
				if acct, err := app.Accounts.AccountFor(pkg.Repo); err == nil {
					author = vcs.Author{Name: acct.Username, Email: acct.Email}
				} else {
					author.Name = pkg.Author
				}
			}
			hash, err := app.Packages.Commit(args[0], commitMessage, author)
			if errors.Is(err, vcs.ErrNothingToCommit) {
				fmt.Fprintln(root.Stdout, "Nothing to commit")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(root.Stdout, "Committed %s\n", hash[:7])
			return nil
		})
	},
}

func init() {
	packageCmd.AddCommand(checkoutCmd)
	packageCmd.AddCommand(commitCmd)

	checkoutCmd.Flags().StringVar(&checkoutRepo, "repo", "", "repository alias for packages not known locally")
	commitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", "commit message")
	commitCmd.Flags().StringVar(&commitAuthor.Name, "author-name", "", "commit author (default: the repository account)")
	commitCmd.Flags().StringVar(&commitAuthor.Email, "author-email", "", "commit author e-mail")
}
