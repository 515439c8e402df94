package vcs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pkgkeeper/internal/logger"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/otiai10/copy"
)

var ErrNothingToCommit = errors.New("nothing to commit")

// Author signs commits made by the client.
type Author struct {
	Name  string
	Email string
}

// Client drives working copies with go-git.
type Client struct {
	now func() time.Time
}

func NewClient() *Client {
	return &Client{now: time.Now}
}

/**
 * Clone url into dir, or pull when dir already holds a clone
 * @param {context.Context} ctx - Cancels the network exchange
 * @param {string} url - Remote repository URL
 * @param {string} dir - Working copy directory
 * @returns {(string, error)} Hash of the checked out HEAD
 */
func (c *Client) Checkout(ctx context.Context, url, dir string) (string, error) {
	var repo *git.Repository
	if _, err := os.Stat(filepath.Join(dir, git.GitDirName)); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return "", err
		}
		repo, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: url})
		if err != nil {
			return "", fmt.Errorf("error cloning git repository %q: %w", url, err)
		}
		logger.Infof("Cloned %s into %s", url, dir)
	} else {
		repo, err = git.PlainOpen(dir)
		if err != nil {
			return "", fmt.Errorf("open working copy %s: %w", dir, err)
		}
		wt, err := repo.Worktree()
		if err != nil {
			return "", err
		}
		err = wt.PullContext(ctx, &git.PullOptions{RemoteName: git.DefaultRemoteName})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return "", fmt.Errorf("pull %q into %s: %w", url, dir, err)
		}
		logger.Infof("Updated %s from %s", dir, url)
	}
	head, err := repo.Head()
	if err != nil {
		return "", err
	}
	return head.Hash().String(), nil
}

/**
 * Stage every change in dir and commit it
 * @param {string} dir - Working copy, initialized when it is not a repository yet
 * @param {string} message - Commit message
 * @param {Author} author - Commit author and committer
 * @returns {(string, error)} Commit hash, ErrNothingToCommit on a clean tree
 */
func (c *Client) Commit(dir, message string, author Author) (string, error) {
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
		repo, err = git.PlainInit(dir, false)
	}
	if err != nil {
		return "", fmt.Errorf("open working copy %s: %w", dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", err
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("stage changes in %s: %w", dir, err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", err
	}
	if status.IsClean() {
		return "", ErrNothingToCommit
	}
	sig := &object.Signature{Name: author.Name, Email: author.Email, When: c.now()}
	hash, err := wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return "", fmt.Errorf("commit in %s: %w", dir, err)
	}
	logger.Infof("Committed %s in %s", hash.String()[:7], dir)
	return hash.String(), nil
}

/**
 * Mirror package paths from one tree into another
 * @param {string} srcRoot - Tree to copy from
 * @param {string} dstRoot - Tree to copy into
 * @param {[]string} paths - Paths relative to both roots; missing sources are skipped
 * @description
 * - Each destination path is replaced, not merged, so deletions propagate
 */
func Sync(srcRoot, dstRoot string, paths []string) error {
	for _, p := range paths {
		src := filepath.Join(srcRoot, p)
		dst := filepath.Join(dstRoot, p)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
		if err := copy.Copy(src, dst); err != nil {
			return fmt.Errorf("sync %s: %w", p, err)
		}
	}
	return nil
}
