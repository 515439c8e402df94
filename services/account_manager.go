package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"pkgkeeper/internal/logger"
	"pkgkeeper/internal/models"
	"pkgkeeper/internal/rpc"
	"pkgkeeper/internal/signing"
	"pkgkeeper/internal/store"
)

// PathRegisterAccount is the repository endpoint creating an account.
const PathRegisterAccount = "account/register"

var ErrNoAccount = errors.New("no account configured for repository")

// AccountManager keeps repository accounts and their signing keys.
type AccountManager struct {
	store   *store.Store
	client  *rpc.RepositoryClient
	keysDir string
}

func NewAccountManager(s *store.Store, client *rpc.RepositoryClient, keysDir string) *AccountManager {
	return &AccountManager{store: s, client: client, keysDir: keysDir}
}

func defaultAccountKey(repo string) string {
	return "account." + repo
}

// RegisterRequest describes an account to create on a repository.
type RegisterRequest struct {
	Username string
	Email    string
	Repo     string
}

/**
 * Register a new account on a repository
 * @param {context.Context} ctx - Request context
 * @param {RegisterRequest} req - Account details
 * @returns {(*models.LocalAccount, error)} Saved account
 * @description
 * - Generates a new RSA key, sends its public half without authentication
 * - The account is saved only after the repository accepted it; on failure
 *   the generated key is removed again
 */
func (am *AccountManager) Register(ctx context.Context, req RegisterRequest) (*models.LocalAccount, error) {
	if req.Username == "" {
		return nil, errors.New("username is required")
	}
	repo, err := am.store.GetRepo(req.Repo)
	if err != nil {
		return nil, fmt.Errorf("repository '%s': %w", req.Repo, err)
	}
	keyFile := filepath.Join(am.keysDir, fmt.Sprintf("%s-%s.pem", req.Repo, req.Username))
	if err := signing.GenerateKey(keyFile); err != nil {
		return nil, err
	}
	identity := signing.NewIdentity(req.Username, keyFile)
	pub, err := identity.PublicKeyPEM()
	if err != nil {
		_ = os.Remove(keyFile)
		return nil, err
	}

	channel := am.client.Channel()
	previous := channel.Identity()
	channel.SetAuth(nil)
	_, err = am.client.Post(ctx, repo, PathRegisterAccount, url.Values{
		"username":   {req.Username},
		"email":      {req.Email},
		"public_key": {pub},
	})
	channel.SetAuth(previous)
	if err != nil {
		_ = os.Remove(keyFile)
		return nil, fmt.Errorf("register account '%s' on '%s': %w", req.Username, req.Repo, err)
	}

	acct := &models.LocalAccount{Username: req.Username, Email: req.Email, KeyFile: keyFile, Repo: req.Repo}
	if err := am.save(acct); err != nil {
		return nil, err
	}
	logger.Infof("Registered account '%s' on '%s'", req.Username, req.Repo)
	return acct, nil
}

/**
 * Import an existing key as an account
 * @param {models.LocalAccount} acct - Account with username, repository and key file
 * @returns {error} signing.ErrKeyUnavailable when the key cannot be used
 */
func (am *AccountManager) Import(acct *models.LocalAccount) error {
	if acct.Username == "" {
		return errors.New("username is required")
	}
	if _, err := am.store.GetRepo(acct.Repo); err != nil {
		return fmt.Errorf("repository '%s': %w", acct.Repo, err)
	}
	abs, err := filepath.Abs(acct.KeyFile)
	if err != nil {
		return err
	}
	acct.KeyFile = abs
	if _, err := signing.LoadPrivateKey(abs); err != nil {
		return err
	}
	return am.save(acct)
}

func (am *AccountManager) save(acct *models.LocalAccount) error {
	if err := am.store.SaveAccount(acct); err != nil {
		return err
	}
	if _, err := am.store.GetSetting(defaultAccountKey(acct.Repo)); errors.Is(err, store.ErrNotFound) {
		return am.store.SetSetting(defaultAccountKey(acct.Repo), acct.Username)
	}
	return nil
}

func (am *AccountManager) List() ([]*models.LocalAccount, error) {
	return am.store.ListAccounts()
}

// Use makes username the account signing requests to its repository.
func (am *AccountManager) Use(username string) error {
	acct, err := am.store.GetAccount(username)
	if err != nil {
		return fmt.Errorf("account '%s': %w", username, err)
	}
	return am.store.SetSetting(defaultAccountKey(acct.Repo), username)
}

// AccountFor returns the account used for a repository.
func (am *AccountManager) AccountFor(repoAlias string) (*models.LocalAccount, error) {
	name, err := am.store.GetSetting(defaultAccountKey(repoAlias))
	if err == nil {
		return am.store.GetAccount(name)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return nil, fmt.Errorf("%w '%s'", ErrNoAccount, repoAlias)
}

/**
 * Point the channel at the account of a repository
 * @param {string} repoAlias - Repository alias
 * @returns {(*models.LocalAccount, error)} The account, ErrNoAccount leaves the channel anonymous
 */
func (am *AccountManager) Authenticate(repoAlias string) (*models.LocalAccount, error) {
	acct, err := am.AccountFor(repoAlias)
	if err != nil {
		am.client.Channel().SetAuth(nil)
		return nil, err
	}
	am.client.Channel().SetAuth(signing.NewIdentity(acct.Username, acct.KeyFile))
	logger.Debugf("Requests to '%s' are signed by '%s'", repoAlias, acct.Username)
	return acct, nil
}
