package services

import (
	"fmt"
	"net/url"
	"strings"

	"pkgkeeper/internal/logger"
	"pkgkeeper/internal/models"
	"pkgkeeper/internal/store"
)

// RepoManager keeps the repositories packages are published to.
type RepoManager struct {
	store *store.Store
}

func NewRepoManager(s *store.Store) *RepoManager {
	return &RepoManager{store: s}
}

// Add stores a repository; an alias can be added only once.
func (rm *RepoManager) Add(alias, host string) (*models.LocalRepo, error) {
	if !aliasPattern.MatchString(alias) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAlias, alias)
	}
	u, err := url.Parse(host)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("repository host must be an http(s) URL, got %q", host)
	}
	repo := &models.LocalRepo{Alias: alias, Host: strings.TrimRight(host, "/")}
	if err := rm.store.AddRepo(repo); err != nil {
		return nil, fmt.Errorf("add repository '%s': %w", alias, err)
	}
	logger.Infof("Added repository '%s' at %s", alias, repo.Host)
	return repo, nil
}

func (rm *RepoManager) Get(alias string) (*models.LocalRepo, error) {
	return rm.store.GetRepo(alias)
}

func (rm *RepoManager) List() ([]*models.LocalRepo, error) {
	return rm.store.ListRepos()
}
