package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"pkgkeeper/internal/models"
)

// RepositoryClient is the typed protocol adapter over a Channel.
// It neither caches nor retries.
type RepositoryClient struct {
	channel *Channel
}

func NewRepositoryClient(channel *Channel) *RepositoryClient {
	return &RepositoryClient{channel: channel}
}

func (c *RepositoryClient) Channel() *Channel {
	return c.channel
}

// Get returns the data field of GET repo.APIURL(path).
func (c *RepositoryClient) Get(ctx context.Context, repo *models.LocalRepo, path string) (json.RawMessage, error) {
	env, err := c.channel.Send(ctx, http.MethodGet, repo, path, nil)
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

// Post returns the data field of POST repo.APIURL(path) with form-encoded params.
func (c *RepositoryClient) Post(ctx context.Context, repo *models.LocalRepo, path string, params url.Values) (json.RawMessage, error) {
	if params == nil {
		params = url.Values{}
	}
	env, err := c.channel.Send(ctx, http.MethodPost, repo, path, params)
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *RepositoryClient) GetInto(ctx context.Context, repo *models.LocalRepo, path string, out interface{}) error {
	data, err := c.Get(ctx, repo, path)
	if err != nil {
		return err
	}
	return decodeData(repo.APIURL(path), data, out)
}

func (c *RepositoryClient) PostInto(ctx context.Context, repo *models.LocalRepo, path string, params url.Values, out interface{}) error {
	data, err := c.Post(ctx, repo, path, params)
	if err != nil {
		return err
	}
	return decodeData(repo.APIURL(path), data, out)
}

func decodeData(target string, data json.RawMessage, out interface{}) error {
	if out == nil {
		return nil
	}
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ProtocolError{URL: target, Status: http.StatusOK, Err: err}
	}
	return nil
}
