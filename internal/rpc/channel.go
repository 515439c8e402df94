package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pkgkeeper/internal/logger"
	"pkgkeeper/internal/metrics"
	"pkgkeeper/internal/models"
	"pkgkeeper/internal/signing"
)

const (
	// ChallengePath is always sent without authentication headers.
	ChallengePath = "get_auth_challenge"

	HeaderUsername  = "API-Username"
	HeaderSignature = "API-Signature"
)

/**
 * Authenticated request channel to repository services
 * @description
 * - Holds at most one signing identity, replaced wholesale by SetAuth
 * - Caches one session signature per repository host, obtained lazily by
 *   signing the nonce returned from the challenge endpoint
 * - Not safe for concurrent use, commands run one request at a time
 */
type Channel struct {
	transport  Transport
	identity   *signing.Identity
	signatures map[string]string
}

func NewChannel(transport Transport) *Channel {
	if transport == nil {
		transport = NewHTTPTransport(nil)
	}
	return &Channel{
		transport:  transport,
		signatures: make(map[string]string),
	}
}

// SetAuth replaces the identity used for subsequent calls; nil disables authentication.
func (c *Channel) SetAuth(identity *signing.Identity) {
	c.identity = identity
	c.signatures = make(map[string]string)
}

// ResetAuth drops cached signatures so the next call repeats the challenge exchange.
func (c *Channel) ResetAuth() {
	c.signatures = make(map[string]string)
}

// Identity returns the identity installed with SetAuth, if any.
func (c *Channel) Identity() *signing.Identity {
	return c.identity
}

/**
 * Send one request to a repository
 * @param {context.Context} ctx - Request context
 * @param {string} method - HTTP method
 * @param {*models.LocalRepo} repo - Destination repository
 * @param {string} path - Endpoint path relative to the repository API base
 * @param {url.Values} params - Form fields (query string for GET)
 * @returns {(*models.Envelope, error)} Decoded envelope with status "ok"
 * @throws
 * - *TransportError when the repository is unreachable
 * - *RemoteError when the repository rejects the request
 * - *ProtocolError when the body is not a JSON envelope
 * - signing.ErrKeyUnavailable when the challenge cannot be signed
 */
func (c *Channel) Send(ctx context.Context, method string, repo *models.LocalRepo, path string, params url.Values) (*models.Envelope, error) {
	header := make(http.Header)
	if c.identity != nil && strings.Trim(path, "/") != ChallengePath {
		sig, err := c.signature(ctx, repo)
		if err != nil {
			return nil, err
		}
		header.Set(HeaderUsername, c.identity.Username)
		header.Set(HeaderSignature, sig)
	}

	env, err := c.exchange(ctx, method, repo.APIURL(path), path, header, params)
	if err != nil {
		var re *RemoteError
		if IsTransportError(err) || (errors.As(err, &re) && re.Status == http.StatusUnauthorized) {
			delete(c.signatures, destination(repo))
		}
		return nil, err
	}
	return env, nil
}

func (c *Channel) signature(ctx context.Context, repo *models.LocalRepo) (string, error) {
	dest := destination(repo)
	if sig, ok := c.signatures[dest]; ok {
		return sig, nil
	}

	metrics.IncChallenge()
	form := url.Values{"username": {c.identity.Username}}
	target := repo.APIURL(ChallengePath)
	env, err := c.exchange(ctx, http.MethodPost, target, ChallengePath, make(http.Header), form)
	if err != nil {
		return "", err
	}
	var data struct {
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Challenge == "" {
		if err == nil {
			err = errors.New("empty challenge")
		}
		return "", &ProtocolError{URL: target, Status: http.StatusOK, Err: err}
	}

	sig, err := c.identity.Sign(data.Challenge)
	if err != nil {
		return "", err
	}
	logger.Debugf("Authenticated '%s' against %s", c.identity.Username, dest)
	c.signatures[dest] = sig
	return sig, nil
}

func (c *Channel) exchange(ctx context.Context, method, target, endpoint string, header http.Header, form url.Values) (*models.Envelope, error) {
	logger.Debugf("Sending %s request to %s", method, target)
	start := time.Now()

	resp, err := c.transport.Do(ctx, &Request{
		Method: method,
		URL:    target,
		Header: header,
		Form:   form,
	})
	if err != nil {
		metrics.ObserveRemoteCall(endpoint, metrics.OutcomeTransport, time.Since(start))
		return nil, &TransportError{URL: target, Err: err}
	}

	env, err := decodeEnvelope(target, resp)
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeProtocol
		if IsRemoteError(err) {
			outcome = metrics.OutcomeRemote
		}
	}
	metrics.ObserveRemoteCall(endpoint, outcome, time.Since(start))
	return env, err
}

// decodeEnvelope maps a raw response onto the envelope contract.
func decodeEnvelope(target string, resp *Response) (*models.Envelope, error) {
	var env models.Envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, &ProtocolError{URL: target, Status: resp.StatusCode, Err: err}
	}

	failed := resp.StatusCode < 200 || resp.StatusCode >= 300
	if !failed && env.Status != models.StatusError {
		return &env, nil
	}

	remote := &RemoteError{Status: resp.StatusCode, Message: env.Message}
	if len(env.Data) > 0 {
		var loc models.ErrorData
		if json.Unmarshal(env.Data, &loc) == nil {
			remote.File = loc.File
			if loc.Line != nil {
				remote.Line = fmt.Sprint(loc.Line)
			}
		}
	}
	if remote.Message == "" {
		remote.Message = http.StatusText(resp.StatusCode)
	}
	return nil, remote
}

func destination(repo *models.LocalRepo) string {
	return strings.TrimRight(repo.Host, "/")
}

func (c *Channel) String() string {
	if c.identity == nil {
		return "channel(anonymous)"
	}
	return fmt.Sprintf("channel(%s)", c.identity.Username)
}
