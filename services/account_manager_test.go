package services

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pkgkeeper/internal/models"
	"pkgkeeper/internal/rpc"
	"pkgkeeper/internal/signing"
	"pkgkeeper/internal/store"
	"pkgkeeper/internal/testutil/fakerepo"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAccountThenSignRequests(t *testing.T) {
	env := newTestEnv(t)
	env.srv.Handle(PathRegisterAccount, func(c *gin.Context) {
		env.srv.RegisterKey(fakerepo.Form(c, "username"), fakerepo.Form(c, "public_key"))
		fakerepo.OK(c, nil)
	})
	env.srv.Handle("package/list", func(c *gin.Context) {
		fakerepo.OK(c, []string{})
	})

	acct, err := env.accounts.Register(context.Background(), RegisterRequest{Username: "bob", Email: "bob@example.com", Repo: "main"})
	require.NoError(t, err)
	assert.FileExists(t, acct.KeyFile)

	calls := env.srv.Calls()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].Username, "registration is anonymous")
	assert.Equal(t, env.identity, env.pm.Client().Channel().Identity())

	got, err := env.accounts.AccountFor("main")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Username)

	_, err = env.accounts.Authenticate("main")
	require.NoError(t, err)
	_, err = env.pm.Client().Get(context.Background(), env.srv.Repo("main"), "package/list")
	require.NoError(t, err)
	assert.Equal(t, "bob", env.srv.Calls()[1].Username)
}

func TestRegisterFailureRemovesKey(t *testing.T) {
	env := newTestEnv(t)
	env.srv.Handle(PathRegisterAccount, func(c *gin.Context) {
		fakerepo.Fail(c, http.StatusConflict, "username taken")
	})

	_, err := env.accounts.Register(context.Background(), RegisterRequest{Username: "bob", Repo: "main"})
	var remote *rpc.RemoteError
	require.True(t, errors.As(err, &remote), "got %v", err)
	assert.Equal(t, http.StatusConflict, remote.Status)

	entries, _ := os.ReadDir(env.accounts.keysDir)
	assert.Empty(t, entries)
	_, err = env.accounts.AccountFor("main")
	assert.True(t, errors.Is(err, ErrNoAccount))
	assert.Equal(t, env.identity, env.pm.Client().Channel().Identity())
}

func TestImportAndUseAccounts(t *testing.T) {
	env := newTestEnv(t)

	err := env.accounts.Import(&models.LocalAccount{Username: "ghost", Repo: "main", KeyFile: filepath.Join(t.TempDir(), "none.pem")})
	assert.True(t, errors.Is(err, signing.ErrKeyUnavailable), "got %v", err)

	keyFile := filepath.Join(t.TempDir(), "carol.pem")
	require.NoError(t, signing.GenerateKey(keyFile))
	require.NoError(t, env.accounts.Import(&models.LocalAccount{Username: "carol", Repo: "main", KeyFile: keyFile}))
	require.NoError(t, env.accounts.Import(&models.LocalAccount{Username: "dave", Repo: "main", KeyFile: keyFile}))

	// the first account of a repository becomes its default
	acct, err := env.accounts.AccountFor("main")
	require.NoError(t, err)
	assert.Equal(t, "carol", acct.Username)

	require.NoError(t, env.accounts.Use("dave"))
	acct, err = env.accounts.Authenticate("main")
	require.NoError(t, err)
	assert.Equal(t, "dave", acct.Username)
	assert.Equal(t, "dave", env.pm.Client().Channel().Identity().Username)

	assert.True(t, errors.Is(env.accounts.Use("erin"), store.ErrNotFound))

	accounts, err := env.accounts.List()
	require.NoError(t, err)
	assert.Len(t, accounts, 2)

	_, err = env.accounts.Authenticate("mirror")
	assert.True(t, errors.Is(err, ErrNoAccount))
	assert.Nil(t, env.pm.Client().Channel().Identity())
}

func TestRepoManagerAdd(t *testing.T) {
	env := newTestEnv(t)
	rm := NewRepoManager(env.store)

	repo, err := rm.Add("mirror", "https://mirror.example.com/api/")
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example.com/api", repo.Host)

	_, err = rm.Add("mirror", "https://other.example.com/api")
	assert.True(t, errors.Is(err, store.ErrAliasExists), "got %v", err)
	_, err = rm.Add("ftp", "ftp://mirror.example.com")
	assert.Error(t, err)
	_, err = rm.Add("Bad Alias", "https://mirror.example.com")
	assert.True(t, errors.Is(err, ErrInvalidAlias))

	repos, err := rm.List()
	require.NoError(t, err)
	assert.Len(t, repos, 2)
}

func TestRetryPolicyRetriesTransportErrorsOnly(t *testing.T) {
	policy := RetryPolicy{Retries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

	attempts := 0
	err := policy.Do(context.Background(), "probe", func() error {
		attempts++
		return &rpc.TransportError{URL: "http://repo", Err: errors.New("connection refused")}
	})
	assert.True(t, rpc.IsTransportError(err))
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = policy.Do(context.Background(), "probe", func() error {
		attempts++
		return &rpc.RemoteError{Status: http.StatusForbidden, Message: "quota exceeded"}
	})
	assert.True(t, rpc.IsRemoteError(err))
	assert.Equal(t, 1, attempts)

	attempts = 0
	err = policy.Do(context.Background(), "probe", func() error {
		attempts++
		if attempts < 2 {
			return &rpc.TransportError{URL: "http://repo", Err: errors.New("reset")}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)

	attempts = 0
	_ = RetryPolicy{}.Do(context.Background(), "probe", func() error {
		attempts++
		return &rpc.TransportError{URL: "http://repo", Err: errors.New("down")}
	})
	assert.Equal(t, 1, attempts)
}
