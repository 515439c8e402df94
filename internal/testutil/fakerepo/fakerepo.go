// Package fakerepo runs an in-process repository service for tests.
package fakerepo

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"pkgkeeper/internal/models"
	"pkgkeeper/internal/signing"

	"github.com/gin-gonic/gin"
)

// Call is one request received by the fake repository.
type Call struct {
	Method    string
	Path      string
	Username  string
	Signature string
	Form      map[string]string
}

/**
 * Fake repository service
 * @description
 * - Issues nonces on get_auth_challenge and verifies API-Signature against
 *   the public keys registered with RegisterKey
 * - Unknown endpoints answer 404 with an error envelope
 */
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	challenges int
	calls      []Call
	keys       map[string]string
	nonces     map[string]string
	handlers   map[string]gin.HandlerFunc
	seq        int
}

func New(t testing.TB) *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		keys:     make(map[string]string),
		nonces:   make(map[string]string),
		handlers: make(map[string]gin.HandlerFunc),
	}
	router := gin.New()
	router.Any("/api/*path", s.dispatch)
	s.Server = httptest.NewServer(router)
	t.Cleanup(s.Close)
	return s
}

// Repo returns a LocalRepo pointing at the fake service.
func (s *Server) Repo(alias string) *models.LocalRepo {
	return &models.LocalRepo{Alias: alias, Host: s.URL + "/api/"}
}

func (s *Server) RegisterKey(username, publicPEM string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[username] = publicPEM
}

// RegisterIdentity registers the public key of id.
func (s *Server) RegisterIdentity(t testing.TB, id *signing.Identity) {
	pub, err := id.PublicKeyPEM()
	if err != nil {
		t.Fatalf("public key of %s: %v", id.Username, err)
	}
	s.RegisterKey(id.Username, pub)
}

func (s *Server) Handle(path string, fn gin.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[strings.Trim(path, "/")] = fn
}

func (s *Server) Challenges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.challenges
}

// Calls returns every non-challenge request in arrival order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Paths returns the endpoint of every non-challenge request.
func (s *Server) Paths() []string {
	var paths []string
	for _, c := range s.Calls() {
		paths = append(paths, c.Path)
	}
	return paths
}

// OK writes a success envelope.
func OK(c *gin.Context, data interface{}) {
	if data == nil {
		data = gin.H{}
	}
	c.JSON(http.StatusOK, gin.H{"status": models.StatusOK, "message": "", "data": data})
}

// Fail writes an error envelope.
func Fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"status": models.StatusError, "message": message, "data": gin.H{}})
}

func (s *Server) dispatch(c *gin.Context) {
	path := strings.Trim(c.Param("path"), "/")
	if err := c.Request.ParseForm(); err != nil {
		Fail(c, http.StatusBadRequest, err.Error())
		return
	}

	if path == "get_auth_challenge" {
		username := c.Request.Form.Get("username")
		s.mu.Lock()
		s.challenges++
		s.seq++
		nonce := fmt.Sprintf("nonce-%s-%d", username, s.seq)
		s.nonces[username] = nonce
		s.mu.Unlock()
		OK(c, gin.H{"challenge": nonce})
		return
	}

	call := Call{
		Method:    c.Request.Method,
		Path:      path,
		Username:  c.GetHeader("API-Username"),
		Signature: c.GetHeader("API-Signature"),
		Form:      make(map[string]string),
	}
	for k := range c.Request.Form {
		call.Form[k] = c.Request.Form.Get(k)
	}

	s.mu.Lock()
	s.calls = append(s.calls, call)
	handler := s.handlers[path]
	pub := s.keys[call.Username]
	nonce := s.nonces[call.Username]
	s.mu.Unlock()

	if call.Username != "" {
		if pub == "" || nonce == "" || signing.Verify(pub, nonce, call.Signature) != nil {
			Fail(c, http.StatusUnauthorized, "invalid signature")
			return
		}
	}
	if handler == nil {
		Fail(c, http.StatusNotFound, "unknown endpoint "+path)
		return
	}
	handler(c)
}

// Form returns a request form value inside a handler.
func Form(c *gin.Context, key string) string {
	return c.Request.Form.Get(key)
}
