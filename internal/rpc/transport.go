package rpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Transport issues one request/response exchange with the repository service.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Request is a form-encoded repository request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Form   url.Values
}

// Response is the raw repository reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPConfig 定义HTTP客户端配置
type HTTPConfig struct {
	Timeout            time.Duration // 默认超时时间
	InsecureSkipVerify bool
	UserAgent          string
}

// DefaultHTTPConfig 返回默认HTTP客户端配置
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		Timeout:   30 * time.Second,
		UserAgent: "pkgkeeper",
	}
}

type httpTransport struct {
	config *HTTPConfig
	client *http.Client
}

/**
 * Create the net/http transport
 * @param {HTTPConfig} config - Transport configuration, nil for defaults
 * @returns {Transport} Transport bounded by config.Timeout
 */
func NewHTTPTransport(config *HTTPConfig) Transport {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
	}
	if config.InsecureSkipVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &httpTransport{
		config: config,
		client: &http.Client{
			Transport: tr,
			Timeout:   config.Timeout,
		},
	}
}

func (t *httpTransport) Do(ctx context.Context, r *Request) (*Response, error) {
	if t.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Timeout)
		defer cancel()
	}

	var body io.Reader
	target := r.URL
	if r.Method == http.MethodGet || r.Method == http.MethodDelete {
		u, err := buildURL(r.URL, r.Form)
		if err != nil {
			return nil, err
		}
		target = u
	} else if r.Form != nil {
		body = strings.NewReader(r.Form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vals := range r.Header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	if t.config.UserAgent != "" {
		req.Header.Set("User-Agent", t.config.UserAgent)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// buildURL 构建完整的URL
func buildURL(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if len(params) > 0 {
		q := u.Query()
		for key, vals := range params {
			for _, v := range vals {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
