// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package httpx provides a simpler http.Client abstraction and the
// transport options the Fetcher (C1) needs per-repository: an HTTP/HTTPS
// proxy, a client certificate/key pair, a CA bundle, and HTTP basic auth.
package httpx

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// BasicClient is a simpler http.Client that only requires a Do method.
type BasicClient interface {
	Do(*http.Request) (*http.Response, error)
}

var _ BasicClient = http.DefaultClient

// WithUserAgent is a basic HTTP client that adds a User-Agent header.
type WithUserAgent struct {
	BasicClient
	UserAgent string
}

var _ BasicClient = &WithUserAgent{}

// Do adds the User-Agent header and sends the request.
func (c *WithUserAgent) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.UserAgent)
	return c.BasicClient.Do(req)
}

// BasicAuthClient is a BasicClient that attaches HTTP basic auth
// credentials to every request, for repositories configured with them.
type BasicAuthClient struct {
	BasicClient
	Username, Password string
}

var _ BasicClient = &BasicAuthClient{}

// Do attaches the basic auth header and sends the request.
func (c *BasicAuthClient) Do(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(c.Username, c.Password)
	return c.BasicClient.Do(req)
}

// RateLimitedClient paces requests through a token-bucket limiter, used to
// apply an optional steady-state per-repository download rate limit. The
// Fetcher's 10s inter-retry backoff is paced separately by
// fetcher.RetryLimiter.
type RateLimitedClient struct {
	BasicClient
	Limiter *rate.Limiter
}

var _ BasicClient = &RateLimitedClient{}

// Do blocks until the limiter admits the request, then sends it.
func (c *RateLimitedClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.Limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return c.BasicClient.Do(req)
}

// TLSConfig holds the optional transport credentials a Repository may
// declare: a client certificate/key pair and a CA bundle. A nil/zero
// TLSConfig means "use the system default transport."
type TLSConfig struct {
	ClientCertPath string
	ClientKeyPath  string
	CABundlePath   string
}

// ClientOptions configures NewClient.
type ClientOptions struct {
	ProxyURL          string
	TLS               TLSConfig
	BasicAuthUser     string
	BasicAuthPassword string
	UserAgent         string
	Timeout           time.Duration
}

// NewClient builds a BasicClient from per-repository fetcher configuration:
// an optional proxy (applied to both http:// and https://), an optional
// client certificate/key pair and CA bundle, and optional HTTP basic auth.
func NewClient(opts ClientOptions) (BasicClient, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, errors.Wrap(err, "parsing proxy URL")
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	tlsConfig, err := buildTLSConfig(opts.TLS)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	var client BasicClient = &http.Client{Transport: transport, Timeout: timeout}
	if opts.UserAgent != "" {
		client = &WithUserAgent{BasicClient: client, UserAgent: opts.UserAgent}
	}
	if opts.BasicAuthUser != "" {
		client = &BasicAuthClient{BasicClient: client, Username: opts.BasicAuthUser, Password: opts.BasicAuthPassword}
	}
	return client, nil
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	if cfg.ClientCertPath == "" && cfg.CABundlePath == "" {
		return nil, nil
	}
	tlsConfig := &tls.Config{}
	if cfg.ClientCertPath != "" {
		if cfg.ClientKeyPath == "" {
			return nil, errors.New("client certificate configured without a matching key")
		}
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertPath, cfg.ClientKeyPath)
		if err != nil {
			return nil, errors.Wrap(err, "loading client certificate/key pair")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	if cfg.CABundlePath != "" {
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		pem, err := os.ReadFile(cfg.CABundlePath)
		if err != nil {
			return nil, errors.Wrap(err, "reading CA bundle")
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("no certificates found in CA bundle %s", cfg.CABundlePath)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

