package utils

import (
	"net"
	"net/http"
	"time"
)

type HTTPClientConfig struct {
	Timeout        time.Duration // response header timeout
	ConnectTimeout time.Duration
	KATimeout      time.Duration
	UserAgent      string
	Headers        map[string]string
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type MirrorHTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

// NewMirrorHTTPClient builds a client without an overall request deadline;
// bodies of multi-gigabyte files are bounded by the read stall watchdog
// in the downloader instead.
func NewMirrorHTTPClient(cfg HTTPClientConfig) *MirrorHTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultHeaderTimeout
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = DefaultKeepAliveTimeout
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.Timeout,
		IdleConnTimeout:       cfg.KATimeout,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
	}
	return &MirrorHTTPClient{
		client: &http.Client{Transport: transport},
		config: cfg,
	}
}

func (c *MirrorHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", ToolUserAgent)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	return c.client.Do(req)
}
