package rest

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// NewHTTPClient builds the client used against the REST API. It speaks
// HTTP/2 and falls back to HTTP/1.1, honouring the proxy environment.
// allowInsecure skips certificate verification and is meant for local
// proxies only.
func NewHTTPClient(allowInsecure bool, timeout time.Duration) (*http.Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: allowInsecure,
		},
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("configure http2 transport: %w", err)
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}
