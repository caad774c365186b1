package dispatch

import (
	"net"
	"net/http"
	"time"
)

// NewHTTPClient returns a pooled client for talking to the agent.
//
// The client has no overall timeout: a dispatch waits as long as the
// caller's context allows. Only dialing and TLS setup are bounded.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}
