package pipeline

import (
	"net/http"
	"time"
)

const userAgent = "finmodel-orchestrator/1.0"

// NewPooledHTTPClient creates the shared client for data-source and reasoning
// collaborators. Every request carries a User-Agent.
func NewPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &uaTransport{next: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		}},
	}
}

type uaTransport struct {
	next http.RoundTripper
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", userAgent)
	return t.next.RoundTrip(r)
}
