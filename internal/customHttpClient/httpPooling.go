package customHttpClient

import (
	"net/http"
	"sync"
	"time"

	"github.com/akolanti/layoutlens/internal/config"
)

var (
	once   sync.Once
	shared *http.Client
)

var customTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConns:        config.MaxIdleConns,
	MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
	IdleConnTimeout:     config.IdleConnTimeout,
}

// GetClient returns the process-wide pooled client used for engine calls.
// Requests carry their own deadline via context; the client timeout is a backstop.
func GetClient() *http.Client {
	once.Do(func() {
		shared = &http.Client{
			Transport: customTransport,
			Timeout:   config.EngineRequestTimeout + 5*time.Second,
		}
	})
	return shared
}
