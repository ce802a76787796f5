package spv

import (
	"net/http"
	"strings"
	"time"
)

// defaultRequestsPerSecond is a conservative per-provider rate limit;
// Esplora's public instances tolerate this order of magnitude for
// header/proof lookups.
const defaultRequestsPerSecond = 4

// NewPoolFromURLs builds a Pool from a comma-separated list of Esplora
// base URLs (config.Config.EsploraURLs), skipping blank entries.
func NewPoolFromURLs(rawURLs string) *Pool {
	httpClient := &http.Client{Timeout: 10 * time.Second}

	var clients []*Client
	for _, u := range strings.Split(rawURLs, ",") {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		clients = append(clients, NewClient(httpClient, u, defaultRequestsPerSecond))
	}
	return NewPool(clients...)
}
