// SPDX-License-Identifier: LGPL-3.0-or-later

// Package httpx pools shared HTTP clients keyed by (name, base URL), the
// way the control-plane and worker tiers share one connection pool per
// downstream peer instead of dialing fresh per request.
package httpx

import (
	"net/http"
	"sync"
	"time"
)

// Pool caches one *http.Client per (name, baseURL) pair. Callers ask for
// a client by key; the first call for a given key constructs it, every
// later call reuses it. Shutdown closes idle connections on every client
// ever handed out and drops the cache, so a Pool is single-use.
type Pool struct {
	mu      sync.Mutex
	clients map[poolKey]*http.Client
}

type poolKey struct {
	name    string
	baseURL string
}

// NewPool returns an empty client pool.
func NewPool() *Pool {
	return &Pool{clients: make(map[poolKey]*http.Client)}
}

// Get returns the cached client for (name, baseURL), creating one with
// the given timeout if none exists yet. timeout only applies to a newly
// created client; an existing cached client keeps whatever timeout it
// was created with.
func (p *Pool) Get(name, baseURL string, timeout time.Duration) *http.Client {
	key := poolKey{name: name, baseURL: baseURL}

	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[key]; ok {
		return client
	}

	client := &http.Client{Timeout: timeout}
	p.clients[key] = client
	return client
}

// Shutdown closes idle connections on every client the pool has handed
// out and clears the cache. Call once during service shutdown.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	clients := make([]*http.Client, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.clients = make(map[poolKey]*http.Client)
	p.mu.Unlock()

	for _, c := range clients {
		c.CloseIdleConnections()
	}
}

// Len reports how many distinct clients are currently cached. Exposed
// for diagnostics and tests.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}
