// Package registry maps tunnel IPs to the remote UDP endpoints of the
// clients they were assigned to, and back.
package registry

import (
	"net"
	"sync"

	"tunrelay/internal/ippool"
)

// Registry holds the bidirectional tunnel_ip <-> remote_endpoint mapping.
// The two directions are always kept as mutual inverses.
type Registry struct {
	mu     sync.Mutex
	pool   *ippool.Pool
	byEndp map[string]net.IP      // remote endpoint string -> ip
	byIP   map[string]*net.UDPAddr // ip string -> remote endpoint
}

// New builds an empty registry backed by the given IP pool.
func New(pool *ippool.Pool) *Registry {
	return &Registry{
		pool:   pool,
		byEndp: make(map[string]net.IP),
		byIP:   make(map[string]*net.UDPAddr),
	}
}

// Register returns the tunnel IP assigned to remote, allocating a new one on
// first sight and returning the existing assignment on a repeat handshake
// from the same endpoint. Returns nil if the pool is exhausted.
func (r *Registry) Register(remote *net.UDPAddr) net.IP {
	key := remote.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	if ip, ok := r.byEndp[key]; ok {
		return ip
	}

	ip := r.pool.Allocate()
	if ip == nil {
		return nil
	}
	r.byEndp[key] = ip
	r.byIP[ip.String()] = remote
	return ip
}

// LookupByEndpoint returns the tunnel IP assigned to remote, if any.
func (r *Registry) LookupByEndpoint(remote *net.UDPAddr) (net.IP, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ip, ok := r.byEndp[remote.String()]
	return ip, ok
}

// LookupByIP returns the remote endpoint a tunnel IP was assigned to, if
// any.
func (r *Registry) LookupByIP(ip net.IP) (*net.UDPAddr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.byIP[ip.String()]
	return addr, ok
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byEndp)
}
