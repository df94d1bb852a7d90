package registry

import (
	"net"
	"testing"

	"tunrelay/internal/ippool"
)

func mustAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		t.Fatalf("ResolveUDPAddr(%q): %v", s, err)
	}
	return addr
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	pool, err := ippool.New(net.IPv4(10, 0, 0, 1), net.IPv4(255, 255, 255, 0))
	if err != nil {
		t.Fatalf("ippool.New: %v", err)
	}
	return New(pool)
}

func TestRegister_TwoClientsDisjointIPs(t *testing.T) {
	r := newTestRegistry(t)
	a := mustAddr(t, "203.0.113.1:40000")
	b := mustAddr(t, "203.0.113.2:40000")

	ipA := r.Register(a)
	ipB := r.Register(b)

	if ipA.String() != "10.0.0.2" {
		t.Fatalf("ipA=%v want 10.0.0.2", ipA)
	}
	if ipB.String() != "10.0.0.3" {
		t.Fatalf("ipB=%v want 10.0.0.3", ipB)
	}
}

func TestRegister_IdempotentOnSameEndpoint(t *testing.T) {
	r := newTestRegistry(t)
	a := mustAddr(t, "203.0.113.1:40000")

	first := r.Register(a)
	second := r.Register(a)

	if first.String() != second.String() {
		t.Fatalf("re-handshake changed ip: %v != %v", first, second)
	}
	if r.Len() != 1 {
		t.Fatalf("registry size=%d want 1", r.Len())
	}
}

func TestLookups_AreMutualInverses(t *testing.T) {
	r := newTestRegistry(t)
	a := mustAddr(t, "203.0.113.1:40000")

	ip := r.Register(a)

	gotIP, ok := r.LookupByEndpoint(a)
	if !ok || gotIP.String() != ip.String() {
		t.Fatalf("LookupByEndpoint=%v,%v want %v,true", gotIP, ok, ip)
	}

	gotAddr, ok := r.LookupByIP(ip)
	if !ok || gotAddr.String() != a.String() {
		t.Fatalf("LookupByIP=%v,%v want %v,true", gotAddr, ok, a)
	}
}

func TestLookupByIP_UnknownReturnsFalse(t *testing.T) {
	r := newTestRegistry(t)
	if _, ok := r.LookupByIP(net.IPv4(10, 0, 0, 99)); ok {
		t.Fatal("expected no entry for unregistered ip")
	}
}
