package forwarder

import (
	"net"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"tunrelay/internal/ippool"
	"tunrelay/internal/registry"
	"tunrelay/internal/tunio"
	"tunrelay/internal/wire"
)

// newTestForwarder wires a Forwarder over a loopback UDP socket and a TUN
// endpoint backed by one end of a datagram socketpair; the returned peer
// file plays the role of the kernel on the other end of the TUN device.
func newTestForwarder(t *testing.T) (fw *Forwarder, serverSock *net.UDPConn, peer *os.File) {
	t.Helper()

	pool, err := ippool.New(net.ParseIP("10.0.0.1"), net.ParseIP("255.255.255.0"))
	if err != nil {
		t.Fatalf("ippool.New: %v", err)
	}
	reg := registry.New(pool)

	serverSock, err = net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { serverSock.Close() })

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	peer = os.NewFile(uintptr(fds[1]), "tun-peer")
	t.Cleanup(func() { peer.Close() })

	tun, err := tunio.New(fds[0])
	if err != nil {
		t.Fatalf("tunio.New: %v", err)
	}
	t.Cleanup(func() { tun.Close() })

	fw = New(serverSock, tun, reg, RateLimit{MaxPerWindow: 20, Window: 30 * time.Second}, zap.NewNop(), nil)
	return fw, serverSock, peer
}

func TestHandshake_UnregisteredClientGetsOneResponse(t *testing.T) {
	fw, serverSock, _ := newTestForwarder(t)

	clientSock, err := net.DialUDP("udp", nil, serverSock.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer clientSock.Close()

	stop := make(chan struct{})
	go fw.runUDPToTUN(stop)
	defer close(stop)

	if _, err := clientSock.Write(wire.EncodeRequest()); err != nil {
		t.Fatalf("write request: %v", err)
	}

	buf := make([]byte, 64)
	clientSock.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := clientSock.Read(buf)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if n < 15 || buf[0] != 0x00 || buf[1] != 0x02 {
		t.Fatalf("response = %x, want >=15 bytes starting 00 02", buf[:n])
	}

	resp, err := wire.DecodeResponse(buf[:n])
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if resp.ClientIP.String() != "10.0.0.2" {
		t.Fatalf("client ip = %v want 10.0.0.2", resp.ClientIP)
	}
}

func TestHandshake_TwoClientsGetDisjointIPs(t *testing.T) {
	fw, serverSock, _ := newTestForwarder(t)

	clientA, err := net.DialUDP("udp", nil, serverSock.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP A: %v", err)
	}
	defer clientA.Close()
	clientB, err := net.DialUDP("udp", nil, serverSock.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP B: %v", err)
	}
	defer clientB.Close()

	stop := make(chan struct{})
	go fw.runUDPToTUN(stop)
	defer close(stop)

	ipOf := func(c *net.UDPConn) net.IP {
		if _, err := c.Write(wire.EncodeRequest()); err != nil {
			t.Fatalf("write: %v", err)
		}
		buf := make([]byte, 64)
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := c.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		resp, err := wire.DecodeResponse(buf[:n])
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp.ClientIP
	}

	ipA := ipOf(clientA)
	ipB := ipOf(clientB)
	if ipA.Equal(ipB) {
		t.Fatalf("both clients got %v, want disjoint", ipA)
	}
	if ipA.String() != "10.0.0.2" || ipB.String() != "10.0.0.3" {
		t.Fatalf("got A=%v B=%v, want A=10.0.0.2 B=10.0.0.3", ipA, ipB)
	}
}

func TestDropsShortDatagram(t *testing.T) {
	fw, serverSock, _ := newTestForwarder(t)

	clientSock, err := net.DialUDP("udp", nil, serverSock.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer clientSock.Close()

	stop := make(chan struct{})
	go fw.runUDPToTUN(stop)
	defer close(stop)

	if _, err := clientSock.Write([]byte{0x01}); err != nil {
		t.Fatalf("write: %v", err)
	}

	clientSock.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 64)
	if _, err := clientSock.Read(buf); err == nil {
		t.Fatal("expected no response for a length-1 datagram")
	}
}

func TestDataForwarding_RegisteredClientPacketReachesTUN(t *testing.T) {
	fw, serverSock, peer := newTestForwarder(t)

	clientSock, err := net.DialUDP("udp", nil, serverSock.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer clientSock.Close()

	stop := make(chan struct{})
	go fw.runUDPToTUN(stop)
	defer close(stop)

	if _, err := clientSock.Write(wire.EncodeRequest()); err != nil {
		t.Fatalf("handshake write: %v", err)
	}
	buf := make([]byte, 64)
	clientSock.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := clientSock.Read(buf); err != nil {
		t.Fatalf("handshake read: %v", err)
	}

	packet := []byte{0x45, 0x00, 0x00, 0x14, 0, 0, 0, 0, 64, 6, 0, 0, 10, 0, 0, 2, 10, 0, 0, 1}
	if _, err := clientSock.Write(packet); err != nil {
		t.Fatalf("data write: %v", err)
	}

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, 64)
	n, err := peer.Read(got)
	if err != nil {
		t.Fatalf("reading what the forwarder wrote to tun: %v", err)
	}
	if string(got[:n]) != string(packet) {
		t.Fatalf("tun received %x want %x", got[:n], packet)
	}
}

func TestDataForwarding_TUNToRegisteredClient(t *testing.T) {
	fw, serverSock, peer := newTestForwarder(t)

	clientSock, err := net.DialUDP("udp", nil, serverSock.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer clientSock.Close()

	stop := make(chan struct{})
	go fw.runUDPToTUN(stop)
	go fw.runTUNToUDP(stop)
	defer close(stop)

	if _, err := clientSock.Write(wire.EncodeRequest()); err != nil {
		t.Fatalf("handshake write: %v", err)
	}
	buf := make([]byte, 64)
	clientSock.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := clientSock.Read(buf)
	if err != nil {
		t.Fatalf("handshake read: %v", err)
	}
	resp, err := wire.DecodeResponse(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	reply := make([]byte, 20)
	reply[0] = 0x45
	copy(reply[16:20], resp.ClientIP.To4())
	if _, err := peer.Write(reply); err != nil {
		t.Fatalf("writing kernel reply onto tun: %v", err)
	}

	clientSock.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, 64)
	gotN, err := clientSock.Read(got)
	if err != nil {
		t.Fatalf("client did not receive forwarded packet: %v", err)
	}
	if string(got[:gotN]) != string(reply) {
		t.Fatalf("client received %x want %x", got[:gotN], reply)
	}
}

func TestHandshake_RateLimitedAfterThreshold(t *testing.T) {
	pool, err := ippool.New(net.ParseIP("10.0.0.1"), net.ParseIP("255.255.255.0"))
	if err != nil {
		t.Fatalf("ippool.New: %v", err)
	}
	reg := registry.New(pool)
	serverSock, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer serverSock.Close()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	peer := os.NewFile(uintptr(fds[1]), "tun-peer")
	defer peer.Close()
	tun, err := tunio.New(fds[0])
	if err != nil {
		t.Fatalf("tunio.New: %v", err)
	}
	defer tun.Close()

	fw := New(serverSock, tun, reg, RateLimit{MaxPerWindow: 1, Window: time.Minute}, zap.NewNop(), nil)

	clientSock, err := net.DialUDP("udp", nil, serverSock.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer clientSock.Close()

	stop := make(chan struct{})
	go fw.runUDPToTUN(stop)
	defer close(stop)

	for i := 0; i < 2; i++ {
		if _, err := clientSock.Write(wire.EncodeRequest()); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	buf := make([]byte, 64)
	clientSock.SetReadDeadline(time.Now().Add(1 * time.Second))
	if _, err := clientSock.Read(buf); err != nil {
		t.Fatalf("expected first response: %v", err)
	}

	clientSock.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, err := clientSock.Read(buf); err == nil {
		t.Fatal("expected second handshake to be rate-limited, got a response")
	}
}
