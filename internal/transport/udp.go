package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

const maxDatagram = 4096

var zeroTime time.Time

// udpEndpoint wraps a connected UDP socket. Connecting fixes the peer so
// Send/Receive never need an address argument, matching the Endpoint
// contract.
type udpEndpoint struct {
	conn *net.UDPConn
}

// DialUDP connects a UDP socket to addr (host:port).
func DialUDP(addr string) (Endpoint, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return &udpEndpoint{conn: conn}, nil
}

// ListenUDP binds a UDP socket the server side reads unconnected datagrams
// from; it is exposed for the forwarder, which demultiplexes by source
// address itself rather than going through the Endpoint interface.
func ListenUDP(addr string) (*net.UDPConn, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return conn, nil
}

func (u *udpEndpoint) Send(frame []byte) error {
	_, err := u.conn.Write(frame)
	return err
}

func (u *udpEndpoint) Receive(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		u.conn.SetReadDeadline(dl)
	} else {
		u.conn.SetReadDeadline(zeroTime)
	}
	defer raceReadDeadline(ctx, u.conn)()

	buf := make([]byte, maxDatagram)
	n, err := u.conn.Read(buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return buf[:n], nil
}

func (u *udpEndpoint) Close() error {
	return u.conn.Close()
}
