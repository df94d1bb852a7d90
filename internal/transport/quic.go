package transport

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/quic-go/quic-go"
)

// quicEndpoint carries datagrams over a single reliable QUIC stream. QUIC
// streams are byte pipes, not datagram-preserving, so each frame is
// length-prefixed with a big-endian uint16 on the wire.
type quicEndpoint struct {
	conn   *quic.Conn
	stream *quic.Stream
}

const quicALPN = "tunrelay"

// DialQUIC opens a QUIC connection to addr and a single bidirectional
// stream carrying the packet flow.
func DialQUIC(ctx context.Context, addr string) (Endpoint, error) {
	tlsConf := &tls.Config{
		NextProtos:         []string{quicALPN},
		InsecureSkipVerify: true, // point-to-point tunnel, no PKI in scope
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: quic dial %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "stream open failed")
		return nil, fmt.Errorf("transport: quic open stream: %w", err)
	}
	return &quicEndpoint{conn: conn, stream: stream}, nil
}

// ListenQUIC accepts the server side of a single tunnel connection. It
// blocks until one client connects and opens its stream.
func ListenQUIC(ctx context.Context, addr string, tlsConf *tls.Config) (Endpoint, error) {
	tlsConf.NextProtos = []string{quicALPN}
	ln, err := quic.ListenAddr(addr, tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: quic listen %s: %w", addr, err)
	}
	conn, err := ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: quic accept: %w", err)
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "stream accept failed")
		return nil, fmt.Errorf("transport: quic accept stream: %w", err)
	}
	return &quicEndpoint{conn: conn, stream: stream}, nil
}

func (q *quicEndpoint) Send(frame []byte) error {
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(frame)))
	if _, err := q.stream.Write(hdr[:]); err != nil {
		return err
	}
	_, err := q.stream.Write(frame)
	return err
}

func (q *quicEndpoint) Receive(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		q.stream.SetReadDeadline(dl)
	} else {
		q.stream.SetReadDeadline(zeroTime)
	}
	defer raceReadDeadline(ctx, q.stream)()

	var hdr [2]byte
	if _, err := io.ReadFull(q.stream, hdr[:]); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	n := binary.BigEndian.Uint16(hdr[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(q.stream, buf); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return buf, nil
}

func (q *quicEndpoint) Close() error {
	q.stream.Close()
	return q.conn.CloseWithError(0, "closing")
}
