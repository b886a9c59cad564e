package socks5

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuth struct{}

func (stubAuth) Authenticate(_ context.Context, user, pass string) (string, error) {
	if user == "alice" && pass == "pw" {
		return "alice", nil
	}
	return "", assert.AnError
}

type stubLimiter struct{ allow bool }

func (s stubLimiter) CheckRateLimit(string) bool     { return s.allow }
func (s stubLimiter) RecordBandwidth(string, uint64) {}

type stubDialer struct{ upstreamAddr string }

func (s stubDialer) GetOrCreate(_ context.Context, addr string) (net.Conn, error) {
	return net.DialTimeout("tcp", s.upstreamAddr, 2*time.Second)
}
func (s stubDialer) ReturnConnection(string, net.Conn) {}

func startEchoServer(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				buf := make([]byte, 64)
				for {
					n, err := conn.Read(buf)
					if err != nil {
						return
					}
					conn.Write(buf[:n])
				}
			}(c)
		}
	}()
	tcpAddr := ln.Addr().(*net.TCPAddr)
	return tcpAddr.IP.String(), tcpAddr.Port
}

func TestNoAuthConnect(t *testing.T) {
	upstreamHost, upstreamPort := startEchoServer(t)
	addrStr := net.JoinHostPort(upstreamHost, strconv.Itoa(upstreamPort))

	engine := New(Config{
		Auth:        stubAuth{},
		RateLimiter: stubLimiter{allow: true},
		Dialer:      stubDialer{upstreamAddr: addrStr},
		AuthEnabled: false,
	})

	client, server := net.Pipe()
	go engine.ServeConn(context.Background(), server)

	// Method negotiation: version 5, 1 method, NoAuth.
	client.Write([]byte{0x05, 0x01, 0x00})
	methodResp := make([]byte, 2)
	io_ReadFull(t, client, methodResp)
	assert.Equal(t, byte(0x00), methodResp[1])

	// CONNECT request to upstream via IPv4.
	ip := net.ParseIP(upstreamHost).To4()
	req := []byte{0x05, 0x01, 0x00, 0x01}
	req = append(req, ip...)
	req = append(req, byte(upstreamPort>>8), byte(upstreamPort))
	client.Write(req)

	reply := make([]byte, 10)
	io_ReadFull(t, client, reply)
	assert.Equal(t, byte(0x05), reply[0])
	assert.Equal(t, byte(replySuccess), reply[1])

	client.Write([]byte("ping"))
	buf := make([]byte, 4)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	io_ReadFull(t, client, buf)
	assert.Equal(t, "ping", string(buf))
}

func TestNoAcceptableMethodClosesConnection(t *testing.T) {
	engine := New(Config{
		Auth:        stubAuth{},
		RateLimiter: stubLimiter{allow: true},
		Dialer:      stubDialer{},
		AuthEnabled: true,
	})

	client, server := net.Pipe()
	go engine.ServeConn(context.Background(), server)

	client.Write([]byte{0x05, 0x01, 0x00}) // offers only NoAuth, but auth is required
	resp := make([]byte, 2)
	io_ReadFull(t, client, resp)
	assert.Equal(t, byte(methodNoAcceptable), resp[1])
}

func io_ReadFull(t *testing.T, conn net.Conn, buf []byte) {
	t.Helper()
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		require.NoError(t, err)
		n += m
	}
}

