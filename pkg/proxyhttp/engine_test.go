package proxyhttp

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuth struct {
	whitelisted map[string]bool
}

func (s stubAuth) Authenticate(_ context.Context, user, pass string) (string, error) {
	if user == "alice" && pass == "pw" {
		return "alice", nil
	}
	return "", assert.AnError
}
func (s stubAuth) IsWhitelisted(addr string) bool { return s.whitelisted[addr] }

type stubLimiter struct{ allow bool }

func (s stubLimiter) CheckRateLimit(string) bool          { return s.allow }
func (s stubLimiter) RecordBandwidth(string, uint64) {}

type stubDialer struct{ upstreamAddr string }

func (s stubDialer) GetOrCreate(_ context.Context, addr string) (net.Conn, error) {
	return net.DialTimeout("tcp", s.upstreamAddr, 2*time.Second)
}
func (s stubDialer) ReturnConnection(string, net.Conn) {}

func startUpstreamHTTP(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				reader := bufio.NewReader(c)
				req, err := http.ReadRequest(reader)
				if err != nil {
					return
				}
				req.Body.Close()
				resp := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok"
				c.Write([]byte(resp))
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestServeConnRejectsWithout407(t *testing.T) {
	upstream := startUpstreamHTTP(t)
	engine := New(Config{
		Auth:        stubAuth{whitelisted: map[string]bool{}},
		RateLimiter: stubLimiter{allow: true},
		Dialer:      stubDialer{upstreamAddr: upstream},
		AuthEnabled: true,
	})

	clientConn, serverConn := net.Pipe()
	go engine.ServeConn(context.Background(), serverConn)

	req, _ := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.Write(clientConn)

	reader := bufio.NewReader(clientConn)
	resp, err := http.ReadResponse(reader, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusProxyAuthRequired, resp.StatusCode)
}

func TestServeConnForwardsWhenWhitelisted(t *testing.T) {
	upstream := startUpstreamHTTP(t)
	engine := New(Config{
		Auth:        stubAuth{whitelisted: map[string]bool{"pipe": true}},
		RateLimiter: stubLimiter{allow: true},
		Dialer:      stubDialer{upstreamAddr: upstream},
		AuthEnabled: true,
	})

	clientConn, serverConn := net.Pipe()
	// net.Pipe reports its remote address as "pipe", which the stub
	// whitelists, so the request bypasses authentication.
	go engine.ServeConn(context.Background(), serverConn)

	req, _ := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.Write(clientConn)

	reader := bufio.NewReader(clientConn)
	resp, err := http.ReadResponse(reader, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServeConnRateLimited(t *testing.T) {
	upstream := startUpstreamHTTP(t)
	engine := New(Config{
		Auth:        stubAuth{whitelisted: map[string]bool{}},
		RateLimiter: stubLimiter{allow: false},
		Dialer:      stubDialer{upstreamAddr: upstream},
		AuthEnabled: false,
	})

	clientConn, serverConn := net.Pipe()
	go engine.ServeConn(context.Background(), serverConn)

	req, _ := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.Write(clientConn)

	reader := bufio.NewReader(clientConn)
	resp, err := http.ReadResponse(reader, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
