// Package proxyhttp implements the HTTP forward proxy / CONNECT tunnel
// engine: request parsing, proxy authentication and rate limiting, and
// dispatch to either a CONNECT tunnel or absolute-URI forwarding.
package proxyhttp

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/meridianvpn/fleet/pkg/ferrors"
	"github.com/meridianvpn/fleet/pkg/log"
	"github.com/meridianvpn/fleet/pkg/splice"
	"github.com/rs/zerolog"
)

// Authenticator is the subset of pkg/auth.Manager the engine depends on.
type Authenticator interface {
	Authenticate(ctx context.Context, user, pass string) (string, error)
	IsWhitelisted(sourceAddr string) bool
}

// RateLimiter is the subset of pkg/ratelimit.Limiter the engine depends on.
type RateLimiter interface {
	CheckRateLimit(principal string) bool
	RecordBandwidth(principal string, bytes uint64)
}

// UpstreamDialer is the subset of pkg/pool.Pool the engine depends on.
type UpstreamDialer interface {
	GetOrCreate(ctx context.Context, addr string) (net.Conn, error)
	ReturnConnection(addr string, conn net.Conn)
}

// Metrics receives per-request observations; implementations should be
// cheap and non-blocking. A nil Metrics is valid; all methods are no-ops.
type Metrics interface {
	ConnectionAccepted(protocol, status string)
	AuthAttempt(result string)
	RateLimitHit()
	BytesTransferred(direction string, n uint64)
}

type noopMetrics struct{}

func (noopMetrics) ConnectionAccepted(string, string) {}
func (noopMetrics) AuthAttempt(string)                {}
func (noopMetrics) RateLimitHit()                     {}
func (noopMetrics) BytesTransferred(string, uint64)   {}

// Config wires an Engine's dependencies.
type Config struct {
	Auth        Authenticator
	RateLimiter RateLimiter
	Dialer      UpstreamDialer
	Metrics     Metrics
	AuthEnabled bool
}

// Engine serves HTTP forward-proxy connections.
type Engine struct {
	cfg    Config
	logger zerolog.Logger
}

// New builds an Engine from cfg.
func New(cfg Config) *Engine {
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return &Engine{cfg: cfg, logger: log.WithComponent("proxyhttp")}
}

// ServeConn handles one accepted client connection until it closes, ctx is
// canceled, or an unrecoverable parse error occurs.
func (e *Engine) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	remoteAddr := conn.RemoteAddr().String()

	for {
		if ctx.Err() != nil {
			return
		}
		req, err := http.ReadRequest(reader)
		if err != nil {
			if err != io.EOF {
				writeStatusLine(conn, http.StatusBadRequest, "Bad Request")
			}
			return
		}

		principal, ok := e.authenticate(conn, req, remoteAddr)
		if !ok {
			if !keepAlive(req) {
				return
			}
			continue
		}

		if !e.cfg.RateLimiter.CheckRateLimit(principal) {
			e.cfg.Metrics.RateLimitHit()
			writeStatusLine(conn, http.StatusTooManyRequests, "Too Many Requests")
			if !keepAlive(req) {
				return
			}
			continue
		}

		if req.Method == http.MethodConnect {
			e.handleConnect(ctx, conn, req, principal)
			return // CONNECT always terminates the proxy-protocol loop
		}

		if !e.handleForward(ctx, conn, req, principal) {
			return
		}
		if !keepAlive(req) {
			return
		}
	}
}

// authenticate extracts Proxy-Authorization (falling back to Authorization),
// consults the whitelist, and calls the auth manager. It writes a 407
// response itself on failure.
func (e *Engine) authenticate(conn net.Conn, req *http.Request, remoteAddr string) (string, bool) {
	source := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		source = host // whitelist entries are addresses without a port
	}
	if !e.cfg.AuthEnabled || e.cfg.Auth.IsWhitelisted(source) {
		e.cfg.Metrics.AuthAttempt("bypassed")
		return "anonymous", true
	}

	header := req.Header.Get("Proxy-Authorization")
	if header == "" {
		header = req.Header.Get("Authorization")
	}
	user, pass, ok := parseBasicAuth(header)
	if !ok {
		e.cfg.Metrics.AuthAttempt("missing")
		writeProxyAuthRequired(conn)
		return "", false
	}

	principal, err := e.cfg.Auth.Authenticate(context.Background(), user, pass)
	if err != nil {
		e.cfg.Metrics.AuthAttempt("failure")
		writeProxyAuthRequired(conn)
		return "", false
	}
	e.cfg.Metrics.AuthAttempt("success")
	return principal, true
}

func parseBasicAuth(header string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func writeProxyAuthRequired(conn net.Conn) {
	resp := "HTTP/1.1 407 Proxy Authentication Required\r\n" +
		"Proxy-Authenticate: Basic realm=\"Proxy\"\r\n" +
		"Content-Length: 0\r\n\r\n"
	_, _ = conn.Write([]byte(resp))
}

func writeStatusLine(conn net.Conn, code int, text string) {
	resp := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Length: 0\r\n\r\n", code, text)
	_, _ = conn.Write([]byte(resp))
}

func keepAlive(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get("Connection"), "keep-alive")
}

// handleConnect establishes an upstream connection to req's target,
// responds 200, and relays bytes until either side closes.
func (e *Engine) handleConnect(ctx context.Context, client net.Conn, req *http.Request, principal string) {
	target := req.Host
	if !strings.Contains(target, ":") {
		target += ":443"
	}

	upstream, err := e.cfg.Dialer.GetOrCreate(ctx, target)
	if err != nil {
		e.cfg.Metrics.ConnectionAccepted("http-connect", "upstream_failed")
		status := http.StatusBadGateway
		if err == ferrors.ErrConnectionPoolExhaust {
			status = http.StatusServiceUnavailable
		}
		writeStatusLine(client, status, "Connect Failed")
		return
	}

	_, _ = client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
	e.cfg.Metrics.ConnectionAccepted("http-connect", "established")

	stats := splice.Relay(ctx, client, upstream, splice.Options{
		OnClientToUpstream: func(n uint64) { e.cfg.Metrics.BytesTransferred("upload", n); e.cfg.RateLimiter.RecordBandwidth(principal, n) },
		OnUpstreamToClient: func(n uint64) { e.cfg.Metrics.BytesTransferred("download", n) },
	})
	_ = stats

	e.cfg.Dialer.ReturnConnection(target, upstream)
}

// handleForward forwards a non-CONNECT request byte-identically to target,
// streaming the response back. It returns false if the connection must
// close (caller should stop the read loop).
func (e *Engine) handleForward(ctx context.Context, client net.Conn, req *http.Request, principal string) bool {
	target, rewritten, err := targetAndOriginForm(req)
	if err != nil {
		writeStatusLine(client, http.StatusBadRequest, "Bad Request")
		return false
	}

	upstream, err := e.cfg.Dialer.GetOrCreate(ctx, target)
	if err != nil {
		e.cfg.Metrics.ConnectionAccepted("http-forward", "upstream_failed")
		writeStatusLine(client, http.StatusBadGateway, "Bad Gateway")
		return false
	}
	defer e.cfg.Dialer.ReturnConnection(target, upstream)

	rewritten.Header.Del("Proxy-Authorization")
	req.RequestURI = "" // required before re-writing a client.Do-style request

	if err := rewritten.Write(upstream); err != nil {
		e.cfg.Metrics.ConnectionAccepted("http-forward", "write_failed")
		writeStatusLine(client, http.StatusBadGateway, "Bad Gateway")
		return false
	}
	e.cfg.Metrics.ConnectionAccepted("http-forward", "established")

	upstreamReader := bufio.NewReader(upstream)
	resp, err := http.ReadResponse(upstreamReader, req)
	if err != nil {
		writeStatusLine(client, http.StatusBadGateway, "Bad Gateway")
		return false
	}
	defer resp.Body.Close()

	if err := resp.Write(client); err != nil {
		return false
	}
	e.cfg.RateLimiter.RecordBandwidth(principal, uint64(resp.ContentLength))
	return keepAlive(req)
}

// targetAndOriginForm resolves the dial target from an absolute-URI or the
// Host header, and returns a shallow copy of req rewritten to origin-form.
func targetAndOriginForm(req *http.Request) (target string, rewritten *http.Request, err error) {
	host := req.Host
	if req.URL.IsAbs() {
		host = req.URL.Host
	}
	if host == "" {
		return "", nil, fmt.Errorf("%w: no target host", ferrors.ErrInvalidRequest)
	}
	if !strings.Contains(host, ":") {
		host += ":80"
	}

	clone := req.Clone(req.Context())
	clone.URL.Scheme = ""
	clone.URL.Host = ""
	clone.Host = req.Host

	return host, clone, nil
}
