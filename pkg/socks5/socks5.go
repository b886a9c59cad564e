// Package socks5 implements an RFC 1928 / RFC 1929 SOCKS5 engine: method
// negotiation, username/password sub-negotiation, CONNECT, and reply-code
// mapping. BIND and UDP ASSOCIATE are rejected as unsupported.
package socks5

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/meridianvpn/fleet/pkg/ferrors"
	"github.com/meridianvpn/fleet/pkg/log"
	"github.com/meridianvpn/fleet/pkg/splice"
	"github.com/rs/zerolog"
)

const (
	version5 = 0x05

	methodNoAuth      = 0x00
	methodUserPass    = 0x02
	methodNoAcceptable = 0xFF

	cmdConnect      = 0x01
	cmdBind         = 0x02
	cmdUDPAssociate = 0x03

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	replySuccess             = 0x00
	replyGeneralFailure      = 0x01
	replyConnectionRefused   = 0x05
	replyCommandNotSupported = 0x07
	replyTTLExpired          = 0x06
)

// Authenticator is the subset of pkg/auth.Manager the engine depends on.
type Authenticator interface {
	Authenticate(ctx context.Context, user, pass string) (string, error)
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

// Metrics mirrors proxyhttp.Metrics so both engines can share one
// implementation without this package importing proxyhttp.
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

// Engine serves SOCKS5 connections.
type Engine struct {
	cfg    Config
	logger zerolog.Logger
}

// New builds an Engine from cfg.
func New(cfg Config) *Engine {
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return &Engine{cfg: cfg, logger: log.WithComponent("socks5")}
}

// ServeConn handles one accepted client connection through method
// negotiation, optional auth, and the single CONNECT request SOCKS5
// clients issue per connection.
func (e *Engine) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	principal, ok := e.negotiate(ctx, conn, reader)
	if !ok {
		return
	}

	if !e.cfg.RateLimiter.CheckRateLimit(principal) {
		e.cfg.Metrics.RateLimitHit()
		e.writeReply(conn, replyGeneralFailure, nil)
		return
	}

	e.handleRequest(ctx, conn, reader, principal)
}

func (e *Engine) negotiate(ctx context.Context, conn net.Conn, r *bufio.Reader) (string, bool) {
	header := make([]byte, 2)
	if _, err := readFull(r, header); err != nil || header[0] != version5 {
		return "", false
	}
	nMethods := int(header[1])
	methods := make([]byte, nMethods)
	if _, err := readFull(r, methods); err != nil {
		return "", false
	}

	offers := make(map[byte]bool, nMethods)
	for _, m := range methods {
		offers[m] = true
	}

	if !e.cfg.AuthEnabled && offers[methodNoAuth] {
		conn.Write([]byte{version5, methodNoAuth})
		e.cfg.Metrics.AuthAttempt("bypassed")
		return "anonymous", true
	}
	if offers[methodUserPass] {
		conn.Write([]byte{version5, methodUserPass})
		return e.subNegotiateUserPass(ctx, conn, r)
	}

	conn.Write([]byte{version5, methodNoAcceptable})
	return "", false
}

func (e *Engine) subNegotiateUserPass(ctx context.Context, conn net.Conn, r *bufio.Reader) (string, bool) {
	hdr := make([]byte, 2)
	if _, err := readFull(r, hdr); err != nil || hdr[0] != 0x01 {
		return "", false
	}
	userLen := int(hdr[1])
	user := make([]byte, userLen)
	if _, err := readFull(r, user); err != nil {
		return "", false
	}
	passLenB := make([]byte, 1)
	if _, err := readFull(r, passLenB); err != nil {
		return "", false
	}
	pass := make([]byte, int(passLenB[0]))
	if _, err := readFull(r, pass); err != nil {
		return "", false
	}

	principal, err := e.cfg.Auth.Authenticate(ctx, string(user), string(pass))
	if err != nil {
		e.cfg.Metrics.AuthAttempt("failure")
		conn.Write([]byte{0x01, 0x01})
		return "", false
	}
	e.cfg.Metrics.AuthAttempt("success")
	conn.Write([]byte{0x01, 0x00})
	return principal, true
}

func (e *Engine) handleRequest(ctx context.Context, conn net.Conn, r *bufio.Reader, principal string) {
	hdr := make([]byte, 4)
	if _, err := readFull(r, hdr); err != nil || hdr[0] != version5 {
		return
	}
	cmd, atyp := hdr[1], hdr[3]

	addr, err := readAddress(r, atyp)
	if err != nil {
		e.writeReply(conn, replyGeneralFailure, nil)
		return
	}
	portBytes := make([]byte, 2)
	if _, err := readFull(r, portBytes); err != nil {
		return
	}
	port := binary.BigEndian.Uint16(portBytes)
	target := fmt.Sprintf("%s:%d", addr, port)

	if cmd == cmdBind || cmd == cmdUDPAssociate {
		e.writeReply(conn, replyCommandNotSupported, nil)
		return
	}
	if cmd != cmdConnect {
		e.writeReply(conn, replyGeneralFailure, nil)
		return
	}

	upstream, err := e.cfg.Dialer.GetOrCreate(ctx, target)
	if err != nil {
		e.cfg.Metrics.ConnectionAccepted("socks5", "upstream_failed")
		e.writeReply(conn, replyCodeFor(err), nil)
		return
	}

	boundAddr, boundPort := localAddrParts(upstream)
	e.writeReply(conn, replySuccess, &replyAddr{addr: boundAddr, port: boundPort})
	e.cfg.Metrics.ConnectionAccepted("socks5", "established")

	splice.Relay(ctx, conn, upstream, splice.Options{
		OnClientToUpstream: func(n uint64) { e.cfg.Metrics.BytesTransferred("upload", n); e.cfg.RateLimiter.RecordBandwidth(principal, n) },
		OnUpstreamToClient: func(n uint64) { e.cfg.Metrics.BytesTransferred("download", n) },
	})
	e.cfg.Dialer.ReturnConnection(target, upstream)
}

func replyCodeFor(err error) byte {
	switch {
	case errors.Is(err, ferrors.ErrTimeout):
		return replyTTLExpired
	case errors.Is(err, syscall.ECONNREFUSED):
		return replyConnectionRefused
	default:
		return replyGeneralFailure
	}
}

type replyAddr struct {
	addr string
	port uint16
}

func (e *Engine) writeReply(conn net.Conn, code byte, bound *replyAddr) {
	if bound == nil {
		bound = &replyAddr{addr: "0.0.0.0", port: 0}
	}
	ip := net.ParseIP(bound.addr)
	atyp := byte(atypIPv4)
	var addrBytes []byte
	if ip != nil && ip.To4() != nil {
		addrBytes = ip.To4()
	} else if ip != nil {
		atyp = atypIPv6
		addrBytes = ip.To16()
	} else {
		atyp = atypDomain
		addrBytes = append([]byte{byte(len(bound.addr))}, []byte(bound.addr)...)
	}

	resp := []byte{version5, code, 0x00, atyp}
	resp = append(resp, addrBytes...)
	portBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(portBytes, bound.port)
	resp = append(resp, portBytes...)
	conn.Write(resp)
}

func localAddrParts(conn net.Conn) (string, uint16) {
	tcpAddr, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return "0.0.0.0", 0
	}
	return tcpAddr.IP.String(), uint16(tcpAddr.Port)
}

func readAddress(r *bufio.Reader, atyp byte) (string, error) {
	switch atyp {
	case atypIPv4:
		b := make([]byte, 4)
		if _, err := readFull(r, b); err != nil {
			return "", err
		}
		return net.IP(b).String(), nil
	case atypIPv6:
		b := make([]byte, 16)
		if _, err := readFull(r, b); err != nil {
			return "", err
		}
		return net.IP(b).String(), nil
	case atypDomain:
		lenB := make([]byte, 1)
		if _, err := readFull(r, lenB); err != nil {
			return "", err
		}
		b := make([]byte, int(lenB[0]))
		if _, err := readFull(r, b); err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("%w: unknown atyp %d", ferrors.ErrInvalidRequest, atyp)
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
