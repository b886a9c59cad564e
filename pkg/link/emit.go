// Package link turns a provisioned user's config into the connection
// strings and aggregate formats clients consume: raw per-protocol URIs, a
// combined subscription blob, and a Clash YAML profile.
package link

import (
	"fmt"
	"net/url"

	fcrypto "github.com/meridianvpn/fleet/pkg/crypto"
	"github.com/meridianvpn/fleet/pkg/ferrors"
)

const (
	missingPublicKey  = "MISSING_PUBLIC_KEY"
	missingPrivateKey = "MISSING_PRIVATE_KEY"
)

// Params carries the fields Emit needs to render a link. It is a flat
// struct rather than the user.User type itself so this package has no
// import-cycle dependency on pkg/user.
type Params struct {
	Protocol   string
	UserID     string
	Name       string
	ServerHost string
	ServerPort int
	SNI        string
	PublicKey  string
	PrivateKey string
	ShortID    string
	Flow       string
	Network    string
	Security   string
	Path       string
	HeaderType string
	Password   string
	Method     string
}

func orPlaceholder(v, placeholder string) string {
	if v == "" {
		return placeholder
	}
	return v
}

// Emit renders the connection string for p.Protocol. It never fails on
// missing key material; it substitutes MISSING_PUBLIC_KEY /
// MISSING_PRIVATE_KEY placeholders instead, since an operator should still
// be able to see and copy a malformed-but-visible link rather than getting
// nothing. It fails only for a protocol it does not recognize.
func Emit(p Params) (string, error) {
	switch p.Protocol {
	case "vless":
		return emitVLESS(p), nil
	case "outline", "shadowsocks":
		return emitShadowsocks(p), nil
	case "wireguard":
		return emitWireGuard(p), nil
	case "openvpn":
		return emitOpenVPN(p), nil
	case "http-proxy":
		return emitHTTPProxy(p), nil
	case "socks5-proxy":
		return emitSOCKS5(p), nil
	case "proxy-server":
		return emitProxyServer(p), nil
	default:
		return "", fmt.Errorf("%w: unknown protocol %q", ferrors.ErrLinkGeneration, p.Protocol)
	}
}

func emitVLESS(p Params) string {
	pub := orPlaceholder(p.PublicKey, missingPublicKey)
	flow := p.Flow
	if flow == "" {
		flow = "xtls-rprx-vision"
	}
	return fmt.Sprintf(
		"vless://%s@%s:%d?type=tcp&security=reality&encryption=none&sni=%s&flow=%s&pbk=%s&sid=%s&fp=chrome#%s",
		p.UserID, p.ServerHost, p.ServerPort, url.QueryEscape(p.SNI), url.QueryEscape(flow),
		url.QueryEscape(pub), url.QueryEscape(p.ShortID), url.QueryEscape(p.Name),
	)
}

func emitShadowsocks(p Params) string {
	method := p.Method
	if method == "" {
		method = "chacha20-ietf-poly1305"
	}
	userinfo := fcrypto.Base64URLEncode([]byte(method + ":" + p.Password))
	return fmt.Sprintf("ss://%s@%s:%d#%s", userinfo, p.ServerHost, p.ServerPort, url.QueryEscape(p.Name))
}

func emitWireGuard(p Params) string {
	priv := orPlaceholder(p.PrivateKey, missingPrivateKey)
	pub := orPlaceholder(p.PublicKey, missingPublicKey)
	return fmt.Sprintf(
		"wireguard://%s@%s:%d?publickey=%s&address=10.0.0.0/32#%s",
		priv, p.ServerHost, p.ServerPort, url.QueryEscape(pub), url.QueryEscape(p.Name),
	)
}

func emitOpenVPN(p Params) string {
	return fmt.Sprintf("openvpn://%s@%s:%d?proto=tcp#%s", p.UserID, p.ServerHost, p.ServerPort, url.QueryEscape(p.Name))
}

func emitHTTPProxy(p Params) string {
	if p.Password != "" {
		return fmt.Sprintf("http://%s:%s@%s:%d#%s", p.UserID, p.Password, p.ServerHost, p.ServerPort, url.QueryEscape(p.Name))
	}
	return fmt.Sprintf("http://%s@%s:%d#%s", p.UserID, p.ServerHost, p.ServerPort, url.QueryEscape(p.Name))
}

func emitSOCKS5(p Params) string {
	if p.Password != "" {
		return fmt.Sprintf("socks5://%s:%s@%s:%d#%s", p.UserID, p.Password, p.ServerHost, p.ServerPort, url.QueryEscape(p.Name))
	}
	return fmt.Sprintf("socks5://%s@%s:%d#%s", p.UserID, p.ServerHost, p.ServerPort, url.QueryEscape(p.Name))
}

func emitProxyServer(p Params) string {
	return fmt.Sprintf("proxy://%s@%s:%d?network=%s#%s", p.UserID, p.ServerHost, p.ServerPort, orPlaceholder(p.Network, "tcp"), url.QueryEscape(p.Name))
}
