package link

import (
	"strings"

	fcrypto "github.com/meridianvpn/fleet/pkg/crypto"
	"gopkg.in/yaml.v3"
)

// Subscription joins links with newlines and Base64-URL-encodes (unpadded)
// the result, the format subscription-aware clients expect to fetch over
// HTTP.
func Subscription(links []string) string {
	joined := strings.Join(links, "\n")
	return fcrypto.Base64URLEncode([]byte(joined))
}

// clashProxy is one entry of the Clash `proxies` list. Only the fields a
// given protocol needs are populated; the rest are left at zero value and
// omitted via yaml `omitempty`.
type clashProxy struct {
	Name           string `yaml:"name"`
	Type           string `yaml:"type"`
	Server         string `yaml:"server"`
	Port           int    `yaml:"port"`
	UUID           string `yaml:"uuid,omitempty"`
	Cipher         string `yaml:"cipher,omitempty"`
	Password       string `yaml:"password,omitempty"`
	Network        string `yaml:"network,omitempty"`
	TLS            bool   `yaml:"tls,omitempty"`
	Flow           string `yaml:"flow,omitempty"`
	ServerName     string `yaml:"servername,omitempty"`
	RealityOpts    *realityOpts `yaml:"reality-opts,omitempty"`
	ClientFingerprint string    `yaml:"client-fingerprint,omitempty"`
}

type realityOpts struct {
	PublicKey string `yaml:"public-key,omitempty"`
	ShortID   string `yaml:"short-id,omitempty"`
}

type clashGroup struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Proxies []string `yaml:"proxies"`
}

type clashProfile struct {
	Proxies      []clashProxy `yaml:"proxies"`
	ProxyGroups  []clashGroup `yaml:"proxy-groups"`
}

// userClashEntry pairs a display name with Params. ClashYAML takes []Params
// directly and does not use this type.
type userClashEntry struct {
	Name string
	Params
}

// ClashYAML renders a Clash-compatible profile for the given users,
// skipping protocols Clash has no proxy type for (wireguard, openvpn, raw
// proxy-server links have no standard Clash representation).
func ClashYAML(entries []Params) (string, error) {
	profile := clashProfile{
		Proxies: make([]clashProxy, 0, len(entries)),
	}
	names := make([]string, 0, len(entries))

	for _, p := range entries {
		cp, ok := toClashProxy(p)
		if !ok {
			continue
		}
		profile.Proxies = append(profile.Proxies, cp)
		names = append(names, cp.Name)
	}

	profile.ProxyGroups = []clashGroup{
		{Name: "VPN", Type: "select", Proxies: names},
	}

	out, err := yaml.Marshal(profile)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func toClashProxy(p Params) (clashProxy, bool) {
	switch p.Protocol {
	case "vless":
		return clashProxy{
			Name:       p.Name,
			Type:       "vless",
			Server:     p.ServerHost,
			Port:       p.ServerPort,
			UUID:       p.UserID,
			Network:    orDefault(p.Network, "tcp"),
			TLS:        true,
			Flow:       p.Flow,
			ServerName: p.SNI,
			ClientFingerprint: "chrome",
			RealityOpts: &realityOpts{
				PublicKey: orPlaceholder(p.PublicKey, missingPublicKey),
				ShortID:   p.ShortID,
			},
		}, true
	case "outline", "shadowsocks":
		method := p.Method
		if method == "" {
			method = "chacha20-ietf-poly1305"
		}
		return clashProxy{
			Name:     p.Name,
			Type:     "ss",
			Server:   p.ServerHost,
			Port:     p.ServerPort,
			Cipher:   method,
			Password: p.Password,
		}, true
	case "socks5-proxy":
		return clashProxy{
			Name:     p.Name,
			Type:     "socks5",
			Server:   p.ServerHost,
			Port:     p.ServerPort,
			Password: p.Password,
		}, true
	case "http-proxy":
		return clashProxy{
			Name:     p.Name,
			Type:     "http",
			Server:   p.ServerHost,
			Port:     p.ServerPort,
			Password: p.Password,
		}, true
	default:
		// wireguard/openvpn/proxy-server have no standard Clash proxy type.
		return clashProxy{}, false
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
