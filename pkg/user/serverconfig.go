package user

import (
	"encoding/json"
	"fmt"
	"path/filepath"
)

// serverConfigFileName is the canonical, server-wide protocol config
// regenerated on every store mutation.
const serverConfigFileName = "config.json"

// xrayClient is one inbound client entry in the generated XRay-style config.
type xrayClient struct {
	ID         string `json:"id,omitempty"`
	Email      string `json:"email"`
	Flow       string `json:"flow,omitempty"`
	Password   string `json:"password,omitempty"`
	Method     string `json:"method,omitempty"`
	Level      int    `json:"level"`
}

type xrayRealitySettings struct {
	Show        bool     `json:"show"`
	Dest        string   `json:"dest"`
	ServerNames []string `json:"serverNames"`
	PrivateKey  string   `json:"privateKey"`
	ShortIds    []string `json:"shortIds"`
}

type xrayStreamSettings struct {
	Network      string               `json:"network"`
	Security     string               `json:"security"`
	RealitySettings *xrayRealitySettings `json:"realitySettings,omitempty"`
}

type xrayInbound struct {
	Tag      string             `json:"tag"`
	Protocol string             `json:"protocol"`
	Port     int                `json:"port"`
	Settings struct {
		Clients    []xrayClient `json:"clients"`
		Decryption string       `json:"decryption,omitempty"`
		Method     string       `json:"method,omitempty"`
	} `json:"settings"`
	StreamSettings *xrayStreamSettings `json:"streamSettings,omitempty"`
}

// serverConfig is the canonical on-disk representation regenerated after
// every user-store mutation, covering the protocols that carry inbound
// config of their own (vless, outline/shadowsocks). Proxy-style protocols
// (http/socks5) are handled by pkg/proxy's own config, not this file.
type serverConfig struct {
	Log struct {
		LogLevel string `json:"loglevel"`
	} `json:"log"`
	Inbounds []xrayInbound `json:"inbounds"`
}

// regenerateServerConfig rebuilds config/config.json from the current user
// set: builds the document, validates it round-trips through JSON cleanly
// and has no duplicate client ids, then overwrites the previous file
// atomically. A validation failure leaves the previous file untouched.
func (s *Store) regenerateServerConfig() error {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.byID))
	for _, e := range s.byID {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var vlessClients, ssClients []xrayClient
	var realitySNI, realityPriv string
	var shortIDs []string

	for _, e := range entries {
		e.mu.Lock()
		u := e.user
		if u.Status != StatusActive {
			e.mu.Unlock()
			continue
		}
		switch u.Protocol {
		case ProtocolVLESS:
			vlessClients = append(vlessClients, xrayClient{ID: u.ID, Email: u.Name, Flow: u.Config.Flow, Level: 0})
			if realitySNI == "" {
				realitySNI = u.Config.SNI
			}
			if realityPriv == "" {
				realityPriv = u.Config.PrivateKey
			}
			if u.Config.ShortID != "" {
				shortIDs = append(shortIDs, u.Config.ShortID)
			}
		case ProtocolOutline:
			ssClients = append(ssClients, xrayClient{Email: u.Name, Password: u.Config.Password, Method: u.Config.Method, Level: 0})
		}
		e.mu.Unlock()
	}

	cfg := serverConfig{}
	cfg.Log.LogLevel = "warning"

	if len(vlessClients) > 0 {
		inbound := xrayInbound{Tag: "vless-in", Protocol: "vless", Port: s.template.Port}
		inbound.Settings.Clients = vlessClients
		inbound.Settings.Decryption = "none"
		inbound.StreamSettings = &xrayStreamSettings{
			Network:  orDefaultStr(s.template.Network, "tcp"),
			Security: "reality",
			RealitySettings: &xrayRealitySettings{
				Dest:        fmt.Sprintf("%s:443", orDefaultStr(realitySNI, "www.microsoft.com")),
				ServerNames: []string{orDefaultStr(realitySNI, "www.microsoft.com")},
				PrivateKey:  realityPriv,
				ShortIds:    shortIDs,
			},
		}
		cfg.Inbounds = append(cfg.Inbounds, inbound)
	}

	if len(ssClients) > 0 {
		inbound := xrayInbound{Tag: "ss-in", Protocol: "shadowsocks", Port: s.template.Port + 1}
		inbound.Settings.Clients = ssClients
		inbound.Settings.Method = "chacha20-ietf-poly1305"
		cfg.Inbounds = append(cfg.Inbounds, inbound)
	}

	if err := validateServerConfig(cfg); err != nil {
		return fmt.Errorf("user: generated server config failed validation, previous file kept: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("user: marshal server config: %w", err)
	}

	return writeFileAtomic(filepath.Join(s.baseDir, "config", serverConfigFileName), data, 0o644)
}

func validateServerConfig(cfg serverConfig) error {
	seen := make(map[string]bool)
	for _, in := range cfg.Inbounds {
		for _, c := range in.Settings.Clients {
			key := c.ID
			if key == "" {
				key = c.Email
			}
			if seen[key] {
				return fmt.Errorf("duplicate client identity %q in inbound %q", key, in.Tag)
			}
			seen[key] = true
		}
	}
	// Round-trip check: a config that cannot re-marshal/unmarshal cleanly is
	// not safe to ship.
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var roundTrip serverConfig
	return json.Unmarshal(data, &roundTrip)
}

func orDefaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
