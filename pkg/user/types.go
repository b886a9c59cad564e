package user

import "time"

// Status is the lifecycle state of a user.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
	StatusExpired   Status = "expired"
)

// Protocol identifies the VPN/proxy transport a user is provisioned for.
type Protocol string

const (
	ProtocolVLESS       Protocol = "vless"
	ProtocolOutline     Protocol = "outline"
	ProtocolWireGuard   Protocol = "wireguard"
	ProtocolOpenVPN     Protocol = "openvpn"
	ProtocolHTTPProxy   Protocol = "http-proxy"
	ProtocolSOCKS5      Protocol = "socks5-proxy"
	ProtocolProxyServer Protocol = "proxy-server"
)

// requiresKeyMaterial reports whether Protocol needs an X25519 keypair.
func (p Protocol) requiresKeyMaterial() bool {
	switch p {
	case ProtocolVLESS, ProtocolWireGuard:
		return true
	default:
		return false
	}
}

// ConfigBlock holds the transport parameters needed to emit a connection
// link for a user.
type ConfigBlock struct {
	ServerHost string `json:"server_host"`
	ServerPort int    `json:"server_port"`
	SNI        string `json:"sni,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	PublicKey  string `json:"public_key,omitempty"`
	ShortID    string `json:"short_id,omitempty"`
	Flow       string `json:"flow,omitempty"`
	Network    string `json:"network,omitempty"`
	Security   string `json:"security,omitempty"`
	Path       string `json:"path,omitempty"`
	HeaderType string `json:"header_type,omitempty"`
	// Password is used by shadowsocks/outline users; it is not key material
	// in the X25519 sense, so it lives alongside rather than in PrivateKey.
	Password string `json:"password,omitempty"`
	Method   string `json:"method,omitempty"`
}

// StatsBlock tracks per-user traffic counters, refreshed by the data plane.
type StatsBlock struct {
	BytesSent       uint64     `json:"bytes_sent"`
	BytesReceived   uint64     `json:"bytes_received"`
	ConnectionCount uint64     `json:"connection_count"`
	LastConnection  *time.Time `json:"last_connection,omitempty"`
	UptimeSeconds   uint64     `json:"uptime_seconds"`
}

// User is a single provisioned identity.
type User struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Email      string      `json:"email,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	LastActive *time.Time  `json:"last_active,omitempty"`
	Status     Status      `json:"status"`
	Protocol   Protocol    `json:"protocol"`
	Config     ConfigBlock `json:"config"`
	Stats      StatsBlock  `json:"stats"`
}

// clone returns a deep copy so callers can never observe or mutate the
// store's internal state through a returned pointer.
func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	if u.LastActive != nil {
		t := *u.LastActive
		cp.LastActive = &t
	}
	if u.Stats.LastConnection != nil {
		t := *u.Stats.LastConnection
		cp.Stats.LastConnection = &t
	}
	return &cp
}

// ServerTemplate supplies the server-side defaults (host, port, SNI, reality
// transport parameters) applied to every user created against a Store. Only
// the id, keypair, short-id and (for outline users) password are generated
// per user.
type ServerTemplate struct {
	Host       string
	Port       int
	SNI        string
	Flow       string
	Network    string
	Security   string
	Path       string
	HeaderType string
}

// ListOptions filters and orders the result of Store.ListUsers.
type ListOptions struct {
	Status   *Status
	Protocol *Protocol
	SortBy   SortKey
	Limit    int
}

// SortKey is a ListOptions sort field.
type SortKey string

const (
	SortByName         SortKey = "name"
	SortByCreatedAt    SortKey = "created_at"
	SortByLastActive   SortKey = "last_active"
	SortByTotalTraffic SortKey = "total_traffic"
)
