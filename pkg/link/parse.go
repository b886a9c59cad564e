package link

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/meridianvpn/fleet/pkg/ferrors"
)

// ParsedVLESS is the decomposition of a vless:// link returned by
// ParseVLESSLink.
type ParsedVLESS struct {
	ID     string
	Host   string
	Port   int
	Params url.Values
	Name   string
}

// ParseVLESSLink decodes a vless:// connection string into its id, host,
// port, and query parameters.
func ParseVLESSLink(s string) (ParsedVLESS, error) {
	u, err := url.Parse(s)
	if err != nil || u.Scheme != "vless" {
		return ParsedVLESS{}, fmt.Errorf("%w: not a vless link", ferrors.ErrLinkGeneration)
	}
	if u.User == nil || u.User.Username() == "" {
		return ParsedVLESS{}, fmt.Errorf("%w: missing user id", ferrors.ErrLinkGeneration)
	}
	host := u.Hostname()
	if host == "" {
		return ParsedVLESS{}, fmt.Errorf("%w: missing host", ferrors.ErrLinkGeneration)
	}
	portStr := u.Port()
	if portStr == "" {
		return ParsedVLESS{}, fmt.Errorf("%w: missing port", ferrors.ErrLinkGeneration)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ParsedVLESS{}, fmt.Errorf("%w: invalid port %q", ferrors.ErrLinkGeneration, portStr)
	}

	return ParsedVLESS{
		ID:     u.User.Username(),
		Host:   host,
		Port:   port,
		Params: u.Query(),
		Name:   strings.TrimSpace(u.Fragment),
	}, nil
}
