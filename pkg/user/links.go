package user

import (
	"fmt"
	"os"

	"github.com/meridianvpn/fleet/pkg/link"
)

// GenerateConnectionLink returns the connection string for user id, the
// same string persisted to its connection.link file.
func (s *Store) GenerateConnectionLink(id string) (string, error) {
	u, err := s.GetUser(id)
	if err != nil {
		return "", err
	}
	return link.Emit(userToLinkParams(u))
}

// GenerateQRCode writes a PNG QR code of user id's connection link to path.
func (s *Store) GenerateQRCode(id, path string) error {
	linkStr, err := s.GenerateConnectionLink(id)
	if err != nil {
		return err
	}
	png, err := link.QRCodeForLink(linkStr)
	if err != nil {
		return fmt.Errorf("user: generate qr code: %w", err)
	}
	if err := os.WriteFile(path, png, 0o600); err != nil {
		return fmt.Errorf("user: write qr code: %w", err)
	}
	return nil
}

func userToLinkParams(u *User) link.Params {
	return link.Params{
		Protocol:   string(u.Protocol),
		UserID:     u.ID,
		Name:       u.Name,
		ServerHost: u.Config.ServerHost,
		ServerPort: u.Config.ServerPort,
		SNI:        u.Config.SNI,
		PublicKey:  u.Config.PublicKey,
		PrivateKey: u.Config.PrivateKey,
		ShortID:    u.Config.ShortID,
		Flow:       u.Config.Flow,
		Network:    u.Config.Network,
		Security:   u.Config.Security,
		Path:       u.Config.Path,
		HeaderType: u.Config.HeaderType,
		Password:   u.Config.Password,
		Method:     u.Config.Method,
	}
}
