package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/meridianvpn/fleet/pkg/ferrors"
)

// HTTPBackend authenticates by POSTing {username,password} JSON to a
// configured URL; a 2xx response carrying a user_id field is success.
type HTTPBackend struct {
	url    string
	client *http.Client
}

// NewHTTPBackend builds an HTTPBackend against url with the given request
// timeout.
func NewHTTPBackend(url string, timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{url: url, client: &http.Client{Timeout: timeout}}
}

type httpAuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type httpAuthResponse struct {
	UserID string `json:"user_id"`
}

func (b *HTTPBackend) Verify(ctx context.Context, user, pass string) (string, error) {
	body, err := json.Marshal(httpAuthRequest{Username: user, Password: pass})
	if err != nil {
		return "", fmt.Errorf("auth: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("auth: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth: http backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: http backend status %d", ferrors.ErrAuthenticationFailed, resp.StatusCode)
	}

	var out httpAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("auth: decode http backend response: %w", err)
	}
	if out.UserID == "" {
		return "", fmt.Errorf("%w: http backend response missing user_id", ferrors.ErrAuthenticationFailed)
	}
	return out.UserID, nil
}
