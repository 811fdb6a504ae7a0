package rotation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/leasekeeper/internal/logging"
)

const sessionHeader = "X-Session-Id"

// HTTPClient talks to the provider's account gateway over JSON/HTTP.
type HTTPClient struct {
	base string
	hc   *http.Client
}

// NewHTTPClient returns a client rooted at base. A nil hc uses a default
// client; per-call deadlines come from the context.
func NewHTTPClient(base string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{}
	}
	return &HTTPClient{base: strings.TrimRight(base, "/"), hc: hc}
}

func (c *HTTPClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return body, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, s *Session, in any) ([]byte, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s != nil {
		req.Header.Set(sessionHeader, s.ID)
	}
	return c.do(req)
}

func (c *HTTPClient) Login(ctx context.Context, login string, password logging.Secret, code string) (*Session, error) {
	body, err := c.postJSON(ctx, "/auth/login", nil, map[string]string{
		"login":           login,
		"password":        password.Reveal(),
		"two_factor_code": code,
	})
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("login: no session returned")
	}
	return &s, nil
}

func (c *HTTPClient) APIKey(ctx context.Context, s *Session) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/auth/apikey", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set(sessionHeader, s.ID)
	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	var out struct {
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("api key: %w", err)
	}
	return out.APIKey, nil
}

func (c *HTTPClient) ChangePassword(ctx context.Context, s *Session, apiKey string, r ChangePasswordRequest) ([]byte, error) {
	form := url.Values{
		"key":          {apiKey},
		"steamid":      {r.SteamID},
		"password":     {r.Password.Reveal()},
		"new_password": {r.NewPassword.Reveal()},
		"code":         {r.Code},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/IAccountService/ChangePassword/v1",
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(sessionHeader, s.ID)
	return c.do(req)
}

func (c *HTTPClient) Logout(ctx context.Context, s *Session) error {
	_, err := c.postJSON(ctx, "/auth/logout", s, struct{}{})
	return err
}
