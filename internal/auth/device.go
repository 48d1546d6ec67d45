package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/animedb/animedb-helper/internal/library"
)

// DeviceCode is the provider response that starts a device-code login.
type DeviceCode struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

type deviceTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	CreatedAt    int64  `json:"created_at"`
}

// DeviceFlow runs the device-code grant. Trakt uses this flow: there is no
// browser callback, the user enters a short code on the provider site while
// the client polls the token endpoint.
type DeviceFlow struct {
	store   *Store
	service library.Source

	ClientID     string
	ClientSecret string
	CodeURL      string
	TokenURL     string
	RefreshURL   string
	HTTPClient   *http.Client

	// Extra headers set on every request (API version, API key).
	Headers map[string]string

	sleep func(ctx context.Context, d time.Duration) error
}

// NewDeviceFlow builds a flow for service against the given endpoints.
func NewDeviceFlow(store *Store, service library.Source, clientID, clientSecret, codeURL, tokenURL, refreshURL string) *DeviceFlow {
	return &DeviceFlow{
		store:        store,
		service:      service,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		CodeURL:      codeURL,
		TokenURL:     tokenURL,
		RefreshURL:   refreshURL,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (f *DeviceFlow) post(ctx context.Context, url string, payload map[string]string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range f.Headers {
		req.Header.Set(k, v)
	}
	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s token request: %w", f.service, err)
	}
	return resp, nil
}

// RequestCode starts the flow and returns the code the user must enter.
func (f *DeviceFlow) RequestCode(ctx context.Context) (*DeviceCode, error) {
	resp, err := f.post(ctx, f.CodeURL, map[string]string{"client_id": f.ClientID})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s device code failed: %s - %s", f.service, resp.Status, string(body))
	}
	var code DeviceCode
	if err := json.NewDecoder(resp.Body).Decode(&code); err != nil {
		return nil, fmt.Errorf("decode device code: %w", err)
	}
	return &code, nil
}

// Poll polls the token endpoint at the provider interval until the user
// authorizes, the code expires, or ctx is cancelled. On success the
// credential is persisted.
func (f *DeviceFlow) Poll(ctx context.Context, code *DeviceCode) (*Credential, error) {
	interval := time.Duration(code.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(code.ExpiresIn) * time.Second)

	for time.Now().Before(deadline) {
		cred, pending, err := f.pollOnce(ctx, code.DeviceCode)
		if err != nil {
			return nil, err
		}
		if !pending {
			if err := f.store.Save(f.service, cred); err != nil {
				return nil, err
			}
			return cred, nil
		}
		if err := f.wait(ctx, interval); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s device code expired before authorization", f.service)
}

// pollOnce reports pending=true when the user has not authorized yet.
func (f *DeviceFlow) pollOnce(ctx context.Context, deviceCode string) (*Credential, bool, error) {
	resp, err := f.post(ctx, f.TokenURL, map[string]string{
		"code":          deviceCode,
		"client_id":     f.ClientID,
		"client_secret": f.ClientSecret,
	})
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		cred, err := decodeDeviceToken(resp.Body)
		return cred, false, err
	case http.StatusBadRequest:
		// Still waiting for the user to enter the code.
		return nil, true, nil
	case http.StatusTooManyRequests:
		// Polling too fast; treat as pending, the caller sleeps anyway.
		return nil, true, nil
	case http.StatusNotFound:
		return nil, false, fmt.Errorf("%s device code invalid", f.service)
	case http.StatusConflict:
		return nil, false, fmt.Errorf("%s device code already used", f.service)
	case http.StatusGone:
		return nil, false, fmt.Errorf("%s device code expired", f.service)
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, false, fmt.Errorf("%s device token failed: %s - %s", f.service, resp.Status, string(body))
	}
}

// Refresh renews the stored credential via the refresh_token grant and
// persists the replacement.
func (f *DeviceFlow) Refresh(ctx context.Context, current *Credential) (*Credential, error) {
	if current.RefreshToken == "" {
		return nil, fmt.Errorf("%s credential has no refresh token", f.service)
	}
	resp, err := f.post(ctx, f.RefreshURL, map[string]string{
		"refresh_token": current.RefreshToken,
		"client_id":     f.ClientID,
		"client_secret": f.ClientSecret,
		"redirect_uri":  "urn:ietf:wg:oauth:2.0:oob",
		"grant_type":    "refresh_token",
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s token refresh failed: %s - %s", f.service, resp.Status, string(body))
	}
	cred, err := decodeDeviceToken(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := f.store.Save(f.service, cred); err != nil {
		return nil, err
	}
	log.Printf("[auth] Refreshed %s token", f.service)
	return cred, nil
}

func (f *DeviceFlow) wait(ctx context.Context, d time.Duration) error {
	if f.sleep != nil {
		return f.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func decodeDeviceToken(r io.Reader) (*Credential, error) {
	var tok deviceTokenResponse
	if err := json.NewDecoder(r).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	cred := &Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if tok.ExpiresIn > 0 {
		start := time.Now()
		if tok.CreatedAt > 0 {
			start = time.Unix(tok.CreatedAt, 0)
		}
		cred.ExpiresAt = start.Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return cred, nil
}
