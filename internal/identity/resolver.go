// Package identity talks to the user service. Transfer targeting and guest
// list display both need username/email resolution; the contract is narrow on
// purpose so tests can swap in a fake.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"ms-ragers/internal/ticketerr"
)

// Identity is the resolved account view the user service exposes to us.
type Identity struct {
	UID         string `json:"uid"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
	Verified    bool   `json:"verified,omitempty"`
}

type Resolver interface {
	// ResolveByUsername maps a username to an account or ticketerr.ErrNotFound.
	ResolveByUsername(ctx context.Context, handle string) (*Identity, error)
	// ResolveByEmail maps an email to an account or ticketerr.ErrNotFound.
	// Used for self-transfer detection and to attach a uid to email targets.
	ResolveByEmail(ctx context.Context, email string) (*Identity, error)
	// ResolveBatch maps uids to identities. Missing uids are simply absent
	// from the result.
	ResolveBatch(ctx context.Context, uids []string) (map[string]Identity, error)
}

// HTTPResolver is the production Resolver, authenticated with a service token.
type HTTPResolver struct {
	BaseURL      string
	ServiceToken string
	Client       *http.Client
}

func NewHTTPResolver(baseURL, serviceToken string, client *http.Client) *HTTPResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPResolver{BaseURL: baseURL, ServiceToken: serviceToken, Client: client}
}

func (r *HTTPResolver) ResolveByUsername(ctx context.Context, handle string) (*Identity, error) {
	return r.resolveOne(ctx, "/internal/v1/users/by-username", "username", handle)
}

func (r *HTTPResolver) ResolveByEmail(ctx context.Context, email string) (*Identity, error) {
	return r.resolveOne(ctx, "/internal/v1/users/by-email", "email", email)
}

func (r *HTTPResolver) resolveOne(ctx context.Context, path, param, value string) (*Identity, error) {
	u, err := url.Parse(r.BaseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid user service URL: %w", err)
	}
	q := u.Query()
	q.Set(param, value)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.ServiceToken)

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s %q: %w", param, value, ticketerr.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user service returned status %d for %s lookup", resp.StatusCode, param)
	}

	var ident Identity
	if err := json.NewDecoder(resp.Body).Decode(&ident); err != nil {
		return nil, fmt.Errorf("failed to decode user service response: %w", err)
	}
	return &ident, nil
}

func (r *HTTPResolver) ResolveBatch(ctx context.Context, uids []string) (map[string]Identity, error) {
	if len(uids) == 0 {
		return map[string]Identity{}, nil
	}

	body, err := json.Marshal(map[string][]string{"uids": uids})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/internal/v1/users/batch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.ServiceToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user service batch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user service returned status %d for batch lookup", resp.StatusCode)
	}

	var payload struct {
		Users []Identity `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode batch response: %w", err)
	}

	out := make(map[string]Identity, len(payload.Users))
	for _, ident := range payload.Users {
		out[ident.UID] = ident
	}
	return out, nil
}
