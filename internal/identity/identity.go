// Package identity integrates third-party OAuth identity providers. A
// Provider exchanges an authorization code for the provider-side profile;
// everything else about the OAuth dance (scopes, consent screens) lives on
// the client. Endpoints are injectable so tests can point providers at an
// httptest server.
package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Profile is the normalized identity returned by a code exchange.
type Profile struct {
	Provider     string
	UID          string
	Name         string
	AvatarURL    string
	AccessToken  string
	RefreshToken string
}

// Provider exchanges an OAuth authorization code for a user profile.
// Implementations must be safe for concurrent use and honor the context
// for cancellation; a provider outage surfaces as an error and never
// affects sync or statistics availability.
type Provider interface {
	// Name returns the provider identifier used in routes and user rows.
	Name() string
	// Exchange trades an authorization code for the provider profile.
	Exchange(ctx context.Context, code, redirectURI string) (*Profile, error)
}

// tokenResponse is the subset of the OAuth token payload both providers share.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// defaultClient bounds provider calls so a slow identity endpoint cannot
// hold a login request open indefinitely.
var defaultClient = &http.Client{Timeout: 10 * time.Second}

// Google exchanges codes against Google's OAuth2 endpoints and reads the
// OIDC userinfo document.
type Google struct {
	ClientID     string
	ClientSecret string

	// HTTPClient overrides the default bounded client (tests).
	HTTPClient *http.Client
	// TokenURL / UserInfoURL override Google's endpoints (tests).
	TokenURL    string
	UserInfoURL string
}

// NewGoogle returns a Google provider against the production endpoints.
func NewGoogle(clientID, clientSecret string) *Google {
	return &Google{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     "https://oauth2.googleapis.com/token",
		UserInfoURL:  "https://www.googleapis.com/oauth2/v3/userinfo",
	}
}

// Name implements Provider.
func (g *Google) Name() string { return "google" }

// Exchange implements Provider. Google takes the grant parameters in the
// query string with client credentials as HTTP basic auth.
func (g *Google) Exchange(ctx context.Context, code, redirectURI string) (*Profile, error) {
	q := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.TokenURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(g.ClientID + ":" + g.ClientSecret))
	req.Header.Set("Authorization", "Basic "+basic)

	var tok tokenResponse
	if err := doJSON(g.client(), req, "google token", &tok); err != nil {
		return nil, err
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, g.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	var info struct {
		Sub     string `json:"sub"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := doJSON(g.client(), req, "google userinfo", &info); err != nil {
		return nil, err
	}

	return &Profile{
		Provider:     g.Name(),
		UID:          info.Sub,
		Name:         info.Name,
		AvatarURL:    info.Picture,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}, nil
}

func (g *Google) client() *http.Client {
	if g.HTTPClient != nil {
		return g.HTTPClient
	}
	return defaultClient
}

// Discord exchanges codes against Discord's OAuth2 endpoints and reads the
// /users/@me document, deriving the CDN avatar URL.
type Discord struct {
	ClientID     string
	ClientSecret string

	// HTTPClient overrides the default bounded client (tests).
	HTTPClient *http.Client
	// TokenURL / MeURL / CDNBase override Discord's endpoints (tests).
	TokenURL string
	MeURL    string
	CDNBase  string
}

// NewDiscord returns a Discord provider against the production endpoints.
func NewDiscord(clientID, clientSecret string) *Discord {
	return &Discord{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     "https://discord.com/api/oauth2/token",
		MeURL:        "https://discord.com/api/users/@me",
		CDNBase:      "https://cdn.discordapp.com",
	}
}

// Name implements Provider.
func (d *Discord) Name() string { return "discord" }

// Exchange implements Provider. Discord takes the grant parameters and
// client credentials as a form-encoded body.
func (d *Discord) Exchange(ctx context.Context, code, redirectURI string) (*Profile, error) {
	form := url.Values{
		"client_id":     {d.ClientID},
		"client_secret": {d.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tok tokenResponse
	if err := doJSON(d.client(), req, "discord token", &tok); err != nil {
		return nil, err
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, d.MeURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	var me struct {
		ID            string `json:"id"`
		Username      string `json:"username"`
		Discriminator string `json:"discriminator"`
		Avatar        string `json:"avatar"`
	}
	if err := doJSON(d.client(), req, "discord me", &me); err != nil {
		return nil, err
	}

	return &Profile{
		Provider:     d.Name(),
		UID:          me.ID,
		Name:         me.Username + "#" + me.Discriminator,
		AvatarURL:    d.avatarURL(me.ID, me.Avatar, me.Discriminator),
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}, nil
}

// avatarURL builds the CDN avatar location, falling back to one of the
// five default embed avatars keyed by discriminator when the account has
// no custom avatar.
func (d *Discord) avatarURL(id, avatar, discriminator string) string {
	if avatar != "" {
		return fmt.Sprintf("%s/avatars/%s/%s.png", d.CDNBase, id, avatar)
	}
	n, _ := strconv.Atoi(discriminator)
	return fmt.Sprintf("%s/embed/avatars/%d.png", d.CDNBase, n%5)
}

func (d *Discord) client() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return defaultClient
}

// doJSON performs req, enforces a 2xx status, and decodes the body into out.
func doJSON(client *http.Client, req *http.Request, what string, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("identity: %s: %w", what, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little for keep-alive reuse; the status is the signal.
		_, _ = io.CopyN(io.Discard, resp.Body, 512)
		return fmt.Errorf("identity: %s: %s", what, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("identity: %s: decode: %w", what, err)
	}
	return nil
}
