package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/sakif/propability/internal/model"
)

// Profile is the identity an OAuth provider vouches for.
type Profile struct {
	Subject   string // provider's stable user ID
	Email     string
	Name      string
	AvatarURL string
}

// Provider is one third-party sign-in option.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. AuthURL sends the browser to the provider's consent page with a random state
//  2. The provider redirects back to our callback with ?code=...&state=...
//  3. Exchange trades the code for an access token and fetches the profile
type Provider interface {
	Name() string
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*Profile, error)
}

// GitHubProvider signs users in with GitHub.
type GitHubProvider struct {
	config *oauth2.Config
	apiURL string
}

// NewGitHubProvider creates a GitHub OAuth provider. callbackURL must match
// the Authorization callback URL registered in the GitHub OAuth App settings.
func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		apiURL: "https://api.github.com",
	}
}

func (p *GitHubProvider) Name() string { return model.ProviderGitHub }

func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// Exchange trades the code for a token and loads the GitHub profile. When the
// user hides their email, the primary verified address is read from /user/emails.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*Profile, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging GitHub code: %w", err)
	}
	client := p.config.Client(ctx, token)

	var u githubUser
	if err := getJSON(ctx, client, p.apiURL+"/user", &u); err != nil {
		return nil, fmt.Errorf("auth: GitHub /user: %w", err)
	}
	if u.ID == 0 {
		return nil, fmt.Errorf("auth: GitHub returned an invalid user (ID = 0)")
	}

	if u.Email == "" {
		var emails []githubEmail
		if err := getJSON(ctx, client, p.apiURL+"/user/emails", &emails); err == nil {
			for _, e := range emails {
				if e.Primary && e.Verified {
					u.Email = e.Email
					break
				}
			}
		}
	}

	name := u.Name
	if name == "" {
		name = u.Login
	}
	return &Profile{
		Subject:   strconv.FormatInt(u.ID, 10),
		Email:     u.Email,
		Name:      name,
		AvatarURL: u.AvatarURL,
	}, nil
}

// GoogleProvider signs users in with Google (OpenID Connect userinfo).
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
}

// NewGoogleProvider creates a Google OAuth provider.
func NewGoogleProvider(clientID, clientSecret, callbackURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
	}
}

func (p *GoogleProvider) Name() string { return model.ProviderGoogle }

func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type googleUserInfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*Profile, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging Google code: %w", err)
	}

	var info googleUserInfo
	if err := getJSON(ctx, p.config.Client(ctx, token), p.userInfoURL, &info); err != nil {
		return nil, fmt.Errorf("auth: Google userinfo: %w", err)
	}
	if strings.TrimSpace(info.Sub) == "" {
		return nil, fmt.Errorf("auth: Google returned a profile without a subject")
	}

	return &Profile{
		Subject:   info.Sub,
		Email:     info.Email,
		Name:      info.Name,
		AvatarURL: info.Picture,
	}, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

var (
	_ Provider = (*GitHubProvider)(nil)
	_ Provider = (*GoogleProvider)(nil)
)
