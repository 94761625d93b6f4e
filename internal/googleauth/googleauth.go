package googleauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

const userInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

var ErrNotConfigured = errors.New("google oauth not configured")

// Provider 包装 Google 的授权码流程：生成跳转地址、换 token、拉用户资料。
type Provider struct {
	cfg *oauth2.Config
}

func New(clientID, clientSecret, redirectURI string) *Provider {
	return &Provider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.google.com/o/oauth2/auth",
				TokenURL: "https://oauth2.googleapis.com/token",
			},
		},
	}
}

func (p *Provider) Configured() bool {
	return p.cfg.ClientID != "" && p.cfg.ClientSecret != ""
}

func (p *Provider) RedirectURI() string {
	return p.cfg.RedirectURL
}

// AuthCodeURL 生成同意页地址。state 原样带回 callback，用来区分 signin/signup 流程。
func (p *Provider) AuthCodeURL(state string, selectAccount bool) (string, error) {
	if !p.Configured() {
		return "", ErrNotConfigured
	}
	prompt := "consent"
	if selectAccount {
		prompt = "select_account consent"
	}
	return p.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", prompt),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	), nil
}

// UserInfo 是 Google userinfo 接口返回的字段子集。
type UserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

// FetchUser 用授权码换 token 并拉取用户资料。
func (p *Provider) FetchUser(ctx context.Context, code string) (*UserInfo, error) {
	if !p.Configured() {
		return nil, ErrNotConfigured
	}
	token, err := p.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	client := p.cfg.Client(ctx, token)
	resp, err := client.Get(userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("user info request failed with status %d: %s", resp.StatusCode, body)
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode user info: %w", err)
	}
	if info.Email == "" {
		return nil, errors.New("missing email in google response")
	}
	return &info, nil
}
