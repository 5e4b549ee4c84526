package config

import "time"

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`

	// JWTRefreshSecret signs refresh tokens. Falls back to JWTSecret when empty.
	JWTRefreshSecret string `yaml:"jwt_refresh_secret"`
	// RefreshExpiry is the refresh token lifetime. Default: 168h (7 days).
	RefreshExpiry time.Duration `yaml:"refresh_expiry"`

	APIKeys []APIKeyConfig `yaml:"api_keys"`
	OAuth   OAuthConfig    `yaml:"oauth"`
}

type APIKeyConfig struct {
	Key      string   `yaml:"key"`
	UserID   string   `yaml:"user_id"`
	Email    string   `yaml:"email"`
	Name     string   `yaml:"name"`
	TenantID string   `yaml:"tenant_id"`
	Scopes   []string `yaml:"scopes"`
}

type OAuthConfig struct {
	Google OAuthProviderConfig `yaml:"google"`
	GitHub OAuthProviderConfig `yaml:"github"`
}

type OAuthProviderConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}
