package config

import (
	"time"
)

// JWTConfig holds JWT and refresh token configuration
type JWTConfig struct {
	Secret             string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
	AccessTokenExpiry  string `env:"ACCESS_TOKEN_EXPIRY" env-default:"15m"`
	RefreshTokenExpiry string `env:"REFRESH_TOKEN_EXPIRY" env-default:"168h"`
	RememberMeExpiry   string `env:"REMEMBER_ME_EXPIRY" env-default:"720h"`
	Issuer             string `env:"JWT_ISSUER" env-default:"authlink"`
	Audience           string `env:"JWT_AUDIENCE" env-default:"authlink"`
	CookieHttpOnly     bool   `env:"COOKIE_HTTP_ONLY" env-default:"true"`
	CookieSecure       bool   `env:"COOKIE_SECURE" env-default:"false"`
}

// ParseAccessTokenExpiry parses the access token expiry duration
func (j JWTConfig) ParseAccessTokenExpiry() (time.Duration, error) {
	return time.ParseDuration(j.AccessTokenExpiry)
}

// ParseRefreshTokenExpiry parses the refresh token expiry duration
func (j JWTConfig) ParseRefreshTokenExpiry() (time.Duration, error) {
	return time.ParseDuration(j.RefreshTokenExpiry)
}

// ParseRememberMeExpiry parses the extended refresh token expiry duration
func (j JWTConfig) ParseRememberMeExpiry() (time.Duration, error) {
	return time.ParseDuration(j.RememberMeExpiry)
}
