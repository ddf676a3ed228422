package config

// GoogleConfig holds Google Sign-In configuration
type GoogleConfig struct {
	ClientID string `env:"GOOGLE_CLIENT_ID" env-default:""`
}

// IsConfigured returns true if Google Sign-In is configured
func (g GoogleConfig) IsConfigured() bool {
	return g.ClientID != ""
}
