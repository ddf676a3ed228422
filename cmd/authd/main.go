package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/jwtauth/v5"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tendant/chi-demo/app"
	dbutils "github.com/tendant/db-utils/db"

	"github.com/authlink/authlink/pkg/authflow"
	authapi "github.com/authlink/authlink/pkg/authflow/api"
	"github.com/authlink/authlink/pkg/config"
	"github.com/authlink/authlink/pkg/googleverify"
	"github.com/authlink/authlink/pkg/identity"
	"github.com/authlink/authlink/pkg/notification"
	"github.com/authlink/authlink/pkg/provider"
	"github.com/authlink/authlink/pkg/tokenservice"
)

type Config struct {
	DbConfig     config.DatabaseConfig
	AppConfig    app.AppConfig
	JwtConfig    config.JWTConfig
	EmailConfig  config.EmailConfig
	GoogleConfig config.GoogleConfig
}

func main() {

	cfg := Config{}
	cleanenv.ReadEnv(&cfg)

	server := app.DefaultApp()

	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	dbConfig := cfg.DbConfig.ToDbConfig()
	pool, err := dbutils.NewDbPool(context.Background(), dbConfig)
	if err != nil {
		slog.Error("Failed creating dbpool", "db", dbConfig.Database, "host", dbConfig.Host, "port", dbConfig.Port, "user", dbConfig.User)
		os.Exit(-1)
	}

	repo := identity.NewPostgresIdentityRepository(pool)
	providerService := provider.NewProviderService(repo)

	accessExpiry, err := cfg.JwtConfig.ParseAccessTokenExpiry()
	if err != nil {
		slog.Error("Invalid access token expiry", "value", cfg.JwtConfig.AccessTokenExpiry, "err", err)
		os.Exit(-1)
	}
	refreshExpiry, err := cfg.JwtConfig.ParseRefreshTokenExpiry()
	if err != nil {
		slog.Error("Invalid refresh token expiry", "value", cfg.JwtConfig.RefreshTokenExpiry, "err", err)
		os.Exit(-1)
	}
	rememberExpiry, err := cfg.JwtConfig.ParseRememberMeExpiry()
	if err != nil {
		slog.Error("Invalid remember-me expiry", "value", cfg.JwtConfig.RememberMeExpiry, "err", err)
		os.Exit(-1)
	}

	tokenService := tokenservice.NewTokenService(
		repo,
		cfg.JwtConfig.Secret,
		cfg.JwtConfig.Issuer,
		cfg.JwtConfig.Audience,
		tokenservice.WithAccessExpiry(accessExpiry),
		tokenservice.WithRefreshExpiry(refreshExpiry),
		tokenservice.WithRememberExpiry(rememberExpiry),
	)

	notificationManager, err := notification.NewNotificationManagerWithOptions(
		notification.WithSMTP(cfg.EmailConfig.ToSMTPConfig()),
		notification.WithDefaultTemplates(),
	)
	if err != nil {
		slog.Error("Failed creating notification manager", "err", err)
		os.Exit(-1)
	}

	flowOpts := []authflow.AuthFlowServiceOption{
		authflow.WithNotificationManager(notificationManager),
	}
	if cfg.GoogleConfig.IsConfigured() {
		flowOpts = append(flowOpts, authflow.WithGoogleVerifier(googleverify.NewGoogleVerifier(cfg.GoogleConfig.ClientID)))
	} else {
		slog.Warn("GOOGLE_CLIENT_ID not set, google sign-in disabled")
	}

	flowService := authflow.NewAuthFlowService(repo, providerService, tokenService, flowOpts...)

	authHandle := authapi.NewHandle(
		flowService,
		authapi.WithCookieHttpOnly(cfg.JwtConfig.CookieHttpOnly),
		authapi.WithCookieSecure(cfg.JwtConfig.CookieSecure),
	)

	tokenAuth := jwtauth.New("HS256", []byte(cfg.JwtConfig.Secret), nil)

	server.R.Mount("/auth", authapi.Handler(authHandle, tokenAuth))

	server.Run()

}
