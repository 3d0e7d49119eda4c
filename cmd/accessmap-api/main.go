package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/accessmap/internal/auth"
	"github.com/MarcoPoloResearchLab/accessmap/internal/config"
	"github.com/MarcoPoloResearchLab/accessmap/internal/database"
	"github.com/MarcoPoloResearchLab/accessmap/internal/ids"
	"github.com/MarcoPoloResearchLab/accessmap/internal/logging"
	"github.com/MarcoPoloResearchLab/accessmap/internal/reports"
	"github.com/MarcoPoloResearchLab/accessmap/internal/server"
	"github.com/MarcoPoloResearchLab/accessmap/internal/users"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	envFile string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "accessmap-api",
		Short: "Accessibility map reports backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newMigrateCommand(), newVoteCommand())
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log encoding (json, console)")
	cmd.Flags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.Flags().String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	cmd.Flags().String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	cmd.Flags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Backend token TTL in minutes")
	cmd.Flags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.Flags().StringSlice("cors-allowed-origins", nil, "Origins allowed by CORS (default any)")

	bindFlag(cmd.PersistentFlags().Lookup, "database.path", "database-path")
	bindFlag(cmd.PersistentFlags().Lookup, "log.level", "log-level")
	bindFlag(cmd.PersistentFlags().Lookup, "log.format", "log-format")
	bindFlag(cmd.Flags().Lookup, "http.address", "http-address")
	bindFlag(cmd.Flags().Lookup, "google.client_id", "google-client-id")
	bindFlag(cmd.Flags().Lookup, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd.Flags().Lookup, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd.Flags().Lookup, "auth.signing_secret", "signing-secret")
	bindFlag(cmd.Flags().Lookup, "cors.allowed_origins", "cors-allowed-origins")
}

func bindFlag(lookup func(string) *pflag.Flag, key, flag string) {
	if err := viper.BindPFlag(key, lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	googleVerifier, err := auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
		Audience:       appConfig.GoogleClientID,
		JWKSURL:        appConfig.GoogleJWKSURL,
		AllowedIssuers: []string{"https://accounts.google.com", "accounts.google.com"},
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	idProvider := ids.NewUUIDProvider()
	usersService, err := users.NewService(users.ServiceConfig{
		Database:    db,
		Clock:       time.Now,
		IDProvider:  idProvider,
		AdminEmails: appConfig.AdminEmails,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	reportsService, err := reports.NewService(reports.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		GoogleVerifier: googleVerifier,
		TokenManager:   tokenManager,
		UsersService:   usersService,
		ReportsService: reportsService,
		Logger:         logger,
		AllowedOrigins: appConfig.CORSAllowedOrigins,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
