package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/readingroom/catalog/internal/auth"
	"github.com/readingroom/catalog/internal/catalog"
	"github.com/readingroom/catalog/internal/comments"
	"github.com/readingroom/catalog/internal/config"
	"github.com/readingroom/catalog/internal/database"
	"github.com/readingroom/catalog/internal/logging"
	"github.com/readingroom/catalog/internal/metrics"
	"github.com/readingroom/catalog/internal/ratings"
	"github.com/readingroom/catalog/internal/server"
	"github.com/readingroom/catalog/internal/visitors"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "catalog-api",
		Short: "Library catalog backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Bearer token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().Int("page-size", defaults.GetInt("catalog.page_size"), "Books per listing page")
	cmd.PersistentFlags().String("author-delete-policy", defaults.GetString("catalog.author_delete_policy"), "Author deletion policy (protect, cascade)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "catalog.page_size", "page-size")
	bindFlag(cmd, "catalog.author_delete_policy", "author-delete-policy")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
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

	logger, err := logging.NewLogger(appConfig.LogLevel)
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

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "catalog-auth",
		Audience:      "catalog-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	visitorService, err := visitors.NewService(visitors.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Database:           db,
		Clock:              time.Now,
		Logger:             logger,
		PageSize:           appConfig.PageSize,
		AuthorDeletePolicy: appConfig.AuthorDeletePolicy,
	})
	if err != nil {
		return err
	}

	commentService, err := comments.NewService(comments.ServiceConfig{
		Database:     db,
		Clock:        time.Now,
		Logger:       logger,
		SiblingOrder: comments.OrderNewestFirst,
	})
	if err != nil {
		return err
	}

	ratingService, err := ratings.NewService(ratings.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:   tokenManager,
		CatalogService: catalogService,
		VisitorService: visitorService,
		CommentService: commentService,
		RatingService:  ratingService,
		Metrics:        metrics.New(nil),
		Logger:         logger,
		RateLimitRPS:   appConfig.RateLimitRPS,
		RateLimitBurst: appConfig.RateLimitBurst,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
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
