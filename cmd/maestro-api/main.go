package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eshygn/MyMusicMaestro/internal/auth"
	"github.com/eshygn/MyMusicMaestro/internal/authz"
	"github.com/eshygn/MyMusicMaestro/internal/catalog"
	"github.com/eshygn/MyMusicMaestro/internal/config"
	"github.com/eshygn/MyMusicMaestro/internal/covers"
	"github.com/eshygn/MyMusicMaestro/internal/database"
	"github.com/eshygn/MyMusicMaestro/internal/logging"
	"github.com/eshygn/MyMusicMaestro/internal/metrics"
	"github.com/eshygn/MyMusicMaestro/internal/server"
	"github.com/eshygn/MyMusicMaestro/internal/users"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sessionIssuer = "maestro"

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "maestro-api",
		Short: "MyMusicMaestro catalog service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newUsersCommand())

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
	cmd.PersistentFlags().Int("session-ttl-minutes", defaults.GetInt("auth.session_ttl_minutes"), "Session lifetime in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("media-root", defaults.GetString("media.root"), "Directory holding uploaded cover images")
	cmd.PersistentFlags().String("policy-path", defaults.GetString("authz.policy_path"), "Optional casbin policy file replacing the built-in role matrix")
	cmd.PersistentFlags().Bool("secure-cookies", defaults.GetBool("http.secure_cookies"), "Mark session cookies as Secure")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.session_ttl_minutes", "session-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "media.root", "media-root")
	bindFlag(cmd, "authz.policy_path", "policy-path")
	bindFlag(cmd, "http.secure_cookies", "secure-cookies")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
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

// application holds the services shared by the server and the admin commands.
type application struct {
	config  config.AppConfig
	logger  *zap.Logger
	db      *gorm.DB
	catalog *catalog.Service
	users   *users.Service
}

type configLoader func(*viper.Viper) (config.AppConfig, error)

func openApplication(configViper *viper.Viper, load configLoader) (app *application, err error) {
	appConfig, err := load(configViper)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	defer func() {
		if err != nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
			_ = logger.Sync()
		}
	}()

	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
	})
	if err != nil {
		return nil, err
	}

	return &application{
		config:  appConfig,
		logger:  logger,
		db:      db,
		catalog: catalogService,
		users:   userService,
	}, nil
}

func (a *application) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}

func runServer(ctx context.Context) error {
	app, err := openApplication(viper.GetViper(), config.Load)
	if err != nil {
		return err
	}
	defer app.close()
	appConfig := app.config
	logger := app.logger

	sessionManager, err := auth.NewSessionManager(auth.SessionManagerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        sessionIssuer,
		CookieName:    appConfig.CookieName,
		TTL:           appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}

	authorizer, err := authz.NewAuthorizer(authz.Config{
		PolicyPath: appConfig.PolicyPath,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	coverStore, err := covers.NewStore(covers.StoreConfig{
		Root:     appConfig.MediaRoot,
		MaxBytes: appConfig.MaxUploadBytes,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if _, err := coverStore.EnsurePlaceholder(); err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Catalog:                app.catalog,
		Accounts:               app.users,
		Sessions:               sessionManager,
		Authorizer:             authorizer,
		Covers:                 coverStore,
		Metrics:                metrics.NewRecorder(),
		Logger:                 logger,
		AllowedOrigins:         appConfig.AllowedOrigins,
		LoginAttemptsPerMinute: appConfig.LoginAttemptsPerMinute,
		SecureCookies:          appConfig.SecureCookies,
		TrustedProxies:         appConfig.TrustedProxies,
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

func newUsersCommand() *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Manage catalog logins",
	}

	var (
		username    string
		password    string
		displayName string
		role        string
	)
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a login with an artist, editor or viewer profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedRole, err := users.ParseRole(role)
			if err != nil {
				return err
			}
			app, err := openApplication(viper.GetViper(), config.LoadAdmin)
			if err != nil {
				return err
			}
			defer app.close()

			principal, err := app.users.CreateUser(cmd.Context(), users.NewUserRequest{
				Username:    username,
				Password:    password,
				DisplayName: displayName,
				Role:        parsedRole,
			})
			if err != nil {
				return err
			}
			app.logger.Info("user created",
				zap.Uint64("identity_id", principal.IdentityID),
				zap.String("username", principal.Username),
				zap.String("role", string(principal.Role())))
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", principal.Username, principal.Role())
			return nil
		},
	}
	createCmd.Flags().StringVar(&username, "username", "", "Login name")
	createCmd.Flags().StringVar(&password, "password", "", "Login password")
	createCmd.Flags().StringVar(&displayName, "display-name", "", "Artist credit or display name")
	createCmd.Flags().StringVar(&role, "role", string(users.RoleViewer), "Profile role (artist, editor, viewer)")
	for _, required := range []string{"username", "password", "display-name"} {
		if err := createCmd.MarkFlagRequired(required); err != nil {
			panic(err)
		}
	}

	usersCmd.AddCommand(createCmd)
	return usersCmd
}
